// Package sqlstore keeps the index in relational tables: fts_blocks for
// segment nodes, fts_segdir for the segment directory, fts_content for the
// column text and fts_stat for the column totals. SQLite and PostgreSQL are
// supported.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/Adithya-Monish-Kumar-K/segment-search/internal/storage"
	apperrors "github.com/Adithya-Monish-Kumar-K/segment-search/pkg/errors"
)

// Dialect selects SQL syntax differences.
type Dialect int

const (
	SQLite Dialect = iota
	Postgres
)

func (d Dialect) String() string {
	if d == Postgres {
		return "postgres"
	}
	return "sqlite"
}

// rebind rewrites ? placeholders as $1, $2, ... for PostgreSQL.
func (d Dialect) rebind(query string) string {
	if d != Postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d Dialect) schema() []string {
	blob, integer := "BLOB", "INTEGER"
	if d == Postgres {
		blob, integer = "BYTEA", "BIGINT"
	}
	return []string{
		`CREATE TABLE IF NOT EXISTS fts_blocks (
			id ` + integer + ` PRIMARY KEY,
			data ` + blob + ` NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS fts_segdir (
			level ` + integer + ` NOT NULL,
			idx ` + integer + ` NOT NULL,
			start_block ` + integer + ` NOT NULL,
			leaves_end_block ` + integer + ` NOT NULL,
			end_block ` + integer + ` NOT NULL,
			root ` + blob + `,
			PRIMARY KEY (level, idx)
		)`,
		`CREATE TABLE IF NOT EXISTS fts_content (
			docid ` + integer + ` PRIMARY KEY,
			cols ` + blob + ` NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS fts_stat (
			id ` + integer + ` PRIMARY KEY,
			value ` + blob + ` NOT NULL
		)`,
	}
}

// Store is a storage.Store over database/sql.
type Store struct {
	db      *sql.DB
	dialect Dialect
	ownsDB  bool
}

// New wraps db. Call Migrate before first use on an empty database.
func New(db *sql.DB, d Dialect) *Store {
	return &Store{db: db, dialect: d}
}

// OpenSQLite opens or creates a SQLite file in WAL mode and migrates it.
func OpenSQLite(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, apperrors.IO("opening sqlite "+path, err)
	}
	s := &Store{db: db, dialect: SQLite, ownsDB: true}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates the tables when they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.schema() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return apperrors.IO("creating "+s.dialect.String()+" schema", err)
		}
	}
	return nil
}

// Begin starts a database transaction.
func (s *Store) Begin(ctx context.Context, writable bool) (storage.Tx, error) {
	stx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, apperrors.IO("beginning transaction", err)
	}
	return &tx{stx: stx, d: s.dialect, writable: writable}, nil
}

// Close closes the database when the Store opened it.
func (s *Store) Close() error {
	if !s.ownsDB {
		return nil
	}
	return s.db.Close()
}

type tx struct {
	stx       *sql.Tx
	d         Dialect
	writable  bool
	done      bool
	lastBlock int64
	haveLast  bool
}

func (t *tx) check(write bool) error {
	if t.done {
		return storage.ErrTxDone
	}
	if write && !t.writable {
		return storage.ErrReadOnly
	}
	return nil
}

func (t *tx) exec(ctx context.Context, op, query string, args ...any) error {
	if _, err := t.stx.ExecContext(ctx, t.d.rebind(query), args...); err != nil {
		return apperrors.IO(op, err)
	}
	return nil
}

func (t *tx) ReadBlock(ctx context.Context, id storage.BlockID) ([]byte, error) {
	if err := t.check(false); err != nil {
		return nil, err
	}
	var data []byte
	err := t.stx.QueryRowContext(ctx, t.d.rebind(`SELECT data FROM fts_blocks WHERE id = ?`), int64(id)).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", storage.ErrBlockNotFound, id)
	}
	if err != nil {
		return nil, apperrors.IO("reading block", err)
	}
	return data, nil
}

func (t *tx) WriteBlock(ctx context.Context, data []byte) (storage.BlockID, error) {
	if err := t.check(true); err != nil {
		return 0, err
	}
	if !t.haveLast {
		err := t.stx.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) FROM fts_blocks`).Scan(&t.lastBlock)
		if err != nil {
			return 0, apperrors.IO("allocating block", err)
		}
		t.haveLast = true
	}
	id := t.lastBlock + 1
	if err := t.exec(ctx, "writing block", `INSERT INTO fts_blocks (id, data) VALUES (?, ?)`, id, data); err != nil {
		return 0, err
	}
	t.lastBlock = id
	return storage.BlockID(id), nil
}

func (t *tx) DeleteBlocks(ctx context.Context, first, last storage.BlockID) error {
	if err := t.check(true); err != nil {
		return err
	}
	return t.exec(ctx, "deleting blocks", `DELETE FROM fts_blocks WHERE id BETWEEN ? AND ?`, int64(first), int64(last))
}

const segmentColumns = `level, idx, start_block, leaves_end_block, end_block, root`

func (t *tx) querySegments(ctx context.Context, query string, args ...any) ([]storage.Segment, error) {
	rows, err := t.stx.QueryContext(ctx, t.d.rebind(query), args...)
	if err != nil {
		return nil, apperrors.IO("reading segment directory", err)
	}
	defer rows.Close()
	var out []storage.Segment
	for rows.Next() {
		var seg storage.Segment
		var start, leavesEnd, end int64
		if err := rows.Scan(&seg.Level, &seg.Idx, &start, &leavesEnd, &end, &seg.Root); err != nil {
			return nil, apperrors.IO("scanning segment row", err)
		}
		seg.StartBlock = storage.BlockID(start)
		seg.LeavesEndBlock = storage.BlockID(leavesEnd)
		seg.EndBlock = storage.BlockID(end)
		out = append(out, seg)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.IO("reading segment directory", err)
	}
	return out, nil
}

func (t *tx) Segments(ctx context.Context) ([]storage.Segment, error) {
	if err := t.check(false); err != nil {
		return nil, err
	}
	return t.querySegments(ctx, `SELECT `+segmentColumns+` FROM fts_segdir ORDER BY level DESC, idx ASC`)
}

func (t *tx) SegmentsAtLevel(ctx context.Context, level int) ([]storage.Segment, error) {
	if err := t.check(false); err != nil {
		return nil, err
	}
	return t.querySegments(ctx, `SELECT `+segmentColumns+` FROM fts_segdir WHERE level = ? ORDER BY idx ASC`, level)
}

func (t *tx) PutSegment(ctx context.Context, seg storage.Segment) error {
	if err := t.check(true); err != nil {
		return err
	}
	return t.exec(ctx, "writing segment row",
		`INSERT INTO fts_segdir (`+segmentColumns+`) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (level, idx) DO UPDATE SET
			start_block = excluded.start_block,
			leaves_end_block = excluded.leaves_end_block,
			end_block = excluded.end_block,
			root = excluded.root`,
		seg.Level, seg.Idx, int64(seg.StartBlock), int64(seg.LeavesEndBlock), int64(seg.EndBlock), seg.Root,
	)
}

func (t *tx) DeleteSegment(ctx context.Context, level, idx int) error {
	if err := t.check(true); err != nil {
		return err
	}
	return t.exec(ctx, "deleting segment row", `DELETE FROM fts_segdir WHERE level = ? AND idx = ?`, level, idx)
}

func (t *tx) NextIdx(ctx context.Context, level int) (int, error) {
	if err := t.check(false); err != nil {
		return 0, err
	}
	var next int
	err := t.stx.QueryRowContext(ctx,
		t.d.rebind(`SELECT COALESCE(MAX(idx) + 1, 0) FROM fts_segdir WHERE level = ?`), level,
	).Scan(&next)
	if err != nil {
		return 0, apperrors.IO("allocating segment index", err)
	}
	return next, nil
}

func (t *tx) PutDocument(ctx context.Context, docid int64, columns []string) error {
	if err := t.check(true); err != nil {
		return err
	}
	v, err := msgpack.Marshal(columns)
	if err != nil {
		return fmt.Errorf("encoding row %d: %w", docid, err)
	}
	return t.exec(ctx, "writing row",
		`INSERT INTO fts_content (docid, cols) VALUES (?, ?)
		ON CONFLICT (docid) DO UPDATE SET cols = excluded.cols`,
		docid, v,
	)
}

func (t *tx) Document(ctx context.Context, docid int64) ([]string, bool, error) {
	if err := t.check(false); err != nil {
		return nil, false, err
	}
	var v []byte
	err := t.stx.QueryRowContext(ctx, t.d.rebind(`SELECT cols FROM fts_content WHERE docid = ?`), docid).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, apperrors.IO("reading row", err)
	}
	var cols []string
	if err := msgpack.Unmarshal(v, &cols); err != nil {
		return nil, false, apperrors.Corruptf("decoding row %d: %v", docid, err)
	}
	return cols, true, nil
}

func (t *tx) DeleteDocument(ctx context.Context, docid int64) error {
	if err := t.check(true); err != nil {
		return err
	}
	return t.exec(ctx, "deleting row", `DELETE FROM fts_content WHERE docid = ?`, docid)
}

// statDocTotal is the fts_stat row holding storage.Totals.
const statDocTotal = 0

func (t *tx) Stat(ctx context.Context) ([]byte, error) {
	if err := t.check(false); err != nil {
		return nil, err
	}
	var v []byte
	err := t.stx.QueryRowContext(ctx, t.d.rebind(`SELECT value FROM fts_stat WHERE id = ?`), statDocTotal).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.IO("reading stat", err)
	}
	return v, nil
}

func (t *tx) PutStat(ctx context.Context, data []byte) error {
	if err := t.check(true); err != nil {
		return err
	}
	return t.exec(ctx, "writing stat",
		`INSERT INTO fts_stat (id, value) VALUES (?, ?)
		ON CONFLICT (id) DO UPDATE SET value = excluded.value`,
		statDocTotal, data,
	)
}

func (t *tx) DocIDs(ctx context.Context) (*roaring64.Bitmap, error) {
	if err := t.check(false); err != nil {
		return nil, err
	}
	rows, err := t.stx.QueryContext(ctx, `SELECT docid FROM fts_content`)
	if err != nil {
		return nil, apperrors.IO("listing rows", err)
	}
	defer rows.Close()
	bm := roaring64.New()
	for rows.Next() {
		var docid int64
		if err := rows.Scan(&docid); err != nil {
			return nil, apperrors.IO("scanning row id", err)
		}
		bm.Add(storage.EncodeDocID(docid))
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.IO("listing rows", err)
	}
	return bm, nil
}

func (t *tx) Commit() error {
	if t.done {
		return storage.ErrTxDone
	}
	t.done = true
	if !t.writable {
		return t.stx.Rollback()
	}
	if err := t.stx.Commit(); err != nil {
		return apperrors.IO("committing", err)
	}
	return nil
}

func (t *tx) Rollback() error {
	if t.done {
		return storage.ErrTxDone
	}
	t.done = true
	if err := t.stx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return apperrors.IO("rolling back", err)
	}
	return nil
}
