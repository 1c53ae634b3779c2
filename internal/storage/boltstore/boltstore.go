// Package boltstore keeps the index in a single bbolt file. Blocks, segment
// rows and content rows live in separate buckets; a bbolt transaction backs
// every storage.Tx.
package boltstore

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/vmihailenco/msgpack/v5"
	bolt "go.etcd.io/bbolt"

	"github.com/Adithya-Monish-Kumar-K/segment-search/internal/storage"
	apperrors "github.com/Adithya-Monish-Kumar-K/segment-search/pkg/errors"
)

var (
	bucketBlocks  = []byte("blocks")
	bucketSegdir  = []byte("segdir")
	bucketContent = []byte("content")
	bucketStat    = []byte("stat")

	keyDocTotal = []byte("doctotal")
)

// Store is a storage.Store over a bbolt database.
type Store struct {
	db *bolt.DB
}

// Open opens or creates the database file at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, apperrors.IO("opening bolt file "+path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketBlocks, bucketSegdir, bucketContent, bucketStat} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("creating bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, apperrors.IO("initializing bolt file", err)
	}
	return &Store{db: db}, nil
}

// Begin starts a bbolt transaction. bbolt allows one writer at a time, so a
// writable Begin blocks while another write transaction is open.
func (s *Store) Begin(_ context.Context, writable bool) (storage.Tx, error) {
	btx, err := s.db.Begin(writable)
	if err != nil {
		return nil, apperrors.IO("beginning bolt transaction", err)
	}
	return &tx{btx: btx, writable: writable}, nil
}

// Close closes the database file.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string { return s.db.Path() }

type tx struct {
	btx      *bolt.Tx
	writable bool
	done     bool
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

func u64(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}

// segKey orders rows by level, then idx.
func segKey(level, idx int) []byte {
	var b [8]byte
	binary.BigEndian.PutUint32(b[:4], uint32(level))
	binary.BigEndian.PutUint32(b[4:], uint32(idx))
	return b[:]
}

func (t *tx) ReadBlock(_ context.Context, id storage.BlockID) ([]byte, error) {
	if err := t.check(false); err != nil {
		return nil, err
	}
	v := t.btx.Bucket(bucketBlocks).Get(u64(uint64(id)))
	if v == nil {
		return nil, fmt.Errorf("%w: %d", storage.ErrBlockNotFound, id)
	}
	return bytes.Clone(v), nil
}

func (t *tx) WriteBlock(_ context.Context, data []byte) (storage.BlockID, error) {
	if err := t.check(true); err != nil {
		return 0, err
	}
	b := t.btx.Bucket(bucketBlocks)
	seq, err := b.NextSequence()
	if err != nil {
		return 0, apperrors.IO("allocating block", err)
	}
	if err := b.Put(u64(seq), bytes.Clone(data)); err != nil {
		return 0, apperrors.IO("writing block", err)
	}
	return storage.BlockID(seq), nil
}

func (t *tx) DeleteBlocks(_ context.Context, first, last storage.BlockID) error {
	if err := t.check(true); err != nil {
		return err
	}
	b := t.btx.Bucket(bucketBlocks)
	var keys [][]byte
	c := b.Cursor()
	for k, _ := c.Seek(u64(uint64(first))); k != nil && binary.BigEndian.Uint64(k) <= uint64(last); k, _ = c.Next() {
		keys = append(keys, bytes.Clone(k))
	}
	for _, k := range keys {
		if err := b.Delete(k); err != nil {
			return apperrors.IO("deleting block", err)
		}
	}
	return nil
}

func (t *tx) Segments(_ context.Context) ([]storage.Segment, error) {
	if err := t.check(false); err != nil {
		return nil, err
	}
	var out []storage.Segment
	err := t.btx.Bucket(bucketSegdir).ForEach(func(_, v []byte) error {
		var seg storage.Segment
		if err := msgpack.Unmarshal(v, &seg); err != nil {
			return apperrors.Corruptf("decoding segment row: %v", err)
		}
		out = append(out, seg)
		return nil
	})
	if err != nil {
		return nil, err
	}
	storage.SortSegments(out)
	return out, nil
}

func (t *tx) SegmentsAtLevel(_ context.Context, level int) ([]storage.Segment, error) {
	if err := t.check(false); err != nil {
		return nil, err
	}
	var out []storage.Segment
	prefix := segKey(level, 0)[:4]
	c := t.btx.Bucket(bucketSegdir).Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		var seg storage.Segment
		if err := msgpack.Unmarshal(v, &seg); err != nil {
			return nil, apperrors.Corruptf("decoding segment row: %v", err)
		}
		out = append(out, seg)
	}
	return out, nil
}

func (t *tx) PutSegment(_ context.Context, seg storage.Segment) error {
	if err := t.check(true); err != nil {
		return err
	}
	v, err := msgpack.Marshal(seg)
	if err != nil {
		return fmt.Errorf("encoding segment row: %w", err)
	}
	if err := t.btx.Bucket(bucketSegdir).Put(segKey(seg.Level, seg.Idx), v); err != nil {
		return apperrors.IO("writing segment row", err)
	}
	return nil
}

func (t *tx) DeleteSegment(_ context.Context, level, idx int) error {
	if err := t.check(true); err != nil {
		return err
	}
	if err := t.btx.Bucket(bucketSegdir).Delete(segKey(level, idx)); err != nil {
		return apperrors.IO("deleting segment row", err)
	}
	return nil
}

func (t *tx) NextIdx(_ context.Context, level int) (int, error) {
	if err := t.check(false); err != nil {
		return 0, err
	}
	c := t.btx.Bucket(bucketSegdir).Cursor()
	k, _ := c.Seek(segKey(level+1, 0))
	if k == nil {
		k, _ = c.Last()
	} else {
		k, _ = c.Prev()
	}
	if k == nil || int(binary.BigEndian.Uint32(k[:4])) != level {
		return 0, nil
	}
	return int(binary.BigEndian.Uint32(k[4:])) + 1, nil
}

func (t *tx) PutDocument(_ context.Context, docid int64, columns []string) error {
	if err := t.check(true); err != nil {
		return err
	}
	v, err := msgpack.Marshal(columns)
	if err != nil {
		return fmt.Errorf("encoding row %d: %w", docid, err)
	}
	if err := t.btx.Bucket(bucketContent).Put(u64(storage.EncodeDocID(docid)), v); err != nil {
		return apperrors.IO("writing row", err)
	}
	return nil
}

func (t *tx) Document(_ context.Context, docid int64) ([]string, bool, error) {
	if err := t.check(false); err != nil {
		return nil, false, err
	}
	v := t.btx.Bucket(bucketContent).Get(u64(storage.EncodeDocID(docid)))
	if v == nil {
		return nil, false, nil
	}
	var cols []string
	if err := msgpack.Unmarshal(v, &cols); err != nil {
		return nil, false, apperrors.Corruptf("decoding row %d: %v", docid, err)
	}
	return cols, true, nil
}

func (t *tx) DeleteDocument(_ context.Context, docid int64) error {
	if err := t.check(true); err != nil {
		return err
	}
	if err := t.btx.Bucket(bucketContent).Delete(u64(storage.EncodeDocID(docid))); err != nil {
		return apperrors.IO("deleting row", err)
	}
	return nil
}

func (t *tx) DocIDs(_ context.Context) (*roaring64.Bitmap, error) {
	if err := t.check(false); err != nil {
		return nil, err
	}
	bm := roaring64.New()
	err := t.btx.Bucket(bucketContent).ForEach(func(k, _ []byte) error {
		bm.Add(binary.BigEndian.Uint64(k))
		return nil
	})
	return bm, err
}

func (t *tx) Stat(context.Context) ([]byte, error) {
	if err := t.check(false); err != nil {
		return nil, err
	}
	v := t.btx.Bucket(bucketStat).Get(keyDocTotal)
	if v == nil {
		return nil, nil
	}
	return bytes.Clone(v), nil
}

func (t *tx) PutStat(_ context.Context, data []byte) error {
	if err := t.check(true); err != nil {
		return err
	}
	if err := t.btx.Bucket(bucketStat).Put(keyDocTotal, data); err != nil {
		return apperrors.IO("writing stat", err)
	}
	return nil
}

func (t *tx) Commit() error {
	if t.done {
		return storage.ErrTxDone
	}
	t.done = true
	if !t.writable {
		return t.btx.Rollback()
	}
	if err := t.btx.Commit(); err != nil {
		return apperrors.IO("committing bolt transaction", err)
	}
	return nil
}

func (t *tx) Rollback() error {
	if t.done {
		return storage.ErrTxDone
	}
	t.done = true
	return t.btx.Rollback()
}
