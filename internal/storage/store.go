// Package storage defines the host store the index is layered on: an opaque
// block store, the segment directory and the content rows, all reachable
// through one transaction.
package storage

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	apperrors "github.com/Adithya-Monish-Kumar-K/segment-search/pkg/errors"
)

// BlockID addresses one block. Valid ids start at 1.
type BlockID int64

// Segment is one row of the segment directory.
type Segment struct {
	Level          int     `msgpack:"level"`
	Idx            int     `msgpack:"idx"`
	StartBlock     BlockID `msgpack:"start"`
	LeavesEndBlock BlockID `msgpack:"leaves_end"`
	EndBlock       BlockID `msgpack:"end"`
	Root           []byte  `msgpack:"root"`
}

// Inline reports whether the whole segment lives in Root.
func (s Segment) Inline() bool { return s.StartBlock == 0 }

// BlockStore reads and writes whole blocks.
type BlockStore interface {
	ReadBlock(ctx context.Context, id BlockID) ([]byte, error)
	// WriteBlock stores data under the next free id and returns it. Ids are
	// allocated in increasing order within a transaction.
	WriteBlock(ctx context.Context, data []byte) (BlockID, error)
	DeleteBlocks(ctx context.Context, first, last BlockID) error
}

// Directory stores segment rows.
type Directory interface {
	// Segments returns every row ordered oldest first: level descending,
	// then idx ascending.
	Segments(ctx context.Context) ([]Segment, error)
	SegmentsAtLevel(ctx context.Context, level int) ([]Segment, error)
	PutSegment(ctx context.Context, seg Segment) error
	DeleteSegment(ctx context.Context, level, idx int) error
	// NextIdx returns one past the highest idx used at level.
	NextIdx(ctx context.Context, level int) (int, error)
}

// ContentStore keeps the column text of every document.
type ContentStore interface {
	PutDocument(ctx context.Context, docid int64, columns []string) error
	// Document returns the columns of docid and false when it is absent.
	Document(ctx context.Context, docid int64) ([]string, bool, error)
	DeleteDocument(ctx context.Context, docid int64) error
	// DocIDs returns the live docids, encoded with EncodeDocID.
	DocIDs(ctx context.Context) (*roaring64.Bitmap, error)
}

// StatStore keeps one small record of index-wide statistics. See Totals.
type StatStore interface {
	// Stat returns the stored record, or nil when none was written.
	Stat(ctx context.Context) ([]byte, error)
	PutStat(ctx context.Context, data []byte) error
}

// Tx is a unit of atomic change. Nothing written through a Tx is visible to
// other transactions before Commit.
type Tx interface {
	BlockStore
	Directory
	ContentStore
	StatStore
	Commit() error
	Rollback() error
}

// Store opens transactions.
type Store interface {
	Begin(ctx context.Context, writable bool) (Tx, error)
	Close() error
}

// ErrTxDone is returned by operations on a finished transaction.
var ErrTxDone = errors.New("transaction already committed or rolled back")

// ErrReadOnly is returned by writes through a read-only transaction.
var ErrReadOnly = errors.New("write in read-only transaction")

// ErrBlockNotFound is returned when a referenced block does not exist.
var ErrBlockNotFound = fmt.Errorf("%w: block not found", apperrors.ErrCorrupt)

// ErrConflict is returned by Commit when another transaction committed
// first.
var ErrConflict = errors.New("transaction conflict")

// EncodeDocID maps a docid onto an unsigned key with the same ordering.
func EncodeDocID(docid int64) uint64 { return uint64(docid) ^ (1 << 63) }

// DecodeDocID is the inverse of EncodeDocID.
func DecodeDocID(key uint64) int64 { return int64(key ^ (1 << 63)) }

// SortSegments orders rows oldest first: level descending, then idx
// ascending.
func SortSegments(segs []Segment) {
	slices.SortFunc(segs, func(a, b Segment) int {
		if a.Level != b.Level {
			return b.Level - a.Level
		}
		return a.Idx - b.Idx
	})
}
