// Package doclist encodes and decodes the posting lists stored for every
// term.
//
// A doclist is a sequence of entries, one per docid in strictly increasing
// order. Each entry starts with the docid delta from the previous entry (the
// first delta is taken from zero), followed by column and position values and
// a terminating 0:
//
//	1, col        switch to column col (positions restart from zero)
//	delta + 2     next position in the current column
//	0             end of entry
//
// An entry with no positions is a tombstone: the document was deleted or
// rewritten and older segments must not report it.
package doclist

import (
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/segment-search/internal/indexer/varint"
	apperrors "github.com/Adithya-Monish-Kumar-K/segment-search/pkg/errors"
)

const (
	markEnd    = 0
	markColumn = 1
	posBias    = 2
)

// ErrOutOfOrder is returned by Builder when postings are not appended in
// (docid, column, position) order.
var ErrOutOfOrder = fmt.Errorf("%w: posting out of order", apperrors.ErrInvalidInput)

// Posting is one occurrence of a term inside a document.
type Posting struct {
	Col int
	Pos int
}

// Entry is the decoded form of one docid's run in a doclist.
type Entry struct {
	DocID    int64
	Postings []Posting
}

// IsTombstone reports whether the entry carries no positions.
func (e Entry) IsTombstone() bool { return len(e.Postings) == 0 }

// Builder appends postings to an encoded doclist.
type Builder struct {
	buf     []byte
	open    bool
	started bool
	docid   int64
	col     int
	lastPos int
	colPos  bool
}

// AppendPosting records that the term occurs at (col, pos) in docid.
func (b *Builder) AppendPosting(docid int64, col, pos int) error {
	if col < 0 || pos < 0 {
		return fmt.Errorf("%w: negative column %d or position %d", apperrors.ErrInvalidInput, col, pos)
	}
	if err := b.startEntry(docid); err != nil {
		return err
	}
	if col < b.col {
		return fmt.Errorf("%w: column %d after %d in doc %d", ErrOutOfOrder, col, b.col, docid)
	}
	if col != b.col {
		b.buf = varint.Append(b.buf, markColumn)
		b.buf = varint.Append(b.buf, uint64(col))
		b.col = col
		b.lastPos = 0
		b.colPos = false
	}
	if b.colPos && pos <= b.lastPos {
		return fmt.Errorf("%w: position %d after %d in doc %d", ErrOutOfOrder, pos, b.lastPos, docid)
	}
	b.buf = varint.Append(b.buf, uint64(pos-b.lastPos+posBias))
	b.lastPos = pos
	b.colPos = true
	return nil
}

// EmptyEntry records docid without positions. It is a no-op when docid is the
// entry currently being built.
func (b *Builder) EmptyEntry(docid int64) error {
	return b.startEntry(docid)
}

func (b *Builder) startEntry(docid int64) error {
	if b.open && docid == b.docid {
		return nil
	}
	if b.started && docid <= b.docid {
		return fmt.Errorf("%w: docid %d after %d", ErrOutOfOrder, docid, b.docid)
	}
	if b.open {
		b.buf = append(b.buf, markEnd)
	}
	prev := int64(0)
	if b.started {
		prev = b.docid
	}
	b.buf = varint.AppendInt(b.buf, docid-prev)
	b.started = true
	b.open = true
	b.docid = docid
	b.col = 0
	b.lastPos = 0
	b.colPos = false
	return nil
}

// LastDocID returns the docid of the most recent entry.
func (b *Builder) LastDocID() (int64, bool) {
	return b.docid, b.started
}

// Len returns the encoded size, including the pending terminator.
func (b *Builder) Len() int {
	if b.open {
		return len(b.buf) + 1
	}
	return len(b.buf)
}

// Bytes returns a copy of the encoded doclist. The builder stays usable.
func (b *Builder) Bytes() []byte {
	out := make([]byte, len(b.buf), b.Len())
	copy(out, b.buf)
	if b.open {
		out = append(out, markEnd)
	}
	return out
}

// Reset empties the builder.
func (b *Builder) Reset() {
	*b = Builder{buf: b.buf[:0]}
}

// Encode builds a doclist from decoded entries, which must be sorted.
func Encode(entries []Entry) ([]byte, error) {
	var b Builder
	for _, e := range entries {
		if e.IsTombstone() {
			if err := b.EmptyEntry(e.DocID); err != nil {
				return nil, err
			}
			continue
		}
		for _, p := range e.Postings {
			if err := b.AppendPosting(e.DocID, p.Col, p.Pos); err != nil {
				return nil, err
			}
		}
	}
	return b.Bytes(), nil
}

// Decode materializes every entry of data.
func Decode(data []byte) ([]Entry, error) {
	var out []Entry
	r := NewReader(data)
	for r.Next() {
		out = append(out, Entry{DocID: r.DocID(), Postings: r.Postings()})
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// appendEntry writes one entry whose position bytes are already encoded.
func appendEntry(dst []byte, prev *int64, started *bool, docid int64, raw []byte) []byte {
	base := int64(0)
	if *started {
		base = *prev
	}
	dst = varint.AppendInt(dst, docid-base)
	dst = append(dst, raw...)
	dst = append(dst, markEnd)
	*prev = docid
	*started = true
	return dst
}
