package doclist

import (
	"iter"

	"github.com/Adithya-Monish-Kumar-K/segment-search/internal/indexer/varint"
	apperrors "github.com/Adithya-Monish-Kumar-K/segment-search/pkg/errors"
)

// Reader walks the entries of an encoded doclist.
type Reader struct {
	data    []byte
	off     int
	started bool
	docid   int64
	raw     []byte
	err     error
}

// NewReader returns a Reader positioned before the first entry.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Next advances to the next entry. It returns false at the end of the list or
// on a decode error, which Err then reports.
func (r *Reader) Next() bool {
	if r.err != nil || r.off >= len(r.data) {
		return false
	}
	delta, n, err := varint.DecodeInt(r.data[r.off:])
	if err != nil {
		r.err = err
		return false
	}
	docid := delta
	if r.started {
		docid = r.docid + delta
		if docid <= r.docid {
			r.err = apperrors.Corruptf("doclist docid %d after %d", docid, r.docid)
			return false
		}
	}
	r.off += n

	start := r.off
	col := 0
	colPos := false
	for {
		v, n, err := varint.Decode(r.data[r.off:])
		if err != nil {
			r.err = err
			return false
		}
		r.off += n
		switch {
		case v == markEnd:
			r.raw = r.data[start : r.off-1]
			r.docid = docid
			r.started = true
			return true
		case v == markColumn:
			c, n, err := varint.Decode(r.data[r.off:])
			if err != nil {
				r.err = err
				return false
			}
			r.off += n
			if c == 0 || int(c) <= col {
				r.err = apperrors.Corruptf("doclist column %d after %d in doc %d", c, col, docid)
				return false
			}
			col = int(c)
			colPos = false
		default:
			if colPos && v == posBias {
				r.err = apperrors.Corruptf("doclist repeats a position in doc %d", docid)
				return false
			}
			colPos = true
		}
	}
}

// Err returns the first decode error.
func (r *Reader) Err() error { return r.err }

// DocID returns the docid of the current entry.
func (r *Reader) DocID() int64 { return r.docid }

// IsEmpty reports whether the current entry is a tombstone.
func (r *Reader) IsEmpty() bool { return len(r.raw) == 0 }

// Raw returns the encoded column/position bytes of the current entry without
// its docid and terminator.
func (r *Reader) Raw() []byte { return r.raw }

// Positions yields the positions of the current entry in column col. A
// negative col yields positions from every column.
func (r *Reader) Positions(col int) iter.Seq[int] {
	raw := r.raw
	return func(yield func(int) bool) {
		for p := range postings(raw) {
			if col >= 0 && p.Col != col {
				if p.Col > col {
					return
				}
				continue
			}
			if !yield(p.Pos) {
				return
			}
		}
	}
}

// Postings returns every (column, position) pair of the current entry.
func (r *Reader) Postings() []Posting {
	var out []Posting
	for p := range postings(r.raw) {
		out = append(out, p)
	}
	return out
}

// postings decodes an entry body that Next already validated.
func postings(raw []byte) iter.Seq[Posting] {
	return func(yield func(Posting) bool) {
		off, col, last := 0, 0, 0
		for off < len(raw) {
			v, n, err := varint.Decode(raw[off:])
			if err != nil {
				return
			}
			off += n
			if v == markColumn {
				c, n, err := varint.Decode(raw[off:])
				if err != nil {
					return
				}
				off += n
				col, last = int(c), 0
				continue
			}
			last += int(v) - posBias
			if !yield(Posting{Col: col, Pos: last}) {
				return
			}
		}
	}
}

// columnRaw extracts the encoded bytes of one column from an entry body, in
// a form that can be written back as an entry body of its own.
func columnRaw(raw []byte, col int) []byte {
	off, cur, start := 0, 0, 0
	for off < len(raw) {
		v, n, _ := varint.Decode(raw[off:])
		if v != markColumn {
			off += n
			continue
		}
		if cur == col {
			return raw[start:off]
		}
		markStart := off
		off += n
		c, n, _ := varint.Decode(raw[off:])
		off += n
		cur = int(c)
		if cur > col {
			return nil
		}
		start = markStart
	}
	if cur != col {
		return nil
	}
	return raw[start:]
}
