package doclist

import (
	"math"
	"slices"
)

// MergeOptions controls Merge.
type MergeOptions struct {
	// DropEmpty removes tombstones from the output.
	DropEmpty bool
	// Column keeps only the positions of one column when >= 0. Entries with
	// no positions left are dropped.
	Column int
	// MinDocID and MaxDocID clip the output to a docid range. Both zero
	// means unbounded.
	MinDocID int64
	MaxDocID int64
}

// AllColumns is the Column value that disables column filtering.
const AllColumns = -1

// DefaultMergeOptions keeps every entry, tombstones included.
func DefaultMergeOptions() MergeOptions {
	return MergeOptions{Column: AllColumns}
}

func (o MergeOptions) bounds() (int64, int64) {
	lo, hi := o.MinDocID, o.MaxDocID
	if lo == 0 && hi == 0 {
		return math.MinInt64, math.MaxInt64
	}
	return lo, hi
}

// Merge combines doclists of the same term. lists[0] is the most recent; when
// several lists carry the same docid only the most recent entry is kept, so a
// tombstone hides older postings for that document.
func Merge(lists [][]byte, opts MergeOptions) ([]byte, error) {
	readers := make([]*Reader, 0, len(lists))
	for _, l := range lists {
		r := NewReader(l)
		if r.Next() {
			readers = append(readers, r)
		} else if err := r.Err(); err != nil {
			return nil, err
		}
	}

	lo, hi := opts.bounds()
	var out []byte
	var prev int64
	var started bool
	for len(readers) > 0 {
		lowest := readers[0].DocID()
		for _, r := range readers[1:] {
			if r.DocID() < lowest {
				lowest = r.DocID()
			}
		}

		var winner []byte
		won := false
		live := readers[:0]
		for _, r := range readers {
			if r.DocID() == lowest {
				if !won {
					winner, won = r.Raw(), true
				}
				if !r.Next() {
					if err := r.Err(); err != nil {
						return nil, err
					}
					continue
				}
			}
			live = append(live, r)
		}
		readers = live

		if lowest < lo || lowest > hi {
			continue
		}
		if opts.Column >= 0 && len(winner) > 0 {
			winner = columnRaw(winner, opts.Column)
			if len(winner) == 0 {
				continue
			}
		}
		if len(winner) == 0 && opts.DropEmpty {
			continue
		}
		out = appendEntry(out, &prev, &started, lowest, winner)
	}
	return out, nil
}

// Union combines doclists of different terms, merging the positions of
// documents present in several lists. Used to expand prefix queries.
func Union(lists [][]byte) ([]byte, error) {
	if len(lists) == 1 {
		return lists[0], nil
	}
	readers := make([]*Reader, 0, len(lists))
	for _, l := range lists {
		r := NewReader(l)
		if r.Next() {
			readers = append(readers, r)
		} else if err := r.Err(); err != nil {
			return nil, err
		}
	}

	var b Builder
	for len(readers) > 0 {
		lowest := readers[0].DocID()
		for _, r := range readers[1:] {
			if r.DocID() < lowest {
				lowest = r.DocID()
			}
		}

		var merged []Posting
		live := readers[:0]
		for _, r := range readers {
			if r.DocID() == lowest {
				merged = append(merged, r.Postings()...)
				if !r.Next() {
					if err := r.Err(); err != nil {
						return nil, err
					}
					continue
				}
			}
			live = append(live, r)
		}
		readers = live

		slices.SortFunc(merged, comparePostings)
		merged = slices.Compact(merged)
		if err := b.EmptyEntry(lowest); err != nil {
			return nil, err
		}
		for _, p := range merged {
			if err := b.AppendPosting(lowest, p.Col, p.Pos); err != nil {
				return nil, err
			}
		}
	}
	return b.Bytes(), nil
}

func comparePostings(a, b Posting) int {
	if a.Col != b.Col {
		return a.Col - b.Col
	}
	return a.Pos - b.Pos
}
