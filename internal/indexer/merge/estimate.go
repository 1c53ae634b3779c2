package merge

import (
	"bytes"
	"context"
)

// Estimate sums the stored doclist lengths of every term f selects across
// sources, without merging them. Column and docid filters are ignored, so
// the result is an upper bound on what an Iterator with f would yield.
// Only the leaf records holding the selected terms are read.
func Estimate(ctx context.Context, sources []Source, f Filter) (int, error) {
	total := 0
	for _, src := range sources {
		if f.Term != nil {
			if err := src.Seek(ctx, f.Term); err != nil {
				return 0, err
			}
		}
		for src.Next(ctx) {
			term := src.Term()
			if f.Exact && !bytes.Equal(term, f.Term) || f.Prefix && !bytes.HasPrefix(term, f.Term) {
				break
			}
			total += len(src.Doclist())
			if f.Exact {
				break
			}
		}
		if err := src.Err(); err != nil {
			return 0, err
		}
	}
	return total, nil
}
