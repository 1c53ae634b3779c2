package executor

import (
	"context"
	"fmt"
	"math/bits"
	"slices"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/segment-search/internal/searcher/parser"
	apperrors "github.com/Adithya-Monish-Kumar-K/segment-search/pkg/errors"
)

const (
	maxSnippetFragments = 4
	maxSnippetTokens    = 64
	defaultSnippetSize  = 15
)

// SnippetOptions shapes the text returned by Result.Snippet.
type SnippetOptions struct {
	// Start and End surround every highlighted token.
	Start string `json:"start"`
	End   string `json:"end"`
	// Ellipsis marks text left out between and around fragments.
	Ellipsis string `json:"ellipsis"`
	// Column restricts fragments to one column, or parser.AllColumns.
	Column int `json:"column"`
	// Tokens is the approximate snippet length in tokens, split across
	// fragments. A negative value fixes each fragment at -Tokens tokens.
	// Zero selects the default and the magnitude is capped at 64.
	Tokens int `json:"tokens"`
}

// DefaultSnippetOptions returns HTML bold highlighting over all columns.
func DefaultSnippetOptions() SnippetOptions {
	return SnippetOptions{
		Start:    "<b>",
		End:      "</b>",
		Ellipsis: "<b>...</b>",
		Column:   parser.AllColumns,
		Tokens:   defaultSnippetSize,
	}
}

// fragment is a window of tokens in one column. Bit i of highlight marks the
// token at pos+i; covered holds one bit per phrase found in the window.
type fragment struct {
	col       int
	pos       int
	highlight uint64
	covered   uint64
}

// Snippet extracts up to four fragments of docid's text that together show
// as many query phrases as possible, with every matched token highlighted.
func (r *Result) Snippet(ctx context.Context, docid int64, opts SnippetOptions) (string, error) {
	instances, err := r.Instances(ctx, docid)
	if err != nil {
		return "", err
	}
	dm := r.ev.newDocMatch(docid)
	if err := dm.load(ctx); err != nil {
		return "", err
	}
	if !dm.found {
		return "", fmt.Errorf("row %d: %w", docid, apperrors.ErrDocumentNotFound)
	}

	size := opts.Tokens
	if size == 0 {
		size = defaultSnippetSize
	}
	size = min(max(size, -maxSnippetTokens), maxSnippetTokens)

	phrases := r.expr.Phrases()
	index := make(map[int]int, len(phrases))
	lengths := make([]int, len(phrases))
	for i, ph := range phrases {
		index[ph.ID] = i
		lengths[i] = len(ph.Tokens)
	}
	// ends[col][phrase] lists the last-token positions of each occurrence.
	ends := make([][][]int, len(dm.columns))
	for col := range ends {
		ends[col] = make([][]int, len(phrases))
	}
	for _, in := range instances {
		if in.Token != 0 || in.Column >= len(dm.columns) {
			continue
		}
		i := index[in.Phrase]
		ends[in.Column][i] = append(ends[in.Column][i], in.Position+lengths[i]-1)
	}

	var frags []fragment
	var width int
	for count := 1; ; count++ {
		if size < 0 {
			width = -size
		} else {
			width = (size + count - 1) / count
		}
		frags = frags[:0]
		var covered, seen uint64
		for range count {
			var best fragment
			bestScore := -1
			for col := range dm.columns {
				if opts.Column >= 0 && col != opts.Column {
					continue
				}
				f, score, s := bestFragment(col, ends[col], lengths, width, covered)
				seen |= s
				if score > bestScore {
					best, bestScore = f, score
				}
			}
			frags = append(frags, best)
			covered |= best.covered
		}
		if seen == covered || count == maxSnippetFragments {
			break
		}
	}

	var b strings.Builder
	for i, f := range frags {
		if f.col >= len(dm.columns) {
			continue
		}
		r.writeFragment(&b, dm.columns[f.col], f, i, i == len(frags)-1, width, opts)
	}
	return b.String(), nil
}

// bestFragment scores every candidate window of width tokens in one column
// and returns the best. A phrase not yet in covered scores 1000 the first
// time it appears in a window and every other occurrence scores 1. The
// candidates are the window at 0 and the windows ending on each hit.
func bestFragment(col int, ends [][]int, lengths []int, width int, covered uint64) (fragment, int, uint64) {
	var seen uint64
	starts := []int{0}
	for i, list := range ends {
		if len(list) > 0 {
			seen |= 1 << (i % 64)
		}
		for _, e := range list {
			if e >= width {
				starts = append(starts, e-width+1)
			}
		}
	}
	slices.Sort(starts)
	starts = slices.Compact(starts)

	best := fragment{col: col}
	bestScore := -1
	for _, start := range starts {
		f := fragment{col: col, pos: start}
		score := 0
		for i, list := range ends {
			bit := uint64(1) << (i % 64)
			for _, e := range list {
				if e < start || e >= start+width {
					continue
				}
				if (f.covered|covered)&bit != 0 {
					score++
				} else {
					score += 1000
				}
				f.covered |= bit
				for j := range lengths[i] {
					if p := e - j - start; p >= 0 {
						f.highlight |= 1 << p
					}
				}
			}
		}
		if score > bestScore {
			best, bestScore = f, score
		}
	}
	return best, bestScore, seen
}

// writeFragment appends the text of f. The window is first moved right so
// the unhighlighted tokens on each side of the hits are roughly balanced,
// as far as the column has tokens to spare.
func (r *Result) writeFragment(b *strings.Builder, text string, f fragment, i int, last bool, width int, opts SnippetOptions) {
	toks := slices.Collect(r.ev.ex.tok.Tokens(text))
	pos, hl := f.pos, f.highlight

	firstAt := func(pos int) int {
		for k, t := range toks {
			if t.Position >= pos {
				return k
			}
		}
		return -1
	}
	first := firstAt(pos)
	if first < 0 {
		b.WriteString(text)
		return
	}

	if hl != 0 {
		left := bits.TrailingZeros64(hl)
		right := width - 1 - (63 - bits.LeadingZeros64(hl))
		if want := (left - right) / 2; want > 0 {
			if shift := min(want, len(toks)-first-width); shift > 0 {
				pos += shift
				hl >>= shift
				first = firstAt(pos)
			}
		}
	}

	if pos > 0 || i > 0 {
		b.WriteString(opts.Ellipsis)
	} else {
		b.WriteString(text[:toks[first].Start])
	}
	end := toks[first].Start
	for _, t := range toks[first:] {
		if t.Position >= pos+width {
			if last {
				b.WriteString(opts.Ellipsis)
			}
			return
		}
		b.WriteString(text[end:t.Start])
		lit := hl&(1<<(t.Position-pos)) != 0
		if lit {
			b.WriteString(opts.Start)
		}
		b.WriteString(text[t.Start:t.End])
		if lit {
			b.WriteString(opts.End)
		}
		end = t.End
	}
	b.WriteString(text[end:])
}
