package executor

import (
	"bytes"
	"context"
	"fmt"
	"slices"

	"github.com/Adithya-Monish-Kumar-K/segment-search/internal/indexer/doclist"
	"github.com/Adithya-Monish-Kumar-K/segment-search/internal/indexer/merge"
	"github.com/Adithya-Monish-Kumar-K/segment-search/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/segment-search/internal/storage"
)

// posList is a decoded doclist, searchable by docid.
type posList struct {
	docs     []int64
	postings [][]doclist.Posting
}

func decodeList(raw []byte) (posList, error) {
	entries, err := doclist.Decode(raw)
	if err != nil {
		return posList{}, err
	}
	l := posList{
		docs:     make([]int64, len(entries)),
		postings: make([][]doclist.Posting, len(entries)),
	}
	for i, e := range entries {
		l.docs[i] = e.DocID
		l.postings[i] = e.Postings
	}
	return l, nil
}

func (l posList) find(docid int64) []doclist.Posting {
	if i, ok := slices.BinarySearch(l.docs, docid); ok {
		return l.postings[i]
	}
	return nil
}

type tokenState struct {
	token    parser.Token
	cost     int
	deferred bool
	list     posList
}

type phraseState struct {
	phrase   *parser.Phrase
	tokens   []*tokenState
	deferred int
	// empty is set when some token occurs nowhere, so the phrase cannot
	// match any row.
	empty bool
}

// span is a matched run of positions in one column. hits records the start
// of every phrase occurrence inside it.
type span struct {
	col, start, end int
	hits            []hit
}

type hit struct {
	phrase, col, start int
}

func (ev *evaluation) loadPhrase(ctx context.Context, ph *parser.Phrase) (*phraseState, error) {
	ps := &phraseState{phrase: ph}
	for _, tok := range ph.Tokens {
		cost, err := ev.ex.terms.Estimate(ctx, ev.tokenFilter(tok, ph.Column))
		if err != nil {
			return nil, fmt.Errorf("estimating %q: %w", tok.Term, err)
		}
		ps.tokens = append(ps.tokens, &tokenState{token: tok, cost: cost})
		if cost == 0 {
			ps.empty = true
		}
	}
	ev.stats.Phrases++
	ev.stats.Tokens += len(ps.tokens)
	if ps.empty {
		return ps, nil
	}

	ev.planDeferral(ps)
	for _, t := range ps.tokens {
		if t.deferred {
			continue
		}
		raw, err := ev.loadToken(ctx, t.token, ph.Column)
		if err != nil {
			return nil, fmt.Errorf("loading %q: %w", t.token.Term, err)
		}
		if len(raw) == 0 {
			ps.empty = true
			return ps, nil
		}
		l, err := decodeList(raw)
		if err != nil {
			return nil, fmt.Errorf("decoding %q: %w", t.token.Term, err)
		}
		t.list = l
	}
	return ps, nil
}

func (ev *evaluation) tokenFilter(tok parser.Token, column int) merge.Filter {
	return merge.Filter{
		Term:      []byte(tok.Term),
		Exact:     !tok.Prefix,
		Prefix:    tok.Prefix,
		Column:    column,
		MinDocID:  ev.req.MinDocID,
		MaxDocID:  ev.req.MaxDocID,
		DropEmpty: true,
	}
}

// loadToken returns the merged doclist of one token. A prefix token unions
// the doclists of every term it covers.
func (ev *evaluation) loadToken(ctx context.Context, tok parser.Token, column int) ([]byte, error) {
	return ev.loadRaw(ctx, ev.tokenFilter(tok, column))
}

func (ev *evaluation) loadRaw(ctx context.Context, f merge.Filter) ([]byte, error) {
	it, err := ev.ex.terms.Terms(ctx, f)
	if err != nil {
		return nil, err
	}
	var lists [][]byte
	for it.Next(ctx) {
		lists = append(lists, bytes.Clone(it.Doclist()))
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	switch len(lists) {
	case 0:
		return nil, nil
	case 1:
		return lists[0], nil
	}
	return doclist.Union(lists)
}

// planDeferral marks the tokens of ps to verify against row text, using the
// stored doclist sizes as cost. The cheapest token is always loaded so the
// phrase has a candidate set; prefix tokens are never deferred because a row
// lookup cannot expand them.
func (ev *evaluation) planDeferral(ps *phraseState) {
	if len(ps.tokens) < 2 || ev.req.Defer == DeferNever {
		return
	}
	cheapest := 0
	for i, t := range ps.tokens {
		if t.cost < ps.tokens[cheapest].cost {
			cheapest = i
		}
	}
	floor := float64(ps.tokens[cheapest].cost)
	for i, t := range ps.tokens {
		if i == cheapest || t.token.Prefix {
			continue
		}
		switch ev.req.Defer {
		case DeferAlways:
			t.deferred = true
		case DeferAuto:
			t.deferred = t.cost >= ev.ex.opts.MinDeferCost && float64(t.cost) > ev.ex.opts.DeferRatio*floor
		}
		if t.deferred {
			ps.deferred++
			ev.stats.Deferred++
		}
	}
}

// evalPhrase matches ps using loaded doclists only. Rows whose phrase
// depends on deferred tokens are reported as maybe.
func (ev *evaluation) evalPhrase(ps *phraseState, needSpans bool) *nodeResult {
	out := newNodeResult()
	if ps.empty {
		return out
	}
	var driver *tokenState
	for _, t := range ps.tokens {
		if !t.deferred && (driver == nil || len(t.list.docs) < len(driver.list.docs)) {
			driver = t
		}
	}
	for _, docid := range driver.list.docs {
		spans := matchPhrase(ps, func(i int) ([]doclist.Posting, bool) {
			t := ps.tokens[i]
			if t.deferred {
				return nil, false
			}
			return t.list.find(docid), true
		})
		if len(spans) == 0 {
			continue
		}
		key := storage.EncodeDocID(docid)
		out.maybe.Add(key)
		if ps.deferred == 0 {
			out.sure.Add(key)
		}
		if needSpans {
			out.spans[docid] = spans
		}
	}
	return out
}

// matchPhrase returns the spans at which every known token of ps sits at
// its offset from a common start. postingsOf reports false for tokens whose
// positions are unknown; those are ignored.
func matchPhrase(ps *phraseState, postingsOf func(i int) ([]doclist.Posting, bool)) []span {
	var starts []doclist.Posting
	first := true
	for i := range ps.tokens {
		postings, known := postingsOf(i)
		if !known {
			continue
		}
		shifted := make([]doclist.Posting, 0, len(postings))
		for _, p := range postings {
			if p.Pos >= i {
				shifted = append(shifted, doclist.Posting{Col: p.Col, Pos: p.Pos - i})
			}
		}
		if first {
			starts, first = shifted, false
		} else {
			starts = intersectPostings(starts, shifted)
		}
		if len(starts) == 0 {
			return nil
		}
	}

	n := len(ps.tokens)
	spans := make([]span, len(starts))
	for i, s := range starts {
		spans[i] = span{
			col:   s.Col,
			start: s.Pos,
			end:   s.Pos + n - 1,
			hits:  []hit{{phrase: ps.phrase.ID, col: s.Col, start: s.Pos}},
		}
	}
	return spans
}

func comparePosting(a, b doclist.Posting) int {
	if a.Col != b.Col {
		return a.Col - b.Col
	}
	return a.Pos - b.Pos
}

func intersectPostings(a, b []doclist.Posting) []doclist.Posting {
	var out []doclist.Posting
	for i, j := 0, 0; i < len(a) && j < len(b); {
		switch c := comparePosting(a[i], b[j]); {
		case c < 0:
			i++
		case c > 0:
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	return out
}

// nearSpans pairs every left span with every right span in the same column
// separated by at most n other tokens, in either order.
func nearSpans(left, right []span, n int) []span {
	var out []span
	for _, l := range left {
		for _, r := range right {
			if l.col != r.col {
				continue
			}
			gap := -1
			switch {
			case l.end < r.start:
				gap = r.start - l.end - 1
			case r.end < l.start:
				gap = l.start - r.end - 1
			}
			if gap > n {
				continue
			}
			hits := make([]hit, 0, len(l.hits)+len(r.hits))
			hits = append(hits, l.hits...)
			hits = append(hits, r.hits...)
			out = append(out, span{
				col:   l.col,
				start: min(l.start, r.start),
				end:   max(l.end, r.end),
				hits:  hits,
			})
		}
	}
	return out
}
