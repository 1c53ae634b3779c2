// Package index holds the in-memory pending-terms buffer that collects the
// postings of one write transaction until they are flushed to a segment.
package index

import (
	"iter"
	"slices"
	"strings"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/segment-search/internal/indexer/doclist"
)

// termOverhead approximates the map and builder bookkeeping per term.
const termOverhead = 32

// DefaultBudget is the pending size that triggers a flush.
const DefaultBudget = 1 << 20

// TermEntry is one term with its encoded doclist.
type TermEntry struct {
	Term    string
	Doclist []byte
}

// PendingTerms maps terms to in-progress doclists.
type PendingTerms struct {
	mu      sync.RWMutex
	terms   map[string]*doclist.Builder
	size    int64
	budget  int64
	lastDoc int64
	hasDoc  bool
	docs    int
}

// NewPendingTerms returns an empty buffer that asks for a flush once its
// size passes budget bytes.
func NewPendingTerms(budget int64) *PendingTerms {
	if budget <= 0 {
		budget = DefaultBudget
	}
	return &PendingTerms{
		terms:  make(map[string]*doclist.Builder),
		budget: budget,
	}
}

// NeedsFlushBefore reports whether the buffer must be flushed before postings
// for docid can be added. Doclists only grow by increasing docid, so a docid
// at or below the last one needs a fresh buffer.
func (p *PendingTerms) NeedsFlushBefore(docid int64) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.hasDoc && docid <= p.lastDoc
}

// StartDocument marks docid as the document the following postings belong to.
func (p *PendingTerms) StartDocument(docid int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.hasDoc || docid != p.lastDoc {
		p.docs++
	}
	p.lastDoc = docid
	p.hasDoc = true
}

// Add appends a posting for term.
func (p *PendingTerms) Add(term string, docid int64, col, pos int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	b := p.builder(term)
	before := b.Len()
	if err := b.AppendPosting(docid, col, pos); err != nil {
		return err
	}
	p.size += int64(b.Len() - before)
	return nil
}

// Tombstone records that docid no longer holds term.
func (p *PendingTerms) Tombstone(term string, docid int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	b := p.builder(term)
	before := b.Len()
	if err := b.EmptyEntry(docid); err != nil {
		return err
	}
	p.size += int64(b.Len() - before)
	return nil
}

func (p *PendingTerms) builder(term string) *doclist.Builder {
	b, ok := p.terms[term]
	if !ok {
		b = &doclist.Builder{}
		p.terms[term] = b
		p.size += int64(len(term) + termOverhead)
	}
	return b
}

// Size returns the tracked byte size.
func (p *PendingTerms) Size() int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.size
}

// ShouldFlush reports whether the buffer has outgrown its budget.
func (p *PendingTerms) ShouldFlush() bool {
	return p.Size() > p.budget
}

// Len returns the number of distinct terms.
func (p *PendingTerms) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.terms)
}

// DocCount returns the number of documents touched since the last clear.
func (p *PendingTerms) DocCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.docs
}

// Lookup returns the doclist of term, or nil.
func (p *PendingTerms) Lookup(term string) []byte {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if b, ok := p.terms[term]; ok {
		return b.Bytes()
	}
	return nil
}

// Terms returns a sorted copy of the entries whose term is >= from. With
// prefix set only terms starting with from are returned.
func (p *PendingTerms) Terms(from string, prefix bool) []TermEntry {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []TermEntry
	for term, b := range p.terms {
		if term < from || (prefix && !strings.HasPrefix(term, from)) {
			continue
		}
		out = append(out, TermEntry{Term: term, Doclist: b.Bytes()})
	}
	slices.SortFunc(out, func(a, b TermEntry) int { return strings.Compare(a.Term, b.Term) })
	return out
}

// DrainSorted hands every term to the caller in sorted order and empties the
// buffer. The sequence is single use.
func (p *PendingTerms) DrainSorted() iter.Seq2[string, []byte] {
	p.mu.Lock()
	terms := p.terms
	p.terms = make(map[string]*doclist.Builder)
	p.reset()
	p.mu.Unlock()

	keys := make([]string, 0, len(terms))
	for term := range terms {
		keys = append(keys, term)
	}
	slices.Sort(keys)
	return func(yield func(string, []byte) bool) {
		for _, term := range keys {
			if !yield(term, terms[term].Bytes()) {
				return
			}
		}
	}
}

// Clear discards everything without I/O.
func (p *PendingTerms) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.terms = make(map[string]*doclist.Builder)
	p.reset()
}

func (p *PendingTerms) reset() {
	p.size = 0
	p.hasDoc = false
	p.lastDoc = 0
	p.docs = 0
}
