package indexer

import (
	"context"
	"maps"
	"slices"

	"github.com/Adithya-Monish-Kumar-K/segment-search/internal/indexer/doclist"
	"github.com/Adithya-Monish-Kumar-K/segment-search/internal/indexer/merge"
	"github.com/Adithya-Monish-Kumar-K/segment-search/internal/storage"
	apperrors "github.com/Adithya-Monish-Kumar-K/segment-search/pkg/errors"
)

// IntegrityCheck re-tokenizes every stored row and compares the postings it
// yields with the merged index. Any difference is reported as ErrCorrupt.
func (e *Engine) IntegrityCheck(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	tx, withPending, done, err := e.readTx(ctx)
	if err != nil {
		return err
	}
	defer done()

	expected := make(map[string]*doclist.Builder)
	ids, err := tx.DocIDs(ctx)
	if err != nil {
		return apperrors.IO("listing rows", err)
	}
	it := ids.Iterator()
	for it.HasNext() {
		docid := storage.DecodeDocID(it.Next())
		cols, found, err := tx.Document(ctx, docid)
		if err != nil {
			return apperrors.IO("reading row", err)
		}
		if !found {
			return apperrors.Corruptf("row %d is listed but missing", docid)
		}
		for col, text := range cols {
			for tok := range e.tok.Tokens(text) {
				b := expected[tok.Term]
				if b == nil {
					b = &doclist.Builder{}
					expected[tok.Term] = b
				}
				if err := b.AppendPosting(docid, col, tok.Position); err != nil {
					return err
				}
			}
		}
	}

	f := merge.All()
	f.DropEmpty = true
	srcs, err := e.sources(ctx, tx, withPending, f)
	if err != nil {
		return err
	}
	mi := merge.NewIterator(srcs, f)
	checked := 0
	for mi.Next(ctx) {
		term := string(mi.Term())
		want, ok := expected[term]
		if !ok {
			return apperrors.Corruptf("index holds term %q that no row contains", term)
		}
		got, err := doclist.Decode(mi.Doclist())
		if err != nil {
			return err
		}
		exp, err := doclist.Decode(want.Bytes())
		if err != nil {
			return err
		}
		if !slices.EqualFunc(got, exp, equalEntry) {
			return apperrors.Corruptf("doclist of term %q does not match the stored rows", term)
		}
		delete(expected, term)
		checked++
	}
	if err := mi.Err(); err != nil {
		return err
	}
	if len(expected) > 0 {
		missing := slices.Sorted(maps.Keys(expected))
		return apperrors.Corruptf("%d terms are missing from the index, first %q", len(missing), missing[0])
	}
	e.logger.Info("integrity check passed", "terms", checked, "rows", ids.GetCardinality())
	return nil
}

func equalEntry(a, b doclist.Entry) bool {
	return a.DocID == b.DocID && slices.Equal(a.Postings, b.Postings)
}
