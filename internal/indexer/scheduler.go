package indexer

import (
	"context"
	"fmt"
	"slices"
	"strconv"

	"github.com/Adithya-Monish-Kumar-K/segment-search/internal/indexer/merge"
	"github.com/Adithya-Monish-Kumar-K/segment-search/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/segment-search/internal/storage"
	apperrors "github.com/Adithya-Monish-Kumar-K/segment-search/pkg/errors"
)

// mergeDue merges every level that holds MergeThreshold or more segments
// into one segment on the next level, cascading upwards.
func (e *Engine) mergeDue(ctx context.Context, tx storage.Tx) error {
	for level := 0; ; level++ {
		segs, err := tx.SegmentsAtLevel(ctx, level)
		if err != nil {
			return apperrors.IO("reading segment directory", err)
		}
		if len(segs) < e.cfg.MergeThreshold {
			if len(segs) == 0 && level > 0 {
				return nil
			}
			continue
		}
		if err := e.mergeSegments(ctx, tx, segs, level+1); err != nil {
			return fmt.Errorf("merging level %d: %w", level, err)
		}
	}
}

// mergeSegments replaces segs with one segment at target. Tombstones are
// only dropped when segs is the whole index, since otherwise they may still
// hide postings in older segments.
func (e *Engine) mergeSegments(ctx context.Context, tx storage.Tx, segs []storage.Segment, target int) error {
	all, err := tx.Segments(ctx)
	if err != nil {
		return apperrors.IO("reading segment directory", err)
	}
	dropEmpty := len(segs) == len(all)

	ordered := slices.Clone(segs)
	storage.SortSegments(ordered)
	srcs := make([]merge.Source, 0, len(ordered))
	for i := len(ordered) - 1; i >= 0; i-- {
		srcs = append(srcs, segment.NewReader(tx, ordered[i]))
	}

	f := merge.All()
	f.DropEmpty = dropEmpty
	it := merge.NewIterator(srcs, f)
	w := segment.NewWriter(tx, e.cfg.NodeSize)
	terms := 0
	for it.Next(ctx) {
		if limit := e.cfg.MaxDoclistBytes; limit > 0 && len(it.Doclist()) > limit {
			return fmt.Errorf("%w: doclist of %q is %d bytes, limit %d",
				apperrors.ErrResourceExhausted, it.Term(), len(it.Doclist()), limit)
		}
		if err := w.Add(ctx, it.Term(), it.Doclist()); err != nil {
			return err
		}
		terms++
	}
	if err := it.Err(); err != nil {
		return err
	}

	var merged storage.Segment
	if terms > 0 {
		res, err := w.Finish(ctx)
		if err != nil {
			return err
		}
		idx, err := tx.NextIdx(ctx, target)
		if err != nil {
			return apperrors.IO("allocating segment index", err)
		}
		merged = res.Segment(target, idx)
		if err := tx.PutSegment(ctx, merged); err != nil {
			return apperrors.IO("writing segment row", err)
		}
	}

	for _, s := range ordered {
		if err := tx.DeleteSegment(ctx, s.Level, s.Idx); err != nil {
			return apperrors.IO("deleting segment row", err)
		}
		if !s.Inline() {
			if err := tx.DeleteBlocks(ctx, s.StartBlock, s.EndBlock); err != nil {
				return apperrors.IO("deleting segment blocks", err)
			}
		}
	}

	e.merges++
	if e.metrics != nil {
		e.metrics.MergesTotal.WithLabelValues(strconv.Itoa(ordered[0].Level)).Inc()
	}
	e.logger.Info("segments merged",
		"inputs", len(ordered),
		"level", target,
		"terms", terms,
		"tombstones_dropped", dropEmpty,
	)
	return nil
}

// Optimize merges the whole index, pending terms included, into a single
// segment without tombstones and commits. An empty or single-segment index
// is left as it is.
func (e *Engine) Optimize(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.writeTx(ctx); err != nil {
		return err
	}
	if err := e.flushLocked(ctx); err != nil {
		return err
	}
	tx, err := e.writeTx(ctx)
	if err != nil {
		return err
	}
	segs, err := tx.Segments(ctx)
	if err != nil {
		return e.abortLocked(apperrors.IO("reading segment directory", err))
	}
	if len(segs) > 1 {
		top := segs[0].Level
		if err := e.mergeSegments(ctx, tx, segs, top); err != nil {
			return e.abortLocked(fmt.Errorf("optimizing: %w", err))
		}
	}
	return e.commitLocked(ctx)
}
