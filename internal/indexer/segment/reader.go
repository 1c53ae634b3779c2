package segment

import (
	"bytes"
	"context"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/segment-search/internal/storage"
	apperrors "github.com/Adithya-Monish-Kumar-K/segment-search/pkg/errors"
)

// BlockReader is the part of the block store a Reader needs.
type BlockReader interface {
	ReadBlock(ctx context.Context, id storage.BlockID) ([]byte, error)
}

// maxHeight bounds interior descent so a cyclic tree cannot loop forever.
const maxHeight = 64

// Reader iterates over the terms of one segment in order.
type Reader struct {
	blocks BlockReader
	seg    storage.Segment

	cur       leafCursor
	loaded    bool
	nextBlock storage.BlockID
	floor     []byte
	lastTerm  []byte
	err       error
}

// NewReader returns a Reader positioned before the first term of seg.
func NewReader(blocks BlockReader, seg storage.Segment) *Reader {
	return &Reader{blocks: blocks, seg: seg}
}

// Segment returns the directory row being read.
func (r *Reader) Segment() storage.Segment { return r.seg }

// Seek positions the reader so that the next call to Next returns the first
// term >= target. Only the interior nodes on the path to that leaf are read.
func (r *Reader) Seek(ctx context.Context, target []byte) error {
	r.floor = bytes.Clone(target)
	r.lastTerm = nil
	r.err = nil
	if r.seg.Inline() {
		r.cur = newLeafCursor(r.seg.Root)
		r.loaded = true
		return nil
	}

	node := r.seg.Root
	for depth := 0; ; depth++ {
		if depth >= maxHeight {
			return apperrors.Corruptf("segment %d/%d interior tree deeper than %d", r.seg.Level, r.seg.Idx, maxHeight)
		}
		in, err := decodeInterior(node)
		if err != nil {
			return fmt.Errorf("segment %d/%d: %w", r.seg.Level, r.seg.Idx, err)
		}
		child := in.childFor(target)
		if child < r.seg.StartBlock || child > r.seg.EndBlock {
			return apperrors.Corruptf("segment %d/%d child block %d outside [%d, %d]",
				r.seg.Level, r.seg.Idx, child, r.seg.StartBlock, r.seg.EndBlock)
		}
		if in.height == 1 {
			return r.loadLeaf(ctx, child)
		}
		if node, err = r.blocks.ReadBlock(ctx, child); err != nil {
			return fmt.Errorf("reading interior block %d: %w", child, err)
		}
	}
}

func (r *Reader) loadLeaf(ctx context.Context, id storage.BlockID) error {
	if id > r.seg.LeavesEndBlock {
		return apperrors.Corruptf("segment %d/%d leaf %d past leaves end %d", r.seg.Level, r.seg.Idx, id, r.seg.LeavesEndBlock)
	}
	data, err := r.blocks.ReadBlock(ctx, id)
	if err != nil {
		return fmt.Errorf("reading leaf block %d: %w", id, err)
	}
	if len(data) == 0 || data[0] != 0 {
		return apperrors.Corruptf("block %d is not a leaf", id)
	}
	r.cur = newLeafCursor(data)
	r.loaded = true
	r.nextBlock = id + 1
	return nil
}

// Next advances to the next term. It returns false at the end of the
// segment or on error.
func (r *Reader) Next(ctx context.Context) bool {
	if r.err != nil {
		return false
	}
	if !r.loaded {
		if r.seg.Inline() {
			r.cur = newLeafCursor(r.seg.Root)
			r.loaded = true
		} else if r.err = r.loadLeaf(ctx, r.seg.StartBlock); r.err != nil {
			return false
		}
	}
	for {
		if r.cur.next() {
			if r.floor != nil && bytes.Compare(r.cur.term, r.floor) < 0 {
				continue
			}
			if r.lastTerm != nil && bytes.Compare(r.cur.term, r.lastTerm) <= 0 {
				r.err = apperrors.Corruptf("segment %d/%d term %q not after %q", r.seg.Level, r.seg.Idx, r.cur.term, r.lastTerm)
				return false
			}
			r.lastTerm = r.cur.term
			return true
		}
		if r.cur.err != nil {
			r.err = fmt.Errorf("segment %d/%d: %w", r.seg.Level, r.seg.Idx, r.cur.err)
			return false
		}
		if r.seg.Inline() || r.nextBlock == 0 || r.nextBlock > r.seg.LeavesEndBlock {
			return false
		}
		if r.err = r.loadLeaf(ctx, r.nextBlock); r.err != nil {
			return false
		}
	}
}

// Term returns the current term. The slice stays valid after Next.
func (r *Reader) Term() []byte { return r.cur.term }

// Doclist returns the doclist of the current term.
func (r *Reader) Doclist() []byte { return r.cur.doclist }

// Err returns the first error met by Seek or Next.
func (r *Reader) Err() error { return r.err }
