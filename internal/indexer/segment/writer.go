package segment

import (
	"bytes"
	"context"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/segment-search/internal/storage"
	apperrors "github.com/Adithya-Monish-Kumar-K/segment-search/pkg/errors"
)

// ErrEmptySegment is returned by Finish when no term was added.
var ErrEmptySegment = fmt.Errorf("cannot write empty segment")

// BlockWriter is the part of the block store a Writer needs.
type BlockWriter interface {
	WriteBlock(ctx context.Context, data []byte) (storage.BlockID, error)
}

// Result describes a finished segment. Level and Idx are left for the caller.
type Result struct {
	StartBlock     storage.BlockID
	LeavesEndBlock storage.BlockID
	EndBlock       storage.BlockID
	Root           []byte
	Terms          int
	Leaves         int
}

// Segment returns the directory row for r at the given position.
func (r Result) Segment(level, idx int) storage.Segment {
	return storage.Segment{
		Level:          level,
		Idx:            idx,
		StartBlock:     r.StartBlock,
		LeavesEndBlock: r.LeavesEndBlock,
		EndBlock:       r.EndBlock,
		Root:           r.Root,
	}
}

// Writer packs a sorted stream of terms into leaf blocks and builds the
// interior index over them.
type Writer struct {
	blocks   BlockWriter
	nodeSize int

	leaf     []byte
	leafPrev []byte
	lastTerm []byte
	terms    int

	leafIDs []storage.BlockID
	seps    [][]byte
	lastID  storage.BlockID
}

// NewWriter returns a Writer that allocates blocks from blocks.
func NewWriter(blocks BlockWriter, nodeSize int) *Writer {
	if nodeSize <= 0 {
		nodeSize = DefaultNodeSize
	}
	return &Writer{blocks: blocks, nodeSize: nodeSize}
}

// Add appends one term. Terms must arrive in strictly increasing order.
func (w *Writer) Add(ctx context.Context, term, doclist []byte) error {
	if len(term) == 0 {
		return fmt.Errorf("%w: empty term", apperrors.ErrInvalidInput)
	}
	if w.lastTerm != nil && bytes.Compare(term, w.lastTerm) <= 0 {
		return apperrors.Corruptf("segment term %q not after %q", term, w.lastTerm)
	}

	prefix := commonPrefix(w.leafPrev, term)
	if len(w.leaf) > 0 && len(w.leaf)+leafRecordSize(prefix, term, doclist) > w.nodeSize {
		id, err := w.write(ctx, w.leaf)
		if err != nil {
			return fmt.Errorf("writing leaf: %w", err)
		}
		w.leafIDs = append(w.leafIDs, id)
		w.seps = append(w.seps, bytes.Clone(term[:commonPrefix(w.lastTerm, term)+1]))
		w.leaf = nil
		w.leafPrev = nil
		prefix = 0
	}

	w.leaf = appendLeafRecord(w.leaf, prefix, term, doclist)
	w.leafPrev = bytes.Clone(term)
	w.lastTerm = w.leafPrev
	w.terms++
	return nil
}

// Finish writes the remaining nodes and returns the segment description.
func (w *Writer) Finish(ctx context.Context) (Result, error) {
	if w.terms == 0 {
		return Result{}, ErrEmptySegment
	}
	if len(w.leafIDs) == 0 {
		return Result{Root: w.leaf, Terms: w.terms, Leaves: 1}, nil
	}

	id, err := w.write(ctx, w.leaf)
	if err != nil {
		return Result{}, fmt.Errorf("writing leaf: %w", err)
	}
	w.leafIDs = append(w.leafIDs, id)

	res := Result{
		StartBlock:     w.leafIDs[0],
		LeavesEndBlock: id,
		Terms:          w.terms,
		Leaves:         len(w.leafIDs),
	}

	children, seps := w.leafIDs, w.seps
	for height := 1; ; height++ {
		nodes, parentSeps := w.buildLevel(height, children, seps)
		if len(nodes) == 1 {
			res.Root = nodes[0]
			break
		}
		ids := make([]storage.BlockID, len(nodes))
		for i, node := range nodes {
			if ids[i], err = w.write(ctx, node); err != nil {
				return Result{}, fmt.Errorf("writing interior node at height %d: %w", height, err)
			}
		}
		children, seps = ids, parentSeps
	}
	res.EndBlock = w.lastID
	return res, nil
}

// buildLevel packs the separators between children into interior nodes.
// seps[i] divides children[i] and children[i+1]. The separators that end
// up between two nodes are returned for the next level.
func (w *Writer) buildLevel(height int, children []storage.BlockID, seps [][]byte) ([][]byte, [][]byte) {
	var nodes, parentSeps [][]byte
	node := appendInteriorHeader(nil, height, children[0])
	var prev []byte
	for i, sep := range seps {
		first := prev == nil
		if !first && len(node)+interiorTermSize(prev, sep, first) > w.nodeSize {
			nodes = append(nodes, node)
			parentSeps = append(parentSeps, sep)
			node = appendInteriorHeader(nil, height, children[i+1])
			prev = nil
			continue
		}
		node = appendInteriorTerm(node, prev, sep, first)
		prev = sep
	}
	return append(nodes, node), parentSeps
}

func (w *Writer) write(ctx context.Context, data []byte) (storage.BlockID, error) {
	id, err := w.blocks.WriteBlock(ctx, data)
	if err != nil {
		return 0, err
	}
	if w.lastID != 0 && id != w.lastID+1 {
		return 0, fmt.Errorf("block store allocated %d after %d: segment blocks must be contiguous", id, w.lastID)
	}
	w.lastID = id
	return id, nil
}
