// Package segment writes and reads immutable segments: a sorted run of
// (term, doclist) records packed into leaf blocks, indexed by a b-tree of
// interior nodes whose root is stored inline in the directory row.
//
// Leaf record:
//
//	varint prefix, varint suffixLen, suffix, varint doclistLen, doclist
//
// Interior node:
//
//	height byte, varint leftChild, then separator terms front-coded against
//	the previous separator in the node (the first one omits the prefix)
//
// A leaf always starts with a zero byte (prefix of its first term), an
// interior node with its height, which is at least 1.
package segment

import (
	"bytes"

	"github.com/Adithya-Monish-Kumar-K/segment-search/internal/indexer/varint"
	"github.com/Adithya-Monish-Kumar-K/segment-search/internal/storage"
	apperrors "github.com/Adithya-Monish-Kumar-K/segment-search/pkg/errors"
)

// DefaultNodeSize is the soft limit for leaf and interior nodes.
const DefaultNodeSize = 4000

func commonPrefix(a, b []byte) int {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}

func leafRecordSize(prefix int, term, doclist []byte) int {
	suffix := len(term) - prefix
	return varint.Len(uint64(prefix)) + varint.Len(uint64(suffix)) + suffix +
		varint.Len(uint64(len(doclist))) + len(doclist)
}

func appendLeafRecord(dst []byte, prefix int, term, doclist []byte) []byte {
	dst = varint.Append(dst, uint64(prefix))
	dst = varint.Append(dst, uint64(len(term)-prefix))
	dst = append(dst, term[prefix:]...)
	dst = varint.Append(dst, uint64(len(doclist)))
	return append(dst, doclist...)
}

// leafCursor decodes the records of one leaf.
type leafCursor struct {
	data    []byte
	off     int
	term    []byte
	doclist []byte
	err     error
}

func newLeafCursor(data []byte) leafCursor {
	return leafCursor{data: data}
}

func (c *leafCursor) next() bool {
	if c.err != nil || c.off >= len(c.data) {
		return false
	}
	prefix, n, err := varint.Decode(c.data[c.off:])
	if err != nil {
		c.err = err
		return false
	}
	c.off += n
	suffix, n, err := varint.Decode(c.data[c.off:])
	if err != nil {
		c.err = err
		return false
	}
	c.off += n
	if prefix > uint64(len(c.term)) || (c.term == nil && prefix != 0) {
		c.err = apperrors.Corruptf("leaf prefix %d longer than previous term", prefix)
		return false
	}
	if suffix == 0 || suffix > uint64(len(c.data)-c.off) {
		c.err = apperrors.Corruptf("leaf suffix length %d out of range", suffix)
		return false
	}
	term := make([]byte, 0, int(prefix)+int(suffix))
	term = append(term, c.term[:prefix]...)
	term = append(term, c.data[c.off:c.off+int(suffix)]...)
	c.off += int(suffix)
	if c.term != nil && bytes.Compare(term, c.term) <= 0 {
		c.err = apperrors.Corruptf("leaf term %q not after %q", term, c.term)
		return false
	}

	size, n, err := varint.Decode(c.data[c.off:])
	if err != nil {
		c.err = err
		return false
	}
	c.off += n
	if size > uint64(len(c.data)-c.off) {
		c.err = apperrors.Corruptf("leaf doclist of %d bytes truncated", size)
		return false
	}
	c.term = term
	c.doclist = c.data[c.off : c.off+int(size)]
	c.off += int(size)
	return true
}

type interiorNode struct {
	height    int
	leftChild storage.BlockID
	terms     [][]byte
}

func appendInteriorHeader(dst []byte, height int, leftChild storage.BlockID) []byte {
	dst = append(dst, byte(height))
	return varint.Append(dst, uint64(leftChild))
}

func interiorTermSize(prev, term []byte, first bool) int {
	if first {
		return varint.Len(uint64(len(term))) + len(term)
	}
	prefix := commonPrefix(prev, term)
	suffix := len(term) - prefix
	return varint.Len(uint64(prefix)) + varint.Len(uint64(suffix)) + suffix
}

func appendInteriorTerm(dst, prev, term []byte, first bool) []byte {
	if first {
		dst = varint.Append(dst, uint64(len(term)))
		return append(dst, term...)
	}
	prefix := commonPrefix(prev, term)
	dst = varint.Append(dst, uint64(prefix))
	dst = varint.Append(dst, uint64(len(term)-prefix))
	return append(dst, term[prefix:]...)
}

func decodeInterior(data []byte) (interiorNode, error) {
	if len(data) == 0 || data[0] == 0 {
		return interiorNode{}, apperrors.Corruptf("interior node without height")
	}
	node := interiorNode{height: int(data[0])}
	child, n, err := varint.Decode(data[1:])
	if err != nil {
		return interiorNode{}, err
	}
	if child == 0 {
		return interiorNode{}, apperrors.Corruptf("interior node points at block 0")
	}
	node.leftChild = storage.BlockID(child)

	off := 1 + n
	var prev []byte
	for off < len(data) {
		prefix := uint64(0)
		if prev != nil {
			prefix, n, err = varint.Decode(data[off:])
			if err != nil {
				return interiorNode{}, err
			}
			off += n
		}
		suffix, n, err := varint.Decode(data[off:])
		if err != nil {
			return interiorNode{}, err
		}
		off += n
		if prefix > uint64(len(prev)) || suffix > uint64(len(data)-off) {
			return interiorNode{}, apperrors.Corruptf("interior term out of range")
		}
		term := make([]byte, 0, int(prefix)+int(suffix))
		term = append(term, prev[:prefix]...)
		term = append(term, data[off:off+int(suffix)]...)
		off += int(suffix)
		if prev != nil && bytes.Compare(term, prev) <= 0 {
			return interiorNode{}, apperrors.Corruptf("interior term %q not after %q", term, prev)
		}
		node.terms = append(node.terms, term)
		prev = term
	}
	return node, nil
}

// childFor returns the child block that holds the first term >= target.
func (n interiorNode) childFor(target []byte) storage.BlockID {
	i := 0
	for i < len(n.terms) && bytes.Compare(n.terms[i], target) <= 0 {
		i++
	}
	return n.leftChild + storage.BlockID(i)
}
