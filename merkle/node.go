package merkle

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"cwchain/core"
)

const (
	tagInternal byte = 0x00
	tagLeaf     byte = 0x01
)

// ChildRef is how an InternalNode points at a child subtree: the version it
// was last written at (so it may predate its parent — structural sharing
// across versions), the bit-depth its own NodeKey is stored under, and its
// content hash. Depth is carried explicitly, rather than assumed to be the
// parent's depth plus one, because combine never wraps a single child in a
// pass-through internal node: a leaf (or the lone internal node produced by
// insertDivergent) can sit at any depth its key's bit-path actually reaches,
// skipping every shallower depth at which it was the subtree's sole member.
type ChildRef struct {
	Version uint64
	Depth   uint16
	Hash    core.Hash
}

// InternalNode has up to two children, keyed by the bit value (0 = left,
// 1 = right) at this node's depth. A nil ChildRef means that side is empty.
type InternalNode struct {
	Left  *ChildRef
	Right *ChildRef
}

// LeafNode is a committed (key, value) pair. It stores the value directly
// rather than merely its hash, since Prove must be able to return the
// value alongside its inclusion proof; Hash() still content-addresses on
// sha256(Value), keeping node hashes a fixed 32 bytes regardless of value
// size.
type LeafNode struct {
	KeyHash core.Hash
	Value   []byte
}

// Node is the tagged union persisted under a NodeKey.
type Node struct {
	Internal *InternalNode
	Leaf     *LeafNode
}

func placeholder(ref *ChildRef) core.Hash {
	if ref == nil {
		return core.Hash{}
	}
	return ref.Hash
}

// Hash computes this node's content hash: a sha256 over its tag and
// encoded fields. It never depends on the node's storage depth, which is
// what lets Apply collapse an internal node down to its sole surviving
// child without changing the subtree's hash.
func (n Node) Hash() core.Hash {
	switch {
	case n.Internal != nil:
		h := sha256.New()
		h.Write([]byte{tagInternal})
		left := placeholder(n.Internal.Left)
		right := placeholder(n.Internal.Right)
		h.Write(left[:])
		h.Write(right[:])
		var out core.Hash
		copy(out[:], h.Sum(nil))
		return out
	case n.Leaf != nil:
		var valueHash core.Hash
		vh := sha256.Sum256(n.Leaf.Value)
		copy(valueHash[:], vh[:])
		return leafNodeHash(n.Leaf.KeyHash, valueHash)
	default:
		panic("merkle: node has neither internal nor leaf variant set")
	}
}

// leafNodeHash computes a leaf's content hash from its key hash and its
// value's hash directly, without requiring the value itself — the same
// computation Node.Hash's leaf branch does, factored out so an exclusion
// proof can rebuild an occupying leaf's hash from the (KeyHash, ValueHash)
// pair carried in Proof without needing the value bytes.
func leafNodeHash(keyHash, valueHash core.Hash) core.Hash {
	h := sha256.New()
	h.Write([]byte{tagLeaf})
	h.Write(keyHash[:])
	h.Write(valueHash[:])
	var out core.Hash
	copy(out[:], h.Sum(nil))
	return out
}

// encode serializes n for storage: tag byte, then a fixed-layout body
// per variant (for each internal child a presence byte, then, if present,
// its 8-byte version, 2-byte depth and 32-byte hash;
// or the leaf's key hash followed by its length-prefixed value).
func (n Node) encode() []byte {
	switch {
	case n.Internal != nil:
		out := make([]byte, 0, 1+2*(1+core.HashLength))
		out = append(out, tagInternal)
		out = appendChildRef(out, n.Internal.Left)
		out = appendChildRef(out, n.Internal.Right)
		return out
	case n.Leaf != nil:
		out := make([]byte, 0, 1+core.HashLength+4+len(n.Leaf.Value))
		out = append(out, tagLeaf)
		out = append(out, n.Leaf.KeyHash[:]...)
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(n.Leaf.Value)))
		out = append(out, lenBuf[:]...)
		out = append(out, n.Leaf.Value...)
		return out
	default:
		panic("merkle: node has neither internal nor leaf variant set")
	}
}

func appendChildRef(out []byte, ref *ChildRef) []byte {
	if ref == nil {
		return append(out, 0)
	}
	out = append(out, 1)
	var vbuf [8]byte
	binary.BigEndian.PutUint64(vbuf[:], ref.Version)
	out = append(out, vbuf[:]...)
	var dbuf [2]byte
	binary.BigEndian.PutUint16(dbuf[:], ref.Depth)
	out = append(out, dbuf[:]...)
	out = append(out, ref.Hash[:]...)
	return out
}

func decodeNode(data []byte) (Node, error) {
	if len(data) == 0 {
		return Node{}, fmt.Errorf("merkle: empty node encoding")
	}
	switch data[0] {
	case tagInternal:
		rest := data[1:]
		left, rest, err := readChildRef(rest)
		if err != nil {
			return Node{}, err
		}
		right, rest, err := readChildRef(rest)
		if err != nil {
			return Node{}, err
		}
		if len(rest) != 0 {
			return Node{}, fmt.Errorf("merkle: trailing bytes in internal node encoding")
		}
		return Node{Internal: &InternalNode{Left: left, Right: right}}, nil
	case tagLeaf:
		rest := data[1:]
		if len(rest) < core.HashLength+4 {
			return Node{}, fmt.Errorf("merkle: truncated leaf node encoding")
		}
		var keyHash core.Hash
		copy(keyHash[:], rest[:core.HashLength])
		rest = rest[core.HashLength:]
		valLen := binary.BigEndian.Uint32(rest[:4])
		rest = rest[4:]
		if uint32(len(rest)) != valLen {
			return Node{}, fmt.Errorf("merkle: leaf value length mismatch: header says %d, got %d", valLen, len(rest))
		}
		value := make([]byte, valLen)
		copy(value, rest)
		return Node{Leaf: &LeafNode{KeyHash: keyHash, Value: value}}, nil
	default:
		return Node{}, fmt.Errorf("merkle: unknown node tag 0x%02x", data[0])
	}
}

func readChildRef(data []byte) (*ChildRef, []byte, error) {
	if len(data) < 1 {
		return nil, nil, fmt.Errorf("merkle: truncated child ref")
	}
	present := data[0]
	data = data[1:]
	if present == 0 {
		return nil, data, nil
	}
	if len(data) < 8+2+core.HashLength {
		return nil, nil, fmt.Errorf("merkle: truncated child ref body")
	}
	ref := &ChildRef{
		Version: binary.BigEndian.Uint64(data[:8]),
		Depth:   binary.BigEndian.Uint16(data[8:10]),
	}
	copy(ref.Hash[:], data[10:10+core.HashLength])
	return ref, data[10+core.HashLength:], nil
}
