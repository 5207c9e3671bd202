// Package merkle implements the Jellyfish Merkle Tree: a versioned,
// sparse, authenticated binary tree keyed by the bit-decomposition of
// hash(user_key). Every Apply materializes a fresh set of nodes for the
// new version while structurally sharing any subtree left untouched by
// that version's writes.
package merkle

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"cwchain/core"
	"cwchain/store"
)

// EmptyRootHash is the root hash of a tree with no live keys.
var EmptyRootHash = core.Hash{}

// Write is one entry of an Apply write-set: Value == nil means delete.
type Write struct {
	Key   []byte
	Value []byte
}

// Tree is a JMT backed by a store.Backend. Nodes are addressed by their
// serialized NodeKey and never mutated once written, so concurrent readers
// of older versions are always safe.
type Tree struct {
	nodes store.Backend
	roots store.Backend
	cache *lru.Cache[string, Node]
}

// NewTree opens a Tree over backend, namespacing nodes and per-version root
// pointers into disjoint prefixes. cacheSize bounds the in-process decoded
// node cache; 0 disables caching.
func NewTree(backend store.Backend, cacheSize int) (*Tree, error) {
	t := &Tree{
		nodes: store.NewPrefixed(backend, []byte("jmt/nodes/")),
		roots: store.NewPrefixed(backend, []byte("jmt/roots/")),
	}
	if cacheSize > 0 {
		c, err := lru.New[string, Node](cacheSize)
		if err != nil {
			return nil, fmt.Errorf("merkle: build node cache: %w", err)
		}
		t.cache = c
	}
	return t, nil
}

func (t *Tree) loadNode(nk NodeKey) (Node, error) {
	ck := nk.cacheKey()
	if t.cache != nil {
		if n, ok := t.cache.Get(ck); ok {
			return n, nil
		}
	}
	raw, err := t.nodes.Get([]byte(ck))
	if err != nil {
		return Node{}, err
	}
	if raw == nil {
		return Node{}, fmt.Errorf("merkle: missing node at version %d depth %d", nk.Version, nk.Bits.NumBits)
	}
	n, err := decodeNode(raw)
	if err != nil {
		return Node{}, err
	}
	if t.cache != nil {
		t.cache.Add(ck, n)
	}
	return n, nil
}

func (t *Tree) storeNode(nk NodeKey, n Node) error {
	if t.cache != nil {
		t.cache.Add(nk.cacheKey(), n)
	}
	return t.nodes.Set([]byte(nk.cacheKey()), n.encode())
}

func rootKey(version uint64) []byte {
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(version >> (8 * (7 - i)))
	}
	return buf[:]
}

func (t *Tree) loadRoot(version uint64) (*ChildRef, error) {
	if version == 0 {
		return nil, nil
	}
	raw, err := t.roots.Get(rootKey(version))
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}
	ref, _, err := readChildRef(append([]byte{1}, raw...))
	if err != nil {
		return nil, err
	}
	return ref, nil
}

func (t *Tree) storeRoot(version uint64, ref *ChildRef) error {
	if ref == nil {
		// An explicitly empty tree at this version: store a recognizable
		// zero-length marker distinct from "no entry" (never written).
		return t.roots.Set(rootKey(version), []byte{})
	}
	return t.roots.Set(rootKey(version), appendChildRef(nil, ref)[1:])
}

// RootHash returns the committed root hash at version, or EmptyRootHash if
// no root was recorded at that exact version or the tree was empty there.
func (t *Tree) RootHash(version uint64) (core.Hash, error) {
	ref, err := t.loadRoot(version)
	if err != nil {
		return core.Hash{}, err
	}
	if ref == nil {
		return EmptyRootHash, nil
	}
	return ref.Hash, nil
}

// Apply commits writes on top of prevVersion's tree, materializing the
// result as version. It returns the new root hash. Per the tree's defining
// invariant, the result depends only on the resulting set of live
// (key, value) pairs, never on the order writes were applied in.
func (t *Tree) Apply(prevVersion, version uint64, writes []Write) (core.Hash, error) {
	if version <= prevVersion && !(prevVersion == 0 && version == 0) {
		return core.Hash{}, fmt.Errorf("merkle: new version %d must exceed previous version %d", version, prevVersion)
	}
	root, err := t.loadRoot(prevVersion)
	if err != nil {
		return core.Hash{}, err
	}
	for _, w := range writes {
		keyHash := core.HashBytes(w.Key)
		root, err = t.upsert(root, 0, keyHash, w.Value, version)
		if err != nil {
			return core.Hash{}, err
		}
	}
	if err := t.storeRoot(version, root); err != nil {
		return core.Hash{}, err
	}
	if root == nil {
		return EmptyRootHash, nil
	}
	return root.Hash, nil
}

// upsert inserts, updates, or deletes keyHash in the subtree ref points to
// (nil ref means an empty subtree), writing any new nodes at version. depth
// is where a brand new leaf belongs if ref turns out to be nil (an empty
// side of some ancestor internal node, or the empty tree itself); once ref
// is non-nil, its own Depth is what locates and re-stores it — not depth —
// since a leaf or an insertDivergent-created internal node can sit at any
// depth its key's bit-path actually reaches, skipping every shallower depth
// at which it was the subtree's sole occupant. value == nil means delete.
func (t *Tree) upsert(ref *ChildRef, depth uint16, keyHash core.Hash, value []byte, version uint64) (*ChildRef, error) {
	if ref == nil {
		if value == nil {
			return nil, nil
		}
		return t.writeLeaf(keyHash, value, depth, version)
	}

	nk := NodeKey{Version: ref.Version, Bits: bitsPrefix(keyHash, ref.Depth)}
	node, err := t.loadNode(nk)
	if err != nil {
		return nil, err
	}

	if node.Leaf != nil {
		if node.Leaf.KeyHash == keyHash {
			if value == nil {
				return nil, nil
			}
			return t.writeLeaf(keyHash, value, ref.Depth, version)
		}
		if value == nil {
			return ref, nil
		}
		return t.insertDivergent(*node.Leaf, ref.Depth, keyHash, value, version)
	}

	// Internal node: recurse down the side matching keyHash's bit at this
	// node's own depth, leave the other side untouched (structural sharing).
	bit := bitAt(keyHash, ref.Depth)
	var childRef, otherRef *ChildRef
	if bit == 0 {
		childRef, otherRef = node.Internal.Left, node.Internal.Right
	} else {
		childRef, otherRef = node.Internal.Right, node.Internal.Left
	}
	newChildRef, err := t.upsert(childRef, ref.Depth+1, keyHash, value, version)
	if err != nil {
		return nil, err
	}
	var left, right *ChildRef
	if bit == 0 {
		left, right = newChildRef, otherRef
	} else {
		left, right = otherRef, newChildRef
	}
	return t.combine(left, right, ref.Depth, keyHash, version)
}

func (t *Tree) writeLeaf(keyHash core.Hash, value []byte, depth uint16, version uint64) (*ChildRef, error) {
	n := Node{Leaf: &LeafNode{KeyHash: keyHash, Value: value}}
	nk := NodeKey{Version: version, Bits: bitsPrefix(keyHash, depth)}
	if err := t.storeNode(nk, n); err != nil {
		return nil, err
	}
	return &ChildRef{Version: version, Depth: depth, Hash: n.Hash()}, nil
}

// combine builds the internal node uniting left and right at depth, unless
// one side is empty — in which case the other side's ref is propagated up
// unchanged, keeping whatever Depth it already carries. This is what keeps a
// leaf (or a divergence node) positioned exactly at the depth its path
// actually diverges from every other live key's: no internal node is ever
// created to wrap a single child, so depth is not assumed to advance by one
// between a node and its parent — ChildRef.Depth is what's authoritative.
func (t *Tree) combine(left, right *ChildRef, depth uint16, keyHash core.Hash, version uint64) (*ChildRef, error) {
	switch {
	case left == nil && right == nil:
		return nil, nil
	case left == nil:
		return right, nil
	case right == nil:
		return left, nil
	}
	n := Node{Internal: &InternalNode{Left: left, Right: right}}
	nk := NodeKey{Version: version, Bits: bitsPrefix(keyHash, depth)}
	if err := t.storeNode(nk, n); err != nil {
		return nil, err
	}
	return &ChildRef{Version: version, Depth: depth, Hash: n.Hash()}, nil
}

// insertDivergent handles inserting newKeyHash where the subtree at depth
// currently holds a single leaf for a different key. It walks forward to
// the first bit at which the two hashes diverge and creates exactly one
// internal node there — every shallower depth down to the original depth
// already has only one occupied child, so it's collapsed away (no node is
// ever stored for those depths; the live subtree's ref just keeps pointing
// straight at whichever single node is actually present there). The
// internal node is stored at d bits; its two leaf children sit one level
// deeper, at d+1 bits — keying them at d would collide with each other and
// with the internal node itself, since bits 0..d-1 are by definition
// identical between the two keys. Every ref returned carries its own real
// Depth, so a later traversal finds each of these nodes directly rather
// than assuming depth advances by exactly one level per hop.
func (t *Tree) insertDivergent(existing LeafNode, depth uint16, newKeyHash core.Hash, newValue []byte, version uint64) (*ChildRef, error) {
	d := depth
	for d < uint16(core.HashLength*8) && bitAt(existing.KeyHash, d) == bitAt(newKeyHash, d) {
		d++
	}
	if d >= uint16(core.HashLength*8) {
		return nil, fmt.Errorf("merkle: key hash collision at full depth (existing=%s new=%s)", existing.KeyHash, newKeyHash)
	}

	existingRef, err := t.writeLeaf(existing.KeyHash, existing.Value, d+1, version)
	if err != nil {
		return nil, err
	}
	newRef, err := t.writeLeaf(newKeyHash, newValue, d+1, version)
	if err != nil {
		return nil, err
	}

	var left, right *ChildRef
	if bitAt(existing.KeyHash, d) == 0 {
		left, right = existingRef, newRef
	} else {
		left, right = newRef, existingRef
	}
	n := Node{Internal: &InternalNode{Left: left, Right: right}}
	nk := NodeKey{Version: version, Bits: bitsPrefix(newKeyHash, d)}
	if err := t.storeNode(nk, n); err != nil {
		return nil, err
	}
	return &ChildRef{Version: version, Depth: d, Hash: n.Hash()}, nil
}

// ExclusionLeaf identifies the leaf actually occupying the search path when
// Prove concludes a key is absent from a non-empty tree: combine never
// creates a single-child internal node, so the search always runs into some
// other key's leaf rather than a nil subtree. Carrying its (key hash,
// value hash) lets VerifyProof rebuild that leaf's hash without needing its
// value bytes.
type ExclusionLeaf struct {
	KeyHash   core.Hash
	ValueHash core.Hash
}

// Proof is an inclusion or exclusion proof for one key at one version: the
// sibling hash at every internal node the search passed through on the way
// down, paired with the bit depth that node tested (depths are not assumed
// to be consecutive — an internal node can sit at any depth its two
// children's keys diverge at, skipping every shallower depth at which the
// subtree held only one of them), plus, for an exclusion proof over a
// non-empty tree, the leaf occupying the point the search concluded at
// (ExclusionLeaf).
type Proof struct {
	Siblings      []core.Hash
	Depths        []uint16
	ExclusionLeaf *ExclusionLeaf
}

// Prove returns the value stored for key at version (nil if absent) along
// with a proof of that fact.
func (t *Tree) Prove(version uint64, key []byte) ([]byte, Proof, error) {
	root, err := t.loadRoot(version)
	if err != nil {
		return nil, Proof{}, err
	}
	keyHash := core.HashBytes(key)
	var proof Proof
	ref := root
	for ref != nil {
		nk := NodeKey{Version: ref.Version, Bits: bitsPrefix(keyHash, ref.Depth)}
		node, err := t.loadNode(nk)
		if err != nil {
			return nil, Proof{}, err
		}
		if node.Leaf != nil {
			if node.Leaf.KeyHash == keyHash {
				return node.Leaf.Value, proof, nil
			}
			valueHash := core.HashBytes(node.Leaf.Value)
			proof.ExclusionLeaf = &ExclusionLeaf{KeyHash: node.Leaf.KeyHash, ValueHash: valueHash}
			return nil, proof, nil
		}
		bit := bitAt(keyHash, ref.Depth)
		var next, sibling *ChildRef
		if bit == 0 {
			next, sibling = node.Internal.Left, node.Internal.Right
		} else {
			next, sibling = node.Internal.Right, node.Internal.Left
		}
		proof.Siblings = append(proof.Siblings, placeholder(sibling))
		proof.Depths = append(proof.Depths, ref.Depth)
		ref = next
	}
	return nil, proof, nil
}

// VerifyProof recomputes a root hash from a leaf's (key, value), its proof,
// and the bit path taken to reach it, and reports whether it matches root.
// A nil value checks a proof of absence: if proof carries an ExclusionLeaf,
// the search ran into that other key's leaf, and recomputation starts from
// its hash; otherwise the whole tree was empty and recomputation starts
// from EmptyRootHash.
func VerifyProof(root core.Hash, key, value []byte, proof Proof) bool {
	keyHash := core.HashBytes(key)
	var cur core.Hash
	switch {
	case value != nil:
		leaf := Node{Leaf: &LeafNode{KeyHash: keyHash, Value: value}}
		cur = leaf.Hash()
	case proof.ExclusionLeaf != nil:
		cur = leafNodeHash(proof.ExclusionLeaf.KeyHash, proof.ExclusionLeaf.ValueHash)
	default:
		cur = EmptyRootHash
	}
	if len(proof.Siblings) != len(proof.Depths) {
		return false
	}
	for i := len(proof.Siblings) - 1; i >= 0; i-- {
		bit := bitAt(keyHash, proof.Depths[i])
		left := &ChildRef{Hash: cur}
		right := &ChildRef{Hash: proof.Siblings[i]}
		if bit == 1 {
			left, right = right, left
		}
		internal := Node{Internal: &InternalNode{Left: left, Right: right}}
		cur = internal.Hash()
	}
	return cur == root
}
