package merkle

import (
	"encoding/binary"
	"fmt"
)

// NodeKey identifies a node's storage slot: the tree version it was
// written at, plus its path (as a bit prefix of some key's hash). Wire
// format, grounded on the reference implementation's NodeKey serialization:
// an 8-byte big-endian version, a 2-byte big-endian bit count, then
// ceil(bits/8) path bytes. A 32-byte hash therefore serializes to between
// 10 and 42 bytes.
type NodeKey struct {
	Version uint64
	Bits    BitArray
}

const (
	nodeKeyLenVersion  = 8
	nodeKeyLenBitCount = nodeKeyLenVersion + 2
)

// Serialize encodes k per the wire format above.
func (k NodeKey) Serialize() []byte {
	numBytes := int((k.Bits.NumBits + 7) / 8)
	out := make([]byte, nodeKeyLenBitCount+numBytes)
	binary.BigEndian.PutUint64(out, k.Version)
	binary.BigEndian.PutUint16(out[nodeKeyLenVersion:], k.Bits.NumBits)
	copy(out[nodeKeyLenBitCount:], k.Bits.Bytes[:numBytes])
	return out
}

// DeserializeNodeKey decodes the wire format Serialize produces, rejecting
// any slice whose length falls outside the valid 10..42-byte range.
func DeserializeNodeKey(data []byte) (NodeKey, error) {
	if len(data) < nodeKeyLenBitCount || len(data) > nodeKeyLenBitCount+32 {
		return NodeKey{}, fmt.Errorf("node key: length must be in [%d, %d], got %d",
			nodeKeyLenBitCount, nodeKeyLenBitCount+32, len(data))
	}
	version := binary.BigEndian.Uint64(data[:nodeKeyLenVersion])
	numBits := binary.BigEndian.Uint16(data[nodeKeyLenVersion:nodeKeyLenBitCount])
	expectBytes := int((numBits + 7) / 8)
	rest := data[nodeKeyLenBitCount:]
	if len(rest) != expectBytes {
		return NodeKey{}, fmt.Errorf("node key: bit count %d implies %d path bytes, got %d",
			numBits, expectBytes, len(rest))
	}
	var bits BitArray
	bits.NumBits = numBits
	copy(bits.Bytes[:expectBytes], rest)
	return NodeKey{Version: version, Bits: bits}, nil
}

func (k NodeKey) cacheKey() string { return string(k.Serialize()) }
