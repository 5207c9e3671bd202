package merkle

import (
	"bytes"
	"testing"

	"cwchain/core"
)

func TestNodeKeyRoundTrip(t *testing.T) {
	h := core.HashBytes([]byte("hello"))
	nk := NodeKey{Version: 7, Bits: bitsPrefix(h, 13)}
	encoded := nk.Serialize()
	if len(encoded) != nodeKeyLenBitCount+2 {
		t.Fatalf("expected %d bytes for 13 bits, got %d", nodeKeyLenBitCount+2, len(encoded))
	}
	decoded, err := DeserializeNodeKey(encoded)
	if err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	if decoded.Version != nk.Version || decoded.Bits.NumBits != nk.Bits.NumBits {
		t.Fatalf("round trip mismatch: %+v vs %+v", decoded, nk)
	}
	if !bytes.Equal(decoded.Bits.Bytes[:2], nk.Bits.Bytes[:2]) {
		t.Fatalf("bit bytes mismatch")
	}
}

func TestNodeKeyRootHasZeroBits(t *testing.T) {
	nk := NodeKey{Version: 1, Bits: BitArray{}}
	encoded := nk.Serialize()
	if len(encoded) != nodeKeyLenBitCount {
		t.Fatalf("expected exactly %d bytes for the root key, got %d", nodeKeyLenBitCount, len(encoded))
	}
}

func TestDeserializeNodeKeyRejectsBadLength(t *testing.T) {
	if _, err := DeserializeNodeKey([]byte{1, 2, 3}); err == nil {
		t.Fatalf("expected error for too-short slice")
	}
	tooLong := make([]byte, nodeKeyLenBitCount+33)
	if _, err := DeserializeNodeKey(tooLong); err == nil {
		t.Fatalf("expected error for too-long slice")
	}
}

func TestBitsPrefixMasksTrailingBits(t *testing.T) {
	var h core.Hash
	h[0] = 0b11111111
	a := bitsPrefix(h, 4)
	b := bitsPrefix(h, 4)
	if a.Bytes[0] != b.Bytes[0] {
		t.Fatalf("expected deterministic masking")
	}
	if a.Bytes[0]&0x0f != 0 {
		t.Fatalf("expected trailing 4 bits zeroed, got %08b", a.Bytes[0])
	}
}
