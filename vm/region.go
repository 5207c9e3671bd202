// Package vm implements the host side of the contract ABI: guest memory
// marshalling, the db_*/debug/query_chain/secp256k1_verify/secp256r1_verify
// host imports, and two Instance implementations — a wasmer-go-backed one
// for real bytecode and a native one for tests and the bank contract's fast
// path.
package vm

import "encoding/binary"

// RegionSize is the encoded size of a Region descriptor in guest memory.
const RegionSize = 12

// Region describes a span of a guest's linear memory: offset and capacity
// are fixed at allocation time, length is how much of it is actually in
// use. It is the unit every db_*/debug/query_chain import and every
// contract entry point exchanges pointers to.
type Region struct {
	Offset   uint32
	Capacity uint32
	Length   uint32
}

// Encode lays a Region out exactly as the guest's allocator does: three
// little-endian u32 fields, offset first.
func (r Region) Encode() [RegionSize]byte {
	var out [RegionSize]byte
	binary.LittleEndian.PutUint32(out[0:4], r.Offset)
	binary.LittleEndian.PutUint32(out[4:8], r.Capacity)
	binary.LittleEndian.PutUint32(out[8:12], r.Length)
	return out
}

// DecodeRegion reads a Region descriptor from raw guest memory bytes.
func DecodeRegion(b []byte) Region {
	return Region{
		Offset:   binary.LittleEndian.Uint32(b[0:4]),
		Capacity: binary.LittleEndian.Uint32(b[4:8]),
		Length:   binary.LittleEndian.Uint32(b[8:12]),
	}
}

// SplitRecordTail splits a db_next record into (key, value). The record
// layout is key_bytes ∥ value_bytes ∥ u16be(key_len): the key length lives
// in the last two bytes so the host can split the record without an extra
// allocation pass.
func SplitRecordTail(record []byte) (key, value []byte, ok bool) {
	if len(record) < 2 {
		return nil, nil, false
	}
	n := len(record)
	keyLen := int(binary.BigEndian.Uint16(record[n-2:]))
	if keyLen > n-2 {
		return nil, nil, false
	}
	return record[:keyLen], record[keyLen : n-2], true
}

// JoinRecordTail is the inverse of SplitRecordTail, used by the host side
// of db_next to build the record it hands to the guest.
func JoinRecordTail(key, value []byte) []byte {
	out := make([]byte, 0, len(key)+len(value)+2)
	out = append(out, key...)
	out = append(out, value...)
	var suffix [2]byte
	binary.BigEndian.PutUint16(suffix[:], uint16(len(key)))
	return append(out, suffix[:]...)
}
