package vm

import (
	stdecdsa "crypto/ecdsa"
	"crypto/elliptic"
	"math/big"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

// Secp256k1Verify implements the secp256k1_verify host import: msgHash is a
// 32-byte digest, sig is a 64-byte compact (r ∥ s) signature, pubkey is a
// compressed or uncompressed SEC1 public key.
func Secp256k1Verify(msgHash, sig, pubkey []byte) (bool, error) {
	if len(sig) != 64 {
		return false, nil
	}
	pub, err := secp256k1.ParsePubKey(pubkey)
	if err != nil {
		return false, nil
	}
	var r, s secp256k1.ModNScalar
	if r.SetByteSlice(sig[:32]); r.IsZero() {
		return false, nil
	}
	if s.SetByteSlice(sig[32:]); s.IsZero() {
		return false, nil
	}
	signature := ecdsa.NewSignature(&r, &s)
	return signature.Verify(msgHash, pub), nil
}

// Secp256r1Verify implements the secp256r1_verify host import against the
// NIST P-256 curve. No example in the retrieval pack ships a standalone
// P-256 verifier, so this uses the standard library's crypto/ecdsa +
// crypto/elliptic directly (see DESIGN.md).
func Secp256r1Verify(msgHash, sig, pubkey []byte) (bool, error) {
	if len(sig) != 64 {
		return false, nil
	}
	curve := elliptic.P256()
	x, y := elliptic.UnmarshalCompressed(curve, pubkey)
	if x == nil {
		x, y = elliptic.Unmarshal(curve, pubkey)
		if x == nil {
			return false, nil
		}
	}
	pub := &stdecdsa.PublicKey{Curve: curve, X: x, Y: y}
	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:])
	return stdecdsa.Verify(pub, msgHash, r, s), nil
}
