package vm

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/asn1"
	"math/big"
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	dcrecdsa "github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

// derSignature mirrors the ASN.1 SEQUENCE{r,s} that Signature.Serialize
// produces, letting the test extract r and s without depending on any
// accessor beyond the well-known DER serialization.
type derSignature struct {
	R, S *big.Int
}

func compactFromDER(der []byte) [64]byte {
	var sig derSignature
	if _, err := asn1.Unmarshal(der, &sig); err != nil {
		panic(err)
	}
	var compact [64]byte
	sig.R.FillBytes(compact[:32])
	sig.S.FillBytes(compact[32:])
	return compact
}

func TestSecp256k1VerifyValidSignature(t *testing.T) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	msgHash := sha256.Sum256([]byte("hello contract"))
	sig := dcrecdsa.Sign(priv, msgHash[:])
	compact := compactFromDER(sig.Serialize())

	pubkey := priv.PubKey().SerializeCompressed()

	ok, err := Secp256k1Verify(msgHash[:], compact[:], pubkey)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected signature to verify")
	}
}

func TestSecp256k1VerifyRejectsTamperedMessage(t *testing.T) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	msgHash := sha256.Sum256([]byte("hello contract"))
	sig := dcrecdsa.Sign(priv, msgHash[:])
	compact := compactFromDER(sig.Serialize())

	otherHash := sha256.Sum256([]byte("goodbye contract"))
	ok, err := Secp256k1Verify(otherHash[:], compact[:], priv.PubKey().SerializeCompressed())
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected verification to fail for a tampered message")
	}
}

func TestSecp256k1VerifyRejectsMalformedInputGracefully(t *testing.T) {
	ok, err := Secp256k1Verify([]byte("short"), []byte("short"), []byte("short"))
	if err != nil {
		t.Fatalf("expected no error for malformed input, got %v", err)
	}
	if ok {
		t.Fatal("expected ok=false")
	}
}

func TestSecp256r1VerifyValidSignature(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	msgHash := sha256.Sum256([]byte("hello contract"))
	r, s, err := ecdsa.Sign(rand.Reader, priv, msgHash[:])
	if err != nil {
		t.Fatal(err)
	}

	var compact [64]byte
	r.FillBytes(compact[:32])
	s.FillBytes(compact[32:])

	pubkey := elliptic.MarshalCompressed(elliptic.P256(), priv.PublicKey.X, priv.PublicKey.Y)

	ok, err := Secp256r1Verify(msgHash[:], compact[:], pubkey)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected signature to verify")
	}
}

func TestSecp256r1VerifyRejectsWrongKey(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	other, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	msgHash := sha256.Sum256([]byte("hello contract"))
	r, s, err := ecdsa.Sign(rand.Reader, priv, msgHash[:])
	if err != nil {
		t.Fatal(err)
	}
	var compact [64]byte
	r.FillBytes(compact[:32])
	s.FillBytes(compact[32:])

	pubkey := elliptic.MarshalCompressed(elliptic.P256(), other.PublicKey.X, other.PublicKey.Y)
	ok, err := Secp256r1Verify(msgHash[:], compact[:], pubkey)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected verification to fail against the wrong key")
	}
}
