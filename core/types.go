// Package core holds the data model shared by every other package in this
// module: hashes, addresses, blocks, accounts, the chain config, messages
// exchanged between the pipeline and a contract, and the events the pipeline
// materializes while processing a block.
package core

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

// HashLength is the size in bytes of every Hash and Address in this chain.
const HashLength = 32

// Hash is a fixed-size cryptographic digest. Code hashes, root hashes and
// block hashes are all Hash values.
type Hash [HashLength]byte

// HashBytes returns the SHA-256 digest of b as a Hash.
func HashBytes(b []byte) Hash {
	return Hash(sha256.Sum256(b))
}

func (h Hash) String() string { return hex.EncodeToString(h[:]) }

func (h Hash) IsZero() bool { return h == Hash{} }

func (h Hash) Bytes() []byte { return h[:] }

func (h Hash) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.String())
}

func (h *Hash) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	return h.setFromHex(s)
}

func (h *Hash) setFromHex(s string) error {
	b, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("decode hash %q: %w", s, err)
	}
	if len(b) != HashLength {
		return fmt.Errorf("decode hash %q: expected %d bytes, got %d", s, HashLength, len(b))
	}
	copy(h[:], b)
	return nil
}

// HashFromHex parses a hex-encoded 32-byte hash.
func HashFromHex(s string) (Hash, error) {
	var h Hash
	err := h.setFromHex(s)
	return h, err
}

// Address is an opaque, fixed-size identifier derived deterministically from
// (sender, code hash, salt) — see Derive. Its canonical string form is plain
// lowercase hex (no bech32 prefix; the consensus driver and CLI, both out of
// scope here, are free to layer a human-readable encoding on top).
type Address [HashLength]byte

func (a Address) String() string { return hex.EncodeToString(a[:]) }

func (a Address) IsZero() bool { return a == Address{} }

func (a Address) Bytes() []byte { return a[:] }

func (a Address) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

func (a *Address) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("decode address %q: %w", s, err)
	}
	if len(b) != HashLength {
		return fmt.Errorf("decode address %q: expected %d bytes, got %d", s, HashLength, len(b))
	}
	copy(a[:], b)
	return nil
}

// GenesisSender is the reserved all-zero sender address used for every
// message applied during genesis (§6).
var GenesisSender = Address{}

// Derive computes a contract address deterministically from the instantiating
// sender, the code hash being instantiated, and a caller-chosen salt. Per
// testable property 4, Derive depends only on its inputs: two calls with the
// same (sender, codeHash, salt) always produce the same address, and
// distinct inputs are collision-resistant to the extent SHA-256 is.
func Derive(sender Address, codeHash Hash, salt []byte) Address {
	buf := make([]byte, 0, HashLength+HashLength+len(salt))
	buf = append(buf, sender[:]...)
	buf = append(buf, codeHash[:]...)
	buf = append(buf, salt...)
	return Address(sha256.Sum256(buf))
}

// Block is the immutable context of one state transition.
type Block struct {
	Height    uint64 `json:"height"`
	Timestamp int64  `json:"timestamp"`
	Hash      Hash   `json:"hash"`
}

// Account is the per-address record created at instantiate and mutated only
// by migrate.
type Account struct {
	CodeHash Hash     `json:"code_hash"`
	Admin    *Address `json:"admin,omitempty"`
}

// Config is the chain-wide singleton.
type Config struct {
	Owner *Address `json:"owner,omitempty"`
	Bank  Address  `json:"bank"`
}

// Context is passed into every contract entry point. It mirrors the Rust
// reference implementation's cw_std::Context exactly (see SPEC_FULL.md).
type Context struct {
	ChainID        string        `json:"chain_id"`
	BlockHeight    uint64        `json:"block_height"`
	BlockTimestamp int64         `json:"block_timestamp"`
	BlockHash      Hash          `json:"block_hash"`
	Contract       Address       `json:"contract"`
	Sender         *Address      `json:"sender,omitempty"`
	Funds          *Coins        `json:"funds,omitempty"`
	Simulate       *bool         `json:"simulate,omitempty"`
	SubMsgResult   *SubMsgResult `json:"submsg_result,omitempty"`
}

// Tx is the per-transaction authentication hook input for before_tx.
type Tx struct {
	Sender Address         `json:"sender"`
	Msgs   []Message       `json:"msgs"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Event is a host-materialized record of one state-changing operation.
type Event struct {
	Kind       string      `json:"kind"`
	Address    Address     `json:"address"`
	Attributes []Attribute `json:"attributes"`
}

// Attribute is a single (key, value) pair carried by a Response or Event.
type Attribute struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func NewAttribute(key string, value fmt.Stringer) Attribute {
	return Attribute{Key: key, Value: value.String()}
}

func NewAttributeString(key, value string) Attribute {
	return Attribute{Key: key, Value: value}
}

// ErrNotFound is returned by stores and schema types when a key is absent
// and the caller asked for a strict load.
var ErrNotFound = errors.New("not found")
