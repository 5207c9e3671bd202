package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sort"
)

// Uint128 is an unsigned 128-bit integer, wide enough for any token amount
// this chain deals with. It is backed by math/big but never allowed to hold
// a negative value or to exceed 128 bits; every constructor and arithmetic
// method enforces both bounds.
type Uint128 struct {
	i big.Int
}

var uint128Max = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))

// NewUint128FromUint64 builds a Uint128 from a plain uint64.
func NewUint128FromUint64(v uint64) Uint128 {
	var u Uint128
	u.i.SetUint64(v)
	return u
}

// ParseUint128 parses a base-10 string into a Uint128.
func ParseUint128(s string) (Uint128, error) {
	var u Uint128
	bi, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return Uint128{}, fmt.Errorf("invalid uint128 literal %q", s)
	}
	if bi.Sign() < 0 || bi.Cmp(uint128Max) > 0 {
		return Uint128{}, fmt.Errorf("uint128 literal %q out of range", s)
	}
	u.i = *bi
	return u, nil
}

func (u Uint128) String() string { return u.i.String() }

func (u Uint128) IsZero() bool { return u.i.Sign() == 0 }

// Cmp compares u and v the way big.Int.Cmp does.
func (u Uint128) Cmp(v Uint128) int { return u.i.Cmp(&v.i) }

// CheckedAdd returns u+v, failing if the result would overflow 128 bits.
func (u Uint128) CheckedAdd(v Uint128) (Uint128, error) {
	sum := new(big.Int).Add(&u.i, &v.i)
	if sum.Cmp(uint128Max) > 0 {
		return Uint128{}, fmt.Errorf("uint128 overflow: %s + %s", u, v)
	}
	return Uint128{i: *sum}, nil
}

// CheckedSub returns u-v, failing on underflow.
func (u Uint128) CheckedSub(v Uint128) (Uint128, error) {
	diff := new(big.Int).Sub(&u.i, &v.i)
	if diff.Sign() < 0 {
		return Uint128{}, fmt.Errorf("uint128 underflow: %s - %s", u, v)
	}
	return Uint128{i: *diff}, nil
}

func (u Uint128) MarshalJSON() ([]byte, error) {
	return json.Marshal(u.i.String())
}

func (u *Uint128) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseUint128(s)
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}

// Coin is a single (denom, amount) pair.
type Coin struct {
	Denom  string  `json:"denom"`
	Amount Uint128 `json:"amount"`
}

func (c Coin) String() string { return fmt.Sprintf("%s%s", c.Amount, c.Denom) }

// ErrInvalidDenom is returned when a denom fails the non-empty requirement.
var ErrInvalidDenom = errors.New("denom must not be empty")

// Coins is a denom -> amount map honoring §3's invariant: no duplicate
// denoms, no zero amounts. It serializes as a JSON array of Coin sorted by
// denom, matching the canonical (lexicographic) ordering the spec requires.
type Coins struct {
	m map[string]Uint128
}

// NewCoinsEmpty returns an empty Coins value.
func NewCoinsEmpty() Coins {
	return Coins{m: map[string]Uint128{}}
}

// NewCoins builds a Coins value from a list of coins, rejecting duplicate
// denoms and zero amounts.
func NewCoins(coins ...Coin) (Coins, error) {
	c := NewCoinsEmpty()
	for _, coin := range coins {
		if coin.Denom == "" {
			return Coins{}, ErrInvalidDenom
		}
		if coin.Amount.IsZero() {
			return Coins{}, fmt.Errorf("coin %q has zero amount", coin.Denom)
		}
		if _, dup := c.m[coin.Denom]; dup {
			return Coins{}, fmt.Errorf("duplicate denom %q", coin.Denom)
		}
		c.m[coin.Denom] = coin.Amount
	}
	return c, nil
}

func (c Coins) IsEmpty() bool { return len(c.m) == 0 }

// AmountOf returns the amount held of denom, or zero if absent.
func (c Coins) AmountOf(denom string) Uint128 {
	if c.m == nil {
		return Uint128{}
	}
	return c.m[denom]
}

// ToSlice returns the coins as a slice sorted ascending by denom.
func (c Coins) ToSlice() []Coin {
	out := make([]Coin, 0, len(c.m))
	for d, a := range c.m {
		out = append(out, Coin{Denom: d, Amount: a})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Denom < out[j].Denom })
	return out
}

func (c Coins) String() string {
	s := ""
	for i, coin := range c.ToSlice() {
		if i > 0 {
			s += ","
		}
		s += coin.String()
	}
	return s
}

func (c Coins) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.ToSlice())
}

func (c *Coins) UnmarshalJSON(data []byte) error {
	var list []Coin
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	built, err := NewCoins(list...)
	if err != nil {
		return err
	}
	*c = built
	return nil
}
