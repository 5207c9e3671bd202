// Package bank implements the chain's designated bank contract (§4.8): the
// one contract every transfer funds through, holding every account's
// per-denom balance and each denom's total supply. It is an ordinary
// contract from the pipeline's point of view — no privileged code path
// treats it specially beyond the chain config naming its address — so it
// is expressed the same way any other native contract would be: a set of
// pure functions over a vm.Environment, wired up as vm.EntryFuncs.
package bank

import (
	"encoding/json"
	"fmt"

	"cwchain/core"
	"cwchain/schema"
	"cwchain/store"
	"cwchain/vm"
)

// DefaultPageLimit bounds how many balances/supplies a single query page
// returns when the caller omits limit.
const DefaultPageLimit = 30

var (
	balances = schema.NewMap[schema.Pair2[schema.AddressKey, schema.StringKey], core.Uint128]("b")
	supplies = schema.NewMap[schema.StringKey, core.Uint128]("s")
)

// InstantiateMsg seeds the bank's balances and supplies at genesis.
type InstantiateMsg struct {
	InitialBalances []Balance `json:"initial_balances"`
}

// Balance is one account's starting holdings.
type Balance struct {
	Address core.Address `json:"address"`
	Coins   core.Coins   `json:"coins"`
}

// ExecuteMsg is the tagged union the bank's execute export accepts.
// Minting and burning are deliberately unauthenticated (§9 Open Question
// 1): any sender may mint or burn any denom to or from any account. A real
// deployment would gate this behind an admin check; this reference bank
// does not, matching the contract it is grounded on.
type ExecuteMsg struct {
	Mint *MintMsg `json:"mint,omitempty"`
	Burn *BurnMsg `json:"burn,omitempty"`
}

type MintMsg struct {
	To     core.Address  `json:"to"`
	Denom  string        `json:"denom"`
	Amount core.Uint128  `json:"amount"`
}

type BurnMsg struct {
	From   core.Address `json:"from"`
	Denom  string       `json:"denom"`
	Amount core.Uint128 `json:"amount"`
}

func (m ExecuteMsg) validate() error {
	set := 0
	for _, ok := range []bool{m.Mint != nil, m.Burn != nil} {
		if ok {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("bank: execute message must set exactly one variant, found %d", set)
	}
	return nil
}

func (m ExecuteMsg) MarshalJSON() ([]byte, error) {
	if err := m.validate(); err != nil {
		return nil, err
	}
	type alias ExecuteMsg
	return json.Marshal(alias(m))
}

func (m *ExecuteMsg) UnmarshalJSON(data []byte) error {
	type alias ExecuteMsg
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return fmt.Errorf("bank: decode execute message: %w", err)
	}
	*m = ExecuteMsg(a)
	return m.validate()
}

// Instantiate seeds balances/supplies from msg, rejecting a duplicate
// address in the initial balance list (matching the reference contract's
// own check) — duplicate denoms within one address's coin list cannot
// occur since core.Coins itself forbids them.
func Instantiate(env *vm.Environment, msg InstantiateMsg) (core.Response, error) {
	seen := map[core.Address]bool{}
	for _, bal := range msg.InitialBalances {
		if seen[bal.Address] {
			return core.Response{}, fmt.Errorf("bank: duplicate address %s in initial balances", bal.Address)
		}
		seen[bal.Address] = true
		for _, coin := range bal.Coins.ToSlice() {
			if err := setBalance(env, bal.Address, coin.Denom, coin.Amount); err != nil {
				return core.Response{}, err
			}
			if err := increaseSupply(env, coin.Denom, coin.Amount); err != nil {
				return core.Response{}, err
			}
		}
	}
	return core.NewResponse(), nil
}

func setBalance(env *vm.Environment, addr core.Address, denom string, amount core.Uint128) error {
	key := schema.Pair2[schema.AddressKey, schema.StringKey]{
		First:  schema.AddressKey(addr),
		Second: schema.StringKey(denom),
	}
	return balances.Save(env.Store, key, amount)
}

// Execute dispatches the bank's mint/burn execute entry point.
func Execute(env *vm.Environment, msg ExecuteMsg) (core.Response, error) {
	switch {
	case msg.Mint != nil:
		return mint(env, msg.Mint.To, msg.Mint.Denom, msg.Mint.Amount)
	case msg.Burn != nil:
		return burn(env, msg.Burn.From, msg.Burn.Denom, msg.Burn.Amount)
	default:
		return core.Response{}, fmt.Errorf("bank: execute message has no variant set")
	}
}

func mint(env *vm.Environment, to core.Address, denom string, amount core.Uint128) (core.Response, error) {
	if err := increaseSupply(env, denom, amount); err != nil {
		return core.Response{}, err
	}
	if err := increaseBalance(env, to, denom, amount); err != nil {
		return core.Response{}, err
	}
	return core.NewResponse().
		WithAttribute("method", "mint").
		WithAttribute("to", to.String()).
		WithAttribute("denom", denom).
		WithAttribute("amount", amount.String()), nil
}

func burn(env *vm.Environment, from core.Address, denom string, amount core.Uint128) (core.Response, error) {
	if err := decreaseSupply(env, denom, amount); err != nil {
		return core.Response{}, err
	}
	if err := decreaseBalance(env, from, denom, amount); err != nil {
		return core.Response{}, err
	}
	return core.NewResponse().
		WithAttribute("method", "burn").
		WithAttribute("from", from.String()).
		WithAttribute("denom", denom).
		WithAttribute("amount", amount.String()), nil
}

// Transfer implements the bank hook's transfer export: every coin in
// msg.Coins moves from msg.From's balance to msg.To's, denom by denom,
// failing (and so aborting the whole transfer) the moment any debit would
// underflow.
func Transfer(env *vm.Environment, msg core.TransferMsg) (core.Response, error) {
	for _, coin := range msg.Coins.ToSlice() {
		if err := decreaseBalance(env, msg.From, coin.Denom, coin.Amount); err != nil {
			return core.Response{}, err
		}
		if err := increaseBalance(env, msg.To, coin.Denom, coin.Amount); err != nil {
			return core.Response{}, err
		}
	}
	return core.NewResponse().
		WithAttribute("method", "send").
		WithAttribute("from", msg.From.String()).
		WithAttribute("to", msg.To.String()).
		WithAttribute("coins", msg.Coins.String()), nil
}

// Receive rejects every transfer sent to the bank's own address: the bank
// is a ledger, not a holder of its own denomination.
func Receive(env *vm.Environment) (core.Response, error) {
	return core.Response{}, fmt.Errorf("bank: do not send funds to this contract")
}

// QueryBank answers the bank's read-only query export. Per the reference
// contract's documented invariant, the response variant set must match the
// request variant exactly.
func QueryBank(env *vm.Environment, msg core.BankQuery) (core.BankQueryResponse, error) {
	switch {
	case msg.Balance != nil:
		coin, err := queryBalance(env, msg.Balance.Addr, msg.Balance.Denom)
		if err != nil {
			return core.BankQueryResponse{}, err
		}
		return core.BankQueryResponse{Balance: &coin}, nil
	case msg.Balances != nil:
		coins, err := queryBalances(env, msg.Balances.Addr, msg.Balances.StartAfter, msg.Balances.Limit)
		if err != nil {
			return core.BankQueryResponse{}, err
		}
		return core.BankQueryResponse{Balances: coins}, nil
	case msg.Supply != nil:
		coin, err := querySupply(env, msg.Supply.Denom)
		if err != nil {
			return core.BankQueryResponse{}, err
		}
		return core.BankQueryResponse{Supply: &coin}, nil
	case msg.Supplies != nil:
		coins, err := querySupplies(env, msg.Supplies.StartAfter, msg.Supplies.Limit)
		if err != nil {
			return core.BankQueryResponse{}, err
		}
		return core.BankQueryResponse{Supplies: coins}, nil
	default:
		return core.BankQueryResponse{}, fmt.Errorf("bank: query has no variant set")
	}
}

func queryBalance(env *vm.Environment, addr core.Address, denom string) (core.Coin, error) {
	key := schema.Pair2[schema.AddressKey, schema.StringKey]{
		First:  schema.AddressKey(addr),
		Second: schema.StringKey(denom),
	}
	amount, ok, err := balances.MayLoad(env.Store, key)
	if err != nil {
		return core.Coin{}, &core.BackendError{Op: "load balance", Cause: err}
	}
	if !ok {
		amount = core.Uint128{}
	}
	return core.Coin{Denom: denom, Amount: amount}, nil
}

// queryBalances scans only the sub-range of the balances map belonging to
// addr (its denom components), since Map has no native concept of a
// partial-key prefix scan: the address component is folded into the scan
// bounds by hand instead of going through schema.Range, which only knows
// how to scan a whole Map's namespace.
func queryBalances(env *vm.Environment, addr core.Address, startAfter *string, limit *uint32) ([]core.Coin, error) {
	subPrefix := append(append([]byte{}, balances.Prefix()...), schema.AddressKey(addr).Encode()...)
	min := append([]byte{}, subPrefix...)
	if startAfter != nil {
		min = append(min, schema.StringKey(*startAfter).Encode()...)
	}
	max := upperBound(subPrefix)

	it := env.Store.Scan(min, max, store.Ascending)
	defer it.Close()

	out := make([]core.Coin, 0, pageLimit(limit))
	skipFirst := startAfter != nil
	for it.Valid() && len(out) < pageLimit(limit) {
		p := it.Pair()
		if skipFirst {
			skipFirst = false
			if len(p.Key) >= len(min) && string(p.Key[:len(min)]) == string(min) {
				it.Next()
				continue
			}
		}
		denom := decodeStringComponent(p.Key[len(subPrefix):])
		var amount core.Uint128
		if err := json.Unmarshal(p.Value, &amount); err != nil {
			return nil, fmt.Errorf("bank: decode balance: %w", err)
		}
		out = append(out, core.Coin{Denom: denom, Amount: amount})
		it.Next()
	}
	return out, nil
}

// upperBound returns the smallest key not prefixed by prefix, or nil if no
// such finite key exists.
func upperBound(prefix []byte) []byte {
	out := append([]byte{}, prefix...)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] != 0xff {
			out[i]++
			return out[:i+1]
		}
	}
	return nil
}

// decodeStringComponent decodes a single length-prefixed component (as
// produced by schema.EncodeComponent) back into its string value.
func decodeStringComponent(raw []byte) string {
	if len(raw) < 2 {
		return ""
	}
	n := int(raw[0])<<8 | int(raw[1])
	if 2+n > len(raw) {
		return ""
	}
	return string(raw[2 : 2+n])
}

func querySupply(env *vm.Environment, denom string) (core.Coin, error) {
	amount, ok, err := supplies.MayLoad(env.Store, schema.StringKey(denom))
	if err != nil {
		return core.Coin{}, &core.BackendError{Op: "load supply", Cause: err}
	}
	if !ok {
		amount = core.Uint128{}
	}
	return core.Coin{Denom: denom, Amount: amount}, nil
}

func querySupplies(env *vm.Environment, startAfter *string, limit *uint32) ([]core.Coin, error) {
	var startKey []byte
	if startAfter != nil {
		startKey = schema.StringKey(*startAfter).Encode()
	}
	entries, err := schema.Range(env.Store, supplies, startKey, pageLimit(limit), store.Ascending)
	if err != nil {
		return nil, &core.BackendError{Op: "scan supplies", Cause: err}
	}
	out := make([]core.Coin, 0, len(entries))
	for _, e := range entries {
		denom := decodeStringComponent(e.RawKey)
		out = append(out, core.Coin{Denom: denom, Amount: e.Value})
	}
	return out, nil
}

func increaseSupply(env *vm.Environment, denom string, by core.Uint128) error {
	var opErr error
	err := supplies.Update(env.Store, schema.StringKey(denom), func(cur core.Uint128, present bool) (core.Uint128, bool) {
		next, addErr := cur.CheckedAdd(by)
		if addErr != nil {
			opErr = addErr
			return cur, present
		}
		return next, true
	})
	if opErr != nil {
		return opErr
	}
	return err
}

func decreaseSupply(env *vm.Environment, denom string, by core.Uint128) error {
	var opErr error
	err := supplies.Update(env.Store, schema.StringKey(denom), func(cur core.Uint128, present bool) (core.Uint128, bool) {
		next, err := cur.CheckedSub(by)
		if err != nil {
			opErr = err
			return cur, present
		}
		return next, !next.IsZero()
	})
	if opErr != nil {
		return opErr
	}
	return err
}

func increaseBalance(env *vm.Environment, addr core.Address, denom string, by core.Uint128) error {
	key := schema.Pair2[schema.AddressKey, schema.StringKey]{
		First:  schema.AddressKey(addr),
		Second: schema.StringKey(denom),
	}
	var opErr error
	err := balances.Update(env.Store, key, func(cur core.Uint128, present bool) (core.Uint128, bool) {
		next, addErr := cur.CheckedAdd(by)
		if addErr != nil {
			opErr = addErr
			return cur, present
		}
		return next, true
	})
	if opErr != nil {
		return opErr
	}
	return err
}

func decreaseBalance(env *vm.Environment, addr core.Address, denom string, by core.Uint128) error {
	key := schema.Pair2[schema.AddressKey, schema.StringKey]{
		First:  schema.AddressKey(addr),
		Second: schema.StringKey(denom),
	}
	var opErr error
	err := balances.Update(env.Store, key, func(cur core.Uint128, present bool) (core.Uint128, bool) {
		next, err := cur.CheckedSub(by)
		if err != nil {
			opErr = fmt.Errorf("bank: insufficient balance of %s held by %s: %w", denom, addr, err)
			return cur, present
		}
		return next, !next.IsZero()
	})
	if opErr != nil {
		return opErr
	}
	return err
}

func pageLimit(limit *uint32) int {
	if limit == nil {
		return DefaultPageLimit
	}
	return int(*limit)
}

// NativeEntryFuncs wires this package's pure functions into the host
// entry-point dispatch shape the pipeline's native VM tier expects,
// json-decoding each entry point's msg payload and encoding its response.
func NativeEntryFuncs() vm.EntryFuncs {
	return vm.EntryFuncs{
		Instantiate: func(ctx core.Context, msg []byte, env *vm.Environment) (core.Response, error) {
			var m InstantiateMsg
			if err := json.Unmarshal(msg, &m); err != nil {
				return core.Response{}, fmt.Errorf("bank: decode instantiate message: %w", err)
			}
			return Instantiate(env, m)
		},
		Execute: func(ctx core.Context, msg []byte, env *vm.Environment) (core.Response, error) {
			var m ExecuteMsg
			if err := json.Unmarshal(msg, &m); err != nil {
				return core.Response{}, fmt.Errorf("bank: decode execute message: %w", err)
			}
			return Execute(env, m)
		},
		Receive: func(ctx core.Context, env *vm.Environment) (core.Response, error) {
			return Receive(env)
		},
		Transfer: func(ctx core.Context, msg core.TransferMsg, env *vm.Environment) (core.Response, error) {
			return Transfer(env, msg)
		},
		QueryBank: func(ctx core.Context, msg core.BankQuery, env *vm.Environment) (core.BankQueryResponse, error) {
			return QueryBank(env, msg)
		},
	}
}
