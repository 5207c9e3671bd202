package core

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// DefaultQueryLimit is the page size every paginated query variant falls
// back to when the caller omits limit (§4.7).
const DefaultQueryLimit = 30

// QueryRequest is the tagged union query_chain accepts.
type QueryRequest struct {
	Info      *QueryInfo      `json:"info,omitempty"`
	Codes     *QueryCodes     `json:"codes,omitempty"`
	Accounts  *QueryAccounts  `json:"accounts,omitempty"`
	Code      *QueryCode      `json:"code,omitempty"`
	Account   *QueryAccount   `json:"account,omitempty"`
	WasmRaw   *QueryWasmRaw   `json:"wasm_raw,omitempty"`
	WasmSmart *QueryWasmSmart `json:"wasm_smart,omitempty"`
	Balance   *QueryBalance   `json:"balance,omitempty"`
	Balances  *QueryBalances  `json:"balances,omitempty"`
	Supply    *QuerySupply    `json:"supply,omitempty"`
	Supplies  *QuerySupplies  `json:"supplies,omitempty"`
}

type QueryInfo struct{}

type QueryCodes struct {
	StartAfter *Hash   `json:"start_after,omitempty"`
	Limit      *uint32 `json:"limit,omitempty"`
}

type QueryAccounts struct {
	StartAfter *Address `json:"start_after,omitempty"`
	Limit      *uint32  `json:"limit,omitempty"`
}

type QueryCode struct {
	Hash Hash `json:"hash"`
}

type QueryAccount struct {
	Addr Address `json:"addr"`
}

type QueryWasmRaw struct {
	Contract Address `json:"contract"`
	Key      []byte  `json:"key"`
}

type QueryWasmSmart struct {
	Contract Address         `json:"contract"`
	Msg      json.RawMessage `json:"msg"`
}

type QueryBalance struct {
	Addr  Address `json:"addr"`
	Denom string  `json:"denom"`
}

type QueryBalances struct {
	Addr       Address `json:"addr"`
	StartAfter *string `json:"start_after,omitempty"`
	Limit      *uint32 `json:"limit,omitempty"`
}

type QuerySupply struct {
	Denom string `json:"denom"`
}

type QuerySupplies struct {
	StartAfter *string `json:"start_after,omitempty"`
	Limit      *uint32 `json:"limit,omitempty"`
}

func (q QueryRequest) variants() []bool {
	return []bool{
		q.Info != nil, q.Codes != nil, q.Accounts != nil, q.Code != nil,
		q.Account != nil, q.WasmRaw != nil, q.WasmSmart != nil,
		q.Balance != nil, q.Balances != nil, q.Supply != nil, q.Supplies != nil,
	}
}

func (q QueryRequest) Variant() string {
	names := []string{"info", "codes", "accounts", "code", "account", "wasm_raw",
		"wasm_smart", "balance", "balances", "supply", "supplies"}
	for i, ok := range q.variants() {
		if ok {
			return names[i]
		}
	}
	return "unknown"
}

func (q QueryRequest) validate() error {
	set := 0
	for _, ok := range q.variants() {
		if ok {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("query request must set exactly one variant, found %d", set)
	}
	return nil
}

func (q QueryRequest) MarshalJSON() ([]byte, error) {
	if err := q.validate(); err != nil {
		return nil, err
	}
	type alias QueryRequest
	return json.Marshal(alias(q))
}

func (q *QueryRequest) UnmarshalJSON(data []byte) error {
	type alias QueryRequest
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var a alias
	if err := dec.Decode(&a); err != nil {
		return fmt.Errorf("decode QueryRequest: %w", err)
	}
	*q = QueryRequest(a)
	return q.validate()
}

// PageLimit normalizes a caller-supplied *uint32 limit to DefaultQueryLimit
// when nil, per §4.7.
func PageLimit(limit *uint32) int {
	if limit == nil {
		return DefaultQueryLimit
	}
	return int(*limit)
}

// QueryResponse is the tagged union query_chain returns, one variant per
// QueryRequest shape.
type QueryResponse struct {
	Info      *ChainInfo      `json:"info,omitempty"`
	Codes     []Hash          `json:"codes,omitempty"`
	Accounts  []Address       `json:"accounts,omitempty"`
	Code      []byte          `json:"code,omitempty"`
	Account   *Account        `json:"account,omitempty"`
	WasmRaw   []byte          `json:"wasm_raw,omitempty"`
	WasmSmart json.RawMessage `json:"wasm_smart,omitempty"`
	Balance   *Coin           `json:"balance,omitempty"`
	Balances  []Coin          `json:"balances,omitempty"`
	Supply    *Coin           `json:"supply,omitempty"`
	Supplies  []Coin          `json:"supplies,omitempty"`
}

// ChainInfo answers the Info query variant.
type ChainInfo struct {
	ChainID string `json:"chain_id"`
	Config  Config `json:"config"`
	Block   Block  `json:"block"`
}

// BankQuery is the tagged union the bank contract's query_bank export
// accepts. It is re-entered in read-only mode by the Balance/Supply query
// router variants (§4.7).
type BankQuery struct {
	Balance   *QueryBalance  `json:"balance,omitempty"`
	Balances  *QueryBalances `json:"balances,omitempty"`
	Supply    *QuerySupply   `json:"supply,omitempty"`
	Supplies  *QuerySupplies `json:"supplies,omitempty"`
}

func (q BankQuery) variants() []bool {
	return []bool{q.Balance != nil, q.Balances != nil, q.Supply != nil, q.Supplies != nil}
}

func (q BankQuery) validate() error {
	set := 0
	for _, ok := range q.variants() {
		if ok {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("bank query must set exactly one variant, found %d", set)
	}
	return nil
}

func (q BankQuery) MarshalJSON() ([]byte, error) {
	if err := q.validate(); err != nil {
		return nil, err
	}
	type alias BankQuery
	return json.Marshal(alias(q))
}

func (q *BankQuery) UnmarshalJSON(data []byte) error {
	type alias BankQuery
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var a alias
	if err := dec.Decode(&a); err != nil {
		return fmt.Errorf("decode BankQuery: %w", err)
	}
	*q = BankQuery(a)
	return q.validate()
}

// BankQueryResponse is the tagged union query_bank returns. Per the
// reference contract's documented invariant, a BankQuery::Balance request
// must answer with BankQueryResponse::Balance and no other variant.
// Neither this type nor the pipeline checks it: app's queryBank copies
// every variant field onto the QueryResponse as returned.
type BankQueryResponse struct {
	Balance  *Coin  `json:"balance,omitempty"`
	Balances []Coin `json:"balances,omitempty"`
	Supply   *Coin  `json:"supply,omitempty"`
	Supplies []Coin `json:"supplies,omitempty"`
}

func (r BankQueryResponse) variants() []bool {
	return []bool{r.Balance != nil, r.Balances != nil, r.Supply != nil, r.Supplies != nil}
}

func (r BankQueryResponse) Variant() string {
	names := []string{"balance", "balances", "supply", "supplies"}
	for i, ok := range r.variants() {
		if ok {
			return names[i]
		}
	}
	return "unknown"
}
