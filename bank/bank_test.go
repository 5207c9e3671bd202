package bank

import (
	"testing"

	"cwchain/core"
	"cwchain/schema"
	"cwchain/store"
	"cwchain/vm"
)

func newEnv() *vm.Environment {
	return vm.NewEnvironment(store.NewMemBackend(), false, nil, core.Block{}, "test", vm.NewGasMeter(1_000_000))
}

func coin(denom string, amount uint64) core.Coin {
	return core.Coin{Denom: denom, Amount: core.NewUint128FromUint64(amount)}
}

func mustCoins(t *testing.T, coins ...core.Coin) core.Coins {
	t.Helper()
	c, err := core.NewCoins(coins...)
	if err != nil {
		t.Fatalf("building coins: %v", err)
	}
	return c
}

func TestInstantiateSeedsBalancesAndSupply(t *testing.T) {
	env := newEnv()
	alice := core.Address{1}
	bob := core.Address{2}

	msg := InstantiateMsg{InitialBalances: []Balance{
		{Address: alice, Coins: mustCoins(t, coin("atom", 100))},
		{Address: bob, Coins: mustCoins(t, coin("atom", 50))},
	}}
	if _, err := Instantiate(env, msg); err != nil {
		t.Fatalf("instantiate: %v", err)
	}

	got, err := queryBalance(env, alice, "atom")
	if err != nil {
		t.Fatalf("query balance: %v", err)
	}
	if got.Amount.Cmp(core.NewUint128FromUint64(100)) != 0 {
		t.Fatalf("expected alice to hold 100 atom, got %s", got.Amount)
	}

	supply, err := querySupply(env, "atom")
	if err != nil {
		t.Fatalf("query supply: %v", err)
	}
	if supply.Amount.Cmp(core.NewUint128FromUint64(150)) != 0 {
		t.Fatalf("expected total supply 150 atom, got %s", supply.Amount)
	}
}

func TestInstantiateRejectsDuplicateAddress(t *testing.T) {
	env := newEnv()
	addr := core.Address{1}
	msg := InstantiateMsg{InitialBalances: []Balance{
		{Address: addr, Coins: mustCoins(t, coin("atom", 1))},
		{Address: addr, Coins: mustCoins(t, coin("atom", 2))},
	}}
	if _, err := Instantiate(env, msg); err == nil {
		t.Fatal("expected duplicate address to be rejected")
	}
}

func TestTransferMovesBalance(t *testing.T) {
	env := newEnv()
	alice := core.Address{1}
	bob := core.Address{2}
	if _, err := Instantiate(env, InstantiateMsg{InitialBalances: []Balance{
		{Address: alice, Coins: mustCoins(t, coin("atom", 100))},
	}}); err != nil {
		t.Fatalf("instantiate: %v", err)
	}

	_, err := Transfer(env, core.TransferMsg{From: alice, To: bob, Coins: mustCoins(t, coin("atom", 40))})
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}

	aliceBal, _ := queryBalance(env, alice, "atom")
	bobBal, _ := queryBalance(env, bob, "atom")
	if aliceBal.Amount.Cmp(core.NewUint128FromUint64(60)) != 0 {
		t.Fatalf("expected alice left with 60 atom, got %s", aliceBal.Amount)
	}
	if bobBal.Amount.Cmp(core.NewUint128FromUint64(40)) != 0 {
		t.Fatalf("expected bob to hold 40 atom, got %s", bobBal.Amount)
	}
}

func TestTransferInsufficientBalanceFails(t *testing.T) {
	env := newEnv()
	alice := core.Address{1}
	bob := core.Address{2}
	if _, err := Instantiate(env, InstantiateMsg{InitialBalances: []Balance{
		{Address: alice, Coins: mustCoins(t, coin("atom", 10))},
	}}); err != nil {
		t.Fatalf("instantiate: %v", err)
	}
	if _, err := Transfer(env, core.TransferMsg{From: alice, To: bob, Coins: mustCoins(t, coin("atom", 11))}); err == nil {
		t.Fatal("expected transfer beyond balance to fail")
	}
}

func TestReceiveAlwaysRejects(t *testing.T) {
	env := newEnv()
	if _, err := Receive(env); err == nil {
		t.Fatal("expected receive to always reject")
	}
}

// TestMintBurnSymmetry exercises the property that mint then burn of the
// same amount returns both balance and supply to their starting values.
func TestMintBurnSymmetry(t *testing.T) {
	env := newEnv()
	to := core.Address{7}
	amount := core.NewUint128FromUint64(250)

	if _, err := Execute(env, ExecuteMsg{Mint: &MintMsg{To: to, Denom: "atom", Amount: amount}}); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := Execute(env, ExecuteMsg{Burn: &BurnMsg{From: to, Denom: "atom", Amount: amount}}); err != nil {
		t.Fatalf("burn: %v", err)
	}

	bal, err := queryBalance(env, to, "atom")
	if err != nil {
		t.Fatalf("query balance: %v", err)
	}
	if !bal.Amount.IsZero() {
		t.Fatalf("expected zero balance after mint/burn symmetry, got %s", bal.Amount)
	}
	supply, err := querySupply(env, "atom")
	if err != nil {
		t.Fatalf("query supply: %v", err)
	}
	if !supply.Amount.IsZero() {
		t.Fatalf("expected zero supply after mint/burn symmetry, got %s", supply.Amount)
	}

	// zero-value garbage collection: neither key should remain stored at all.
	balKey := schema.Pair2[schema.AddressKey, schema.StringKey]{
		First:  schema.AddressKey(to),
		Second: schema.StringKey("atom"),
	}
	if _, ok, _ := balances.MayLoad(env.Store, balKey); ok {
		t.Fatal("expected zero balance to be removed from storage, not merely zeroed")
	}
	if _, ok, _ := supplies.MayLoad(env.Store, schema.StringKey("atom")); ok {
		t.Fatal("expected zero supply to be removed from storage, not merely zeroed")
	}
}

func TestQueryBalancesPaginates(t *testing.T) {
	env := newEnv()
	alice := core.Address{9}
	if _, err := Instantiate(env, InstantiateMsg{InitialBalances: []Balance{
		{Address: alice, Coins: mustCoins(t, coin("atom", 1), coin("btc", 2), coin("eth", 3))},
	}}); err != nil {
		t.Fatalf("instantiate: %v", err)
	}

	limit := uint32(2)
	page, err := queryBalances(env, alice, nil, &limit)
	if err != nil {
		t.Fatalf("query balances: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("expected page of 2, got %d", len(page))
	}

	last := page[len(page)-1].Denom
	rest, err := queryBalances(env, alice, &last, &limit)
	if err != nil {
		t.Fatalf("query balances page 2: %v", err)
	}
	if len(rest) != 1 {
		t.Fatalf("expected 1 remaining denom, got %d", len(rest))
	}
}

// TestBalancesSupplyInvariant checks that the sum of every account's
// balance for a denom equals that denom's recorded supply after a mix of
// instantiation, transfers, and mint/burn.
func TestBalancesSupplyInvariant(t *testing.T) {
	env := newEnv()
	alice, bob, carol := core.Address{1}, core.Address{2}, core.Address{3}
	if _, err := Instantiate(env, InstantiateMsg{InitialBalances: []Balance{
		{Address: alice, Coins: mustCoins(t, coin("atom", 1000))},
	}}); err != nil {
		t.Fatalf("instantiate: %v", err)
	}
	if _, err := Transfer(env, core.TransferMsg{From: alice, To: bob, Coins: mustCoins(t, coin("atom", 300))}); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if _, err := Execute(env, ExecuteMsg{Mint: &MintMsg{To: carol, Denom: "atom", Amount: core.NewUint128FromUint64(500)}}); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := Execute(env, ExecuteMsg{Burn: &BurnMsg{From: bob, Denom: "atom", Amount: core.NewUint128FromUint64(100)}}); err != nil {
		t.Fatalf("burn: %v", err)
	}

	aliceBal, _ := queryBalance(env, alice, "atom")
	bobBal, _ := queryBalance(env, bob, "atom")
	carolBal, _ := queryBalance(env, carol, "atom")
	total := aliceBal.Amount
	for _, b := range []core.Uint128{bobBal.Amount, carolBal.Amount} {
		sum, err := total.CheckedAdd(b)
		if err != nil {
			t.Fatalf("summing balances: %v", err)
		}
		total = sum
	}

	supply, _ := querySupply(env, "atom")
	if total.Cmp(supply.Amount) != 0 {
		t.Fatalf("balances sum %s does not match supply %s", total, supply.Amount)
	}
}
