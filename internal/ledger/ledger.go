// Package ledger defines the value-ledger collaborator contract: the
// external system of record for fungible balances and authorized transfers.
package ledger

import (
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

var (
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrInvalidAmount         = errors.New("amount must be positive")
)

// Ledger is the collaborator contract consumed by the marketplace. Every
// call is atomic: either both balances move or an error is returned with
// no state change.
type Ledger interface {
	BalanceOf(addr string) decimal.Decimal

	// TransferFrom moves value from `from` to `to` on behalf of `spender`,
	// drawing down the allowance `from` granted to `spender`. Fails on
	// insufficient balance or allowance.
	TransferFrom(spender, from, to string, amount decimal.Decimal) error

	// Transfer moves value out of `from` directly. The marketplace uses it
	// only for funds it holds itself (escrow refunds and payouts) and for
	// reversing its own transfers when an operation must roll back.
	Transfer(from, to string, amount decimal.Decimal) error
}

// Token is an in-memory Ledger used by the reference deployment and the
// tests, with mint/approve semantics matching a plain fungible token.
type Token struct {
	mu         sync.Mutex
	balances   map[string]decimal.Decimal
	allowances map[string]map[string]decimal.Decimal // owner -> spender -> amount
}

func NewToken() *Token {
	return &Token{
		balances:   make(map[string]decimal.Decimal),
		allowances: make(map[string]map[string]decimal.Decimal),
	}
}

var _ Ledger = (*Token)(nil)

func (t *Token) Mint(to string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	t.balances[to] = t.balances[to].Add(amount)
	return nil
}

func (t *Token) BalanceOf(addr string) decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.balances[addr]
}

func (t *Token) Approve(owner, spender string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return ErrInvalidAmount
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.allowances[owner] == nil {
		t.allowances[owner] = make(map[string]decimal.Decimal)
	}
	t.allowances[owner][spender] = amount
	return nil
}

func (t *Token) Allowance(owner, spender string) decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.allowances[owner][spender]
}

func (t *Token) Transfer(from, to string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.move(from, to, amount)
}

func (t *Token) TransferFrom(spender, from, to string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if spender != from {
		allowed := t.allowances[from][spender]
		if allowed.LessThan(amount) {
			return fmt.Errorf("%s allowed %s of %s's funds, need %s: %w",
				spender, allowed, from, amount, ErrInsufficientAllowance)
		}
		if err := t.move(from, to, amount); err != nil {
			return err
		}
		t.allowances[from][spender] = allowed.Sub(amount)
		return nil
	}
	return t.move(from, to, amount)
}

// move requires t.mu held.
func (t *Token) move(from, to string, amount decimal.Decimal) error {
	bal := t.balances[from]
	if bal.LessThan(amount) {
		return fmt.Errorf("%s holds %s, need %s: %w", from, bal, amount, ErrInsufficientBalance)
	}
	t.balances[from] = bal.Sub(amount)
	t.balances[to] = t.balances[to].Add(amount)
	return nil
}
