// Package token keeps fungible asset balances in ledger state so that every
// transfer commits or rolls back together with the invocation that made it.
package token

import (
	"github.com/ethereum/go-ethereum/common"

	xerrors "FlowPay-Chain/internal/errors"
	"FlowPay-Chain/internal/ledger"
	"FlowPay-Chain/pkg/amount"
)

const namespace = "token"

// AssetInfo describes a registered asset.
type AssetInfo struct {
	Asset    common.Address `json:"asset"`
	Issuer   common.Address `json:"issuer"`
	Symbol   string         `json:"symbol"`
	Decimals uint8          `json:"decimals"`
	Supply   amount.Amount  `json:"supply"`
}

// Allowance is a spending approval that lapses after ExpirationSequence.
type Allowance struct {
	Amount             amount.Amount `json:"amount"`
	ExpirationSequence uint64        `json:"expiration_sequence"`
}

// Bank is the asset transfer collaborator.
type Bank struct{}

// NewBank returns a Bank.
func NewBank() *Bank { return &Bank{} }

func assetKey(asset common.Address) ledger.Key {
	return ledger.NewKey(namespace, "asset", ledger.AddressPart(asset))
}

func balanceKey(asset, account common.Address) ledger.Key {
	return ledger.NewKey(namespace, "balance", ledger.AddressPart(asset), ledger.AddressPart(account))
}

func allowanceKey(asset, owner, spender common.Address) ledger.Key {
	return ledger.NewKey(namespace, "allowance", ledger.AddressPart(asset), ledger.AddressPart(owner), ledger.AddressPart(spender))
}

// RegisterAsset records asset with its issuer. Each asset can be registered
// once.
func (b *Bank) RegisterAsset(env *ledger.Env, asset, issuer common.Address, symbol string, decimals uint8) error {
	if asset == (common.Address{}) || issuer == (common.Address{}) {
		return xerrors.New(xerrors.CodeInvalidArgument, "asset and issuer are required")
	}
	if err := env.RequireAuth(issuer); err != nil {
		return err
	}
	exists, err := env.Has(assetKey(asset))
	if err != nil {
		return err
	}
	if exists {
		return xerrors.Newf(xerrors.CodeAlreadyInitialized, "asset %s already registered", asset.Hex())
	}
	return env.Set(assetKey(asset), AssetInfo{Asset: asset, Issuer: issuer, Symbol: symbol, Decimals: decimals})
}

// Asset returns the registration of asset.
func (b *Bank) Asset(env *ledger.Env, asset common.Address) (AssetInfo, error) {
	var info AssetInfo
	ok, err := env.Get(assetKey(asset), &info)
	if err != nil {
		return AssetInfo{}, err
	}
	if !ok {
		return AssetInfo{}, xerrors.Newf(xerrors.CodeNotFound, "asset %s not registered", asset.Hex())
	}
	return info, nil
}

// Mint creates amt of asset for to. Only the issuer may mint.
func (b *Bank) Mint(env *ledger.Env, asset, to common.Address, amt amount.Amount) error {
	if !amt.IsPositive() {
		return xerrors.New(xerrors.CodeInvalidArgument, "mint amount must be positive")
	}
	info, err := b.Asset(env, asset)
	if err != nil {
		return err
	}
	if err := env.RequireAuth(info.Issuer); err != nil {
		return err
	}
	supply, err := info.Supply.Add(amt)
	if err != nil {
		return err
	}
	info.Supply = supply
	if err := env.Set(assetKey(asset), info); err != nil {
		return err
	}
	return b.credit(env, asset, to, amt)
}

// Balance returns the holding of account in asset.
func (b *Bank) Balance(env *ledger.Env, asset, account common.Address) (amount.Amount, error) {
	var bal amount.Amount
	if _, err := env.Get(balanceKey(asset, account), &bal); err != nil {
		return amount.Zero, err
	}
	return bal, nil
}

// Transfer moves amt of asset from one account to another. from must have
// authorized the invocation or be the executing contract. A zero amount is a
// no-op.
func (b *Bank) Transfer(env *ledger.Env, asset, from, to common.Address, amt amount.Amount) error {
	if amt.Sign() < 0 {
		return xerrors.New(xerrors.CodeInvalidArgument, "transfer amount must not be negative")
	}
	if err := env.RequireAuth(from); err != nil {
		return err
	}
	return b.move(env, asset, from, to, amt)
}

// Approve lets spender move up to amt of owner's asset until
// expirationSequence.
func (b *Bank) Approve(env *ledger.Env, asset, owner, spender common.Address, amt amount.Amount, expirationSequence uint64) error {
	if amt.Sign() < 0 {
		return xerrors.New(xerrors.CodeInvalidArgument, "allowance must not be negative")
	}
	if amt.IsPositive() && expirationSequence < env.Sequence() {
		return xerrors.Newf(xerrors.CodeInvalidArgument, "expiration %d is in the past", expirationSequence)
	}
	if err := env.RequireAuth(owner); err != nil {
		return err
	}
	if _, err := b.Asset(env, asset); err != nil {
		return err
	}
	if amt.IsZero() {
		return env.Remove(allowanceKey(asset, owner, spender))
	}
	return env.Set(allowanceKey(asset, owner, spender), Allowance{Amount: amt, ExpirationSequence: expirationSequence})
}

// Allowance returns the unexpired amount spender may move for owner.
func (b *Bank) Allowance(env *ledger.Env, asset, owner, spender common.Address) (amount.Amount, error) {
	var allowance Allowance
	ok, err := env.Get(allowanceKey(asset, owner, spender), &allowance)
	if err != nil || !ok {
		return amount.Zero, err
	}
	if allowance.ExpirationSequence < env.Sequence() {
		return amount.Zero, nil
	}
	return allowance.Amount, nil
}

// TransferFrom spends spender's allowance to move amt from one account to
// another.
func (b *Bank) TransferFrom(env *ledger.Env, asset, spender, from, to common.Address, amt amount.Amount) error {
	if !amt.IsPositive() {
		return xerrors.New(xerrors.CodeInvalidArgument, "transfer amount must be positive")
	}
	if err := env.RequireAuth(spender); err != nil {
		return err
	}
	allowed, err := b.Allowance(env, asset, from, spender)
	if err != nil {
		return err
	}
	if allowed.LessThan(amt) {
		return xerrors.Newf(xerrors.CodeInsufficientBalance, "allowance %s below %s", allowed, amt)
	}
	rest, err := allowed.Sub(amt)
	if err != nil {
		return err
	}
	var current Allowance
	if _, err := env.Get(allowanceKey(asset, from, spender), &current); err != nil {
		return err
	}
	current.Amount = rest
	if err := env.Set(allowanceKey(asset, from, spender), current); err != nil {
		return err
	}
	return b.move(env, asset, from, to, amt)
}

func (b *Bank) move(env *ledger.Env, asset, from, to common.Address, amt amount.Amount) error {
	if _, err := b.Asset(env, asset); err != nil {
		return err
	}
	if amt.IsZero() || from == to {
		return nil
	}
	bal, err := b.Balance(env, asset, from)
	if err != nil {
		return err
	}
	if bal.LessThan(amt) {
		return xerrors.Newf(xerrors.CodeInsufficientBalance, "%s holds %s of %s, needs %s", from.Hex(), bal, asset.Hex(), amt)
	}
	rest, err := bal.Sub(amt)
	if err != nil {
		return err
	}
	if err := b.store(env, asset, from, rest); err != nil {
		return err
	}
	return b.credit(env, asset, to, amt)
}

func (b *Bank) credit(env *ledger.Env, asset, account common.Address, amt amount.Amount) error {
	bal, err := b.Balance(env, asset, account)
	if err != nil {
		return err
	}
	next, err := bal.Add(amt)
	if err != nil {
		return err
	}
	return b.store(env, asset, account, next)
}

func (b *Bank) store(env *ledger.Env, asset, account common.Address, bal amount.Amount) error {
	if bal.IsZero() {
		return env.Remove(balanceKey(asset, account))
	}
	return env.Set(balanceKey(asset, account), bal)
}
