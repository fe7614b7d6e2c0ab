package oracle

import (
	"github.com/ethereum/go-ethereum/common"

	xerrors "FlowPay-Chain/internal/errors"
	"FlowPay-Chain/internal/ledger"
	"FlowPay-Chain/pkg/amount"
)

// Fixed returns preset reserves. It is quote-only.
type Fixed struct {
	pools map[common.Address]Reserves
}

// NewFixed returns an empty Fixed oracle.
func NewFixed() *Fixed {
	return &Fixed{pools: make(map[common.Address]Reserves)}
}

// Set stores reserves for the pair a/b.
func (f *Fixed) Set(a common.Address, reserveA amount.Amount, b common.Address, reserveB amount.Amount) common.Address {
	pool := PoolAddress(a, b)
	lo, _ := SortPair(a, b)
	r := Reserves{Pool: pool, AssetA: a, AssetB: b, ReserveA: reserveA, ReserveB: reserveB}
	if lo != a {
		r = Reserves{Pool: pool, AssetA: b, AssetB: a, ReserveA: reserveB, ReserveB: reserveA}
	}
	f.pools[pool] = r
	return pool
}

// Reserves implements Pools.
func (f *Fixed) Reserves(_ *ledger.Env, pool common.Address) (Reserves, error) {
	r, ok := f.pools[pool]
	if !ok {
		return Reserves{}, xerrors.Newf(xerrors.CodeNotFound, "pool %s not found", pool.Hex())
	}
	return r, nil
}

// Settle implements Pools.
func (f *Fixed) Settle(*ledger.Env, common.Address, common.Address, common.Address, amount.Amount) error {
	return xerrors.New(xerrors.CodeInvalidState, "fixed reserves are quote-only")
}
