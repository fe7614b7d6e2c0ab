// Package oracle answers reserve queries for constant-product pools and, for
// ledger-resident pools, settles the output side of a swap.
package oracle

import (
	"bytes"

	"github.com/ethereum/go-ethereum/common"

	xerrors "FlowPay-Chain/internal/errors"
	"FlowPay-Chain/internal/ledger"
	"FlowPay-Chain/pkg/amount"
)

const poolDomain = "flowpay_pool"

// Reserves holds the quantities of a pool's pair. AssetA sorts before
// AssetB.
type Reserves struct {
	Pool     common.Address `json:"pool"`
	AssetA   common.Address `json:"asset_a"`
	AssetB   common.Address `json:"asset_b"`
	ReserveA amount.Amount  `json:"reserve_a"`
	ReserveB amount.Amount  `json:"reserve_b"`
}

// Oriented returns the reserve of assetIn and of the opposite asset.
func (r Reserves) Oriented(assetIn common.Address) (reserveIn, reserveOut amount.Amount, err error) {
	switch assetIn {
	case r.AssetA:
		return r.ReserveA, r.ReserveB, nil
	case r.AssetB:
		return r.ReserveB, r.ReserveA, nil
	default:
		return amount.Zero, amount.Zero, xerrors.Newf(xerrors.CodeInvalidArgument, "asset %s is not traded by pool %s", assetIn.Hex(), r.Pool.Hex())
	}
}

// Pools is the reserve pool collaborator used by the conversion router.
type Pools interface {
	// Reserves returns the current reserves of pool.
	Reserves(env *ledger.Env, pool common.Address) (Reserves, error)
	// Settle pays amt of asset from pool to recipient.
	Settle(env *ledger.Env, pool, asset, recipient common.Address, amt amount.Amount) error
}

// SortPair orders two assets by their byte representation.
func SortPair(a, b common.Address) (common.Address, common.Address) {
	if bytes.Compare(a.Bytes(), b.Bytes()) <= 0 {
		return a, b
	}
	return b, a
}

// PoolAddress derives the address of the pool trading a and b. The result is
// symmetric in its arguments.
func PoolAddress(a, b common.Address) common.Address {
	lo, hi := SortPair(a, b)
	seed := make([]byte, 0, 2*common.AddressLength)
	seed = append(seed, lo.Bytes()...)
	seed = append(seed, hi.Bytes()...)
	return ledger.DeriveAddress(poolDomain, seed)
}
