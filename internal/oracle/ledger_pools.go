package oracle

import (
	"github.com/ethereum/go-ethereum/common"

	xerrors "FlowPay-Chain/internal/errors"
	"FlowPay-Chain/internal/events"
	"FlowPay-Chain/internal/ledger"
	"FlowPay-Chain/pkg/amount"
)

const namespace = "oracle"

// Bank is the subset of the asset transfer collaborator used by pools.
type Bank interface {
	Transfer(env *ledger.Env, asset, from, to common.Address, amt amount.Amount) error
	Balance(env *ledger.Env, asset, account common.Address) (amount.Amount, error)
}

// PoolInfo is the stored metadata of a ledger-resident pool.
type PoolInfo struct {
	Address   common.Address `json:"address"`
	AssetA    common.Address `json:"asset_a"`
	AssetB    common.Address `json:"asset_b"`
	CreatedAt uint64         `json:"created_at"`
}

// LedgerPools keeps pool reserves as the pool account's balances in the
// bank, so reserves only change through transfers.
type LedgerPools struct {
	bank Bank
}

// NewLedgerPools returns pools settled through bank.
func NewLedgerPools(bank Bank) *LedgerPools {
	return &LedgerPools{bank: bank}
}

func poolKey(pool common.Address) ledger.Key {
	return ledger.NewKey(namespace, "pool", ledger.AddressPart(pool))
}

var poolIndexKey = ledger.NewKey(namespace, "pools")

// Pool loads the metadata of pool.
func (p *LedgerPools) Pool(env *ledger.Env, pool common.Address) (PoolInfo, error) {
	var info PoolInfo
	ok, err := env.Get(poolKey(pool), &info)
	if err != nil {
		return PoolInfo{}, err
	}
	if !ok {
		return PoolInfo{}, xerrors.Newf(xerrors.CodeNotFound, "pool %s not found", pool.Hex())
	}
	return info, nil
}

// List returns every known pool in creation order.
func (p *LedgerPools) List(env *ledger.Env) ([]PoolInfo, error) {
	var addrs []common.Address
	if _, err := env.Get(poolIndexKey, &addrs); err != nil {
		return nil, err
	}
	out := make([]PoolInfo, 0, len(addrs))
	for _, addr := range addrs {
		info, err := p.Pool(env, addr)
		if err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, nil
}

// AddLiquidity moves amounts of both assets from provider into the pool,
// creating it on first use.
func (p *LedgerPools) AddLiquidity(env *ledger.Env, provider, assetA common.Address, amountA amount.Amount, assetB common.Address, amountB amount.Amount) (common.Address, error) {
	if assetA == assetB {
		return common.Address{}, xerrors.New(xerrors.CodeInvalidArgument, "pool assets must differ")
	}
	if !amountA.IsPositive() || !amountB.IsPositive() {
		return common.Address{}, xerrors.New(xerrors.CodeInvalidArgument, "liquidity amounts must be positive")
	}
	if err := env.RequireAuth(provider); err != nil {
		return common.Address{}, err
	}
	pool := PoolAddress(assetA, assetB)
	exists, err := env.Has(poolKey(pool))
	if err != nil {
		return common.Address{}, err
	}
	if !exists {
		lo, hi := SortPair(assetA, assetB)
		if err := env.Set(poolKey(pool), PoolInfo{Address: pool, AssetA: lo, AssetB: hi, CreatedAt: env.Now()}); err != nil {
			return common.Address{}, err
		}
		var index []common.Address
		if _, err := env.Get(poolIndexKey, &index); err != nil {
			return common.Address{}, err
		}
		if err := env.Set(poolIndexKey, append(index, pool)); err != nil {
			return common.Address{}, err
		}
	}
	if err := p.bank.Transfer(env, assetA, provider, pool, amountA); err != nil {
		return common.Address{}, err
	}
	if err := p.bank.Transfer(env, assetB, provider, pool, amountB); err != nil {
		return common.Address{}, err
	}
	err = env.Emit(events.TopicLiquidityAdded, map[string]any{
		"pool":     pool.Hex(),
		"provider": provider.Hex(),
		"asset_a":  assetA.Hex(),
		"amount_a": amountA,
		"asset_b":  assetB.Hex(),
		"amount_b": amountB,
	})
	return pool, err
}

// Reserves implements Pools.
func (p *LedgerPools) Reserves(env *ledger.Env, pool common.Address) (Reserves, error) {
	info, err := p.Pool(env, pool)
	if err != nil {
		return Reserves{}, err
	}
	reserveA, err := p.bank.Balance(env, info.AssetA, pool)
	if err != nil {
		return Reserves{}, err
	}
	reserveB, err := p.bank.Balance(env, info.AssetB, pool)
	if err != nil {
		return Reserves{}, err
	}
	return Reserves{Pool: pool, AssetA: info.AssetA, AssetB: info.AssetB, ReserveA: reserveA, ReserveB: reserveB}, nil
}

// Settle implements Pools. The transfer runs inside the pool's frame so the
// pool account authorizes its own outflow.
func (p *LedgerPools) Settle(env *ledger.Env, pool, asset, recipient common.Address, amt amount.Amount) error {
	info, err := p.Pool(env, pool)
	if err != nil {
		return err
	}
	if asset != info.AssetA && asset != info.AssetB {
		return xerrors.Newf(xerrors.CodeInvalidArgument, "asset %s is not traded by pool %s", asset.Hex(), pool.Hex())
	}
	return env.Call(pool, func() error {
		return p.bank.Transfer(env, asset, pool, recipient, amt)
	})
}
