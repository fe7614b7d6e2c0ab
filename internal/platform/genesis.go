package platform

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"FlowPay-Chain/internal/config"
	xerrors "FlowPay-Chain/internal/errors"
	"FlowPay-Chain/internal/ledger"
	"FlowPay-Chain/pkg/amount"
)

// Genesis is the initial ledger state written on first start.
type Genesis struct {
	Admin             common.Address
	SettlementAsset   common.Address
	ReferenceAsset    common.Address
	APYBps            uint32
	RedemptionRateBps uint32
	// YieldReserve is minted to custody to fund interest payouts.
	YieldReserve amount.Amount
	Assets       []GenesisAsset
	Pools        []GenesisPool
}

// GenesisAsset registers one asset and its opening balances.
type GenesisAsset struct {
	Address  common.Address
	Symbol   string
	Decimals uint8
	Issuer   common.Address
	Balances map[common.Address]amount.Amount
}

// GenesisPool seeds one pool.
type GenesisPool struct {
	Provider common.Address
	AssetA   common.Address
	AmountA  amount.Amount
	AssetB   common.Address
	AmountB  amount.Amount
}

func parseAddress(field, raw string) (common.Address, error) {
	if !common.IsHexAddress(raw) {
		return common.Address{}, xerrors.Newf(xerrors.CodeInvalidArgument, "genesis %s: invalid address %q", field, raw)
	}
	return common.HexToAddress(raw), nil
}

func parseAmount(field, raw string) (amount.Amount, error) {
	if raw == "" {
		return amount.Zero, nil
	}
	amt, err := amount.Parse(raw)
	if err != nil {
		return amount.Zero, fmt.Errorf("genesis %s: %w", field, err)
	}
	return amt, nil
}

// GenesisFromConfig parses the textual genesis section.
func GenesisFromConfig(cfg config.GenesisConfig) (Genesis, error) {
	var (
		g   Genesis
		err error
	)
	if g.Admin, err = parseAddress("admin", cfg.Admin); err != nil {
		return Genesis{}, err
	}
	if g.SettlementAsset, err = parseAddress("settlement_asset", cfg.SettlementAsset); err != nil {
		return Genesis{}, err
	}
	g.ReferenceAsset = g.SettlementAsset
	if cfg.ReferenceAsset != "" {
		if g.ReferenceAsset, err = parseAddress("reference_asset", cfg.ReferenceAsset); err != nil {
			return Genesis{}, err
		}
	}
	g.APYBps = cfg.APYBps
	g.RedemptionRateBps = cfg.RedemptionRateBps
	if g.YieldReserve, err = parseAmount("yield_reserve", cfg.YieldReserve); err != nil {
		return Genesis{}, err
	}

	for i, a := range cfg.Assets {
		field := fmt.Sprintf("assets[%d]", i)
		asset := GenesisAsset{Symbol: a.Symbol, Decimals: a.Decimals, Issuer: g.Admin, Balances: map[common.Address]amount.Amount{}}
		if asset.Address, err = parseAddress(field+".address", a.Address); err != nil {
			return Genesis{}, err
		}
		if a.Issuer != "" {
			if asset.Issuer, err = parseAddress(field+".issuer", a.Issuer); err != nil {
				return Genesis{}, err
			}
		}
		for holder, raw := range a.Balances {
			addr, err := parseAddress(field+".balances", holder)
			if err != nil {
				return Genesis{}, err
			}
			if asset.Balances[addr], err = parseAmount(field+".balances", raw); err != nil {
				return Genesis{}, err
			}
		}
		g.Assets = append(g.Assets, asset)
	}

	for i, p := range cfg.Pools {
		field := fmt.Sprintf("pools[%d]", i)
		var pool GenesisPool
		if pool.Provider, err = parseAddress(field+".provider", p.Provider); err != nil {
			return Genesis{}, err
		}
		if pool.AssetA, err = parseAddress(field+".asset_a", p.AssetA); err != nil {
			return Genesis{}, err
		}
		if pool.AssetB, err = parseAddress(field+".asset_b", p.AssetB); err != nil {
			return Genesis{}, err
		}
		if pool.AmountA, err = parseAmount(field+".amount_a", p.AmountA); err != nil {
			return Genesis{}, err
		}
		if pool.AmountB, err = parseAmount(field+".amount_b", p.AmountB); err != nil {
			return Genesis{}, err
		}
		g.Pools = append(g.Pools, pool)
	}
	return g, nil
}

// Initialized reports whether genesis has already been applied.
func (p *Platform) Initialized(ctx context.Context) (bool, error) {
	initialized := false
	err := p.view(ctx, func(env *ledger.Env) error {
		_, err := p.escrow.Config(env)
		switch {
		case err == nil:
			initialized = true
			return nil
		case xerrors.HasCode(err, xerrors.CodeInvalidState):
			return nil
		default:
			return err
		}
	})
	return initialized, err
}

// Bootstrap applies g in one invocation. It is a no-op once the escrow is
// configured, so it is safe to call on every start.
func (p *Platform) Bootstrap(ctx context.Context, g Genesis) (bool, error) {
	done, err := p.Initialized(ctx)
	if err != nil || done {
		return false, err
	}

	signers := map[common.Address]struct{}{g.Admin: {}}
	for _, a := range g.Assets {
		signers[a.Issuer] = struct{}{}
	}
	for _, pool := range g.Pools {
		signers[pool.Provider] = struct{}{}
	}
	signerList := make([]common.Address, 0, len(signers))
	for s := range signers {
		signerList = append(signerList, s)
	}

	_, err = p.invoke(ctx, "genesis", signerList, func(env *ledger.Env) error {
		registered := map[common.Address]bool{}
		for _, a := range g.Assets {
			if err := p.bank.RegisterAsset(env, a.Address, a.Issuer, a.Symbol, a.Decimals); err != nil {
				return err
			}
			registered[a.Address] = true
			// Sorted by address so one config always yields the same write set.
			holders := make([]common.Address, 0, len(a.Balances))
			for h := range a.Balances {
				holders = append(holders, h)
			}
			sort.Slice(holders, func(i, j int) bool { return holders[i].Cmp(holders[j]) < 0 })
			for _, h := range holders {
				if err := p.bank.Mint(env, a.Address, h, a.Balances[h]); err != nil {
					return err
				}
			}
		}

		if err := p.router.Initialize(env, g.Admin, g.ReferenceAsset); err != nil {
			return err
		}
		if err := p.custody.Initialize(env, g.Admin, g.SettlementAsset, g.APYBps, g.RedemptionRateBps); err != nil {
			return err
		}
		if err := p.custody.AuthorizeCaller(env, g.Admin, p.escrow.Address()); err != nil {
			return err
		}
		if err := p.escrow.Initialize(env, g.Admin, g.SettlementAsset); err != nil {
			return err
		}
		if g.YieldReserve.IsPositive() {
			if !registered[g.SettlementAsset] {
				return xerrors.New(xerrors.CodeInvalidArgument, "yield reserve requires the settlement asset in genesis assets")
			}
			if err := p.bank.Mint(env, g.SettlementAsset, p.custody.Address(), g.YieldReserve); err != nil {
				return err
			}
		}

		if len(g.Pools) > 0 && p.liquidity == nil {
			p.log.Warn("genesis pools ignored with an external oracle", slog.Int("pools", len(g.Pools)))
			return nil
		}
		for _, pool := range g.Pools {
			if _, err := p.liquidity.AddLiquidity(env, pool.Provider, pool.AssetA, pool.AmountA, pool.AssetB, pool.AmountB); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return true, nil
}
