// Package router quotes and executes asset conversions through
// constant-product pools, either directly or via the reference asset.
package router

import (
	"github.com/ethereum/go-ethereum/common"

	xerrors "FlowPay-Chain/internal/errors"
	"FlowPay-Chain/internal/events"
	"FlowPay-Chain/internal/ledger"
	"FlowPay-Chain/internal/oracle"
	"FlowPay-Chain/pkg/amount"
)

const (
	// ContractName names the router account.
	ContractName = "router"

	feeNumerator   = 997
	feeDenominator = 1000

	// MaxSlippageBps is the widest accepted slippage bound.
	MaxSlippageBps = 10_000
)

// CodeInsufficientLiquidity is returned when a hop would yield nothing.
const CodeInsufficientLiquidity xerrors.Code = "INSUFFICIENT_LIQUIDITY"

func init() {
	xerrors.Register(CodeInsufficientLiquidity, xerrors.Attributes{
		Message:  "insufficient liquidity",
		Severity: xerrors.SeverityWarning,
	})
}

var configKey = ledger.NewKey(ContractName, "config")

// Config is the init-once router configuration.
type Config struct {
	Admin          common.Address `json:"admin"`
	ReferenceAsset common.Address `json:"reference_asset"`
	InitializedAt  uint64         `json:"initialized_at"`
}

// Bank is the subset of the asset transfer collaborator used by the router.
type Bank interface {
	Transfer(env *ledger.Env, asset, from, to common.Address, amt amount.Amount) error
	Balance(env *ledger.Env, asset, account common.Address) (amount.Amount, error)
}

// Router converts between assets.
type Router struct {
	bank    Bank
	pools   oracle.Pools
	address common.Address
}

// New returns a router settling through bank and pricing with pools.
func New(bank Bank, pools oracle.Pools) *Router {
	return &Router{bank: bank, pools: pools, address: ledger.ContractAddress(ContractName)}
}

// Address returns the router account.
func (r *Router) Address() common.Address { return r.address }

// Initialize stores the configuration. It can only be called once.
func (r *Router) Initialize(env *ledger.Env, admin, referenceAsset common.Address) error {
	if admin == (common.Address{}) || referenceAsset == (common.Address{}) {
		return xerrors.New(xerrors.CodeInvalidArgument, "admin and reference asset are required")
	}
	if err := env.RequireAuth(admin); err != nil {
		return err
	}
	exists, err := env.Has(configKey)
	if err != nil {
		return err
	}
	if exists {
		return xerrors.New(xerrors.CodeAlreadyInitialized, "router already initialized")
	}
	return env.Set(configKey, Config{Admin: admin, ReferenceAsset: referenceAsset, InitializedAt: env.Now()})
}

// Config returns the stored configuration.
func (r *Router) Config(env *ledger.Env) (Config, error) {
	var cfg Config
	ok, err := env.Get(configKey, &cfg)
	if err != nil {
		return Config{}, err
	}
	if !ok {
		return Config{}, xerrors.New(xerrors.CodeInvalidState, "router not initialized")
	}
	return cfg, nil
}

// GetPoolAddress returns the pool trading a and b.
func (r *Router) GetPoolAddress(a, b common.Address) common.Address {
	return oracle.PoolAddress(a, b)
}

// GetPoolReserves delegates to the pool oracle.
func (r *Router) GetPoolReserves(env *ledger.Env, pool common.Address) (oracle.Reserves, error) {
	return r.pools.Reserves(env, pool)
}

// CalculateSwapOutput applies the constant-product formula with a 0.3% fee:
//
//	out = in*997*reserveOut / (reserveIn*1000 + in*997)
//
// It returns zero when either reserve or the input is not positive.
func CalculateSwapOutput(in, reserveIn, reserveOut amount.Amount) (amount.Amount, error) {
	if !in.IsPositive() || !reserveIn.IsPositive() || !reserveOut.IsPositive() {
		return amount.Zero, nil
	}
	inWithFee, err := in.MulInt64(feeNumerator)
	if err != nil {
		return amount.Zero, err
	}
	numerator, err := inWithFee.Mul(reserveOut)
	if err != nil {
		return amount.Zero, err
	}
	scaledReserve, err := reserveIn.MulInt64(feeDenominator)
	if err != nil {
		return amount.Zero, err
	}
	denominator, err := scaledReserve.Add(inWithFee)
	if err != nil {
		return amount.Zero, err
	}
	return numerator.Quo(denominator)
}

// Path returns the assets visited when converting from into to.
func (r *Router) Path(env *ledger.Env, from, to common.Address) ([]common.Address, error) {
	if from == to {
		return []common.Address{from}, nil
	}
	cfg, err := r.Config(env)
	if err != nil {
		return nil, err
	}
	if from == cfg.ReferenceAsset || to == cfg.ReferenceAsset {
		return []common.Address{from, to}, nil
	}
	return []common.Address{from, cfg.ReferenceAsset, to}, nil
}

// QuoteSingleSwap prices one hop against the current pool reserves.
func (r *Router) QuoteSingleSwap(env *ledger.Env, from, to common.Address, amt amount.Amount) (amount.Amount, error) {
	reserves, err := r.pools.Reserves(env, oracle.PoolAddress(from, to))
	if err != nil {
		return amount.Zero, err
	}
	reserveIn, reserveOut, err := reserves.Oriented(from)
	if err != nil {
		return amount.Zero, err
	}
	return CalculateSwapOutput(amt, reserveIn, reserveOut)
}

// GetExchangeRate quotes the output of converting amt of from into to.
func (r *Router) GetExchangeRate(env *ledger.Env, from, to common.Address, amt amount.Amount) (amount.Amount, error) {
	if amt.Sign() < 0 {
		return amount.Zero, xerrors.New(xerrors.CodeInvalidArgument, "amount must not be negative")
	}
	path, err := r.Path(env, from, to)
	if err != nil {
		return amount.Zero, err
	}
	current := amt
	for i := 0; i+1 < len(path); i++ {
		current, err = r.QuoteSingleSwap(env, path[i], path[i+1], current)
		if err != nil {
			return amount.Zero, err
		}
	}
	return current, nil
}

// MinimumOutput returns expected reduced by maxSlippageBps.
func MinimumOutput(expected amount.Amount, maxSlippageBps uint32) (amount.Amount, error) {
	if maxSlippageBps > MaxSlippageBps {
		return amount.Zero, xerrors.Newf(xerrors.CodeInvalidArgument, "max slippage %d bps exceeds %d", maxSlippageBps, MaxSlippageBps)
	}
	scaled, err := expected.MulInt64(int64(maxSlippageBps))
	if err != nil {
		return amount.Zero, err
	}
	allowance, err := scaled.QuoInt64(MaxSlippageBps)
	if err != nil {
		return amount.Zero, err
	}
	return expected.Sub(allowance)
}

// Conversion is the payload of a conversion_complete event.
type Conversion struct {
	From      common.Address   `json:"from_asset"`
	To        common.Address   `json:"to_asset"`
	AmountIn  amount.Amount    `json:"amount_in"`
	AmountOut amount.Amount    `json:"amount_out"`
	MinOutput amount.Amount    `json:"min_output"`
	Recipient common.Address   `json:"recipient"`
	Path      []common.Address `json:"path"`
}

// ConvertAndSend converts amt of from held by the router and pays the output
// to recipient. Only the final hop is held to the slippage bound.
func (r *Router) ConvertAndSend(env *ledger.Env, from, to common.Address, amt amount.Amount, recipient common.Address, maxSlippageBps uint32) (amount.Amount, error) {
	if !amt.IsPositive() {
		return amount.Zero, xerrors.New(xerrors.CodeInvalidArgument, "amount must be positive")
	}
	if recipient == (common.Address{}) {
		return amount.Zero, xerrors.New(xerrors.CodeInvalidArgument, "recipient is required")
	}
	var out amount.Amount
	err := env.Call(r.address, func() error {
		var err error
		out, err = r.convert(env, from, to, amt, recipient, maxSlippageBps)
		return err
	})
	return out, err
}

func (r *Router) convert(env *ledger.Env, from, to common.Address, amt amount.Amount, recipient common.Address, maxSlippageBps uint32) (amount.Amount, error) {
	expected, err := r.GetExchangeRate(env, from, to, amt)
	if err != nil {
		return amount.Zero, err
	}
	minOutput, err := MinimumOutput(expected, maxSlippageBps)
	if err != nil {
		return amount.Zero, err
	}
	path, err := r.Path(env, from, to)
	if err != nil {
		return amount.Zero, err
	}

	current := amt
	if len(path) == 1 {
		if err := r.bank.Transfer(env, from, r.address, recipient, amt); err != nil {
			return amount.Zero, err
		}
	}
	for i := 0; i+1 < len(path); i++ {
		last := i+2 == len(path)
		minimum := amount.Zero
		dest := r.address
		if last {
			minimum = minOutput
			dest = recipient
		}
		current, err = r.executeHop(env, path[i], path[i+1], current, minimum, dest)
		if err != nil {
			return amount.Zero, err
		}
	}

	err = env.Emit(events.TopicConversionComplete, Conversion{
		From:      from,
		To:        to,
		AmountIn:  amt,
		AmountOut: current,
		MinOutput: minOutput,
		Recipient: recipient,
		Path:      path,
	})
	return current, err
}

func (r *Router) executeHop(env *ledger.Env, assetIn, assetOut common.Address, in, minimum amount.Amount, dest common.Address) (amount.Amount, error) {
	pool := oracle.PoolAddress(assetIn, assetOut)
	reserves, err := r.pools.Reserves(env, pool)
	if err != nil {
		return amount.Zero, err
	}
	reserveIn, reserveOut, err := reserves.Oriented(assetIn)
	if err != nil {
		return amount.Zero, err
	}
	out, err := CalculateSwapOutput(in, reserveIn, reserveOut)
	if err != nil {
		return amount.Zero, err
	}
	if out.IsZero() {
		return amount.Zero, xerrors.Newf(CodeInsufficientLiquidity, "pool %s yields nothing for %s", pool.Hex(), in)
	}
	if out.LessThan(minimum) {
		return amount.Zero, xerrors.Newf(xerrors.CodeSlippageExceeded, "hop output %s below minimum %s", out, minimum)
	}
	if err := r.bank.Transfer(env, assetIn, r.address, pool, in); err != nil {
		return amount.Zero, err
	}
	if err := r.pools.Settle(env, pool, assetOut, dest, out); err != nil {
		return amount.Zero, err
	}
	return out, nil
}

// Swap pulls amt of from out of sender and converts it for recipient.
func (r *Router) Swap(env *ledger.Env, sender, from, to common.Address, amt amount.Amount, recipient common.Address, maxSlippageBps uint32) (amount.Amount, error) {
	if !amt.IsPositive() {
		return amount.Zero, xerrors.New(xerrors.CodeInvalidArgument, "amount must be positive")
	}
	if err := r.bank.Transfer(env, from, sender, r.address, amt); err != nil {
		return amount.Zero, err
	}
	return r.ConvertAndSend(env, from, to, amt, recipient, maxSlippageBps)
}
