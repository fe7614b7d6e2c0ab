// Package custody tracks yield-bearing positions. Principal is converted to
// yield-bearing units at a fixed redemption rate and accrues simple interest
// per second until harvested into the balance.
package custody

import (
	"github.com/ethereum/go-ethereum/common"

	xerrors "FlowPay-Chain/internal/errors"
	"FlowPay-Chain/internal/events"
	"FlowPay-Chain/internal/ledger"
	"FlowPay-Chain/pkg/amount"
)

const (
	// ContractName names the custody account.
	ContractName = "custody"

	// SecondsPerYear is the accrual period of the APY.
	SecondsPerYear = 31_536_000
	// DefaultAPYBps is 5% APY.
	DefaultAPYBps = 500
	// DefaultRedemptionRateBps redeems units 1:1.
	DefaultRedemptionRateBps = 10_000

	bpsDenominator = 10_000
)

var (
	configKey        = ledger.NewKey(ContractName, "config")
	totalDepositsKey = ledger.NewKey(ContractName, "total_deposits")
)

func positionKey(owner common.Address) ledger.Key {
	return ledger.NewKey(ContractName, "position", ledger.AddressPart(owner))
}

func trustedKey(caller common.Address) ledger.Key {
	return ledger.NewKey(ContractName, "trusted", ledger.AddressPart(caller))
}

// Config is the init-once custody configuration.
type Config struct {
	Admin             common.Address `json:"admin"`
	SettlementAsset   common.Address `json:"settlement_asset"`
	APYBps            uint32         `json:"apy_bps"`
	RedemptionRateBps uint32         `json:"redemption_rate_bps"`
	InitializedAt     uint64         `json:"initialized_at"`
}

// Position is an owner's yield-bearing holding. Balance is denominated in
// units and never falls below Principal.
type Position struct {
	Owner            common.Address `json:"owner"`
	Principal        amount.Amount  `json:"principal"`
	Balance          amount.Amount  `json:"balance"`
	DepositedAt      uint64         `json:"deposited_at"`
	LastHarvestAt    uint64         `json:"last_harvest_at"`
	TotalYieldEarned amount.Amount  `json:"total_yield_earned"`
}

// Bank is the subset of the asset transfer collaborator used by custody.
type Bank interface {
	Transfer(env *ledger.Env, asset, from, to common.Address, amt amount.Amount) error
	Balance(env *ledger.Env, asset, account common.Address) (amount.Amount, error)
}

// Custody manages positions.
type Custody struct {
	bank    Bank
	address common.Address
}

// New returns custody settling through bank.
func New(bank Bank) *Custody {
	return &Custody{bank: bank, address: ledger.ContractAddress(ContractName)}
}

// Address returns the custody account.
func (c *Custody) Address() common.Address { return c.address }

// Initialize stores the configuration. Zero rates select the defaults.
func (c *Custody) Initialize(env *ledger.Env, admin, settlementAsset common.Address, apyBps, redemptionRateBps uint32) error {
	if admin == (common.Address{}) || settlementAsset == (common.Address{}) {
		return xerrors.New(xerrors.CodeInvalidArgument, "admin and settlement asset are required")
	}
	if apyBps == 0 {
		apyBps = DefaultAPYBps
	}
	if redemptionRateBps == 0 {
		redemptionRateBps = DefaultRedemptionRateBps
	}
	if err := env.RequireAuth(admin); err != nil {
		return err
	}
	exists, err := env.Has(configKey)
	if err != nil {
		return err
	}
	if exists {
		return xerrors.New(xerrors.CodeAlreadyInitialized, "custody already initialized")
	}
	return env.Set(configKey, Config{
		Admin:             admin,
		SettlementAsset:   settlementAsset,
		APYBps:            apyBps,
		RedemptionRateBps: redemptionRateBps,
		InitializedAt:     env.Now(),
	})
}

// Config returns the stored configuration.
func (c *Custody) Config(env *ledger.Env) (Config, error) {
	var cfg Config
	ok, err := env.Get(configKey, &cfg)
	if err != nil {
		return Config{}, err
	}
	if !ok {
		return Config{}, xerrors.New(xerrors.CodeInvalidState, "custody not initialized")
	}
	return cfg, nil
}

// AuthorizeCaller lets the contract caller use the on-behalf operations.
func (c *Custody) AuthorizeCaller(env *ledger.Env, admin, caller common.Address) error {
	if err := c.requireAdmin(env, admin); err != nil {
		return err
	}
	return env.Set(trustedKey(caller), true)
}

// RevokeCaller removes caller from the trusted set.
func (c *Custody) RevokeCaller(env *ledger.Env, admin, caller common.Address) error {
	if err := c.requireAdmin(env, admin); err != nil {
		return err
	}
	return env.Remove(trustedKey(caller))
}

// IsTrusted reports whether caller may use the on-behalf operations.
func (c *Custody) IsTrusted(env *ledger.Env, caller common.Address) (bool, error) {
	return env.Has(trustedKey(caller))
}

func (c *Custody) requireAdmin(env *ledger.Env, admin common.Address) error {
	cfg, err := c.Config(env)
	if err != nil {
		return err
	}
	if admin != cfg.Admin {
		return xerrors.Newf(xerrors.CodeUnauthorized, "%s is not the custody admin", admin.Hex())
	}
	return env.RequireAuth(admin)
}

// requireTrustedCaller checks the contract executing the current frame.
func (c *Custody) requireTrustedCaller(env *ledger.Env) error {
	caller := env.CurrentContract()
	if caller == (common.Address{}) {
		return xerrors.New(xerrors.CodeUnauthorized, "on-behalf operations must be called by a contract")
	}
	ok, err := c.IsTrusted(env, caller)
	if err != nil {
		return err
	}
	if !ok {
		return xerrors.Newf(xerrors.CodeUnauthorized, "caller %s is not trusted by custody", caller.Hex())
	}
	return nil
}

// GetPosition returns owner's position.
func (c *Custody) GetPosition(env *ledger.Env, owner common.Address) (Position, error) {
	var pos Position
	ok, err := env.Get(positionKey(owner), &pos)
	if err != nil {
		return Position{}, err
	}
	if !ok {
		return Position{}, xerrors.Newf(xerrors.CodeNotFound, "no position for %s", owner.Hex())
	}
	return pos, nil
}

// TotalDeposits returns the principal outstanding across all positions.
func (c *Custody) TotalDeposits(env *ledger.Env) (amount.Amount, error) {
	var total amount.Amount
	if _, err := env.Get(totalDepositsKey, &total); err != nil {
		return amount.Zero, err
	}
	return total, nil
}

// YieldReserve returns the settlement asset held by custody beyond the
// outstanding principal. Only this part may pay out yield.
func (c *Custody) YieldReserve(env *ledger.Env) (amount.Amount, error) {
	cfg, err := c.Config(env)
	if err != nil {
		return amount.Zero, err
	}
	return c.reserve(env, cfg)
}

func (c *Custody) reserve(env *ledger.Env, cfg Config) (amount.Amount, error) {
	held, err := c.bank.Balance(env, cfg.SettlementAsset, c.address)
	if err != nil {
		return amount.Zero, err
	}
	total, err := c.TotalDeposits(env)
	if err != nil {
		return amount.Zero, err
	}
	free, err := held.Sub(total)
	if err != nil {
		return amount.Zero, err
	}
	if free.Sign() < 0 {
		return amount.Zero, nil
	}
	return free, nil
}

// CalculateYield returns the yield accrued since the last harvest.
func (c *Custody) CalculateYield(env *ledger.Env, owner common.Address) (amount.Amount, error) {
	cfg, err := c.Config(env)
	if err != nil {
		return amount.Zero, err
	}
	pos, err := c.GetPosition(env, owner)
	if err != nil {
		return amount.Zero, err
	}
	return accrued(pos, cfg.APYBps, env.Now())
}

// accrued computes balance * apy * elapsed / (SecondsPerYear * 10000).
func accrued(pos Position, apyBps uint32, now uint64) (amount.Amount, error) {
	if now <= pos.LastHarvestAt || !pos.Balance.IsPositive() {
		return amount.Zero, nil
	}
	elapsed := now - pos.LastHarvestAt
	scaled, err := pos.Balance.MulInt64(int64(apyBps))
	if err != nil {
		return amount.Zero, err
	}
	scaled, err = scaled.Mul(amount.New(int64(elapsed)))
	if err != nil {
		return amount.Zero, err
	}
	return scaled.QuoInt64(SecondsPerYear * bpsDenominator)
}

// Deposit pulls amt of asset from owner and credits the position.
func (c *Custody) Deposit(env *ledger.Env, owner common.Address, amt amount.Amount, asset common.Address) (amount.Amount, error) {
	cfg, err := c.validateDeposit(env, owner, amt, asset)
	if err != nil {
		return amount.Zero, err
	}
	if err := env.RequireAuth(owner); err != nil {
		return amount.Zero, err
	}
	if err := c.bank.Transfer(env, asset, owner, c.address, amt); err != nil {
		return amount.Zero, err
	}
	return c.credit(env, cfg, owner, amt)
}

// DepositFor credits owner for amt that a trusted caller already moved into
// custody.
func (c *Custody) DepositFor(env *ledger.Env, owner common.Address, amt amount.Amount, asset common.Address) (amount.Amount, error) {
	cfg, err := c.validateDeposit(env, owner, amt, asset)
	if err != nil {
		return amount.Zero, err
	}
	if err := c.requireTrustedCaller(env); err != nil {
		return amount.Zero, err
	}
	return c.credit(env, cfg, owner, amt)
}

func (c *Custody) validateDeposit(env *ledger.Env, owner common.Address, amt amount.Amount, asset common.Address) (Config, error) {
	cfg, err := c.Config(env)
	if err != nil {
		return Config{}, err
	}
	if owner == (common.Address{}) {
		return Config{}, xerrors.New(xerrors.CodeInvalidArgument, "owner is required")
	}
	if !amt.IsPositive() {
		return Config{}, xerrors.New(xerrors.CodeInvalidArgument, "deposit amount must be positive")
	}
	if asset != cfg.SettlementAsset {
		return Config{}, xerrors.Newf(xerrors.CodeInvalidArgument, "custody only accepts %s", cfg.SettlementAsset.Hex())
	}
	return cfg, nil
}

func (c *Custody) credit(env *ledger.Env, cfg Config, owner common.Address, amt amount.Amount) (amount.Amount, error) {
	units, err := toUnits(amt, cfg.RedemptionRateBps)
	if err != nil {
		return amount.Zero, err
	}
	pos, err := c.GetPosition(env, owner)
	switch {
	case xerrors.HasCode(err, xerrors.CodeNotFound):
		pos = Position{Owner: owner, DepositedAt: env.Now(), LastHarvestAt: env.Now()}
	case err != nil:
		return amount.Zero, err
	default:
		if _, err := c.compound(&pos, cfg, env.Now()); err != nil {
			return amount.Zero, err
		}
	}
	if pos.Principal, err = pos.Principal.Add(amt); err != nil {
		return amount.Zero, err
	}
	if pos.Balance, err = pos.Balance.Add(units); err != nil {
		return amount.Zero, err
	}
	if err := c.adjustTotal(env, amt); err != nil {
		return amount.Zero, err
	}
	if err := env.Set(positionKey(owner), pos); err != nil {
		return amount.Zero, err
	}
	err = c.emit(env, events.TopicDeposit, map[string]any{
		"owner":  owner.Hex(),
		"amount": amt,
		"units":  units,
	})
	return units, err
}

// compound folds accrued yield into the balance and resets the harvest time.
func (c *Custody) compound(pos *Position, cfg Config, now uint64) (amount.Amount, error) {
	yield, err := accrued(*pos, cfg.APYBps, now)
	if err != nil {
		return amount.Zero, err
	}
	if pos.Balance, err = pos.Balance.Add(yield); err != nil {
		return amount.Zero, err
	}
	if pos.TotalYieldEarned, err = pos.TotalYieldEarned.Add(yield); err != nil {
		return amount.Zero, err
	}
	if now > pos.LastHarvestAt {
		pos.LastHarvestAt = now
	}
	return yield, nil
}

// HarvestYield compounds owner's accrued yield and returns it. A second call
// at the same timestamp returns zero.
func (c *Custody) HarvestYield(env *ledger.Env, owner common.Address) (amount.Amount, error) {
	if err := env.RequireAuth(owner); err != nil {
		return amount.Zero, err
	}
	return c.harvest(env, owner)
}

// HarvestFor is HarvestYield on behalf of owner by a trusted caller.
func (c *Custody) HarvestFor(env *ledger.Env, owner common.Address) (amount.Amount, error) {
	if err := c.requireTrustedCaller(env); err != nil {
		return amount.Zero, err
	}
	return c.harvest(env, owner)
}

func (c *Custody) harvest(env *ledger.Env, owner common.Address) (amount.Amount, error) {
	cfg, err := c.Config(env)
	if err != nil {
		return amount.Zero, err
	}
	pos, err := c.GetPosition(env, owner)
	if err != nil {
		return amount.Zero, err
	}
	yield, err := c.compound(&pos, cfg, env.Now())
	if err != nil {
		return amount.Zero, err
	}
	if err := env.Set(positionKey(owner), pos); err != nil {
		return amount.Zero, err
	}
	err = c.emit(env, events.TopicHarvest, map[string]any{
		"owner": owner.Hex(),
		"yield": yield,
	})
	return yield, err
}

// Withdraw harvests, redeems units of owner's balance and pays owner.
func (c *Custody) Withdraw(env *ledger.Env, owner common.Address, units amount.Amount) (amount.Amount, error) {
	if err := env.RequireAuth(owner); err != nil {
		return amount.Zero, err
	}
	return c.withdraw(env, owner, units, owner)
}

// WithdrawFor is Withdraw on behalf of owner by a trusted caller.
func (c *Custody) WithdrawFor(env *ledger.Env, owner common.Address, units amount.Amount, recipient common.Address) (amount.Amount, error) {
	if err := c.requireTrustedCaller(env); err != nil {
		return amount.Zero, err
	}
	if recipient == (common.Address{}) {
		recipient = owner
	}
	return c.withdraw(env, owner, units, recipient)
}

func (c *Custody) withdraw(env *ledger.Env, owner common.Address, units amount.Amount, recipient common.Address) (amount.Amount, error) {
	if !units.IsPositive() {
		return amount.Zero, xerrors.New(xerrors.CodeInvalidArgument, "withdrawal must be positive")
	}
	cfg, err := c.Config(env)
	if err != nil {
		return amount.Zero, err
	}
	pos, err := c.GetPosition(env, owner)
	if err != nil {
		return amount.Zero, err
	}
	if _, err := c.compound(&pos, cfg, env.Now()); err != nil {
		return amount.Zero, err
	}
	if pos.Balance.LessThan(units) {
		return amount.Zero, xerrors.Newf(xerrors.CodeInsufficientBalance, "withdraw %s exceeds balance %s", units, pos.Balance)
	}
	if pos.Balance, err = pos.Balance.Sub(units); err != nil {
		return amount.Zero, err
	}
	released := amount.Zero
	if pos.Balance.LessThan(pos.Principal) {
		if released, err = pos.Principal.Sub(pos.Balance); err != nil {
			return amount.Zero, err
		}
		pos.Principal = pos.Balance
	}
	settlement, err := fromUnits(units, cfg.RedemptionRateBps)
	if err != nil {
		return amount.Zero, err
	}
	if err := c.payout(env, cfg, owner, pos, released, settlement, recipient); err != nil {
		return amount.Zero, err
	}
	return settlement, nil
}

// WithdrawPrincipal redeems amt of owner's principal without harvesting.
func (c *Custody) WithdrawPrincipal(env *ledger.Env, owner common.Address, amt amount.Amount) (amount.Amount, error) {
	if err := env.RequireAuth(owner); err != nil {
		return amount.Zero, err
	}
	return c.withdrawPrincipal(env, owner, amt, owner)
}

// WithdrawPrincipalFor is WithdrawPrincipal on behalf of owner by a trusted
// caller. A zero recipient pays owner.
func (c *Custody) WithdrawPrincipalFor(env *ledger.Env, owner common.Address, amt amount.Amount, recipient common.Address) (amount.Amount, error) {
	if err := c.requireTrustedCaller(env); err != nil {
		return amount.Zero, err
	}
	if recipient == (common.Address{}) {
		recipient = owner
	}
	return c.withdrawPrincipal(env, owner, amt, recipient)
}

func (c *Custody) withdrawPrincipal(env *ledger.Env, owner common.Address, amt amount.Amount, recipient common.Address) (amount.Amount, error) {
	if !amt.IsPositive() {
		return amount.Zero, xerrors.New(xerrors.CodeInvalidArgument, "withdrawal must be positive")
	}
	cfg, err := c.Config(env)
	if err != nil {
		return amount.Zero, err
	}
	pos, err := c.GetPosition(env, owner)
	if err != nil {
		return amount.Zero, err
	}
	if pos.Principal.LessThan(amt) {
		return amount.Zero, xerrors.Newf(xerrors.CodeInsufficientBalance, "withdraw %s exceeds principal %s", amt, pos.Principal)
	}
	units, err := toUnits(amt, cfg.RedemptionRateBps)
	if err != nil {
		return amount.Zero, err
	}
	if pos.Balance.LessThan(units) {
		return amount.Zero, xerrors.Newf(xerrors.CodeInsufficientBalance, "redeeming %s units exceeds balance %s", units, pos.Balance)
	}
	if pos.Principal, err = pos.Principal.Sub(amt); err != nil {
		return amount.Zero, err
	}
	if pos.Balance, err = pos.Balance.Sub(units); err != nil {
		return amount.Zero, err
	}
	if err := c.payout(env, cfg, owner, pos, amt, amt, recipient); err != nil {
		return amount.Zero, err
	}
	return amt, nil
}

// payout stores pos, lowers the deposit total by released principal and pays
// settlement to recipient from the custody account. The part of settlement
// above released principal is yield and must be covered by the reserve, never
// by other owners' principal.
func (c *Custody) payout(env *ledger.Env, cfg Config, owner common.Address, pos Position, released, settlement amount.Amount, recipient common.Address) error {
	yieldPart, err := settlement.Sub(released)
	if err != nil {
		return err
	}
	if yieldPart.IsPositive() {
		free, err := c.reserve(env, cfg)
		if err != nil {
			return err
		}
		if free.LessThan(yieldPart) {
			return xerrors.Newf(xerrors.CodeInsufficientBalance, "yield reserve %s cannot cover %s of yield", free, yieldPart)
		}
	}
	neg, err := released.Neg()
	if err != nil {
		return err
	}
	if err := c.adjustTotal(env, neg); err != nil {
		return err
	}
	if err := env.Set(positionKey(owner), pos); err != nil {
		return err
	}
	err = env.Call(c.address, func() error {
		return c.bank.Transfer(env, cfg.SettlementAsset, c.address, recipient, settlement)
	})
	if err != nil {
		return err
	}
	return c.emit(env, events.TopicWithdraw, map[string]any{
		"owner":      owner.Hex(),
		"recipient":  recipient.Hex(),
		"settlement": settlement,
		"principal":  released,
	})
}

func (c *Custody) emit(env *ledger.Env, topic string, data any) error {
	return env.Call(c.address, func() error { return env.Emit(topic, data) })
}

func (c *Custody) adjustTotal(env *ledger.Env, delta amount.Amount) error {
	total, err := c.TotalDeposits(env)
	if err != nil {
		return err
	}
	if total, err = total.Add(delta); err != nil {
		return err
	}
	if total.Sign() < 0 {
		total = amount.Zero
	}
	return env.Set(totalDepositsKey, total)
}

func toUnits(amt amount.Amount, rateBps uint32) (amount.Amount, error) {
	scaled, err := amt.MulInt64(bpsDenominator)
	if err != nil {
		return amount.Zero, err
	}
	return scaled.QuoInt64(int64(rateBps))
}

func fromUnits(units amount.Amount, rateBps uint32) (amount.Amount, error) {
	scaled, err := units.MulInt64(int64(rateBps))
	if err != nil {
		return amount.Zero, err
	}
	return scaled.QuoInt64(bpsDenominator)
}
