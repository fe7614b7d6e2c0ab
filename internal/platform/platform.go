// Package platform assembles the bank, pools, router, custody and escrow on
// top of one ledger and exposes every public operation as a single ledger
// invocation.
package platform

import (
	"context"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"FlowPay-Chain/internal/custody"
	xerrors "FlowPay-Chain/internal/errors"
	"FlowPay-Chain/internal/escrow"
	"FlowPay-Chain/internal/ledger"
	"FlowPay-Chain/internal/observability/alerting"
	"FlowPay-Chain/internal/oracle"
	"FlowPay-Chain/internal/router"
	"FlowPay-Chain/internal/token"
	"FlowPay-Chain/pkg/amount"
	"FlowPay-Chain/pkg/logger"
)

// Platform is the composition root wiring every contract onto one ledger.
type Platform struct {
	ledger    *ledger.Ledger
	bank      *token.Bank
	pools     oracle.Pools
	liquidity *oracle.LedgerPools
	router    *router.Router
	custody   *custody.Custody
	escrow    *escrow.Escrow
	alerts    alerting.Dispatcher
	log       *slog.Logger
}

// Option customises a Platform.
type Option func(*Platform)

// WithPools replaces the in-ledger pools, e.g. with the read-only EVM oracle.
func WithPools(pools oracle.Pools) Option {
	return func(p *Platform) {
		if pools != nil {
			p.pools = pools
		}
	}
}

// WithAlerts sets the alert dispatcher.
func WithAlerts(d alerting.Dispatcher) Option {
	return func(p *Platform) { p.alerts = d }
}

// New wires the components over l.
func New(l *ledger.Ledger, opts ...Option) *Platform {
	bank := token.NewBank()
	liquidity := oracle.NewLedgerPools(bank)
	p := &Platform{
		ledger:    l,
		bank:      bank,
		pools:     liquidity,
		liquidity: liquidity,
		log:       logger.Named("platform"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.pools != oracle.Pools(liquidity) {
		p.liquidity = nil
	}
	p.router = router.New(bank, p.pools)
	p.custody = custody.New(bank)
	p.escrow = escrow.New(bank, p.custody, p.router)
	return p
}

// Ledger returns the underlying ledger.
func (p *Platform) Ledger() *ledger.Ledger { return p.ledger }

// Addresses returns the account address of each contract.
func (p *Platform) Addresses() map[string]common.Address {
	return map[string]common.Address{
		escrow.ContractName:  p.escrow.Address(),
		custody.ContractName: p.custody.Address(),
		router.ContractName:  p.router.Address(),
	}
}

func (p *Platform) invoke(ctx context.Context, operation string, signers []common.Address, fn func(*ledger.Env) error) (ledger.Receipt, error) {
	receipt, err := p.ledger.Invoke(ctx, ledger.Invocation{Operation: operation, Signers: signers}, fn)
	if err != nil {
		if xerrors.ShouldAlert(err) && p.alerts != nil {
			if alertErr := p.alerts.Notify(ctx, alerting.FromError(operation, receipt.TxID, err)); alertErr != nil {
				p.log.Warn("alert dispatch failed", slog.String("operation", operation), slog.Any("error", alertErr))
			}
		}
		return receipt, err
	}
	return receipt, nil
}

func (p *Platform) view(ctx context.Context, fn func(*ledger.Env) error) error {
	return p.ledger.View(ctx, fn)
}

// CreateJob locks total of asset from client.
func (p *Platform) CreateJob(ctx context.Context, client, freelancer common.Address, total amount.Amount, asset common.Address, milestones uint32) (common.Hash, ledger.Receipt, error) {
	var id common.Hash
	receipt, err := p.invoke(ctx, "create_job", []common.Address{client}, func(env *ledger.Env) error {
		var err error
		id, err = p.escrow.CreateJob(env, client, freelancer, total, asset, milestones)
		return err
	})
	return id, receipt, err
}

// SubmitProof is signed by the freelancer.
func (p *Platform) SubmitProof(ctx context.Context, signer common.Address, jobID common.Hash, milestoneID uint32, proof string) (ledger.Receipt, error) {
	return p.invoke(ctx, "submit_proof", []common.Address{signer}, func(env *ledger.Env) error {
		return p.escrow.SubmitProof(env, jobID, milestoneID, proof)
	})
}

// ApproveMilestone is signed by the client.
func (p *Platform) ApproveMilestone(ctx context.Context, signer common.Address, jobID common.Hash, milestoneID uint32) (ledger.Receipt, error) {
	return p.invoke(ctx, "approve_milestone", []common.Address{signer}, func(env *ledger.Env) error {
		return p.escrow.ApproveMilestone(env, jobID, milestoneID)
	})
}

// ReleasePayment is signed by the client. target may be nil.
func (p *Platform) ReleasePayment(ctx context.Context, signer common.Address, jobID common.Hash, milestoneID uint32, target *common.Address) (amount.Amount, ledger.Receipt, error) {
	var paid amount.Amount
	receipt, err := p.invoke(ctx, "release_payment", []common.Address{signer}, func(env *ledger.Env) error {
		var err error
		paid, err = p.escrow.ReleasePayment(env, jobID, milestoneID, target)
		return err
	})
	return paid, receipt, err
}

// CancelJob is signed by the client.
func (p *Platform) CancelJob(ctx context.Context, signer common.Address, jobID common.Hash) (amount.Amount, ledger.Receipt, error) {
	var refund amount.Amount
	receipt, err := p.invoke(ctx, "cancel_job", []common.Address{signer}, func(env *ledger.Env) error {
		var err error
		refund, err = p.escrow.CancelJob(env, jobID)
		return err
	})
	return refund, receipt, err
}

// FinalizeJob is signed by the client.
func (p *Platform) FinalizeJob(ctx context.Context, signer common.Address, jobID common.Hash) (amount.Amount, ledger.Receipt, error) {
	var paid amount.Amount
	receipt, err := p.invoke(ctx, "finalize_job", []common.Address{signer}, func(env *ledger.Env) error {
		var err error
		paid, err = p.escrow.FinalizeJob(env, jobID)
		return err
	})
	return paid, receipt, err
}

// GetJob reads a job.
func (p *Platform) GetJob(ctx context.Context, jobID common.Hash) (escrow.Job, error) {
	var job escrow.Job
	err := p.view(ctx, func(env *ledger.Env) error {
		var err error
		job, err = p.escrow.GetJob(env, jobID)
		return err
	})
	return job, err
}

// ListClientJobs lists jobs created by client.
func (p *Platform) ListClientJobs(ctx context.Context, client common.Address) ([]escrow.Job, error) {
	var jobs []escrow.Job
	err := p.view(ctx, func(env *ledger.Env) error {
		var err error
		jobs, err = p.escrow.ListClientJobs(env, client)
		return err
	})
	return jobs, err
}

// ListFreelancerJobs lists jobs assigned to freelancer.
func (p *Platform) ListFreelancerJobs(ctx context.Context, freelancer common.Address) ([]escrow.Job, error) {
	var jobs []escrow.Job
	err := p.view(ctx, func(env *ledger.Env) error {
		var err error
		jobs, err = p.escrow.ListFreelancerJobs(env, freelancer)
		return err
	})
	return jobs, err
}

// Deposit moves amt of the settlement asset from owner into custody.
func (p *Platform) Deposit(ctx context.Context, owner common.Address, amt amount.Amount, asset common.Address) (amount.Amount, ledger.Receipt, error) {
	var units amount.Amount
	receipt, err := p.invoke(ctx, "deposit", []common.Address{owner}, func(env *ledger.Env) error {
		var err error
		units, err = p.custody.Deposit(env, owner, amt, asset)
		return err
	})
	return units, receipt, err
}

// HarvestYield compounds owner's yield.
func (p *Platform) HarvestYield(ctx context.Context, owner common.Address) (amount.Amount, ledger.Receipt, error) {
	var yield amount.Amount
	receipt, err := p.invoke(ctx, "harvest_yield", []common.Address{owner}, func(env *ledger.Env) error {
		var err error
		yield, err = p.custody.HarvestYield(env, owner)
		return err
	})
	return yield, receipt, err
}

// Withdraw redeems units of owner's balance.
func (p *Platform) Withdraw(ctx context.Context, owner common.Address, units amount.Amount) (amount.Amount, ledger.Receipt, error) {
	var paid amount.Amount
	receipt, err := p.invoke(ctx, "withdraw", []common.Address{owner}, func(env *ledger.Env) error {
		var err error
		paid, err = p.custody.Withdraw(env, owner, units)
		return err
	})
	return paid, receipt, err
}

// WithdrawPrincipal redeems amt of owner's principal.
func (p *Platform) WithdrawPrincipal(ctx context.Context, owner common.Address, amt amount.Amount) (amount.Amount, ledger.Receipt, error) {
	var paid amount.Amount
	receipt, err := p.invoke(ctx, "withdraw_principal", []common.Address{owner}, func(env *ledger.Env) error {
		var err error
		paid, err = p.custody.WithdrawPrincipal(env, owner, amt)
		return err
	})
	return paid, receipt, err
}

// PositionView is a custody position with its pending yield.
type PositionView struct {
	custody.Position
	PendingYield amount.Amount `json:"pending_yield"`
}

// GetPosition reads owner's custody position.
func (p *Platform) GetPosition(ctx context.Context, owner common.Address) (PositionView, error) {
	var out PositionView
	err := p.view(ctx, func(env *ledger.Env) error {
		pos, err := p.custody.GetPosition(env, owner)
		if err != nil {
			return err
		}
		pending, err := p.custody.CalculateYield(env, owner)
		if err != nil {
			return err
		}
		out = PositionView{Position: pos, PendingYield: pending}
		return nil
	})
	return out, err
}

// CustodySummary aggregates custody-wide figures.
type CustodySummary struct {
	Config        custody.Config `json:"config"`
	TotalDeposits amount.Amount  `json:"total_deposits"`
	YieldReserve  amount.Amount  `json:"yield_reserve"`
}

// Custody returns the custody configuration and aggregates.
func (p *Platform) Custody(ctx context.Context) (CustodySummary, error) {
	var out CustodySummary
	err := p.view(ctx, func(env *ledger.Env) error {
		var err error
		if out.Config, err = p.custody.Config(env); err != nil {
			return err
		}
		if out.TotalDeposits, err = p.custody.TotalDeposits(env); err != nil {
			return err
		}
		out.YieldReserve, err = p.custody.YieldReserve(env)
		return err
	})
	return out, err
}

// Swap converts amt of from owned by sender and pays recipient.
func (p *Platform) Swap(ctx context.Context, sender, from, to common.Address, amt amount.Amount, recipient common.Address, maxSlippageBps uint32) (amount.Amount, ledger.Receipt, error) {
	var out amount.Amount
	receipt, err := p.invoke(ctx, "swap", []common.Address{sender}, func(env *ledger.Env) error {
		var err error
		out, err = p.router.Swap(env, sender, from, to, amt, recipient, maxSlippageBps)
		return err
	})
	return out, receipt, err
}

// Quote is the expected output of converting amt of from into to.
type Quote struct {
	From     common.Address   `json:"from"`
	To       common.Address   `json:"to"`
	AmountIn amount.Amount    `json:"amount_in"`
	Expected amount.Amount    `json:"expected"`
	Path     []common.Address `json:"path"`
}

// Quote prices a conversion without changing state.
func (p *Platform) Quote(ctx context.Context, from, to common.Address, amt amount.Amount) (Quote, error) {
	q := Quote{From: from, To: to, AmountIn: amt}
	err := p.view(ctx, func(env *ledger.Env) error {
		var err error
		if q.Path, err = p.router.Path(env, from, to); err != nil {
			return err
		}
		q.Expected, err = p.router.GetExchangeRate(env, from, to, amt)
		return err
	})
	return q, err
}

// PoolReserves reads the reserves of the pool for a and b.
func (p *Platform) PoolReserves(ctx context.Context, a, b common.Address) (oracle.Reserves, error) {
	var out oracle.Reserves
	err := p.view(ctx, func(env *ledger.Env) error {
		var err error
		out, err = p.router.GetPoolReserves(env, p.router.GetPoolAddress(a, b))
		return err
	})
	return out, err
}

// ListPools lists the on-ledger pools. It is empty when an external oracle is
// configured.
func (p *Platform) ListPools(ctx context.Context) ([]oracle.PoolInfo, error) {
	if p.liquidity == nil {
		return nil, nil
	}
	var out []oracle.PoolInfo
	err := p.view(ctx, func(env *ledger.Env) error {
		var err error
		out, err = p.liquidity.List(env)
		return err
	})
	return out, err
}

// AddLiquidity deposits both sides of a pool from provider.
func (p *Platform) AddLiquidity(ctx context.Context, provider, assetA common.Address, amountA amount.Amount, assetB common.Address, amountB amount.Amount) (common.Address, ledger.Receipt, error) {
	if p.liquidity == nil {
		return common.Address{}, ledger.Receipt{}, xerrors.New(xerrors.CodeInvalidState, "liquidity is managed by an external oracle")
	}
	var pool common.Address
	receipt, err := p.invoke(ctx, "add_liquidity", []common.Address{provider}, func(env *ledger.Env) error {
		var err error
		pool, err = p.liquidity.AddLiquidity(env, provider, assetA, amountA, assetB, amountB)
		return err
	})
	return pool, receipt, err
}

// Balance reads account's balance of asset.
func (p *Platform) Balance(ctx context.Context, asset, account common.Address) (amount.Amount, error) {
	var bal amount.Amount
	err := p.view(ctx, func(env *ledger.Env) error {
		var err error
		bal, err = p.bank.Balance(env, asset, account)
		return err
	})
	return bal, err
}

// Transfer moves amt of asset from from to to.
func (p *Platform) Transfer(ctx context.Context, from, asset, to common.Address, amt amount.Amount) (ledger.Receipt, error) {
	return p.invoke(ctx, "transfer", []common.Address{from}, func(env *ledger.Env) error {
		return p.bank.Transfer(env, asset, from, to, amt)
	})
}
