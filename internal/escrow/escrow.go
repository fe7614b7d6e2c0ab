// Package escrow implements the milestone escrow. Client funds are locked at
// creation, forwarded to yield custody when they are in the settlement asset,
// and released to the freelancer milestone by milestone, optionally through
// the conversion router.
package escrow

import (
	"github.com/ethereum/go-ethereum/common"

	xerrors "FlowPay-Chain/internal/errors"
	"FlowPay-Chain/internal/custody"
	"FlowPay-Chain/internal/events"
	"FlowPay-Chain/internal/ledger"
	"FlowPay-Chain/pkg/amount"
)

const (
	// ContractName names the escrow account.
	ContractName = "escrow"
	// ReleaseSlippageBps bounds conversions made at release time.
	ReleaseSlippageBps = 100
	// MaxMilestones caps the milestones of one job.
	MaxMilestones = 64

	jobDomain     = "flowpay_job"
	custodyDomain = "flowpay_job_custody"
)

var (
	configKey  = ledger.NewKey(ContractName, "config")
	counterKey = ledger.NewKey(ContractName, "job_counter")
)

func jobKey(id common.Hash) ledger.Key {
	return ledger.NewKey(ContractName, "job", ledger.HashPart(id))
}

func clientIndexKey(client common.Address) ledger.Key {
	return ledger.NewKey(ContractName, "client", ledger.AddressPart(client))
}

func freelancerIndexKey(freelancer common.Address) ledger.Key {
	return ledger.NewKey(ContractName, "freelancer", ledger.AddressPart(freelancer))
}

// Bank is the subset of the asset transfer collaborator used by escrow.
type Bank interface {
	Transfer(env *ledger.Env, asset, from, to common.Address, amt amount.Amount) error
}

// Custodian is the yield custody surface escrow depends on.
type Custodian interface {
	Address() common.Address
	DepositFor(env *ledger.Env, owner common.Address, amt amount.Amount, asset common.Address) (amount.Amount, error)
	HarvestFor(env *ledger.Env, owner common.Address) (amount.Amount, error)
	WithdrawFor(env *ledger.Env, owner common.Address, units amount.Amount, recipient common.Address) (amount.Amount, error)
	WithdrawPrincipalFor(env *ledger.Env, owner common.Address, amt amount.Amount, recipient common.Address) (amount.Amount, error)
	GetPosition(env *ledger.Env, owner common.Address) (custody.Position, error)
	CalculateYield(env *ledger.Env, owner common.Address) (amount.Amount, error)
}

// Converter is the conversion router surface escrow depends on.
type Converter interface {
	Address() common.Address
	ConvertAndSend(env *ledger.Env, from, to common.Address, amt amount.Amount, recipient common.Address, maxSlippageBps uint32) (amount.Amount, error)
}

// Escrow owns jobs and milestones.
type Escrow struct {
	bank    Bank
	custody Custodian
	router  Converter
	address common.Address
}

// New wires escrow to its collaborators.
func New(bank Bank, custodian Custodian, router Converter) *Escrow {
	return &Escrow{bank: bank, custody: custodian, router: router, address: ledger.ContractAddress(ContractName)}
}

// Address returns the escrow account.
func (e *Escrow) Address() common.Address { return e.address }

// JobCustodyAccount returns the custody owner used for job id.
func JobCustodyAccount(id common.Hash) common.Address {
	return ledger.DeriveAddress(custodyDomain, id.Bytes())
}

// Initialize stores the configuration. It can only be called once.
func (e *Escrow) Initialize(env *ledger.Env, admin, settlementAsset common.Address) error {
	if admin == (common.Address{}) || settlementAsset == (common.Address{}) {
		return xerrors.New(xerrors.CodeInvalidArgument, "admin and settlement asset are required")
	}
	if err := env.RequireAuth(admin); err != nil {
		return err
	}
	exists, err := env.Has(configKey)
	if err != nil {
		return err
	}
	if exists {
		return xerrors.New(xerrors.CodeAlreadyInitialized, "escrow already initialized")
	}
	return env.Set(configKey, Config{Admin: admin, SettlementAsset: settlementAsset, InitializedAt: env.Now()})
}

// Config returns the stored configuration.
func (e *Escrow) Config(env *ledger.Env) (Config, error) {
	var cfg Config
	ok, err := env.Get(configKey, &cfg)
	if err != nil {
		return Config{}, err
	}
	if !ok {
		return Config{}, xerrors.New(xerrors.CodeInvalidState, "escrow not initialized")
	}
	return cfg, nil
}

type jobSeed struct {
	Client         string `json:"client"`
	Freelancer     string `json:"freelancer"`
	TotalAmount    string `json:"total_amount"`
	Asset          string `json:"asset"`
	MilestoneCount uint32 `json:"milestone_count"`
	Counter        uint64 `json:"counter"`
	Timestamp      uint64 `json:"timestamp"`
	Sequence       uint64 `json:"sequence"`
}

// CreateJob locks total of asset from client and splits it into count equal
// milestones. The division remainder stays with the job and is returned to
// the client by CancelJob or FinalizeJob.
func (e *Escrow) CreateJob(env *ledger.Env, client, freelancer common.Address, total amount.Amount, asset common.Address, count uint32) (common.Hash, error) {
	switch {
	case count == 0:
		return common.Hash{}, xerrors.New(xerrors.CodeInvalidArgument, "milestone count must be positive")
	case count > MaxMilestones:
		return common.Hash{}, xerrors.Newf(xerrors.CodeInvalidArgument, "at most %d milestones per job", MaxMilestones)
	case !total.IsPositive():
		return common.Hash{}, xerrors.New(xerrors.CodeInvalidArgument, "total amount must be positive")
	case client == (common.Address{}) || freelancer == (common.Address{}) || asset == (common.Address{}):
		return common.Hash{}, xerrors.New(xerrors.CodeInvalidArgument, "client, freelancer and asset are required")
	case client == freelancer:
		return common.Hash{}, xerrors.New(xerrors.CodeInvalidArgument, "client and freelancer must differ")
	}
	cfg, err := e.Config(env)
	if err != nil {
		return common.Hash{}, err
	}
	if err := env.RequireAuth(client); err != nil {
		return common.Hash{}, err
	}

	var id common.Hash
	err = env.Call(e.address, func() error {
		var counter uint64
		if _, err := env.Get(counterKey, &counter); err != nil {
			return err
		}
		counter++
		if err := env.Set(counterKey, counter); err != nil {
			return err
		}
		id, err = ledger.DeriveID(jobDomain, jobSeed{
			Client:         client.Hex(),
			Freelancer:     freelancer.Hex(),
			TotalAmount:    total.String(),
			Asset:          asset.Hex(),
			MilestoneCount: count,
			Counter:        counter,
			Timestamp:      env.Now(),
			Sequence:       env.Sequence(),
		})
		if err != nil {
			return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "derive job id")
		}
		if exists, err := env.Has(jobKey(id)); err != nil {
			return err
		} else if exists {
			return xerrors.Newf(xerrors.CodeInvalidState, "job %s already exists", id.Hex())
		}

		job, err := newJob(id, client, freelancer, total, asset, count, env.Now())
		if err != nil {
			return err
		}
		if err := e.bank.Transfer(env, asset, client, e.address, total); err != nil {
			return err
		}
		if asset == cfg.SettlementAsset {
			job.Custodied = true
			job.CustodyAccount = JobCustodyAccount(id)
			job.Principal = total
			if err := e.bank.Transfer(env, asset, e.address, e.custody.Address(), total); err != nil {
				return err
			}
			if _, err := e.custody.DepositFor(env, job.CustodyAccount, total, asset); err != nil {
				return err
			}
		}
		if err := e.saveJob(env, job); err != nil {
			return err
		}
		if err := appendIndex(env, clientIndexKey(client), id); err != nil {
			return err
		}
		if err := appendIndex(env, freelancerIndexKey(freelancer), id); err != nil {
			return err
		}
		return env.Emit(events.TopicJobCreated, map[string]any{
			"job_id":          id.Hex(),
			"client":          client.Hex(),
			"freelancer":      freelancer.Hex(),
			"total_amount":    total,
			"asset":           asset.Hex(),
			"milestone_count": count,
			"custodied":       job.Custodied,
		})
	})
	if err != nil {
		return common.Hash{}, err
	}
	return id, nil
}

func newJob(id common.Hash, client, freelancer common.Address, total amount.Amount, asset common.Address, count uint32, now uint64) (Job, error) {
	per, err := total.QuoInt64(int64(count))
	if err != nil {
		return Job{}, err
	}
	remainder, err := total.Rem(amount.New(int64(count)))
	if err != nil {
		return Job{}, err
	}
	milestones := make([]Milestone, count)
	for i := range milestones {
		milestones[i] = Milestone{ID: uint32(i + 1), Amount: per, Status: MilestonePending, UpdatedAt: now}
	}
	return Job{
		ID:          id,
		Client:      client,
		Freelancer:  freelancer,
		TotalAmount: total,
		Asset:       asset,
		Milestones:  milestones,
		Status:      JobActive,
		CreatedAt:   now,
		Remainder:   remainder,
	}, nil
}

// SubmitProof attaches proof to a pending milestone.
func (e *Escrow) SubmitProof(env *ledger.Env, jobID common.Hash, milestoneID uint32, proof string) error {
	job, err := e.GetJob(env, jobID)
	if err != nil {
		return err
	}
	if err := env.RequireAuth(job.Freelancer); err != nil {
		return err
	}
	if proof == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "proof reference is required")
	}
	m, err := activeMilestone(&job, milestoneID)
	if err != nil {
		return err
	}
	if m.Status != MilestonePending {
		return xerrors.Newf(xerrors.CodeInvalidState, "milestone %d is %s, want %s", milestoneID, m.Status, MilestonePending)
	}
	m.Status = MilestoneProofSubmitted
	m.ProofReference = proof
	m.UpdatedAt = env.Now()
	return env.Call(e.address, func() error {
		if err := e.saveJob(env, job); err != nil {
			return err
		}
		return env.Emit(events.TopicProofSubmitted, map[string]any{
			"job_id":          jobID.Hex(),
			"milestone_id":    milestoneID,
			"proof_reference": proof,
		})
	})
}

// ApproveMilestone marks a milestone approved. Approving an approved
// milestone is a no-op apart from the event.
func (e *Escrow) ApproveMilestone(env *ledger.Env, jobID common.Hash, milestoneID uint32) error {
	job, err := e.GetJob(env, jobID)
	if err != nil {
		return err
	}
	if err := env.RequireAuth(job.Client); err != nil {
		return err
	}
	m, err := activeMilestone(&job, milestoneID)
	if err != nil {
		return err
	}
	if m.Status == MilestonePaid {
		return xerrors.Newf(xerrors.CodeInvalidState, "milestone %d already paid", milestoneID)
	}
	if m.Status != MilestoneApproved {
		m.Status = MilestoneApproved
		m.UpdatedAt = env.Now()
	}
	return env.Call(e.address, func() error {
		if err := e.saveJob(env, job); err != nil {
			return err
		}
		return env.Emit(events.TopicMilestoneApproved, map[string]any{
			"job_id":       jobID.Hex(),
			"milestone_id": milestoneID,
		})
	})
}

// ReleasePayment pays an approved milestone to the freelancer. When target
// names another asset the payment is converted through the router with at
// most ReleaseSlippageBps slippage. It returns the amount the freelancer
// received.
func (e *Escrow) ReleasePayment(env *ledger.Env, jobID common.Hash, milestoneID uint32, target *common.Address) (amount.Amount, error) {
	job, err := e.GetJob(env, jobID)
	if err != nil {
		return amount.Zero, err
	}
	if err := env.RequireAuth(job.Client); err != nil {
		return amount.Zero, err
	}
	m, err := activeMilestone(&job, milestoneID)
	if err != nil {
		return amount.Zero, err
	}
	if m.Status != MilestoneApproved {
		return amount.Zero, xerrors.Newf(xerrors.CodeInvalidState, "milestone %d is %s, want %s", milestoneID, m.Status, MilestoneApproved)
	}

	var paid amount.Amount
	err = env.Call(e.address, func() error {
		realized := m.Amount
		if job.Custodied && m.Amount.IsPositive() {
			// Fold accrued yield in first so it is not computed on the reduced balance.
			if _, err := e.custody.HarvestFor(env, job.CustodyAccount); err != nil {
				return err
			}
			got, err := e.custody.WithdrawPrincipalFor(env, job.CustodyAccount, m.Amount, e.address)
			if err != nil {
				return err
			}
			realized = got
			if job.Principal, err = job.Principal.Sub(m.Amount); err != nil {
				return err
			}
		}

		paidAsset := job.Asset
		paid = realized
		switch {
		case !realized.IsPositive():
		case target != nil && *target != job.Asset:
			if err := e.bank.Transfer(env, job.Asset, e.address, e.router.Address(), realized); err != nil {
				return err
			}
			out, err := e.router.ConvertAndSend(env, job.Asset, *target, realized, job.Freelancer, ReleaseSlippageBps)
			if err != nil {
				return err
			}
			paid = out
			paidAsset = *target
		default:
			if err := e.bank.Transfer(env, job.Asset, e.address, job.Freelancer, realized); err != nil {
				return err
			}
		}

		m.Status = MilestonePaid
		m.PaidAmount = paid
		m.PaidAsset = &paidAsset
		m.UpdatedAt = env.Now()
		if job.allPaid() {
			job.Status = JobCompleted
		}
		if err := e.saveJob(env, job); err != nil {
			return err
		}
		return env.Emit(events.TopicPaymentReleased, map[string]any{
			"job_id":       jobID.Hex(),
			"milestone_id": milestoneID,
			"freelancer":   job.Freelancer.Hex(),
			"amount":       m.Amount,
			"paid_amount":  paid,
			"paid_asset":   paidAsset.Hex(),
			"job_status":   job.Status,
		})
	})
	if err != nil {
		return amount.Zero, err
	}
	return paid, nil
}

// CancelJob refunds everything not yet paid to the client. For custodied
// jobs the refund includes the yield accrued on the job's position, so it can
// exceed the nominal unpaid sum.
func (e *Escrow) CancelJob(env *ledger.Env, jobID common.Hash) (amount.Amount, error) {
	job, err := e.GetJob(env, jobID)
	if err != nil {
		return amount.Zero, err
	}
	if err := env.RequireAuth(job.Client); err != nil {
		return amount.Zero, err
	}
	if job.Status != JobActive {
		return amount.Zero, xerrors.Newf(xerrors.CodeInvalidState, "job %s is %s", jobID.Hex(), job.Status)
	}
	nominal, err := job.unpaid()
	if err != nil {
		return amount.Zero, err
	}

	var refund amount.Amount
	err = env.Call(e.address, func() error {
		if job.Custodied {
			withdrawn, err := e.drainCustody(env, &job)
			if err != nil {
				return err
			}
			refund = withdrawn
		} else {
			refund = nominal
			if refund.IsPositive() {
				if err := e.bank.Transfer(env, job.Asset, e.address, job.Client, refund); err != nil {
					return err
				}
			}
		}
		job.Status = JobCancelled
		if err := e.saveJob(env, job); err != nil {
			return err
		}
		return env.Emit(events.TopicJobCancelled, map[string]any{
			"job_id":       jobID.Hex(),
			"client":       job.Client.Hex(),
			"nominal":      nominal,
			"refund":       refund,
			"yield_earned": job.YieldEarned,
		})
	})
	if err != nil {
		return amount.Zero, err
	}
	return refund, nil
}

// FinalizeJob pays the remainder and any yield left on a completed job to
// the client and records the yield. It can run once per job.
func (e *Escrow) FinalizeJob(env *ledger.Env, jobID common.Hash) (amount.Amount, error) {
	job, err := e.GetJob(env, jobID)
	if err != nil {
		return amount.Zero, err
	}
	if err := env.RequireAuth(job.Client); err != nil {
		return amount.Zero, err
	}
	if job.Status != JobCompleted {
		return amount.Zero, xerrors.Newf(xerrors.CodeInvalidState, "job %s is %s, want %s", jobID.Hex(), job.Status, JobCompleted)
	}
	if job.Finalized {
		return amount.Zero, xerrors.Newf(xerrors.CodeInvalidState, "job %s already finalized", jobID.Hex())
	}

	var paid amount.Amount
	err = env.Call(e.address, func() error {
		if job.Custodied {
			withdrawn, err := e.drainCustody(env, &job)
			if err != nil {
				return err
			}
			paid = withdrawn
		} else {
			paid = job.Remainder
			if paid.IsPositive() {
				if err := e.bank.Transfer(env, job.Asset, e.address, job.Client, paid); err != nil {
					return err
				}
			}
		}
		job.Finalized = true
		if err := e.saveJob(env, job); err != nil {
			return err
		}
		return env.Emit(events.TopicJobFinalized, map[string]any{
			"job_id":       jobID.Hex(),
			"client":       job.Client.Hex(),
			"paid":         paid,
			"yield_earned": job.YieldEarned,
		})
	})
	if err != nil {
		return amount.Zero, err
	}
	return paid, nil
}

// drainCustody withdraws the job's whole custody position, including yield
// accrued up to now, to the client. The surplus over the tracked principal is
// added to YieldEarned and the tracker is zeroed.
func (e *Escrow) drainCustody(env *ledger.Env, job *Job) (amount.Amount, error) {
	pos, err := e.custody.GetPosition(env, job.CustodyAccount)
	if err != nil {
		return amount.Zero, err
	}
	pending, err := e.custody.CalculateYield(env, job.CustodyAccount)
	if err != nil {
		return amount.Zero, err
	}
	units, err := pos.Balance.Add(pending)
	if err != nil {
		return amount.Zero, err
	}
	withdrawn := amount.Zero
	if units.IsPositive() {
		if withdrawn, err = e.custody.WithdrawFor(env, job.CustodyAccount, units, job.Client); err != nil {
			return amount.Zero, err
		}
	}
	if surplus, err := withdrawn.Sub(job.Principal); err != nil {
		return amount.Zero, err
	} else if surplus.IsPositive() {
		if job.YieldEarned, err = job.YieldEarned.Add(surplus); err != nil {
			return amount.Zero, err
		}
	}
	job.Principal = amount.Zero
	return withdrawn, nil
}

// GetJob loads a job.
func (e *Escrow) GetJob(env *ledger.Env, jobID common.Hash) (Job, error) {
	var job Job
	ok, err := env.Get(jobKey(jobID), &job)
	if err != nil {
		return Job{}, err
	}
	if !ok {
		return Job{}, xerrors.Newf(xerrors.CodeNotFound, "job %s not found", jobID.Hex())
	}
	return job, nil
}

// ListClientJobs returns the jobs created by client, oldest first.
func (e *Escrow) ListClientJobs(env *ledger.Env, client common.Address) ([]Job, error) {
	return e.listJobs(env, clientIndexKey(client))
}

// ListFreelancerJobs returns the jobs assigned to freelancer, oldest first.
func (e *Escrow) ListFreelancerJobs(env *ledger.Env, freelancer common.Address) ([]Job, error) {
	return e.listJobs(env, freelancerIndexKey(freelancer))
}

func (e *Escrow) listJobs(env *ledger.Env, key ledger.Key) ([]Job, error) {
	var ids []common.Hash
	if _, err := env.Get(key, &ids); err != nil {
		return nil, err
	}
	jobs := make([]Job, 0, len(ids))
	for _, id := range ids {
		job, err := e.GetJob(env, id)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (e *Escrow) saveJob(env *ledger.Env, job Job) error {
	return env.Set(jobKey(job.ID), job)
}

func appendIndex(env *ledger.Env, key ledger.Key, id common.Hash) error {
	var ids []common.Hash
	if _, err := env.Get(key, &ids); err != nil {
		return err
	}
	return env.Set(key, append(ids, id))
}

func activeMilestone(job *Job, milestoneID uint32) (*Milestone, error) {
	if job.Status != JobActive {
		return nil, xerrors.Newf(xerrors.CodeInvalidState, "job %s is %s", job.ID.Hex(), job.Status)
	}
	m, ok := job.milestone(milestoneID)
	if !ok {
		return nil, xerrors.Newf(xerrors.CodeNotFound, "milestone %d not found in job %s", milestoneID, job.ID.Hex())
	}
	return m, nil
}
