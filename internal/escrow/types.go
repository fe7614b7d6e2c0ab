package escrow

import (
	"github.com/ethereum/go-ethereum/common"

	"FlowPay-Chain/pkg/amount"
)

// JobStatus is the lifecycle state of a job.
type JobStatus string

const (
	JobActive    JobStatus = "Active"
	JobCompleted JobStatus = "Completed"
	// JobDisputed is reserved; no operation enters it yet.
	JobDisputed  JobStatus = "Disputed"
	JobCancelled JobStatus = "Cancelled"
)

// MilestoneStatus is the lifecycle state of a milestone.
type MilestoneStatus string

const (
	MilestonePending        MilestoneStatus = "Pending"
	MilestoneProofSubmitted MilestoneStatus = "ProofSubmitted"
	MilestoneApproved       MilestoneStatus = "Approved"
	MilestonePaid           MilestoneStatus = "Paid"
)

// Milestone is a separately releasable share of a job.
type Milestone struct {
	ID             uint32          `json:"id"`
	Amount         amount.Amount   `json:"amount"`
	ProofReference string          `json:"proof_reference,omitempty"`
	Status         MilestoneStatus `json:"status"`
	PaidAmount     amount.Amount   `json:"paid_amount"`
	PaidAsset      *common.Address `json:"paid_asset,omitempty"`
	UpdatedAt      uint64          `json:"updated_at"`
}

// Job is an escrowed engagement between a client and a freelancer.
//
// The milestone amounts plus Remainder always equal TotalAmount. Principal
// tracks the part of the job still held in custody.
type Job struct {
	ID             common.Hash    `json:"id"`
	Client         common.Address `json:"client"`
	Freelancer     common.Address `json:"freelancer"`
	TotalAmount    amount.Amount  `json:"total_amount"`
	Asset          common.Address `json:"asset"`
	Milestones     []Milestone    `json:"milestones"`
	Status         JobStatus      `json:"status"`
	CreatedAt      uint64         `json:"created_at"`
	YieldEarned    amount.Amount  `json:"yield_earned"`
	Remainder      amount.Amount  `json:"remainder"`
	Custodied      bool           `json:"custodied"`
	CustodyAccount common.Address `json:"custody_account"`
	Principal      amount.Amount  `json:"principal"`
	Finalized      bool           `json:"finalized"`
}

func (j *Job) milestone(id uint32) (*Milestone, bool) {
	if id == 0 || int(id) > len(j.Milestones) {
		return nil, false
	}
	return &j.Milestones[id-1], true
}

func (j *Job) allPaid() bool {
	for _, m := range j.Milestones {
		if m.Status != MilestonePaid {
			return false
		}
	}
	return true
}

// unpaid sums the milestones not yet paid plus the remainder.
func (j *Job) unpaid() (amount.Amount, error) {
	total := j.Remainder
	for _, m := range j.Milestones {
		if m.Status == MilestonePaid {
			continue
		}
		next, err := total.Add(m.Amount)
		if err != nil {
			return amount.Zero, err
		}
		total = next
	}
	return total, nil
}

// Config is the init-once escrow configuration.
type Config struct {
	Admin           common.Address `json:"admin"`
	SettlementAsset common.Address `json:"settlement_asset"`
	InitializedAt   uint64         `json:"initialized_at"`
}
