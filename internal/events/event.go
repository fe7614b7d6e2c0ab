// Package events carries the structured notifications emitted by committed
// ledger invocations to an external sink.
package events

import (
	"encoding/json"
	"fmt"
)

// Topics emitted by the platform components.
const (
	TopicJobCreated         = "job_created"
	TopicProofSubmitted     = "proof_submitted"
	TopicMilestoneApproved  = "milestone_approved"
	TopicPaymentReleased    = "payment_released"
	TopicJobCancelled       = "job_cancelled"
	TopicJobFinalized       = "job_finalized"
	TopicConversionComplete = "conversion_complete"
	TopicDeposit            = "deposit"
	TopicHarvest            = "yield_harvested"
	TopicWithdraw           = "withdraw"
	TopicLiquidityAdded     = "liquidity_added"
)

// Event 描述一次已提交调用产生的结构化通知。
type Event struct {
	ID        string          `json:"id"`
	TxID      string          `json:"tx_id"`
	Topic     string          `json:"topic"`
	Contract  string          `json:"contract,omitempty"`
	Sequence  uint64          `json:"sequence"`
	Timestamp uint64          `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Decode unmarshals the payload into out.
func (e Event) Decode(out any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("event %s has no payload", e.ID)
	}
	return json.Unmarshal(e.Data, out)
}

func encode(evt Event) ([]byte, error) {
	return json.Marshal(evt)
}

func decode(data []byte) (Event, error) {
	var evt Event
	if err := json.Unmarshal(data, &evt); err != nil {
		return Event{}, fmt.Errorf("解析事件失败: %w", err)
	}
	return evt, nil
}
