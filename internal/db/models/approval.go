package models

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// ApprovalDecision is the outcome of the approval step for a service request
type ApprovalDecision string

// Approval decision constants
const (
	// ApprovalAutoApproved indicates an auto-approval rule accepted the request
	ApprovalAutoApproved ApprovalDecision = "auto-approved"
	// ApprovalManuallyApproved indicates a named approver accepted the request
	ApprovalManuallyApproved ApprovalDecision = "manually-approved"
	// ApprovalRejected indicates a named approver rejected the request
	ApprovalRejected ApprovalDecision = "rejected"
)

// ParseApprovalDecision converts a string to an ApprovalDecision
func ParseApprovalDecision(str string) (ApprovalDecision, error) {
	switch ApprovalDecision(str) {
	case ApprovalAutoApproved, ApprovalManuallyApproved, ApprovalRejected:
		return ApprovalDecision(str), nil
	}
	return "", fmt.Errorf("invalid approval decision: %s", str)
}

// Approved reports whether the decision lets the request proceed to execution
func (d ApprovalDecision) Approved() bool {
	return d == ApprovalAutoApproved || d == ApprovalManuallyApproved
}

// UnmarshalJSON implements json.Unmarshaler for ApprovalDecision
func (d *ApprovalDecision) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}

	decision, err := ParseApprovalDecision(str)
	if err != nil {
		return err
	}

	*d = decision
	return nil
}

// ApprovalRecord is the write-once record of how a service request was approved or rejected
type ApprovalRecord struct {
	ID          uint             `json:"id" gorm:"primaryKey"`
	RequestID   string           `json:"request_id" gorm:"not null; index"`
	Decision    ApprovalDecision `json:"decision" gorm:"not null; index"`
	ApproverID  string           `json:"approver_id,omitempty"`
	DecidedAt   time.Time        `json:"decided_at" gorm:"not null"`
	RuleApplied string           `json:"rule_applied,omitempty"`
	Reason      string           `json:"reason,omitempty" gorm:"type:text"`
	JobID       string           `json:"job_id,omitempty" gorm:"index"`
	SLADeadline *time.Time       `json:"sla_deadline,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
}

// Validate ensures that the approval record is consistent
func (a *ApprovalRecord) Validate() error {
	if a.RequestID == "" {
		return fmt.Errorf("approval request id cannot be empty")
	}
	if _, err := ParseApprovalDecision(string(a.Decision)); err != nil {
		return err
	}
	if a.Decision == ApprovalManuallyApproved || a.Decision == ApprovalRejected {
		if a.ApproverID == "" {
			return fmt.Errorf("approver id is required for %s decisions", a.Decision)
		}
	}
	if a.Decision == ApprovalRejected && a.JobID != "" {
		return fmt.Errorf("rejected request %s cannot reference a job", a.RequestID)
	}
	return nil
}

// BeforeCreate is a GORM hook that runs before creating an approval record
func (a *ApprovalRecord) BeforeCreate(_ *gorm.DB) error {
	return a.Validate()
}

// BeforeUpdate rejects any modification of a stored approval record
func (a *ApprovalRecord) BeforeUpdate(_ *gorm.DB) error {
	return fmt.Errorf("approval record for request %s is immutable", a.RequestID)
}
