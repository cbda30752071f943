package models

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// RequestStatus tracks a service request that is waiting on, or has received, an approval decision
type RequestStatus string

// Request status constants
const (
	// RequestStatusAwaitingApproval indicates the request needs a named approver
	RequestStatusAwaitingApproval RequestStatus = "awaiting-approval"
	// RequestStatusApproved indicates the request was approved and a job was created
	RequestStatusApproved RequestStatus = "approved"
	// RequestStatusRejected indicates the request was rejected
	RequestStatusRejected RequestStatus = "rejected"
)

// ServiceRequest is a submitted request held by the workflow engine until it is decided
type ServiceRequest struct {
	ID            string        `json:"id" gorm:"primaryKey;size:64"`
	RequesterID   string        `json:"requester_id" gorm:"not null; index"`
	Kind          JobKind       `json:"kind" gorm:"not null"`
	Priority      Priority      `json:"priority" gorm:"not null"`
	Payload       Payload       `json:"payload" gorm:"serializer:json"`
	CostEstimate  float64       `json:"cost_estimate"`
	Justification string        `json:"justification,omitempty" gorm:"type:text"`
	Status        RequestStatus `json:"status" gorm:"not null; index"`
	SubmittedAt   time.Time     `json:"submitted_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// Validate ensures that the request data is valid
func (r *ServiceRequest) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("request id cannot be empty")
	}
	if r.RequesterID == "" {
		return fmt.Errorf("requester id cannot be empty")
	}
	if !r.Kind.Valid() {
		return fmt.Errorf("invalid job kind: %q", r.Kind)
	}
	if !r.Priority.Valid() {
		return fmt.Errorf("invalid priority: %d", r.Priority)
	}
	if r.CostEstimate < 0 {
		return fmt.Errorf("cost estimate cannot be negative")
	}
	return nil
}

// BeforeSave is a GORM hook that runs before persisting a request
func (r *ServiceRequest) BeforeSave(_ *gorm.DB) error {
	if r.Status == "" {
		r.Status = RequestStatusAwaitingApproval
	}
	return r.Validate()
}
