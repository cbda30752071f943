package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// AuditEventType classifies an audit ledger entry
type AuditEventType string

// Audit event type constants
const (
	AuditSecurityDecision AuditEventType = "security-decision"
	AuditJobTransition    AuditEventType = "job-transition"
	AuditExternalCall     AuditEventType = "external-call"
	AuditError            AuditEventType = "error"
	// AuditJobControl records an operator or recovery action that leaves the job state unchanged
	AuditJobControl       AuditEventType = "job-control"
)

// ParseAuditEventType converts a string to an AuditEventType
func ParseAuditEventType(str string) (AuditEventType, error) {
	switch AuditEventType(str) {
	case AuditSecurityDecision, AuditJobTransition, AuditExternalCall, AuditError, AuditJobControl:
		return AuditEventType(str), nil
	}
	return "", fmt.Errorf("invalid audit event type: %s", str)
}

// UnmarshalJSON implements json.Unmarshaler for AuditEventType
func (t *AuditEventType) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}

	et, err := ParseAuditEventType(str)
	if err != nil {
		return err
	}

	*t = et
	return nil
}

// AuditEntry is one immutable record in the audit ledger
type AuditEntry struct {
	Sequence  uint64            `json:"sequence" gorm:"primaryKey;autoIncrement:false"`
	Timestamp time.Time         `json:"timestamp" gorm:"not null; index"`
	Actor     string            `json:"actor" gorm:"not null; index"`
	EventType AuditEventType    `json:"event_type" gorm:"not null; index"`
	SubjectID string            `json:"subject_id" gorm:"index"`
	Detail    map[string]string `json:"detail,omitempty" gorm:"serializer:json"`
	PrevHash  string            `json:"prev_hash" gorm:"size:64"`
	Hash      string            `json:"hash" gorm:"size:64; uniqueIndex"`
}

// AuditFilter narrows an audit ledger query. Zero-valued fields match everything.
type AuditFilter struct {
	SubjectID  string           `json:"subject_id,omitempty"`
	Actor      string           `json:"actor,omitempty"`
	EventTypes []AuditEventType `json:"event_types,omitempty"`
	From       time.Time        `json:"from,omitempty"`
	To         time.Time        `json:"to,omitempty"`
	Limit      int              `json:"limit,omitempty"`
}

// Matches reports whether the entry satisfies the filter, ignoring Limit
func (f AuditFilter) Matches(e AuditEntry) bool {
	if f.SubjectID != "" && e.SubjectID != f.SubjectID {
		return false
	}
	if f.Actor != "" && e.Actor != f.Actor {
		return false
	}
	if len(f.EventTypes) > 0 {
		found := false
		for _, t := range f.EventTypes {
			if t == e.EventType {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !f.From.IsZero() && e.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.Timestamp.After(f.To) {
		return false
	}
	return true
}
