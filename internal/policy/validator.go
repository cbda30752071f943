package policy

import (
	"context"
	"fmt"
	"sort"

	"github.com/Kensan196948G/ServiceGrid-sub004/internal/audit"
	"github.com/Kensan196948G/ServiceGrid-sub004/internal/db/models"
	"github.com/Kensan196948G/ServiceGrid-sub004/internal/logger"
	"github.com/Kensan196948G/ServiceGrid-sub004/internal/observability"
)

// ActorValidator identifies the validator in audit entries
const ActorValidator = "system/security-validator"

// Reason codes carried by a Decision
const (
	ReasonAllowed           = "allowed"
	ReasonKindNotAllowed    = "kind_not_allowed"
	ReasonBlockedPattern    = "blocked_pattern"
	ReasonPolicyUnavailable = "policy_unavailable"
	ReasonAuditUnavailable  = "audit_unavailable"
	ReasonInternalError     = "internal_error"
)

// Decision is the verdict of a single validation
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
	Pattern string `json:"pattern,omitempty"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message,omitempty"`
}

func deny(reason, message string) Decision {
	return Decision{Allowed: false, Reason: reason, Message: message}
}

// Validator checks jobs against a SecurityPolicy. Any failure inside the check denies.
type Validator struct {
	policy *SecurityPolicy
	ledger audit.Appender
}

// NewValidator creates a validator. A nil policy makes every decision Deny.
func NewValidator(p *SecurityPolicy, ledger audit.Appender) *Validator {
	return &Validator{policy: p, ledger: ledger}
}

// Policy returns the policy the validator enforces
func (v *Validator) Policy() *SecurityPolicy {
	if v == nil {
		return nil
	}
	return v.policy
}

// Validate decides whether job may execute and records exactly one security-decision
// audit entry. The job is taken by value and never modified.
func (v *Validator) Validate(ctx context.Context, job models.Job) (d Decision) {
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorWithFields("security validator panicked", map[string]interface{}{
				"job_id": job.ID,
				"panic":  fmt.Sprint(r),
			})
			d = v.recordInternalError(ctx, job)
		}
	}()

	if v == nil {
		return deny(ReasonPolicyUnavailable, "no validator configured")
	}
	d = v.evaluate(job)
	return v.record(ctx, job, d)
}

func (v *Validator) evaluate(job models.Job) Decision {
	if v.policy == nil {
		return deny(ReasonPolicyUnavailable, "no security policy loaded")
	}
	if !job.Kind.Valid() || !v.policy.AllowsKind(job.Kind) {
		return deny(ReasonKindNotAllowed, fmt.Sprintf("operation kind %q is not allowed", job.Kind))
	}

	keys := make([]string, 0, len(job.Payload))
	for k := range job.Payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		for _, p := range v.policy.blocked {
			if p.Match(k) {
				return Decision{Reason: ReasonBlockedPattern, Pattern: p.Name, Field: k,
					Message: fmt.Sprintf("payload key %q matches blocked pattern %s", k, p.Name)}
			}
			if p.Match(job.Payload[k]) {
				return Decision{Reason: ReasonBlockedPattern, Pattern: p.Name, Field: k,
					Message: fmt.Sprintf("payload field %q matches blocked pattern %s", k, p.Name)}
			}
		}
	}
	return Decision{Allowed: true, Reason: ReasonAllowed}
}

func (v *Validator) recordInternalError(ctx context.Context, job models.Job) (d Decision) {
	defer func() {
		if recover() != nil {
			d = deny(ReasonAuditUnavailable, "audit ledger unavailable")
		}
	}()
	return v.record(ctx, job, deny(ReasonInternalError, "validator failure"))
}

// record appends the decision to the ledger. If the ledger cannot record it the
// decision becomes Deny.
func (v *Validator) record(ctx context.Context, job models.Job, d Decision) Decision {
	verdict := "allow"
	if !d.Allowed {
		verdict = "deny"
	}

	if v == nil || v.ledger == nil {
		observability.SecurityDecisions.WithLabelValues("deny", ReasonAuditUnavailable).Inc()
		return deny(ReasonAuditUnavailable, "audit ledger unavailable")
	}

	detail := map[string]string{
		"decision": verdict,
		"reason":   d.Reason,
		"kind":     string(job.Kind),
	}
	if d.Pattern != "" {
		detail["pattern"] = d.Pattern
		detail["field"] = d.Field
	}
	if job.RequestID != "" {
		detail["request_id"] = job.RequestID
	}

	_, err := v.ledger.Append(ctx, models.AuditEntry{
		Actor:     ActorValidator,
		EventType: models.AuditSecurityDecision,
		SubjectID: job.ID,
		Detail:    detail,
	})
	if err != nil {
		logger.ErrorWithFields("failed to audit security decision", map[string]interface{}{
			"job_id": job.ID,
			"error":  err.Error(),
		})
		observability.SecurityDecisions.WithLabelValues("deny", ReasonAuditUnavailable).Inc()
		return deny(ReasonAuditUnavailable, "audit ledger unavailable")
	}

	observability.SecurityDecisions.WithLabelValues(verdict, d.Reason).Inc()
	if !d.Allowed {
		logger.WarnWithFields("job denied by security policy", map[string]interface{}{
			"job_id":  job.ID,
			"kind":    job.Kind,
			"reason":  d.Reason,
			"pattern": d.Pattern,
			"field":   d.Field,
		})
	}
	return d
}
