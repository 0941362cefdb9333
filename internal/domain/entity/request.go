package entity

import "time"

// ApprovalRequest is the aggregate root guarding one business request.
// LockedBy/LockedAt hold mutual-exclusion state and are not business state.
type ApprovalRequest struct {
	ID                int64         `json:"id"`
	BusinessRequestID int64         `json:"business_request_id"`
	ApprovalType      ApprovalType  `json:"approval_type"`
	Status            RequestStatus `json:"status"`

	// Policy knobs
	Priority         Priority `json:"priority"`
	RequireComments  bool     `json:"require_comments"`
	AutoApproveOnAll bool     `json:"auto_approve_on_all"`
	AutoRejectOnAny  bool     `json:"auto_reject_on_any"`
	EscalationDays   int      `json:"escalation_days"`

	LockedBy *string    `json:"locked_by,omitempty"`
	LockedAt *time.Time `json:"locked_at,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// IsTerminal reports whether the request can no longer change
func (r *ApprovalRequest) IsTerminal() bool {
	return r.Status.IsTerminal()
}

// IsLocked reports whether some holder currently owns the request lock
func (r *ApprovalRequest) IsLocked() bool {
	return r.LockedBy != nil && *r.LockedBy != ""
}

// RequestConfig carries the policy fields supplied at creation time.
// Zero values are replaced by DefaultRequestConfig.
type RequestConfig struct {
	ApprovalType     ApprovalType `json:"approval_type"`
	Priority         Priority     `json:"priority"`
	RequireComments  bool         `json:"require_comments"`
	AutoApproveOnAll *bool        `json:"auto_approve_on_all,omitempty"`
	AutoRejectOnAny  *bool        `json:"auto_reject_on_any,omitempty"`
	EscalationDays   int          `json:"escalation_days"`
}

// DefaultRequestConfig returns the policy used when the caller supplies none
func DefaultRequestConfig() RequestConfig {
	yes := true
	return RequestConfig{
		ApprovalType:     ApprovalTypeSequential,
		Priority:         PriorityNormal,
		AutoApproveOnAll: &yes,
		AutoRejectOnAny:  &yes,
	}
}

// WithDefaults fills unset fields from DefaultRequestConfig
func (c RequestConfig) WithDefaults() RequestConfig {
	def := DefaultRequestConfig()
	if c.ApprovalType == "" {
		c.ApprovalType = def.ApprovalType
	}
	if c.Priority == "" {
		c.Priority = def.Priority
	}
	if c.AutoApproveOnAll == nil {
		c.AutoApproveOnAll = def.AutoApproveOnAll
	}
	if c.AutoRejectOnAny == nil {
		c.AutoRejectOnAny = def.AutoRejectOnAny
	}
	return c
}
