package entity

import "time"

// DateLayout is the wire and storage format of delegation dates
const DateLayout = "2006-01-02"

// Delegation transfers approval authority from FromUserID to ToUserID for
// the inclusive window [StartDate, EndDate].
type Delegation struct {
	ID                 int64            `json:"id"`
	FromUserID         int64            `json:"from_user_id"`
	ToUserID           int64            `json:"to_user_id"`
	StartDate          time.Time        `json:"start_date"`
	EndDate            time.Time        `json:"end_date"`
	Status             DelegationStatus `json:"status"`
	Reason             string           `json:"reason,omitempty"`
	IncludePendingOnly bool             `json:"include_pending_only"`
	AutoApprove        bool             `json:"auto_approve"`
	CreatedBy          int64            `json:"created_by"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
	RevokedAt          *time.Time       `json:"revoked_at,omitempty"`
}

// Covers reports whether day falls within the delegation window
func (d *Delegation) Covers(day time.Time) bool {
	day = TruncateDay(day)
	return !day.Before(d.StartDate) && !day.After(d.EndDate)
}

// Overlaps reports whether the two inclusive windows share at least one day
func (d *Delegation) Overlaps(start, end time.Time) bool {
	return !(d.EndDate.Before(start) || d.StartDate.After(end))
}

// DelegationInput is the caller-supplied part of a new delegation.
// Dates use DateLayout.
type DelegationInput struct {
	FromUserID         int64  `json:"from_user_id"`
	ToUserID           int64  `json:"to_user_id"`
	StartDate          string `json:"start_date"`
	EndDate            string `json:"end_date"`
	Reason             string `json:"reason,omitempty"`
	IncludePendingOnly bool   `json:"include_pending_only"`
	AutoApprove        bool   `json:"auto_approve"`
}

// TruncateDay drops the time-of-day part, keeping the calendar date in UTC
func TruncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a DateLayout string
func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateLayout, s)
}
