package entity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := ParseDate(s)
	require.NoError(t, err)
	return d
}

func TestDelegation_Covers(t *testing.T) {
	d := &Delegation{StartDate: day(t, "2024-03-01"), EndDate: day(t, "2024-03-05")}

	assert.True(t, d.Covers(day(t, "2024-03-01")))
	assert.True(t, d.Covers(day(t, "2024-03-05").Add(23*time.Hour)), "end date is inclusive")
	assert.False(t, d.Covers(day(t, "2024-02-29")))
	assert.False(t, d.Covers(day(t, "2024-03-06")))
}

func TestDelegation_Overlaps(t *testing.T) {
	d := &Delegation{StartDate: day(t, "2024-03-10"), EndDate: day(t, "2024-03-20")}

	tests := []struct {
		name       string
		start, end string
		want       bool
	}{
		{"before", "2024-03-01", "2024-03-09", false},
		{"touches start", "2024-03-01", "2024-03-10", true},
		{"inside", "2024-03-12", "2024-03-14", true},
		{"encloses", "2024-03-01", "2024-03-31", true},
		{"touches end", "2024-03-20", "2024-03-25", true},
		{"after", "2024-03-21", "2024-03-25", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, d.Overlaps(day(t, tt.start), day(t, tt.end)))
		})
	}
}

func TestTruncateDay(t *testing.T) {
	in := time.Date(2024, 3, 1, 17, 45, 3, 99, time.UTC)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), TruncateDay(in))
}

func TestParseDate_Invalid(t *testing.T) {
	_, err := ParseDate("03/01/2024")
	assert.Error(t, err)
}

func TestRequestConfig_WithDefaults(t *testing.T) {
	cfg := RequestConfig{}.WithDefaults()
	assert.Equal(t, ApprovalTypeSequential, cfg.ApprovalType)
	assert.Equal(t, PriorityNormal, cfg.Priority)
	require.NotNil(t, cfg.AutoApproveOnAll)
	require.NotNil(t, cfg.AutoRejectOnAny)
	assert.True(t, *cfg.AutoApproveOnAll)
	assert.True(t, *cfg.AutoRejectOnAny)

	no := false
	cfg = RequestConfig{
		ApprovalType:    ApprovalTypeParallel,
		Priority:        PriorityUrgent,
		AutoRejectOnAny: &no,
		EscalationDays:  3,
	}.WithDefaults()
	assert.Equal(t, ApprovalTypeParallel, cfg.ApprovalType)
	assert.Equal(t, PriorityUrgent, cfg.Priority)
	assert.False(t, *cfg.AutoRejectOnAny)
	assert.Equal(t, 3, cfg.EscalationDays)
}

func TestStatuses(t *testing.T) {
	assert.False(t, RequestStatusPending.IsTerminal())
	for _, s := range []RequestStatus{RequestStatusApproved, RequestStatusRejected, RequestStatusEscalated, RequestStatusCancelled} {
		assert.True(t, s.IsTerminal(), s)
	}

	assert.False(t, TaskStatusPending.IsTerminal())
	assert.True(t, TaskStatusCancelled.IsTerminal())

	assert.True(t, ApprovalTypeParallel.IsValid())
	assert.False(t, ApprovalType("quorum").IsValid())
	assert.True(t, PriorityHigh.IsValid())
	assert.False(t, Priority("").IsValid())
}

func TestApprovalRequest_IsLocked(t *testing.T) {
	r := &ApprovalRequest{}
	assert.False(t, r.IsLocked())

	empty := ""
	r.LockedBy = &empty
	assert.False(t, r.IsLocked())

	holder := "42"
	r.LockedBy = &holder
	assert.True(t, r.IsLocked())
}
