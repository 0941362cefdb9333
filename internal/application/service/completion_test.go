package service

import (
	"testing"

	"github.com/garyjia/approval-coordinator/internal/domain/entity"
	"github.com/stretchr/testify/assert"
)

func TestCompletionStatus(t *testing.T) {
	req := func(typ entity.ApprovalType, autoApprove, autoReject bool) *entity.ApprovalRequest {
		return &entity.ApprovalRequest{ApprovalType: typ, AutoApproveOnAll: autoApprove, AutoRejectOnAny: autoReject}
	}

	tests := []struct {
		name    string
		req     *entity.ApprovalRequest
		counts  entity.TaskCounts
		decided entity.TaskStatus
		want    entity.RequestStatus
	}{
		{"parallel partial", req(entity.ApprovalTypeParallel, true, true), entity.TaskCounts{Total: 2, Pending: 1, Approved: 1}, entity.TaskStatusApproved, ""},
		{"parallel all approved", req(entity.ApprovalTypeParallel, true, true), entity.TaskCounts{Total: 2, Approved: 2}, entity.TaskStatusApproved, entity.RequestStatusApproved},
		{"parallel with cancelled task", req(entity.ApprovalTypeParallel, true, true), entity.TaskCounts{Total: 2, Approved: 1, Cancelled: 1}, entity.TaskStatusApproved, ""},
		{"sequential none pending", req(entity.ApprovalTypeSequential, true, true), entity.TaskCounts{Total: 3, Approved: 3}, entity.TaskStatusApproved, entity.RequestStatusApproved},
		{"sequential pending left", req(entity.ApprovalTypeSequential, true, true), entity.TaskCounts{Total: 3, Pending: 2, Approved: 1}, entity.TaskStatusApproved, ""},
		{"single rejection", req(entity.ApprovalTypeParallel, true, true), entity.TaskCounts{Total: 3, Pending: 2, Rejected: 1}, entity.TaskStatusRejected, entity.RequestStatusRejected},
		{"rejection deferred", req(entity.ApprovalTypeParallel, true, false), entity.TaskCounts{Total: 3, Pending: 2, Rejected: 1}, entity.TaskStatusRejected, ""},
		{"deferred rejection settles", req(entity.ApprovalTypeSequential, true, false), entity.TaskCounts{Total: 2, Approved: 1, Rejected: 1}, entity.TaskStatusApproved, entity.RequestStatusRejected},
		{"auto approve off", req(entity.ApprovalTypeParallel, false, true), entity.TaskCounts{Total: 2, Approved: 2}, entity.TaskStatusApproved, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			counts := tt.counts
			assert.Equal(t, tt.want, completionStatus(tt.req, &counts, tt.decided))
		})
	}
}
