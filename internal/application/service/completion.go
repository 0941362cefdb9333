package service

import "github.com/garyjia/approval-coordinator/internal/domain/entity"

// completionStatus decides whether a request leaves pending after one of its
// tasks was decided. An empty result keeps the request pending.
//
// Sequential requests complete once no task is pending; the order in which
// tasks were approved is not checked.
func completionStatus(req *entity.ApprovalRequest, counts *entity.TaskCounts, decided entity.TaskStatus) entity.RequestStatus {
	if decided == entity.TaskStatusRejected && req.AutoRejectOnAny {
		return entity.RequestStatusRejected
	}

	if counts.Pending > 0 {
		return ""
	}
	if counts.Rejected > 0 {
		return entity.RequestStatusRejected
	}
	if !req.AutoApproveOnAll {
		return ""
	}

	switch req.ApprovalType {
	case entity.ApprovalTypeParallel:
		if counts.Approved == counts.Total {
			return entity.RequestStatusApproved
		}
	case entity.ApprovalTypeSequential:
		return entity.RequestStatusApproved
	}
	return ""
}
