package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/approval-coordinator/internal/application/lock"
	"github.com/garyjia/approval-coordinator/internal/domain/apperr"
	"github.com/garyjia/approval-coordinator/internal/domain/entity"
)

// UserHeader carries the id of the calling user
const UserHeader = "X-User-ID"

var errNoCaller = errors.New("missing or invalid " + UserHeader + " header")

// Handlers contains all HTTP request handlers
type Handlers struct {
	deps    ServerDeps
	version string
}

// NewHandlers creates a new Handlers instance
func NewHandlers(deps ServerDeps, version string) *Handlers {
	return &Handlers{deps: deps, version: version}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
	Detail    string `json:"detail,omitempty"`
}

// RequestDetail is an approval request together with its tasks
type RequestDetail struct {
	Request *entity.ApprovalRequest `json:"request"`
	Tasks   []*entity.ApprovalTask  `json:"tasks"`
}

// LockResponse describes the lock state of a request
type LockResponse struct {
	RequestID int64  `json:"request_id"`
	Locked    bool   `json:"locked"`
	HolderID  string `json:"holder_id,omitempty"`
	ActorID   string `json:"actor_id,omitempty"`
}

// CreateRequestBody is the payload of POST /api/v1/requests
type CreateRequestBody struct {
	BusinessRequestID int64                `json:"business_request_id"`
	ApproverIDs       []int64              `json:"approver_ids"`
	Config            entity.RequestConfig `json:"config"`
}

// DecisionBody is the payload of approve and reject. Reject accepts either
// field as the reason.
type DecisionBody struct {
	Comments string `json:"comments"`
	Reason   string `json:"reason"`
}

// ReassignBody is the payload of POST /api/v1/tasks/:id/reassign
type ReassignBody struct {
	NewApproverID int64 `json:"new_approver_id"`
}

// CancelBody is the payload of POST /api/v1/requests/:id/cancel
type CancelBody struct {
	Reason string `json:"reason"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   h.version,
	}

	if h.deps.Health != nil {
		if err := h.deps.Health(c.Request.Context()); err != nil {
			resp.Status = "unhealthy"
			resp.Detail = err.Error()
			c.JSON(http.StatusServiceUnavailable, Response{Success: false, Data: resp, Error: "unhealthy"})
			return
		}
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: resp})
}

// CreateRequest handles POST /api/v1/requests
func (h *Handlers) CreateRequest(c *gin.Context) {
	var body CreateRequestBody
	if !h.bind(c, &body) {
		return
	}

	req, err := h.deps.Approvals.CreateRequest(c.Request.Context(), body.BusinessRequestID, body.ApproverIDs, body.Config)
	if err != nil {
		h.fail(c, "Failed to create request", err)
		return
	}

	c.JSON(http.StatusCreated, Response{Success: true, Data: req})
}

// GetRequest handles GET /api/v1/requests/:id
func (h *Handlers) GetRequest(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}

	req, err := h.deps.Approvals.GetRequest(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "Failed to get request", err)
		return
	}
	tasks, err := h.deps.Approvals.GetTasks(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "Failed to get tasks", err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: RequestDetail{Request: req, Tasks: tasks}})
}

// GetAuditTrail handles GET /api/v1/requests/:id/audit
func (h *Handlers) GetAuditTrail(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}

	records, err := h.deps.Approvals.GetAuditTrail(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "Failed to get audit trail", err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: records})
}

// CancelRequest handles POST /api/v1/requests/:id/cancel
func (h *Handlers) CancelRequest(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	var body CancelBody
	if !h.bindOptional(c, &body) {
		return
	}

	if err := h.deps.Approvals.CancelRequest(c.Request.Context(), id, caller, body.Reason); err != nil {
		h.fail(c, "Failed to cancel request", err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true})
}

// GetLock handles GET /api/v1/requests/:id/lock
func (h *Handlers) GetLock(c *gin.Context) {
	if h.deps.Locks == nil {
		c.JSON(http.StatusNotImplemented, Response{Success: false, Error: "lock inspection disabled"})
		return
	}
	id, ok := h.pathID(c)
	if !ok {
		return
	}

	holder, locked, err := h.deps.Locks.IsLocked(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "Failed to read lock", err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: LockResponse{
		RequestID: id,
		Locked:    locked,
		HolderID:  holder,
		ActorID:   lock.HolderActor(holder),
	}})
}

// ForceUnlock handles DELETE /api/v1/requests/:id/lock. Admin only.
func (h *Handlers) ForceUnlock(c *gin.Context) {
	if h.deps.Locks == nil {
		c.JSON(http.StatusNotImplemented, Response{Success: false, Error: "lock inspection disabled"})
		return
	}
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	caller, ok := h.caller(c)
	if !ok {
		return
	}

	admin, err := h.deps.Authorizer.IsAdmin(c.Request.Context(), caller)
	if err != nil {
		h.fail(c, "Failed to check admin", err)
		return
	}
	if !admin {
		h.fail(c, "Force unlock denied", apperr.PermissionDenied("force_unlock", "user %d is not an administrator", caller))
		return
	}

	if err := h.deps.Locks.ForceRelease(c.Request.Context(), id, strconv.FormatInt(caller, 10)); err != nil {
		h.fail(c, "Failed to force unlock", err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true})
}

// ApproveTask handles POST /api/v1/tasks/:id/approve
func (h *Handlers) ApproveTask(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	var body DecisionBody
	if !h.bindOptional(c, &body) {
		return
	}

	if err := h.deps.Approvals.ApproveTask(c.Request.Context(), id, caller, body.Comments); err != nil {
		h.fail(c, "Failed to approve task", err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true})
}

// RejectTask handles POST /api/v1/tasks/:id/reject
func (h *Handlers) RejectTask(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	var body DecisionBody
	if !h.bindOptional(c, &body) {
		return
	}

	reason := body.Reason
	if reason == "" {
		reason = body.Comments
	}
	if err := h.deps.Approvals.RejectTask(c.Request.Context(), id, caller, reason); err != nil {
		h.fail(c, "Failed to reject task", err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true})
}

// ReassignTask handles POST /api/v1/tasks/:id/reassign
func (h *Handlers) ReassignTask(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	var body ReassignBody
	if !h.bind(c, &body) {
		return
	}

	if err := h.deps.Approvals.ReassignTask(c.Request.Context(), id, body.NewApproverID, caller); err != nil {
		h.fail(c, "Failed to reassign task", err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true})
}

// CreateDelegation handles POST /api/v1/delegations
func (h *Handlers) CreateDelegation(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	var in entity.DelegationInput
	if !h.bind(c, &in) {
		return
	}

	d, err := h.deps.Delegations.CreateDelegation(c.Request.Context(), caller, in)
	if err != nil {
		h.fail(c, "Failed to create delegation", err)
		return
	}

	c.JSON(http.StatusCreated, Response{Success: true, Data: d})
}

// RevokeDelegation handles DELETE /api/v1/delegations/:id
func (h *Handlers) RevokeDelegation(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	caller, ok := h.caller(c)
	if !ok {
		return
	}

	if err := h.deps.Delegations.RevokeDelegation(c.Request.Context(), id, caller); err != nil {
		h.fail(c, "Failed to revoke delegation", err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true})
}

// ListPendingTasks handles GET /api/v1/users/:id/tasks
func (h *Handlers) ListPendingTasks(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}

	tasks, err := h.deps.Approvals.ListPendingTasks(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "Failed to list pending tasks", err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: tasks})
}

// ListActiveDelegations handles GET /api/v1/users/:id/delegations
func (h *Handlers) ListActiveDelegations(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}

	ds, err := h.deps.Delegations.GetActiveDelegationsForUser(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "Failed to list delegations", err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: ds})
}

// ListDelegatedTasks handles GET /api/v1/users/:id/delegated-tasks
func (h *Handlers) ListDelegatedTasks(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}

	tasks, err := h.deps.Delegations.GetDelegatedApprovalsForUser(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "Failed to list delegated tasks", err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: tasks})
}

func (h *Handlers) pathID(c *gin.Context) (int64, bool) {
	raw := c.Param("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid id: " + raw, Code: string(apperr.KindValidation)})
		return 0, false
	}
	return id, true
}

func (h *Handlers) caller(c *gin.Context) (int64, bool) {
	raw := strings.TrimSpace(c.GetHeader(UserHeader))
	id, err := strconv.ParseInt(raw, 10, 64)
	if raw == "" || err != nil || id < 0 {
		c.JSON(http.StatusUnauthorized, Response{Success: false, Error: errNoCaller.Error()})
		return 0, false
	}
	return id, true
}

func (h *Handlers) bind(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid request body: " + err.Error(), Code: string(apperr.KindValidation)})
		return false
	}
	return true
}

// bindOptional accepts an empty body
func (h *Handlers) bindOptional(c *gin.Context, dst interface{}) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	return h.bind(c, dst)
}

func (h *Handlers) fail(c *gin.Context, msg string, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError && h.deps.Logger != nil {
		h.deps.Logger.Error(msg, "path", c.Request.URL.Path, "error", err)
	}

	c.JSON(status, Response{
		Success: false,
		Error:   err.Error(),
		Code:    string(apperr.KindOf(err)),
	})
}

// StatusFor maps an error kind to an HTTP status
func StatusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindPermissionDenied:
		return http.StatusForbidden
	case apperr.KindInvalidStatus, apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindLockTimeout:
		return http.StatusLocked
	default:
		return http.StatusInternalServerError
	}
}
