// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/atlas/pkg/extensions"
	"github.com/AleutianAI/atlas/pkg/logging"
	"github.com/AleutianAI/atlas/services/atlas"
)

// DefaultAuditLimit caps audit query results when no limit is given.
const DefaultAuditLimit = 100

const requestIDKey = "request_id"

// DefaultLoadWait bounds how long the load handler waits for the future.
const DefaultLoadWait = 30 * time.Second

// Handlers serves the Atlas HTTP endpoints.
type Handlers struct {
	atlas    *atlas.Atlas
	logger   *logging.Logger
	loadWait time.Duration
	audit    extensions.AuditLogger
}

// NewHandlers creates handlers over a. A nil logger discards output.
func NewHandlers(a *atlas.Atlas, logger *logging.Logger) *Handlers {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Handlers{
		atlas:    a,
		logger:   logger.Component("api"),
		loadWait: DefaultLoadWait,
		audit:    extensions.DefaultOptions().AuditLogger,
	}
}

// WithLoadWait sets the load handler's wait budget.
func (h *Handlers) WithLoadWait(d time.Duration) *Handlers {
	if d > 0 {
		h.loadWait = d
	}
	return h
}

// WithExtensions installs the extension hooks from opts.
func (h *Handlers) WithExtensions(opts extensions.Options) *Handlers {
	if opts.AuditLogger != nil {
		h.audit = opts.AuditLogger
	}
	return h
}

// HandleHealth handles GET /v1/atlas/health.
//
// Response:
//
//	200 OK: HealthResponse
func (h *Handlers) HandleHealth(c *gin.Context) {
	instances := h.atlas.Instances()
	loaded := 0
	for _, inst := range instances {
		if inst.Loaded() {
			loaded++
		}
	}
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "healthy",
		Version:   ServiceVersion,
		Instances: len(instances),
		Loaded:    loaded,
	})
}

// HandleListInstances handles GET /v1/atlas/instances.
//
// Response:
//
//	200 OK: InstancesResponse, in registration order
func (h *Handlers) HandleListInstances(c *gin.Context) {
	instances := h.atlas.Instances()
	resp := InstancesResponse{Instances: make([]atlas.Info, 0, len(instances))}
	for _, inst := range instances {
		resp.Instances = append(resp.Instances, inst.Info())
	}
	c.JSON(http.StatusOK, resp)
}

// HandleLoad handles POST /v1/atlas/instances/:name/load.
//
// Description:
//
//	Starts a load and waits up to the handler's wait budget for it to
//	finish. A load still running after that is reported as pending and
//	continues in the background.
//
// Response:
//
//	200 OK: LoadResponse
//	202 Accepted: LoadResponse with Pending=true
//	400 Bad Request: Directory cannot be resolved
//	404 Not Found: No instance with that name
//	500 Internal Server Error: The load failed
func (h *Handlers) HandleLoad(c *gin.Context) {
	logger := h.requestLogger(c, "HandleLoad")
	inst, ok := h.lookup(c)
	if !ok {
		return
	}

	fut, err := h.atlas.Load(c.Request.Context(), inst)
	if err != nil {
		status, code := http.StatusInternalServerError, CodeLoadFailed
		if errors.Is(err, atlas.ErrInvalidDirectory) {
			status, code = http.StatusBadRequest, CodeInvalidDirectory
		}
		logger.Warn("Load rejected", "name", inst.Name(), "error", err)
		h.record(c, "load", inst.Name(), err)
		c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.loadWait)
	defer cancel()
	loaded, err := fut.Wait(ctx)
	if err != nil {
		logger.Info("Load still running", "name", inst.Name())
		c.JSON(http.StatusAccepted, LoadResponse{Instance: inst.Info(), Pending: true})
		return
	}
	if !loaded {
		h.record(c, "load", inst.Name(), errors.New("load failed"))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "could not load " + inst.Name(),
			Code:  CodeLoadFailed,
		})
		return
	}
	h.record(c, "load", inst.Name(), nil)
	c.JSON(http.StatusOK, LoadResponse{Instance: inst.Info()})
}

// HandleUnload handles POST /v1/atlas/instances/:name/unload.
//
// Query Parameters:
//
//	save: Whether the engine persists the world first (optional, default true)
//
// Response:
//
//	200 OK: InstanceResponse
//	400 Bad Request: Malformed save flag
//	404 Not Found: No instance with that name
//	409 Conflict: The engine did not unload the world
func (h *Handlers) HandleUnload(c *gin.Context) {
	logger := h.requestLogger(c, "HandleUnload")
	inst, ok := h.lookup(c)
	if !ok {
		return
	}

	save := true
	if raw := c.Query("save"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "invalid save flag",
				Code:    CodeInvalidRequest,
				Details: err.Error(),
			})
			return
		}
		save = parsed
	}

	if !h.atlas.Unload(c.Request.Context(), inst, save) {
		logger.Warn("Unload failed", "name", inst.Name())
		h.record(c, "unload", inst.Name(), errors.New("engine refused unload"))
		c.JSON(http.StatusConflict, ErrorResponse{
			Error: "could not unload " + inst.Name(),
			Code:  CodeUnloadFailed,
		})
		return
	}
	h.record(c, "unload", inst.Name(), nil, "save", save)
	c.JSON(http.StatusOK, InstanceResponse{Instance: inst.Info()})
}

// HandleDuplicate handles POST /v1/atlas/instances/:name/duplicate.
//
// Request Body:
//
//	DuplicateRequest
//
// Response:
//
//	201 Created: InstanceResponse for the copy
//	400 Bad Request: Missing parent
//	404 Not Found: No instance with that name
//	500 Internal Server Error: The copy failed
func (h *Handlers) HandleDuplicate(c *gin.Context) {
	logger := h.requestLogger(c, "HandleDuplicate")
	inst, ok := h.lookup(c)
	if !ok {
		return
	}

	var req DuplicateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Code:    CodeInvalidRequest,
			Details: err.Error(),
		})
		return
	}

	clone, ok := h.atlas.Duplicate(c.Request.Context(), inst, req.Parent)
	if !ok {
		h.record(c, "duplicate", inst.Name(), errors.New("copy failed"), "parent", req.Parent)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "could not duplicate " + inst.Name(),
			Code:  CodeDuplicateFailed,
		})
		return
	}
	logger.Info("Duplicated world", "source", inst.Name(), "copy", clone.Name())
	h.record(c, "duplicate", inst.Name(), nil, "parent", req.Parent, "copy", clone.Name())
	c.JSON(http.StatusCreated, InstanceResponse{Instance: clone.Info()})
}

// HandleDelete handles DELETE /v1/atlas/instances/:name.
//
// Response:
//
//	200 OK: InstanceResponse
//	404 Not Found: No instance with that name
//	409 Conflict: The instance could not be unloaded or removed
func (h *Handlers) HandleDelete(c *gin.Context) {
	logger := h.requestLogger(c, "HandleDelete")
	inst, ok := h.lookup(c)
	if !ok {
		return
	}
	if !h.atlas.Delete(c.Request.Context(), inst) {
		logger.Warn("Delete failed", "name", inst.Name())
		h.record(c, "delete", inst.Name(), errors.New("delete failed"))
		c.JSON(http.StatusConflict, ErrorResponse{
			Error: "could not delete " + inst.Name(),
			Code:  CodeDeleteFailed,
		})
		return
	}
	h.record(c, "delete", inst.Name(), nil)
	c.JSON(http.StatusOK, InstanceResponse{Instance: inst.Info()})
}

// HandleScan handles POST /v1/atlas/scan.
//
// Request Body:
//
//	ScanRequest
//
// Response:
//
//	200 OK: InstancesResponse with the newly registered instances
//	400 Bad Request: Missing root or unreadable folder
func (h *Handlers) HandleScan(c *gin.Context) {
	logger := h.requestLogger(c, "HandleScan")

	var req ScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Code:    CodeInvalidRequest,
			Details: err.Error(),
		})
		return
	}

	found, err := h.atlas.ScanFolder(c.Request.Context(), req.Root)
	if err != nil {
		logger.Warn("Scan failed", "root", req.Root, "error", err)
		h.record(c, "scan", req.Root, err)
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: CodeScanFailed})
		return
	}
	h.record(c, "scan", req.Root, nil, "found", len(found))
	resp := InstancesResponse{Instances: make([]atlas.Info, 0, len(found))}
	for _, inst := range found {
		resp.Instances = append(resp.Instances, inst.Info())
	}
	c.JSON(http.StatusOK, resp)
}

// HandleAudit handles GET /v1/atlas/audit.
//
// Query Parameters:
//
//	type: Event type, e.g. instance.delete (optional)
//	resource: Instance name or folder (optional)
//	outcome: success or failure (optional)
//	limit: Maximum events (optional, default 100)
//
// Response:
//
//	200 OK: AuditResponse, newest first
//	400 Bad Request: Malformed limit
//	500 Internal Server Error: The audit logger failed
func (h *Handlers) HandleAudit(c *gin.Context) {
	filter := extensions.AuditFilter{
		ResourceID: c.Query("resource"),
		Outcome:    c.Query("outcome"),
		Limit:      DefaultAuditLimit,
	}
	if t := c.Query("type"); t != "" {
		filter.EventTypes = []string{t}
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error: "invalid limit",
				Code:  CodeInvalidRequest,
			})
			return
		}
		filter.Limit = limit
	}

	events, err := h.audit.Query(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: CodeAuditFailed})
		return
	}
	c.JSON(http.StatusOK, AuditResponse{Events: events})
}

// record sends one audit event for action on resource. A nil err is a
// success; extra is appended to the event metadata as key/value pairs.
func (h *Handlers) record(c *gin.Context, action, resource string, err error, extra ...any) {
	resourceType, eventType := "instance", "instance."+action
	if action == "scan" {
		resourceType, eventType = "folder", "folder.scan"
	}
	event := extensions.AuditEvent{
		EventType:    eventType,
		UserID:       "anonymous",
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resource,
		Outcome:      extensions.OutcomeSuccess,
		Metadata: map[string]any{
			"request_id": getOrCreateRequestID(c),
			"ip_address": c.ClientIP(),
		},
	}
	if err != nil {
		event.Outcome = extensions.OutcomeFailure
		event.Metadata["error"] = err.Error()
	}
	for i := 0; i+1 < len(extra); i += 2 {
		if k, ok := extra[i].(string); ok {
			event.Metadata[k] = extra[i+1]
		}
	}
	if logErr := h.audit.Log(c.Request.Context(), event); logErr != nil {
		h.logger.Warn("Could not record audit event", "event_type", eventType, "error", logErr)
	}
}

// lookup resolves the :name parameter, writing a 404 when it is unknown.
func (h *Handlers) lookup(c *gin.Context) (*atlas.Instance, bool) {
	name := c.Param("name")
	inst, ok := h.atlas.Lookup(name)
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: "no instance named " + name,
			Code:  CodeNotFound,
		})
		return nil, false
	}
	return inst, true
}

func (h *Handlers) requestLogger(c *gin.Context, handler string) *logging.Logger {
	return h.logger.With("request_id", getOrCreateRequestID(c), "handler", handler)
}

// getOrCreateRequestID gets or creates a request ID.
func getOrCreateRequestID(c *gin.Context) string {
	if id := c.GetString(requestIDKey); id != "" {
		return id
	}
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set(requestIDKey, requestID)
	c.Header("X-Request-ID", requestID)
	return requestID
}
