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
	"github.com/AleutianAI/atlas/pkg/extensions"
	"github.com/AleutianAI/atlas/services/atlas"
)

// ServiceVersion is reported by the health endpoint.
const ServiceVersion = "0.1.0"

// Error codes returned in ErrorResponse.Code.
const (
	CodeInvalidRequest   = "INVALID_REQUEST"
	CodeNotFound         = "INSTANCE_NOT_FOUND"
	CodeInvalidDirectory = "INVALID_DIRECTORY"
	CodeLoadFailed       = "LOAD_FAILED"
	CodeUnloadFailed     = "UNLOAD_FAILED"
	CodeDeleteFailed     = "DELETE_FAILED"
	CodeDuplicateFailed  = "DUPLICATE_FAILED"
	CodeScanFailed       = "SCAN_FAILED"
	CodeAuditFailed      = "AUDIT_FAILED"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is the error code (optional).
	Code string `json:"code,omitempty"`

	// Details provides additional error context (optional).
	Details string `json:"details,omitempty"`
}

// HealthResponse is returned by GET /v1/atlas/health.
type HealthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Instances int    `json:"instances"`
	Loaded    int    `json:"loaded"`
}

// InstancesResponse lists registered instances.
type InstancesResponse struct {
	Instances []atlas.Info `json:"instances"`
}

// LoadResponse is returned by the load endpoint.
//
// Pending is true when the load was still running after the handler's
// wait budget; the instance keeps loading in the background.
type LoadResponse struct {
	Instance atlas.Info `json:"instance"`
	Pending  bool       `json:"pending,omitempty"`
}

// InstanceResponse wraps one instance.
type InstanceResponse struct {
	Instance atlas.Info `json:"instance"`
}

// DuplicateRequest is the body of the duplicate endpoint.
type DuplicateRequest struct {
	// Parent is the directory the copy is created under.
	Parent string `json:"parent" binding:"required"`
}

// ScanRequest is the body of the scan endpoint.
type ScanRequest struct {
	// Root is the folder whose immediate subdirectories are scanned.
	Root string `json:"root" binding:"required"`
}

// AuditResponse is returned by the audit endpoint.
type AuditResponse struct {
	Events []extensions.AuditEvent `json:"events"`
}
