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
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/atlas/pkg/extensions"
	"github.com/AleutianAI/atlas/services/atlas"
	"github.com/AleutianAI/atlas/services/atlas/host"
	"github.com/AleutianAI/atlas/services/atlas/host/memhost"
	"github.com/AleutianAI/atlas/services/atlas/scheduler"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	router *gin.Engine
	atlas  *atlas.Atlas
	engine *memhost.Engine
	audit  *extensions.LogAuditLogger
	root   string
}

func setupTestServer(t *testing.T) *testServer {
	t.Helper()
	engine := memhost.New(memhost.Config{Fallback: host.Location{World: "lobby"}})
	sched := scheduler.New(scheduler.Config{Interval: time.Millisecond}, nil)
	require.NoError(t, sched.Start(context.Background()))
	t.Cleanup(func() { sched.Stop() })

	a, err := atlas.New(atlas.Config{}, atlas.Dependencies{Engine: engine, Scheduler: sched})
	require.NoError(t, err)

	audit := extensions.NewLogAuditLogger(nil, 64)
	handlers := NewHandlers(a, nil).
		WithLoadWait(5 * time.Second).
		WithExtensions(extensions.DefaultOptions().WithAudit(audit))

	router := gin.New()
	RegisterRoutes(router.Group("/v1"), handlers)
	return &testServer{router: router, atlas: a, engine: engine, audit: audit, root: t.TempDir()}
}

// addWorld creates a marked world directory and registers it.
func (s *testServer) addWorld(t *testing.T, name string) *atlas.Instance {
	t.Helper()
	dir := filepath.Join(s.root, name)
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, host.MarkerFile), []byte("fedcba9876543210"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "worldsettings.yml"), []byte("{}\n"), 0644))
	return s.atlas.LoadFromPath(context.Background(), dir)
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

func TestHandlers_Health(t *testing.T) {
	s := setupTestServer(t)
	s.addWorld(t, "a")

	w := s.do(t, http.MethodGet, "/v1/atlas/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[HealthResponse](t, w)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, ServiceVersion, resp.Version)
	assert.Equal(t, 1, resp.Instances)
	assert.Equal(t, 0, resp.Loaded)
}

func TestHandlers_ListInstances(t *testing.T) {
	s := setupTestServer(t)
	s.addWorld(t, "a")
	s.addWorld(t, "b")

	w := s.do(t, http.MethodGet, "/v1/atlas/instances", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[InstancesResponse](t, w)
	require.Len(t, resp.Instances, 2)
	assert.Equal(t, "a", resp.Instances[0].Name)
	assert.Equal(t, "b", resp.Instances[1].Name)
}

func TestHandlers_LoadAndUnload(t *testing.T) {
	s := setupTestServer(t)
	inst := s.addWorld(t, "lobby")

	w := s.do(t, http.MethodPost, "/v1/atlas/instances/lobby/load", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	loaded := decode[LoadResponse](t, w)
	assert.True(t, loaded.Instance.Loaded)
	assert.False(t, loaded.Pending)
	assert.NotEmpty(t, loaded.Instance.Identity)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w = s.do(t, http.MethodPost, "/v1/atlas/instances/lobby/unload?save=false", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.False(t, inst.Loaded())
	require.Len(t, s.engine.Unloads(), 1)
	assert.False(t, s.engine.Unloads()[0].Save)
}

func TestHandlers_UnknownInstance(t *testing.T) {
	s := setupTestServer(t)
	for _, tc := range []struct{ method, path string }{
		{http.MethodPost, "/v1/atlas/instances/nope/load"},
		{http.MethodPost, "/v1/atlas/instances/nope/unload"},
		{http.MethodDelete, "/v1/atlas/instances/nope"},
	} {
		w := s.do(t, tc.method, tc.path, nil)
		assert.Equal(t, http.StatusNotFound, w.Code, tc.path)
		assert.Equal(t, CodeNotFound, decode[ErrorResponse](t, w).Code)
	}
}

func TestHandlers_LoadFailure(t *testing.T) {
	s := setupTestServer(t)
	s.addWorld(t, "lobby")
	s.engine.FailCreate(memhost.ErrCreateFailed)

	w := s.do(t, http.MethodPost, "/v1/atlas/instances/lobby/load", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, CodeLoadFailed, decode[ErrorResponse](t, w).Code)
}

func TestHandlers_LoadInvalidDirectory(t *testing.T) {
	s := setupTestServer(t)
	a := filepath.Join(s.root, "loop-a")
	b := filepath.Join(s.root, "loop-b")
	require.NoError(t, os.Symlink(b, a))
	require.NoError(t, os.Symlink(a, b))
	s.atlas.Register(atlas.NewInstance("loop", a))

	w := s.do(t, http.MethodPost, "/v1/atlas/instances/loop/load", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, CodeInvalidDirectory, decode[ErrorResponse](t, w).Code)
}

func TestHandlers_UnloadBadSaveFlag(t *testing.T) {
	s := setupTestServer(t)
	s.addWorld(t, "lobby")

	w := s.do(t, http.MethodPost, "/v1/atlas/instances/lobby/unload?save=maybe", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, CodeInvalidRequest, decode[ErrorResponse](t, w).Code)
}

func TestHandlers_UnloadRefused(t *testing.T) {
	s := setupTestServer(t)
	s.addWorld(t, "lobby")
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/v1/atlas/instances/lobby/load", nil).Code)
	s.engine.RefuseUnload(true)

	w := s.do(t, http.MethodPost, "/v1/atlas/instances/lobby/unload", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, CodeUnloadFailed, decode[ErrorResponse](t, w).Code)

	w = s.do(t, http.MethodDelete, "/v1/atlas/instances/lobby", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.DirExists(t, filepath.Join(s.root, "lobby"))
}

func TestHandlers_Duplicate(t *testing.T) {
	s := setupTestServer(t)
	s.addWorld(t, "template")
	parent := t.TempDir()

	w := s.do(t, http.MethodPost, "/v1/atlas/instances/template/duplicate", DuplicateRequest{Parent: parent})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	resp := decode[InstanceResponse](t, w)
	assert.Equal(t, resp.Instance.Name, resp.Instance.Identity)
	assert.Equal(t, filepath.Join(parent, resp.Instance.Name), resp.Instance.Directory)
	assert.Len(t, s.atlas.Instances(), 2)

	w = s.do(t, http.MethodPost, "/v1/atlas/instances/template/duplicate", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlers_Delete(t *testing.T) {
	s := setupTestServer(t)
	s.addWorld(t, "doomed")

	w := s.do(t, http.MethodDelete, "/v1/atlas/instances/doomed", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NoDirExists(t, filepath.Join(s.root, "doomed"))
}

func TestHandlers_Scan(t *testing.T) {
	s := setupTestServer(t)
	dir := filepath.Join(s.root, "found")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, host.MarkerFile), make([]byte, 16), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(s.root, "ignored"), 0755))

	w := s.do(t, http.MethodPost, "/v1/atlas/scan", ScanRequest{Root: s.root})
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[InstancesResponse](t, w)
	require.Len(t, resp.Instances, 1)
	assert.Equal(t, "found", resp.Instances[0].Name)

	w = s.do(t, http.MethodPost, "/v1/atlas/scan", ScanRequest{Root: filepath.Join(s.root, "missing")})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, CodeScanFailed, decode[ErrorResponse](t, w).Code)

	w = s.do(t, http.MethodPost, "/v1/atlas/scan", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, CodeInvalidRequest, decode[ErrorResponse](t, w).Code)
}

func TestHandlers_AuditTrail(t *testing.T) {
	s := setupTestServer(t)
	s.addWorld(t, "lobby")
	s.addWorld(t, "doomed")

	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/v1/atlas/instances/lobby/load", nil).Code)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/v1/atlas/instances/lobby/unload?save=false", nil).Code)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodDelete, "/v1/atlas/instances/doomed", nil).Code)
	require.Equal(t, http.StatusNotFound, s.do(t, http.MethodDelete, "/v1/atlas/instances/ghost", nil).Code)

	w := s.do(t, http.MethodGet, "/v1/atlas/audit", nil)
	require.Equal(t, http.StatusOK, w.Code)
	events := decode[AuditResponse](t, w).Events
	require.Len(t, events, 3, "lookups that 404 are not audited")
	assert.Equal(t, "instance.delete", events[0].EventType)
	assert.Equal(t, "doomed", events[0].ResourceID)
	assert.Equal(t, "instance.unload", events[1].EventType)
	assert.Equal(t, false, events[1].Metadata["save"])
	assert.Equal(t, "instance.load", events[2].EventType)
	for _, e := range events {
		assert.Equal(t, extensions.OutcomeSuccess, e.Outcome)
		assert.NotEmpty(t, e.Metadata["request_id"])
	}

	w = s.do(t, http.MethodGet, "/v1/atlas/audit?type=instance.load&resource=lobby", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[AuditResponse](t, w).Events, 1)
}

func TestHandlers_AuditRecordsFailures(t *testing.T) {
	s := setupTestServer(t)
	s.addWorld(t, "lobby")
	s.engine.FailCreate(memhost.ErrCreateFailed)

	require.Equal(t, http.StatusInternalServerError, s.do(t, http.MethodPost, "/v1/atlas/instances/lobby/load", nil).Code)

	events, err := s.audit.Query(context.Background(), extensions.AuditFilter{Outcome: extensions.OutcomeFailure})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "lobby", events[0].ResourceID)
	assert.Contains(t, events[0].Metadata, "error")
}

func TestHandlers_AuditBadLimit(t *testing.T) {
	s := setupTestServer(t)

	w := s.do(t, http.MethodGet, "/v1/atlas/audit?limit=zero", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, CodeInvalidRequest, decode[ErrorResponse](t, w).Code)
}
