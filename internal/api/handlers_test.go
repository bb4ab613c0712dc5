// Warden - Supervised Service Runtime
// Copyright 2026 BranchManager69
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/BranchManager69/warden

package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/BranchManager69/warden/internal/audit"
	"github.com/BranchManager69/warden/internal/registry"
	"github.com/BranchManager69/warden/internal/store"
)

// fakeDirectory is a scripted ServiceDirectory.
type fakeDirectory struct {
	statuses map[string]*registry.Status

	updateCalls []updateCall
	resetCalls  []resetCall
	updateErr   error
	resetErr    error
}

type updateCall struct {
	name  string
	patch registry.ConfigPatch
	actor string
}

type resetCall struct {
	name   string
	actor  string
	reason string
}

func (f *fakeDirectory) Status(name string) (*registry.Status, error) {
	if s, ok := f.statuses[name]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, &registry.UnknownServiceError{Name: name}
}

func (f *fakeDirectory) AllStatuses() []registry.Status {
	var out []registry.Status
	for _, s := range f.statuses {
		out = append(out, *s)
	}
	return out
}

func (f *fakeDirectory) UpdateConfig(_ context.Context, name string, patch registry.ConfigPatch, actor string) (*store.ConfigRecord, error) {
	f.updateCalls = append(f.updateCalls, updateCall{name: name, patch: patch, actor: actor})
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	if _, ok := f.statuses[name]; !ok {
		return nil, &registry.UnknownServiceError{Name: name}
	}
	rec := &store.ConfigRecord{ServiceName: name, Enabled: true, UpdatedBy: actor}
	if patch.CheckIntervalMs != nil {
		rec.CheckIntervalMs = *patch.CheckIntervalMs
	}
	return rec, nil
}

func (f *fakeDirectory) ResetBreaker(_ context.Context, name, actor, reason string) error {
	f.resetCalls = append(f.resetCalls, resetCall{name: name, actor: actor, reason: reason})
	if f.resetErr != nil {
		return f.resetErr
	}
	if _, ok := f.statuses[name]; !ok {
		return &registry.UnknownServiceError{Name: name}
	}
	return nil
}

// fakeAuditReader serves canned events.
type fakeAuditReader struct {
	events []audit.Event
}

func (f *fakeAuditReader) Query(_ context.Context, _ audit.QueryFilter) ([]audit.Event, error) {
	return f.events, nil
}

func (f *fakeAuditReader) Count(_ context.Context, _ audit.QueryFilter) (int64, error) {
	return int64(len(f.events)), nil
}

func testStatus(name string, health registry.Health) *registry.Status {
	return &registry.Status{
		Service: name,
		State:   registry.StateRunning,
		Status:  health,
	}
}

func newTestServer(dir *fakeDirectory, reader AuditReader) *httptest.Server {
	router := NewRouter(NewHandlers(dir, reader), RouterConfig{})
	return httptest.NewServer(router)
}

func getJSON(t *testing.T, url string, out interface{}) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s failed: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
	}
	return resp.StatusCode
}

func TestHealthEndpoints(t *testing.T) {
	dir := &fakeDirectory{statuses: map[string]*registry.Status{
		"a": testStatus("a", registry.HealthHealthy),
		"b": testStatus("b", registry.HealthFailed),
	}}
	srv := newTestServer(dir, nil)
	defer srv.Close()

	t.Run("live", func(t *testing.T) {
		var body map[string]string
		if code := getJSON(t, srv.URL+"/api/v1/health/live", &body); code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", code)
		}
		if body["status"] != "ok" {
			t.Errorf("Expected ok, got %v", body)
		}
	})

	t.Run("ready reports counts without failing", func(t *testing.T) {
		var body struct {
			Status   string `json:"status"`
			Services int    `json:"services"`
			Healthy  int    `json:"healthy"`
		}
		if code := getJSON(t, srv.URL+"/api/v1/health/ready", &body); code != http.StatusOK {
			t.Fatalf("Expected 200 even with a failed service, got %d", code)
		}
		if body.Services != 2 || body.Healthy != 1 {
			t.Errorf("Expected 2 services 1 healthy, got %+v", body)
		}
	})
}

func TestServiceEndpoints(t *testing.T) {
	dir := &fakeDirectory{statuses: map[string]*registry.Status{
		"market-data": testStatus("market-data", registry.HealthHealthy),
	}}
	srv := newTestServer(dir, nil)
	defer srv.Close()

	t.Run("list", func(t *testing.T) {
		var body struct {
			Services []registry.Status `json:"services"`
			Count    int               `json:"count"`
		}
		if code := getJSON(t, srv.URL+"/api/v1/services", &body); code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", code)
		}
		if body.Count != 1 || len(body.Services) != 1 {
			t.Fatalf("Expected one service, got %+v", body)
		}
		if body.Services[0].Service != "market-data" {
			t.Errorf("Unexpected service: %+v", body.Services[0])
		}
	})

	t.Run("detail", func(t *testing.T) {
		var status registry.Status
		if code := getJSON(t, srv.URL+"/api/v1/services/market-data", &status); code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", code)
		}
		if status.Service != "market-data" || status.Status != registry.HealthHealthy {
			t.Errorf("Unexpected status: %+v", status)
		}
	})

	t.Run("detail unknown is 404", func(t *testing.T) {
		if code := getJSON(t, srv.URL+"/api/v1/services/ghost", nil); code != http.StatusNotFound {
			t.Fatalf("Expected 404, got %d", code)
		}
	})
}

func TestUpdateServiceConfig(t *testing.T) {
	t.Run("patch with actor header", func(t *testing.T) {
		dir := &fakeDirectory{statuses: map[string]*registry.Status{
			"svc": testStatus("svc", registry.HealthHealthy),
		}}
		srv := newTestServer(dir, nil)
		defer srv.Close()

		body := bytes.NewBufferString(`{"check_interval_ms": 5000}`)
		req, _ := http.NewRequest(http.MethodPatch, srv.URL+"/api/v1/services/svc/config", body)
		req.Header.Set(ActorHeader, "alice")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("PATCH failed: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("Expected 200, got %d", resp.StatusCode)
		}

		if len(dir.updateCalls) != 1 {
			t.Fatalf("Expected 1 update call, got %d", len(dir.updateCalls))
		}
		call := dir.updateCalls[0]
		if call.actor != "alice" {
			t.Errorf("Expected actor alice, got %q", call.actor)
		}
		if call.patch.CheckIntervalMs == nil || *call.patch.CheckIntervalMs != 5000 {
			t.Errorf("Expected interval patch 5000, got %+v", call.patch)
		}
		if call.patch.Enabled != nil {
			t.Error("Omitted fields must stay nil in the patch")
		}
	})

	t.Run("validation error is 400", func(t *testing.T) {
		dir := &fakeDirectory{
			statuses:  map[string]*registry.Status{"svc": testStatus("svc", registry.HealthHealthy)},
			updateErr: &registry.ValidationError{Field: "check_interval_ms", Message: "below floor"},
		}
		srv := newTestServer(dir, nil)
		defer srv.Close()

		body := bytes.NewBufferString(`{"check_interval_ms": 500}`)
		req, _ := http.NewRequest(http.MethodPatch, srv.URL+"/api/v1/services/svc/config", body)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("PATCH failed: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("Expected 400 for validation error, got %d", resp.StatusCode)
		}
	})

	t.Run("malformed body is 400", func(t *testing.T) {
		dir := &fakeDirectory{statuses: map[string]*registry.Status{
			"svc": testStatus("svc", registry.HealthHealthy),
		}}
		srv := newTestServer(dir, nil)
		defer srv.Close()

		body := bytes.NewBufferString(`{not json`)
		req, _ := http.NewRequest(http.MethodPatch, srv.URL+"/api/v1/services/svc/config", body)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("PATCH failed: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("Expected 400 for malformed body, got %d", resp.StatusCode)
		}
		if len(dir.updateCalls) != 0 {
			t.Error("Malformed body must not reach the registry")
		}
	})
}

func TestResetCircuitBreaker(t *testing.T) {
	t.Run("reset with reason", func(t *testing.T) {
		dir := &fakeDirectory{statuses: map[string]*registry.Status{
			"svc": testStatus("svc", registry.HealthHealthy),
		}}
		srv := newTestServer(dir, nil)
		defer srv.Close()

		body := bytes.NewBufferString(`{"reason": "upstream recovered"}`)
		req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/v1/services/svc/circuit-breaker/reset", body)
		req.Header.Set(ActorHeader, "bob")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("POST failed: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("Expected 200, got %d", resp.StatusCode)
		}

		if len(dir.resetCalls) != 1 {
			t.Fatalf("Expected 1 reset call, got %d", len(dir.resetCalls))
		}
		if dir.resetCalls[0].reason != "upstream recovered" || dir.resetCalls[0].actor != "bob" {
			t.Errorf("Unexpected reset call: %+v", dir.resetCalls[0])
		}
	})

	t.Run("empty reason is 400", func(t *testing.T) {
		dir := &fakeDirectory{
			statuses: map[string]*registry.Status{"svc": testStatus("svc", registry.HealthHealthy)},
			resetErr: &registry.ValidationError{Field: "reason", Message: "reset reason must not be empty"},
		}
		srv := newTestServer(dir, nil)
		defer srv.Close()

		body := bytes.NewBufferString(`{"reason": ""}`)
		req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/v1/services/svc/circuit-breaker/reset", body)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("POST failed: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("Expected 400 for empty reason, got %d", resp.StatusCode)
		}
	})
}

func TestListAuditEvents(t *testing.T) {
	t.Run("returns events", func(t *testing.T) {
		reader := &fakeAuditReader{events: []audit.Event{
			{ID: "ev-1", Timestamp: time.Now().UTC(), Action: audit.ActionConfigUpdate, Actor: "alice", Service: "svc"},
		}}
		srv := newTestServer(&fakeDirectory{}, reader)
		defer srv.Close()

		var body struct {
			Events []audit.Event `json:"events"`
			Total  int64         `json:"total"`
		}
		if code := getJSON(t, srv.URL+"/api/v1/audit?action=config.update&limit=10", &body); code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", code)
		}
		if body.Total != 1 || len(body.Events) != 1 || body.Events[0].ID != "ev-1" {
			t.Errorf("Unexpected audit response: %+v", body)
		}
	})

	t.Run("missing audit store is 404", func(t *testing.T) {
		srv := newTestServer(&fakeDirectory{}, nil)
		defer srv.Close()
		if code := getJSON(t, srv.URL+"/api/v1/audit", nil); code != http.StatusNotFound {
			t.Errorf("Expected 404 without audit store, got %d", code)
		}
	})
}

func TestRequestIDHeader(t *testing.T) {
	srv := newTestServer(&fakeDirectory{}, nil)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/health/live")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.Header.Get(RequestIDHeader) == "" {
		t.Error("Expected X-Request-ID on every response")
	}

	// Inbound IDs are honored.
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/v1/health/live", nil)
	req.Header.Set(RequestIDHeader, "corr-123")
	resp2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp2.Body.Close()
	if got := resp2.Header.Get(RequestIDHeader); got != "corr-123" {
		t.Errorf("Expected inbound request ID to be echoed, got %q", got)
	}
}
