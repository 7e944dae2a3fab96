// Package testutil provides testing utilities for the Graph exporter.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
)

// PageSpec describes one paginated response served by the mock API.
type PageSpec struct {
	// Records is the "value" array of the page.
	Records []map[string]any

	// OmitValue drops the records container entirely, simulating a
	// malformed payload.
	OmitValue bool
}

// ScriptStep is one scripted response for a request, served in order.
type ScriptStep struct {
	StatusCode int
	RetryAfter int
	Body       string
}

// MockGraph is a configurable mock Graph API server. It serves a paginated
// dataset under /v1.0/<resource> with continuation links to
// /page/1, /page/2, ... and supports per-path response scripts for
// throttling and error scenarios.
type MockGraph struct {
	server *httptest.Server

	mu      sync.Mutex
	pages   []PageSpec
	scripts map[string][]ScriptStep

	// Tracking
	RequestCount int
	PathCounts   map[string]int
	LastAuth     string
	LastFilter   string
	RequestIDs   []string
}

// NewMockGraph creates a started mock server.
func NewMockGraph() *MockGraph {
	m := &MockGraph{
		scripts:    make(map[string][]ScriptStep),
		PathCounts: make(map[string]int),
	}
	m.server = httptest.NewServer(http.HandlerFunc(m.handle))
	return m
}

// URL returns the mock server base URL.
func (m *MockGraph) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockGraph) Close() {
	m.server.Close()
}

// SetPages installs the paginated dataset. Page i links to page i+1; the
// last page carries no continuation link.
func (m *MockGraph) SetPages(pages []PageSpec) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pages = pages
}

// Script installs scripted responses for a path (e.g. "/v1.0/auditLogs/signIns").
// Steps are consumed one per request; once exhausted, normal page serving
// resumes.
func (m *MockGraph) Script(path string, steps ...ScriptStep) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts[path] = steps
}

// Requests returns the total request count.
func (m *MockGraph) Requests() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.RequestCount
}

func (m *MockGraph) handle(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()

	m.RequestCount++
	m.PathCounts[r.URL.Path]++
	m.LastAuth = r.Header.Get("Authorization")
	if f := r.URL.Query().Get("$filter"); f != "" {
		m.LastFilter = f
	}
	if id := r.Header.Get("client-request-id"); id != "" {
		m.RequestIDs = append(m.RequestIDs, id)
	}

	// Scripted response pending for this path?
	if steps := m.scripts[r.URL.Path]; len(steps) > 0 {
		step := steps[0]
		m.scripts[r.URL.Path] = steps[1:]
		m.mu.Unlock()

		if step.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(step.RetryAfter))
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(step.StatusCode)
		body := step.Body
		if body == "" {
			body = `{"error":{"code":"mock","message":"scripted response"}}`
		}
		fmt.Fprint(w, body)
		return
	}

	pageIdx := 0
	if n, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil {
		pageIdx = n
	}

	if pageIdx >= len(m.pages) {
		m.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":{"code":"itemNotFound","message":"no such page"}}`)
		return
	}

	page := m.pages[pageIdx]
	hasNext := pageIdx+1 < len(m.pages)
	base := m.server.URL
	m.mu.Unlock()

	payload := map[string]any{}
	if !page.OmitValue {
		records := page.Records
		if records == nil {
			records = []map[string]any{}
		}
		payload["value"] = records
	}
	if hasNext {
		payload[`@odata.nextLink`] = fmt.Sprintf("%s%s?page=%d", base, r.URL.Path, pageIdx+1)
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("client-request-id", r.Header.Get("client-request-id"))
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(payload)
}

// SignInRecord builds a minimal sign-in record for tests.
func SignInRecord(id, user, ip string) map[string]any {
	return map[string]any{
		"id":                id,
		"createdDateTime":   "2019-07-21T22:05:58.8424069Z",
		"userPrincipalName": user,
		"ipAddress":         ip,
		"location": map[string]any{
			"city":            "Helsinki",
			"countryOrRegion": "FI",
		},
	}
}
