package graph

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/audittrail/graph-exporter/internal/testutil"
	"github.com/audittrail/graph-exporter/pkg/auth"
)

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name        string
		config      Config
		expectError bool
	}{
		{
			name:        "valid config",
			config:      Config{Tokens: auth.Static("t")},
			expectError: false,
		},
		{
			name:        "missing token source",
			config:      Config{},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := New(tt.config)
			if tt.expectError {
				if err == nil {
					t.Error("expected error but got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if client == nil {
				t.Fatal("client is nil")
			}
		})
	}
}

func TestNew_Defaults(t *testing.T) {
	c, err := New(Config{Tokens: auth.Static("t")})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	if c.config.BaseURL != DefaultBaseURL {
		t.Errorf("BaseURL = %q, want %q", c.config.BaseURL, DefaultBaseURL)
	}
	if c.config.APIVersion != DefaultAPIVersion {
		t.Errorf("APIVersion = %q, want %q", c.config.APIVersion, DefaultAPIVersion)
	}
	if c.config.ThrottleRetries != DefaultThrottleRetries {
		t.Errorf("ThrottleRetries = %d, want %d", c.config.ThrottleRetries, DefaultThrottleRetries)
	}
}

func TestFetchTimeWindow_RequestShape(t *testing.T) {
	mock := testutil.NewMockGraph()
	defer mock.Close()

	mock.SetPages([]testutil.PageSpec{
		{Records: []map[string]any{testutil.SignInRecord("1", "a@b.com", "10.0.0.1")}},
	})

	c, _ := newTestClient(t, mock)

	start := time.Date(2019, 7, 26, 2, 2, 2, 123456789, time.UTC)
	end := time.Date(2019, 7, 26, 4, 4, 4, 987654321, time.UTC)

	_, err := c.FetchTimeWindow(context.Background(), TimeWindowQuery{
		Resource: "auditLogs/signIns",
		Start:    &start,
		End:      &end,
		PageSize: 50,
	})
	if err != nil {
		t.Fatalf("FetchTimeWindow() failed: %v", err)
	}

	if mock.LastAuth != "Bearer test-token" {
		t.Errorf("Authorization = %q, want bearer token", mock.LastAuth)
	}

	wantFilter := "createdDateTime ge 2019-07-26T02:02:02.0000000Z and " +
		"createdDateTime le 2019-07-26T04:04:04.9999999Z"
	if mock.LastFilter != wantFilter {
		t.Errorf("$filter = %q, want %q", mock.LastFilter, wantFilter)
	}

	if len(mock.RequestIDs) != 1 || mock.RequestIDs[0] == "" {
		t.Errorf("correlation id missing: %v", mock.RequestIDs)
	}
}

func TestGetSignIns_UserFilter(t *testing.T) {
	mock := testutil.NewMockGraph()
	defer mock.Close()

	mock.SetPages([]testutil.PageSpec{{Records: []map[string]any{}}})

	c, _ := newTestClient(t, mock)

	_, err := c.GetSignIns(context.Background(), SignInsQuery{UserID: "badc0ffe42@cafe.com"})
	if err != nil {
		t.Fatalf("GetSignIns() failed: %v", err)
	}

	if !strings.HasPrefix(mock.LastFilter, "userPrincipalName eq 'badc0ffe42@cafe.com'") {
		t.Errorf("$filter = %q, want userPrincipalName clause first", mock.LastFilter)
	}
}

func TestGet_TerminalStatusError(t *testing.T) {
	mock := testutil.NewMockGraph()
	defer mock.Close()

	mock.Script("/v1.0/auditLogs/signIns", testutil.ScriptStep{
		StatusCode: 403,
		Body:       `{"error":{"code":"Authorization_RequestDenied","message":"Insufficient privileges"}}`,
	})

	c, sleeps := newTestClient(t, mock)

	_, err := c.GetSignIns(context.Background(), SignInsQuery{})
	if err == nil {
		t.Fatal("expected error for HTTP 403")
	}

	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("error type = %T, want *StatusError", err)
	}
	if se.StatusCode != 403 {
		t.Errorf("status = %d, want 403", se.StatusCode)
	}
	if se.Code != "Authorization_RequestDenied" {
		t.Errorf("code = %q, want Authorization_RequestDenied", se.Code)
	}
	if Classify(err) != ErrorClassAPI {
		t.Errorf("Classify() = %s, want %s", Classify(err), ErrorClassAPI)
	}

	// No retry for non-429 statuses.
	if mock.Requests() != 1 {
		t.Errorf("server saw %d requests, want 1", mock.Requests())
	}
	if len(*sleeps) != 0 {
		t.Errorf("slept %d times, want 0", len(*sleeps))
	}
}

func TestClassify_Transport(t *testing.T) {
	c, _ := New(Config{
		Tokens:  auth.Static("t"),
		BaseURL: "http://127.0.0.1:1", // nothing listens here
	})

	_, err := c.GetSignIns(context.Background(), SignInsQuery{})
	if err == nil {
		t.Fatal("expected transport error")
	}
	if Classify(err) != ErrorClassTransport {
		t.Errorf("Classify() = %s, want %s", Classify(err), ErrorClassTransport)
	}
}
