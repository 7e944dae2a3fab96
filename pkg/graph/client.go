package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/audittrail/graph-exporter/pkg/auth"
	"github.com/audittrail/graph-exporter/pkg/paging"
)

// Prometheus metrics for Graph client operations.
var (
	graphRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "graph_requests_total",
		Help: "Total Graph requests by resource and status",
	}, []string{"resource", "status"})

	graphRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "graph_request_duration_seconds",
		Help:    "Graph request duration in seconds by resource",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"resource"})
)

// Default endpoint and timeouts. The connect/read split mirrors the upstream
// service behavior: connection establishment is fast or dead, while large
// filtered pages can legitimately take tens of seconds to assemble.
const (
	DefaultBaseURL    = "https://graph.microsoft.com"
	DefaultAPIVersion = "v1.0"

	defaultConnectTimeout = 3 * time.Second
	defaultReadTimeout    = 30 * time.Second
)

// Config holds the Graph client configuration.
type Config struct {
	// Tokens supplies a valid bearer token per request (REQUIRED).
	Tokens auth.TokenSource

	// BaseURL overrides the API endpoint (tests).
	BaseURL string

	// APIVersion selects the Graph API version.
	APIVersion string

	// ThrottleRetries bounds consecutive 429 retries per request.
	ThrottleRetries int

	// ConnectTimeout and ReadTimeout bound each HTTP request.
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
}

// Client issues authenticated queries to the Graph API and spawns
// pagination cursors over their results. It is safe for concurrent use and
// is shared by all fetch tasks within one worker process.
type Client struct {
	httpClient *http.Client
	config     Config
	logger     zerolog.Logger

	// sleep is the throttling wait; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a new Graph client.
func New(cfg Config) (*Client, error) {
	if cfg.Tokens == nil {
		return nil, fmt.Errorf("token source is required")
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}
	if cfg.ThrottleRetries <= 0 {
		cfg.ThrottleRetries = DefaultThrottleRetries
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.ReadTimeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: cfg.ConnectTimeout,
				}).DialContext,
			},
		},
		config: cfg,
		logger: log.With().Str("component", "graph-client").Logger(),
		sleep:  sleepCtx,
	}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// TimeWindowQuery describes one filtered, time-domain query against a
// Graph resource.
type TimeWindowQuery struct {
	// Resource is the path under the API version, e.g. "auditLogs/signIns".
	Resource string

	// Filter holds additional (field, operator, value) clauses joined by
	// JoinOp; createdDateTime bounds are appended automatically.
	Filter []Clause

	// JoinOp joins filter clauses ("and" when empty).
	JoinOp string

	// Start and End bound createdDateTime; either may be nil to leave that
	// side of the window open.
	Start *time.Time
	End   *time.Time

	// PageSize requests paginated responses of that many records ($top).
	// Zero leaves paging to the server default.
	PageSize int

	// CacheEnabled retains visited payloads in the cursor cache.
	CacheEnabled bool
}

// FetchTimeWindow issues the query and returns a cursor seeded with the
// first page. Non-200 responses surface as *StatusError.
func (c *Client) FetchTimeWindow(ctx context.Context, q TimeWindowQuery) (*paging.Cursor, error) {
	clauses := timeWindowClauses(q.Filter, q.Start, q.End)

	joinOp := q.JoinOp
	if joinOp == "" {
		joinOp = "and"
	}

	params := url.Values{}
	if q.PageSize > 0 {
		params.Set("$top", strconv.Itoa(q.PageSize))
	}
	if filter := BuildFilter(clauses, joinOp); filter != "" {
		params.Set("$filter", filter)
	}

	queryURL := fmt.Sprintf("%s/%s/%s", c.config.BaseURL, c.config.APIVersion, q.Resource)

	c.logger.Info().Str("resource", q.Resource).Msg("Querying Graph resource")
	c.logger.Debug().
		Str("filter", params.Get("$filter")).
		Int("page_size", q.PageSize).
		Msg("Query parameters")

	payload, finalURL, err := c.get(ctx, queryURL, params)
	if err != nil {
		return nil, err
	}

	return paging.NewCursor(c, payload, finalURL, q.CacheEnabled)
}

// SignInsQuery narrows a time-window query to Azure AD sign-in records.
type SignInsQuery struct {
	// UserID restricts records to one userPrincipalName when set.
	UserID string

	Start *time.Time
	End   *time.Time

	PageSize     int
	CacheEnabled bool
}

// GetSignIns queries the auditLogs/signIns resource.
func (c *Client) GetSignIns(ctx context.Context, q SignInsQuery) (*paging.Cursor, error) {
	var filter []Clause
	if q.UserID != "" {
		filter = append(filter, Clause{Field: "userPrincipalName", Op: "eq", Value: "'" + q.UserID + "'"})
	}

	return c.FetchTimeWindow(ctx, TimeWindowQuery{
		Resource:     "auditLogs/signIns",
		Filter:       filter,
		Start:        q.Start,
		End:          q.End,
		PageSize:     q.PageSize,
		CacheEnabled: q.CacheEnabled,
	})
}

// FetchURL retrieves a continuation link on behalf of a pagination cursor.
func (c *Client) FetchURL(ctx context.Context, rawURL string) ([]byte, error) {
	payload, _, err := c.get(ctx, rawURL, nil)
	return payload, err
}

// get performs one authenticated GET through the throttling state machine
// and returns the response payload together with the effective request URL.
// A fresh bearer token and correlation ID are attached per attempt.
func (c *Client) get(ctx context.Context, rawURL string, params url.Values) ([]byte, string, error) {
	reqURL := rawURL
	if len(params) > 0 {
		reqURL = rawURL + "?" + params.Encode()
	}

	parsed, err := url.Parse(reqURL)
	if err != nil {
		return nil, "", fmt.Errorf("parse request url: %w", err)
	}
	resource := parsed.Path

	start := time.Now()
	defer func() {
		graphRequestDuration.WithLabelValues(resource).Observe(time.Since(start).Seconds())
	}()

	requestID := uuid.New().String()
	logger := c.logger.With().Str("request_id", requestID).Str("resource", resource).Logger()

	resp, err := c.sendThrottled(ctx, logger, func() (*http.Response, error) {
		token, err := c.config.Tokens.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTokenUnavailable, err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}

		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("client-request-id", requestID)
		req.Header.Set("return-client-request-id", "true")

		logger.Debug().Msg("Sending Graph request")

		return c.httpClient.Do(req)
	})
	if err != nil {
		graphRequestsTotal.WithLabelValues(resource, "network_error").Inc()
		logger.Error().Err(err).Msg("Graph request failed")
		return nil, "", err
	}
	defer resp.Body.Close()

	graphRequestsTotal.WithLabelValues(resource, strconv.Itoa(resp.StatusCode)).Inc()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		se := &StatusError{StatusCode: resp.StatusCode, RequestID: requestID}
		se.Code, se.Message = parseErrorEnvelope(body)
		logger.Warn().
			Int("status_code", resp.StatusCode).
			Str("error_code", se.Code).
			Msg("Graph request error")
		return nil, "", se
	}

	logger.Info().
		Int("status_code", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("Graph request complete")

	return body, resp.Request.URL.String(), nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(hc *http.Client) {
	c.httpClient = hc
}

// parseErrorEnvelope extracts the code and message from a Graph error body.
func parseErrorEnvelope(body []byte) (string, string) {
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return "", ""
	}
	return envelope.Error.Code, envelope.Error.Message
}
