package graph

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for throttling behavior.
var (
	graphThrottleWaitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "graph_throttle_waits_total",
		Help: "Total number of HTTP 429 responses honored with a Retry-After wait",
	})

	graphThrottleWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "graph_throttle_wait_seconds",
		Help:    "Server-requested Retry-After wait durations",
		Buckets: []float64{1, 2, 5, 10, 30, 60, 120},
	})

	graphThrottleExhaustedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "graph_throttle_exhausted_total",
		Help: "Total number of requests that exhausted the throttling retry budget",
	})
)

// sendState enumerates the states of the per-request throttling machine.
type sendState int

const (
	// stateSending: a request attempt is in flight.
	stateSending sendState = iota

	// stateThrottled: the API answered 429; wait Retry-After seconds and
	// retry if budget remains.
	stateThrottled

	// stateDone: terminal success (HTTP 200) or a non-retryable status
	// surfaced to the caller for classification.
	stateDone

	// stateFailed: terminal transport failure.
	stateFailed
)

// DefaultThrottleRetries is the bound on consecutive 429 retries per request.
const DefaultThrottleRetries = 5

// retryAfter extracts the server-requested wait from a 429 response.
// A missing or unparsable header falls back to one second.
func retryAfter(resp *http.Response) time.Duration {
	secs, err := strconv.Atoi(resp.Header.Get("Retry-After"))
	if err != nil || secs < 0 {
		return time.Second
	}
	return time.Duration(secs) * time.Second
}

// sendThrottled drives one HTTP request through the throttling state
// machine. attempt() must return a fresh response per call; the body of a
// throttled response is closed before the retry.
//
// Exhausting the retry budget is not an error at this layer: the last 429
// response is surfaced so the caller can classify it.
func (c *Client) sendThrottled(ctx context.Context, logger zerolog.Logger, attempt func() (*http.Response, error)) (*http.Response, error) {
	budget := c.config.ThrottleRetries
	state := stateSending

	var resp *http.Response
	var err error

	for {
		switch state {
		case stateSending:
			resp, err = attempt()
			if err != nil {
				state = stateFailed
			} else if resp.StatusCode == http.StatusTooManyRequests {
				state = stateThrottled
			} else {
				state = stateDone
			}

		case stateThrottled:
			if budget <= 0 {
				graphThrottleExhaustedTotal.Inc()
				logger.Warn().
					Int("max_retries", c.config.ThrottleRetries).
					Msg("Throttling retries exhausted, surfacing last response")
				return resp, nil
			}

			wait := retryAfter(resp)
			resp.Body.Close()

			graphThrottleWaitsTotal.Inc()
			graphThrottleWaitSeconds.Observe(wait.Seconds())

			logger.Warn().
				Dur("retry_after", wait).
				Int("retries_left", budget).
				Msg("Throttled by Graph API")

			if err := c.sleep(ctx, wait); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrContextCancelled, err)
			}

			budget--
			state = stateSending

		case stateDone:
			return resp, nil

		case stateFailed:
			return nil, err
		}
	}
}
