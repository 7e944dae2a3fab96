package paging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for cursor operations.
var (
	pagingPagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "graph_paging_pages_total",
		Help: "Total pages yielded by pagination cursors",
	})

	pagingCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "graph_paging_cache_hits_total",
		Help: "Total page fetches served from cursor caches",
	})

	pagingMalformedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "graph_paging_malformed_payloads_total",
		Help: "Total payloads rejected for a missing records container",
	})
)

// ErrMalformedPayload is returned when a fetched payload lacks the records
// container key. This is a contract violation with the remote API and is
// fatal for the cursor: no further pages are yielded.
var ErrMalformedPayload = errors.New("payload missing 'value' records container")

// Record is one opaque audit record as returned by the API.
type Record = json.RawMessage

// Fetcher issues authenticated GET requests for continuation links. It is
// implemented by graph.Client and shared between all cursors it spawns.
type Fetcher interface {
	FetchURL(ctx context.Context, url string) ([]byte, error)
}

// envelope is the paginated response shape. Value is a pointer so an absent
// key (fatal) is distinguishable from an empty record list (valid).
type envelope struct {
	Value    *[]Record `json:"value"`
	NextLink string    `json:"@odata.nextLink"`
}

// Cursor is a restartable sequence-of-pages producer over one Graph query.
// It is not safe for concurrent use; each fetch task drives its own cursor.
type Cursor struct {
	fetcher Fetcher
	cache   *pageCache
	logger  zerolog.Logger

	initialURL string
	nextURL    string

	page     []Record
	complete bool
	stopNext bool
}

// NewCursor seeds a cursor with the first page of a query and the URL that
// produced it. retain controls whether visited payloads are kept for
// cache-served replays.
func NewCursor(fetcher Fetcher, initialPayload []byte, initialURL string, retain bool) (*Cursor, error) {
	c := &Cursor{
		fetcher:    fetcher,
		cache:      newPageCache(retain),
		logger:     log.With().Str("component", "paging").Str("cursor_id", uuid.New().String()).Logger(),
		initialURL: initialURL,
	}

	if err := c.update(initialPayload, initialURL); err != nil {
		return nil, err
	}

	c.logger.Debug().
		Int("records", len(c.page)).
		Bool("complete", c.complete).
		Msg("Cursor initialized")

	return c, nil
}

// Start resets the cursor for a new pass. If the previous pass ran to
// completion across more than one distinct URL, the cursor rewinds to the
// initial URL and re-fetches it, from cache when retained and from the
// network otherwise. A single-URL dataset keeps its buffered page, so the
// pass replays without any fetch.
func (c *Cursor) Start(ctx context.Context) error {
	c.stopNext = false

	if c.complete && c.cache.size() > 1 {
		c.logger.Debug().Str("url", c.initialURL).Msg("Rewinding to initial URL")
		if err := c.fetchInto(ctx, c.initialURL); err != nil {
			return err
		}
	}

	return nil
}

// Advance yields the buffered page and prefetches the next one when a
// continuation link is pending. The second return value is false once the
// sequence is exhausted; Start re-arms the cursor afterwards.
func (c *Cursor) Advance(ctx context.Context) ([]Record, bool, error) {
	if c.stopNext {
		return nil, false, nil
	}

	if c.complete {
		c.stopNext = true
	}

	page := c.page

	if !c.complete {
		if err := c.fetchInto(ctx, c.nextURL); err != nil {
			c.stopNext = true
			return nil, false, err
		}
	}

	pagingPagesTotal.Inc()
	c.logger.Debug().
		Int("records", len(page)).
		Bool("complete", c.complete).
		Msg("Yielding page")

	return page, true, nil
}

// Done reports whether the current pass is exhausted.
func (c *Cursor) Done() bool {
	return c.stopNext
}

// fetchInto loads url into the cursor state, serving retained payloads from
// the cache before going to the network.
func (c *Cursor) fetchInto(ctx context.Context, url string) error {
	if payload, ok := c.cache.get(url); ok {
		pagingCacheHitsTotal.Inc()
		c.logger.Debug().Str("url", url).Msg("Serving page from cache")
		return c.update(payload, url)
	}

	payload, err := c.fetcher.FetchURL(ctx, url)
	if err != nil {
		return fmt.Errorf("fetch next page: %w", err)
	}

	return c.update(payload, url)
}

// update parses a payload and swaps it into the buffered state, recording
// the visit in the cache.
func (c *Cursor) update(payload []byte, url string) error {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}

	if env.Value == nil {
		pagingMalformedTotal.Inc()
		c.logger.Error().Str("url", url).Msg("Payload missing records container")
		return ErrMalformedPayload
	}

	c.page = *env.Value
	c.nextURL = env.NextLink
	c.complete = c.nextURL == ""
	c.cache.record(url, payload)

	return nil
}
