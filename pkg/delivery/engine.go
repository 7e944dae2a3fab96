package delivery

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/audittrail/graph-exporter/pkg/paging"
)

// Prometheus metrics for delivery operations.
var (
	deliveryRecordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "delivery_records_pushed_total",
		Help: "Total records pushed to the queue backend by strategy",
	}, []string{"strategy"})

	deliverySubBatchFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "delivery_subbatch_failures_total",
		Help: "Total sub-batches that failed to push",
	})

	deliveryBatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "delivery_batches_total",
		Help: "Total delivered batches by result",
	}, []string{"result"})
)

// Mode selects the per-sub-batch transfer strategy.
type Mode string

const (
	// ModeNaive pushes each record with its own queue round-trip.
	ModeNaive Mode = "naive"

	// ModePipelined accumulates the whole sub-batch into one atomic
	// round-trip.
	ModePipelined Mode = "pipelined"
)

// Valid reports whether m names a known transfer strategy.
func (m Mode) Valid() bool {
	return m == ModeNaive || m == ModePipelined
}

// Discipline selects how sub-batch workers are scheduled and joined.
type Discipline string

const (
	// DisciplineSpawn launches every sub-batch worker immediately and
	// collects results in launch order.
	DisciplineSpawn Discipline = "spawn"

	// DisciplineBoundedImap keeps at most pool-size sub-batches in flight
	// and collects results in completion order.
	DisciplineBoundedImap Discipline = "imap"
)

// Config holds the delivery engine configuration.
type Config struct {
	// Workers caps concurrently delivering sub-batch goroutines.
	Workers int

	// QueueKey is the Redis list or channel records are pushed to.
	QueueKey string

	// Kind selects the queue discipline (list or channel).
	Kind Kind

	// Mode selects the transfer strategy per sub-batch.
	Mode Mode
}

// Engine splits record batches into sub-batches and delivers them
// concurrently through a bounded worker pool. Workers share the queue
// backend's connection pool but never share mutable state; each sub-batch
// is a disjoint slice of the page.
type Engine struct {
	queue  Queue
	config Config
	logger zerolog.Logger
}

// NewEngine creates a delivery engine.
func NewEngine(queue Queue, cfg Config) (*Engine, error) {
	if queue == nil {
		return nil, fmt.Errorf("queue backend is required")
	}
	if cfg.QueueKey == "" {
		return nil, fmt.Errorf("queue key is required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 10
	}
	if cfg.Kind == "" {
		cfg.Kind = KindList
	}
	if !cfg.Kind.Valid() {
		return nil, fmt.Errorf("unknown queue kind %q", cfg.Kind)
	}
	if cfg.Mode == "" {
		cfg.Mode = ModePipelined
	}
	if !cfg.Mode.Valid() {
		return nil, fmt.Errorf("unknown delivery mode %q", cfg.Mode)
	}

	return &Engine{
		queue:  queue,
		config: cfg,
		logger: log.With().Str("component", "delivery").Logger(),
	}, nil
}

// ChunkSize computes the sub-batch size for n records over a pool of
// workers. Small batches stay whole; larger ones use half-up rounding of
// n/workers, which biases toward equal-sized chunks instead of leaving one
// large remainder chunk.
func ChunkSize(n, workers int) int {
	if n <= workers {
		return n
	}
	return (n*2/workers + 1) / 2
}

// chunks splits records into consecutive sub-batches of size each (the
// last one may be shorter).
func chunks(records []paging.Record, size int) [][]paging.Record {
	if size <= 0 {
		return nil
	}

	out := make([][]paging.Record, 0, (len(records)+size-1)/size)
	for i := 0; i < len(records); i += size {
		end := i + size
		if end > len(records) {
			end = len(records)
		}
		out = append(out, records[i:end])
	}
	return out
}

// Deliver pushes records to the queue backend, fanning sub-batches out
// according to the given discipline. It reports true only if every
// sub-batch succeeded; a failed sub-batch never cancels its siblings and
// no error escapes to the caller. An empty batch trivially succeeds.
func (e *Engine) Deliver(ctx context.Context, records []paging.Record, d Discipline) bool {
	if len(records) == 0 {
		return true
	}

	batches := chunks(records, ChunkSize(len(records), e.config.Workers))

	e.logger.Debug().
		Int("records", len(records)).
		Int("sub_batches", len(batches)).
		Str("discipline", string(d)).
		Msg("Delivering batch")

	var results []bool
	switch d {
	case DisciplineBoundedImap:
		results = e.deliverBoundedImap(ctx, batches)
	default:
		results = e.deliverSpawnAll(ctx, batches)
	}

	ok := true
	for _, r := range results {
		if !r {
			ok = false
		}
	}

	if ok {
		deliveryBatchesTotal.WithLabelValues("success").Inc()
	} else {
		deliveryBatchesTotal.WithLabelValues("failure").Inc()
		e.logger.Warn().Int("records", len(records)).Msg("Batch delivery failed")
	}

	return ok
}

// deliverSpawnAll launches one goroutine per sub-batch immediately and
// waits for all of them, collecting results in launch order.
func (e *Engine) deliverSpawnAll(ctx context.Context, batches [][]paging.Record) []bool {
	results := make([]bool, len(batches))

	var wg sync.WaitGroup
	for i, batch := range batches {
		wg.Add(1)
		go func(i int, batch []paging.Record) {
			defer wg.Done()
			results[i] = e.PushBatch(ctx, batch)
		}(i, batch)
	}
	wg.Wait()

	return results
}

// deliverBoundedImap keeps at most Workers sub-batches in flight and
// collects results in completion order.
func (e *Engine) deliverBoundedImap(ctx context.Context, batches [][]paging.Record) []bool {
	out := make(chan bool, len(batches))

	g := &errgroup.Group{}
	g.SetLimit(e.config.Workers)

	for _, batch := range batches {
		batch := batch
		g.Go(func() error {
			// Failures are reported through the results channel, never as
			// errors: a bad sub-batch must not cancel its siblings.
			out <- e.PushBatch(ctx, batch)
			return nil
		})
	}

	_ = g.Wait()
	close(out)

	results := make([]bool, 0, len(batches))
	for r := range out {
		results = append(results, r)
	}
	return results
}

// PushBatch delivers one sub-batch with the configured strategy. Broker
// errors are caught here and reported as a false result.
func (e *Engine) PushBatch(ctx context.Context, records []paging.Record) bool {
	var err error

	switch e.config.Mode {
	case ModeNaive:
		err = e.pushNaive(ctx, records)
	default:
		err = e.pushPipelined(ctx, records)
	}

	if err != nil {
		deliverySubBatchFailuresTotal.Inc()
		e.logger.Error().
			Err(err).
			Int("records", len(records)).
			Str("queue_key", e.config.QueueKey).
			Msg("Sub-batch push failed")
		return false
	}

	deliveryRecordsTotal.WithLabelValues(string(e.config.Mode)).Add(float64(len(records)))
	return true
}

// pushNaive issues one queue round-trip per record.
func (e *Engine) pushNaive(ctx context.Context, records []paging.Record) error {
	for _, r := range records {
		if err := e.queue.PushOne(ctx, e.config.Kind, e.config.QueueKey, r); err != nil {
			return err
		}
	}
	return nil
}

// pushPipelined commits the whole sub-batch in one atomic round-trip.
func (e *Engine) pushPipelined(ctx context.Context, records []paging.Record) error {
	values := make([][]byte, len(records))
	for i, r := range records {
		values[i] = r
	}
	return e.queue.PushMulti(ctx, e.config.Kind, e.config.QueueKey, values)
}

// DeleteQueue clears the target queue key.
func (e *Engine) DeleteQueue(ctx context.Context) error {
	if err := e.queue.Delete(ctx, e.config.QueueKey); err != nil {
		return fmt.Errorf("delete queue %q: %w", e.config.QueueKey, err)
	}
	e.logger.Info().
		Str("queue_key", e.config.QueueKey).
		Str("kind", string(e.config.Kind)).
		Msg("Cleared queue key")
	return nil
}
