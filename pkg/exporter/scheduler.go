package exporter

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for task scheduling.
var (
	tasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exporter_tasks_total",
		Help: "Total executed tasks by name and result",
	}, []string{"task", "result"})

	taskRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exporter_task_retries_total",
		Help: "Total task retry attempts by name",
	}, []string{"task"})

	taskBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "exporter_task_backoff_seconds",
		Help:    "Backoff duration before task retries by name",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 64},
	}, []string{"task"})

	taskExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exporter_task_retry_exhausted_total",
		Help: "Total tasks that exhausted their retry attempts by name",
	}, []string{"task"})
)

// RetryPolicy declares how a named task is re-invoked after failure.
type RetryPolicy struct {
	// Retryable classifies errors; non-retryable errors fail the task
	// immediately.
	Retryable func(error) bool

	// InitialBackoff is the wait before the first retry; each subsequent
	// wait doubles up to MaxBackoff, with ±20% jitter.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// MaxAttempts bounds total executions; zero means unlimited.
	MaxAttempts int
}

// Dispatcher accepts named units of work for asynchronous execution with a
// per-task-name retry policy. It is the boundary to the external task
// scheduler: the in-process Scheduler below implements it for worker
// deployments without a distributed queue.
type Dispatcher interface {
	Dispatch(ctx context.Context, name string, run func(ctx context.Context) error)
}

// Scheduler is an in-process Dispatcher backed by goroutines. Dispatched
// tasks run concurrently; Shutdown waits for in-flight tasks to finish.
type Scheduler struct {
	policies map[string]RetryPolicy
	logger   zerolog.Logger
	wg       sync.WaitGroup
}

// NewScheduler creates a scheduler with per-task-name retry policies.
// Tasks without a policy run exactly once.
func NewScheduler(policies map[string]RetryPolicy) *Scheduler {
	if policies == nil {
		policies = map[string]RetryPolicy{}
	}
	return &Scheduler{
		policies: policies,
		logger:   log.With().Str("component", "scheduler").Logger(),
	}
}

// Dispatch launches a task without waiting for completion.
func (s *Scheduler) Dispatch(ctx context.Context, name string, run func(ctx context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.execute(ctx, name, run)
	}()
}

// RunEvery registers a recurring entry: run is executed immediately and
// then on every interval tick until the context is cancelled.
func (s *Scheduler) RunEvery(ctx context.Context, name string, interval time.Duration, run func(ctx context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		s.logger.Info().
			Str("task", name).
			Dur("interval", interval).
			Msg("Registered recurring task")

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		s.execute(ctx, name, run)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.execute(ctx, name, run)
			}
		}
	}()
}

// Shutdown blocks until all dispatched tasks have finished.
func (s *Scheduler) Shutdown() {
	s.wg.Wait()
}

// execute runs a task under its retry policy with exponential backoff and
// jitter.
func (s *Scheduler) execute(ctx context.Context, name string, run func(ctx context.Context) error) {
	policy, hasPolicy := s.policies[name]
	logger := s.logger.With().Str("task", name).Logger()

	backoff := policy.InitialBackoff
	if backoff <= 0 {
		backoff = time.Second
	}

	for attempt := 1; ; attempt++ {
		err := run(ctx)
		if err == nil {
			if attempt > 1 {
				logger.Info().Int("attempt", attempt).Msg("Task succeeded after retry")
			}
			tasksTotal.WithLabelValues(name, "success").Inc()
			return
		}

		if !hasPolicy || policy.Retryable == nil || !policy.Retryable(err) {
			logger.Error().Err(err).Msg("Task failed")
			tasksTotal.WithLabelValues(name, "failure").Inc()
			return
		}

		if policy.MaxAttempts > 0 && attempt >= policy.MaxAttempts {
			logger.Warn().
				Err(err).
				Int("max_attempts", policy.MaxAttempts).
				Msg("Task retry attempts exhausted")
			taskExhaustedTotal.WithLabelValues(name).Inc()
			tasksTotal.WithLabelValues(name, "exhausted").Inc()
			return
		}

		// ±20% jitter prevents synchronized retry storms across slices.
		wait := time.Duration(float64(backoff) * (0.8 + rand.Float64()*0.4))

		taskRetriesTotal.WithLabelValues(name).Inc()
		taskBackoffSeconds.WithLabelValues(name).Observe(wait.Seconds())

		logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Dur("backoff", wait).
			Msg("Task failed, retrying after backoff")

		select {
		case <-ctx.Done():
			logger.Warn().Int("attempt", attempt).Msg("Context cancelled during retry backoff")
			tasksTotal.WithLabelValues(name, "cancelled").Inc()
			return
		case <-time.After(wait):
		}

		backoff *= 2
		if policy.MaxBackoff > 0 && backoff > policy.MaxBackoff {
			backoff = policy.MaxBackoff
		}
	}
}
