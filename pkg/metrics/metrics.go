// Package metrics provides the centralized Prometheus registry reference
// for the exporter. All metrics are defined in their respective packages
// (graph, paging, delivery, exporter) to maintain modularity and avoid
// circular dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the exporter.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Graph Client Metrics (pkg/graph):
//   - graph_requests_total{resource, status} (Counter): Requests by resource and HTTP status
//   - graph_request_duration_seconds{resource} (Histogram): Request duration by resource
//   - graph_throttle_waits_total (Counter): 429 responses honored with a Retry-After wait
//   - graph_throttle_wait_seconds (Histogram): Server-requested wait durations
//   - graph_throttle_exhausted_total (Counter): Requests that exhausted the throttle budget
//
// Pagination Metrics (pkg/paging):
//   - graph_paging_pages_total (Counter): Pages yielded by cursors
//   - graph_paging_cache_hits_total (Counter): Page fetches served from cursor caches
//   - graph_paging_malformed_payloads_total (Counter): Payloads missing the records container
//
// Delivery Metrics (pkg/delivery):
//   - delivery_records_pushed_total{strategy} (Counter): Records pushed by strategy
//   - delivery_subbatch_failures_total (Counter): Sub-batches that failed to push
//   - delivery_batches_total{result} (Counter): Delivered batches by result
//
// Pipeline Metrics (pkg/exporter):
//   - exporter_plan_cycles_total (Counter): Planning cycles executed
//   - exporter_slices_dispatched_total (Counter): Slices dispatched to fetch tasks
//   - exporter_pages_dispatched_total (Counter): Pages dispatched to store tasks
//   - exporter_records_logged_total (Counter): Records written by the log backend
//   - exporter_tasks_total{task, result} (Counter): Task executions by result
//   - exporter_task_retries_total{task} (Counter): Task retry attempts
//   - exporter_task_backoff_seconds{task} (Histogram): Backoff before retries
//   - exporter_task_retry_exhausted_total{task} (Counter): Tasks that exhausted retries
//
// Example Prometheus Queries:
//
//   # Throttling pressure
//   rate(graph_throttle_waits_total[5m])
//
//   # Delivery failure rate
//   rate(delivery_batches_total{result="failure"}[5m]) /
//   rate(delivery_batches_total[5m])
//
//   # P95 Graph request latency
//   histogram_quantile(0.95, rate(graph_request_duration_seconds_bucket[5m]))
//
//   # Store task retry exhaustion (records at risk of dead-lettering)
//   rate(exporter_task_retry_exhausted_total{task="graph.store_records"}[15m])
