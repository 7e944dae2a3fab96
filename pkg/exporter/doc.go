// Package exporter ties the extraction pipeline together: a recurring plan
// task cuts elapsed time into slices, one fetch task per slice drives a
// pagination cursor to exhaustion, and one store task per page delivers the
// records to the queue backend.
//
// Stages communicate only through immutable payloads (slice bounds, page
// contents) handed to the dispatcher; fetch tasks of one cycle and store
// tasks of one slice may run in any order and in parallel. Stages never
// cancel mid-flight: an invocation runs to completion or failure and
// already-dispatched downstream work is not rolled back, which gives
// at-least-once delivery semantics downstream.
package exporter
