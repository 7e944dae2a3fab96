// Package delivery pushes pages of audit records into the queue backend.
//
// A page is split into disjoint sub-batches sized by a rounding formula
// biased toward equal chunks, and the sub-batches are delivered through a
// bounded worker pool. Two per-sub-batch strategies exist: naive (one queue
// round-trip per record) and pipelined (all pushes of a sub-batch in one
// atomic MULTI/EXEC round-trip). Two aggregation disciplines exist: spawn
// all workers at once and join, or keep at most pool-size workers in
// flight. Either way the batch result is all-or-nothing: one failed
// sub-batch makes the whole delivery report failure, but sibling
// sub-batches always run to completion.
package delivery
