// Package timeslice computes the time-domain partitioning for periodic
// extraction runs. A planning call covers the elapsed interval since the
// previous run with a fixed number of consecutive, non-overlapping slices,
// shifted back by a configurable lag to absorb the data population delay
// of the Graph API.
package timeslice

import (
	"fmt"
	"time"
)

// Slice is one contiguous time sub-window assigned to one parallel fetch
// task. Both bounds are inclusive at sub-second granularity: the effective
// query window is [Start.0000000, End.9999999].
type Slice struct {
	Start time.Time
	End   time.Time
}

// Duration returns the covered wall-clock span, counting both inclusive
// one-second endpoints.
func (s Slice) Duration() time.Duration {
	return s.End.Sub(s.Start) + time.Second
}

func (s Slice) String() string {
	return fmt.Sprintf("[%s - %s]", s.Start.Format(time.RFC3339), s.End.Format(time.RFC3339))
}

// Plan describes one partitioning of elapsed time into slices.
type Plan struct {
	// Lag shifts the whole frame back from the reference time.
	Lag time.Duration

	// Slices is the number of parallel streams to plan per cycle.
	Slices int

	// Frame is the time-domain size of each slice.
	Frame time.Duration
}

// Interval returns the period at which planning must run for gap-free
// coverage: consecutive invocations Interval() apart produce frames that
// tile elapsed time exactly.
func (p Plan) Interval() time.Duration {
	return time.Duration(p.Slices) * p.Frame
}

// Cut partitions the frame ending lag+1s before ref into p.Slices
// consecutive slices of p.Frame each, ordered most-recent first.
//
// ref is truncated to whole seconds first, so the frame bounds are stable
// regardless of sub-second clock reads. With ref=...T22:02:53, lag=60s,
// slices=3 and frame=10s the result is:
//
//	[22:01:44 - 22:01:53]
//	[22:01:34 - 22:01:43]
//	[22:01:24 - 22:01:33]
//
// Slice i covers [frameEnd+1s-frame*(i+1), frameEnd-frame*i]; the union of
// all slices is exactly [frameStart, frameEnd] with no gaps or overlaps.
func (p Plan) Cut(ref time.Time) []Slice {
	sec := time.Second

	now := ref.Truncate(sec)
	frameEnd := now.Add(-p.Lag).Add(-sec)

	out := make([]Slice, 0, p.Slices)
	for i := 0; i < p.Slices; i++ {
		out = append(out, Slice{
			Start: frameEnd.Add(sec).Add(-p.Frame * time.Duration(i+1)),
			End:   frameEnd.Add(-p.Frame * time.Duration(i)),
		})
	}

	return out
}

// FrameBounds returns the overall [frameStart, frameEnd] covered by a Cut
// at ref, using the same truncation rules.
func (p Plan) FrameBounds(ref time.Time) (time.Time, time.Time) {
	sec := time.Second

	frameEnd := ref.Truncate(sec).Add(-p.Lag).Add(-sec)
	frameStart := frameEnd.Add(sec).Add(-p.Frame * time.Duration(p.Slices))

	return frameStart, frameEnd
}
