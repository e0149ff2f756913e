package scrape

import "sync/atomic"

// Stats tracks fetch outcomes for the process lifetime. The retry controller
// is the only writer during a cycle and cycles never overlap, but the streak
// is also reset from the Discord reconnect handler and read by the status
// endpoint, so the counters are atomics rather than relying on serialization.
type Stats struct {
	success     atomic.Int64
	failure     atomic.Int64
	consecutive atomic.Int64
}

// RecordSuccess counts a successful fetch and clears the failure streak.
func (s *Stats) RecordSuccess() {
	s.success.Add(1)
	s.consecutive.Store(0)
}

// RecordFailure counts a failed attempt and extends the failure streak.
func (s *Stats) RecordFailure() {
	s.failure.Add(1)
	s.consecutive.Add(1)
}

// ResetStreak clears the consecutive-failure counter. Called on reconnect.
func (s *Stats) ResetStreak() {
	s.consecutive.Store(0)
}

// Success returns the total successful fetch count.
func (s *Stats) Success() int64 { return s.success.Load() }

// Failure returns the total failed attempt count.
func (s *Stats) Failure() int64 { return s.failure.Load() }

// Consecutive returns the current failure streak length.
func (s *Stats) Consecutive() int64 { return s.consecutive.Load() }
