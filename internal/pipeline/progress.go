package pipeline

import "sync/atomic"

// Stats tracks run-wide record counters with thread-safe access.
type Stats struct {
	fetched atomic.Int64
	loaded  atomic.Int64
}

// Fetched returns the number of records fetched from all sources.
func (s *Stats) Fetched() int64 { return s.fetched.Load() }

// Loaded returns the number of records appended to staging relations.
func (s *Stats) Loaded() int64 { return s.loaded.Load() }

func (s *Stats) incFetched(n int64) int64 { return s.fetched.Add(n) }
func (s *Stats) incLoaded(n int64) int64  { return s.loaded.Add(n) }
