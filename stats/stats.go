// Package stats collects ingestion counters in a lock-free manner.
package stats

import (
	"sync/atomic"
	"time"
)

// Stats holds the server-wide counters. The zero value is not usable; call
// New.
type Stats struct {
	startTime time.Time

	accepted       atomic.Uint64
	rejected       atomic.Uint64
	active         atomic.Int64
	closed         atomic.Uint64
	forced         atomic.Uint64
	records        atomic.Uint64
	bytes          atomic.Uint64
	decodeErrors   atomic.Uint64
	overlongLines  atomic.Uint64
	partialFlushed atomic.Uint64
	partialDropped atomic.Uint64
	sinkErrors     atomic.Uint64
}

// Snapshot is a point-in-time copy of Stats, shaped for JSON output.
type Snapshot struct {
	Uptime           string  `json:"uptime"`
	ConnsAccepted    uint64  `json:"connections_accepted"`
	ConnsRejected    uint64  `json:"connections_rejected"`
	ConnsActive      int64   `json:"connections_active"`
	ConnsClosed      uint64  `json:"connections_closed"`
	ConnsForced      uint64  `json:"connections_forced"`
	Records          uint64  `json:"records"`
	Bytes            uint64  `json:"bytes"`
	DecodeErrors     uint64  `json:"decode_errors"`
	OverlongLines    uint64  `json:"overlong_lines"`
	PartialFlushed   uint64  `json:"partial_flushed"`
	PartialDropped   uint64  `json:"partial_dropped"`
	SinkErrors       uint64  `json:"sink_errors"`
	RecordsPerSecond float64 `json:"records_per_second"`
}

// New creates a collector whose uptime starts now.
func New() *Stats {
	return &Stats{startTime: time.Now()}
}

// ConnAccepted counts a connection handed to a session and marks it active.
func (s *Stats) ConnAccepted() {
	s.accepted.Add(1)
	s.active.Add(1)
}

// ConnClosed records the end of an accepted connection. forced is true when
// the drain deadline closed it.
func (s *Stats) ConnClosed(forced bool) {
	s.active.Add(-1)
	s.closed.Add(1)
	if forced {
		s.forced.Add(1)
	}
}

// ConnRejected counts a connection refused by admission control.
func (s *Stats) ConnRejected() { s.rejected.Add(1) }

// RecordWritten counts one record of n bytes handed to the sink.
func (s *Stats) RecordWritten(n int) {
	s.records.Add(1)
	s.bytes.Add(uint64(n))
}

// Per-event counters, incremented once per occurrence.
func (s *Stats) DecodeError()    { s.decodeErrors.Add(1) }
func (s *Stats) OverlongLine()   { s.overlongLines.Add(1) }
func (s *Stats) PartialFlushed() { s.partialFlushed.Add(1) }
func (s *Stats) PartialDropped() { s.partialDropped.Add(1) }
func (s *Stats) SinkError()      { s.sinkErrors.Add(1) }

// Active returns the number of connections currently being handled.
func (s *Stats) Active() int64 {
	return s.active.Load()
}

// Records returns the number of records written so far.
func (s *Stats) Records() uint64 {
	return s.records.Load()
}

// Snapshot copies the current counters.
func (s *Stats) Snapshot() Snapshot {
	elapsed := time.Since(s.startTime)
	records := s.records.Load()

	rate := float64(0)
	if secs := elapsed.Seconds(); secs > 0 {
		rate = float64(records) / secs
	}

	return Snapshot{
		Uptime:           elapsed.Round(time.Millisecond).String(),
		ConnsAccepted:    s.accepted.Load(),
		ConnsRejected:    s.rejected.Load(),
		ConnsActive:      s.active.Load(),
		ConnsClosed:      s.closed.Load(),
		ConnsForced:      s.forced.Load(),
		Records:          records,
		Bytes:            s.bytes.Load(),
		DecodeErrors:     s.decodeErrors.Load(),
		OverlongLines:    s.overlongLines.Load(),
		PartialFlushed:   s.partialFlushed.Load(),
		PartialDropped:   s.partialDropped.Load(),
		SinkErrors:       s.sinkErrors.Load(),
		RecordsPerSecond: rate,
	}
}
