// Package record defines the unit of data that flows from a connection
// handler to the sink.
package record

import (
	"fmt"
	"time"
)

// Record is one decoded, newline-delimited line received from a peer.
// Records are values and must not be modified after they are produced.
type Record struct {
	// ConnID identifies the connection that produced the record.
	ConnID uint32
	// Remote is the peer address of that connection.
	Remote string
	// Seq is the 1-based position of the record within its connection.
	Seq uint64
	// Text is the decoded line without its terminating delimiter.
	Text string
	// Partial marks a trailing undelimited buffer emitted at connection
	// close under the flush policy.
	Partial bool
	// ReceivedAt is when the delimiter (or the close) was observed.
	ReceivedAt time.Time
}

// Source returns the "conn-N remote" tag used by tagged output formats.
func (r Record) Source() string {
	if r.Remote == "" {
		return fmt.Sprintf("conn-%d", r.ConnID)
	}

	return fmt.Sprintf("conn-%d %s", r.ConnID, r.Remote)
}
