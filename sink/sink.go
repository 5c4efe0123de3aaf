// Package sink defines where records end up. Every target implements Sink;
// Serialized is the single shared instance all connection handlers write
// through, so records never interleave at the byte level.
package sink

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cyberinferno/linesink/record"
)

// Sink receives records and writes them to an output destination.
type Sink interface {
	// Write outputs a single record.
	Write(rec record.Record) error

	// Flush makes buffered output durable or visible.
	Flush() error

	// Close flushes and releases resources held by the sink.
	Close() error

	// Name returns a human-readable identifier for this sink.
	Name() string
}

// Format selects how a record is rendered as a line.
type Format int

const (
	// FormatRaw writes the record text only.
	FormatRaw Format = iota
	// FormatTagged prefixes the text with "[conn-N remote] ".
	FormatTagged
	// FormatJSON writes one JSON object per line.
	FormatJSON
	// FormatSyslog writes one RFC 5424 message per line.
	FormatSyslog
)

func (f Format) String() string {
	switch f {
	case FormatRaw:
		return "raw"
	case FormatTagged:
		return "tagged"
	case FormatJSON:
		return "json"
	case FormatSyslog:
		return "syslog"
	default:
		return fmt.Sprintf("Format(%d)", int(f))
	}
}

// ParseFormat parses "raw", "tagged", "json" or "syslog". The empty string
// means raw.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "raw":
		return FormatRaw, nil
	case "tagged":
		return FormatTagged, nil
	case "json":
		return FormatJSON, nil
	case "syslog":
		return FormatSyslog, nil
	default:
		return FormatRaw, fmt.Errorf("unknown output format %q (want raw, tagged, json or syslog)", s)
	}
}

// jsonRecord is the serialization format for JSON Lines output.
type jsonRecord struct {
	Timestamp string `json:"timestamp"`
	ConnID    uint32 `json:"conn_id"`
	Remote    string `json:"remote,omitempty"`
	Seq       uint64 `json:"seq"`
	Partial   bool   `json:"partial,omitempty"`
	Text      string `json:"text"`
}

// Render formats rec without a trailing newline.
func Render(rec record.Record, format Format) ([]byte, error) {
	switch format {
	case FormatTagged:
		return []byte("[" + rec.Source() + "] " + rec.Text), nil
	case FormatJSON:
		return json.Marshal(jsonRecord{
			Timestamp: rec.ReceivedAt.Format(time.RFC3339Nano),
			ConnID:    rec.ConnID,
			Remote:    rec.Remote,
			Seq:       rec.Seq,
			Partial:   rec.Partial,
			Text:      rec.Text,
		})
	case FormatSyslog:
		return renderSyslog(rec)
	default:
		return []byte(rec.Text), nil
	}
}
