package sink

import (
	"fmt"
	"os"
	"sync"

	"github.com/crewjam/rfc5424"
	"github.com/cyberinferno/linesink/record"
)

const syslogAppName = "linesink"

var syslogHostname = sync.OnceValue(func() string {
	h, err := os.Hostname()
	if err != nil {
		return ""
	}
	return h
})

// renderSyslog wraps the record text in an RFC 5424 message with
// user.info priority. The process id field carries the connection id.
func renderSyslog(rec record.Record) ([]byte, error) {
	msg := rfc5424.Message{
		Priority:  rfc5424.Info + rfc5424.User,
		Timestamp: rec.ReceivedAt.UTC(),
		Hostname:  syslogHostname(),
		AppName:   syslogAppName,
		ProcessID: fmt.Sprintf("conn-%d", rec.ConnID),
		Message:   []byte(rec.Text),
	}

	b, err := msg.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("syslog render: %w", err)
	}

	return b, nil
}
