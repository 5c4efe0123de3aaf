package sink

import (
	"github.com/cyberinferno/linesink/forwarder"
	"github.com/cyberinferno/linesink/record"
)

// ForwardSink relays records as raw lines to a downstream TCP listener.
// While the downstream is unreachable writes fail and the client keeps
// redialing in the background.
type ForwardSink struct {
	client *forwarder.Client
	format Format
	addr   string
}

// NewForwardSink wraps a forwarder client. The client should already have
// been asked to Connect; a failed initial dial is not fatal when it
// reconnects automatically.
func NewForwardSink(client *forwarder.Client, addr string, format Format) *ForwardSink {
	return &ForwardSink{client: client, format: format, addr: addr}
}

// Write sends rec as one newline-terminated line to the upstream.
func (s *ForwardSink) Write(rec record.Record) error {
	line, err := Render(rec, s.format)
	if err != nil {
		return err
	}

	return s.client.Send(append(line, '\n'))
}

// Flush is a no-op; every record is written on arrival.
func (s *ForwardSink) Flush() error { return nil }

// Close disconnects the forwarding client.
func (s *ForwardSink) Close() error {
	return s.client.Close()
}

func (s *ForwardSink) Name() string {
	return "forward:" + s.addr
}
