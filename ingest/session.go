// Package ingest implements the per-connection handler: it reads a peer's
// byte stream, splits it into records and writes each record to the shared
// sink in the order the peer sent them.
package ingest

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cyberinferno/linesink/linesplit"
	"github.com/cyberinferno/linesink/logger"
	"github.com/cyberinferno/linesink/record"
	"github.com/cyberinferno/linesink/sink"
	"github.com/cyberinferno/linesink/stats"
	"github.com/cyberinferno/linesink/tcpserver"
)

// DefaultReadBufferSize is the per-read buffer size used when none is set.
const DefaultReadBufferSize = 4096

// ErrIdleTimeout is wrapped in the ConnectionError of a connection that
// stayed silent longer than the idle timeout.
var ErrIdleTimeout = errors.New("idle timeout")

// ConnectionError is an I/O or protocol failure confined to one connection.
type ConnectionError struct {
	ConnID uint32
	Remote string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection %d (%s): %v", e.ConnID, e.Remote, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// Options configures sessions.
type Options struct {
	// ReadBufferSize is the size of each read; 0 means DefaultReadBufferSize.
	ReadBufferSize int
	// MaxLineBytes limits a record; 0 means linesplit.DefaultMaxLineBytes.
	MaxLineBytes int
	// Partial decides the fate of an undelimited tail on a clean close.
	Partial linesplit.PartialPolicy
	// IdleTimeout closes connections that send nothing for this long; 0
	// disables it.
	IdleTimeout time.Duration
}

// Session handles one accepted connection. It implements
// tcpserver.TCPServerSession.
type Session struct {
	id       uint32
	conn     net.Conn
	remote   string
	sink     sink.Sink
	stats    *stats.Stats
	logger   logger.Logger
	opts     Options
	splitter *linesplit.Splitter
	seq      uint64

	closed   atomic.Bool
	draining atomic.Bool

	deadlineMu sync.Mutex
	drainAt    time.Time
}

// NewSessionFunc returns a tcpserver.NewSessionFunc producing Sessions that
// share snk, st and log.
func NewSessionFunc(snk sink.Sink, st *stats.Stats, log logger.Logger, opts Options) tcpserver.NewSessionFunc {
	return func(id uint32, conn net.Conn) tcpserver.TCPServerSession {
		return NewSession(id, conn, snk, st, log, opts)
	}
}

// NewSession creates a session for conn.
//
// Parameters:
//   - id: Connection id
//   - conn: The accepted connection; owned by the session from now on
//   - snk: Shared, serialized sink
//   - st: Stats collector; nil allocates a private one
//   - log: Parent logger; the session adds conn_id and remote fields
//   - opts: Session options
//
// Returns:
//   - The session, ready for Handle
func NewSession(id uint32, conn net.Conn, snk sink.Sink, st *stats.Stats, log logger.Logger, opts Options) *Session {
	if opts.ReadBufferSize <= 0 {
		opts.ReadBufferSize = DefaultReadBufferSize
	}
	if st == nil {
		st = stats.New()
	}

	remote := ""
	if addr := conn.RemoteAddr(); addr != nil {
		remote = addr.String()
	}

	return &Session{
		id:       id,
		conn:     conn,
		remote:   remote,
		sink:     snk,
		stats:    st,
		logger:   log.With(logger.Field{Key: "conn_id", Value: id}, logger.Field{Key: "remote", Value: remote}),
		opts:     opts,
		splitter: linesplit.New(opts.MaxLineBytes),
	}
}

// ID returns the connection id assigned at accept.
func (s *Session) ID() uint32 { return s.id }

// Handle reads until the peer closes, an error occurs, the drain deadline
// passes or Close is called. Only a clean peer close applies the partial
// policy; every other ending discards the undelimited tail.
func (s *Session) Handle() {
	forced := false
	defer func() {
		_ = s.conn.Close()
		s.stats.ConnClosed(forced)
		s.logger.Debug("connection closed", logger.Field{Key: "records", Value: s.seq}, logger.Field{Key: "forced", Value: forced})
	}()

	s.logger.Debug("connection accepted")

	buf := make([]byte, s.opts.ReadBufferSize)
	for {
		if err := s.armDeadline(); err != nil && !s.closed.Load() {
			s.fail(err)
			return
		}

		n, err := s.conn.Read(buf)
		if n > 0 {
			if ferr := s.splitter.Feed(buf[:n], s.emit); ferr != nil {
				s.stats.OverlongLine()
				s.fail(ferr)
				return
			}
		}

		if err == nil {
			continue
		}

		switch {
		case errors.Is(err, io.EOF):
			s.finishPartial()
		case s.closed.Load():
			forced = true
			s.dropPartial("closed")
		case errors.Is(err, os.ErrDeadlineExceeded) && s.draining.Load():
			forced = true
			s.dropPartial("drain deadline")
		case errors.Is(err, os.ErrDeadlineExceeded):
			s.fail(ErrIdleTimeout)
		default:
			s.fail(err)
		}

		return
	}
}

// Drain sets the read deadline to deadline; reaching it ends Handle as a
// forced closure.
func (s *Session) Drain(deadline time.Time) {
	s.deadlineMu.Lock()
	defer s.deadlineMu.Unlock()

	s.drainAt = deadline
	s.draining.Store(true)
	_ = s.conn.SetReadDeadline(deadline)
}

// Close closes the connection, unblocking Handle. Idempotent.
func (s *Session) Close() error {
	if s.closed.Swap(true) {
		return nil
	}

	return s.conn.Close()
}

// armDeadline applies the earlier of the idle and drain deadlines.
func (s *Session) armDeadline() error {
	s.deadlineMu.Lock()
	defer s.deadlineMu.Unlock()

	var deadline time.Time
	if s.opts.IdleTimeout > 0 {
		deadline = time.Now().Add(s.opts.IdleTimeout)
	}
	if !s.drainAt.IsZero() && (deadline.IsZero() || s.drainAt.Before(deadline)) {
		deadline = s.drainAt
	}

	return s.conn.SetReadDeadline(deadline)
}

// emit decodes one complete line and delivers it; undecodable lines are
// dropped.
func (s *Session) emit(line []byte) {
	text, err := linesplit.Decode(line)
	if err != nil {
		s.stats.DecodeError()
		s.logger.Warn("dropping undecodable record", logger.Err(err))
		return
	}

	s.deliver(text, false)
}

func (s *Session) deliver(text string, partial bool) {
	s.seq++
	rec := record.Record{
		ConnID:     s.id,
		Remote:     s.remote,
		Seq:        s.seq,
		Text:       text,
		Partial:    partial,
		ReceivedAt: time.Now(),
	}

	if err := s.sink.Write(rec); err != nil {
		s.stats.SinkError()
		s.logger.Warn("sink write failed", logger.Field{Key: "sink", Value: s.sink.Name()}, logger.Err(err))
		return
	}

	s.stats.RecordWritten(len(text))
}

func (s *Session) finishPartial() {
	tail := s.splitter.Remainder()
	if tail == nil {
		return
	}

	if s.opts.Partial != linesplit.PartialFlush {
		s.stats.PartialDropped()
		s.logger.Debug("discarding partial record", logger.Field{Key: "bytes", Value: len(tail)})
		return
	}

	text, err := linesplit.Decode(tail)
	if err != nil {
		s.stats.DecodeError()
		s.logger.Warn("dropping undecodable partial record", logger.Err(err))
		return
	}

	s.stats.PartialFlushed()
	s.deliver(text, true)
}

func (s *Session) dropPartial(reason string) {
	if tail := s.splitter.Remainder(); tail != nil {
		s.stats.PartialDropped()
		s.logger.Debug("discarding partial record", logger.Field{Key: "bytes", Value: len(tail)}, logger.Field{Key: "reason", Value: reason})
	}
}

// fail logs a connection-local error and drops the buffer.
func (s *Session) fail(err error) {
	s.dropPartial("error")
	s.logger.Warn("closing connection", logger.Err(&ConnectionError{ConnID: s.id, Remote: s.remote, Err: err}))
}
