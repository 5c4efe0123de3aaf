// Package tcpserver accepts TCP connections and hands each one to its own
// session goroutine. It knows nothing about what a session does with its
// connection; it only tracks sessions so that it can drain or close them.
package tcpserver

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cyberinferno/linesink/idgenerator"
	"github.com/cyberinferno/linesink/logger"
	"github.com/cyberinferno/linesink/stats"
	"golang.org/x/net/netutil"
)

// NewSessionFunc creates the session for an accepted connection.
type NewSessionFunc func(id uint32, conn net.Conn) TCPServerSession

// AdmitFunc decides whether a freshly accepted connection may be handled.
type AdmitFunc func(remote net.Addr) bool

// DrainResult summarizes a Drain call.
type DrainResult struct {
	// Sessions is the number of sessions active when draining began.
	Sessions int
	// ForceClosed is the number still running after the grace period.
	ForceClosed int
	// Elapsed is how long the drain took.
	Elapsed time.Duration
	// Accepted is the id of the last accepted connection, which equals the
	// number of connections accepted over the server's lifetime.
	Accepted uint32
}

// TCPServer binds Addr and runs an accept loop. Configure the exported
// fields before calling Start.
type TCPServer struct {
	Logger      logger.Logger
	Name        string
	Addr        string
	NewSession  NewSessionFunc
	IdGenerator *idgenerator.IdGenerator
	Sessions    *Registry

	// MaxConnections caps concurrently open connections; 0 means no cap.
	// Further peers wait in the kernel backlog until a slot frees up.
	MaxConnections int
	// Admit optionally rejects connections right after accept.
	Admit AdmitFunc
	// Stats optionally counts accepted and rejected connections.
	Stats *stats.Stats

	Listener net.Listener
	Running  atomic.Bool

	handlers   sync.WaitGroup
	acceptDone chan struct{}
	stopMu     sync.Mutex
}

// New returns a server with a fresh registry and id generator.
//
// Parameters:
//   - name: Name used in log messages
//   - addr: Listen address ("host:port")
//   - newSession: Session factory
//   - log: Logger for server events
//
// Returns:
//   - The server, not yet started
func New(name, addr string, newSession NewSessionFunc, log logger.Logger) *TCPServer {
	return &TCPServer{
		Logger:      log,
		Name:        name,
		Addr:        addr,
		NewSession:  newSession,
		IdGenerator: idgenerator.NewIdGenerator(0),
		Sessions:    NewRegistry(),
	}
}

// Start binds Addr and starts the accept loop in a goroutine.
//
// Returns:
//   - ErrAlreadyRunning, a *BindError if the address cannot be bound, or nil
func (s *TCPServer) Start() error {
	if s.Running.Load() {
		return fmt.Errorf("%s: %w", s.Name, ErrAlreadyRunning)
	}

	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		s.Logger.Error(fmt.Sprintf("%s server failed to bind", s.Name), logger.Field{Key: "addr", Value: s.Addr}, logger.Err(err))
		return &BindError{Addr: s.Addr, Err: err}
	}

	if s.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, s.MaxConnections)
	}

	s.Listener = ln
	s.acceptDone = make(chan struct{})
	s.Running.Store(true)

	s.Logger.Info(fmt.Sprintf("%s server started", s.Name), logger.Field{Key: "addr", Value: ln.Addr().String()})
	go s.AcceptLoop()

	return nil
}

// BoundAddr returns the address actually bound, which differs from Addr
// when an ephemeral port was requested. Empty before Start.
func (s *TCPServer) BoundAddr() string {
	if s.Listener == nil {
		return ""
	}

	return s.Listener.Addr().String()
}

// AcceptLoop accepts connections until the listener is closed. Each
// accepted connection gets an id, a session and its own goroutine.
func (s *TCPServer) AcceptLoop() {
	defer close(s.acceptDone)

	for s.Running.Load() {
		conn, err := s.Listener.Accept()
		if err != nil {
			if !s.Running.Load() || errors.Is(err, net.ErrClosed) {
				return
			}

			s.Logger.Error(fmt.Sprintf("%s server accept error", s.Name), logger.Err(err))
			continue
		}

		if s.Admit != nil && !s.Admit(conn.RemoteAddr()) {
			s.Logger.Warn("connection rejected", logger.Field{Key: "remote", Value: conn.RemoteAddr().String()})
			if s.Stats != nil {
				s.Stats.ConnRejected()
			}
			_ = conn.Close()
			continue
		}

		if s.Stats != nil {
			s.Stats.ConnAccepted()
		}

		id := s.IdGenerator.Id()
		session := s.NewSession(id, conn)
		s.Sessions.Add(id, session)

		s.handlers.Add(1)
		go func() {
			defer s.handlers.Done()
			defer s.Sessions.Remove(id)
			session.Handle()
		}()
	}
}

// Stop closes the listener and every session immediately, then waits for
// all session goroutines to return. Safe to call when not running.
func (s *TCPServer) Stop() {
	if !s.stopListening() {
		return
	}

	closed := s.Sessions.CloseAll()
	s.handlers.Wait()

	s.Logger.Info(fmt.Sprintf("%s server stopped", s.Name), logger.Field{Key: "closed_sessions", Value: closed})
}

// Drain stops accepting, gives every active session until now+grace to
// finish, force-closes whatever is left and waits for all session
// goroutines to return. Safe to call when not running.
//
// Parameters:
//   - grace: How long sessions may keep reading
//
// Returns:
//   - A summary of the drain
func (s *TCPServer) Drain(grace time.Duration) DrainResult {
	start := time.Now()
	if !s.stopListening() {
		return DrainResult{}
	}

	result := DrainResult{Sessions: s.Sessions.Len(), Accepted: s.IdGenerator.Last()}
	deadline := start.Add(grace)
	s.Sessions.Range(func(_ uint32, session TCPServerSession) bool {
		session.Drain(deadline)
		return true
	})

	if !waitTimeout(&s.handlers, time.Until(deadline)) {
		result.ForceClosed = s.Sessions.CloseAll()
		s.handlers.Wait()
	}

	result.Elapsed = time.Since(start)
	s.Logger.Info(fmt.Sprintf("%s server drained", s.Name),
		logger.Field{Key: "sessions", Value: result.Sessions},
		logger.Field{Key: "force_closed", Value: result.ForceClosed},
		logger.Field{Key: "accepted", Value: result.Accepted},
		logger.Field{Key: "elapsed_ms", Value: result.Elapsed.Milliseconds()},
	)

	return result
}

// stopListening flips Running, closes the listener and waits for the accept
// loop to exit, so no session can be added afterwards. It reports whether
// the server was running.
func (s *TCPServer) stopListening() bool {
	s.stopMu.Lock()
	defer s.stopMu.Unlock()

	if !s.Running.CompareAndSwap(true, false) {
		return false
	}

	_ = s.Listener.Close()
	<-s.acceptDone
	return true
}

// waitTimeout waits for wg for at most d and reports whether it finished.
func waitTimeout(wg *sync.WaitGroup, d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}
