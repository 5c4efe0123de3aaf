// Package forwarder provides a reconnecting TCP client that ships
// newline-delimited records to a downstream listener, typically another
// linesink instance. Connection state changes are reported through a
// registered handler.
package forwarder

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/cyberinferno/linesink/logger"
)

// ErrNotConnected is returned by Send while there is no live connection.
var ErrNotConnected = errors.New("forwarder is not connected")

// ErrClosed is returned by Connect after Close.
var ErrClosed = errors.New("forwarder is closed")

// ConnectionState is the state of the downstream connection.
type ConnectionState int

const (
	Disconnected ConnectionState = iota // Not connected and not attempting to connect
	Connecting                          // Dial in progress
	Connected                           // Ready to send
	Reconnecting                        // Waiting to redial after a failure
	Closed                              // Closed for good
)

func (cs ConnectionState) String() string {
	switch cs {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Reconnecting:
		return "Reconnecting"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// StateEvent is passed to the StateHandler on every state change.
type StateEvent struct {
	State     ConnectionState
	Address   string
	Timestamp time.Time
	Error     error // Non-nil if the change was caused by an error
}

// StateHandler is called from its own goroutine; implementations must be
// safe for concurrent use.
type StateHandler func(event StateEvent)

// Config holds the client settings.
type Config struct {
	// Address is the downstream "host:port".
	Address string
	// AutoReconnect redials after dial, write or peer-close failures.
	AutoReconnect bool
	// ReconnectInterval is the delay between redial attempts.
	ReconnectInterval time.Duration
	// DialTimeout bounds a single dial.
	DialTimeout time.Duration
	// WriteTimeout bounds a single Send; 0 means no timeout.
	WriteTimeout time.Duration
}

// DefaultConfig returns a Config for address with auto-reconnect enabled,
// a 2s reconnect interval and 5s dial and write timeouts.
func DefaultConfig(address string) Config {
	return Config{
		Address:           address,
		AutoReconnect:     true,
		ReconnectInterval: 2 * time.Second,
		DialTimeout:       5 * time.Second,
		WriteTimeout:      5 * time.Second,
	}
}

// Client is a write-only TCP client. It is safe for concurrent use.
type Client struct {
	config Config
	logger logger.Logger

	mu      sync.RWMutex
	conn    net.Conn
	state   ConnectionState
	onState StateHandler
	closed  bool

	stopChan      chan struct{}
	reconnectChan chan struct{}
	reconnectOnce sync.Once
	wg            sync.WaitGroup
}

// New creates a Client in Disconnected state. Call Connect to dial.
//
// Parameters:
//   - config: Connection settings (see DefaultConfig)
//   - log: Logger for connection diagnostics
//
// Returns:
//   - A new *Client; call Close when done
func New(config Config, log logger.Logger) *Client {
	if config.ReconnectInterval <= 0 {
		config.ReconnectInterval = 2 * time.Second
	}

	return &Client{
		config:        config,
		logger:        log.With(logger.Field{Key: "forward_addr", Value: config.Address}),
		state:         Disconnected,
		stopChan:      make(chan struct{}),
		reconnectChan: make(chan struct{}, 1),
	}
}

// OnStateChange registers the state handler, replacing any previous one.
func (c *Client) OnStateChange(handler StateHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = handler
}

// Connect dials the configured address. With AutoReconnect a failed dial
// still schedules background redials, and the dial error is returned.
//
// Returns:
//   - nil on success, ErrClosed after Close, or the dial error
func (c *Client) Connect() error {
	c.mu.RLock()
	closed, state := c.closed, c.state
	c.mu.RUnlock()

	if closed {
		return ErrClosed
	}
	if state == Connected || state == Connecting {
		return nil
	}

	if c.config.AutoReconnect {
		c.reconnectOnce.Do(func() {
			c.wg.Add(1)
			go c.reconnectLoop()
		})
	}

	err := c.dial()
	if err != nil {
		c.triggerReconnect()
	}

	return err
}

// Send writes data to the downstream connection.
//
// Returns:
//   - nil on success, ErrNotConnected, or the write error (which also
//     schedules a reconnect when enabled)
func (c *Client) Send(data []byte) error {
	c.mu.RLock()
	conn, state := c.conn, c.state
	c.mu.RUnlock()

	if state != Connected || conn == nil {
		return ErrNotConnected
	}

	if c.config.WriteTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout)); err != nil {
			return err
		}
	}

	if _, err := conn.Write(data); err != nil {
		c.triggerReconnect()
		return fmt.Errorf("forward to %s: %w", c.config.Address, err)
	}

	return nil
}

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Close closes the connection and stops background goroutines. Idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}

	c.closed = true
	var err error
	if c.conn != nil {
		err = c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()

	close(c.stopChan)
	c.wg.Wait()
	c.setState(Closed, nil)

	return err
}

func (c *Client) dial() error {
	c.setState(Connecting, nil)

	dialer := net.Dialer{Timeout: c.config.DialTimeout}
	conn, err := dialer.Dial("tcp", c.config.Address)
	if err != nil {
		c.setState(Disconnected, err)
		return fmt.Errorf("dial %s: %w", c.config.Address, err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return ErrClosed
	}
	if c.conn != nil {
		c.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	c.conn = conn
	c.mu.Unlock()

	c.setState(Connected, nil)

	c.wg.Add(1)
	go c.watch(conn)

	return nil
}

// watch drains anything the peer sends and notices when it goes away.
func (c *Client) watch(conn net.Conn) {
	defer c.wg.Done()

	_, err := io.Copy(io.Discard, conn)

	c.mu.Lock()
	current := c.conn == conn
	closed := c.closed
	if current {
		c.conn = nil
	}
	c.mu.Unlock()

	if !current || closed {
		return
	}

	if err == nil {
		err = io.EOF
	}
	c.logger.Warn("downstream connection lost", logger.Err(err))
	_ = conn.Close()
	c.setState(Disconnected, err)
	c.triggerReconnect()
}

func (c *Client) reconnectLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.stopChan:
			return
		case <-c.reconnectChan:
		}

		c.mu.Lock()
		if c.conn != nil {
			_ = c.conn.Close()
			c.conn = nil
		}
		c.mu.Unlock()

		c.setState(Reconnecting, nil)

		select {
		case <-c.stopChan:
			return
		case <-time.After(c.config.ReconnectInterval):
		}

		if err := c.dial(); err != nil {
			if errors.Is(err, ErrClosed) {
				return
			}

			c.logger.Debug("redial failed", logger.Err(err))
			c.triggerReconnect()
		}
	}
}

func (c *Client) triggerReconnect() {
	if !c.config.AutoReconnect {
		return
	}

	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return
	}

	select {
	case c.reconnectChan <- struct{}{}:
	default:
	}
}

func (c *Client) setState(state ConnectionState, err error) {
	c.mu.Lock()
	if c.closed && state != Closed {
		c.mu.Unlock()
		return
	}
	c.state = state
	handler := c.onState
	c.mu.Unlock()

	if handler != nil {
		go handler(StateEvent{
			State:     state,
			Address:   c.config.Address,
			Timestamp: time.Now(),
			Error:     err,
		})
	}
}
