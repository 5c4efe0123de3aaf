package sink

import (
	"errors"
	"sync"

	"github.com/cyberinferno/linesink/record"
)

// ErrSinkClosed is returned by Serialized after Close.
var ErrSinkClosed = errors.New("sink is closed")

// Serialized guards an inner Sink with a mutex. Calls from one goroutine
// are applied in call order; calls from different goroutines are applied
// in lock acquisition order, each one whole.
type Serialized struct {
	mu     sync.Mutex
	inner  Sink
	closed bool
}

// NewSerialized wraps inner. inner must not be used directly afterwards.
func NewSerialized(inner Sink) *Serialized {
	return &Serialized{inner: inner}
}

// Write forwards rec to the wrapped sink under the lock.
func (s *Serialized) Write(rec record.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSinkClosed
	}

	return s.inner.Write(rec)
}

// Flush flushes the wrapped sink under the lock.
func (s *Serialized) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSinkClosed
	}

	return s.inner.Flush()
}

// Close closes the inner sink once; later calls return nil.
func (s *Serialized) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	return s.inner.Close()
}

// Name returns the wrapped sink's name.
func (s *Serialized) Name() string {
	return s.inner.Name()
}
