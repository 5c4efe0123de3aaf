package tcpserver

import (
	"sync"
	"sync/atomic"
)

// Registry tracks the sessions that are currently being handled. It is safe
// for concurrent use.
type Registry struct {
	m sync.Map
	n atomic.Int64
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Add stores session under id, replacing any previous entry.
func (r *Registry) Add(id uint32, session TCPServerSession) {
	if _, loaded := r.m.Swap(id, session); !loaded {
		r.n.Add(1)
	}
}

// Remove deletes id. Removing an unknown id is a no-op.
func (r *Registry) Remove(id uint32) {
	if _, loaded := r.m.LoadAndDelete(id); loaded {
		r.n.Add(-1)
	}
}

// Get returns the session for id, if present.
func (r *Registry) Get(id uint32) (TCPServerSession, bool) {
	v, ok := r.m.Load(id)
	if !ok {
		return nil, false
	}

	return v.(TCPServerSession), true
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	return int(r.n.Load())
}

// Range calls f for each session until f returns false. Sessions added or
// removed concurrently may or may not be visited.
func (r *Registry) Range(f func(id uint32, session TCPServerSession) bool) {
	r.m.Range(func(k, v any) bool {
		return f(k.(uint32), v.(TCPServerSession))
	})
}

// CloseAll closes every registered session and returns how many it closed.
func (r *Registry) CloseAll() int {
	closed := 0
	r.Range(func(_ uint32, session TCPServerSession) bool {
		_ = session.Close()
		closed++
		return true
	})

	return closed
}
