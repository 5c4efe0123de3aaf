// Package idgenerator hands out connection identifiers.
package idgenerator

import "sync/atomic"

// IdGenerator produces monotonically increasing uint32 ids, safe for
// concurrent use. Zero is never returned: it marks "no connection" in
// records that did not come from a peer, so the counter skips it on
// wrap-around.
type IdGenerator struct {
	id atomic.Uint32
}

// NewIdGenerator returns a generator whose first Id is startValue+1 (or 1
// when that would be zero).
func NewIdGenerator(startValue uint32) *IdGenerator {
	gen := &IdGenerator{}
	gen.id.Store(startValue)
	return gen
}

// Id returns the next id.
func (g *IdGenerator) Id() uint32 {
	for {
		if id := g.id.Add(1); id != 0 {
			return id
		}
	}
}

// Last returns the most recently issued id, or the start value if none was
// issued yet.
func (g *IdGenerator) Last() uint32 {
	return g.id.Load()
}
