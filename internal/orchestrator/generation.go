package orchestrator

import "sync"

// generations counts invalidations of the keys that have a tier write
// pending. A writer captures the generation before it reads and writes
// only if the generation is unchanged. Keys with no pending writer are
// not tracked.
type generations struct {
	mu   sync.Mutex
	keys map[string]*keyGeneration
}

type keyGeneration struct {
	gen  uint64
	refs int
}

// acquire registers a pending writer for key and returns the current
// generation. Every acquire must be paired with a release.
func (g *generations) acquire(key string) uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.keys == nil {
		g.keys = make(map[string]*keyGeneration)
	}
	kg, ok := g.keys[key]
	if !ok {
		kg = &keyGeneration{}
		g.keys[key] = kg
	}
	kg.refs++
	return kg.gen
}

func (g *generations) release(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	kg, ok := g.keys[key]
	if !ok {
		return
	}
	if kg.refs--; kg.refs == 0 {
		delete(g.keys, key)
	}
}

// bump invalidates every pending writer of key.
func (g *generations) bump(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if kg, ok := g.keys[key]; ok {
		kg.gen++
	}
}

// current reports whether gen is still the generation of key.
func (g *generations) current(key string, gen uint64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	kg, ok := g.keys[key]
	return ok && kg.gen == gen
}
