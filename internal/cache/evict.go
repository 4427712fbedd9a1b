package cache

import "sync"

// evictionHook delivers the keys a tier dropped by itself.
type evictionHook struct {
	mu sync.RWMutex
	fn func(key string)
}

// OnEvict implements types.EvictionNotifier. A later call replaces fn.
func (h *evictionHook) OnEvict(fn func(key string)) {
	h.mu.Lock()
	h.fn = fn
	h.mu.Unlock()
}

// notify must be called after the tier lock is released.
func (h *evictionHook) notify(keys []string) {
	if len(keys) == 0 {
		return
	}
	h.mu.RLock()
	fn := h.fn
	h.mu.RUnlock()
	if fn == nil {
		return
	}
	for _, key := range keys {
		fn(key)
	}
}
