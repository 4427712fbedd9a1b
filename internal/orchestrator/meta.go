package orchestrator

import (
	"container/list"

	"github.com/labviz/molcache/pkg/types"
)

// metaIndex holds the entry metadata of one tier. It keeps at most limit
// entries and forgets the least recently used one to make room. A
// forgotten entry that is still in the tier is adopted again on its next
// hit.
type metaIndex struct {
	limit   int
	entries map[string]*list.Element
	order   *list.List
	bytes   int64
}

func newMetaIndex(limit int) *metaIndex {
	return &metaIndex{
		limit:   limit,
		entries: make(map[string]*list.Element),
		order:   list.New(),
	}
}

func (m *metaIndex) get(key string) (*types.CacheEntry, bool) {
	el, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	m.order.MoveToFront(el)
	return el.Value.(*types.CacheEntry), true
}

// put adds or replaces e and returns how many entries were forgotten.
func (m *metaIndex) put(e *types.CacheEntry) int {
	if el, ok := m.entries[e.Key]; ok {
		m.bytes += e.SizeBytes - el.Value.(*types.CacheEntry).SizeBytes
		el.Value = e
		m.order.MoveToFront(el)
		return 0
	}
	m.entries[e.Key] = m.order.PushFront(e)
	m.bytes += e.SizeBytes

	forgotten := 0
	for m.limit > 0 && len(m.entries) > m.limit {
		m.removeElement(m.order.Back())
		forgotten++
	}
	return forgotten
}

func (m *metaIndex) remove(key string) {
	if el, ok := m.entries[key]; ok {
		m.removeElement(el)
	}
}

func (m *metaIndex) removeElement(el *list.Element) {
	e := m.order.Remove(el).(*types.CacheEntry)
	delete(m.entries, e.Key)
	m.bytes -= e.SizeBytes
}

func (m *metaIndex) len() int { return len(m.entries) }
