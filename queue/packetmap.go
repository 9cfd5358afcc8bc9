package queue

import (
	"sort"
	"sync"
)

// packetMap is an ordered map from frame time to payload, at most one entry
// per key, where a late arrival for an already-scheduled key overwrites it.
// Packet arrival/removal runs at audio-packet cadence (low hundreds of Hz at
// most), so a plain mutex over a sorted key slice is the simplest correct
// choice over a genuinely concurrent ordered map (see DESIGN.md).
type packetMap struct {
	mu      sync.Mutex
	keys    []uint64 // sorted ascending
	entries map[uint64][]byte
}

func newPacketMap() *packetMap {
	return &packetMap{entries: make(map[uint64][]byte)}
}

// Put inserts or overwrites the entry at ft.
func (m *packetMap) Put(ft uint64, payload []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.entries[ft]; !exists {
		i := sort.Search(len(m.keys), func(i int) bool { return m.keys[i] >= ft })
		m.keys = append(m.keys, 0)
		copy(m.keys[i+1:], m.keys[i:])
		m.keys[i] = ft
	}
	m.entries[ft] = payload
}

// PeekMin returns the lowest key and its payload without removing it.
func (m *packetMap) PeekMin() (ft uint64, payload []byte, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.keys) == 0 {
		return 0, nil, false
	}
	ft = m.keys[0]
	return ft, m.entries[ft], true
}

// Remove deletes the entry at ft, if present.
func (m *packetMap) Remove(ft uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(ft)
}

func (m *packetMap) removeLocked(ft uint64) {
	if _, exists := m.entries[ft]; !exists {
		return
	}
	delete(m.entries, ft)
	i := sort.Search(len(m.keys), func(i int) bool { return m.keys[i] >= ft })
	if i < len(m.keys) && m.keys[i] == ft {
		m.keys = append(m.keys[:i], m.keys[i+1:]...)
	}
}

// Empty reports whether the map has no entries.
func (m *packetMap) Empty() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.keys) == 0
}

// Flush removes all entries.
func (m *packetMap) Flush() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys = nil
	m.entries = make(map[uint64][]byte)
}
