package checkpoint

import (
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory checkpoint store.
// Data is lost when the process exits; use it for tests and examples.
type MemoryStore struct {
	mu     sync.RWMutex
	runs   map[string]*runLog
	closed bool
}

// runLog holds one run's checkpoints and its sequence counter.
// The counter is monotonic per run, so overwriting a node's checkpoint
// moves it to the end of the List order.
type runLog struct {
	entries map[string]memEntry
	nextSeq int
}

type memEntry struct {
	data      []byte
	sequence  int
	timestamp time.Time
}

// NewMemoryStore creates a new in-memory checkpoint store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs: make(map[string]*runLog),
	}
}

// Save implements Store.
func (m *MemoryStore) Save(runID, nodeID string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	log := m.runs[runID]
	if log == nil {
		log = &runLog{entries: make(map[string]memEntry)}
		m.runs[runID] = log
	}
	log.nextSeq++

	log.entries[nodeID] = memEntry{
		data:      append([]byte(nil), data...),
		sequence:  log.nextSeq,
		timestamp: time.Now().UTC(),
	}

	return nil
}

// Load implements Store.
func (m *MemoryStore) Load(runID, nodeID string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	log := m.runs[runID]
	if log == nil {
		return nil, ErrNotFound
	}
	entry, ok := log.entries[nodeID]
	if !ok {
		return nil, ErrNotFound
	}

	return append([]byte(nil), entry.data...), nil
}

// List implements Store.
func (m *MemoryStore) List(runID string) ([]Info, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	log := m.runs[runID]
	if log == nil {
		return nil, nil
	}

	infos := make([]Info, 0, len(log.entries))
	for nodeID, entry := range log.entries {
		infos = append(infos, Info{
			RunID:     runID,
			NodeID:    nodeID,
			Sequence:  entry.sequence,
			Timestamp: entry.timestamp,
			Size:      int64(len(entry.data)),
		})
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Sequence < infos[j].Sequence
	})

	return infos, nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(runID, nodeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	if log := m.runs[runID]; log != nil {
		delete(log.entries, nodeID)
	}
	return nil
}

// DeleteRun implements Store.
func (m *MemoryStore) DeleteRun(runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	delete(m.runs, runID)
	return nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.runs = nil
	return nil
}

// Len returns the total number of checkpoints across all runs.
// Useful for testing.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, log := range m.runs {
		count += len(log.entries)
	}
	return count
}
