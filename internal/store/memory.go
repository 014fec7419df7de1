package store

import (
	"sort"
	"sync"
)

// MemoryStore is an in-memory implementation of [Store].
//
// Records are keyed by collection, with new records replacing previous
// values. Subscribers are served by a [Broker] with the default buffer.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]CountRecord
	broker  *Broker[CountRecord]
}

// NewMemoryStore creates an empty [MemoryStore].
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]CountRecord),
		broker:  NewBroker[CountRecord](DefaultBuffer),
	}
}

// Update stores a [CountRecord] and notifies all subscribers.
func (m *MemoryStore) Update(record CountRecord) {
	m.mu.Lock()
	m.records[record.Collection] = record
	m.mu.Unlock()

	m.broker.Publish(record)
}

// Get returns the record for collection, if one has been stored.
func (m *MemoryStore) Get(collection string) (CountRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.records[collection]
	return r, ok
}

// GetAll returns a snapshot of all records sorted by collection name.
func (m *MemoryStore) GetAll() []CountRecord {
	m.mu.RLock()
	results := make([]CountRecord, 0, len(m.records))
	for _, r := range m.records {
		results = append(results, r)
	}
	m.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool {
		return results[i].Collection < results[j].Collection
	})
	return results
}

// Subscribe creates a new subscription. Caller must call
// [MemoryStore.Unsubscribe] when done.
func (m *MemoryStore) Subscribe() <-chan CountRecord {
	return m.broker.Subscribe()
}

// Unsubscribe removes a subscription and closes its channel.
func (m *MemoryStore) Unsubscribe(ch <-chan CountRecord) {
	m.broker.Unsubscribe(ch)
}

// Close closes all subscriber channels, ending any open feed streams.
func (m *MemoryStore) Close() {
	m.broker.Close()
}
