// Package store - In-memory record store.
package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory keeps records in process memory. It is the default backend.
type Memory struct {
	mu      sync.RWMutex
	records map[int64]Record
	nextID  int64
	now     func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		records: make(map[int64]Record),
		now:     time.Now,
	}
}

// Add stores file as a new record.
func (m *Memory) Add(ctx context.Context, file File) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	now := m.now()
	m.records[m.nextID] = Record{ID: m.nextID, File: file, CreatedAt: now, UpdatedAt: now}
	return m.nextID, nil
}

// Get returns the record with id.
func (m *Memory) Get(ctx context.Context, id int64) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

// Update replaces the mutable fields of the record with id.
func (m *Memory) Update(ctx context.Context, id int64, update Update) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.records[id]
	if !ok {
		return ErrNotFound
	}
	r.Processed = update.Processed
	r.Failure = update.Failure
	r.UpdatedAt = m.now()
	m.records[id] = r
	return nil
}

// Delete removes the record with id.
func (m *Memory) Delete(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[id]; !ok {
		return ErrNotFound
	}
	delete(m.records, id)
	return nil
}

// Clear removes every record. Ids keep increasing afterwards.
func (m *Memory) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.records = make(map[int64]Record)
	return nil
}

// Filter returns the records accepted by fn, ordered by id.
func (m *Memory) Filter(ctx context.Context, fn Filter) ([]Record, error) {
	all, err := m.ToArray(ctx)
	if err != nil {
		return nil, err
	}
	return filter(all, fn), nil
}

// ToArray returns every record ordered by id.
func (m *Memory) ToArray(ctx context.Context) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	records := make([]Record, 0, len(m.records))
	for _, r := range m.records {
		records = append(records, r)
	}
	m.mu.RUnlock()

	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	return records, nil
}

// Close is a no-op.
func (m *Memory) Close() error {
	return nil
}
