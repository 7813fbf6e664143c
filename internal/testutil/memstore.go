package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/starford/pinboard/internal/apperr"
	"github.com/starford/pinboard/internal/models"
	"github.com/starford/pinboard/internal/store"
)

type memRecord struct {
	prop models.CardProp
	rev     models.Revision
	gen     int
	corrupt bool
}

// MemStore is an in-memory store.Store with revision checks. Hooks let tests
// fail or block individual calls.
type MemStore struct {
	mu      sync.Mutex
	records map[models.CardID]memRecord
	puts    []models.CardProp
	deletes []models.CardID
	gets    int

	// GetErr, if set, is returned by Get for any id.
	GetErr error
	// BeforeGet, if set, runs before every Get; a non-nil error aborts it.
	BeforeGet func(id models.CardID) error
	// BeforePut, if set, runs before every Put; a non-nil error aborts it.
	BeforePut func(p models.CardProp) error
}

var _ store.Store = (*MemStore)(nil)

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{records: make(map[models.CardID]memRecord)}
}

// Seed stores p directly and returns its revision.
func (m *MemStore) Seed(p models.CardProp) models.Revision {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writeLocked(p)
}

func (m *MemStore) writeLocked(p models.CardProp) models.Revision {
	r := m.records[p.ID]
	r.gen++
	r.prop = p
	r.corrupt = false
	r.rev = models.Revision(fmt.Sprintf("%d-mem", r.gen))
	m.records[p.ID] = r
	return r.rev
}

// Get implements store.Store.
func (m *MemStore) Get(_ context.Context, id models.CardID) (models.CardProp, models.Revision, error) {
	m.mu.Lock()
	m.gets++
	hook := m.BeforeGet
	m.mu.Unlock()
	if hook != nil {
		if err := hook(id); err != nil {
			return models.CardProp{}, "", err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetErr != nil {
		return models.CardProp{}, "", m.GetErr
	}
	r, ok := m.records[id]
	if !ok {
		return models.CardProp{}, "", apperr.ErrNotFound
	}
	if r.corrupt {
		return models.CardProp{}, "", &apperr.CorruptError{ID: string(id), Err: fmt.Errorf("undecodable")}
	}
	return r.prop, r.rev, nil
}

// Revision implements store.Store. Corrupt records still report their
// revision.
func (m *MemStore) Revision(_ context.Context, id models.CardID) (models.Revision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return "", apperr.ErrNotFound
	}
	return r.rev, nil
}

// Corrupt marks the record of id as undecodable: Get fails with
// *apperr.CorruptError until the next successful Put.
func (m *MemStore) Corrupt(id models.CardID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.records[id]
	r.corrupt = true
	if r.rev == "" {
		r.gen++
		r.rev = models.Revision(fmt.Sprintf("%d-mem", r.gen))
	}
	m.records[id] = r
}

// Put implements store.Store.
func (m *MemStore) Put(_ context.Context, p models.CardProp, rev models.Revision) (models.Revision, error) {
	m.mu.Lock()
	hook := m.BeforePut
	m.mu.Unlock()
	if hook != nil {
		if err := hook(p); err != nil {
			return "", err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	current := m.records[p.ID].rev
	if current != rev {
		return "", &apperr.ConflictError{ID: string(p.ID), ExpectedRevision: string(rev), CurrentRevision: string(current)}
	}
	m.puts = append(m.puts, p)
	return m.writeLocked(p), nil
}

// Delete implements store.Store.
func (m *MemStore) Delete(_ context.Context, id models.CardID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[id]; !ok {
		return apperr.ErrNotFound
	}
	delete(m.records, id)
	m.deletes = append(m.deletes, id)
	return nil
}

// ListIDs implements store.Store.
func (m *MemStore) ListIDs(_ context.Context) ([]models.CardID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.CardID, 0, len(m.records))
	for id := range m.records {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// Puts returns every successful Put in order.
func (m *MemStore) Puts() []models.CardProp {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.CardProp(nil), m.puts...)
}

// Gets returns the number of Get calls.
func (m *MemStore) Gets() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gets
}

// Deletes returns every successful Delete in order.
func (m *MemStore) Deletes() []models.CardID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.CardID(nil), m.deletes...)
}

// Record returns the stored prop for id.
func (m *MemStore) Record(id models.CardID) (models.CardProp, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	return r.prop, ok
}

// Len returns the number of stored records.
func (m *MemStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// NewID generates a fresh card id.
func (m *MemStore) NewID() models.CardID {
	return store.NewID()
}
