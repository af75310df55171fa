package storage

import (
	"context"
	"sync"

	"github.com/slicebot/slicebot-backend/internal/models"
)

// MemoryStore holds all data in memory (tests and local runs)
type MemoryStore struct {
	states   map[models.UserIdentity]string
	contexts map[models.UserIdentity]models.SessionContext
	menus    map[string]models.MenuCacheEntry

	// Mutexes for thread safety
	sessionMu sync.RWMutex
	menuMu    sync.RWMutex
}

// NewMemoryStore creates a new in-memory storage
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		states:   make(map[models.UserIdentity]string),
		contexts: make(map[models.UserIdentity]models.SessionContext),
		menus:    make(map[string]models.MenuCacheEntry),
	}
}

// Session operations
func (m *MemoryStore) GetState(_ context.Context, id models.UserIdentity) (string, bool, error) {
	m.sessionMu.RLock()
	defer m.sessionMu.RUnlock()

	state, exists := m.states[id]
	return state, exists, nil
}

func (m *MemoryStore) SetState(_ context.Context, id models.UserIdentity, state models.SessionState) error {
	m.sessionMu.Lock()
	defer m.sessionMu.Unlock()

	m.states[id] = string(state)
	return nil
}

// SetRawState stores an arbitrary persisted value, as a corrupted or legacy row would look
func (m *MemoryStore) SetRawState(id models.UserIdentity, raw string) {
	m.sessionMu.Lock()
	defer m.sessionMu.Unlock()

	m.states[id] = raw
}

func (m *MemoryStore) GetContext(_ context.Context, id models.UserIdentity) (*models.SessionContext, error) {
	m.sessionMu.RLock()
	defer m.sessionMu.RUnlock()

	sc, exists := m.contexts[id]
	if !exists {
		return &models.SessionContext{}, nil
	}
	return copyContext(&sc), nil
}

func (m *MemoryStore) SetContext(_ context.Context, id models.UserIdentity, sc *models.SessionContext) error {
	m.sessionMu.Lock()
	defer m.sessionMu.Unlock()

	if sc == nil {
		delete(m.contexts, id)
		return nil
	}
	m.contexts[id] = *copyContext(sc)
	return nil
}

func (m *MemoryStore) SaveSession(_ context.Context, id models.UserIdentity, state models.SessionState, sc *models.SessionContext) error {
	m.sessionMu.Lock()
	defer m.sessionMu.Unlock()

	m.states[id] = string(state)
	if sc == nil {
		delete(m.contexts, id)
	} else {
		m.contexts[id] = *copyContext(sc)
	}
	return nil
}

// Menu cache operations
func (m *MemoryStore) GetMenu(_ context.Context, key string) (*models.MenuCacheEntry, error) {
	m.menuMu.RLock()
	defer m.menuMu.RUnlock()

	entry, exists := m.menus[key]
	if !exists {
		return nil, nil
	}
	return &entry, nil
}

func (m *MemoryStore) PutMenu(_ context.Context, entry *models.MenuCacheEntry) error {
	m.menuMu.Lock()
	defer m.menuMu.Unlock()

	m.menus[entry.Key] = *entry
	return nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }

func copyContext(sc *models.SessionContext) *models.SessionContext {
	out := *sc
	if sc.Delivery != nil {
		delivery := *sc.Delivery
		out.Delivery = &delivery
	}
	return &out
}
