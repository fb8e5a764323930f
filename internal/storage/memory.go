package storage

import (
	"sort"
	"sync"
	"time"

	"review-sync-backend/internal/metrics"
)

type MemoryStorage struct {
	workspaces map[string]*Workspace
	mu         sync.RWMutex
	now        func() time.Time
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		workspaces: make(map[string]*Workspace),
		now:        time.Now,
	}
}

func (m *MemoryStorage) Init() error {
	return nil
}

func (m *MemoryStorage) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.workspaces = make(map[string]*Workspace)
	metrics.OpenWorkspaces.Set(0)
	return nil
}

func (m *MemoryStorage) CreateWorkspace(ws *Workspace) error {
	if ws == nil || ws.ID == "" || ws.Store == nil {
		return ErrInvalidData
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.workspaces[ws.ID]; exists {
		return ErrWorkspaceExists
	}

	now := m.now()
	if ws.OpenedAt.IsZero() {
		ws.OpenedAt = now
	}
	ws.touch(now)

	m.workspaces[ws.ID] = ws
	metrics.OpenWorkspaces.Set(float64(len(m.workspaces)))
	return nil
}

func (m *MemoryStorage) GetWorkspace(id string) (*Workspace, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ws, exists := m.workspaces[id]
	if !exists {
		return nil, ErrWorkspaceNotFound
	}

	return ws, nil
}

func (m *MemoryStorage) DeleteWorkspace(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.workspaces[id]; !exists {
		return ErrWorkspaceNotFound
	}

	delete(m.workspaces, id)
	metrics.OpenWorkspaces.Set(float64(len(m.workspaces)))
	return nil
}

// ListWorkspaces 按打开时间排序返回全部工作区
func (m *MemoryStorage) ListWorkspaces() ([]*Workspace, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := make([]*Workspace, 0, len(m.workspaces))
	for _, ws := range m.workspaces {
		list = append(list, ws)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].OpenedAt.Before(list[j].OpenedAt)
	})

	return list, nil
}

func (m *MemoryStorage) Touch(id string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ws, exists := m.workspaces[id]
	if !exists {
		return ErrWorkspaceNotFound
	}

	ws.touch(m.now())
	return nil
}

func (m *MemoryStorage) EvictExpired(ttl time.Duration) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-ttl)
	var evicted []string
	for id, ws := range m.workspaces {
		if ws.UpdatedAt().Before(cutoff) {
			delete(m.workspaces, id)
			evicted = append(evicted, id)
		}
	}
	sort.Strings(evicted)

	metrics.OpenWorkspaces.Set(float64(len(m.workspaces)))
	return evicted, nil
}
