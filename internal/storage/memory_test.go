package storage

import (
	"testing"
	"time"

	"review-sync-backend/internal/editstate"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWorkspace(id string) *Workspace {
	return &Workspace{ID: id, Store: editstate.New(nil)}
}

func TestMemoryStorage_CRUD(t *testing.T) {
	m := NewMemoryStorage()
	require.NoError(t, m.Init())

	require.NoError(t, m.CreateWorkspace(newWorkspace("a")))
	assert.ErrorIs(t, m.CreateWorkspace(newWorkspace("a")), ErrWorkspaceExists)
	assert.ErrorIs(t, m.CreateWorkspace(&Workspace{ID: "b"}), ErrInvalidData)
	assert.ErrorIs(t, m.CreateWorkspace(nil), ErrInvalidData)

	ws, err := m.GetWorkspace("a")
	require.NoError(t, err)
	assert.False(t, ws.OpenedAt.IsZero())
	assert.Equal(t, ws.OpenedAt, ws.UpdatedAt())

	require.NoError(t, m.DeleteWorkspace("a"))
	_, err = m.GetWorkspace("a")
	assert.ErrorIs(t, err, ErrWorkspaceNotFound)
	assert.ErrorIs(t, m.DeleteWorkspace("a"), ErrWorkspaceNotFound)
	assert.ErrorIs(t, m.Touch("a"), ErrWorkspaceNotFound)

	require.NoError(t, m.Close())
}

func TestMemoryStorage_ListOrderedByOpenTime(t *testing.T) {
	m := NewMemoryStorage()
	base := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)

	for i, id := range []string{"late", "early", "mid"} {
		ws := newWorkspace(id)
		ws.OpenedAt = base.Add(time.Duration([]int{3, 1, 2}[i]) * time.Minute)
		require.NoError(t, m.CreateWorkspace(ws))
	}

	list, err := m.ListWorkspaces()
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "early", list[0].ID)
	assert.Equal(t, "mid", list[1].ID)
	assert.Equal(t, "late", list[2].ID)
}

func TestMemoryStorage_EvictExpired(t *testing.T) {
	m := NewMemoryStorage()
	now := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	require.NoError(t, m.CreateWorkspace(newWorkspace("stale")))
	require.NoError(t, m.CreateWorkspace(newWorkspace("fresh")))

	now = now.Add(90 * time.Minute)
	require.NoError(t, m.Touch("fresh"))

	now = now.Add(60 * time.Minute)
	evicted, err := m.EvictExpired(2 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, []string{"stale"}, evicted)

	_, err = m.GetWorkspace("fresh")
	assert.NoError(t, err)
	_, err = m.GetWorkspace("stale")
	assert.ErrorIs(t, err, ErrWorkspaceNotFound)
}
