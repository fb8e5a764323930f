package storage

import (
	"sync"
	"time"

	"review-sync-backend/internal/editstate"
	"review-sync-backend/internal/model"
)

// Workspace 是一张已打开表单的内存状态：归一化后的分区、编辑状态和只读的流程信息。
// 除 UpdatedAt 外的字段在创建后不再修改。
type Workspace struct {
	ID        string
	Identity  model.FormIdentity
	ActorID   string
	Title     string
	SubjectID string
	Sections  []model.Section
	Store     *editstate.Store
	RouteMap  []model.ProcessStep
	Warnings  []string
	OpenedAt  time.Time

	mu        sync.Mutex
	updatedAt time.Time
}

func (w *Workspace) UpdatedAt() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.updatedAt
}

func (w *Workspace) touch(t time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.updatedAt = t
}
