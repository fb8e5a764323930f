package storage

import "time"

type Storage interface {
	// 工作区管理
	CreateWorkspace(ws *Workspace) error
	GetWorkspace(id string) (*Workspace, error)
	DeleteWorkspace(id string) error
	ListWorkspaces() ([]*Workspace, error)

	// Touch 刷新工作区的最后活跃时间
	Touch(id string) error
	// EvictExpired 删除超过 ttl 未活跃的工作区，返回被删除的 ID
	EvictExpired(ttl time.Duration) ([]string, error)

	// 存储管理
	Init() error
	Close() error
}
