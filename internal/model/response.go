package model

import "time"

// WorkspaceResponse 是打开表单后返回给浏览器的完整视图
type WorkspaceResponse struct {
	WorkspaceID string                `json:"workspaceId"`
	Identity    FormIdentity          `json:"identity"`
	FormTitle   string                `json:"formTitle"`
	SubjectID   string                `json:"subjectId,omitempty"`
	ActorID     string                `json:"actorId"`
	Sections    []Section             `json:"sections"`
	Edits       map[string]EditRecord `json:"edits"`
	RouteMap    []ProcessStep         `json:"routeMap"`
	Warnings    []string              `json:"warnings,omitempty"`
	OpenedAt    time.Time             `json:"openedAt"`
	UpdatedAt   time.Time             `json:"updatedAt"`
}

type EditResponse struct {
	Key     string     `json:"key"`
	Applied bool       `json:"applied"`
	Record  EditRecord `json:"record"`
}

type SaveResponse struct {
	WorkspaceID string         `json:"workspaceId"`
	Saved       bool           `json:"saved"`
	Results     []UpsertResult `json:"results,omitempty"`
}

type SubmitResponse struct {
	WorkspaceID string `json:"workspaceId"`
	Saved       bool   `json:"saved"`
	Action      string `json:"action"`
}
