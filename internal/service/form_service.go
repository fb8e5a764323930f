package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"review-sync-backend/internal/config"
	"review-sync-backend/internal/editstate"
	"review-sync-backend/internal/model"
	"review-sync-backend/internal/normalizer"
	"review-sync-backend/internal/serializer"
	"review-sync-backend/internal/sfclient"
	"review-sync-backend/internal/storage"
	"review-sync-backend/pkg/logger"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrEditNotFound = errors.New("edit record not found")
)

// FormAPI 是表单服务依赖的上游接口，由 *sfclient.API 实现
type FormAPI interface {
	CurrentUser(ctx context.Context) (*model.CurrentUser, error)
	FormFolders(ctx context.Context, userID string) ([]model.FormFolder, error)
	UserPhoto(ctx context.Context, userID string) (string, error)
	FormDetailPM(ctx context.Context, contentID, dataID int64) (*model.RawDocument, error)
	FormDetail360(ctx context.Context, contentID, dataID int64) (*model.RawDocument, error)
	RouteMap(ctx context.Context, dataID int64) ([]model.ProcessStep, error)
	Upsert(ctx context.Context, doc *model.UpsertDocument) ([]model.UpsertResult, error)
	SendToNextStep(ctx context.Context, dataID int64, comment string) error
	Complete360(ctx context.Context, dataID int64) error
}

type FormService struct {
	api     FormAPI
	storage storage.Storage
	config  *config.WorkspaceConfig

	stop     chan struct{}
	stopOnce sync.Once
}

func NewFormService(api FormAPI, store storage.Storage, cfg *config.WorkspaceConfig) *FormService {
	if store == nil {
		store = storage.NewMemoryStorage()
	}
	if err := store.Init(); err != nil {
		logger.Errorf("Failed to initialize storage: %v", err)
		store = storage.NewMemoryStorage()
		_ = store.Init()
	}

	s := &FormService{
		api:     api,
		storage: store,
		config:  cfg,
		stop:    make(chan struct{}),
	}

	if cfg != nil && cfg.CleanupInterval > 0 && cfg.TTL > 0 {
		go s.cleanupExpiredWorkspaces()
	}

	return s
}

// Close 停止后台清理并释放存储
func (s *FormService) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	return s.storage.Close()
}

func (s *FormService) CurrentUser(ctx context.Context) (*model.CurrentUser, error) {
	user, err := s.api.CurrentUser(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve current user: %w", err)
	}
	return user, nil
}

// Folders 列出当前用户的评估文件夹
func (s *FormService) Folders(ctx context.Context) ([]model.FormFolder, error) {
	user, err := s.CurrentUser(ctx)
	if err != nil {
		return nil, err
	}
	folders, err := s.api.FormFolders(ctx, user.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to list form folders: %w", err)
	}
	return folders, nil
}

func (s *FormService) UserPhoto(ctx context.Context, userID string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("%w: empty user id", ErrInvalidInput)
	}
	return s.api.UserPhoto(ctx, userID)
}

// OpenForm 并行读取表单详情与流程图，归一化后创建工作区。
// 详情分步加载失败或流程图读取失败只记为警告，缺失的分区不显示。
func (s *FormService) OpenForm(ctx context.Context, req *model.OpenFormRequest) (*model.WorkspaceResponse, error) {
	kind, err := model.ParseFormKind(req.FormKind)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	identity := model.FormIdentity{
		FormContentID: req.FormContentID,
		FormDataID:    req.FormDataID,
		Kind:          kind,
	}
	if err := identity.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	user, err := s.CurrentUser(ctx)
	if err != nil {
		return nil, err
	}

	var (
		doc      *model.RawDocument
		route    []model.ProcessStep
		warnings []string
		warnMu   sync.Mutex
	)
	warn := func(msg string) {
		warnMu.Lock()
		defer warnMu.Unlock()
		warnings = append(warnings, msg)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if kind == model.FormKind360 {
			doc, err = s.api.FormDetail360(gctx, identity.FormContentID, identity.FormDataID)
		} else {
			doc, err = s.api.FormDetailPM(gctx, identity.FormContentID, identity.FormDataID)
		}
		var partial *sfclient.PartialLoadError
		if errors.As(err, &partial) && doc != nil {
			warn(partial.Error())
			return nil
		}
		return err
	})
	g.Go(func() error {
		steps, err := s.api.RouteMap(gctx, identity.FormDataID)
		if err != nil {
			warn(fmt.Sprintf("route map unavailable: %v", err))
			return nil
		}
		route = steps
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to load form %d: %w", identity.FormDataID, err)
	}

	res, err := normalizer.Normalize(doc, kind, user.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to normalize form %d: %w", identity.FormDataID, err)
	}

	ws := &storage.Workspace{
		ID:        uuid.New().String(),
		Identity:  identity,
		ActorID:   user.UserID,
		Title:     doc.Title(),
		SubjectID: doc.SubjectID(),
		Sections:  res.Sections,
		Store:     editstate.New(res.Edits),
		RouteMap:  route,
		Warnings:  warnings,
		OpenedAt:  time.Now(),
	}
	if err := s.storage.CreateWorkspace(ws); err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}

	logger.WithFields(logger.Fields{
		"workspace_id": ws.ID,
		"form_data_id": identity.FormDataID,
		"form_kind":    kind,
		"actor_id":     user.UserID,
		"sections":     len(res.Sections),
		"warnings":     len(warnings),
	}).Info("form workspace opened")

	return toResponse(ws), nil
}

func (s *FormService) GetWorkspace(id string) (*model.WorkspaceResponse, error) {
	ws, err := s.workspace(id)
	if err != nil {
		return nil, err
	}
	return toResponse(ws), nil
}

// Edit 修改一个字段。不可写的字段不会被修改，Applied 为 false
func (s *FormService) Edit(id, key string, req *model.EditRequest) (*model.EditResponse, error) {
	field, err := model.ParseField(req.Field)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if field == model.FieldRating && req.Value != "" {
		if _, err := model.FormatRating(req.Value); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
	}

	ws, err := s.workspace(id)
	if err != nil {
		return nil, err
	}
	if _, ok := ws.Store.Get(key); !ok {
		return nil, fmt.Errorf("%w: %s", ErrEditNotFound, key)
	}

	applied := ws.Store.Set(key, field, req.Value)
	if !applied {
		logger.Warnf("edit of %s.%s in workspace %s ignored: field is not writable", key, field, id)
	}
	_ = s.storage.Touch(id)

	rec, _ := ws.Store.Get(key)
	return &model.EditResponse{Key: key, Applied: applied, Record: rec}, nil
}

// Payload 返回当前编辑状态对应的 upsert 文档，不发送
func (s *FormService) Payload(id string) (*model.UpsertDocument, error) {
	ws, err := s.workspace(id)
	if err != nil {
		return nil, err
	}
	return serializer.Serialize(ws.Sections, ws.Store, ws.Identity)
}

// Save 序列化并提交修改。没有修改时不发请求；成功后当前值成为新的原值
func (s *FormService) Save(ctx context.Context, id string) (*model.SaveResponse, error) {
	ws, err := s.workspace(id)
	if err != nil {
		return nil, err
	}

	// 按快照序列化，保存成功后只确认快照中的值
	sent := ws.Store.Snapshot()
	doc, err := serializer.Serialize(ws.Sections, editstate.New(sent), ws.Identity)
	if err != nil {
		return nil, err
	}
	if doc.Empty() {
		logger.Infof("workspace %s has no changes to save", id)
		return &model.SaveResponse{WorkspaceID: id, Saved: false}, nil
	}

	results, err := s.api.Upsert(ctx, doc)
	if err != nil {
		logger.WithFields(logger.Fields{
			"workspace_id": id,
			"form_data_id": ws.Identity.FormDataID,
		}).Errorf("upsert failed: %v", err)
		return nil, fmt.Errorf("failed to save form %d: %w", ws.Identity.FormDataID, err)
	}

	ws.Store.CommitSnapshot(sent)
	_ = s.storage.Touch(id)
	logger.Infof("workspace %s saved (%d entities)", id, len(results))

	return &model.SaveResponse{WorkspaceID: id, Saved: true, Results: results}, nil
}

// Submit 先保存，再推进流程（PM）或标记完成（360），成功后关闭工作区
func (s *FormService) Submit(ctx context.Context, id string, req *model.SubmitRequest) (*model.SubmitResponse, error) {
	saved, err := s.Save(ctx, id)
	if err != nil {
		return nil, err
	}
	ws, err := s.workspace(id)
	if err != nil {
		return nil, err
	}

	var action string
	switch ws.Identity.Kind {
	case model.FormKind360:
		action = "complete360"
		err = s.api.Complete360(ctx, ws.Identity.FormDataID)
	default:
		action = "sendToNextStep"
		comment := ""
		if req != nil {
			comment = req.Comment
		}
		err = s.api.SendToNextStep(ctx, ws.Identity.FormDataID, comment)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to submit form %d: %w", ws.Identity.FormDataID, err)
	}

	if err := s.storage.DeleteWorkspace(id); err != nil {
		logger.Warnf("Failed to close submitted workspace %s: %v", id, err)
	}
	logger.Infof("form %d submitted via %s", ws.Identity.FormDataID, action)

	return &model.SubmitResponse{WorkspaceID: id, Saved: saved.Saved, Action: action}, nil
}

// CloseWorkspace 丢弃工作区，未保存的修改一并丢弃
func (s *FormService) CloseWorkspace(id string) error {
	if err := s.storage.DeleteWorkspace(id); err != nil {
		if errors.Is(err, storage.ErrWorkspaceNotFound) {
			return fmt.Errorf("%w: %s", storage.ErrWorkspaceNotFound, id)
		}
		return fmt.Errorf("failed to delete workspace: %w", err)
	}
	return nil
}

func (s *FormService) workspace(id string) (*storage.Workspace, error) {
	ws, err := s.storage.GetWorkspace(id)
	if err != nil {
		if errors.Is(err, storage.ErrWorkspaceNotFound) {
			return nil, fmt.Errorf("%w: %s", storage.ErrWorkspaceNotFound, id)
		}
		return nil, fmt.Errorf("failed to get workspace: %w", err)
	}
	return ws, nil
}

func (s *FormService) cleanupExpiredWorkspaces() {
	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.evictExpired()
		}
	}
}

func (s *FormService) evictExpired() {
	evicted, err := s.storage.EvictExpired(s.config.TTL)
	if err != nil {
		logger.Errorf("Failed to evict expired workspaces: %v", err)
		return
	}
	for _, id := range evicted {
		logger.Infof("Cleaned up expired workspace: %s", id)
	}
}

func toResponse(ws *storage.Workspace) *model.WorkspaceResponse {
	route := ws.RouteMap
	if route == nil {
		route = []model.ProcessStep{}
	}
	return &model.WorkspaceResponse{
		WorkspaceID: ws.ID,
		Identity:    ws.Identity,
		FormTitle:   ws.Title,
		SubjectID:   ws.SubjectID,
		ActorID:     ws.ActorID,
		Sections:    ws.Sections,
		Edits:       ws.Store.Snapshot(),
		RouteMap:    route,
		Warnings:    ws.Warnings,
		OpenedAt:    ws.OpenedAt,
		UpdatedAt:   ws.UpdatedAt(),
	}
}
