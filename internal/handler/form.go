package handler

import (
	"context"
	"errors"
	"net/http"

	"review-sync-backend/internal/model"
	"review-sync-backend/internal/serializer"
	"review-sync-backend/internal/service"
	"review-sync-backend/internal/sfclient"
	"review-sync-backend/internal/storage"
	"review-sync-backend/pkg/logger"

	"github.com/gin-gonic/gin"
)

// FormService 是 handler 使用的表单操作，由 *service.FormService 实现
type FormService interface {
	CurrentUser(ctx context.Context) (*model.CurrentUser, error)
	Folders(ctx context.Context) ([]model.FormFolder, error)
	UserPhoto(ctx context.Context, userID string) (string, error)
	OpenForm(ctx context.Context, req *model.OpenFormRequest) (*model.WorkspaceResponse, error)
	GetWorkspace(id string) (*model.WorkspaceResponse, error)
	Edit(id, key string, req *model.EditRequest) (*model.EditResponse, error)
	Payload(id string) (*model.UpsertDocument, error)
	Save(ctx context.Context, id string) (*model.SaveResponse, error)
	Submit(ctx context.Context, id string, req *model.SubmitRequest) (*model.SubmitResponse, error)
	CloseWorkspace(id string) error
}

type FormHandler struct {
	formService FormService
}

func NewFormHandler(formService FormService) *FormHandler {
	return &FormHandler{
		formService: formService,
	}
}

// Register 挂载表单相关路由
func (h *FormHandler) Register(api *gin.RouterGroup) {
	api.GET("/user/current", h.CurrentUser)
	api.GET("/users/:user_id/photo", h.UserPhoto)

	forms := api.Group("/forms")
	{
		forms.GET("/folders", h.Folders)
		forms.POST("/open", h.OpenForm)
		forms.GET("/:workspace_id", h.GetWorkspace)
		forms.DELETE("/:workspace_id", h.CloseWorkspace)
		forms.PUT("/:workspace_id/edits/:key", h.Edit)
		forms.GET("/:workspace_id/payload", h.Payload)
		forms.POST("/:workspace_id/save", h.Save)
		forms.POST("/:workspace_id/submit", h.Submit)
	}
}

func (h *FormHandler) CurrentUser(c *gin.Context) {
	user, err := h.formService.CurrentUser(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *FormHandler) UserPhoto(c *gin.Context) {
	userID := c.Param("user_id")
	photo, err := h.formService.UserPhoto(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"userId": userID,
		"photo":  photo,
	})
}

func (h *FormHandler) Folders(c *gin.Context) {
	folders, err := h.formService.Folders(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"folders": folders,
		"total":   len(folders),
	})
}

func (h *FormHandler) OpenForm(c *gin.Context) {
	var req model.OpenFormRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ws, err := h.formService.OpenForm(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ws)
}

func (h *FormHandler) GetWorkspace(c *gin.Context) {
	ws, err := h.formService.GetWorkspace(c.Param("workspace_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ws)
}

func (h *FormHandler) Edit(c *gin.Context) {
	var req model.EditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := h.formService.Edit(c.Param("workspace_id"), c.Param("key"), &req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Payload 预览保存时会发送的 upsert 文档
func (h *FormHandler) Payload(c *gin.Context) {
	doc, err := h.formService.Payload(c.Param("workspace_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"empty":   doc.Empty(),
		"payload": doc,
	})
}

func (h *FormHandler) Save(c *gin.Context) {
	resp, err := h.formService.Save(c.Request.Context(), c.Param("workspace_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *FormHandler) Submit(c *gin.Context) {
	var req model.SubmitRequest
	// 允许空请求体，评语为空
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	resp, err := h.formService.Submit(c.Request.Context(), c.Param("workspace_id"), &req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *FormHandler) CloseWorkspace(c *gin.Context) {
	if err := h.formService.CloseWorkspace(c.Param("workspace_id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Workspace closed successfully"})
}

// writeError 把服务层错误映射为 HTTP 状态码
func writeError(c *gin.Context, err error) {
	status, kind := classify(err)
	if status >= http.StatusInternalServerError {
		logger.Errorf("%s %s failed: %v", c.Request.Method, c.FullPath(), err)
	}
	c.JSON(status, gin.H{
		"error": err.Error(),
		"type":  kind,
	})
}

func classify(err error) (int, string) {
	var contractErr *serializer.ContractError
	var upsertErr *sfclient.UpsertError
	var transportErr *sfclient.TransportError

	switch {
	case errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, storage.ErrWorkspaceNotFound), errors.Is(err, service.ErrEditNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, sfclient.ErrAuthExpired):
		return http.StatusUnauthorized, "auth_expired"
	case errors.As(err, &contractErr):
		return http.StatusInternalServerError, "contract_violation"
	case errors.As(err, &upsertErr):
		return http.StatusConflict, "upsert_rejected"
	case errors.Is(err, sfclient.ErrActionFailed):
		return http.StatusBadGateway, "action_failed"
	case errors.As(err, &transportErr):
		return http.StatusBadGateway, "upstream_error"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
