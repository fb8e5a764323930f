package sfclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"review-sync-backend/internal/config"
	"review-sync-backend/internal/metrics"
	"review-sync-backend/internal/model"
	"review-sync-backend/pkg/logger"
)

var pmDetailExpand = []string{
	"introductionSection",
	"objectiveSections/objectives/selfRatingComment",
	"objectiveSections/objectives/officialRating",
	"objectiveSections/objectives/othersRatingComment",
	"competencySections/competencies/selfRatingComment",
	"competencySections/competencies/officialRating",
	"competencySections/competencies/othersRatingComment",
	"summarySection/selfRatingComment",
	"summarySection/overallFormRating",
	"summarySection/othersRatingComment",
	"customSections",
}

// 360 详情分两步加载，避免一次展开过多导致网关 504
var (
	detail360RosterExpand = []string{
		"introductionSection",
		"participantSection",
		"form360RaterSection/form360Raters",
		"summaryViewSection/formRaters",
		"summarySection/overallFormRating",
		"summarySection/selfRatingComment",
	}
	detail360ContentExpand = []string{
		"objectiveSections/objectives/selfRatingComment",
		"objectiveSections/objectives/othersRatingComment",
		"competencySections/competencies/selfRatingComment",
		"competencySections/competencies/othersRatingComment",
		"customSections",
	}
)

// API 封装评估表单相关的 OData 调用
type API struct {
	client          *Client
	odataPrefix     string
	tokenPath       string
	backendUserPath string
}

func NewAPI(client *Client, cfg config.SFConfig) *API {
	a := &API{
		client:          client,
		odataPrefix:     strings.Trim(cfg.ODataPrefix, "/"),
		tokenPath:       cfg.TokenPath,
		backendUserPath: cfg.BackendUserPath,
	}
	if a.odataPrefix == "" {
		a.odataPrefix = "SuccessFactors_API/odata/v2"
	}
	if a.tokenPath == "" {
		a.tokenPath = "user-api/currentUser"
	}
	if a.backendUserPath == "" {
		a.backendUserPath = "api/projman/SFSF_User"
	}
	return a
}

func (a *API) odata(entity string) string {
	return a.odataPrefix + "/" + entity
}

type appRouterUser struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
	FirstName   string `json:"firstname"`
	LastName    string `json:"lastname"`
}

type backendUser struct {
	UserID          string `json:"userId"`
	Username        string `json:"username"`
	DefaultFullName string `json:"defaultFullName"`
	Email           string `json:"email"`
}

// CurrentUser 先取 AppRouter 的登录信息，再通过后端接口映射到 SuccessFactors userId；
// 后端没有返回数据时退回到 AppRouter 的 name
func (a *API) CurrentUser(ctx context.Context) (*model.CurrentUser, error) {
	resp, err := a.client.Get(ctx, a.tokenPath, nil)
	if err != nil {
		return nil, fmt.Errorf("get app router user: %w", err)
	}
	var ar appRouterUser
	if err := resp.Decode(&ar); err != nil {
		return nil, fmt.Errorf("decode app router user: %w", err)
	}

	user := &model.CurrentUser{
		UserID:      ar.Name,
		DisplayName: ar.DisplayName,
		Email:       ar.Email,
	}
	if user.DisplayName == "" {
		user.DisplayName = strings.TrimSpace(ar.FirstName + " " + ar.LastName)
	}

	resp, err = a.client.Get(ctx, a.backendUserPath, nil)
	if err != nil {
		logger.Warnf("backend user lookup failed, falling back to app router name %q: %v", ar.Name, err)
		return user, nil
	}
	var backend struct {
		Value []backendUser `json:"value"`
	}
	if err := resp.Decode(&backend); err != nil || len(backend.Value) == 0 || backend.Value[0].UserID == "" {
		logger.Warnf("backend user lookup returned no user, falling back to app router name %q", ar.Name)
		return user, nil
	}

	b := backend.Value[0]
	user.UserID = b.UserID
	if b.DefaultFullName != "" {
		user.DisplayName = b.DefaultFullName
	}
	if b.Email != "" {
		user.Email = b.Email
	}
	return user, nil
}

type rawFolder struct {
	FolderID   model.FlexString `json:"folderId"`
	FolderName string           `json:"folderName"`
	Forms      *model.Results[struct {
		FormContentID model.FlexString  `json:"formContentId"`
		FormHeader    *model.FormHeader `json:"formHeader"`
	}] `json:"forms"`
}

// FormFolders 列出用户的评估文件夹及其中的表单
func (a *API) FormFolders(ctx context.Context, userID string) ([]model.FormFolder, error) {
	query := url.Values{}
	query.Set("$filter", "userId eq "+odataString(userID))
	query.Set("$expand", "forms/formHeader")
	query.Set("$select", "folderId,folderName,forms/formContentId,forms/formHeader/formDataId,"+
		"forms/formHeader/formTitle,forms/formHeader/currentStep,forms/formHeader/formLastModifiedDate")

	resp, err := a.client.Get(ctx, a.odata("FormFolder"), query)
	if err != nil {
		return nil, fmt.Errorf("get form folders: %w", err)
	}
	var raw model.Results[rawFolder]
	if err := resp.DecodeD(&raw); err != nil {
		return nil, fmt.Errorf("decode form folders: %w", err)
	}

	folders := make([]model.FormFolder, 0, len(raw.Results))
	for _, f := range raw.Results {
		folder := model.FormFolder{
			FolderID:   f.FolderID.String(),
			FolderName: f.FolderName,
			Forms:      []model.FormSummary{},
		}
		for _, form := range f.Forms.Items() {
			summary := model.FormSummary{FormContentID: form.FormContentID.String()}
			if h := form.FormHeader; h != nil {
				summary.FormDataID = h.FormDataID.String()
				summary.FormTitle = h.FormTitle
				summary.CurrentStep = h.CurrentStep
				summary.LastModified = h.FormLastModifiedDate
			}
			folder.Forms = append(folder.Forms, summary)
		}
		folders = append(folders, folder)
	}
	return folders, nil
}

// UserPhoto 返回 data URL 形式的头像；没有头像时返回空串
func (a *API) UserPhoto(ctx context.Context, userID string) (string, error) {
	path := a.odata(fmt.Sprintf("Photo(photoType=1,userId=%s)", odataString(userID)))
	resp, err := a.client.Get(ctx, path, nil)
	if err != nil {
		var te *TransportError
		if errors.As(err, &te) && te.StatusCode == http.StatusNotFound {
			return "", nil
		}
		return "", fmt.Errorf("get user photo: %w", err)
	}

	var photo struct {
		Photo string `json:"photo"`
	}
	if err := resp.DecodeD(&photo); err != nil {
		return "", fmt.Errorf("decode user photo: %w", err)
	}
	if photo.Photo == "" {
		return "", nil
	}
	return "data:image/jpeg;base64," + photo.Photo, nil
}

func (a *API) formContent(ctx context.Context, contentID, dataID int64, doc *model.RawDocument) error {
	path := a.odata(fmt.Sprintf("FormContent(formContentId=%s,formDataId=%s)", odataKey(contentID), odataKey(dataID)))
	resp, err := a.client.Get(ctx, path, url.Values{"$expand": {"formHeader"}})
	if err != nil {
		return err
	}
	return resp.DecodeD(doc)
}

func (a *API) contentDetail(ctx context.Context, entity string, contentID, dataID int64, expand []string, doc *model.RawDocument) error {
	path := a.odata(fmt.Sprintf("%s(formContentId=%s,formDataId=%s)", entity, odataKey(contentID), odataKey(dataID)))
	resp, err := a.client.Get(ctx, path, url.Values{"$expand": {strings.Join(expand, ",")}})
	if err != nil {
		return err
	}
	// 反序列化到同一个文档上，后加载的字段覆盖先加载的同名字段
	return resp.DecodeD(doc)
}

// FormDetailPM 分两步加载 PM 表单。详情步骤失败时返回已加载的部分和 *PartialLoadError
func (a *API) FormDetailPM(ctx context.Context, contentID, dataID int64) (*model.RawDocument, error) {
	doc := &model.RawDocument{}
	if err := a.formContent(ctx, contentID, dataID, doc); err != nil {
		return nil, fmt.Errorf("get form content %d/%d: %w", contentID, dataID, err)
	}

	if err := a.contentDetail(ctx, "FormPMReviewContentDetail", contentID, dataID, pmDetailExpand, doc); err != nil {
		logger.Warnf("pm detail for form %d failed, continuing with partial document: %v", dataID, err)
		return doc, &PartialLoadError{Failed: []string{"FormPMReviewContentDetail"}, Err: err}
	}
	return doc, nil
}

// FormDetail360 分三步加载 360 表单：表单头、评价人与汇总、目标与能力
func (a *API) FormDetail360(ctx context.Context, contentID, dataID int64) (*model.RawDocument, error) {
	doc := &model.RawDocument{}
	if err := a.formContent(ctx, contentID, dataID, doc); err != nil {
		return nil, fmt.Errorf("get form content %d/%d: %w", contentID, dataID, err)
	}

	steps := []struct {
		name   string
		expand []string
	}{
		{"Form360ReviewContentDetail/roster", detail360RosterExpand},
		{"Form360ReviewContentDetail/content", detail360ContentExpand},
	}
	for _, step := range steps {
		if err := a.contentDetail(ctx, "Form360ReviewContentDetail", contentID, dataID, step.expand, doc); err != nil {
			logger.Warnf("360 detail step %s for form %d failed, continuing with partial document: %v", step.name, dataID, err)
			return doc, &PartialLoadError{Failed: []string{step.name}, Err: err}
		}
	}
	return doc, nil
}

type routeSubStep struct {
	UserFullName string `json:"userFullName"`
	UserRole     string `json:"userRole"`
}

type routeStep struct {
	StepName     string                       `json:"stepName"`
	Current      bool                         `json:"current"`
	Completed    bool                         `json:"completed"`
	UserFullName string                       `json:"userFullName"`
	UserRole     string                       `json:"userRole"`
	RouteSubStep *model.Results[routeSubStep] `json:"routeSubStep"`
}

// RouteMap 读取表单的流程步骤，只用于展示
func (a *API) RouteMap(ctx context.Context, dataID int64) ([]model.ProcessStep, error) {
	path := a.odata(fmt.Sprintf("FormRouteMap(formDataId=%s)", odataKey(dataID)))
	resp, err := a.client.Get(ctx, path, url.Values{"$expand": {"routeStep,routeStep/routeSubStep"}})
	if err != nil {
		return nil, fmt.Errorf("get route map %d: %w", dataID, err)
	}

	var raw struct {
		RouteStep *model.Results[routeStep] `json:"routeStep"`
	}
	if err := resp.DecodeD(&raw); err != nil {
		return nil, fmt.Errorf("decode route map %d: %w", dataID, err)
	}

	steps := make([]model.ProcessStep, 0, len(raw.RouteStep.Items()))
	for _, s := range raw.RouteStep.Items() {
		assignee := s.UserFullName
		subs := s.RouteSubStep.Items()
		if assignee == "" && len(subs) > 0 {
			assignee = subs[0].UserFullName
		}
		if assignee == "" {
			assignee = s.UserRole
		}
		if assignee == "" && len(subs) > 0 {
			assignee = subs[0].UserRole
		}
		steps = append(steps, model.ProcessStep{
			StepName:     s.StepName,
			Current:      s.Current,
			Completed:    s.Completed,
			AssigneeName: assignee,
		})
	}
	return steps, nil
}

// Upsert 提交嵌套文档。任一实体结果不是 OK 都视为保存失败
func (a *API) Upsert(ctx context.Context, doc *model.UpsertDocument) ([]model.UpsertResult, error) {
	resp, err := a.client.Post(ctx, a.odata("upsert"), doc)
	if err != nil {
		return nil, fmt.Errorf("upsert form %s: %w", doc.FormDataID, err)
	}

	results, err := decodeUpsertResults(resp)
	if err != nil {
		return nil, fmt.Errorf("decode upsert results: %w", err)
	}

	var rejected []string
	for _, r := range results {
		metrics.UpsertEntities.WithLabelValues(r.Status).Inc()
		if !r.OK() {
			rejected = append(rejected, fmt.Sprintf("%s: %s %s", r.Key, r.Status, r.Message))
		}
	}
	if len(rejected) > 0 {
		return results, &UpsertError{Rejected: rejected}
	}
	return results, nil
}

// upsert 的 d 可能是数组，也可能是 {"results": [...]}
func decodeUpsertResults(resp *Response) ([]model.UpsertResult, error) {
	var env model.ODataEnvelope
	if err := resp.Decode(&env); err != nil {
		return nil, err
	}
	if len(env.D) == 0 || string(env.D) == "null" {
		return nil, nil
	}

	var results []model.UpsertResult
	if env.D[0] == '[' {
		err := json.Unmarshal(env.D, &results)
		return results, err
	}
	var wrapped model.Results[model.UpsertResult]
	if err := json.Unmarshal(env.D, &wrapped); err != nil {
		return nil, err
	}
	return wrapped.Results, nil
}

// SendToNextStep 把 PM 表单推进到下一流程步骤
func (a *API) SendToNextStep(ctx context.Context, dataID int64, comment string) error {
	query := url.Values{"formDataId": {odataKey(dataID)}}
	if comment != "" {
		query.Set("comment", odataString(comment))
	}
	resp, err := a.client.Get(ctx, a.odata("sendToNextStep"), query)
	if err != nil {
		return fmt.Errorf("send form %d to next step: %w", dataID, err)
	}
	return checkAction("sendToNextStep", resp)
}

// Complete360 把 360 表单标记为完成
func (a *API) Complete360(ctx context.Context, dataID int64) error {
	resp, err := a.client.Get(ctx, a.odata("complete360"), url.Values{"formDataId": {odataKey(dataID)}})
	if err != nil {
		return fmt.Errorf("complete 360 form %d: %w", dataID, err)
	}
	return checkAction("complete360", resp)
}

// checkAction 兼容 "Success"、{"status":"Success"} 以及带 d 外层的两种形式
func checkAction(name string, resp *Response) error {
	status := actionStatus(resp.Body)
	if status != "Success" {
		if status == "" {
			status = "unknown"
		}
		return fmt.Errorf("%w: %s returned status %s", ErrActionFailed, name, status)
	}
	return nil
}

func actionStatus(body []byte) string {
	var raw json.RawMessage = body
	var env model.ODataEnvelope
	if err := json.Unmarshal(body, &env); err == nil && len(env.D) > 0 {
		raw = env.D
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.Status
	}
	return ""
}
