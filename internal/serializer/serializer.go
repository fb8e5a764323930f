// Package serializer rebuilds the nested deep-upsert document from the
// normalized sections and the current edit state.
//
// Only fields the user may write and actually changed are emitted. Entity
// keys always use the backend sectionIndex, never the local section id.
package serializer

import (
	"fmt"
	"strconv"

	"review-sync-backend/internal/editstate"
	"review-sync-backend/internal/model"
	"review-sync-backend/pkg/logger"
)

// ContractError 表示调用方传入了不完整的数据（缺少表单标识、sectionIndex 等），
// 属于实现缺陷而非用户可恢复的错误
type ContractError struct {
	Field  string
	Reason string
}

func (e *ContractError) Error() string {
	return fmt.Sprintf("serializer contract violation: %s: %s", e.Field, e.Reason)
}

const odataTypePrefix = "SFOData."

type serializer struct {
	id    model.FormIdentity
	store *editstate.Store
	doc   *model.UpsertDocument
}

// Serialize 遍历归一化得到的分区，输出需要写回的嵌套 upsert 文档。
// 没有任何修改时返回的文档 Empty() 为 true。
func Serialize(sections []model.Section, store *editstate.Store, id model.FormIdentity) (*model.UpsertDocument, error) {
	if err := id.Validate(); err != nil {
		return nil, &ContractError{Field: "formIdentity", Reason: err.Error()}
	}
	if store == nil {
		return nil, &ContractError{Field: "editState", Reason: "nil store"}
	}

	root := "FormPMReviewContentDetail"
	if id.Kind == model.FormKind360 {
		root = "Form360ReviewContentDetail"
	}

	s := &serializer{
		id:    id,
		store: store,
		doc: &model.UpsertDocument{
			Metadata:      entityMeta(root, fmt.Sprintf("%s(formContentId=%dL,formDataId=%dL)", root, id.FormContentID, id.FormDataID)),
			FormContentID: fmt.Sprintf("%d", id.FormContentID),
			FormDataID:    fmt.Sprintf("%d", id.FormDataID),
		},
	}

	for _, sec := range sections {
		if err := s.section(sec); err != nil {
			logger.Errorf("serialize form %d section %s: %v", id.FormDataID, sec.LocalID, err)
			return nil, err
		}
	}
	return s.doc, nil
}

func (s *serializer) section(sec model.Section) error {
	switch p := sec.Payload.(type) {
	case model.ItemsPayload:
		return s.itemsSection(sec, p)
	case model.SummaryPayload:
		return s.summary(sec, p)
	case model.IntroductionPayload, model.UserInfoPayload, model.RaterRosterPayload, model.RaterSummaryPayload:
		// 只读分区
		return nil
	default:
		return &ContractError{Field: "section " + sec.LocalID, Reason: fmt.Sprintf("unknown payload %T", sec.Payload)}
	}
}

func (s *serializer) itemsSection(sec model.Section, p model.ItemsPayload) error {
	sectionEntity, itemEntity, err := entityNames(p.Origin)
	if err != nil {
		return err
	}

	if p.FreeTextKey != "" {
		return s.freeText(sec, p)
	}

	var items []model.UpsertItem
	for _, it := range p.Items {
		rec, ok := s.store.Get(it.Key)
		if !ok || !included(rec) {
			continue
		}
		if err := s.requireSectionIndex(sec); err != nil {
			return err
		}
		if it.Positional {
			return &ContractError{Field: "item " + it.Key, Reason: "edited item has no backend itemId"}
		}

		rc, err := s.ratingComment(rec, it.ItemID, "na", sec.BackendSectionIndex)
		if err != nil {
			return err
		}
		entry := model.UpsertItem{
			Metadata: entityMeta(itemEntity, fmt.Sprintf("%s(formContentId=%dL,formDataId=%dL,itemId=%sL,sectionIndex=%d)",
				itemEntity, s.id.FormContentID, s.id.FormDataID, it.ItemID, sec.BackendSectionIndex)),
			ItemID:        it.ItemID,
			SectionIndex:  sec.BackendSectionIndex,
			RatingTargets: targets(rec.RatingProvenance, rc),
		}
		items = append(items, entry)
	}
	if len(items) == 0 {
		return nil
	}

	out := model.UpsertSection{
		Metadata:     s.sectionMeta(sectionEntity, sec.BackendSectionIndex),
		SectionIndex: sec.BackendSectionIndex,
	}
	switch p.Origin {
	case model.OriginObjective:
		out.Objectives = items
		s.doc.ObjectiveSections = append(s.doc.ObjectiveSections, out)
	case model.OriginCompetency:
		out.Competencies = items
		s.doc.CompetencySections = append(s.doc.CompetencySections, out)
	case model.OriginCustom:
		// SKILL 分区虽展示为能力，写回仍走自定义实体
		out.CustomItems = items
		s.doc.CustomSections = append(s.doc.CustomSections, out)
	}
	return nil
}

// freeText 处理无条目的自定义分区，评语直接挂在分区实体上
func (s *serializer) freeText(sec model.Section, p model.ItemsPayload) error {
	rec, ok := s.store.Get(p.FreeTextKey)
	if !ok || !included(rec) {
		return nil
	}
	if err := s.requireSectionIndex(sec); err != nil {
		return err
	}

	rc, err := s.ratingComment(rec, "0", "na", sec.BackendSectionIndex)
	if err != nil {
		return err
	}
	s.doc.CustomSections = append(s.doc.CustomSections, model.UpsertSection{
		Metadata:      s.sectionMeta("FormCustomSection", sec.BackendSectionIndex),
		SectionIndex:  sec.BackendSectionIndex,
		RatingTargets: targets(rec.RatingProvenance, rc),
	})
	return nil
}

func (s *serializer) summary(sec model.Section, p model.SummaryPayload) error {
	key := p.Key
	if key == "" {
		key = model.SummaryKey
	}
	rec, ok := s.store.Get(key)
	if !ok || !included(rec) {
		return nil
	}
	if err := s.requireSectionIndex(sec); err != nil {
		return err
	}

	ratingType := "na"
	if rec.RatingProvenance == model.ProvenanceOverall {
		ratingType = "overall"
	}
	rc, err := s.ratingComment(rec, "0", ratingType, sec.BackendSectionIndex)
	if err != nil {
		return err
	}

	out := &model.UpsertSummary{
		Metadata: entityMeta("FormSummarySection", fmt.Sprintf("FormSummarySection(formContentId=%dL,formDataId=%dL)",
			s.id.FormContentID, s.id.FormDataID)),
	}
	if rec.RatingProvenance == model.ProvenanceOverall {
		out.OverallFormRating = rc
	} else {
		out.RatingTargets = targets(rec.RatingProvenance, rc)
	}
	s.doc.SummarySection = out
	return nil
}

// ratingComment 构造 FormUserRatingComment，只填写可写字段
func (s *serializer) ratingComment(rec model.EditRecord, itemID, ratingType string, sectionIndex int) (*model.UpsertRatingComment, error) {
	// itemId 是 Edm.Int64 键
	if _, err := strconv.ParseInt(itemID, 10, 64); err != nil {
		return nil, &ContractError{Field: "itemId", Reason: fmt.Sprintf("%q is not an Edm.Int64 key", itemID)}
	}
	userID := ""
	if rec.RatingProvenance == model.ProvenanceSelf || rec.RatingProvenance == model.ProvenanceOthers {
		userID = rec.AuthorUserID
	}

	rc := &model.UpsertRatingComment{
		Metadata: entityMeta("FormUserRatingComment", fmt.Sprintf(
			"FormUserRatingComment(formContentId=%dL,formDataId=%dL,itemId=%sL,ratingType='%s',sectionIndex=%d,userId='%s')",
			s.id.FormContentID, s.id.FormDataID, itemID, ratingType, sectionIndex, userID)),
		RatingKey:  rec.RatingKey,
		CommentKey: rec.CommentKey,
	}

	if rec.RatingPermission == model.PermissionWrite && rec.Rating != "" {
		rating, err := model.FormatRating(rec.Rating)
		if err != nil {
			return nil, &ContractError{Field: "rating", Reason: err.Error()}
		}
		rc.Rating = &rating
	}
	if rec.CommentPermission == model.PermissionWrite {
		comment := rec.Comment
		rc.Comment = &comment
	}
	return rc, nil
}

func (s *serializer) sectionMeta(entity string, sectionIndex int) model.Metadata {
	return entityMeta(entity, fmt.Sprintf("%s(formContentId=%dL,formDataId=%dL,sectionIndex=%d)",
		entity, s.id.FormContentID, s.id.FormDataID, sectionIndex))
}

func (s *serializer) requireSectionIndex(sec model.Section) error {
	if sec.BackendSectionIndex == model.NoSectionIndex {
		return &ContractError{Field: "section " + sec.LocalID, Reason: "missing backend sectionIndex"}
	}
	return nil
}

// included：可写且相对原值有修改的字段才需要保存
func included(rec model.EditRecord) bool {
	if rec.RatingPermission == model.PermissionWrite && rec.RatingChanged() {
		return true
	}
	return rec.CommentPermission == model.PermissionWrite && rec.CommentChanged()
}

// targets 按评分来源选择导航属性
func targets(prov model.Provenance, rc *model.UpsertRatingComment) model.RatingTargets {
	switch prov {
	case model.ProvenanceSelf:
		return model.RatingTargets{SelfRatingComment: rc}
	case model.ProvenanceOthers:
		return model.RatingTargets{OthersRatingComment: []model.UpsertRatingComment{*rc}}
	default:
		return model.RatingTargets{OfficialRating: rc}
	}
}

func entityNames(origin model.EntityOrigin) (section, item string, err error) {
	switch origin {
	case model.OriginObjective:
		return "FormObjectiveSection", "FormObjective", nil
	case model.OriginCompetency:
		return "FormCompetencySection", "FormCompetency", nil
	case model.OriginCustom:
		return "FormCustomSection", "FormCustomElement", nil
	default:
		return "", "", &ContractError{Field: "origin", Reason: fmt.Sprintf("unknown entity origin %q", origin)}
	}
}

func entityMeta(entity, uri string) model.Metadata {
	return model.Metadata{URI: uri, Type: odataTypePrefix + entity}
}
