// Package normalizer turns the raw PM and 360 review documents into one
// ordered list of typed sections plus the initial edit record of every
// rateable item.
package normalizer

import (
	"errors"
	"fmt"
	"math"
	"strconv"

	"review-sync-backend/internal/model"
	"review-sync-backend/pkg/logger"
)

// RatingScaleMax 是评分量表的满分，360 汇总视图按它计算百分比
const RatingScaleMax = model.RatingScaleMax

const attributeTypeSkill = "SKILL"

var ErrNilDocument = errors.New("normalizer: nil document")

type Result struct {
	Sections []model.Section
	Edits    map[string]model.EditRecord
}

type builder struct {
	kind    model.FormKind
	actorID string
	doc     *model.RawDocument
	res     *Result
}

// Normalize 把原始文档转换为分区列表与初始 EditRecord。
// 缺失的子分区直接跳过，不视为错误。
func Normalize(doc *model.RawDocument, kind model.FormKind, actorID string) (*Result, error) {
	if doc == nil {
		return nil, ErrNilDocument
	}
	if kind != model.FormKindPM && kind != model.FormKind360 {
		return nil, fmt.Errorf("normalizer: unsupported form kind %q", kind)
	}

	b := &builder{
		kind:    kind,
		actorID: actorID,
		doc:     doc,
		res: &Result{
			Sections: make([]model.Section, 0, 8),
			Edits:    make(map[string]model.EditRecord),
		},
	}

	b.introduction()
	b.userInfo()
	b.objectives()
	b.competencies()
	b.customs()
	b.summary()
	if kind == model.FormKind360 {
		b.raterRoster()
		b.raterSummaryView()
	}

	logger.Debugf("normalized %s form %s: %d sections, %d edit records",
		kind, doc.FormDataID, len(b.res.Sections), len(b.res.Edits))

	return b.res, nil
}

func (b *builder) add(s model.Section) {
	b.res.Sections = append(b.res.Sections, s)
}

func (b *builder) introduction() {
	intro := b.doc.IntroductionSection
	if intro == nil {
		return
	}
	b.add(model.Section{
		LocalID:             "intro",
		BackendSectionIndex: sectionIndex(intro.SectionIndex),
		Kind:                model.SectionIntroduction,
		Title:               titleOr(intro.SectionName, "Introduction"),
		Payload:             model.IntroductionPayload{Description: toMarkdown(intro.SectionDescription)},
	})
}

func (b *builder) userInfo() {
	info := b.doc.UserInformationSection
	if info == nil {
		return
	}

	payload := model.UserInfoPayload{UserID: b.doc.SubjectID()}
	if u := b.doc.SubjectUser; u != nil {
		if u.UserID != "" {
			payload.UserID = u.UserID
		}
		payload.FirstName = u.FirstName
		payload.LastName = u.LastName
		payload.Title = u.Title
		payload.Department = u.Department
		payload.HireDate = parseODataDate(u.HireDate)
	}

	b.add(model.Section{
		LocalID:             "user_info",
		BackendSectionIndex: sectionIndex(info.SectionIndex),
		Kind:                model.SectionUserInfo,
		Title:               titleOr(info.SectionName, "Employee Information"),
		Payload:             payload,
	})
}

func (b *builder) objectives() {
	for sidx, sec := range b.doc.ObjectiveSections.Items() {
		localID := fmt.Sprintf("obj_%d", sidx)
		items := b.items(localID, sec.Objectives.Items())

		b.add(model.Section{
			LocalID:             localID,
			BackendSectionIndex: sectionIndex(sec.SectionIndex),
			Kind:                model.SectionObjectives,
			Title:               weightedTitle(titleOr(sec.SectionName, "Objectives"), sec.SectionWeight),
			Payload: model.ItemsPayload{
				Origin:      model.OriginObjective,
				Weight:      sec.SectionWeight.String(),
				Description: toMarkdown(sec.SectionDescription),
				Items:       items,
			},
		})
	}
}

// competencies 输出能力分区；attributeType 为 SKILL 的自定义分区被并入能力列表，
// 其条目成为合成的能力条目，但保留自定义实体的寻址。
func (b *builder) competencies() {
	type merged struct {
		name, weight, description string
		index                     model.FlexString
		origin                    model.EntityOrigin
		attributeType             string
		items                     []model.FormItem
	}

	var all []merged
	for _, sec := range b.doc.CompetencySections.Items() {
		all = append(all, merged{
			name:        sec.SectionName,
			weight:      sec.SectionWeight.String(),
			description: sec.SectionDescription,
			index:       sec.SectionIndex,
			origin:      model.OriginCompetency,
			items:       sec.Competencies.Items(),
		})
	}
	for _, sec := range b.doc.CustomSections.Items() {
		if sec.AttributeType != attributeTypeSkill {
			continue
		}
		logger.Debugf("reclassifying SKILL custom section %q (index %s) as competency", sec.SectionName, sec.SectionIndex)
		all = append(all, merged{
			name:          sec.SectionName,
			weight:        sec.SectionWeight.String(),
			description:   sec.SectionDescription,
			index:         sec.SectionIndex,
			origin:        model.OriginCustom,
			attributeType: sec.AttributeType,
			items:         sec.CustomItems.Items(),
		})
	}

	for sidx, sec := range all {
		localID := fmt.Sprintf("comp_%d", sidx)
		items := b.items(localID, sec.items)

		b.add(model.Section{
			LocalID:             localID,
			BackendSectionIndex: sectionIndex(sec.index),
			Kind:                model.SectionCompetencies,
			Title:               weightedTitle(titleOr(sec.name, "Competency Feedback"), model.FlexString(sec.weight)),
			Payload: model.ItemsPayload{
				Origin:        sec.origin,
				AttributeType: sec.attributeType,
				Weight:        sec.weight,
				Description:   toMarkdown(sec.description),
				Items:         items,
			},
		})
	}
}

func (b *builder) customs() {
	idx := 0
	for _, sec := range b.doc.CustomSections.Items() {
		if sec.AttributeType == attributeTypeSkill {
			continue
		}
		localID := fmt.Sprintf("custom_%d", idx)
		idx++

		payload := model.ItemsPayload{
			Origin:        model.OriginCustom,
			AttributeType: sec.AttributeType,
			Weight:        sec.SectionWeight.String(),
			Description:   toMarkdown(sec.SectionDescription),
		}

		raw := sec.CustomItems.Items()
		if len(raw) > 0 {
			payload.Items = b.items(localID, raw)
		} else {
			// 无条目的自定义分区：整个分区是一条自由文本，键就是分区 ID
			payload.Items = []model.Item{}
			payload.FreeTextKey = localID
			b.res.Edits[localID] = b.resolve(sec.SelfRatingComment, sec.OfficialRating, sec.OthersRatingComment.Items())
		}

		title := sec.SectionName
		if title == "" {
			title = titleOr(sec.AttributeType, "Custom Section")
		}

		b.add(model.Section{
			LocalID:             localID,
			BackendSectionIndex: sectionIndex(sec.SectionIndex),
			Kind:                model.SectionCustom,
			Title:               title,
			Payload:             payload,
		})
	}
}

func (b *builder) summary() {
	sum := b.doc.SummarySection
	if sum == nil {
		return
	}

	defaultTitle := "Overall Result"
	if b.kind == model.FormKind360 {
		defaultTitle = "Overall Average Rating"
	}

	var rec model.EditRecord
	if sum.OverallFormRating != nil {
		rec = b.fromEntry(sum.OverallFormRating, model.ProvenanceOverall)
		b.attachReferences(&rec, sum.SelfRatingComment, sum.OthersRatingComment.Items())
	} else {
		rec = b.resolve(sum.SelfRatingComment, sum.OfficialRating, sum.OthersRatingComment.Items())
	}
	b.res.Edits[model.SummaryKey] = rec

	b.add(model.Section{
		LocalID:             model.SummaryKey,
		BackendSectionIndex: sectionIndex(sum.SectionIndex),
		Kind:                model.SectionSummary,
		Title:               titleOr(sum.SectionName, defaultTitle),
		Payload:             model.SummaryPayload{Key: model.SummaryKey},
	})
}

func (b *builder) raterRoster() {
	sec := b.doc.Form360RaterSection
	if sec == nil {
		return
	}

	raters := make([]model.RosterEntry, 0, len(sec.Form360Raters.Items()))
	for _, r := range sec.Form360Raters.Items() {
		raters = append(raters, model.RosterEntry{
			Category:  r.Category,
			UserID:    r.ParticipantID,
			FullName:  r.ParticipantFullName,
			Status:    r.Status,
			Completed: r.Status == "Completed",
		})
	}

	b.add(model.Section{
		LocalID:             "raters",
		BackendSectionIndex: sectionIndex(sec.SectionIndex),
		Kind:                model.SectionRaterRoster,
		Title:               titleOr(sec.SectionName, "Rater List"),
		Payload:             model.RaterRosterPayload{Raters: raters},
	})
}

func (b *builder) raterSummaryView() {
	sec := b.doc.SummaryViewSection
	if sec == nil {
		return
	}

	averages := make([]model.RaterAverage, 0, len(sec.FormRaters.Items()))
	for _, r := range sec.FormRaters.Items() {
		rating, err := strconv.ParseFloat(r.Rating.String(), 64)
		if err != nil {
			rating = 0
		}
		averages = append(averages, model.RaterAverage{
			Category:     r.RaterCategory,
			Rating:       rating,
			PercentOfMax: PercentOfMax(rating),
		})
	}

	b.add(model.Section{
		LocalID:             "summary_view",
		BackendSectionIndex: sectionIndex(sec.SectionIndex),
		Kind:                model.SectionRaterSummaryView,
		Title:               titleOr(sec.SectionName, "Result Summary"),
		Payload:             model.RaterSummaryPayload{MaxScale: RatingScaleMax, Averages: averages},
	})
}

// items 为一个分区的条目生成 Item 与 EditRecord。缺少 itemId 时退回到位置序号。
func (b *builder) items(localID string, raw []model.FormItem) []model.Item {
	items := make([]model.Item, 0, len(raw))
	for i, it := range raw {
		itemID := it.ItemID.String()
		positional := false
		if itemID == "" {
			itemID = strconv.Itoa(i)
			positional = true
		}

		key := model.ItemKey(localID, itemID)
		items = append(items, model.Item{
			Key:         key,
			ItemID:      itemID,
			Name:        it.Name,
			Description: toMarkdown(it.Description),
			Positional:  positional,
		})
		b.res.Edits[key] = b.resolve(it.SelfRatingComment, it.OfficialRating, it.OthersRatingComment.Items())
	}
	return items
}

// PercentOfMax 把评分换算为占满分的百分比，保留一位小数
func PercentOfMax(rating float64) float64 {
	return math.Round(rating/RatingScaleMax*1000) / 10
}

func sectionIndex(f model.FlexString) int {
	if n, ok := f.Int(); ok {
		return n
	}
	return model.NoSectionIndex
}

func titleOr(title, fallback string) string {
	if title == "" {
		return fallback
	}
	return title
}

func weightedTitle(title string, weight model.FlexString) string {
	w := model.NormalizeRating(weight.String())
	if w == "" || w == "0" {
		return title
	}
	return fmt.Sprintf("%s (%s%%)", title, w)
}
