package normalizer

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"review-sync-backend/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadDoc(t *testing.T, name string) *model.RawDocument {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)

	var doc model.RawDocument
	require.NoError(t, json.Unmarshal(data, &doc))
	return &doc
}

func sectionIDs(sections []model.Section) []string {
	ids := make([]string, 0, len(sections))
	for _, s := range sections {
		ids = append(ids, s.LocalID)
	}
	return ids
}

func findSection(t *testing.T, sections []model.Section, id string) model.Section {
	t.Helper()
	for _, s := range sections {
		if s.LocalID == id {
			return s
		}
	}
	t.Fatalf("section %s not found", id)
	return model.Section{}
}

func TestNormalize_PMSectionOrder(t *testing.T) {
	res, err := Normalize(loadDoc(t, "pm_form.json"), model.FormKindPM, "mgr1")
	require.NoError(t, err)

	assert.Equal(t, []string{"intro", "obj_0", "comp_0", "comp_1", "custom_0", "summary"}, sectionIDs(res.Sections))

	intro := findSection(t, res.Sections, "intro")
	assert.Equal(t, "Introduction", intro.Title)
	assert.Equal(t, 0, intro.BackendSectionIndex)
	payload, ok := intro.Payload.(model.IntroductionPayload)
	require.True(t, ok)
	assert.Contains(t, payload.Description, "**honestly**")
	assert.NotContains(t, payload.Description, "<p>")

	obj := findSection(t, res.Sections, "obj_0")
	assert.Equal(t, "Goals (60%)", obj.Title)
	assert.Equal(t, 1, obj.BackendSectionIndex)
}

func TestNormalize_SkillSectionBecomesCompetency(t *testing.T) {
	res, err := Normalize(loadDoc(t, "pm_form.json"), model.FormKindPM, "mgr1")
	require.NoError(t, err)

	for _, s := range res.Sections {
		if s.Kind != model.SectionCustom {
			continue
		}
		p := s.Payload.(model.ItemsPayload)
		assert.NotEqual(t, "SKILL", p.AttributeType, "SKILL section must not stay custom")
	}

	skill := findSection(t, res.Sections, "comp_1")
	assert.Equal(t, model.SectionCompetencies, skill.Kind)
	assert.Equal(t, 3, skill.BackendSectionIndex)

	p := skill.Payload.(model.ItemsPayload)
	assert.Equal(t, model.OriginCustom, p.Origin)
	require.Len(t, p.Items, 1)
	assert.Equal(t, "comp_1_31", p.Items[0].Key)
	assert.Equal(t, "Go", p.Items[0].Name)

	rec, ok := res.Edits["comp_1_31"]
	require.True(t, ok)
	assert.Equal(t, "4", rec.Rating)
	assert.Equal(t, model.PermissionWrite, rec.RatingPermission)
}

func TestNormalize_PMResolutionChain(t *testing.T) {
	res, err := Normalize(loadDoc(t, "pm_form.json"), model.FormKindPM, "mgr1")
	require.NoError(t, err)

	// 可写的 official 优先，评分被规范化
	rec := res.Edits["obj_0_101"]
	assert.Equal(t, "3.5", rec.Rating)
	assert.Equal(t, "3.5", rec.OriginalRating)
	assert.Equal(t, "good", rec.Comment)
	assert.Equal(t, model.ProvenanceOfficial, rec.RatingProvenance)
	assert.Equal(t, model.PermissionWrite, rec.RatingPermission)
	assert.Equal(t, "rk101", rec.RatingKey)
	assert.Equal(t, "4", rec.SelfRating)
	assert.Equal(t, "done", rec.SelfComment)
	require.Len(t, rec.Others, 1)
	assert.Equal(t, "Peer One", rec.Others[0].FullName)

	// 无权限的 official 仍然给出原值，但不可写
	rec = res.Edits["obj_0_102"]
	assert.Equal(t, "2", rec.Rating)
	assert.Equal(t, model.PermissionNone, rec.RatingPermission)
	assert.Equal(t, model.PermissionNone, rec.CommentPermission)
	assert.False(t, rec.Writable())

	// official 只读时回退到 self，强制只读
	rec = res.Edits["comp_0_7"]
	assert.Equal(t, "3", rec.Rating)
	assert.Equal(t, "ok", rec.Comment)
	assert.Equal(t, model.ProvenanceSelf, rec.RatingProvenance)
	assert.Equal(t, model.PermissionRead, rec.RatingPermission)
	assert.Equal(t, model.PermissionRead, rec.CommentPermission)
	assert.Equal(t, "emp01", rec.AuthorUserID)
}

func TestNormalize_FreeTextCustomSectionKey(t *testing.T) {
	res, err := Normalize(loadDoc(t, "pm_form.json"), model.FormKindPM, "mgr1")
	require.NoError(t, err)

	sec := findSection(t, res.Sections, "custom_0")
	assert.Equal(t, "Strengths", sec.Title)
	p := sec.Payload.(model.ItemsPayload)
	assert.Empty(t, p.Items)
	assert.Equal(t, "custom_0", p.FreeTextKey)

	rec, ok := res.Edits["custom_0"]
	require.True(t, ok)
	assert.Equal(t, "curious", rec.Comment)
	assert.Equal(t, model.PermissionWrite, rec.CommentPermission)
	assert.Equal(t, model.PermissionNone, rec.RatingPermission)
}

func TestNormalize_SummaryKey(t *testing.T) {
	res, err := Normalize(loadDoc(t, "pm_form.json"), model.FormKindPM, "mgr1")
	require.NoError(t, err)

	sec := findSection(t, res.Sections, model.SummaryKey)
	assert.Equal(t, "Overall Result", sec.Title)
	assert.Equal(t, model.SummaryPayload{Key: model.SummaryKey}, sec.Payload)

	rec := res.Edits[model.SummaryKey]
	assert.Equal(t, "3.8", rec.Rating)
	assert.Equal(t, model.ProvenanceOverall, rec.RatingProvenance)
	assert.Equal(t, model.PermissionWrite, rec.RatingPermission)
	assert.Equal(t, "4", rec.SelfRating)
}

func TestNormalize_360Sections(t *testing.T) {
	res, err := Normalize(loadDoc(t, "form360.json"), model.FormKind360, "me")
	require.NoError(t, err)

	assert.Equal(t,
		[]string{"intro", "user_info", "obj_0", "comp_0", "custom_0", "summary", "raters", "summary_view"},
		sectionIDs(res.Sections))

	info := findSection(t, res.Sections, "user_info").Payload.(model.UserInfoPayload)
	assert.Equal(t, "emp02", info.UserID)
	assert.Equal(t, "2019-01-01", info.HireDate)

	intro := findSection(t, res.Sections, "intro")
	assert.Equal(t, "Welcome", intro.Title)
	assert.Equal(t, "Plain text intro", intro.Payload.(model.IntroductionPayload).Description)

	assert.Equal(t, "Competency Feedback", findSection(t, res.Sections, "comp_0").Title)
	assert.Equal(t, "Overall Average Rating", findSection(t, res.Sections, "summary").Title)

	roster := findSection(t, res.Sections, "raters").Payload.(model.RaterRosterPayload)
	require.Len(t, roster.Raters, 2)
	assert.True(t, roster.Raters[0].Completed)
	assert.False(t, roster.Raters[1].Completed)
}

func TestNormalize_RaterSummaryPercent(t *testing.T) {
	res, err := Normalize(loadDoc(t, "form360.json"), model.FormKind360, "me")
	require.NoError(t, err)

	sec := findSection(t, res.Sections, "summary_view")
	assert.Equal(t, model.SectionRaterSummaryView, sec.Kind)
	assert.Equal(t, "Result Summary", sec.Title)

	p := sec.Payload.(model.RaterSummaryPayload)
	assert.Equal(t, 5.0, p.MaxScale)
	require.Len(t, p.Averages, 2)
	assert.Equal(t, "Manager", p.Averages[0].Category)
	assert.Equal(t, "84%", p.Averages[0].Percent())
	assert.Equal(t, "Peer", p.Averages[1].Category)
	assert.Equal(t, "76%", p.Averages[1].Percent())

	for _, key := range []string{"summary_view", "raters"} {
		_, ok := res.Edits[key]
		assert.False(t, ok, "display-only section %s must not have an edit record", key)
	}
}

func TestNormalize_360Resolution(t *testing.T) {
	res, err := Normalize(loadDoc(t, "form360.json"), model.FormKind360, "me")
	require.NoError(t, err)

	// 没有 itemId 的目标按位置编号
	obj := findSection(t, res.Sections, "obj_0").Payload.(model.ItemsPayload)
	require.Len(t, obj.Items, 1)
	assert.Equal(t, "obj_0_0", obj.Items[0].Key)
	assert.True(t, obj.Items[0].Positional)

	rec := res.Edits["obj_0_0"]
	assert.Equal(t, model.ProvenanceSelf, rec.RatingProvenance)
	assert.Equal(t, "3", rec.Rating)
	assert.Equal(t, model.PermissionWrite, rec.RatingPermission)
	assert.Equal(t, model.PermissionWrite, rec.CommentPermission)
	assert.Equal(t, "me", rec.AuthorUserID)

	// others 中第一个带 key 的条目视为当前评价人
	rec = res.Edits["comp_0_21"]
	assert.Equal(t, model.ProvenanceOthers, rec.RatingProvenance)
	assert.Equal(t, "4", rec.Rating)
	assert.Equal(t, "good", rec.Comment)
	assert.Equal(t, "me", rec.AuthorUserID)
	assert.Equal(t, model.PermissionWrite, rec.RatingPermission)
	assert.Len(t, rec.Others, 2)

	// 没有任何 key 时为空记录
	rec = res.Edits["comp_0_22"]
	assert.Equal(t, "", rec.Rating)
	assert.Equal(t, model.ProvenanceNA, rec.RatingProvenance)
	assert.Equal(t, model.PermissionNone, rec.RatingPermission)
	assert.Equal(t, model.PermissionNone, rec.CommentPermission)

	// 只有 commentKey：评语可写，评分只读
	rec = res.Edits["custom_0_41"]
	assert.Equal(t, model.PermissionRead, rec.RatingPermission)
	assert.Equal(t, model.PermissionWrite, rec.CommentPermission)

	rec = res.Edits[model.SummaryKey]
	assert.Equal(t, "4.1", rec.Rating)
	assert.Equal(t, model.ProvenanceOverall, rec.RatingProvenance)
	assert.Equal(t, model.PermissionRead, rec.RatingPermission)
}

func TestNormalize_MissingSections(t *testing.T) {
	doc := &model.RawDocument{
		FormContentID: "1",
		FormDataID:    "2",
		ObjectiveSections: &model.Results[model.ObjectiveSection]{Results: []model.ObjectiveSection{
			{SectionName: "Goals"},
		}},
	}

	res, err := Normalize(doc, model.FormKind360, "me")
	require.NoError(t, err)
	require.Len(t, res.Sections, 1)
	assert.Equal(t, "obj_0", res.Sections[0].LocalID)
	assert.Equal(t, model.NoSectionIndex, res.Sections[0].BackendSectionIndex)
	assert.Empty(t, res.Edits)

	res, err = Normalize(&model.RawDocument{}, model.FormKindPM, "me")
	require.NoError(t, err)
	assert.Empty(t, res.Sections)
}

func TestNormalize_InvalidInput(t *testing.T) {
	_, err := Normalize(nil, model.FormKindPM, "")
	assert.ErrorIs(t, err, ErrNilDocument)

	_, err = Normalize(&model.RawDocument{}, model.FormKind("180"), "")
	assert.Error(t, err)
}

func TestPercentOfMax(t *testing.T) {
	assert.Equal(t, 84.0, PercentOfMax(4.2))
	assert.Equal(t, 76.0, PercentOfMax(3.8))
	assert.Equal(t, 100.0, PercentOfMax(5))
	assert.Equal(t, 66.6, PercentOfMax(3.33))
}

func TestParseODataDate(t *testing.T) {
	assert.Equal(t, "2019-01-01", parseODataDate("/Date(1546300800000)/"))
	assert.Equal(t, "2019-01-01", parseODataDate("/Date(1546300800000+0000)/"))
	assert.Equal(t, "2020-02-02", parseODataDate("2020-02-02"))
}

func TestToMarkdown(t *testing.T) {
	assert.Equal(t, "", toMarkdown("   "))
	assert.Equal(t, "a b", toMarkdown("a&nbsp;b"))
	assert.Equal(t, "R&D <team> \"lead\"", toMarkdown("R&amp;D &lt;team&gt; &quot;lead&quot;"))
	assert.Contains(t, toMarkdown("<ul><li>one</li><li>two</li></ul>"), "one")
}
