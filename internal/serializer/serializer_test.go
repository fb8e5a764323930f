package serializer

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"review-sync-backend/internal/editstate"
	"review-sync-backend/internal/model"
	"review-sync-backend/internal/normalizer"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const twoObjectivesDoc = `{
  "formContentId": "9001",
  "formDataId": "501",
  "objectiveSections": {"results": [{
    "sectionName": "Goals",
    "sectionIndex": 2,
    "objectives": {"results": [
      {"itemId": "101", "name": "Ship v2",
       "officialRating": {"rating": "3.5", "ratingKey": "rk101", "ratingPermission": "write", "commentPermission": "write"}},
      {"itemId": "102", "name": "Cut costs",
       "officialRating": {"rating": "2", "ratingPermission": "none", "commentPermission": "none"}}
    ]}
  }]}
}`

var pmIdentity = model.FormIdentity{FormContentID: 9001, FormDataID: 501, Kind: model.FormKindPM}

func normalize(t *testing.T, raw []byte, kind model.FormKind, actor string) (*normalizer.Result, *editstate.Store) {
	t.Helper()
	var doc model.RawDocument
	require.NoError(t, json.Unmarshal(raw, &doc))
	res, err := normalizer.Normalize(&doc, kind, actor)
	require.NoError(t, err)
	return res, editstate.New(res.Edits)
}

func fixture(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("..", "normalizer", "testdata", name))
	require.NoError(t, err)
	return data
}

func TestSerialize_OnlyWritableChangedItem(t *testing.T) {
	res, store := normalize(t, []byte(twoObjectivesDoc), model.FormKindPM, "mgr1")

	require.True(t, store.Set("obj_0_101", model.FieldRating, "5"))
	require.False(t, store.Set("obj_0_102", model.FieldRating, "5"))

	doc, err := Serialize(res.Sections, store, pmIdentity)
	require.NoError(t, err)

	require.Len(t, doc.ObjectiveSections, 1)
	sec := doc.ObjectiveSections[0]
	assert.Equal(t, "FormObjectiveSection(formContentId=9001L,formDataId=501L,sectionIndex=2)", sec.Metadata.URI)
	assert.Equal(t, "SFOData.FormObjectiveSection", sec.Metadata.Type)

	require.Len(t, sec.Objectives, 1)
	obj := sec.Objectives[0]
	assert.Equal(t, "101", obj.ItemID)
	assert.Equal(t, "FormObjective(formContentId=9001L,formDataId=501L,itemId=101L,sectionIndex=2)", obj.Metadata.URI)

	require.NotNil(t, obj.OfficialRating)
	require.NotNil(t, obj.OfficialRating.Rating)
	assert.Equal(t, "5.0", *obj.OfficialRating.Rating)
	assert.Equal(t, "rk101", obj.OfficialRating.RatingKey)
	assert.Equal(t,
		"FormUserRatingComment(formContentId=9001L,formDataId=501L,itemId=101L,ratingType='na',sectionIndex=2,userId='')",
		obj.OfficialRating.Metadata.URI)

	assert.Empty(t, doc.CompetencySections)
	assert.Nil(t, doc.SummarySection)
}

func TestSerialize_WireShape(t *testing.T) {
	res, store := normalize(t, []byte(twoObjectivesDoc), model.FormKindPM, "mgr1")
	require.True(t, store.Set("obj_0_101", model.FieldRating, "4"))

	doc, err := Serialize(res.Sections, store, pmIdentity)
	require.NoError(t, err)

	data, err := json.Marshal(doc)
	require.NoError(t, err)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(data, &wire))

	assert.Equal(t, "9001", wire["formContentId"])
	assert.Equal(t, "501", wire["formDataId"])
	meta := wire["__metadata"].(map[string]any)
	assert.Equal(t, "FormPMReviewContentDetail(formContentId=9001L,formDataId=501L)", meta["uri"])
	assert.Equal(t, "SFOData.FormPMReviewContentDetail", meta["type"])
	assert.NotContains(t, wire, "summarySection")
	assert.NotContains(t, wire, "customSections")

	objectives := wire["objectiveSections"].([]any)[0].(map[string]any)["objectives"].([]any)
	require.Len(t, objectives, 1)
	rating := objectives[0].(map[string]any)["officialRating"].(map[string]any)
	assert.Equal(t, "4.0", rating["rating"])
	assert.NotContains(t, objectives[0].(map[string]any), "selfRatingComment")
}

func TestSerialize_NoEditsRoundTrip(t *testing.T) {
	for _, tc := range []struct {
		file string
		kind model.FormKind
	}{
		{"pm_form.json", model.FormKindPM},
		{"form360.json", model.FormKind360},
	} {
		t.Run(tc.file, func(t *testing.T) {
			res, store := normalize(t, fixture(t, tc.file), tc.kind, "me")

			doc, err := Serialize(res.Sections, store, model.FormIdentity{FormContentID: 1, FormDataID: 2, Kind: tc.kind})
			require.NoError(t, err)
			assert.True(t, doc.Empty())
		})
	}
}

func TestSerialize_SameRatingIsNotAChange(t *testing.T) {
	res, store := normalize(t, []byte(twoObjectivesDoc), model.FormKindPM, "mgr1")
	require.True(t, store.Set("obj_0_101", model.FieldRating, "3.50"))

	doc, err := Serialize(res.Sections, store, pmIdentity)
	require.NoError(t, err)
	assert.True(t, doc.Empty())
}

func TestSerialize_CommentOnlyOmitsUnsetRating(t *testing.T) {
	raw := `{"objectiveSections": {"results": [{"sectionIndex": 1, "objectives": {"results": [
	  {"itemId": "5", "officialRating": {"commentKey": "ck5", "ratingPermission": "write", "commentPermission": "write"}}
	]}}]}}`
	res, store := normalize(t, []byte(raw), model.FormKindPM, "mgr1")
	require.True(t, store.Set("obj_0_5", model.FieldComment, "well done"))

	doc, err := Serialize(res.Sections, store, pmIdentity)
	require.NoError(t, err)

	rc := doc.ObjectiveSections[0].Objectives[0].OfficialRating
	assert.Nil(t, rc.Rating)
	require.NotNil(t, rc.Comment)
	assert.Equal(t, "well done", *rc.Comment)
	assert.Equal(t, "ck5", rc.CommentKey)
}

func TestSerialize_PMFixture(t *testing.T) {
	res, store := normalize(t, fixture(t, "pm_form.json"), model.FormKindPM, "mgr1")

	require.True(t, store.Set("comp_1_31", model.FieldRating, "5"))
	require.True(t, store.Set("custom_0", model.FieldComment, "very curious"))
	require.True(t, store.Set(model.SummaryKey, model.FieldRating, "4"))
	// 只读的 self 回退记录不可写
	require.False(t, store.Set("comp_0_7", model.FieldRating, "5"))

	doc, err := Serialize(res.Sections, store, pmIdentity)
	require.NoError(t, err)

	assert.Empty(t, doc.ObjectiveSections)
	assert.Empty(t, doc.CompetencySections, "SKILL items are written back as custom elements")
	require.Len(t, doc.CustomSections, 2)

	skill := doc.CustomSections[0]
	assert.Equal(t, "FormCustomSection(formContentId=9001L,formDataId=501L,sectionIndex=3)", skill.Metadata.URI)
	require.Len(t, skill.CustomItems, 1)
	assert.Equal(t, "FormCustomElement(formContentId=9001L,formDataId=501L,itemId=31L,sectionIndex=3)", skill.CustomItems[0].Metadata.URI)
	assert.Equal(t, "5.0", *skill.CustomItems[0].OfficialRating.Rating)
	assert.Nil(t, skill.CustomItems[0].OfficialRating.Comment, "comment permission is none")

	free := doc.CustomSections[1]
	assert.Equal(t, 4, free.SectionIndex)
	assert.Empty(t, free.CustomItems)
	require.NotNil(t, free.OfficialRating)
	assert.Equal(t, "very curious", *free.OfficialRating.Comment)
	assert.Equal(t, "ck4", free.OfficialRating.CommentKey)

	require.NotNil(t, doc.SummarySection)
	assert.Equal(t, "FormSummarySection(formContentId=9001L,formDataId=501L)", doc.SummarySection.Metadata.URI)
	overall := doc.SummarySection.OverallFormRating
	require.NotNil(t, overall)
	assert.Equal(t, "4.0", *overall.Rating)
	assert.Equal(t,
		"FormUserRatingComment(formContentId=9001L,formDataId=501L,itemId=0L,ratingType='overall',sectionIndex=5,userId='')",
		overall.Metadata.URI)
}

func TestSerialize_360Targets(t *testing.T) {
	res, store := normalize(t, fixture(t, "form360.json"), model.FormKind360, "me")
	id := model.FormIdentity{FormContentID: 7001, FormDataID: 601, Kind: model.FormKind360}

	require.True(t, store.Set("comp_0_21", model.FieldComment, "clear and kind"))
	require.True(t, store.Set("custom_0_41", model.FieldComment, "better"))
	require.False(t, store.Set("comp_0_22", model.FieldRating, "3"))

	doc, err := Serialize(res.Sections, store, id)
	require.NoError(t, err)

	assert.Equal(t, "Form360ReviewContentDetail(formContentId=7001L,formDataId=601L)", doc.Metadata.URI)

	require.Len(t, doc.CompetencySections, 1)
	comps := doc.CompetencySections[0].Competencies
	require.Len(t, comps, 1)
	assert.Equal(t, "21", comps[0].ItemID)
	require.Len(t, comps[0].OthersRatingComment, 1)
	others := comps[0].OthersRatingComment[0]
	assert.Equal(t, "clear and kind", *others.Comment)
	assert.Equal(t, "4.0", *others.Rating)
	assert.Contains(t, others.Metadata.URI, "userId='me'")
	assert.Nil(t, comps[0].OfficialRating)

	require.Len(t, doc.CustomSections, 1)
	self := doc.CustomSections[0].CustomItems[0].SelfRatingComment
	require.NotNil(t, self)
	assert.Nil(t, self.Rating, "rating is read-only without a ratingKey")
	assert.Equal(t, "better", *self.Comment)
}

func TestSerialize_ReadOnlySectionsNeverSerialized(t *testing.T) {
	sections := []model.Section{
		{LocalID: "intro", Kind: model.SectionIntroduction, Payload: model.IntroductionPayload{Description: "x"}},
		{LocalID: "user_info", Kind: model.SectionUserInfo, Payload: model.UserInfoPayload{UserID: "u"}},
		{LocalID: "raters", Kind: model.SectionRaterRoster, Payload: model.RaterRosterPayload{}},
		{LocalID: "summary_view", Kind: model.SectionRaterSummaryView, Payload: model.RaterSummaryPayload{MaxScale: 5}},
	}
	doc, err := Serialize(sections, editstate.New(nil), pmIdentity)
	require.NoError(t, err)
	assert.True(t, doc.Empty())
}

func TestSerialize_ContractErrors(t *testing.T) {
	res, store := normalize(t, []byte(twoObjectivesDoc), model.FormKindPM, "mgr1")

	_, err := Serialize(res.Sections, store, model.FormIdentity{FormDataID: 501})
	var ce *ContractError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "formIdentity", ce.Field)

	_, err = Serialize(res.Sections, nil, pmIdentity)
	assert.ErrorAs(t, err, &ce)

	// 缺少 sectionIndex 的分区一旦有修改就无法寻址
	raw := `{"objectiveSections": {"results": [{"objectives": {"results": [
	  {"itemId": "9", "officialRating": {"ratingPermission": "write"}}]}}]}}`
	res, store = normalize(t, []byte(raw), model.FormKindPM, "mgr1")
	require.True(t, store.Set("obj_0_9", model.FieldRating, "2"))
	_, err = Serialize(res.Sections, store, pmIdentity)
	require.ErrorAs(t, err, &ce)
	assert.Contains(t, ce.Reason, "sectionIndex")

	// 位置编号的条目不能写回
	raw = `{"objectiveSections": {"results": [{"sectionIndex": 1, "objectives": {"results": [
	  {"officialRating": {"ratingPermission": "write"}}]}}]}}`
	res, store = normalize(t, []byte(raw), model.FormKindPM, "mgr1")
	require.True(t, store.Set("obj_0_0", model.FieldRating, "2"))
	_, err = Serialize(res.Sections, store, pmIdentity)
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "item obj_0_0", ce.Field)

	// 非数字的 itemId 无法作为 Int64 键
	raw = `{"objectiveSections": {"results": [{"sectionIndex": 1, "objectives": {"results": [
	  {"itemId": "goal-a", "officialRating": {"ratingPermission": "write"}}]}}]}}`
	res, store = normalize(t, []byte(raw), model.FormKindPM, "mgr1")
	require.True(t, store.Set("obj_0_goal-a", model.FieldRating, "2"))
	_, err = Serialize(res.Sections, store, pmIdentity)
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "itemId", ce.Field)
}
