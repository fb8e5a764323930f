package model

// Metadata 是 OData v2 deep upsert 中每个实体携带的 __metadata
type Metadata struct {
	URI  string `json:"uri"`
	Type string `json:"type"`
}

// UpsertRatingComment 对应写回的 SFOData.FormUserRatingComment。
// Rating / Comment 为 nil 时字段不出现在 JSON 中，后端保留原值。
type UpsertRatingComment struct {
	Metadata   Metadata `json:"__metadata"`
	Rating     *string  `json:"rating,omitempty"`
	Comment    *string  `json:"comment,omitempty"`
	RatingKey  string   `json:"ratingKey,omitempty"`
	CommentKey string   `json:"commentKey,omitempty"`
}

// RatingTargets 是评分实体在父实体上的导航属性，按来源只会填其中一个
type RatingTargets struct {
	OfficialRating      *UpsertRatingComment  `json:"officialRating,omitempty"`
	SelfRatingComment   *UpsertRatingComment  `json:"selfRatingComment,omitempty"`
	OthersRatingComment []UpsertRatingComment `json:"othersRatingComment,omitempty"`
}

type UpsertItem struct {
	Metadata     Metadata `json:"__metadata"`
	ItemID       string   `json:"itemId"`
	SectionIndex int      `json:"sectionIndex"`
	RatingTargets
}

type UpsertSection struct {
	Metadata     Metadata     `json:"__metadata"`
	SectionIndex int          `json:"sectionIndex"`
	Objectives   []UpsertItem `json:"objectives,omitempty"`
	Competencies []UpsertItem `json:"competencies,omitempty"`
	CustomItems  []UpsertItem `json:"customItems,omitempty"`
	// 无条目的自定义分区直接在分区上写评语
	RatingTargets
}

type UpsertSummary struct {
	Metadata          Metadata             `json:"__metadata"`
	OverallFormRating *UpsertRatingComment `json:"overallFormRating,omitempty"`
	RatingTargets
}

// UpsertDocument 是提交到 /upsert 的嵌套文档
type UpsertDocument struct {
	Metadata           Metadata        `json:"__metadata"`
	FormContentID      string          `json:"formContentId"`
	FormDataID         string          `json:"formDataId"`
	ObjectiveSections  []UpsertSection `json:"objectiveSections,omitempty"`
	CompetencySections []UpsertSection `json:"competencySections,omitempty"`
	CustomSections     []UpsertSection `json:"customSections,omitempty"`
	SummarySection     *UpsertSummary  `json:"summarySection,omitempty"`
}

// Empty 报告文档是否没有任何需要保存的内容
func (d *UpsertDocument) Empty() bool {
	return len(d.ObjectiveSections) == 0 &&
		len(d.CompetencySections) == 0 &&
		len(d.CustomSections) == 0 &&
		d.SummarySection == nil
}

// UpsertResult 是 /upsert 返回的单个实体结果
type UpsertResult struct {
	Key        string `json:"key"`
	Status     string `json:"status"`
	EditStatus string `json:"editStatus"`
	Message    string `json:"message"`
	Index      int    `json:"index"`
	HTTPCode   int    `json:"httpCode"`
}

// OK 报告该实体是否写入成功
func (r UpsertResult) OK() bool {
	return r.Status == "OK"
}
