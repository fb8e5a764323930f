package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// FlexString 接受 JSON 字符串、数字或 null。
// OData v2 把 Edm.Int64 / Edm.Decimal 编码为字符串，但部分租户返回数字。
type FlexString string

func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("flex string: %w", err)
	}
	*f = FlexString(n.String())
	return nil
}

func (f FlexString) String() string {
	return string(f)
}

// Int 返回整数值；空值或非法值时 ok 为 false
func (f FlexString) Int() (int, bool) {
	if f == "" {
		return 0, false
	}
	n, err := strconv.Atoi(string(f))
	if err != nil {
		return 0, false
	}
	return n, true
}

// Results 对应 OData v2 的集合包装 {"results": [...]}
type Results[T any] struct {
	Results []T `json:"results"`
}

// Items 允许在 nil 包装上安全取值
func (r *Results[T]) Items() []T {
	if r == nil {
		return nil
	}
	return r.Results
}

// ODataEnvelope 是 OData v2 verbose JSON 的外层 {"d": ...}
type ODataEnvelope struct {
	D json.RawMessage `json:"d"`
}

// RatingComment 对应 SFOData.FormUserRatingComment
type RatingComment struct {
	Rating            FlexString `json:"rating"`
	Comment           string     `json:"comment"`
	RatingKey         string     `json:"ratingKey"`
	CommentKey        string     `json:"commentKey"`
	RatingPermission  string     `json:"ratingPermission"`
	CommentPermission string     `json:"commentPermission"`
	RatingType        string     `json:"ratingType"`
	UserID            string     `json:"userId"`
	FullName          string     `json:"fullName"`
	// Self 由后端在 360 表单中标记当前评价人自己的条目
	Self bool `json:"self"`
}

// FormItem 是目标、能力或自定义条目的公共结构
type FormItem struct {
	ItemID              FlexString             `json:"itemId"`
	Name                string                 `json:"name"`
	Description         string                 `json:"description"`
	Weight              FlexString             `json:"weight"`
	SelfRatingComment   *RatingComment         `json:"selfRatingComment"`
	OfficialRating      *RatingComment         `json:"officialRating"`
	OthersRatingComment *Results[RatingComment] `json:"othersRatingComment"`
}

type IntroductionSection struct {
	SectionName        string     `json:"sectionName"`
	SectionIndex       FlexString `json:"sectionIndex"`
	SectionDescription string     `json:"sectionDescription"`
}

type UserInformationSection struct {
	SectionName  string     `json:"sectionName"`
	SectionIndex FlexString `json:"sectionIndex"`
}

type SubjectUser struct {
	UserID     string `json:"userId"`
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
	Title      string `json:"title"`
	Department string `json:"department"`
	HireDate   string `json:"hireDate"`
}

type ObjectiveSection struct {
	SectionName        string             `json:"sectionName"`
	SectionIndex       FlexString         `json:"sectionIndex"`
	SectionWeight      FlexString         `json:"sectionWeight"`
	SectionDescription string             `json:"sectionDescription"`
	Objectives         *Results[FormItem] `json:"objectives"`
}

type CompetencySection struct {
	SectionName        string             `json:"sectionName"`
	SectionIndex       FlexString         `json:"sectionIndex"`
	SectionWeight      FlexString         `json:"sectionWeight"`
	SectionDescription string             `json:"sectionDescription"`
	Competencies       *Results[FormItem] `json:"competencies"`
}

// CustomSection 覆盖 STRENGTH / DEVELOPMENT / SKILL 等自定义分区。
// 没有条目的自定义分区把评语直接挂在分区上。
type CustomSection struct {
	SectionName         string                 `json:"sectionName"`
	SectionIndex        FlexString             `json:"sectionIndex"`
	SectionWeight       FlexString             `json:"sectionWeight"`
	SectionDescription  string                 `json:"sectionDescription"`
	AttributeType       string                 `json:"attributeType"`
	CustomItems         *Results[FormItem]     `json:"customItems"`
	SelfRatingComment   *RatingComment         `json:"selfRatingComment"`
	OfficialRating      *RatingComment         `json:"officialRating"`
	OthersRatingComment *Results[RatingComment] `json:"othersRatingComment"`
}

type SummarySection struct {
	SectionName         string                 `json:"sectionName"`
	SectionIndex        FlexString             `json:"sectionIndex"`
	OverallFormRating   *RatingComment         `json:"overallFormRating"`
	SelfRatingComment   *RatingComment         `json:"selfRatingComment"`
	OfficialRating      *RatingComment         `json:"officialRating"`
	OthersRatingComment *Results[RatingComment] `json:"othersRatingComment"`
}

type Rater struct {
	Category            string `json:"category"`
	ParticipantID       string `json:"participantID"`
	ParticipantFullName string `json:"participantFullName"`
	Status              string `json:"status"`
}

type RaterSection struct {
	SectionName   string          `json:"sectionName"`
	SectionIndex  FlexString      `json:"sectionIndex"`
	Form360Raters *Results[Rater] `json:"form360Raters"`
}

type RaterRating struct {
	RaterCategory string     `json:"raterCategory"`
	Rating        FlexString `json:"rating"`
}

type SummaryViewSection struct {
	SectionName  string                `json:"sectionName"`
	SectionIndex FlexString            `json:"sectionIndex"`
	FormRaters   *Results[RaterRating] `json:"formRaters"`
}

type FormHeader struct {
	FormDataID           FlexString `json:"formDataId"`
	FormTitle            string     `json:"formTitle"`
	FormSubjectID        string     `json:"formSubjectId"`
	CurrentStep          string     `json:"currentStep"`
	FormLastModifiedDate string     `json:"formLastModifiedDate"`
}

// RawDocument 是 FormContent 与 Form{PM,360}ReviewContentDetail 合并后的文档。
// 任一子分区都可能缺失（分步加载超时），缺失即视为不存在。
type RawDocument struct {
	FormContentID   FlexString  `json:"formContentId"`
	FormDataID      FlexString  `json:"formDataId"`
	FormTitle       string      `json:"formTitle"`
	SubjectUserID   string      `json:"subjectUserId"`
	SubjectUserName string      `json:"subjectUserName"`
	FormHeader      *FormHeader `json:"formHeader"`
	SubjectUser     *SubjectUser `json:"subjectUser"`

	IntroductionSection    *IntroductionSection        `json:"introductionSection"`
	UserInformationSection *UserInformationSection     `json:"userInformationSection"`
	ObjectiveSections      *Results[ObjectiveSection]  `json:"objectiveSections"`
	CompetencySections     *Results[CompetencySection] `json:"competencySections"`
	CustomSections         *Results[CustomSection]     `json:"customSections"`
	SummarySection         *SummarySection             `json:"summarySection"`
	Form360RaterSection    *RaterSection               `json:"form360RaterSection"`
	SummaryViewSection     *SummaryViewSection         `json:"summaryViewSection"`
}

// Title 取表单标题，优先使用 formHeader
func (d *RawDocument) Title() string {
	if d.FormHeader != nil && d.FormHeader.FormTitle != "" {
		return d.FormHeader.FormTitle
	}
	return d.FormTitle
}

// SubjectID 取被评价人 ID
func (d *RawDocument) SubjectID() string {
	if d.FormHeader != nil && d.FormHeader.FormSubjectID != "" {
		return d.FormHeader.FormSubjectID
	}
	return d.SubjectUserID
}
