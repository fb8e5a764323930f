package model

import (
	"fmt"
	"strconv"
	"strings"
)

// FormKind 区分单评价人 PM 表单和 360 多评价人表单
type FormKind string

const (
	FormKindPM  FormKind = "pm"
	FormKind360 FormKind = "360"
)

func ParseFormKind(s string) (FormKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pm", "":
		return FormKindPM, nil
	case "360":
		return FormKind360, nil
	default:
		return "", fmt.Errorf("unknown form kind %q", s)
	}
}

type SectionKind string

const (
	SectionIntroduction     SectionKind = "introduction"
	SectionUserInfo         SectionKind = "user_info"
	SectionObjectives       SectionKind = "objectives"
	SectionCompetencies     SectionKind = "competencies"
	SectionCustom           SectionKind = "custom"
	SectionSummary          SectionKind = "summary"
	SectionRaterRoster      SectionKind = "rater_roster"
	SectionRaterSummaryView SectionKind = "rater_summary_view"
)

// Editable 报告该类分区是否可能包含可写条目
func (k SectionKind) Editable() bool {
	switch k {
	case SectionObjectives, SectionCompetencies, SectionCustom, SectionSummary:
		return true
	default:
		return false
	}
}

// SummaryKey 是汇总分区 EditRecord 的固定键
const SummaryKey = "summary"

// NoSectionIndex 表示后端文档没有给出 sectionIndex
const NoSectionIndex = -1

// Section 是归一化后的分区。LocalID 与 BackendSectionIndex 属于两套编号，不可混用。
type Section struct {
	LocalID             string         `json:"id"`
	BackendSectionIndex int            `json:"sectionIndex"`
	Kind                SectionKind    `json:"kind"`
	Title               string         `json:"title"`
	Payload             SectionPayload `json:"payload"`
}

// SectionPayload 是按 Kind 区分的分区内容
type SectionPayload interface {
	isSectionPayload()
}

type IntroductionPayload struct {
	Description string `json:"description"`
}

type UserInfoPayload struct {
	UserID     string `json:"userId"`
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
	Title      string `json:"title"`
	Department string `json:"department"`
	HireDate   string `json:"hireDate,omitempty"`
}

// EntityOrigin 记录条目在后端的实体族，SKILL 分区虽被并入能力列表，写回时仍按自定义实体寻址
type EntityOrigin string

const (
	OriginObjective  EntityOrigin = "objective"
	OriginCompetency EntityOrigin = "competency"
	OriginCustom     EntityOrigin = "custom"
)

type ItemsPayload struct {
	Origin        EntityOrigin `json:"origin"`
	AttributeType string       `json:"attributeType,omitempty"`
	Weight        string       `json:"weight,omitempty"`
	Description   string       `json:"description,omitempty"`
	Items         []Item       `json:"items"`
	// FreeTextKey 仅在无条目的自定义分区上设置，值等于分区 LocalID
	FreeTextKey string `json:"freeTextKey,omitempty"`
}

type SummaryPayload struct {
	Key string `json:"key"`
}

type RosterEntry struct {
	Category  string `json:"category"`
	UserID    string `json:"userId,omitempty"`
	FullName  string `json:"fullName"`
	Status    string `json:"status"`
	Completed bool   `json:"completed"`
}

type RaterRosterPayload struct {
	Raters []RosterEntry `json:"raters"`
}

// RaterAverage 是按评价人类别汇总的平均分，仅用于展示
type RaterAverage struct {
	Category     string  `json:"category"`
	Rating       float64 `json:"rating"`
	PercentOfMax float64 `json:"percentOfMax"`
}

// Percent 以 "84%" 形式返回占满分的比例
func (a RaterAverage) Percent() string {
	return strconv.FormatFloat(a.PercentOfMax, 'f', -1, 64) + "%"
}

type RaterSummaryPayload struct {
	MaxScale float64        `json:"maxScale"`
	Averages []RaterAverage `json:"averages"`
}

func (IntroductionPayload) isSectionPayload() {}
func (UserInfoPayload) isSectionPayload()     {}
func (ItemsPayload) isSectionPayload()        {}
func (SummaryPayload) isSectionPayload()      {}
func (RaterRosterPayload) isSectionPayload()  {}
func (RaterSummaryPayload) isSectionPayload() {}

// Item 是分区内可评分的单元
type Item struct {
	Key         string `json:"key"`
	ItemID      string `json:"itemId"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	// Positional 为 true 时 ItemID 是位置序号而非后端 ID，不能用于写回寻址
	Positional bool `json:"positional,omitempty"`
}

// ItemKey 组合 EditRecord 键 {sectionId}_{itemId}
func ItemKey(sectionID, itemID string) string {
	return sectionID + "_" + itemID
}

// FormIdentity 是写回时所有实体键共享的表单标识
type FormIdentity struct {
	FormContentID int64    `json:"formContentId"`
	FormDataID    int64    `json:"formDataId"`
	Kind          FormKind `json:"formKind"`
}

func (id FormIdentity) Validate() error {
	if id.FormContentID <= 0 {
		return fmt.Errorf("formContentId must be positive, got %d", id.FormContentID)
	}
	if id.FormDataID <= 0 {
		return fmt.Errorf("formDataId must be positive, got %d", id.FormDataID)
	}
	return nil
}

// ProcessStep 是路由图中的一个流程步骤，只读展示
type ProcessStep struct {
	StepName     string `json:"stepName"`
	Current      bool   `json:"current"`
	Completed    bool   `json:"completed"`
	AssigneeName string `json:"assigneeName,omitempty"`
}

type CurrentUser struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
}

type FormSummary struct {
	FormContentID string `json:"formContentId"`
	FormDataID    string `json:"formDataId"`
	FormTitle     string `json:"formTitle"`
	CurrentStep   string `json:"currentStep"`
	LastModified  string `json:"lastModified,omitempty"`
}

type FormFolder struct {
	FolderID   string        `json:"folderId"`
	FolderName string        `json:"folderName"`
	Forms      []FormSummary `json:"forms"`
}
