package model

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// 评分量表为 1 到 5
const (
	RatingScaleMin = 1.0
	RatingScaleMax = 5.0
)

type Permission string

const (
	PermissionRead  Permission = "read"
	PermissionWrite Permission = "write"
	PermissionNone  Permission = "none"
)

// ParsePermission 把后端的权限字符串映射为枚举，未知值按 none 处理
func ParsePermission(s string) Permission {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "write":
		return PermissionWrite
	case "read":
		return PermissionRead
	default:
		return PermissionNone
	}
}

type Provenance string

const (
	ProvenanceSelf     Provenance = "self"
	ProvenanceOfficial Provenance = "official"
	ProvenanceOverall  Provenance = "overall"
	ProvenanceOthers   Provenance = "others"
	ProvenanceNA       Provenance = "na"
)

type Field string

const (
	FieldRating  Field = "rating"
	FieldComment Field = "comment"
)

func ParseField(s string) (Field, error) {
	switch Field(s) {
	case FieldRating, FieldComment:
		return Field(s), nil
	default:
		return "", fmt.Errorf("unknown field %q", s)
	}
}

// ReferenceRating 是其他评价人的评分，只用于参考展示
type ReferenceRating struct {
	UserID   string `json:"userId,omitempty"`
	FullName string `json:"fullName,omitempty"`
	Rating   string `json:"rating,omitempty"`
	Comment  string `json:"comment,omitempty"`
}

// EditRecord 是一个条目当前的评分/评语及其写权限与来源
type EditRecord struct {
	Rating            string     `json:"rating"`
	Comment           string     `json:"comment"`
	RatingKey         string     `json:"ratingKey,omitempty"`
	CommentKey        string     `json:"commentKey,omitempty"`
	RatingPermission  Permission `json:"ratingPermission"`
	CommentPermission Permission `json:"commentPermission"`
	RatingProvenance  Provenance `json:"ratingProvenance"`
	AuthorUserID      string     `json:"authorUserId"`

	// 加载时的原值，用于判断是否被修改
	OriginalRating  string `json:"originalRating,omitempty"`
	OriginalComment string `json:"originalComment,omitempty"`

	SelfRating  string            `json:"selfRating,omitempty"`
	SelfComment string            `json:"selfComment,omitempty"`
	Others      []ReferenceRating `json:"others,omitempty"`
}

// PermissionFor 返回指定字段的权限
func (r EditRecord) PermissionFor(f Field) Permission {
	if f == FieldRating {
		return r.RatingPermission
	}
	return r.CommentPermission
}

// Writable 报告记录是否至少有一个字段可写
func (r EditRecord) Writable() bool {
	return r.RatingPermission == PermissionWrite || r.CommentPermission == PermissionWrite
}

// RatingChanged 报告评分相对原值是否有变化（按数值比较）
func (r EditRecord) RatingChanged() bool {
	return !RatingsEqual(r.Rating, r.OriginalRating)
}

func (r EditRecord) CommentChanged() bool {
	return r.Comment != r.OriginalComment
}

// NormalizeRating 把源数据中的评分转为最短浮点字符串，"3.50" -> "3.5"，"4" -> "4"。
// 空值或无法解析时返回空串。
func NormalizeRating(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return ""
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// FormatRating 按写回格式输出一位小数，"4" -> "4.0"。
// 非有限值或超出量表范围的评分返回错误。
func FormatRating(value string) (string, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return "", fmt.Errorf("invalid rating %q: %w", value, err)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f < RatingScaleMin || f > RatingScaleMax {
		return "", fmt.Errorf("rating %q is outside the %g-%g scale", value, RatingScaleMin, RatingScaleMax)
	}
	return strconv.FormatFloat(f, 'f', 1, 64), nil
}

// RatingsEqual 按数值比较两个评分，两者都为空时相等
func RatingsEqual(a, b string) bool {
	na, nb := NormalizeRating(a), NormalizeRating(b)
	if na == "" || nb == "" {
		return strings.TrimSpace(a) == strings.TrimSpace(b)
	}
	return na == nb
}
