package normalizer

import (
	"html"
	"regexp"
	"strconv"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"

	"review-sync-backend/pkg/logger"
)

var (
	tagPattern       = regexp.MustCompile(`<[^>]*>`)
	odataDatePattern = regexp.MustCompile(`/Date\((-?\d+)`)
)

// toMarkdown 把分区描述里的富文本 HTML 转为 Markdown，只用于展示
func toMarkdown(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "<") {
		return plainText(raw)
	}

	md, err := htmltomarkdown.ConvertString(raw)
	if err != nil {
		logger.Warnf("failed to convert description to markdown: %v", err)
		return plainText(tagPattern.ReplaceAllString(raw, ""))
	}
	return strings.TrimSpace(md)
}

// plainText 解码 HTML 实体，&nbsp; 视为普通空格
func plainText(s string) string {
	s = html.UnescapeString(s)
	return strings.TrimSpace(strings.ReplaceAll(s, "\u00a0", " "))
}

// parseODataDate 解析 "/Date(1546300800000)/" 形式的日期，返回 yyyy-mm-dd
func parseODataDate(raw string) string {
	m := odataDatePattern.FindStringSubmatch(raw)
	if m == nil {
		return raw
	}
	ms, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return raw
	}
	return time.UnixMilli(ms).UTC().Format("2006-01-02")
}
