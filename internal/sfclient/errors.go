package sfclient

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

var (
	// ErrAuthExpired 表示重试一次后 token 仍被拒绝，或无法获取 token。
	// 调用方重新发起操作即可恢复。
	ErrAuthExpired = errors.New("authentication expired")

	// ErrUpsertRejected 表示 upsert 返回了非 OK 的实体结果
	ErrUpsertRejected = errors.New("upsert rejected")

	ErrActionFailed = errors.New("backend action failed")
)

// TransportError 是与认证无关的网络或 HTTP 失败，不做重试
type TransportError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %v", e.Method, e.Path, e.Err)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// PartialLoadError 表示分步加载中有步骤失败，已加载的部分仍然返回
type PartialLoadError struct {
	Failed []string
	Err    error
}

func (e *PartialLoadError) Error() string {
	return fmt.Sprintf("partial load, failed parts [%s]: %v", strings.Join(e.Failed, ", "), e.Err)
}

func (e *PartialLoadError) Unwrap() error {
	return e.Err
}

// UpsertError 汇总被拒绝的实体，errors.Is(err, ErrUpsertRejected) 为 true
type UpsertError struct {
	Rejected []string
}

func (e *UpsertError) Error() string {
	return fmt.Sprintf("%v: %s", ErrUpsertRejected, strings.Join(e.Rejected, "; "))
}

func (e *UpsertError) Unwrap() error {
	return ErrUpsertRejected
}

const maxBodyExcerpt = 512

func excerpt(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxBodyExcerpt {
		cut := maxBodyExcerpt
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		return s[:cut] + "..."
	}
	return s
}
