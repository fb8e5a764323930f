package sfclient

import (
	"sync"

	"golang.org/x/sync/singleflight"
)

// Session 持有 AppRouter 签发的 CSRF token。
// token 在第一次写请求（或 Prefetch）时懒加载，被拒绝时失效，不做持久化。
type Session struct {
	mu    sync.Mutex
	token string

	// 并发的写请求共享同一次 token 获取
	fetch singleflight.Group
}

func NewSession() *Session {
	return &Session{}
}

// Token 返回当前缓存的 token，未获取时为空
func (s *Session) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// Reset 清空缓存的 token
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
}

func (s *Session) set(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

// invalidate 仅当缓存的仍是被拒绝的那个 token 时才清空，
// 避免把其他请求刚刷新的 token 也丢掉
func (s *Session) invalidate(rejected string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == rejected {
		s.token = ""
	}
}
