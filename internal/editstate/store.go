// Package editstate holds the in-progress edits of one open form.
//
// Store is the single write gate for edits: a field whose permission is not
// write is never changed, no matter who calls Set.
package editstate

import (
	"sort"
	"sync"

	"review-sync-backend/internal/model"
)

type Store struct {
	mu      sync.RWMutex
	records map[string]model.EditRecord
	touched map[string]bool
}

// New 以归一化阶段得到的初始记录创建 Store，入参会被复制
func New(initial map[string]model.EditRecord) *Store {
	s := &Store{
		records: make(map[string]model.EditRecord, len(initial)),
		touched: make(map[string]bool),
	}
	for k, r := range initial {
		s.records[k] = cloneRecord(r)
	}
	return s
}

func (s *Store) Get(key string) (model.EditRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[key]
	if !ok {
		return model.EditRecord{}, false
	}
	return cloneRecord(r), true
}

// Set 修改一个字段。键不存在或字段不可写时不做任何修改并返回 false。
func (s *Store) Set(key string, field model.Field, value string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[key]
	if !ok {
		return false
	}
	if r.PermissionFor(field) != model.PermissionWrite {
		return false
	}

	switch field {
	case model.FieldRating:
		r.Rating = value
	case model.FieldComment:
		r.Comment = value
	default:
		return false
	}

	s.records[key] = r
	s.touched[key] = true
	return true
}

// Touched 报告记录是否在本次会话中被成功修改过
func (s *Store) Touched(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.touched[key]
}

// Keys 返回排序后的全部键
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.records))
	for k := range s.records {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Snapshot 返回所有记录的副本
func (s *Store) Snapshot() map[string]model.EditRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]model.EditRecord, len(s.records))
	for k, r := range s.records {
		out[k] = cloneRecord(r)
	}
	return out
}

// CommitSnapshot 只把 snap 中已发送的值作为新的原值。
// 发送期间又被修改的字段保持原值不变，下次保存仍会发送。
func (s *Store) CommitSnapshot(snap map[string]model.EditRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k, sent := range snap {
		r, ok := s.records[k]
		if !ok {
			continue
		}
		if r.Rating == sent.Rating {
			r.OriginalRating = sent.Rating
		}
		if r.Comment == sent.Comment {
			r.OriginalComment = sent.Comment
		}
		s.records[k] = r
		if !r.RatingChanged() && !r.CommentChanged() {
			delete(s.touched, k)
		}
	}
}

func cloneRecord(r model.EditRecord) model.EditRecord {
	if r.Others != nil {
		others := make([]model.ReferenceRating, len(r.Others))
		copy(others, r.Others)
		r.Others = others
	}
	return r
}
