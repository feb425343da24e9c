package handover

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"kb-messenger-bot/internal/model"
)

// MemoryStore 是进程内的接管记录存储。
//
// 逻辑过期由 Tracker 按记录的 ExpiresAt 判断；retention 只控制 go-cache 何时可以物理回收条目，
// cleanupInterval 为 0 时不启动 go-cache 的清理协程。
type MemoryStore struct {
	items *gocache.Cache
}

// NewMemoryStore 创建内存存储。retention <= 0 表示条目只会在读取时被删除。
func NewMemoryStore(retention, cleanupInterval time.Duration) *MemoryStore {
	if retention <= 0 {
		retention = gocache.NoExpiration
	}
	return &MemoryStore{items: gocache.New(retention, cleanupInterval)}
}

func (s *MemoryStore) Get(_ context.Context, userID string) (model.HandoverRecord, bool, error) {
	v, found := s.items.Get(userID)
	if !found {
		return model.HandoverRecord{}, false, nil
	}
	return v.(model.HandoverRecord), true, nil
}

func (s *MemoryStore) Put(_ context.Context, rec model.HandoverRecord) error {
	s.items.Set(rec.UserID, rec, gocache.DefaultExpiration)
	return nil
}

func (s *MemoryStore) Extend(_ context.Context, rec model.HandoverRecord) (bool, error) {
	if err := s.items.Replace(rec.UserID, rec, gocache.DefaultExpiration); err != nil {
		return false, nil
	}
	return true, nil
}

func (s *MemoryStore) Delete(_ context.Context, userID string) error {
	s.items.Delete(userID)
	return nil
}

// Len 返回当前保存的记录数（包含逻辑上已过期但尚未读取的记录）。
func (s *MemoryStore) Len() int {
	return s.items.ItemCount()
}
