// Package handover 维护每个用户“机器人回复 / 人工接管”的状态。
//
// 人工模式只有一个固定长度的滑动窗口：管理员发出非机器人消息时进入，
// 窗口内用户再发消息会顺延，窗口过期后在下一次读取时惰性地回到机器人模式。
package handover

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"kb-messenger-bot/internal/model"
	"kb-messenger-bot/pkg/log"
)

// DefaultWindow 是人工模式的默认时长。
const DefaultWindow = 60 * time.Second

const lockStripes = 64

// Store 持久化接管记录。实现只负责存取，过期判断由 Tracker 完成。
type Store interface {
	Get(ctx context.Context, userID string) (model.HandoverRecord, bool, error)
	Put(ctx context.Context, rec model.HandoverRecord) error
	// Extend 仅在记录仍存在时覆盖它，返回是否写入。
	Extend(ctx context.Context, rec model.HandoverRecord) (bool, error)
	Delete(ctx context.Context, userID string) error
}

// Tracker 是接管状态机。同一用户的读-改-写在分段锁内完成，不同用户互不阻塞。
type Tracker struct {
	store  Store
	window time.Duration
	now    func() time.Time
	locks  [lockStripes]sync.Mutex
}

// Option 配置 Tracker。
type Option func(*Tracker)

// WithClock 替换时钟，测试用。
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// NewTracker 创建 Tracker。window <= 0 时使用 DefaultWindow。
func NewTracker(store Store, window time.Duration, opts ...Option) *Tracker {
	if window <= 0 {
		window = DefaultWindow
	}
	t := &Tracker{store: store, window: window, now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// IsHumanMode 判断用户当前是否由人工接管。已过期的记录会在这里被清除。
// 存储出错时按机器人模式处理。
func (t *Tracker) IsHumanMode(ctx context.Context, userID string) bool {
	mu := t.lockFor(userID)
	mu.Lock()
	defer mu.Unlock()

	_, human := t.current(ctx, userID)
	return human
}

// SetHumanMode 进入（或重新进入）人工模式，到期时间为 now + window。
func (t *Tracker) SetHumanMode(ctx context.Context, userID string) {
	mu := t.lockFor(userID)
	mu.Lock()
	defer mu.Unlock()

	rec := model.HandoverRecord{UserID: userID, ExpiresAt: t.now().Add(t.window)}
	if err := t.store.Put(ctx, rec); err != nil {
		log.Errorf("[Handover] 写入人工模式失败, user: %s, error: %v", userID, err)
		return
	}
	log.Infow("[Handover] 人工模式已开启", "user", userID, "expiresAt", rec.ExpiresAt)
}

// RefreshHumanMode 在用户处于人工模式时把窗口顺延到 now + window，并返回 true；
// 处于机器人模式时什么都不做并返回 false，不会因此进入人工模式。
func (t *Tracker) RefreshHumanMode(ctx context.Context, userID string) bool {
	mu := t.lockFor(userID)
	mu.Lock()
	defer mu.Unlock()

	if _, human := t.current(ctx, userID); !human {
		return false
	}
	rec := model.HandoverRecord{UserID: userID, ExpiresAt: t.now().Add(t.window)}
	ok, err := t.store.Extend(ctx, rec)
	if err != nil {
		log.Errorf("[Handover] 顺延人工模式失败, user: %s, error: %v", userID, err)
		return true
	}
	if ok {
		log.Debugf("[Handover] 人工模式顺延至 %s, user: %s", rec.ExpiresAt.Format(time.RFC3339), userID)
	}
	return true
}

// Status 返回用户的当前状态，供管理接口查询。
func (t *Tracker) Status(ctx context.Context, userID string) model.HandoverStatus {
	mu := t.lockFor(userID)
	mu.Lock()
	defer mu.Unlock()

	rec, human := t.current(ctx, userID)
	if !human {
		return model.HandoverStatus{UserID: userID, Mode: model.ModeBot}
	}
	expires := rec.ExpiresAt
	return model.HandoverStatus{UserID: userID, Mode: model.ModeHuman, ExpiresAt: &expires}
}

// current 必须在持有用户锁时调用。
func (t *Tracker) current(ctx context.Context, userID string) (model.HandoverRecord, bool) {
	rec, found, err := t.store.Get(ctx, userID)
	if err != nil {
		log.Errorf("[Handover] 读取接管状态失败, user: %s, error: %v", userID, err)
		return model.HandoverRecord{}, false
	}
	if !found {
		return model.HandoverRecord{}, false
	}
	if !rec.ActiveAt(t.now()) {
		if err := t.store.Delete(ctx, userID); err != nil {
			log.Warnw("[Handover] 清除过期记录失败", "user", userID, "error", err)
		}
		log.Infow("[Handover] 人工模式已过期，机器人恢复回复", "user", userID)
		return model.HandoverRecord{}, false
	}
	return rec, true
}

func (t *Tracker) lockFor(userID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return &t.locks[h.Sum32()%lockStripes]
}
