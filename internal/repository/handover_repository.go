// Package repository 提供了数据访问层的实现。
package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"kb-messenger-bot/internal/model"
)

// 接管记录在 Redis 中的物理保留时间为窗口的 retentionFactor 倍，且不少于 minHandoverRetention。
// 逻辑过期由 Tracker 按 ExpiresAt 判断。
const (
	retentionFactor      = 10
	minHandoverRetention = 10 * time.Minute
)

// HandoverRetention 返回给定接管窗口对应的物理保留时间。
func HandoverRetention(window time.Duration) time.Duration {
	return max(window*retentionFactor, minHandoverRetention)
}

// HandoverRepository 把接管记录保存在 Redis 中，多实例部署时共享状态。
// 它实现了 handover.Store。
type HandoverRepository struct {
	redisClient *redis.Client
	prefix      string
	retention   time.Duration
}

// NewHandoverRepository 创建一个新的 HandoverRepository 实例，window 是接管窗口长度。
func NewHandoverRepository(redisClient *redis.Client, prefix string, window time.Duration) *HandoverRepository {
	return &HandoverRepository{redisClient: redisClient, prefix: prefix, retention: HandoverRetention(window)}
}

func (r *HandoverRepository) key(userID string) string {
	return r.prefix + userID
}

// Get 读取用户的接管记录。
func (r *HandoverRepository) Get(ctx context.Context, userID string) (model.HandoverRecord, bool, error) {
	data, err := r.redisClient.Get(ctx, r.key(userID)).Bytes()
	if err == redis.Nil {
		return model.HandoverRecord{}, false, nil
	}
	if err != nil {
		return model.HandoverRecord{}, false, fmt.Errorf("failed to get handover record: %w", err)
	}
	var rec model.HandoverRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return model.HandoverRecord{}, false, fmt.Errorf("failed to unmarshal handover record: %w", err)
	}
	return rec, true, nil
}

// Put 写入（覆盖）接管记录。
func (r *HandoverRepository) Put(ctx context.Context, rec model.HandoverRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal handover record: %w", err)
	}
	if err := r.redisClient.Set(ctx, r.key(rec.UserID), data, r.retention).Err(); err != nil {
		return fmt.Errorf("failed to set handover record: %w", err)
	}
	return nil
}

// Extend 仅在 key 存在时覆盖记录（SET XX），不会让已被删除的记录复活。
func (r *HandoverRepository) Extend(ctx context.Context, rec model.HandoverRecord) (bool, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("failed to marshal handover record: %w", err)
	}
	ok, err := r.redisClient.SetXX(ctx, r.key(rec.UserID), data, r.retention).Result()
	if err != nil {
		return false, fmt.Errorf("failed to extend handover record: %w", err)
	}
	return ok, nil
}

// Delete 删除用户的接管记录。
func (r *HandoverRepository) Delete(ctx context.Context, userID string) error {
	if err := r.redisClient.Del(ctx, r.key(userID)).Err(); err != nil {
		return fmt.Errorf("failed to delete handover record: %w", err)
	}
	return nil
}
