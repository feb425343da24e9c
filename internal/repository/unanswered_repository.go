package repository

import (
	"context"

	"gorm.io/gorm"

	"kb-messenger-bot/internal/model"
)

// UnansweredRepository 持久化机器人没能回答的问题。
type UnansweredRepository interface {
	Create(ctx context.Context, q *model.UnansweredQuery) error
	FindRecent(ctx context.Context, limit int) ([]model.UnansweredQuery, error)
}

type unansweredRepository struct {
	db *gorm.DB
}

// NewUnansweredRepository 创建一个新的 UnansweredRepository 实例。
func NewUnansweredRepository(db *gorm.DB) UnansweredRepository {
	return &unansweredRepository{db: db}
}

// Create 写入一条记录。ID 相同的重复投递（例如 Kafka 重放）会被忽略。
func (r *unansweredRepository) Create(ctx context.Context, q *model.UnansweredQuery) error {
	var existing int64
	if err := r.db.WithContext(ctx).Model(&model.UnansweredQuery{}).Where("id = ?", q.ID).Count(&existing).Error; err != nil {
		return err
	}
	if existing > 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(q).Error
}

// FindRecent 按时间倒序返回最近的记录。
func (r *unansweredRepository) FindRecent(ctx context.Context, limit int) ([]model.UnansweredQuery, error) {
	var out []model.UnansweredQuery
	err := r.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&out).Error
	return out, err
}
