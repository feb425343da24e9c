package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"kb-messenger-bot/internal/knowledge"
	"kb-messenger-bot/internal/model"
)

// KnowledgeRepository 从 MySQL 表读取知识条目，category 列区分分类。
// 它实现了 knowledge.Source。
type KnowledgeRepository interface {
	Fetch(ctx context.Context, category string) ([]model.KnowledgeRow, error)
	Categories(ctx context.Context) ([]string, error)
}

// knowledgeRepository 是 KnowledgeRepository 接口的 GORM 实现。
type knowledgeRepository struct {
	db    *gorm.DB
	table string
}

// NewKnowledgeRepository 创建一个新的 KnowledgeRepository 实例。
func NewKnowledgeRepository(db *gorm.DB, table string) KnowledgeRepository {
	return &knowledgeRepository{db: db, table: table}
}

// Fetch 按主键顺序读取分类下的全部行。分类没有任何行时视为不存在。
func (r *knowledgeRepository) Fetch(ctx context.Context, category string) ([]model.KnowledgeRow, error) {
	var rows []model.KnowledgeRow
	err := r.db.WithContext(ctx).Table(r.table).
		Where("category = ?", category).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("%w: %v", knowledge.ErrSourceUnavailable, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s", knowledge.ErrCategoryNotFound, category)
	}
	return rows, nil
}

// Categories 返回表中出现过的所有分类。
func (r *knowledgeRepository) Categories(ctx context.Context) ([]string, error) {
	var categories []string
	err := r.db.WithContext(ctx).Table(r.table).Distinct().Pluck("category", &categories).Error
	return categories, err
}
