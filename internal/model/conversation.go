// Package model 包含了应用的数据模型定义。
package model

import "time"

// ChatMessage 是测试控制台 websocket 上传输的单条消息。
type ChatMessage struct {
	Role       string      `json:"role"` // "user" 或 "bot"
	Content    string      `json:"content"`
	Attachment *Attachment `json:"attachment,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
}

// UnansweredQuery 记录一次机器人未能回答的提问，供知识库运营补充内容。
type UnansweredQuery struct {
	ID            string    `gorm:"primaryKey;size:36" json:"id"`
	SenderID      string    `gorm:"size:64;index;not null" json:"senderId"`
	Category      string    `gorm:"size:100;index" json:"category"`
	Text          string    `gorm:"type:text;not null" json:"text"`
	ExpandedQuery string    `gorm:"type:text" json:"expandedQuery,omitempty"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

func (UnansweredQuery) TableName() string {
	return "unanswered_queries"
}
