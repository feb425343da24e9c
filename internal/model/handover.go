package model

import "time"

// ConversationMode 表示某个用户当前由谁来回复。
type ConversationMode string

const (
	ModeBot   ConversationMode = "bot"
	ModeHuman ConversationMode = "human"
)

// HandoverRecord 是一个用户的人工接管记录。
type HandoverRecord struct {
	UserID    string    `json:"userId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// ActiveAt 判断记录在 now 时刻是否仍处于人工模式（到期时刻本身视为已过期）。
func (r HandoverRecord) ActiveAt(now time.Time) bool {
	return now.Before(r.ExpiresAt)
}

// HandoverStatus 是管理接口返回的状态。
type HandoverStatus struct {
	UserID    string           `json:"userId"`
	Mode      ConversationMode `json:"mode"`
	ExpiresAt *time.Time       `json:"expiresAt,omitempty"`
}
