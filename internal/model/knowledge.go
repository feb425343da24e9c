// Package model 包含了应用的数据模型定义。
package model

import (
	"errors"
	"strings"
)

// ErrMalformedMedia 表示 Menu/Carousel 的结构化内容无法解析或校验失败。
var ErrMalformedMedia = errors.New("malformed media payload")

// NoAnswer 是知识库中表示“没有文字答案”的占位值。
const NoAnswer = "-"

// ContentType 是知识条目的内容类型。
type ContentType string

const (
	ContentText     ContentType = "text"
	ContentImage    ContentType = "image"
	ContentMenu     ContentType = "menu"
	ContentCarousel ContentType = "carousel"
)

// ParseContentType 解析 type 列，空值或未知值按 text 处理。
func ParseContentType(s string) ContentType {
	switch ContentType(strings.ToLower(strings.TrimSpace(s))) {
	case ContentImage:
		return ContentImage
	case ContentMenu:
		return ContentMenu
	case ContentCarousel:
		return ContentCarousel
	default:
		return ContentText
	}
}

// KnowledgeRow 是数据源中的一行原始数据，所有列都是字符串。
// 同一结构同时用于 MySQL 表（gorm）与 Elasticsearch 文档（json）。
type KnowledgeRow struct {
	ID       uint   `gorm:"primaryKey" json:"-"`
	Category string `gorm:"column:category;size:100;index;not null" json:"category"`
	Keyword  string `gorm:"column:keyword;type:text" json:"keyword"`
	Question string `gorm:"column:question;type:text" json:"question"`
	Answer   string `gorm:"column:answer;type:text" json:"answer"`
	Note     string `gorm:"column:note;type:text" json:"note"`
	Active   string `gorm:"column:active;size:16" json:"active"`
	Type     string `gorm:"column:type;size:16" json:"type"`
	Media    string `gorm:"column:media;type:text" json:"media"`
}

// KnowledgeEntry 是解码后的知识条目，在核心逻辑内只读。
type KnowledgeEntry struct {
	Keywords []string    `json:"keywords"`
	Question string      `json:"question"`
	Answer   string      `json:"answer"`
	Note     string      `json:"note,omitempty"`
	Type     ContentType `json:"type"`
	// Content 为 nil 表示没有可发送的载荷（例如 media 为空）。
	Content Content `json:"content,omitempty"`
	// MediaErr 非空表示结构化内容在解码时被判定为格式错误。
	MediaErr error `json:"-"`
	Active   bool  `json:"active"`
}

// HasAnswerText 判断 answer 是否带有可发送的文字。
func (e KnowledgeEntry) HasAnswerText() bool {
	a := strings.TrimSpace(e.Answer)
	return a != "" && a != NoAnswer
}

// Content 是按类型区分的内容载荷：TextContent、ImageContent、MenuContent、CarouselContent。
type Content interface {
	ContentType() ContentType
}

// TextContent 纯文字。
type TextContent struct {
	Text string `json:"text"`
}

// ImageContent 图片 URL。
type ImageContent struct {
	URL string `json:"url"`
}

// MenuContent 按钮模板。Text 为空时由渲染层使用默认标题。
type MenuContent struct {
	Text    string   `json:"text,omitempty"`
	Buttons []Button `json:"buttons"`
}

// CarouselContent 通用模板（横向滑动卡片）。
type CarouselContent struct {
	Elements []Element `json:"elements"`
}

func (TextContent) ContentType() ContentType     { return ContentText }
func (ImageContent) ContentType() ContentType    { return ContentImage }
func (MenuContent) ContentType() ContentType     { return ContentMenu }
func (CarouselContent) ContentType() ContentType { return ContentCarousel }

// Button 是 Messenger 模板中的按钮。
type Button struct {
	Type    string `json:"type" validate:"required,oneof=postback web_url phone_number"`
	Title   string `json:"title" validate:"required,max=20"`
	URL     string `json:"url,omitempty" validate:"required_if=Type web_url"`
	Payload string `json:"payload,omitempty" validate:"required_unless=Type web_url"`
}

// Element 是通用模板中的一张卡片。
type Element struct {
	Title         string         `json:"title" validate:"required,max=80"`
	Subtitle      string         `json:"subtitle,omitempty" validate:"max=80"`
	ImageURL      string         `json:"image_url,omitempty" validate:"omitempty,url"`
	DefaultAction *DefaultAction `json:"default_action,omitempty"`
	Buttons       []Button       `json:"buttons,omitempty" validate:"max=3,dive"`
}

// DefaultAction 是点击卡片时打开的链接。
type DefaultAction struct {
	Type string `json:"type" validate:"required,eq=web_url"`
	URL  string `json:"url" validate:"required,url"`
}
