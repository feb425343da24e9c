package service

import (
	"kb-messenger-bot/internal/config"
	"kb-messenger-bot/internal/model"
)

// Renderer 把知识条目转换成要发送的消息序列。
type Renderer struct {
	texts config.BotTexts
}

// NewRenderer 创建 Renderer。
func NewRenderer(texts config.BotTexts) Renderer {
	return Renderer{texts: texts}
}

// Render 渲染单个条目：先发文字答案（menu 类型除外，它的文字在模板里），再发附件。
// 结构化内容格式错误时以固定的道歉文字代替附件。
func (r Renderer) Render(e model.KnowledgeEntry) []model.OutboundMessage {
	var out []model.OutboundMessage
	if e.Type != model.ContentMenu && e.HasAnswerText() {
		out = append(out, model.TextMessage(e.Answer))
	}

	if e.MediaErr != nil {
		switch e.Type {
		case model.ContentMenu:
			out = append(out, model.TextMessage(r.texts.MenuMalformed))
		case model.ContentCarousel:
			out = append(out, model.TextMessage(r.texts.CarouselMalformed))
		}
		return out
	}

	switch c := e.Content.(type) {
	case model.ImageContent:
		out = append(out, model.ImageMessage(c.URL))
	case model.MenuContent:
		text := c.Text
		if text == "" {
			text = r.texts.MenuTitle
		}
		out = append(out, model.ButtonTemplate(text, c.Buttons))
	case model.CarouselContent:
		out = append(out, model.GenericTemplate(c.Elements))
	}
	return out
}

// RenderAll 依次渲染多个条目。
func (r Renderer) RenderAll(entries []model.KnowledgeEntry) []model.OutboundMessage {
	var out []model.OutboundMessage
	for _, e := range entries {
		out = append(out, r.Render(e)...)
	}
	return out
}
