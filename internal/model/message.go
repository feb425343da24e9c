package model

// InboundEvent 是一条来自用户的文字消息。
type InboundEvent struct {
	SenderID string `json:"senderId"`
	Text     string `json:"text"`
}

// OutboundMessage 对应 Graph API send 接口中的 message 字段。
type OutboundMessage struct {
	Text       string      `json:"text,omitempty"`
	Attachment *Attachment `json:"attachment,omitempty"`
	Metadata   string      `json:"metadata,omitempty"`
}

// Attachment 是图片或模板附件。
type Attachment struct {
	Type    string            `json:"type"` // image | template
	Payload AttachmentPayload `json:"payload"`
}

type AttachmentPayload struct {
	URL          string    `json:"url,omitempty"`
	IsReusable   bool      `json:"is_reusable,omitempty"`
	TemplateType string    `json:"template_type,omitempty"` // button | generic
	Text         string    `json:"text,omitempty"`
	Buttons      []Button  `json:"buttons,omitempty"`
	Elements     []Element `json:"elements,omitempty"`
}

// TextMessage 构造纯文字消息。
func TextMessage(text string) OutboundMessage {
	return OutboundMessage{Text: text}
}

// ImageMessage 构造图片附件消息。
func ImageMessage(url string) OutboundMessage {
	return OutboundMessage{Attachment: &Attachment{
		Type:    "image",
		Payload: AttachmentPayload{URL: url, IsReusable: true},
	}}
}

// ButtonTemplate 构造按钮模板消息。
func ButtonTemplate(text string, buttons []Button) OutboundMessage {
	return OutboundMessage{Attachment: &Attachment{
		Type:    "template",
		Payload: AttachmentPayload{TemplateType: "button", Text: text, Buttons: buttons},
	}}
}

// GenericTemplate 构造通用模板（carousel）消息。
func GenericTemplate(elements []Element) OutboundMessage {
	return OutboundMessage{Attachment: &Attachment{
		Type:    "template",
		Payload: AttachmentPayload{TemplateType: "generic", Elements: elements},
	}}
}
