// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"kb-messenger-bot/internal/model"
	"kb-messenger-bot/internal/service"
	"kb-messenger-bot/pkg/log"
	"kb-messenger-bot/pkg/tasks"
)

// Submitter 是按 key 串行执行任务的队列。
type Submitter interface {
	Submit(key string, task tasks.Task) error
}

// WebhookHandler 负责接收 Messenger 平台的 webhook。
type WebhookHandler struct {
	botService  service.BotService
	queue       Submitter
	dispatcher  service.Dispatcher
	verifyToken string
}

// NewWebhookHandler 创建一个新的 WebhookHandler。
func NewWebhookHandler(botService service.BotService, queue Submitter, dispatcher service.Dispatcher, verifyToken string) *WebhookHandler {
	return &WebhookHandler{
		botService:  botService,
		queue:       queue,
		dispatcher:  dispatcher,
		verifyToken: verifyToken,
	}
}

type webhookPayload struct {
	Object string         `json:"object"`
	Entry  []webhookEntry `json:"entry"`
}

type webhookEntry struct {
	ID        string           `json:"id"`
	Time      int64            `json:"time"`
	Messaging []messagingEvent `json:"messaging"`
}

type messagingEvent struct {
	Sender    participant       `json:"sender"`
	Recipient participant       `json:"recipient"`
	Timestamp int64             `json:"timestamp"`
	Message   *messagingMessage `json:"message,omitempty"`
}

type participant struct {
	ID string `json:"id"`
}

type messagingMessage struct {
	MID      string `json:"mid"`
	Text     string `json:"text"`
	IsEcho   bool   `json:"is_echo"`
	Metadata string `json:"metadata"`
}

// Verify 处理平台的订阅验证请求。
func (h *WebhookHandler) Verify(c *gin.Context) {
	mode := c.Query("hub.mode")
	verifyToken := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	if mode == "" || verifyToken == "" {
		c.Status(http.StatusBadRequest)
		return
	}
	if mode != "subscribe" || verifyToken != h.verifyToken {
		log.Warnw("[Webhook] 订阅验证失败", "mode", mode)
		c.Status(http.StatusForbidden)
		return
	}
	log.Info("[Webhook] 订阅验证成功")
	c.String(http.StatusOK, challenge)
}

// Receive 解析 webhook 事件。用户消息按 PSID 排队异步处理，立即返回 EVENT_RECEIVED。
func (h *WebhookHandler) Receive(c *gin.Context) {
	var payload webhookPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		log.Warnf("[Webhook] 无法解析请求体: %v", err)
		c.Status(http.StatusBadRequest)
		return
	}
	if payload.Object != "page" {
		c.Status(http.StatusNotFound)
		return
	}

	for _, entry := range payload.Entry {
		for _, ev := range entry.Messaging {
			h.dispatch(c.Request.Context(), ev)
		}
	}
	c.String(http.StatusOK, "EVENT_RECEIVED")
}

func (h *WebhookHandler) dispatch(ctx context.Context, ev messagingEvent) {
	msg := ev.Message
	if msg == nil {
		return
	}

	// echo 的 recipient 才是用户
	if msg.IsEcho {
		h.botService.HandleEcho(ctx, ev.Recipient.ID, msg.Metadata)
		return
	}

	if msg.Text == "" || ev.Sender.ID == "" {
		return
	}
	in := model.InboundEvent{SenderID: ev.Sender.ID, Text: msg.Text}
	err := h.queue.Submit(in.SenderID, func(ctx context.Context) {
		outcome := h.botService.HandleMessage(ctx, in, h.dispatcher)
		log.Infow("[Webhook] 消息处理完成", "user", in.SenderID, "mid", msg.MID, "outcome", outcome)
	})
	if err != nil {
		log.Warnw("[Webhook] 消息未能入队", "user", in.SenderID, "error", err)
	}
}

// Health 健康检查。
func Health(c *gin.Context) {
	c.String(http.StatusOK, "Messenger knowledge bot is running")
}
