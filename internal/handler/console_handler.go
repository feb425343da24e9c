package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"kb-messenger-bot/internal/model"
	"kb-messenger-bot/internal/service"
	"kb-messenger-bot/pkg/log"
	"kb-messenger-bot/pkg/token"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

// ConsoleHandler 提供一个 WebSocket 测试控制台：管理员像 Messenger 用户一样与机器人对话。
type ConsoleHandler struct {
	botService service.BotService
	jwtManager *token.JWTManager
	adminRole  string
	psidPrefix string
}

// NewConsoleHandler 创建一个新的 ConsoleHandler。
func NewConsoleHandler(botService service.BotService, jwtManager *token.JWTManager, adminRole, psidPrefix string) *ConsoleHandler {
	return &ConsoleHandler{
		botService: botService,
		jwtManager: jwtManager,
		adminRole:  adminRole,
		psidPrefix: psidPrefix,
	}
}

// Handle 处理一个传入的 WebSocket 连接。
func (h *ConsoleHandler) Handle(c *gin.Context) {
	claims, err := h.jwtManager.VerifyToken(c.Param("token"))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "无效的 token", "data": nil})
		return
	}
	if claims.Role != h.adminRole {
		c.JSON(http.StatusForbidden, gin.H{"code": http.StatusForbidden, "message": "权限不足，需要管理员权限", "data": nil})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()

	psid := h.psidPrefix + claims.Username
	log.Infof("[Console] WebSocket 连接已建立，用户: %s, psid: %s", claims.Username, psid)

	d := &consoleDispatcher{conn: conn}
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			log.Infof("[Console] 连接关闭, psid: %s, reason: %v", psid, err)
			return
		}

		text := parseConsoleInput(raw)
		if text == "" {
			continue
		}
		outcome := h.botService.HandleMessage(c.Request.Context(), model.InboundEvent{SenderID: psid, Text: text}, d)
		if err := d.complete(outcome); err != nil {
			log.Warnf("[Console] 写入完成通知失败: %v", err)
			return
		}
	}
}

// parseConsoleInput 接受纯文本，或 {"role":"user","content":"..."} 形式的 JSON。
func parseConsoleInput(raw []byte) string {
	s := strings.TrimSpace(string(raw))
	if strings.HasPrefix(s, "{") {
		var msg model.ChatMessage
		if err := json.Unmarshal(raw, &msg); err == nil {
			return strings.TrimSpace(msg.Content)
		}
	}
	return s
}

// consoleDispatcher 把机器人的回复写回 WebSocket，实现了 service.Dispatcher。
type consoleDispatcher struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (d *consoleDispatcher) Send(_ context.Context, _ string, msg model.OutboundMessage) error {
	return d.write(model.ChatMessage{
		Role:       "bot",
		Content:    msg.Text,
		Attachment: msg.Attachment,
		Timestamp:  time.Now(),
	})
}

func (d *consoleDispatcher) SendTyping(context.Context, string) error {
	return d.write(gin.H{"type": "typing"})
}

// complete 发送完成通知 JSON
func (d *consoleDispatcher) complete(outcome service.Outcome) error {
	now := time.Now()
	return d.write(gin.H{
		"type":      "completion",
		"status":    "finished",
		"outcome":   outcome,
		"timestamp": now.UnixMilli(),
		"date":      now.Format("2006-01-02T15:04:05"),
	})
}

func (d *consoleDispatcher) write(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conn.WriteMessage(websocket.TextMessage, b)
}
