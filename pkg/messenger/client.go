// Package messenger 调用 Facebook Graph API 向用户发送消息。
package messenger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"kb-messenger-bot/internal/config"
	"kb-messenger-bot/internal/model"
)

// ErrSendFailed 表示 Graph API 拒绝了请求或请求无法送达。
var ErrSendFailed = errors.New("messenger send failed")

// GraphError 是 Graph API 返回的错误体。
type GraphError struct {
	Message   string `json:"message"`
	Type      string `json:"type"`
	Code      int    `json:"code"`
	FBTraceID string `json:"fbtrace_id"`
}

func (e *GraphError) Error() string {
	return fmt.Sprintf("graph api error %d (%s): %s", e.Code, e.Type, e.Message)
}

type recipient struct {
	ID string `json:"id"`
}

type sendRequest struct {
	Recipient     recipient              `json:"recipient"`
	MessagingType string                 `json:"messaging_type,omitempty"`
	Message       *model.OutboundMessage `json:"message,omitempty"`
	SenderAction  string                 `json:"sender_action,omitempty"`
}

// Client 是 Send API 客户端。所有消息都带上 marker 作为 metadata，
// 以便在 echo 事件中区分机器人与人工发出的消息。
type Client struct {
	endpoint string
	token    string
	marker   string
	http     *http.Client
}

// NewClient 创建 Send API 客户端。
func NewClient(cfg config.FacebookConfig, marker string) *Client {
	return &Client{
		endpoint: strings.TrimRight(cfg.GraphURL, "/") + "/me/messages",
		token:    cfg.PageAccessToken,
		marker:   marker,
		http:     &http.Client{Timeout: cfg.Timeout},
	}
}

// Send 发送一条消息。
func (c *Client) Send(ctx context.Context, recipientID string, msg model.OutboundMessage) error {
	msg.Metadata = c.marker
	return c.post(ctx, sendRequest{
		Recipient:     recipient{ID: recipientID},
		MessagingType: "RESPONSE",
		Message:       &msg,
	})
}

// SendTyping 显示“正在输入”。
func (c *Client) SendTyping(ctx context.Context, recipientID string) error {
	return c.post(ctx, sendRequest{
		Recipient:    recipient{ID: recipientID},
		SenderAction: "typing_on",
	})
}

func (c *Client) post(ctx context.Context, body sendRequest) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal send request: %w", err)
	}

	u := c.endpoint + "?access_token=" + url.QueryEscape(c.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		var wrapper struct {
			Error *GraphError `json:"error"`
		}
		if json.Unmarshal(respBody, &wrapper) == nil && wrapper.Error != nil {
			return fmt.Errorf("%w: %w", ErrSendFailed, wrapper.Error)
		}
		return fmt.Errorf("%w: status %s, body: %s", ErrSendFailed, resp.Status, string(respBody))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
