// Package nats 把消息发布到 NATS JetStream。
package nats

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"kb-messenger-bot/internal/config"
	"kb-messenger-bot/pkg/log"
)

// Publisher 把消息写入一个固定的 subject。
type Publisher struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	subject string
}

// NewPublisher 连接 NATS 并确保 stream 存在。
func NewPublisher(cfg config.NATSConfig) (*Publisher, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      cfg.Stream,
		Subjects:  []string{cfg.Subject},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
	})
	if err != nil {
		// stream 可能由运维预先创建，这里不失败
		log.Warnw("确保 NATS stream 存在失败", "stream", cfg.Stream, "error", err)
	}

	log.Infof("NATS 发布者初始化成功, subject: %s", cfg.Subject)
	return &Publisher{nc: nc, js: js, subject: cfg.Subject}, nil
}

// Publish 发布一条消息。key 写入消息头，便于消费端按用户归类。
func (p *Publisher) Publish(ctx context.Context, key string, payload []byte) error {
	msg := &nats.Msg{
		Subject: p.subject,
		Data:    payload,
		Header:  nats.Header{},
	}
	msg.Header.Set("Sender-Id", key)
	if _, err := p.js.PublishMsg(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish to subject %s: %w", p.subject, err)
	}
	return nil
}

// Close 关闭 NATS 连接。
func (p *Publisher) Close() {
	if p.nc != nil {
		p.nc.Close()
	}
}
