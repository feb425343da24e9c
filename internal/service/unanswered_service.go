package service

import (
	"context"
	"encoding/json"
	"fmt"

	"kb-messenger-bot/internal/model"
	"kb-messenger-bot/internal/repository"
	"kb-messenger-bot/pkg/log"
)

// UnansweredSink 是未回答问题的追加式记录。
type UnansweredSink interface {
	Record(ctx context.Context, q model.UnansweredQuery) error
}

// Publisher 把消息发布到消息队列（Kafka、NATS）。
type Publisher interface {
	Publish(ctx context.Context, key string, payload []byte) error
}

// LogSink 只把未回答问题写进日志。
type LogSink struct{}

func (LogSink) Record(_ context.Context, q model.UnansweredQuery) error {
	log.Infow("[Unanswered] 未能回答的问题", "id", q.ID, "user", q.SenderID, "text", q.Text, "expanded", q.ExpandedQuery)
	return nil
}

// RepositorySink 直接写入数据库。
type RepositorySink struct {
	repo repository.UnansweredRepository
}

// NewRepositorySink 创建写数据库的 sink。
func NewRepositorySink(repo repository.UnansweredRepository) *RepositorySink {
	return &RepositorySink{repo: repo}
}

func (s *RepositorySink) Record(ctx context.Context, q model.UnansweredQuery) error {
	return s.repo.Create(ctx, &q)
}

// PublisherSink 把记录序列化为 JSON 发布到消息队列，key 为用户 PSID。
type PublisherSink struct {
	pub Publisher
}

// NewPublisherSink 创建发布到消息队列的 sink。
func NewPublisherSink(pub Publisher) *PublisherSink {
	return &PublisherSink{pub: pub}
}

func (s *PublisherSink) Record(ctx context.Context, q model.UnansweredQuery) error {
	payload, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("failed to marshal unanswered query: %w", err)
	}
	return s.pub.Publish(ctx, q.SenderID, payload)
}

// UnansweredArchiver 消费 Kafka 中的未回答问题并落库，实现了 kafka.MessageProcessor。
type UnansweredArchiver struct {
	repo repository.UnansweredRepository
}

// NewUnansweredArchiver 创建归档处理器。
func NewUnansweredArchiver(repo repository.UnansweredRepository) *UnansweredArchiver {
	return &UnansweredArchiver{repo: repo}
}

// Process 解析一条消息并写入数据库。格式错误的消息直接丢弃。
func (a *UnansweredArchiver) Process(ctx context.Context, value []byte) error {
	var q model.UnansweredQuery
	if err := json.Unmarshal(value, &q); err != nil || q.ID == "" {
		log.Errorf("[UnansweredArchiver] 无法解析消息, 丢弃: %s", string(value))
		return nil
	}
	if err := a.repo.Create(ctx, &q); err != nil {
		return fmt.Errorf("failed to archive unanswered query %s: %w", q.ID, err)
	}
	return nil
}
