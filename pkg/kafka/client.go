// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"

	"kb-messenger-bot/internal/config"
	"kb-messenger-bot/pkg/log"
)

// maxAttempts 是单条消息处理失败后允许的最大尝试次数，超过后提交 offset 放弃该消息。
const maxAttempts = 3

// MessageProcessor 处理一条消息的内容。
// 它把消费循环与具体的业务处理解耦。
type MessageProcessor interface {
	Process(ctx context.Context, value []byte) error
}

// Producer 把消息写入配置的 topic。
type Producer struct {
	writer *kafka.Writer
}

// NewProducer 初始化 Kafka 生产者。
func NewProducer(cfg config.KafkaConfig) *Producer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers(cfg)...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}
	log.Info("Kafka 生产者初始化成功")
	return &Producer{writer: w}
}

// Publish 发送一条消息。同一个 key 会落到同一个分区，保持顺序。
func (p *Producer) Publish(ctx context.Context, key string, payload []byte) error {
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: payload,
	})
}

// Close 刷新并关闭生产者。
func (p *Producer) Close() error {
	return p.writer.Close()
}

// Consumer 消费 topic 并交给 MessageProcessor 处理，失败次数记录在 Redis 中。
type Consumer struct {
	reader    *kafka.Reader
	processor MessageProcessor
	rdb       *redis.Client
}

// NewConsumer 创建消费者。rdb 可以为 nil，此时失败次数只在本进程内计数。
func NewConsumer(cfg config.KafkaConfig, processor MessageProcessor, rdb *redis.Client) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers(cfg),
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	return &Consumer{reader: r, processor: processor, rdb: rdb}
}

// Run 阻塞运行消费循环，直到 ctx 结束。
func (c *Consumer) Run(ctx context.Context) {
	log.Infof("Kafka 消费者已启动，正在监听主题 '%s'", c.reader.Config().Topic)
	defer func() {
		if err := c.reader.Close(); err != nil {
			log.Errorf("关闭 Kafka 消费者失败: %v", err)
		}
	}()

	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				log.Info("Kafka 消费者已停止")
			} else {
				log.Error("从 Kafka 读取消息失败", err)
			}
			return
		}

		if err := c.process(ctx, m); err != nil && ctx.Err() != nil {
			// 退出时不提交 offset，重启后重新投递
			return
		}

		// 任务处理成功（或放弃）后，手动提交 offset
		if err := c.reader.CommitMessages(ctx, m); err != nil {
			log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
		}
	}
}

// process 处理一条消息，失败时原地重试，累计失败次数达到 maxAttempts 后放弃。
// 失败次数记录在 Redis 中，进程重启后仍然有效。
func (c *Consumer) process(ctx context.Context, m kafka.Message) error {
	attempts := 0
	for {
		err := c.processor.Process(ctx, m.Value)
		if err == nil {
			if c.rdb != nil {
				_ = c.rdb.Del(ctx, attemptsKey(m)).Err()
			}
			return nil
		}
		log.Errorf("处理 Kafka 消息失败: partition=%d offset=%d, error: %v", m.Partition, m.Offset, err)

		attempts++
		if c.rdb != nil {
			if n, incErr := c.rdb.Incr(ctx, attemptsKey(m)).Result(); incErr == nil {
				attempts = int(n)
				_ = c.rdb.Expire(ctx, attemptsKey(m), 24*time.Hour).Err()
			}
		}
		if attempts >= maxAttempts {
			log.Errorf("消息多次处理失败(>=%d)，提交 offset 终止重试: offset=%d", maxAttempts, m.Offset)
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempts) * time.Second):
		}
	}
}

func attemptsKey(m kafka.Message) string {
	return fmt.Sprintf("kafka:attempts:%s:%d:%d", m.Topic, m.Partition, m.Offset)
}

func brokers(cfg config.KafkaConfig) []string {
	var out []string
	for _, b := range strings.Split(cfg.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
