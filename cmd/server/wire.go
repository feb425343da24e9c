package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"

	"kb-messenger-bot/internal/config"
	"kb-messenger-bot/internal/handover"
	"kb-messenger-bot/internal/knowledge"
	"kb-messenger-bot/internal/model"
	"kb-messenger-bot/internal/repository"
	"kb-messenger-bot/internal/service"
	"kb-messenger-bot/pkg/database"
	"kb-messenger-bot/pkg/es"
	"kb-messenger-bot/pkg/kafka"
	"kb-messenger-bot/pkg/log"
	"kb-messenger-bot/pkg/nats"
	"kb-messenger-bot/pkg/storage"
)

// resources 持有按需建立的外部连接。
type resources struct {
	wg sync.WaitGroup

	db       *gorm.DB
	rdb      *redis.Client
	producer *kafka.Producer
	natsPub  *nats.Publisher
}

func (r *resources) mysql(cfg *config.Config) (*gorm.DB, error) {
	if r.db != nil {
		return r.db, nil
	}
	if cfg.Database.MySQL.DSN == "" {
		return nil, fmt.Errorf("database.mysql.dsn 未配置")
	}
	db, err := database.NewMySQL(cfg.Database.MySQL.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&model.UnansweredQuery{}); err != nil {
		return nil, fmt.Errorf("failed to migrate unanswered_queries: %w", err)
	}
	r.db = db
	return db, nil
}

func (r *resources) redis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	if r.rdb != nil {
		return r.rdb, nil
	}
	rdb, err := database.NewRedis(ctx, cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	if err != nil {
		return nil, err
	}
	r.rdb = rdb
	return rdb, nil
}

// unansweredRepo 在配置了 MySQL 时返回未回答问题仓库，否则返回 nil。
func (r *resources) unansweredRepo() repository.UnansweredRepository {
	if r.db == nil {
		return nil
	}
	return repository.NewUnansweredRepository(r.db)
}

// Close 关闭所有已建立的连接。
func (r *resources) Close() {
	if r.producer != nil {
		if err := r.producer.Close(); err != nil {
			log.Errorf("关闭 Kafka 生产者失败: %v", err)
		}
	}
	if r.natsPub != nil {
		r.natsPub.Close()
	}
	if r.rdb != nil {
		_ = r.rdb.Close()
	}
	database.CloseMySQL(r.db)
}

// buildKnowledgeSource 按 knowledge.source 选择知识库数据源。
func buildKnowledgeSource(ctx context.Context, cfg *config.Config, res *resources) (knowledge.Source, error) {
	kc := cfg.Knowledge
	switch kc.Source {
	case "workbook", "":
		if kc.Workbook.Object != "" {
			objects, err := storage.NewObjectStore(ctx, cfg.MinIO)
			if err != nil {
				return nil, err
			}
			log.Infof("知识库数据源: MinIO 对象 %s/%s", cfg.MinIO.BucketName, kc.Workbook.Object)
			return repository.NewObjectWorkbookSource(objects, kc.Workbook.Object), nil
		}
		if kc.Workbook.Path == "" {
			return nil, fmt.Errorf("knowledge.workbook.path 与 knowledge.workbook.object 至少配置一个")
		}
		log.Infof("知识库数据源: 本地工作簿 %s", kc.Workbook.Path)
		return repository.NewFileWorkbookSource(kc.Workbook.Path), nil

	case "mysql":
		db, err := res.mysql(cfg)
		if err != nil {
			return nil, err
		}
		if err := db.Table(kc.Table).AutoMigrate(&model.KnowledgeRow{}); err != nil {
			return nil, fmt.Errorf("failed to migrate %s: %w", kc.Table, err)
		}
		repo := repository.NewKnowledgeRepository(db, kc.Table)
		if categories, err := repo.Categories(ctx); err == nil {
			log.Infof("知识库数据源: MySQL 表 %s, 分类: %v", kc.Table, categories)
		}
		return repo, nil

	case "elasticsearch":
		client, err := es.NewClient(cfg.Elasticsearch)
		if err != nil {
			return nil, err
		}
		if err := es.EnsureIndex(ctx, client, kc.Index); err != nil {
			return nil, err
		}
		log.Infof("知识库数据源: Elasticsearch 索引 %s", kc.Index)
		return repository.NewESKnowledgeSource(client, kc.Index), nil

	default:
		return nil, fmt.Errorf("unknown knowledge.source %q", kc.Source)
	}
}

// buildHandoverStore 按 handover.store 选择接管记录存储。
func buildHandoverStore(ctx context.Context, cfg *config.Config, res *resources) (handover.Store, error) {
	switch cfg.Handover.Store {
	case "memory", "":
		return handover.NewMemoryStore(repository.HandoverRetention(cfg.Handover.Window), cfg.Handover.CleanupInterval), nil
	case "redis":
		rdb, err := res.redis(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return repository.NewHandoverRepository(rdb, cfg.Handover.KeyPrefix, cfg.Handover.Window), nil
	default:
		return nil, fmt.Errorf("unknown handover.store %q", cfg.Handover.Store)
	}
}

// buildUnansweredSink 按 unanswered.sink 选择未回答问题的去向。
func buildUnansweredSink(ctx context.Context, cfg *config.Config, res *resources) (service.UnansweredSink, error) {
	// 归档消费者与管理端查询都需要数据库
	if cfg.Unanswered.Archive || cfg.Database.MySQL.DSN != "" {
		if _, err := res.mysql(cfg); err != nil {
			return nil, err
		}
	}
	// 归档消费者用 Redis 记录失败次数，未配置时只在进程内计数
	if cfg.Unanswered.Archive && cfg.Database.Redis.Addr != "" {
		if _, err := res.redis(ctx, cfg); err != nil {
			return nil, err
		}
	}

	switch cfg.Unanswered.Sink {
	case "log", "":
		return service.LogSink{}, nil
	case "mysql":
		if _, err := res.mysql(cfg); err != nil {
			return nil, err
		}
		return service.NewRepositorySink(res.unansweredRepo()), nil
	case "kafka":
		res.producer = kafka.NewProducer(cfg.Kafka)
		return service.NewPublisherSink(res.producer), nil
	case "nats":
		pub, err := nats.NewPublisher(cfg.NATS)
		if err != nil {
			return nil, err
		}
		res.natsPub = pub
		return service.NewPublisherSink(pub), nil
	default:
		return nil, fmt.Errorf("unknown unanswered.sink %q", cfg.Unanswered.Sink)
	}
}
