// Package knowledge 负责从外部数据源加载知识条目，并按分类做带 TTL 的缓存。
package knowledge

import (
	"context"
	"errors"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"kb-messenger-bot/internal/model"
	"kb-messenger-bot/pkg/log"
)

var (
	// ErrSourceUnavailable 表示数据源无法访问（网络、鉴权、文件缺失等）。
	ErrSourceUnavailable = errors.New("knowledge source unavailable")
	// ErrCategoryNotFound 由数据源在分类（工作表、表分区、索引）不存在时返回。
	ErrCategoryNotFound = errors.New("knowledge category not found")
)

// Source 是知识条目的外部数据源。
type Source interface {
	Fetch(ctx context.Context, category string) ([]model.KnowledgeRow, error)
}

type slot struct {
	entries   []model.KnowledgeEntry
	expiresAt time.Time
}

// Cache 按分类缓存 active 的知识条目。过期只在读取时检查，没有后台刷新。
type Cache struct {
	source       Source
	ttl          time.Duration
	fetchTimeout time.Duration
	now          func() time.Time
	slots        *gocache.Cache
	group        singleflight.Group

	// Invalidate 递增分类的代数，旧代数的拉取结果不再写入缓存
	mu   sync.Mutex
	gens map[string]uint64
}

// Option 配置 Cache。
type Option func(*Cache)

// WithClock 替换时钟，测试用。
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithFetchTimeout 设置单次拉取数据源的超时。
func WithFetchTimeout(d time.Duration) Option {
	return func(c *Cache) { c.fetchTimeout = d }
}

// NewCache 创建知识缓存。
func NewCache(source Source, ttl time.Duration, opts ...Option) *Cache {
	c := &Cache{
		source:       source,
		ttl:          ttl,
		fetchTimeout: 10 * time.Second,
		now:          time.Now,
		// 过期由 slot.expiresAt 控制，go-cache 本身不设过期、不启动清理协程
		slots: gocache.New(gocache.NoExpiration, 0),
		gens:  make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Load 返回分类下的 active 条目，保持数据源中的顺序。
// 永远不会返回错误：数据源失败时返回空切片，且失败结果不缓存。
// 同一分类的并发 Load 只会触发一次拉取。
func (c *Cache) Load(ctx context.Context, category string) []model.KnowledgeEntry {
	if entries, ok := c.lookup(category); ok {
		return entries
	}

	v, _, _ := c.group.Do(category, func() (interface{}, error) {
		if entries, ok := c.lookup(category); ok {
			return entries, nil
		}
		return c.fetch(ctx, category), nil
	})
	entries, _ := v.([]model.KnowledgeEntry)
	return entries
}

// Invalidate 丢弃分类的缓存，下一次 Load 会重新拉取。
// 正在进行中的旧拉取仍会把结果返回给它的等待者，但不会覆盖之后加载的数据。
func (c *Cache) Invalidate(category string) {
	c.mu.Lock()
	c.gens[category]++
	c.slots.Delete(category)
	c.mu.Unlock()
	c.group.Forget(category)
}

func (c *Cache) generation(category string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gens[category]
}

func (c *Cache) lookup(category string) ([]model.KnowledgeEntry, bool) {
	v, found := c.slots.Get(category)
	if !found {
		return nil, false
	}
	s := v.(slot)
	if !c.now().Before(s.expiresAt) {
		c.slots.Delete(category)
		return nil, false
	}
	return s.entries, true
}

func (c *Cache) fetch(ctx context.Context, category string) []model.KnowledgeEntry {
	// 拉取结果由所有等待者共享，不能被第一个调用者的取消打断
	fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout)
	defer cancel()

	gen := c.generation(category)
	start := time.Now()
	rows, err := c.source.Fetch(fetchCtx, category)
	if err != nil {
		log.Warnw("[KnowledgeCache] 拉取知识库失败，返回空结果", "category", category, "error", err)
		return []model.KnowledgeEntry{}
	}

	entries := make([]model.KnowledgeEntry, 0, len(rows))
	for _, row := range rows {
		e := DecodeRow(row)
		if !e.Active {
			continue
		}
		if e.MediaErr != nil {
			log.Warnw("[KnowledgeCache] 知识条目的结构化内容格式错误", "category", category, "question", e.Question, "error", e.MediaErr)
		}
		entries = append(entries, e)
	}

	c.mu.Lock()
	stale := c.gens[category] != gen
	if !stale {
		c.slots.Set(category, slot{entries: entries, expiresAt: c.now().Add(c.ttl)}, gocache.NoExpiration)
	}
	c.mu.Unlock()
	if stale {
		log.Infow("[KnowledgeCache] 拉取期间缓存已失效，丢弃旧结果", "category", category)
		return entries
	}
	log.Infow("[KnowledgeCache] 知识库已加载", "category", category, "rows", len(rows), "active", len(entries), "duration", time.Since(start))
	return entries
}
