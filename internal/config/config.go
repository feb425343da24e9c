// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Log           LogConfig           `mapstructure:"log"`
	Facebook      FacebookConfig      `mapstructure:"facebook"`
	Knowledge     KnowledgeConfig     `mapstructure:"knowledge"`
	Handover      HandoverConfig      `mapstructure:"handover"`
	LLM           LLMConfig           `mapstructure:"llm"`
	Bot           BotConfig           `mapstructure:"bot"`
	Unanswered    UnansweredConfig    `mapstructure:"unanswered"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	NATS          NATSConfig          `mapstructure:"nats"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	JWT           JWTConfig           `mapstructure:"jwt"`
	Admin         AdminConfig         `mapstructure:"admin"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// FacebookConfig 存储 Messenger 平台相关的配置。
type FacebookConfig struct {
	PageAccessToken string        `mapstructure:"page_access_token"`
	VerifyToken     string        `mapstructure:"verify_token"`
	AppSecret       string        `mapstructure:"app_secret"`
	GraphURL        string        `mapstructure:"graph_url"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

// KnowledgeConfig 描述知识库数据源与缓存。
type KnowledgeConfig struct {
	Category     string         `mapstructure:"category"`
	Source       string         `mapstructure:"source"` // workbook | mysql | elasticsearch
	CacheTTL     time.Duration  `mapstructure:"cache_ttl"`
	FetchTimeout time.Duration  `mapstructure:"fetch_timeout"`
	Workbook     WorkbookConfig `mapstructure:"workbook"`
	Table        string         `mapstructure:"table"`
	Index        string         `mapstructure:"index"`
}

// WorkbookConfig 指定 xlsx 工作簿的位置：本地路径或 MinIO 对象。
type WorkbookConfig struct {
	Path   string `mapstructure:"path"`
	Object string `mapstructure:"object"`
}

// HandoverConfig 配置人工接管状态的存储。
type HandoverConfig struct {
	Store           string        `mapstructure:"store"` // memory | redis
	Window          time.Duration `mapstructure:"window"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	KeyPrefix       string        `mapstructure:"key_prefix"`
}

// LLMConfig 存储大语言模型（OpenAI 兼容接口，如 Groq）相关的配置。
type LLMConfig struct {
	APIKey     string              `mapstructure:"api_key"`
	BaseURL    string              `mapstructure:"base_url"`
	Model      string              `mapstructure:"model"`
	Timeout    time.Duration       `mapstructure:"timeout"`
	Expansion  LLMGenerationConfig `mapstructure:"expansion"`
	Generation LLMGenerationConfig `mapstructure:"generation"`
	Prompt     LLMPromptConfig     `mapstructure:"prompt"`
}

// LLMGenerationConfig 配置生成相关参数。
type LLMGenerationConfig struct {
	Temperature float32 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// LLMPromptConfig 配置系统提示。为空时使用内置提示词。
type LLMPromptConfig struct {
	Expansion    string `mapstructure:"expansion"`
	Answer       string `mapstructure:"answer"`
	NoResultText string `mapstructure:"no_result_text"`
}

// BotConfig 配置机器人回复行为与固定文案。
type BotConfig struct {
	AnswerMode    string        `mapstructure:"answer_mode"` // direct | generate
	TopK          int           `mapstructure:"top_k"`
	TaskTimeout   time.Duration `mapstructure:"task_timeout"`
	Marker        string        `mapstructure:"marker"`
	Texts         BotTexts      `mapstructure:"texts"`
	ConsolePrefix string        `mapstructure:"console_psid_prefix"`
	QueueBacklog  int           `mapstructure:"queue_backlog"`
}

// BotTexts 是发给用户的固定文案。
type BotTexts struct {
	MenuTitle         string `mapstructure:"menu_title"`
	MenuMalformed     string `mapstructure:"menu_malformed"`
	CarouselMalformed string `mapstructure:"carousel_malformed"`
	NoContent         string `mapstructure:"no_content"`
	NotFound          string `mapstructure:"not_found"`
	SystemError       string `mapstructure:"system_error"`
}

// UnansweredConfig 配置未回答问题的落地方式。
type UnansweredConfig struct {
	Sink    string `mapstructure:"sink"` // log | mysql | kafka | nats
	Archive bool   `mapstructure:"archive"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
}

// MySQLConfig 存储 MySQL 数据库的配置。
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// KafkaConfig 存储 Kafka 相关的配置。
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
	GroupID string `mapstructure:"group_id"`
}

// NATSConfig 存储 NATS JetStream 相关的配置。
type NATSConfig struct {
	URL     string `mapstructure:"url"`
	Stream  string `mapstructure:"stream"`
	Subject string `mapstructure:"subject"`
}

// ElasticsearchConfig 存储 Elasticsearch 相关的配置。
type ElasticsearchConfig struct {
	Addresses string `mapstructure:"addresses"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// JWTConfig 存储 JWT 相关的配置。
type JWTConfig struct {
	Secret                 string `mapstructure:"secret"`
	AccessTokenExpireHours int    `mapstructure:"access_token_expire_hours"`
}

// AdminConfig 是管理后台唯一账号。PasswordHash 为 bcrypt 哈希。
type AdminConfig struct {
	Username     string `mapstructure:"username"`
	PasswordHash string `mapstructure:"password_hash"`
}

var secretKeys = []string{
	"facebook.page_access_token",
	"facebook.verify_token",
	"facebook.app_secret",
	"llm.api_key",
	"database.mysql.dsn",
	"database.redis.addr",
	"database.redis.password",
	"minio.access_key_id",
	"minio.secret_access_key",
	"jwt.secret",
	"admin.username",
	"admin.password_hash",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "3000")
	v.SetDefault("server.mode", "release")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("facebook.graph_url", "https://graph.facebook.com/v18.0")
	v.SetDefault("facebook.timeout", 10*time.Second)
	v.SetDefault("knowledge.category", "KnowledgeBase")
	v.SetDefault("knowledge.source", "workbook")
	v.SetDefault("knowledge.cache_ttl", 300*time.Second)
	v.SetDefault("knowledge.fetch_timeout", 10*time.Second)
	v.SetDefault("knowledge.table", "knowledge_entries")
	v.SetDefault("knowledge.index", "knowledge_entries")
	v.SetDefault("handover.store", "memory")
	v.SetDefault("handover.window", 60*time.Second)
	v.SetDefault("handover.key_prefix", "handover_")
	v.SetDefault("llm.base_url", "https://api.groq.com/openai/v1")
	v.SetDefault("llm.model", "llama-3.3-70b-versatile")
	v.SetDefault("llm.timeout", 15*time.Second)
	v.SetDefault("llm.expansion.temperature", 0.3)
	v.SetDefault("llm.expansion.max_tokens", 60)
	v.SetDefault("llm.generation.temperature", 0.4)
	v.SetDefault("llm.generation.max_tokens", 300)
	v.SetDefault("llm.prompt.no_result_text", "ขออภัย ข้อมูลส่วนนี้ยังไม่พร้อม สามารถทิ้งข้อความไว้ได้เลยค่ะ")
	v.SetDefault("bot.answer_mode", "direct")
	v.SetDefault("bot.top_k", 5)
	v.SetDefault("bot.task_timeout", 30*time.Second)
	v.SetDefault("bot.marker", "bot_reply")
	v.SetDefault("bot.console_psid_prefix", "console:")
	v.SetDefault("bot.queue_backlog", 32)
	v.SetDefault("bot.texts.menu_title", "กรุณาเลือกหัวข้อ")
	v.SetDefault("bot.texts.menu_malformed", "(ขออภัย รูปแบบเมนูไม่ถูกต้อง - กรุณาติดต่อเจ้าหน้าที่)")
	v.SetDefault("bot.texts.carousel_malformed", "(ขออภัย รูปแบบ Carousel ไม่ถูกต้อง - กรุณาติดต่อเจ้าหน้าที่)")
	v.SetDefault("bot.texts.no_content", "ขออภัยค่ะ ไม่มีข้อมูลในส่วนนี้ ฝากข้อความไว้ได้เลยค่ะ (ref.a02)")
	v.SetDefault("bot.texts.not_found", "ขออภัยค่ะ ไม่มีข้อมูลในส่วนนี้ ลองถามใหม่อีกสักครู่ค่ะ")
	v.SetDefault("bot.texts.system_error", "ขออภัยค่ะ มีผู้ใช้งานเป็นจำนวนมาก ลองถามใหม่อีกสักครู่ค่ะ")
	v.SetDefault("unanswered.sink", "log")
	v.SetDefault("kafka.group_id", "kb-messenger-bot-unanswered")
	v.SetDefault("nats.stream", "UNANSWERED")
	v.SetDefault("nats.subject", "unanswered.query")
	v.SetDefault("jwt.access_token_expire_hours", 12)
}

// Load 读取 .env（可选）与 YAML 配置文件；环境变量优先，例如 FACEBOOK_PAGE_ACCESS_TOKEN。
func Load(configPath string) (*Config, error) {
	// .env 文件是可选的，容器环境直接使用环境变量
	for _, envFile := range []string{".env", "../.env"} {
		if err := godotenv.Load(envFile); err == nil {
			break
		}
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// 没有默认值的敏感配置需要显式绑定，Unmarshal 才能读到环境变量
	for _, key := range secretKeys {
		_ = v.BindEnv(key)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	return &cfg, nil
}
