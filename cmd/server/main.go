// Package main 是应用程序的入口点。
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"kb-messenger-bot/internal/config"
	"kb-messenger-bot/internal/handler"
	"kb-messenger-bot/internal/handover"
	"kb-messenger-bot/internal/knowledge"
	"kb-messenger-bot/internal/middleware"
	"kb-messenger-bot/internal/service"
	"kb-messenger-bot/pkg/kafka"
	"kb-messenger-bot/pkg/llm"
	"kb-messenger-bot/pkg/log"
	"kb-messenger-bot/pkg/messenger"
	"kb-messenger-bot/pkg/tasks"
	"kb-messenger-bot/pkg/token"
)

func main() {
	if err := run("./configs/config.yaml"); err != nil {
		log.Error("服务异常退出", err)
		log.Sync()
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

// run 启动服务并阻塞到收到停机信号。初始化失败时返回错误，已建立的连接由 defer 关闭。
func run(configPath string) error {
	// 1. 初始化配置
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("加载配置失败: %w", err)
	}

	// 2. 初始化日志记录器
	log.Init(log.Options{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		OutputPath: cfg.Log.OutputPath,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	// 后台任务（Kafka 归档消费者）的生命周期
	bgCtx, cancelBg := context.WithCancel(context.Background())
	defer cancelBg()

	// 3. 按配置建立外部连接，退出时统一关闭
	res := &resources{}
	defer res.Close()

	// 4. 初始化知识库、人工接管、未回答问题记录
	source, err := buildKnowledgeSource(bgCtx, cfg, res)
	if err != nil {
		return fmt.Errorf("初始化知识库数据源失败: %w", err)
	}
	cache := knowledge.NewCache(source, cfg.Knowledge.CacheTTL, knowledge.WithFetchTimeout(cfg.Knowledge.FetchTimeout))

	store, err := buildHandoverStore(bgCtx, cfg, res)
	if err != nil {
		return fmt.Errorf("初始化人工接管存储失败: %w", err)
	}
	tracker := handover.NewTracker(store, cfg.Handover.Window)

	sink, err := buildUnansweredSink(bgCtx, cfg, res)
	if err != nil {
		return fmt.Errorf("初始化未回答问题记录失败: %w", err)
	}

	// 5. 初始化 Service (依赖注入)
	var llmClient llm.Client
	if cfg.LLM.APIKey != "" {
		llmClient = llm.NewClient(cfg.LLM)
	} else {
		log.Warnw("未配置 LLM api_key，查询扩展与回答生成已关闭")
	}

	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours)
	botService := service.NewBotService(cache, tracker, llmClient, sink, service.BotOptions{
		Category:   cfg.Knowledge.Category,
		TopK:       cfg.Bot.TopK,
		AnswerMode: cfg.Bot.AnswerMode,
		Marker:     cfg.Bot.Marker,
		Texts:      cfg.Bot.Texts,
	})
	adminService := service.NewAdminService(cfg.Admin, jwtManager, cache, tracker, res.unansweredRepo(), cfg.Bot.TopK)

	// 6. 启动后台 Kafka 归档消费者
	if cfg.Unanswered.Archive && cfg.Unanswered.Sink == "kafka" {
		if res.db == nil {
			return errors.New("unanswered.archive 需要配置 database.mysql.dsn")
		}
		archiver := service.NewUnansweredArchiver(res.unansweredRepo())
		consumer := kafka.NewConsumer(cfg.Kafka, archiver, res.rdb)
		res.wg.Add(1)
		go func() {
			defer res.wg.Done()
			consumer.Run(bgCtx)
		}()
	}

	// 同一用户的消息串行处理
	queue := tasks.NewKeyedQueue(cfg.Bot.QueueBacklog, cfg.Bot.TaskTimeout)
	sender := messenger.NewClient(cfg.Facebook, cfg.Bot.Marker)

	// 7. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(middleware.RequestLogger(), gin.Recovery())

	// 8. 注册路由
	webhookHandler := handler.NewWebhookHandler(botService, queue, sender, cfg.Facebook.VerifyToken)
	r.GET("/", handler.Health)
	r.GET("/webhook", webhookHandler.Verify)
	r.POST("/webhook", middleware.VerifySignature(cfg.Facebook.AppSecret), webhookHandler.Receive)
	r.GET("/console/:token", handler.NewConsoleHandler(botService, jwtManager, service.AdminRole, cfg.Bot.ConsolePrefix).Handle)

	adminHandler := handler.NewAdminHandler(adminService)
	apiV1 := r.Group("/api/v1")
	{
		apiV1.POST("/admin/login", adminHandler.Login)

		admin := apiV1.Group("/admin")
		// 管理员路由组，需要同时通过认证和管理员授权两个中间件
		admin.Use(middleware.AuthMiddleware(jwtManager), middleware.AdminAuthMiddleware(service.AdminRole))
		{
			admin.GET("/handover/:psid", adminHandler.GetHandover)
			admin.POST("/handover/:psid", adminHandler.TakeOver)
			admin.POST("/knowledge/:category/refresh", adminHandler.RefreshKnowledge)
			admin.GET("/knowledge/:category/search", adminHandler.SearchKnowledge)
			admin.GET("/unanswered", adminHandler.ListUnanswered)
		}
	}

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	var runErr error
	select {
	case <-quit:
		log.Info("接收到停机信号，正在关闭服务...")
	case err := <-serveErr:
		runErr = fmt.Errorf("HTTP 服务监听失败: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// 先停止接收 webhook，再等待已排队的消息处理完
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("HTTP 服务器关闭失败", err)
	}
	if err := queue.Close(ctx); err != nil {
		log.Warnf("等待消息队列排空超时: %v", err)
	}
	cancelBg()
	res.wg.Wait()

	log.Info("服务已优雅关闭")
	return runErr
}
