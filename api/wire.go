package api

import (
	"fmt"
	"time"

	authHandlers "docbrain/api/handlers/auth"
	creditsHandlers "docbrain/api/handlers/credits"
	documentsHandlers "docbrain/api/handlers/documents"
	paymentsHandlers "docbrain/api/handlers/payments"
	profileHandlers "docbrain/api/handlers/profile"
	"docbrain/internal/auth"
	"docbrain/internal/config"
	"docbrain/internal/credits"
	"docbrain/internal/infra/queue"
	"docbrain/internal/metrics"
	middlewarepkg "docbrain/internal/middleware"
	"docbrain/internal/payment"
	"docbrain/internal/providers/openai"
	"docbrain/internal/providers/ragie"
	"docbrain/internal/providers/stripe"
	"docbrain/internal/providers/unstructured"
	"docbrain/internal/qa"
	"docbrain/internal/security"
	"docbrain/internal/worker"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AppContainer 应用依赖容器
type AppContainer struct {
	DB    *gorm.DB
	Redis redis.UniversalClient // 未启用时为 nil
	Log   *zap.Logger

	JWTService *auth.JWTService
	Accounts   *auth.AccountStore

	Profiles     *credits.ProfileCache
	Ledger       *credits.Ledger
	Costs        *credits.CostTable
	Transactions *credits.GormTransactionLog
	Executor     *credits.Executor

	Payments *payment.Service
	QA       *qa.Service

	// 启用 Redis 与 worker 时才有；否则上传在进程内后台执行
	Queue  *queue.Client
	Worker *worker.Server

	RateLimiter *middlewarepkg.RateLimiter
	Collector   *metrics.SystemCollector
}

// Handlers HTTP 处理器集合
type Handlers struct {
	Auth      *authHandlers.AuthHandler
	Profile   *profileHandlers.Handler
	Credits   *creditsHandlers.Handler
	Payments  *paymentsHandlers.Handler
	Documents *documentsHandlers.Handler
}

// BuildContainer 按配置组装服务
func BuildContainer(cfg *config.Config, db *gorm.DB, rdb redis.UniversalClient, log *zap.Logger) (*AppContainer, error) {
	c := &AppContainer{DB: db, Redis: rdb, Log: log}

	c.JWTService = auth.NewJWTService(auth.JWTConfig{
		Secret: cfg.Auth.JWTSecret,
		Issuer: cfg.Auth.Issuer,
	}, rdb, log)
	c.Accounts = auth.NewAccountStore(db)

	cipher, err := security.NewSecretCipher(cfg.Auth.KeyEncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("初始化密钥加密失败: %w", err)
	}
	if cipher == nil {
		log.Warn("未配置 key_encryption_key，用户 API Key 将以明文存储")
	}

	store := credits.NewGormProfileStore(db)
	c.Transactions = credits.NewGormTransactionLog(db)
	c.Profiles = credits.NewProfileCache(store, cipher, credits.ProfileDefaults{
		StartingBalance: cfg.Credits.StartingBalance,
		UseCredits:      true,
	}, log)
	c.Ledger = credits.NewLedger(store, c.Profiles, c.Transactions, log)
	c.Costs = credits.NewCostTable(cfg.Credits.Costs)

	platform := credits.StaticPlatformKeys{
		credits.ProviderUnstructured: cfg.Providers.Unstructured.APIKey,
		credits.ProviderRagie:        cfg.Providers.Ragie.APIKey,
		credits.ProviderOpenAI:       cfg.Providers.OpenAI.APIKey,
	}
	for _, kind := range credits.Kinds() {
		if platform.PlatformKey(kind.Provider()) == "" {
			log.Warn("平台密钥未配置，积分模式下该操作不可用",
				zap.String("kind", string(kind)),
				zap.String("provider", string(kind.Provider())))
		}
	}
	c.Executor = credits.NewExecutor(c.Costs, credits.NewKeyResolver(platform), c.Ledger,
		credits.WithCallTimeout(cfg.Credits.CallTimeout),
		credits.WithUsageRecorder(metrics.NewUsageRecorder()),
		credits.WithLogger(log),
	)

	parser := unstructured.NewClient(unstructured.Config{
		BaseURL: cfg.Providers.Unstructured.BaseURL,
		Timeout: seconds(cfg.Providers.Unstructured.TimeoutSeconds),
	}, log)
	retriever := ragie.NewClient(ragie.Config{
		BaseURL: cfg.Providers.Ragie.BaseURL,
		Timeout: seconds(cfg.Providers.Ragie.TimeoutSeconds),
	}, log)
	generator := openai.NewClient(openai.Config{
		BaseURL: cfg.Providers.OpenAI.BaseURL,
		Model:   cfg.Providers.OpenAI.Model,
	}, log)
	payments := stripe.NewClient(stripe.Config{
		SecretKey: cfg.Payment.SecretKey,
		BaseURL:   cfg.Payment.BaseURL,
	}, log)

	c.Payments = payment.NewService(db, payments, c.Ledger, payment.Config{
		Currency:       cfg.Payment.Currency,
		CreditsPerUnit: cfg.Payment.CreditsPerUnit,
	}, log)

	var lease qa.UploadLease
	var scheduler qa.UploadScheduler
	if rdb != nil {
		lease = qa.NewRedisLease(rdb)
		if cfg.Worker.Enabled {
			c.Queue = queue.NewClient(cfg.Redis, cfg.QA.UploadLeaseTTL)
			scheduler = c.Queue
		}
	}
	c.QA = qa.NewService(qa.Dependencies{
		DB:        db,
		Files:     qa.NewFileStorage(cfg.Storage.BasePath),
		Profiles:  c.Profiles,
		Billing:   c.Executor,
		Parser:    parser,
		Retriever: retriever,
		Generator: generator,
		Lease:     lease,
		Scheduler: scheduler,
		Logger:    log,
	}, qa.Config{
		PollInterval:     cfg.QA.PollInterval,
		ReadyTimeout:     cfg.QA.ReadyTimeout,
		TopK:             cfg.QA.TopK,
		MaxContextTokens: cfg.QA.MaxContextTokens,
		UploadLeaseTTL:   cfg.QA.UploadLeaseTTL,
	})

	if c.Queue != nil {
		c.Worker = worker.NewServer(cfg.Redis, cfg.Worker.Concurrency, c.QA, log)
	}

	c.RateLimiter = middlewarepkg.NewRateLimiter(middlewarepkg.RateLimiterConfig{
		RequestsPerSecond: cfg.Server.RateLimitRPS,
		BurstSize:         cfg.Server.RateLimitBurst,
	})

	if sqlDB, err := db.DB(); err == nil {
		c.Collector = metrics.NewSystemCollector(sqlDB, c.QA.CountByStatus)
	}

	return c, nil
}

// StartWorker 启动后台任务服务；未启用时直接返回
func (c *AppContainer) StartWorker() error {
	if c.Worker == nil {
		return nil
	}
	return c.Worker.Start()
}

// StopWorker 停止后台任务并等待进程内上传结束
func (c *AppContainer) StopWorker() {
	if c.Worker != nil {
		c.Worker.Shutdown()
	}
	if c.Queue != nil {
		if err := c.Queue.Close(); err != nil {
			c.Log.Warn("关闭任务队列失败", zap.Error(err))
		}
	}
	c.QA.Wait()
}

// Migrations 各模块的表迁移
func (c *AppContainer) Migrations() []func() error {
	return []func() error{
		func() error { return credits.AutoMigrate(c.DB) },
		c.Accounts.AutoMigrate,
		c.Payments.AutoMigrate,
		c.QA.AutoMigrate,
	}
}

// NewHandlers 创建处理器
func NewHandlers(c *AppContainer) *Handlers {
	return &Handlers{
		Auth:      authHandlers.NewAuthHandler(c.JWTService, c.Accounts, c.Profiles),
		Profile:   profileHandlers.NewHandler(c.Profiles),
		Credits:   creditsHandlers.NewHandler(c.Ledger, c.Costs, c.Transactions),
		Payments:  paymentsHandlers.NewHandler(c.Payments),
		Documents: documentsHandlers.NewHandler(c.QA),
	}
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
