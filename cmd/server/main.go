package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"docbrain/api"
	"docbrain/internal/config"
	"docbrain/internal/infra"
	"docbrain/internal/logger"
	"docbrain/internal/metrics"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// 构建时通过 -ldflags 注入
var (
	version = "dev"
	commit  = "unknown"
)

const devJWTSecret = "docbrain_dev_jwt_secret_change_in_production"

func main() {
	// 0. 统一加载 .env，便于集中管理 APP_* 环境变量
	loadEnvFile()

	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "dev"
	}

	// 1. 加载配置
	cfg, err := config.Load(env, os.Getenv("APP_CONFIG_FILE"))
	if err != nil {
		fmt.Printf("加载配置失败: %v\n", err)
		os.Exit(1)
	}

	// 2. 初始化日志
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath); err != nil {
		fmt.Printf("初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	log := logger.Get()

	log.Info("应用启动中...",
		zap.String("env", env),
		zap.String("mode", cfg.Server.Mode),
		zap.String("version", version),
	)
	metrics.RecordBuildInfo(version, runtime.Version(), commit)

	if strings.TrimSpace(cfg.Auth.JWTSecret) == "" {
		// 生产模式必须显式配置密钥
		if strings.EqualFold(cfg.Server.Mode, "release") || strings.EqualFold(env, "prod") {
			log.Fatal("auth.jwt_secret 未配置，生产环境禁止使用默认密钥")
		}
		cfg.Auth.JWTSecret = devJWTSecret
		log.Warn("auth.jwt_secret 未配置，已回退为开发默认值")
	}

	// 3. 初始化数据库与 Redis
	db, err := infra.InitDatabase(&cfg.Database, log)
	if err != nil {
		log.Fatal("初始化数据库失败", zap.Error(err))
	}
	rdb, err := infra.InitRedis(&cfg.Redis, log)
	if err != nil {
		log.Fatal("初始化 Redis 失败", zap.Error(err))
	}

	// 4. 组装服务
	container, err := api.BuildContainer(cfg, db, rdb, log)
	if err != nil {
		log.Fatal("初始化服务失败", zap.Error(err))
	}

	// 5. 执行数据库迁移（根据配置）
	if cfg.Database.AutoMigrate {
		if err := infra.AutoMigrate(log, container.Migrations()...); err != nil {
			log.Fatal("数据库迁移失败", zap.Error(err))
		}
	} else {
		log.Info("跳过自动迁移（配置已禁用）")
	}

	// 6. 后台任务：文档上传队列、限流器回收、指标采集
	if err := container.StartWorker(); err != nil {
		log.Fatal("任务服务启动失败", zap.Error(err))
	}
	bgCtx, cancelBackground := context.WithCancel(context.Background())
	go container.RateLimiter.Run(bgCtx)
	if container.Collector != nil {
		go container.Collector.Run(bgCtx)
	}
	stopBackground := func() {
		cancelBackground()
		container.StopWorker()
	}

	// 7. 创建 HTTP 服务器
	router := api.SetupRouter(cfg, container)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		log.Info("HTTP 服务器启动", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP 服务器启动失败", zap.Error(err))
		}
	}()

	// 8. 优雅关闭
	gracefulShutdown(log, server, stopBackground, db, rdb)
}

// loadEnvFile 依次尝试加载当前目录及上级目录的 .env 文件
func loadEnvFile() {
	if path := resolveEnvPath(); path != "" {
		if err := godotenv.Load(path); err != nil {
			fmt.Printf("加载环境变量文件 %s 失败: %v\n", path, err)
		} else {
			fmt.Printf("已加载环境变量文件: %s\n", path)
		}
	} else {
		fmt.Println("未找到 .env 文件，将仅使用系统环境变量和 config/* 配置")
	}
}

// resolveEnvPath 从当前工作目录、可执行文件目录向上查找 .env
func resolveEnvPath() string {
	for _, path := range collectEnvCandidates() {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

func collectEnvCandidates() []string {
	seen := make(map[string]struct{})
	var candidates []string
	add := func(path string) {
		if _, ok := seen[path]; ok {
			return
		}
		seen[path] = struct{}{}
		candidates = append(candidates, path)
	}

	traverse := func(start string) {
		dir := filepath.Clean(start)
		for i := 0; i < 4; i++ {
			if dir == "" || dir == string(filepath.Separator) || dir == "." {
				break
			}
			add(filepath.Join(dir, ".env"))
			parent := filepath.Dir(dir)
			if parent == dir {
				break
			}
			dir = parent
		}
	}

	if wd, err := os.Getwd(); err == nil {
		traverse(wd)
	}
	if exe, err := os.Executable(); err == nil {
		traverse(filepath.Dir(exe))
	}
	return candidates
}

// gracefulShutdown 等待退出信号后依次关闭 HTTP、后台任务与连接
func gracefulShutdown(log *zap.Logger, server *http.Server, stopBackground func(), db *gorm.DB, rdb redis.UniversalClient) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("正在关闭服务器...")

	// 进行中的计费调用在请求结束前完成扣费
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("服务器关闭异常", zap.Error(err))
	}
	stopBackground()

	if rdb != nil {
		if err := rdb.Close(); err != nil {
			log.Error("Redis 关闭异常", zap.Error(err))
		}
	}
	if err := infra.CloseDatabase(db); err != nil {
		log.Error("数据库关闭异常", zap.Error(err))
	}

	log.Info("服务器已安全关闭")
}
