package infra

import (
	"context"
	"fmt"
	"time"

	"docbrain/internal/config"
	"docbrain/internal/logger"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const redisPingTimeout = 5 * time.Second

// InitRedis 连接 Redis；未启用时返回 nil，调用方按无 Redis 降级
func InitRedis(cfg *config.RedisConfig, log *zap.Logger) (redis.UniversalClient, error) {
	log = logger.OrNop(log)
	if !cfg.Enabled {
		log.Info("Redis 未启用，令牌黑名单关闭，上传租约使用进程内互斥")
		return nil, nil
	}

	mode := cfg.Mode
	if mode == "" {
		mode = "standalone"
	}
	rdb, err := newRedisClient(cfg, mode)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), redisPingTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("Redis 连接失败: %w", err)
	}

	log.Info("Redis 连接成功", zap.String("mode", mode))
	return rdb, nil
}

// newRedisClient 按模式构建客户端: standalone, sentinel, cluster
func newRedisClient(cfg *config.RedisConfig, mode string) (redis.UniversalClient, error) {
	switch mode {
	case "standalone":
		return redis.NewClient(&redis.Options{
			Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Password:     cfg.Password,
			DB:           cfg.DB,
			PoolSize:     cfg.PoolSize,
			MinIdleConns: cfg.MinIdleConns,
		}), nil
	case "sentinel":
		if cfg.MasterName == "" || len(cfg.SentinelAddrs) == 0 {
			return nil, fmt.Errorf("哨兵模式需要配置 master_name 和 sentinel_addrs")
		}
		return redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:       cfg.MasterName,
			SentinelAddrs:    cfg.SentinelAddrs,
			SentinelPassword: cfg.SentinelPassword,
			Password:         cfg.Password,
			DB:               cfg.DB,
			PoolSize:         cfg.PoolSize,
			MinIdleConns:     cfg.MinIdleConns,
		}), nil
	case "cluster":
		if len(cfg.ClusterAddrs) == 0 {
			return nil, fmt.Errorf("集群模式需要配置 cluster_addrs")
		}
		return redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:        cfg.ClusterAddrs,
			Password:     cfg.Password,
			PoolSize:     cfg.PoolSize,
			MinIdleConns: cfg.MinIdleConns,
		}), nil
	default:
		return nil, fmt.Errorf("不支持的 Redis 模式: %s", mode)
	}
}

// HealthCheckRedis 未启用 Redis 时视为健康
func HealthCheckRedis(ctx context.Context, rdb redis.UniversalClient) error {
	if rdb == nil {
		return nil
	}
	return rdb.Ping(ctx).Err()
}
