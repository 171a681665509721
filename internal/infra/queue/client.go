package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"docbrain/internal/config"
	"docbrain/internal/worker/tasks"

	"github.com/hibiken/asynq"
)

// Client 任务队列客户端
type Client struct {
	client  *asynq.Client
	timeout time.Duration
}

// RedisConnOpt 按 Redis 配置生成 asynq 连接参数，与 infra.InitRedis 支持的模式一致
func RedisConnOpt(cfg config.RedisConfig) asynq.RedisConnOpt {
	switch cfg.Mode {
	case "sentinel":
		return asynq.RedisFailoverClientOpt{
			MasterName:       cfg.MasterName,
			SentinelAddrs:    cfg.SentinelAddrs,
			SentinelPassword: cfg.SentinelPassword,
			Password:         cfg.Password,
			DB:               cfg.DB,
			PoolSize:         cfg.PoolSize,
		}
	case "cluster":
		return asynq.RedisClusterClientOpt{
			Addrs:    cfg.ClusterAddrs,
			Password: cfg.Password,
		}
	default:
		return asynq.RedisClientOpt{
			Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Password: cfg.Password,
			DB:       cfg.DB,
			PoolSize: cfg.PoolSize,
		}
	}
}

// NewClient 创建任务队列客户端；taskTimeout 为单个上传任务的最长执行时间
func NewClient(cfg config.RedisConfig, taskTimeout time.Duration) *Client {
	if taskTimeout <= 0 {
		taskTimeout = 5 * time.Minute
	}
	return &Client{
		client:  asynq.NewClient(RedisConnOpt(cfg)),
		timeout: taskTimeout,
	}
}

// NewUploadTask 构造上传任务
func NewUploadTask(uid, docID string) (*asynq.Task, error) {
	payload, err := json.Marshal(tasks.UploadDocumentPayload{UID: uid, DocumentID: docID})
	if err != nil {
		return nil, fmt.Errorf("序列化任务载荷失败: %w", err)
	}
	return asynq.NewTask(tasks.TypeUploadDocument, payload), nil
}

// ScheduleUpload 提交上传任务；同一文档在任务超时前只排队一次
func (c *Client) ScheduleUpload(ctx context.Context, uid, docID string) error {
	task, err := NewUploadTask(uid, docID)
	if err != nil {
		return err
	}
	_, err = c.client.EnqueueContext(ctx, task,
		asynq.Queue(tasks.QueueRetrieval),
		asynq.MaxRetry(3),
		asynq.Timeout(c.timeout),
		asynq.Unique(c.timeout),
	)
	if errors.Is(err, asynq.ErrDuplicateTask) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("提交任务失败: %w", err)
	}
	return nil
}

// Close 关闭客户端
func (c *Client) Close() error {
	return c.client.Close()
}
