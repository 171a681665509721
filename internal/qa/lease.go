package qa

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// UploadLease 跨进程的上传互斥租约
type UploadLease interface {
	// Acquire 尝试获取租约；ok 为 false 表示已被其他实例持有
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

// releaseScript 只释放自己持有的租约
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLease 基于 SET NX 的租约
type RedisLease struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisLease 创建租约；client 为 nil 时返回 nil，调用方应退回进程内互斥
func NewRedisLease(client redis.UniversalClient) *RedisLease {
	if client == nil {
		return nil
	}
	return &RedisLease{client: client, prefix: "docbrain:qa:upload:"}
}

// Acquire 获取租约
func (l *RedisLease) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	token := uuid.New().String()
	fullKey := l.prefix + key
	ok, err := l.client.SetNX(ctx, fullKey, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("获取上传租约失败: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	release := func() {
		releaseScript.Run(context.Background(), l.client, []string{fullKey}, token)
	}
	return release, true, nil
}

// localLease 单实例部署时使用，始终成功
type localLease struct{}

func (localLease) Acquire(context.Context, string, time.Duration) (func(), bool, error) {
	return func() {}, true, nil
}
