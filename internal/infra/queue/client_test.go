package queue

import (
	"context"
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"docbrain/internal/config"
	"docbrain/internal/worker/tasks"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisConnOpt(t *testing.T) {
	t.Run("单节点", func(t *testing.T) {
		opt, ok := RedisConnOpt(config.RedisConfig{Host: "redis", Port: 6380, DB: 2}).(asynq.RedisClientOpt)
		require.True(t, ok)
		assert.Equal(t, "redis:6380", opt.Addr)
		assert.Equal(t, 2, opt.DB)
	})

	t.Run("哨兵", func(t *testing.T) {
		opt, ok := RedisConnOpt(config.RedisConfig{Mode: "sentinel", MasterName: "m", SentinelAddrs: []string{"s:26379"}}).(asynq.RedisFailoverClientOpt)
		require.True(t, ok)
		assert.Equal(t, "m", opt.MasterName)
	})

	t.Run("集群", func(t *testing.T) {
		_, ok := RedisConnOpt(config.RedisConfig{Mode: "cluster", ClusterAddrs: []string{"a:7000"}}).(asynq.RedisClusterClientOpt)
		assert.True(t, ok)
	})
}

func TestNewUploadTask(t *testing.T) {
	task, err := NewUploadTask("user-1", "doc-1")
	require.NoError(t, err)
	assert.Equal(t, tasks.TypeUploadDocument, task.Type())

	var p tasks.UploadDocumentPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &p))
	assert.Equal(t, tasks.UploadDocumentPayload{UID: "user-1", DocumentID: "doc-1"}, p)
}

func TestClient_ScheduleUpload(t *testing.T) {
	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)

	client := NewClient(config.RedisConfig{Host: mr.Host(), Port: port}, time.Minute)
	t.Cleanup(func() { client.Close() })

	t.Run("同一文档重复提交只排队一次", func(t *testing.T) {
		ctx := context.Background()
		require.NoError(t, client.ScheduleUpload(ctx, "user-1", "doc-1"))
		require.NoError(t, client.ScheduleUpload(ctx, "user-1", "doc-1"))

		pending, err := mr.List("asynq:{" + tasks.QueueRetrieval + "}:pending")
		require.NoError(t, err)
		assert.Len(t, pending, 1)
	})
}
