package worker

import (
	"context"

	"docbrain/internal/config"
	"docbrain/internal/infra/queue"
	"docbrain/internal/logger"
	"docbrain/internal/worker/handlers"
	"docbrain/internal/worker/tasks"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// Server 后台任务服务
type Server struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	logger *zap.Logger
}

// NewServer 创建任务服务
func NewServer(cfg config.RedisConfig, concurrency int, uploader handlers.Uploader, log *zap.Logger) *Server {
	log = logger.OrNop(log)
	if concurrency <= 0 {
		concurrency = 4
	}
	srv := asynq.NewServer(queue.RedisConnOpt(cfg), asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{tasks.QueueRetrieval: 1},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			log.Error("任务执行失败", zap.String("type", task.Type()), zap.Error(err))
		}),
	})

	mux := asynq.NewServeMux()
	mux.HandleFunc(tasks.TypeUploadDocument, handlers.NewUploadHandler(uploader, log).HandleUploadDocument)

	return &Server{server: srv, mux: mux, logger: log}
}

// Start 后台启动
func (s *Server) Start() error {
	s.logger.Info("任务服务启动")
	return s.server.Start(s.mux)
}

// Shutdown 等待进行中的任务结束后停止
func (s *Server) Shutdown() {
	s.logger.Info("任务服务停止中")
	s.server.Shutdown()
}
