package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"docbrain/internal/credits"
	"docbrain/internal/logger"
	"docbrain/internal/qa"
	"docbrain/internal/worker/tasks"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// Uploader 执行上传并等待文档可检索
type Uploader interface {
	EnsureUploaded(ctx context.Context, uid, docID string) (*qa.Document, error)
}

// UploadHandler 文档上传任务处理器
type UploadHandler struct {
	uploader Uploader
	logger   *zap.Logger
}

// NewUploadHandler 创建处理器
func NewUploadHandler(uploader Uploader, log *zap.Logger) *UploadHandler {
	return &UploadHandler{uploader: uploader, logger: logger.OrNop(log)}
}

// HandleUploadDocument 上传文档；重试只会继续等待已登记的文档，不会重复上传
func (h *UploadHandler) HandleUploadDocument(ctx context.Context, t *asynq.Task) error {
	var p tasks.UploadDocumentPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("解析任务载荷失败: %v: %w", err, asynq.SkipRetry)
	}
	log := h.logger.With(zap.String("uid", p.UID), zap.String("document_id", p.DocumentID))

	_, err := h.uploader.EnsureUploaded(ctx, p.UID, p.DocumentID)
	switch {
	case err == nil:
		log.Info("文档上传任务完成")
		return nil
	case errors.Is(err, qa.ErrUploadInProgress):
		// 其他实例持有租约，由它完成
		log.Info("文档正由其他实例上传")
		return nil
	case permanent(err):
		log.Warn("文档上传任务失败，不再重试", zap.Error(err))
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	default:
		log.Warn("文档上传任务失败，稍后重试", zap.Error(err))
		return err
	}
}

func permanent(err error) bool {
	return errors.Is(err, qa.ErrRetrievalFailed) ||
		errors.Is(err, qa.ErrDocumentNotFound) ||
		errors.Is(err, credits.ErrPlatformKeyMissing) ||
		credits.IsMissingKey(err)
}
