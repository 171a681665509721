package handlers

import (
	"context"
	"errors"
	"testing"

	"docbrain/internal/credits"
	"docbrain/internal/infra/queue"
	"docbrain/internal/qa"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeUploader struct {
	err      error
	uid, doc string
}

func (f *fakeUploader) EnsureUploaded(ctx context.Context, uid, docID string) (*qa.Document, error) {
	f.uid, f.doc = uid, docID
	if f.err != nil {
		return nil, f.err
	}
	return &qa.Document{ID: docID, UID: uid, RetrievalStatus: qa.StatusReady}, nil
}

func TestUploadHandler(t *testing.T) {
	task, err := queue.NewUploadTask("user-1", "doc-1")
	require.NoError(t, err)

	tests := []struct {
		name      string
		err       error
		wantErr   bool
		skipRetry bool
	}{
		{name: "上传成功", err: nil},
		{name: "其他实例正在上传", err: qa.ErrUploadInProgress},
		{name: "检索服务处理失败不重试", err: qa.ErrRetrievalFailed, wantErr: true, skipRetry: true},
		{name: "缺少用户密钥不重试", err: &credits.MissingUserKeyError{Provider: credits.ProviderRagie}, wantErr: true, skipRetry: true},
		{name: "平台密钥缺失不重试", err: credits.ErrPlatformKeyMissing, wantErr: true, skipRetry: true},
		{name: "尚未就绪稍后重试", err: qa.ErrDocumentNotReady, wantErr: true},
		{name: "外部服务错误稍后重试", err: errors.New("connection reset"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			uploader := &fakeUploader{err: tt.err}
			err := NewUploadHandler(uploader, nil).HandleUploadDocument(context.Background(), task)

			assert.Equal(t, "user-1", uploader.uid)
			assert.Equal(t, "doc-1", uploader.doc)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.skipRetry, errors.Is(err, asynq.SkipRetry))
		})
	}

	t.Run("载荷损坏不重试", func(t *testing.T) {
		err := NewUploadHandler(&fakeUploader{}, nil).
			HandleUploadDocument(context.Background(), asynq.NewTask("retrieval:upload_document", []byte("{")))
		assert.ErrorIs(t, err, asynq.SkipRetry)
	})
}
