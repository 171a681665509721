// Package ragie Ragie 检索 API 客户端
package ragie

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"docbrain/internal/providers"
	"docbrain/pkg/httputil"

	"go.uber.org/zap"
)

const defaultBaseURL = "https://api.ragie.ai"

// Config 客户端配置
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client 检索客户端
type Client struct {
	http    *httputil.Client
	baseURL string
}

var _ providers.Retriever = (*Client)(nil)

// NewClient 创建客户端
func NewClient(cfg Config, log *zap.Logger) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		http: httputil.NewClient(
			httputil.WithTimeout(cfg.Timeout),
			httputil.WithBreaker(httputil.BreakerSettings{
				Name:          "ragie",
				OnStateChange: providers.BreakerLogger(log),
			}),
		),
		baseURL: baseURL,
	}
}

func authHeaders(apiKey string) map[string]string {
	return map[string]string{
		"Authorization": "Bearer " + apiKey,
		"Accept":        "application/json",
	}
}

// Register 上传文档；scope 作为分区，文档需等待 ready 后才可检索
func (c *Client) Register(ctx context.Context, apiKey, scope, name string, content io.Reader) (*providers.RetrievalDocument, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", name)
	if err != nil {
		return nil, fmt.Errorf("构建上传表单失败: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return nil, fmt.Errorf("读取文件失败: %w", err)
	}
	metadata, _ := json.Marshal(map[string]string{"scope": scope})
	fields := map[string]string{
		"name":      name,
		"partition": scope,
		"metadata":  string(metadata),
	}
	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("构建上传表单失败: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("构建上传表单失败: %w", err)
	}

	var doc providers.RetrievalDocument
	err = c.http.Request(ctx, http.MethodPost, c.baseURL+"/documents", writer.FormDataContentType(), &body, authHeaders(apiKey), &doc)
	if err != nil {
		return nil, fmt.Errorf("上传文档到检索服务失败: %w", err)
	}
	if doc.ID == "" {
		return nil, fmt.Errorf("检索服务未返回文档 ID")
	}
	return &doc, nil
}

// Status 查询文档处理状态
func (c *Client) Status(ctx context.Context, apiKey, documentID string) (*providers.RetrievalDocument, error) {
	var doc providers.RetrievalDocument
	endpoint := c.baseURL + "/documents/" + url.PathEscape(documentID)
	if err := c.http.GetJSON(ctx, endpoint, authHeaders(apiKey), &doc); err != nil {
		return nil, fmt.Errorf("查询文档状态失败: %w", err)
	}
	return &doc, nil
}

type retrievalRequest struct {
	Query     string            `json:"query"`
	TopK      int               `json:"top_k,omitempty"`
	Partition string            `json:"partition,omitempty"`
	Filter    map[string]string `json:"filter,omitempty"`
	Rerank    bool              `json:"rerank"`
}

type retrievalResponse struct {
	ScoredChunks []providers.Passage `json:"scored_chunks"`
}

// Retrieve 检索与问题相关的段落
func (c *Client) Retrieve(ctx context.Context, apiKey string, req providers.RetrieveRequest) ([]providers.Passage, error) {
	payload := retrievalRequest{
		Query:     req.Query,
		TopK:      req.TopK,
		Partition: req.Scope,
		Rerank:    true,
	}
	if req.DocumentID != "" {
		payload.Filter = map[string]string{"document_id": req.DocumentID}
	}

	var resp retrievalResponse
	if err := c.http.PostJSON(ctx, c.baseURL+"/retrievals", authHeaders(apiKey), payload, &resp); err != nil {
		return nil, fmt.Errorf("检索失败: %w", err)
	}
	return resp.ScoredChunks, nil
}
