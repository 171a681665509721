// Package unstructured Unstructured 文档解析 API 客户端
package unstructured

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"docbrain/internal/providers"
	"docbrain/pkg/httputil"

	"go.uber.org/zap"
)

const (
	defaultBaseURL = "https://api.unstructuredapp.io"
	partitionPath  = "/general/v0/general"
	apiKeyHeader   = "unstructured-api-key"
)

// Config 客户端配置
type Config struct {
	BaseURL  string
	Timeout  time.Duration
	Strategy string // auto, fast, hi_res
}

// Client 文档解析客户端
type Client struct {
	http     *httputil.Client
	baseURL  string
	strategy string
}

var _ providers.Parser = (*Client)(nil)

// NewClient 创建客户端
func NewClient(cfg Config, log *zap.Logger) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	strategy := cfg.Strategy
	if strategy == "" {
		strategy = "auto"
	}
	return &Client{
		http: httputil.NewClient(
			httputil.WithTimeout(cfg.Timeout),
			httputil.WithBreaker(httputil.BreakerSettings{
				Name:          "unstructured",
				OnStateChange: providers.BreakerLogger(log),
			}),
		),
		baseURL:  baseURL,
		strategy: strategy,
	}
}

// Partition 上传文件并返回结构化片段
func (c *Client) Partition(ctx context.Context, apiKey, filename string, content io.Reader) ([]providers.Element, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("files", filename)
	if err != nil {
		return nil, fmt.Errorf("构建上传表单失败: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return nil, fmt.Errorf("读取文件失败: %w", err)
	}
	if err := writer.WriteField("strategy", c.strategy); err != nil {
		return nil, fmt.Errorf("构建上传表单失败: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("构建上传表单失败: %w", err)
	}

	headers := map[string]string{
		apiKeyHeader: apiKey,
		"Accept":     "application/json",
	}

	var elements []providers.Element
	err = c.http.Request(ctx, http.MethodPost, c.baseURL+partitionPath, writer.FormDataContentType(), &body, headers, &elements)
	if err != nil {
		return nil, fmt.Errorf("文档解析失败: %w", err)
	}
	return elements, nil
}
