// Package openai OpenAI 兼容接口的文本生成客户端
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"docbrain/internal/providers"
	"docbrain/pkg/httputil"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

const defaultModel = openai.GPT4oMini

// Config 客户端配置
type Config struct {
	BaseURL     string
	Model       string
	Timeout     time.Duration
	MaxTokens   int
	Temperature float32
}

// Client 文本生成客户端
// 每次调用使用传入的密钥构建请求，不做自动重试
type Client struct {
	cfg        Config
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[string]
}

var _ providers.Generator = (*Client)(nil)

// NewClient 创建客户端
func NewClient(cfg Config, log *zap.Logger) *Client {
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 90 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		breaker: gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
			Name:        "openai",
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.Requests >= 5 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
			},
			IsSuccessful:  isSuccessful,
			OnStateChange: providers.BreakerLogger(log),
		}),
	}
}

func (c *Client) client(apiKey string) *openai.Client {
	config := openai.DefaultConfig(apiKey)
	if c.cfg.BaseURL != "" {
		config.BaseURL = c.cfg.BaseURL
	}
	config.HTTPClient = c.httpClient
	return openai.NewClientWithConfig(config)
}

func (c *Client) request(systemPrompt, userPrompt string, stream bool) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if strings.TrimSpace(systemPrompt) != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: systemPrompt})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: userPrompt})
	return openai.ChatCompletionRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
		Stream:      stream,
	}
}

// Generate 对话补全（非流式）
func (c *Client) Generate(ctx context.Context, apiKey, systemPrompt, userPrompt string) (string, error) {
	text, err := c.breaker.Execute(func() (string, error) {
		resp, err := c.client(apiKey).CreateChatCompletion(ctx, c.request(systemPrompt, userPrompt, false))
		if err != nil {
			return "", err
		}
		if len(resp.Choices) == 0 {
			return "", fmt.Errorf("API 返回空响应")
		}
		return resp.Choices[0].Message.Content, nil
	})
	if err != nil {
		return "", wrapError(err)
	}
	return text, nil
}

// GenerateStream 对话补全（流式）
func (c *Client) GenerateStream(ctx context.Context, apiKey, systemPrompt, userPrompt string, onChunk func(string)) (string, error) {
	text, err := c.breaker.Execute(func() (string, error) {
		stream, err := c.client(apiKey).CreateChatCompletionStream(ctx, c.request(systemPrompt, userPrompt, true))
		if err != nil {
			return "", err
		}
		defer stream.Close()

		var b strings.Builder
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return b.String(), nil
			}
			if err != nil {
				return "", err
			}
			if len(resp.Choices) == 0 {
				continue
			}
			delta := resp.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			b.WriteString(delta)
			if onChunk != nil {
				onChunk(delta)
			}
		}
	})
	if err != nil {
		return "", wrapError(err)
	}
	return text, nil
}

// isSuccessful 只有服务端错误、限流和网络错误计入熔断
func isSuccessful(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return true
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode < 500 && apiErr.HTTPStatusCode != http.StatusTooManyRequests
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode < 500 && reqErr.HTTPStatusCode != http.StatusTooManyRequests
	}
	return false
}

// wrapError 转换为带状态码与服务端提示的错误
func wrapError(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: openai", httputil.ErrServiceUnavailable)
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &httputil.StatusError{StatusCode: apiErr.HTTPStatusCode, Message: apiErr.Message}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		msg := httputil.ExtractErrorMessage(reqErr.Body)
		if msg == "" && reqErr.Err != nil {
			msg = reqErr.Err.Error()
		}
		return &httputil.StatusError{StatusCode: reqErr.HTTPStatusCode, Message: msg}
	}
	return fmt.Errorf("OpenAI 调用失败: %w", err)
}
