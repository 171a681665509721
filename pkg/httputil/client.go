package httputil

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/tidwall/gjson"
)

// ErrServiceUnavailable 熔断器打开时返回
var ErrServiceUnavailable = errors.New("外部服务暂不可用，请稍后重试")

// StatusError 外部服务返回的非 2xx 响应
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP请求返回错误状态: %d", e.StatusCode)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// Temporary 服务端错误或限流
func (e *StatusError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// errorMessagePaths 常见的错误信息字段
var errorMessagePaths = []string{
	"error.message",
	"error.msg",
	"message",
	"detail",
	"details",
	"error",
}

// ExtractErrorMessage 从响应体中提取错误信息
func ExtractErrorMessage(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	if gjson.ValidBytes(body) {
		for _, path := range errorMessagePaths {
			r := gjson.GetBytes(body, path)
			if r.Exists() && r.Type == gjson.String && strings.TrimSpace(r.String()) != "" {
				return strings.TrimSpace(r.String())
			}
		}
		// detail 也可能是数组（校验错误）
		if r := gjson.GetBytes(body, "detail.0.msg"); r.Exists() {
			return r.String()
		}
	}
	text := strings.TrimSpace(string(body))
	if len(text) > 200 {
		text = text[:200]
	}
	return text
}

// Client HTTP客户端包装器，提供便利的请求方法
// 不做自动重试；可选的熔断器按客户端维度统计失败
type Client struct {
	httpClient *http.Client
	timeout    time.Duration
	headers    map[string]string
	breaker    *gobreaker.CircuitBreaker[*http.Response]
}

// ClientOption 客户端配置选项
type ClientOption func(*Client)

// WithTimeout 设置请求超时时间
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout <= 0 {
			return
		}
		c.timeout = timeout
		c.httpClient.Timeout = timeout
	}
}

// WithHeaders 设置默认请求头
func WithHeaders(headers map[string]string) ClientOption {
	return func(c *Client) {
		for k, v := range headers {
			c.headers[k] = v
		}
	}
}

// WithHTTPClient 替换底层 http.Client（测试用）
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// BreakerSettings 熔断配置
type BreakerSettings struct {
	Name          string
	MinRequests   uint32
	FailureRatio  float64
	OpenTimeout   time.Duration
	OnStateChange func(name string, from, to gobreaker.State)
}

// WithBreaker 启用熔断器：只有服务端错误、限流和网络错误计为失败
func WithBreaker(s BreakerSettings) ClientOption {
	return func(c *Client) {
		if s.MinRequests == 0 {
			s.MinRequests = 5
		}
		if s.FailureRatio <= 0 {
			s.FailureRatio = 0.6
		}
		if s.OpenTimeout <= 0 {
			s.OpenTimeout = 30 * time.Second
		}
		c.breaker = gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
			Name:        s.Name,
			MaxRequests: 1,
			Timeout:     s.OpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				if counts.Requests < s.MinRequests {
					return false
				}
				return float64(counts.TotalFailures)/float64(counts.Requests) >= s.FailureRatio
			},
			IsSuccessful: func(err error) bool {
				if err == nil || errors.Is(err, context.Canceled) {
					return true
				}
				var se *StatusError
				if errors.As(err, &se) {
					return !se.Temporary()
				}
				return false
			},
			OnStateChange: s.OnStateChange,
		})
	}
}

// NewClient 创建HTTP客户端
func NewClient(opts ...ClientOption) *Client {
	client := &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		timeout: 30 * time.Second,
		headers: make(map[string]string),
	}

	for _, opt := range opts {
		opt(client)
	}

	if _, ok := client.headers["User-Agent"]; !ok {
		client.headers["User-Agent"] = "DocBrain/1.0"
	}

	return client
}

// BreakerState 返回熔断器状态，未启用时为 closed
func (c *Client) BreakerState() gobreaker.State {
	if c.breaker == nil {
		return gobreaker.StateClosed
	}
	return c.breaker.State()
}

// applyHeaders 将默认headers应用到请求，已设置的不覆盖
func (c *Client) applyHeaders(req *http.Request) {
	for k, v := range c.headers {
		if req.Header.Get(k) == "" {
			req.Header.Set(k, v)
		}
	}
}

// Do 执行HTTP请求
// 非 2xx 响应会被读取并转换为 *StatusError，调用方只需处理成功响应
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	c.applyHeaders(req)
	req = req.WithContext(ctx)

	send := func() (*http.Response, error) {
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return nil, &StatusError{StatusCode: resp.StatusCode, Message: ExtractErrorMessage(body)}
	}

	if c.breaker == nil {
		return send()
	}
	resp, err := c.breaker.Execute(send)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %s", ErrServiceUnavailable, c.breaker.Name())
	}
	return resp, err
}

// Request 发送请求并解析JSON响应；result 为 nil 时忽略响应体
func (c *Client) Request(ctx context.Context, method, rawURL, contentType string, body io.Reader, headers map[string]string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return fmt.Errorf("创建%s请求失败: %w", method, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if result == nil {
		return nil
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("读取响应失败: %w", err)
	}
	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("解析JSON响应失败: %w", err)
	}
	return nil
}

// GetJSON 发送GET请求并解析JSON响应
func (c *Client) GetJSON(ctx context.Context, rawURL string, headers map[string]string, result interface{}) error {
	return c.Request(ctx, http.MethodGet, rawURL, "", nil, headers, result)
}

// PostJSON 发送POST请求（JSON格式）并解析JSON响应
func (c *Client) PostJSON(ctx context.Context, rawURL string, headers map[string]string, body interface{}, result interface{}) error {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("序列化请求体失败: %w", err)
	}
	return c.Request(ctx, http.MethodPost, rawURL, "application/json", bytes.NewReader(jsonData), headers, result)
}

// PostForm 发送表单请求并解析JSON响应
func (c *Client) PostForm(ctx context.Context, rawURL string, headers map[string]string, form url.Values, result interface{}) error {
	return c.Request(ctx, http.MethodPost, rawURL, "application/x-www-form-urlencoded", strings.NewReader(form.Encode()), headers, result)
}
