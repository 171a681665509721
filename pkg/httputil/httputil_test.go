package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
)

// TestNewClient 测试创建基础客户端
func TestNewClient(t *testing.T) {
	client := NewClient()
	if client.timeout != 30*time.Second {
		t.Errorf("默认超时时间应为30秒，实际为 %v", client.timeout)
	}
	if client.headers["User-Agent"] != "DocBrain/1.0" {
		t.Errorf("默认User-Agent不正确: %s", client.headers["User-Agent"])
	}

	customClient := NewClient(
		WithTimeout(10*time.Second),
		WithHeaders(map[string]string{"X-Custom": "value"}),
	)
	if customClient.timeout != 10*time.Second {
		t.Errorf("自定义超时时间应为10秒，实际为 %v", customClient.timeout)
	}
	if customClient.headers["X-Custom"] != "value" {
		t.Errorf("自定义头未设置")
	}
}

// TestClientGetJSON 测试GetJSON方法
func TestClientGetJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("期望GET请求，实际为 %s", r.Method)
		}
		if r.Header.Get("Authorization") != "Bearer k" {
			t.Errorf("请求头未传递")
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}))
	defer server.Close()

	var result map[string]string
	err := NewClient().GetJSON(context.Background(), server.URL, map[string]string{"Authorization": "Bearer k"}, &result)
	if err != nil {
		t.Fatalf("GetJSON() 错误: %v", err)
	}
	if result["status"] != "ok" {
		t.Errorf("期望 status='ok'，实际为 '%s'", result["status"])
	}
}

// TestClientPostJSON 测试PostJSON方法
func TestClientPostJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("期望Content-Type为application/json")
		}
		var reqBody map[string]string
		json.NewDecoder(r.Body).Decode(&reqBody)
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"echo": reqBody["message"]})
	}))
	defer server.Close()

	var result map[string]string
	err := NewClient().PostJSON(context.Background(), server.URL, nil, map[string]string{"message": "hello"}, &result)
	if err != nil {
		t.Fatalf("PostJSON() 错误: %v", err)
	}
	if result["echo"] != "hello" {
		t.Errorf("期望 echo='hello'，实际为 '%s'", result["echo"])
	}
}

// TestClientPostForm 测试表单请求
func TestClientPostForm(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("解析表单失败: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]string{"amount": r.PostForm.Get("amount")})
	}))
	defer server.Close()

	var result map[string]string
	err := NewClient().PostForm(context.Background(), server.URL, nil, url.Values{"amount": {"500"}}, &result)
	if err != nil {
		t.Fatalf("PostForm() 错误: %v", err)
	}
	if result["amount"] != "500" {
		t.Errorf("表单字段未传递: %v", result)
	}
}

// TestClientStatusError 测试错误响应中的提示信息
func TestClientStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"rate limited","type":"requests"}}`))
	}))
	defer server.Close()

	err := NewClient().GetJSON(context.Background(), server.URL, nil, nil)
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("期望 StatusError，实际为 %v", err)
	}
	if se.StatusCode != http.StatusTooManyRequests || se.Message != "rate limited" {
		t.Errorf("错误信息解析不正确: %+v", se)
	}
	if !se.Temporary() {
		t.Errorf("429 应视为临时错误")
	}
}

// TestExtractErrorMessage 测试错误字段提取
func TestExtractErrorMessage(t *testing.T) {
	cases := map[string]string{
		`{"message":"bad key"}`:                   "bad key",
		`{"detail":"document not found"}`:         "document not found",
		`{"detail":[{"msg":"field required"}]}`:   "field required",
		`{"error":"invalid_request"}`:             "invalid_request",
		`upstream exploded`:                       "upstream exploded",
		``:                                        "",
	}
	for body, want := range cases {
		if got := ExtractErrorMessage([]byte(body)); got != want {
			t.Errorf("ExtractErrorMessage(%q) = %q, 期望 %q", body, got, want)
		}
	}
}

// TestClientBreaker 测试熔断后不再请求上游
func TestClientBreaker(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(WithBreaker(BreakerSettings{Name: "test", MinRequests: 2, FailureRatio: 0.5, OpenTimeout: time.Minute}))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := client.GetJSON(ctx, server.URL, nil, nil); err == nil {
			t.Fatalf("期望请求失败")
		}
	}
	if client.BreakerState() != gobreaker.StateOpen {
		t.Fatalf("熔断器应已打开，实际为 %s", client.BreakerState())
	}

	err := client.GetJSON(ctx, server.URL, nil, nil)
	if !errors.Is(err, ErrServiceUnavailable) {
		t.Errorf("期望 ErrServiceUnavailable，实际为 %v", err)
	}
	if hits.Load() != 2 {
		t.Errorf("熔断后不应再访问上游，实际请求 %d 次", hits.Load())
	}
}

// TestClientBreakerIgnoresClientErrors 4xx 不计入熔断
func TestClientBreakerIgnoresClientErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	client := NewClient(WithBreaker(BreakerSettings{Name: "test", MinRequests: 1}))
	for i := 0; i < 5; i++ {
		client.GetJSON(context.Background(), server.URL, nil, nil)
	}
	if client.BreakerState() != gobreaker.StateClosed {
		t.Errorf("客户端错误不应触发熔断")
	}
}
