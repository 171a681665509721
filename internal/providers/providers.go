// Package providers 定义外部服务（文档解析、检索、文本生成、支付）的调用契约
package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"docbrain/internal/metrics"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// ============ 文档解析 ============

// Element 文档解析得到的结构化片段
type Element struct {
	Type      string         `json:"type"`
	ElementID string         `json:"element_id"`
	Text      string         `json:"text"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Parser 文档解析服务
type Parser interface {
	Partition(ctx context.Context, apiKey, filename string, content io.Reader) ([]Element, error)
}

// JoinText 拼接片段文本，跳过空片段
func JoinText(elements []Element) string {
	var b strings.Builder
	for _, e := range elements {
		text := strings.TrimSpace(e.Text)
		if text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(text)
	}
	return b.String()
}

// ============ 检索 ============

// RetrievalDocument 检索服务中的文档
type RetrievalDocument struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

// 检索服务文档状态
const (
	RetrievalStatusReady  = "ready"
	RetrievalStatusFailed = "failed"
)

// Ready 是否可检索
func (d *RetrievalDocument) Ready() bool {
	return d != nil && d.Status == RetrievalStatusReady
}

// Failed 是否处理失败
func (d *RetrievalDocument) Failed() bool {
	return d != nil && d.Status == RetrievalStatusFailed
}

// Passage 检索得到的文本段落
type Passage struct {
	Text       string  `json:"text"`
	Score      float64 `json:"score"`
	DocumentID string  `json:"document_id"`
}

// RetrieveRequest 检索请求
type RetrieveRequest struct {
	Query      string
	Scope      string // 分区，按用户隔离
	DocumentID string // 限定到单个文档，可为空
	TopK       int
}

// Retriever 检索服务
type Retriever interface {
	Register(ctx context.Context, apiKey, scope, name string, content io.Reader) (*RetrievalDocument, error)
	Status(ctx context.Context, apiKey, documentID string) (*RetrievalDocument, error)
	Retrieve(ctx context.Context, apiKey string, req RetrieveRequest) ([]Passage, error)
}

// ============ 文本生成 ============

// Generator 文本生成服务
type Generator interface {
	Generate(ctx context.Context, apiKey, systemPrompt, userPrompt string) (string, error)
	// GenerateStream 流式生成，每个增量片段回调一次，返回完整文本
	GenerateStream(ctx context.Context, apiKey, systemPrompt, userPrompt string, onChunk func(string)) (string, error)
}

// ============ 支付 ============

// PaymentIntent 支付意图
type PaymentIntent struct {
	ID           string            `json:"id"`
	ClientSecret string            `json:"client_secret"`
	Status       string            `json:"status"`
	Amount       int64             `json:"amount"`
	Currency     string            `json:"currency"`
	Metadata     map[string]string `json:"metadata"`
}

// PaymentStatusSucceeded 支付成功
const PaymentStatusSucceeded = "succeeded"

// Succeeded 是否已支付成功
func (p *PaymentIntent) Succeeded() bool {
	return p != nil && p.Status == PaymentStatusSucceeded
}

// ErrPaymentNotConfigured 未配置支付密钥
var ErrPaymentNotConfigured = errors.New("支付服务未配置")

// PaymentError 支付服务返回的错误，Message 为支付服务给出的说明
type PaymentError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *PaymentError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("支付服务返回状态码 %d", e.StatusCode)
	}
	return e.Message
}

// PaymentProvider 支付服务
type PaymentProvider interface {
	CreateIntent(ctx context.Context, amount int64, currency string, metadata map[string]string) (*PaymentIntent, error)
	GetIntent(ctx context.Context, id string) (*PaymentIntent, error)
}

// BreakerLogger 熔断状态变化时记录日志和指标
func BreakerLogger(log *zap.Logger) func(name string, from, to gobreaker.State) {
	return func(name string, from, to gobreaker.State) {
		metrics.RecordBreakerState(name, to)
		if log == nil {
			return
		}
		log.Warn("外部服务熔断状态变化",
			zap.String("provider", name),
			zap.String("from", from.String()),
			zap.String("to", to.String()))
	}
}
