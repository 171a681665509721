// Package stripe 基于 stripe-go 的 PaymentIntent 客户端
package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"docbrain/internal/logger"
	"docbrain/internal/providers"
	"docbrain/pkg/httputil"

	"github.com/sony/gobreaker/v2"
	stripe "github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
	"go.uber.org/zap"
)

// Config 客户端配置；BaseURL 为空时使用 Stripe 官方地址
type Config struct {
	SecretKey string
	BaseURL   string
	Timeout   time.Duration
}

// Client 支付客户端，使用平台密钥，不做自动重试
type Client struct {
	api        *client.API
	configured bool
	breaker    *gobreaker.CircuitBreaker[*stripe.PaymentIntent]
}

var _ providers.PaymentProvider = (*Client)(nil)

// NewClient 创建客户端
func NewClient(cfg Config, log *zap.Logger) *Client {
	log = logger.OrNop(log)
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	backendCfg := &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: cfg.Timeout},
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     log.Named("stripe").Sugar(),
	}
	if baseURL := strings.TrimRight(cfg.BaseURL, "/"); baseURL != "" {
		backendCfg.URL = stripe.String(baseURL)
	}
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg)

	api := &client.API{}
	api.Init(cfg.SecretKey, &stripe.Backends{API: backend, Connect: backend, Uploads: backend})

	return &Client{
		api:        api,
		configured: strings.TrimSpace(cfg.SecretKey) != "",
		breaker: gobreaker.NewCircuitBreaker[*stripe.PaymentIntent](gobreaker.Settings{
			Name:          "stripe",
			MaxRequests:   1,
			Timeout:       30 * time.Second,
			IsSuccessful:  isSuccessful,
			OnStateChange: providers.BreakerLogger(log),
		}),
	}
}

// CreateIntent 创建支付意图，amount 为最小货币单位
func (c *Client) CreateIntent(ctx context.Context, amount int64, currency string, metadata map[string]string) (*providers.PaymentIntent, error) {
	if !c.configured {
		return nil, providers.ErrPaymentNotConfigured
	}
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amount),
		Currency: stripe.String(strings.ToLower(currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}

	pi, err := c.breaker.Execute(func() (*stripe.PaymentIntent, error) {
		return c.api.PaymentIntents.New(params)
	})
	if err != nil {
		return nil, translate(err)
	}
	return toIntent(pi), nil
}

// GetIntent 查询支付意图
func (c *Client) GetIntent(ctx context.Context, id string) (*providers.PaymentIntent, error) {
	if !c.configured {
		return nil, providers.ErrPaymentNotConfigured
	}
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	pi, err := c.breaker.Execute(func() (*stripe.PaymentIntent, error) {
		return c.api.PaymentIntents.Get(id, params)
	})
	if err != nil {
		return nil, translate(err)
	}
	return toIntent(pi), nil
}

func toIntent(pi *stripe.PaymentIntent) *providers.PaymentIntent {
	return &providers.PaymentIntent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       string(pi.Status),
		Amount:       pi.Amount,
		Currency:     string(pi.Currency),
		Metadata:     pi.Metadata,
	}
}

// translate 把 SDK 错误转换为 providers.PaymentError，保留 Stripe 给出的说明
func translate(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: stripe", httputil.ErrServiceUnavailable)
	}
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return &providers.PaymentError{
			StatusCode: stripeErr.HTTPStatusCode,
			Code:       string(stripeErr.Code),
			Message:    stripeErr.Msg,
		}
	}
	return err
}

// isSuccessful 请求参数类错误（4xx）不计入熔断
func isSuccessful(err error) bool {
	if err == nil {
		return true
	}
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return stripeErr.HTTPStatusCode > 0 && stripeErr.HTTPStatusCode < 500 && stripeErr.HTTPStatusCode != http.StatusTooManyRequests
	}
	return false
}
