package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// API 指标
var (
	// APIRequestsTotal API 请求总数
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docbrain_api_requests_total",
			Help: "API 请求总数",
		},
		[]string{"method", "path", "status"},
	)

	// APIRequestDuration API 请求延迟（秒）
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docbrain_api_request_duration_seconds",
			Help:    "API 请求延迟分布",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// APIResponseSize API 响应体大小（字节）
	APIResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docbrain_api_response_size_bytes",
			Help:    "API 响应体大小分布",
			Buckets: []float64{100, 1000, 10000, 100000, 1000000},
		},
		[]string{"method", "path"},
	)
)

// 外部服务调用与计费指标
var (
	// ProviderCallsTotal 计费操作调用总数
	// outcome: success, failed, rejected（调用前被拒绝，如余额不足）
	ProviderCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docbrain_provider_calls_total",
			Help: "计费操作调用总数",
		},
		[]string{"kind", "mode", "outcome"},
	)

	// ProviderCallDuration 外部服务调用耗时（秒）
	ProviderCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docbrain_provider_call_duration_seconds",
			Help:    "外部服务调用耗时分布",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"kind"},
	)

	// CreditsChargedTotal 已扣除的积分
	CreditsChargedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docbrain_credits_charged_total",
			Help: "已扣除的积分总数",
		},
		[]string{"kind"},
	)

	// UnbilledOperationsTotal 调用成功但未能扣费、等待对账的操作数
	UnbilledOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docbrain_unbilled_operations_total",
			Help: "调用成功但扣费失败的操作数",
		},
		[]string{"kind"},
	)

	// BreakerState 熔断器状态：0 closed, 1 half-open, 2 open
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "docbrain_provider_breaker_state",
			Help: "外部服务熔断器状态",
		},
		[]string{"name"},
	)
)

// 支付指标
var (
	// PaymentsConfirmedTotal 支付确认次数
	// result: recorded, duplicate, rejected
	PaymentsConfirmedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docbrain_payments_confirmed_total",
			Help: "支付确认次数",
		},
		[]string{"result"},
	)

	// CreditsToppedUpTotal 充值发放的积分
	CreditsToppedUpTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "docbrain_credits_topped_up_total",
			Help: "充值发放的积分总数",
		},
	)
)

// 数据库指标
var (
	// DBConnections 数据库连接数
	DBConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "docbrain_db_connections",
			Help: "数据库连接数",
		},
		[]string{"state"}, // state: open, in_use, idle
	)
)

// 系统指标
var (
	// BuildInfo 构建信息
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "docbrain_build_info",
			Help: "DocBrain 构建信息",
		},
		[]string{"version", "go_version", "commit"},
	)
)

// RecordBuildInfo 记录构建信息
func RecordBuildInfo(version, goVersion, commit string) {
	BuildInfo.WithLabelValues(version, goVersion, commit).Set(1)
}
