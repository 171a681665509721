package metrics

import (
	"time"

	"docbrain/internal/credits"

	"github.com/sony/gobreaker/v2"
)

// UsageRecorder 把计费执行器的事件写入 Prometheus
type UsageRecorder struct{}

// NewUsageRecorder 创建记录器
func NewUsageRecorder() *UsageRecorder {
	return &UsageRecorder{}
}

// RecordCall 记录一次计费操作
func (*UsageRecorder) RecordCall(kind credits.OperationKind, mode credits.FundingMode, outcome string, elapsed time.Duration) {
	ProviderCallsTotal.WithLabelValues(string(kind), string(mode), outcome).Inc()
	if outcome != credits.OutcomeRejected {
		ProviderCallDuration.WithLabelValues(string(kind)).Observe(elapsed.Seconds())
	}
}

// RecordCharge 记录扣费
func (*UsageRecorder) RecordCharge(kind credits.OperationKind, amount int64) {
	CreditsChargedTotal.WithLabelValues(string(kind)).Add(float64(amount))
}

// RecordUnbilled 记录未扣费的成功调用
func (*UsageRecorder) RecordUnbilled(kind credits.OperationKind) {
	UnbilledOperationsTotal.WithLabelValues(string(kind)).Inc()
}

// RecordBreakerState 记录熔断器状态
func RecordBreakerState(name string, state gobreaker.State) {
	BreakerState.WithLabelValues(name).Set(float64(state))
}
