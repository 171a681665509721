package credits

import (
	"context"
	"time"

	"docbrain/internal/logger"

	"go.uber.org/zap"
)

// Operation 一次外部调用，key 为本次使用的服务密钥
type Operation func(ctx context.Context, key string) error

// 调用结果
const (
	OutcomeSuccess  = "success"
	OutcomeFailed   = "failed"
	OutcomeRejected = "rejected"
)

// UsageRecorder 计费调用的指标记录
type UsageRecorder interface {
	RecordCall(kind OperationKind, mode FundingMode, outcome string, elapsed time.Duration)
	RecordCharge(kind OperationKind, amount int64)
	RecordUnbilled(kind OperationKind)
}

type noopRecorder struct{}

func (noopRecorder) RecordCall(OperationKind, FundingMode, string, time.Duration) {}
func (noopRecorder) RecordCharge(OperationKind, int64)                             {}
func (noopRecorder) RecordUnbilled(OperationKind)                                  {}

// ExecutorOption 执行器选项
type ExecutorOption func(*Executor)

// WithCallTimeout 设置单次外部调用的超时时间，<=0 表示不限制
func WithCallTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		e.timeout = d
	}
}

// WithUsageRecorder 设置指标记录器
func WithUsageRecorder(r UsageRecorder) ExecutorOption {
	return func(e *Executor) {
		if r != nil {
			e.recorder = r
		}
	}
}

// WithLogger 设置日志
func WithLogger(l *zap.Logger) ExecutorOption {
	return func(e *Executor) {
		e.log = logger.OrNop(l)
	}
}

// Executor 计费操作执行器
// 解析密钥、执行外部调用，只有调用成功后才扣减积分；从不自动重试
type Executor struct {
	costs    *CostTable
	keys     *KeyResolver
	ledger   *Ledger
	timeout  time.Duration
	recorder UsageRecorder
	log      *zap.Logger
}

// NewExecutor 创建执行器
func NewExecutor(costs *CostTable, keys *KeyResolver, ledger *Ledger, opts ...ExecutorOption) *Executor {
	e := &Executor{
		costs:    costs,
		keys:     keys,
		ledger:   ledger,
		recorder: noopRecorder{},
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Costs 返回成本表
func (e *Executor) Costs() *CostTable {
	return e.costs
}

// ResolveKey 只解析密钥，不检查余额也不计费，用于非计费的辅助调用
func (e *Executor) ResolveKey(kind OperationKind, profile Profile) (Funding, error) {
	return e.keys.Resolve(kind, profile)
}

// RunBilled 执行一次计费操作
//
// 积分模式：余额不足或平台密钥缺失时不调用 op；op 成功后扣减 CostOf(kind)，失败不扣减。
// 自带密钥模式：用户密钥缺失时不调用 op；无论结果都不涉及积分。
// op 成功但扣减失败时只记录日志等待对账，不向调用方返回错误。
func (e *Executor) RunBilled(ctx context.Context, kind OperationKind, profile Profile, op Operation) error {
	cost := e.costs.CostOf(kind)
	log := logger.With(ctx, e.log).With(
		zap.String("uid", profile.UID),
		zap.String("kind", string(kind)),
		zap.Int64("cost", cost),
	)

	if profile.UseCredits && profile.Credits < cost {
		e.recorder.RecordCall(kind, FundingCredits, OutcomeRejected, 0)
		log.Info("积分不足，拒绝调用", zap.Int64("balance", profile.Credits))
		return &InsufficientCreditsError{Kind: kind, Required: cost, Available: profile.Credits}
	}

	funding, err := e.keys.Resolve(kind, profile)
	if err != nil {
		mode := FundingOwnKey
		if profile.UseCredits {
			mode = FundingCredits
		}
		e.recorder.RecordCall(kind, mode, OutcomeRejected, 0)
		log.Warn("无法解析 API Key", zap.Error(err))
		return err
	}

	start := time.Now()
	if err := e.invoke(ctx, kind, funding.Key, op); err != nil {
		e.recorder.RecordCall(kind, funding.Mode, OutcomeFailed, time.Since(start))
		log.Warn("外部调用失败，不扣除积分", zap.String("mode", string(funding.Mode)), zap.Error(err))
		return err
	}
	e.recorder.RecordCall(kind, funding.Mode, OutcomeSuccess, time.Since(start))

	if funding.Mode != FundingCredits {
		return nil
	}

	// 服务已交付，调用方取消请求也要完成扣费
	billCtx := context.WithoutCancel(ctx)
	memo := Memo{Type: TransactionTypeConsume, Kind: kind, Description: "调用 " + kind.Provider().DisplayName()}
	applied, err := e.ledger.Decrement(billCtx, profile.UID, cost, memo)
	switch {
	case err != nil:
		e.recorder.RecordUnbilled(kind)
		log.Warn("调用成功但扣费失败", zap.Bool("reconcile", true), zap.Error(err))
	case !applied:
		e.recorder.RecordUnbilled(kind)
		log.Warn("调用成功但余额已不足，未扣费", zap.Bool("reconcile", true))
	default:
		e.recorder.RecordCharge(kind, cost)
	}
	return nil
}

// invoke 在超时控制下执行 op，错误统一包装为 ProviderError
func (e *Executor) invoke(ctx context.Context, kind OperationKind, key string, op Operation) error {
	callCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	if err := op(callCtx, key); err != nil {
		return wrapProviderError(callCtx, kind, err)
	}
	return nil
}
