package credits

import (
	"context"
	"fmt"

	"docbrain/internal/logger"

	"go.uber.org/zap"
)

// Ledger 积分账本，唯一允许修改余额的组件
// 所有变动都是存储端的原子增减，变动后刷新本地镜像
type Ledger struct {
	store ProfileStore
	cache *ProfileCache
	txlog TransactionLog
	log   *zap.Logger
}

// NewLedger 创建账本；txlog 可为 nil
func NewLedger(store ProfileStore, cache *ProfileCache, txlog TransactionLog, log *zap.Logger) *Ledger {
	return &Ledger{
		store: store,
		cache: cache,
		txlog: txlog,
		log:   logger.OrNop(log),
	}
}

// Increment 增加积分
func (l *Ledger) Increment(ctx context.Context, uid string, amount int64, memo Memo) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if memo.Type == "" {
		memo.Type = TransactionTypeTopUp
	}
	return l.apply(ctx, uid, amount, memo)
}

// Decrement 扣减积分
// 先用本地镜像中的余额快速判断，不足时直接返回 false，不访问存储
// 该判断只是建议性的：其他会话的并发扣减可能尚未反映到镜像中
func (l *Ledger) Decrement(ctx context.Context, uid string, amount int64, memo Memo) (bool, error) {
	if amount <= 0 {
		return false, ErrInvalidAmount
	}

	cached, ok := l.cache.Current(uid)
	if !ok {
		var err error
		if cached, err = l.cache.Fetch(ctx, uid); err != nil {
			return false, err
		}
	}
	if cached.Credits < amount {
		return false, nil
	}

	if memo.Type == "" {
		memo.Type = TransactionTypeConsume
	}
	if err := l.apply(ctx, uid, -amount, memo); err != nil {
		return false, err
	}
	return true, nil
}

// Balance 读取最新余额并刷新镜像
func (l *Ledger) Balance(ctx context.Context, uid string) (int64, error) {
	p, err := l.cache.Refresh(ctx, uid)
	if err != nil {
		return 0, err
	}
	return p.Credits, nil
}

// apply 执行原子增减；无论成败都从存储重新读取镜像
func (l *Ledger) apply(ctx context.Context, uid string, delta int64, memo Memo) error {
	log := logger.With(ctx, l.log).With(
		zap.String("uid", uid),
		zap.Int64("delta", delta),
		zap.String("kind", string(memo.Kind)),
	)

	if err := l.store.AtomicIncrement(ctx, uid, ColumnCredits, delta); err != nil {
		if _, rerr := l.cache.Refresh(ctx, uid); rerr != nil {
			log.Warn("积分变动失败后刷新镜像失败", zap.Error(rerr))
			l.cache.Invalidate(uid)
		}
		log.Error("积分变动失败", zap.Error(err))
		return fmt.Errorf("积分变动失败: %w", err)
	}

	balance := int64(0)
	profile, err := l.cache.Refresh(ctx, uid)
	if err != nil {
		// 变动已生效，镜像无法确认时丢弃，避免保留过期余额
		log.Warn("积分变动后刷新镜像失败", zap.Error(err))
		l.cache.Invalidate(uid)
	} else {
		balance = profile.Credits
	}

	log.Info("积分变动", zap.Int64("balance", balance))
	l.record(ctx, uid, delta, balance, memo, log)
	return nil
}

func (l *Ledger) record(ctx context.Context, uid string, delta, balance int64, memo Memo, log *zap.Logger) {
	if l.txlog == nil {
		return
	}
	tx := &CreditTransaction{
		UID:          uid,
		Type:         memo.Type,
		Amount:       delta,
		BalanceAfter: balance,
		Kind:         memo.Kind,
		Reference:    memo.Reference,
		Description:  memo.Description,
	}
	if err := l.txlog.Record(ctx, tx); err != nil {
		log.Warn("记录积分流水失败", zap.Error(err))
	}
}
