package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"docbrain/internal/credits"
	"docbrain/internal/logger"
	"docbrain/internal/metrics"
	"docbrain/internal/providers"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrInvalidAmount        = errors.New("支付金额无效")
	ErrPaymentNotSucceeded  = errors.New("支付尚未完成")
	ErrPaymentOwnerMismatch = errors.New("支付不属于当前用户")
	ErrMissingPaymentID     = errors.New("缺少支付 ID")
)

// ProviderError 支付服务调用失败；Error 带上支付服务给出的说明
type ProviderError struct {
	Op  string
	Err error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s失败: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// wrapProviderError 未配置支付密钥保持原样，其余错误标记为支付服务错误
func wrapProviderError(op string, err error) error {
	if errors.Is(err, providers.ErrPaymentNotConfigured) {
		return err
	}
	return &ProviderError{Op: op, Err: err}
}

// minAmount 支付服务允许的最小金额（分）
const minAmount int64 = 50

// TopUpper 积分充值
type TopUpper interface {
	Increment(ctx context.Context, uid string, amount int64, memo credits.Memo) error
}

// Config 支付配置
type Config struct {
	Currency       string
	CreditsPerUnit int64
}

// Service 支付服务：创建支付意图，确认支付并充值积分
type Service struct {
	db       *gorm.DB
	provider providers.PaymentProvider
	ledger   TopUpper
	cfg      Config
	log      *zap.Logger
}

// NewService 创建支付服务
func NewService(db *gorm.DB, provider providers.PaymentProvider, ledger TopUpper, cfg Config, log *zap.Logger) *Service {
	if cfg.Currency == "" {
		cfg.Currency = "usd"
	}
	if cfg.CreditsPerUnit <= 0 {
		cfg.CreditsPerUnit = 100
	}
	return &Service{
		db:       db,
		provider: provider,
		ledger:   ledger,
		cfg:      cfg,
		log:      logger.OrNop(log),
	}
}

// AutoMigrate 迁移支付表
func (s *Service) AutoMigrate() error {
	return s.db.AutoMigrate(&Payment{})
}

// CreditsFor 按金额计算可兑换的积分
func (s *Service) CreditsFor(amount int64) int64 {
	return amount * s.cfg.CreditsPerUnit / 100
}

// CreateIntent 创建支付意图
func (s *Service) CreateIntent(ctx context.Context, uid string, amount int64) (*Intent, error) {
	if amount < minAmount {
		return nil, ErrInvalidAmount
	}
	intent, err := s.provider.CreateIntent(ctx, amount, s.cfg.Currency, map[string]string{"uid": uid})
	if err != nil {
		return nil, wrapProviderError("创建支付", err)
	}
	logger.With(ctx, s.log).Info("创建支付意图",
		zap.String("uid", uid),
		zap.String("intent_id", intent.ID),
		zap.Int64("amount", amount))
	return &Intent{
		ID:           intent.ID,
		ClientSecret: intent.ClientSecret,
		Amount:       intent.Amount,
		Currency:     intent.Currency,
		Credits:      s.CreditsFor(amount),
	}, nil
}

// Confirm 在服务端校验支付并充值积分
// 同一支付 ID 只记录一次、只充值一次；重复确认返回已有记录
func (s *Service) Confirm(ctx context.Context, uid, intentID string) (*ConfirmResult, error) {
	intentID = strings.TrimSpace(intentID)
	if intentID == "" {
		return nil, ErrMissingPaymentID
	}
	log := logger.With(ctx, s.log).With(zap.String("uid", uid), zap.String("intent_id", intentID))

	intent, err := s.provider.GetIntent(ctx, intentID)
	if err != nil {
		log.Warn("查询支付失败", zap.Error(err))
		return nil, wrapProviderError("查询支付", err)
	}
	if !intent.Succeeded() {
		metrics.PaymentsConfirmedTotal.WithLabelValues("rejected").Inc()
		return nil, ErrPaymentNotSucceeded
	}
	if intent.Metadata["uid"] != uid {
		metrics.PaymentsConfirmedTotal.WithLabelValues("rejected").Inc()
		log.Warn("支付所属用户不匹配", zap.String("intent_uid", intent.Metadata["uid"]))
		return nil, ErrPaymentOwnerMismatch
	}

	payment, err := s.record(ctx, uid, intent)
	if err != nil {
		return nil, err
	}
	if payment.Credited {
		metrics.PaymentsConfirmedTotal.WithLabelValues("duplicate").Inc()
		return &ConfirmResult{Payment: payment, AlreadyRecorded: true}, nil
	}

	// 抢占充值资格，并发确认时只有一个请求会充值
	claim := s.db.WithContext(ctx).Model(&Payment{}).
		Where("id = ? AND credited = ?", payment.ID, false).
		Update("credited", true)
	if claim.Error != nil {
		return nil, fmt.Errorf("更新支付记录失败: %w", claim.Error)
	}
	if claim.RowsAffected == 0 {
		metrics.PaymentsConfirmedTotal.WithLabelValues("duplicate").Inc()
		payment.Credited = true
		return &ConfirmResult{Payment: payment, AlreadyRecorded: true}, nil
	}

	memo := credits.Memo{
		Type:        credits.TransactionTypeTopUp,
		Reference:   intentID,
		Description: "充值积分",
	}
	if err := s.ledger.Increment(ctx, uid, payment.Credits, memo); err != nil {
		// 释放资格，允许再次确认时补充值
		if rerr := s.db.WithContext(context.WithoutCancel(ctx)).Model(&Payment{}).
			Where("id = ?", payment.ID).Update("credited", false).Error; rerr != nil {
			log.Error("释放充值资格失败", zap.Bool("reconcile", true), zap.Error(rerr))
		}
		return nil, err
	}

	payment.Credited = true
	metrics.PaymentsConfirmedTotal.WithLabelValues("recorded").Inc()
	metrics.CreditsToppedUpTotal.Add(float64(payment.Credits))
	log.Info("支付确认完成", zap.Int64("credits", payment.Credits))
	return &ConfirmResult{Payment: payment}, nil
}

// record 查找或写入支付记录
func (s *Service) record(ctx context.Context, uid string, intent *providers.PaymentIntent) (*Payment, error) {
	var payment Payment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("intent_id = ?", intent.ID).First(&payment).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		payment = Payment{
			ID:       uuid.New().String(),
			UID:      uid,
			IntentID: intent.ID,
			Amount:   intent.Amount,
			Currency: intent.Currency,
			Status:   intent.Status,
			Credits:  s.CreditsFor(intent.Amount),
		}
		return tx.Create(&payment).Error
	})
	if err != nil {
		// 并发写入触发唯一约束时读取已有记录
		var existing Payment
		if ferr := s.db.WithContext(ctx).Where("intent_id = ?", intent.ID).First(&existing).Error; ferr == nil {
			payment = existing
		} else {
			return nil, fmt.Errorf("保存支付记录失败: %w", err)
		}
	}
	if payment.UID != uid {
		return nil, ErrPaymentOwnerMismatch
	}
	return &payment, nil
}

// List 查询用户的支付记录
func (s *Service) List(ctx context.Context, uid string, page, pageSize int) ([]Payment, int64, error) {
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	if page <= 0 {
		page = 1
	}

	var total int64
	query := s.db.WithContext(ctx).Model(&Payment{}).Where("uid = ?", uid)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("查询支付记录失败: %w", err)
	}
	var list []Payment
	if err := query.Order("created_at DESC").Offset((page - 1) * pageSize).Limit(pageSize).Find(&list).Error; err != nil {
		return nil, 0, fmt.Errorf("查询支付记录失败: %w", err)
	}
	return list, total, nil
}
