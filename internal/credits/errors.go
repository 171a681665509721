package credits

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrInvalidAmount      = errors.New("无效的积分数量")
	ErrProfileNotFound    = errors.New("用户资料不存在")
	ErrBalanceFloor       = errors.New("积分余额不能为负")
	ErrPlatformKeyMissing = errors.New("平台未配置该服务的 API Key，请稍后重试或改用自己的 API Key")
	ErrCallTimeout        = errors.New("外部服务调用超时")
	ErrImmutableField     = errors.New("积分余额只能通过账本原子操作修改")
)

// InsufficientCreditsError 积分不足
type InsufficientCreditsError struct {
	Kind      OperationKind
	Required  int64
	Available int64
}

// Shortfall 缺少的积分数
func (e *InsufficientCreditsError) Shortfall() int64 {
	return e.Required - e.Available
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("积分不足：%s 需要 %d 积分，当前余额 %d，还差 %d 积分。请充值或改用自己的 API Key",
		e.Kind, e.Required, e.Available, e.Shortfall())
}

// MissingUserKeyError 自带密钥模式下用户未配置对应服务的 API Key
type MissingUserKeyError struct {
	Provider Provider
}

func (e *MissingUserKeyError) Error() string {
	return fmt.Sprintf("未配置 %s API Key：请在设置中填写自己的 %s API Key，或切换为使用平台积分",
		e.Provider.DisplayName(), e.Provider.DisplayName())
}

// ProviderError 外部服务调用失败，不扣除积分
type ProviderError struct {
	Kind     OperationKind
	Provider Provider
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s 服务调用失败: %v", e.Provider.DisplayName(), e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsInsufficientCredits 判断是否为积分不足错误
func IsInsufficientCredits(err error) bool {
	var target *InsufficientCreditsError
	return errors.As(err, &target)
}

// IsMissingKey 判断是否为密钥缺失（平台或用户）
func IsMissingKey(err error) bool {
	var target *MissingUserKeyError
	return errors.Is(err, ErrPlatformKeyMissing) || errors.As(err, &target)
}

// IsProviderError 判断是否为外部服务错误
func IsProviderError(err error) bool {
	var target *ProviderError
	return errors.As(err, &target)
}

func wrapProviderError(ctx context.Context, kind OperationKind, err error) error {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return err
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, ErrCallTimeout) {
		err = fmt.Errorf("%w: %v", ErrCallTimeout, err)
	}
	return &ProviderError{Kind: kind, Provider: kind.Provider(), Err: err}
}
