package credits

import (
	"strings"
)

// PlatformKeys 平台出资的服务密钥来源（仅服务端可读）
type PlatformKeys interface {
	PlatformKey(p Provider) string
}

// StaticPlatformKeys 固定的平台密钥表，通常由配置构建
type StaticPlatformKeys map[Provider]string

// PlatformKey 返回修剪后的平台密钥
func (k StaticPlatformKeys) PlatformKey(p Provider) string {
	return strings.TrimSpace(k[p])
}

// FundingMode 资金来源
type FundingMode string

const (
	FundingCredits FundingMode = "credits" // 平台积分
	FundingOwnKey  FundingMode = "own_key" // 用户自带密钥
)

// Funding 一次调用使用的密钥及其来源
type Funding struct {
	Provider Provider
	Mode     FundingMode
	Key      string
}

// KeyResolver 根据操作类型和用户偏好选择调用密钥
type KeyResolver struct {
	platform PlatformKeys
}

// NewKeyResolver 创建密钥解析器
func NewKeyResolver(platform PlatformKeys) *KeyResolver {
	if platform == nil {
		platform = StaticPlatformKeys{}
	}
	return &KeyResolver{platform: platform}
}

// Resolve 选择密钥，不检查余额
// 积分模式使用平台密钥，否则使用用户自己的密钥
func (r *KeyResolver) Resolve(kind OperationKind, profile Profile) (Funding, error) {
	provider := kind.Provider()
	if profile.UseCredits {
		key := r.platform.PlatformKey(provider)
		if key == "" {
			return Funding{}, ErrPlatformKeyMissing
		}
		return Funding{Provider: provider, Mode: FundingCredits, Key: key}, nil
	}

	key := strings.TrimSpace(profile.APIKeys.Get(provider))
	if key == "" {
		return Funding{}, &MissingUserKeyError{Provider: provider}
	}
	return Funding{Provider: provider, Mode: FundingOwnKey, Key: key}, nil
}
