package auth

import (
	"context"
	"errors"
)

// ErrUnauthorized 未登录或会话无效
var ErrUnauthorized = errors.New("未认证，请先登录")

// Identity 已认证的用户
type Identity struct {
	UID   string `json:"uid"`
	Email string `json:"email"`
}

type identityKey struct{}

// WithIdentity 把身份写入上下文
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// RequireAuth 返回当前会话的用户；没有会话时返回 ErrUnauthorized
func RequireAuth(ctx context.Context) (Identity, error) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	if !ok || id.UID == "" {
		return Identity{}, ErrUnauthorized
	}
	return id, nil
}
