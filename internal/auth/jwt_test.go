package auth

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestJWTService(t *testing.T) (*JWTService, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewJWTService(JWTConfig{Secret: "test-secret", Issuer: "docbrain"}, client, nil), mr
}

func TestJWTService(t *testing.T) {
	ctx := context.Background()

	t.Run("签发并验证访问令牌", func(t *testing.T) {
		svc, _ := newTestJWTService(t)
		pair, err := svc.GenerateTokenPair("user-1", "a@example.com")
		require.NoError(t, err)
		assert.Equal(t, "Bearer", pair.TokenType)
		assert.Equal(t, int64(7200), pair.ExpiresIn)

		claims, err := svc.ValidateToken(ctx, pair.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, "user-1", claims.UserID)
		assert.Equal(t, "a@example.com", claims.Email)
		assert.Equal(t, tokenTypeAccess, claims.TokenType)
	})

	t.Run("其他密钥签发的令牌无效", func(t *testing.T) {
		svc, _ := newTestJWTService(t)
		other := NewJWTService(JWTConfig{Secret: "other", Issuer: "docbrain"}, nil, nil)
		pair, err := other.GenerateTokenPair("user-1", "")
		require.NoError(t, err)

		_, err = svc.ValidateToken(ctx, pair.AccessToken)
		assert.Error(t, err)
	})

	t.Run("过期令牌无效", func(t *testing.T) {
		svc := NewJWTService(JWTConfig{Secret: "s", Issuer: "docbrain", AccessExpiry: time.Millisecond}, nil, nil)
		pair, err := svc.GenerateTokenPair("user-1", "")
		require.NoError(t, err)
		time.Sleep(1100 * time.Millisecond)

		_, err = svc.ValidateToken(ctx, pair.AccessToken)
		assert.Error(t, err)
	})

	t.Run("注销后令牌失效", func(t *testing.T) {
		svc, mr := newTestJWTService(t)
		pair, err := svc.GenerateTokenPair("user-1", "")
		require.NoError(t, err)

		require.NoError(t, svc.InvalidateToken(ctx, pair.AccessToken))
		_, err = svc.ValidateToken(ctx, pair.AccessToken)
		assert.ErrorIs(t, err, ErrTokenRevoked)
		assert.Len(t, mr.Keys(), 1)

		// 重复注销不报错
		assert.NoError(t, svc.InvalidateToken(ctx, pair.AccessToken))
	})

	t.Run("刷新后旧刷新令牌失效", func(t *testing.T) {
		svc, _ := newTestJWTService(t)
		pair, err := svc.GenerateTokenPair("user-1", "a@example.com")
		require.NoError(t, err)

		next, err := svc.RefreshAccessToken(ctx, pair.RefreshToken)
		require.NoError(t, err)
		claims, err := svc.ValidateToken(ctx, next.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, "user-1", claims.UserID)

		_, err = svc.RefreshAccessToken(ctx, pair.RefreshToken)
		assert.ErrorIs(t, err, ErrTokenRevoked)
	})

	t.Run("访问令牌不能用于刷新", func(t *testing.T) {
		svc, _ := newTestJWTService(t)
		pair, err := svc.GenerateTokenPair("user-1", "")
		require.NoError(t, err)

		_, err = svc.RefreshAccessToken(ctx, pair.AccessToken)
		assert.Error(t, err)
	})

	t.Run("Redis 不可用时放行", func(t *testing.T) {
		svc, mr := newTestJWTService(t)
		pair, err := svc.GenerateTokenPair("user-1", "")
		require.NoError(t, err)
		mr.SetError("LOADING redis is loading")

		_, err = svc.ValidateToken(ctx, pair.AccessToken)
		assert.NoError(t, err)
	})
}

func TestExtractTokenFromBearer(t *testing.T) {
	assert.Equal(t, "abc", ExtractTokenFromBearer("Bearer abc"))
	assert.Equal(t, "abc", ExtractTokenFromBearer("bearer abc"))
	assert.Equal(t, "abc", ExtractTokenFromBearer("abc"))
	assert.Equal(t, "", ExtractTokenFromBearer(""))
}
