package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"docbrain/internal/logger"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

// ErrTokenRevoked 令牌已被注销
var ErrTokenRevoked = errors.New("令牌已失效")

// JWTConfig JWT 配置
type JWTConfig struct {
	Secret        string
	Issuer        string
	AccessExpiry  time.Duration // 默认 2 小时
	RefreshExpiry time.Duration // 默认 7 天
}

// JWTService JWT 令牌服务
type JWTService struct {
	secretKey     []byte
	issuer        string
	accessExpiry  time.Duration
	refreshExpiry time.Duration
	redisClient   redis.UniversalClient // 黑名单，可为空
	log           *zap.Logger
}

// NewJWTService 创建 JWT 服务
func NewJWTService(cfg JWTConfig, redisClient redis.UniversalClient, log *zap.Logger) *JWTService {
	s := &JWTService{
		secretKey:     []byte(cfg.Secret),
		issuer:        cfg.Issuer,
		accessExpiry:  cfg.AccessExpiry,
		refreshExpiry: cfg.RefreshExpiry,
		redisClient:   redisClient,
		log:           logger.OrNop(log),
	}
	if s.accessExpiry <= 0 {
		s.accessExpiry = 2 * time.Hour
	}
	if s.refreshExpiry <= 0 {
		s.refreshExpiry = 7 * 24 * time.Hour
	}
	return s
}

// TokenClaims JWT 声明
type TokenClaims struct {
	UserID    string `json:"uid"`
	Email     string `json:"email"`
	TokenType string `json:"token_type"` // access 或 refresh
	jwt.RegisteredClaims
}

// TokenPair 令牌对
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"` // 秒
}

// GenerateTokenPair 生成访问令牌和刷新令牌对
func (s *JWTService) GenerateTokenPair(uid, email string) (*TokenPair, error) {
	accessToken, err := s.generateToken(uid, email, tokenTypeAccess, s.accessExpiry)
	if err != nil {
		return nil, fmt.Errorf("生成访问令牌失败: %w", err)
	}

	refreshToken, err := s.generateToken(uid, email, tokenTypeRefresh, s.refreshExpiry)
	if err != nil {
		return nil, fmt.Errorf("生成刷新令牌失败: %w", err)
	}

	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.accessExpiry.Seconds()),
	}, nil
}

func (s *JWTService) generateToken(uid, email, tokenType string, expiry time.Duration) (string, error) {
	now := time.Now()
	claims := &TokenClaims{
		UserID:    uid,
		Email:     email,
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Issuer:    s.issuer,
			Subject:   uid,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.secretKey)
	if err != nil {
		return "", fmt.Errorf("签名令牌失败: %w", err)
	}
	return tokenString, nil
}

// ValidateToken 验证并解析 JWT 令牌
func (s *JWTService) ValidateToken(ctx context.Context, tokenString string) (*TokenClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &TokenClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("无效的签名算法: %v", token.Header["alg"])
		}
		return s.secretKey, nil
	}, jwt.WithIssuer(s.issuer))
	if err != nil {
		return nil, fmt.Errorf("解析令牌失败: %w", err)
	}

	claims, ok := token.Claims.(*TokenClaims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, fmt.Errorf("无效的令牌")
	}

	if s.isRevoked(ctx, claims.ID) {
		return nil, ErrTokenRevoked
	}
	return claims, nil
}

// RefreshAccessToken 使用刷新令牌生成新的令牌对，旧刷新令牌随即失效
func (s *JWTService) RefreshAccessToken(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := s.ValidateToken(ctx, refreshToken)
	if err != nil {
		return nil, fmt.Errorf("刷新令牌验证失败: %w", err)
	}
	if claims.TokenType != tokenTypeRefresh {
		return nil, fmt.Errorf("令牌类型错误: 期望 refresh，实际 %s", claims.TokenType)
	}

	if err := s.revoke(ctx, claims); err != nil {
		return nil, err
	}
	return s.GenerateTokenPair(claims.UserID, claims.Email)
}

// InvalidateToken 使令牌失效（加入黑名单）
func (s *JWTService) InvalidateToken(ctx context.Context, tokenString string) error {
	if s.redisClient == nil {
		return nil
	}

	claims, err := s.ValidateToken(ctx, tokenString)
	if err != nil {
		if errors.Is(err, ErrTokenRevoked) {
			return nil
		}
		return err
	}
	return s.revoke(ctx, claims)
}

func (s *JWTService) revoke(ctx context.Context, claims *TokenClaims) error {
	if s.redisClient == nil || claims.ExpiresAt == nil {
		return nil
	}
	ttl := time.Until(claims.ExpiresAt.Time)
	if ttl <= 0 {
		return nil
	}
	if err := s.redisClient.Set(ctx, blacklistKey(claims.ID), "revoked", ttl).Err(); err != nil {
		return fmt.Errorf("加入黑名单失败: %w", err)
	}
	return nil
}

// isRevoked Redis 故障时放行，避免所有请求失败
func (s *JWTService) isRevoked(ctx context.Context, jti string) bool {
	if s.redisClient == nil || jti == "" {
		return false
	}
	exists, err := s.redisClient.Exists(ctx, blacklistKey(jti)).Result()
	if err != nil {
		logger.With(ctx, s.log).Warn("检查令牌黑名单失败", zap.Error(err))
		return false
	}
	return exists > 0
}

func blacklistKey(jti string) string {
	return "docbrain:auth:revoked:" + jti
}

// ExtractTokenFromBearer 从 Bearer 令牌中提取纯令牌字符串
func ExtractTokenFromBearer(bearerToken string) string {
	const prefix = "Bearer "
	if len(bearerToken) > len(prefix) && strings.EqualFold(bearerToken[:len(prefix)], prefix) {
		return strings.TrimSpace(bearerToken[len(prefix):])
	}
	return strings.TrimSpace(bearerToken)
}
