package auth

import (
	"context"

	"docbrain/api/handlers/response"
	"docbrain/internal/auth"
	"docbrain/internal/common"
	"docbrain/internal/credits"
	"docbrain/internal/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ProfileLoader 登录后预热用户资料
type ProfileLoader interface {
	Fetch(ctx context.Context, uid string) (credits.Profile, error)
}

// AuthHandler 认证处理器
type AuthHandler struct {
	jwtService *auth.JWTService
	accounts   *auth.AccountStore
	profiles   ProfileLoader
}

// NewAuthHandler 创建认证处理器
func NewAuthHandler(jwtService *auth.JWTService, accounts *auth.AccountStore, profiles ProfileLoader) *AuthHandler {
	return &AuthHandler{jwtService: jwtService, accounts: accounts, profiles: profiles}
}

// CredentialsRequest 注册 / 登录请求
type CredentialsRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
}

// LoginResponse 登录响应
type LoginResponse struct {
	*auth.TokenPair
	User    auth.Identity    `json:"user"`
	Profile *credits.Profile `json:"profile,omitempty"`
}

// Register 注册账户并直接登录
// @Summary 注册
// @Tags Auth
// @Accept json
// @Produce json
// @Param request body CredentialsRequest true "注册请求"
// @Success 201 {object} LoginResponse
// @Router /api/auth/register [post]
func (h *AuthHandler) Register(c *gin.Context) {
	var req CredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BindError(c, err)
		return
	}

	account, err := h.accounts.Register(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		response.Error(c, err)
		return
	}

	resp, err := h.session(c, account)
	if err != nil {
		response.Error(c, err)
		return
	}
	common.ResponseCreated(c, resp)
}

// Login 用户登录
// @Summary 用户登录
// @Tags Auth
// @Accept json
// @Produce json
// @Param request body CredentialsRequest true "登录请求"
// @Success 200 {object} LoginResponse
// @Router /api/auth/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req CredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BindError(c, err)
		return
	}

	account, err := h.accounts.Authenticate(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		response.Error(c, err)
		return
	}

	resp, err := h.session(c, account)
	if err != nil {
		response.Error(c, err)
		return
	}
	common.ResponseSuccess(c, resp)
}

// session 签发令牌并加载资料；资料加载失败不影响登录
func (h *AuthHandler) session(c *gin.Context, account *auth.Account) (*LoginResponse, error) {
	pair, err := h.jwtService.GenerateTokenPair(account.ID, account.Email)
	if err != nil {
		return nil, err
	}

	resp := &LoginResponse{
		TokenPair: pair,
		User:      auth.Identity{UID: account.ID, Email: account.Email},
	}
	if h.profiles != nil {
		profile, err := h.profiles.Fetch(c.Request.Context(), account.ID)
		if err != nil {
			logger.WithContext(c.Request.Context()).Warn("登录时加载用户资料失败",
				zap.String("uid", account.ID), zap.Error(err))
		} else {
			masked := profile
			masked.APIKeys = profile.APIKeys.Masked()
			resp.Profile = &masked
		}
	}
	return resp, nil
}

// RefreshRequest 刷新令牌请求
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// Refresh 刷新访问令牌
// @Summary 刷新访问令牌
// @Tags Auth
// @Accept json
// @Produce json
// @Param request body RefreshRequest true "刷新令牌请求"
// @Success 200 {object} auth.TokenPair
// @Router /api/auth/refresh [post]
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BindError(c, err)
		return
	}

	pair, err := h.jwtService.RefreshAccessToken(c.Request.Context(), req.RefreshToken)
	if err != nil {
		common.ResponseError(c, common.CodeUnauthorized, "无效的刷新令牌")
		return
	}
	common.ResponseSuccess(c, pair)
}

// Logout 登出，访问令牌与可选的刷新令牌加入黑名单
// @Summary 用户登出
// @Tags Auth
// @Produce json
// @Router /api/auth/logout [post]
func (h *AuthHandler) Logout(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	ctx := c.Request.Context()
	log := logger.WithContext(ctx)

	if err := c.ShouldBindJSON(&req); err == nil && req.RefreshToken != "" {
		if err := h.jwtService.InvalidateToken(ctx, req.RefreshToken); err != nil {
			log.Warn("撤销刷新令牌失败", zap.Error(err))
		}
	}

	if token := auth.ExtractTokenFromBearer(c.GetHeader("Authorization")); token != "" {
		// 登出流程不因撤销失败中断
		if err := h.jwtService.InvalidateToken(ctx, token); err != nil {
			log.Warn("撤销访问令牌失败", zap.Error(err))
		}
	}

	common.ResponseSuccessMessage(c, "登出成功", nil)
}

// Me 当前登录用户
// @Summary 当前用户
// @Tags Auth
// @Security BearerAuth
// @Produce json
// @Success 200 {object} auth.Identity
// @Router /api/me [get]
func (h *AuthHandler) Me(c *gin.Context) {
	id, err := auth.RequireAuth(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	common.ResponseSuccess(c, id)
}
