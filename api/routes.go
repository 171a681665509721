package api

import (
	"docbrain/internal/auth"
	middlewarepkg "docbrain/internal/middleware"

	"github.com/gin-gonic/gin"
)

// RegisterRoutes 注册所有 API 路由
func RegisterRoutes(router *gin.Engine, container *AppContainer, handlers *Handlers) {
	limiter := middlewarepkg.RateLimitMiddleware(container.RateLimiter)

	// 认证 API（公开，按 IP 限流）
	registerAuthRoutes(router.Group("/api/auth", limiter), handlers)

	// 成本表公开，登录前即可展示
	router.GET("/api/credits/costs", handlers.Credits.ListCosts)

	api := router.Group("/api")
	api.Use(auth.AuthMiddleware(container.JWTService), limiter)
	registerAPIRoutes(api, handlers)
}

// registerAuthRoutes 注册认证相关路由（公开）
func registerAuthRoutes(authGroup *gin.RouterGroup, h *Handlers) {
	authGroup.POST("/register", h.Auth.Register)
	authGroup.POST("/login", h.Auth.Login)
	authGroup.POST("/refresh", h.Auth.Refresh)
	authGroup.POST("/logout", h.Auth.Logout)
}

// registerAPIRoutes 注册需要认证的 API 路由
func registerAPIRoutes(apiGroup *gin.RouterGroup, h *Handlers) {
	apiGroup.GET("/me", h.Auth.Me)

	// 用户资料与密钥
	profile := apiGroup.Group("/profile")
	{
		profile.GET("", h.Profile.Get)
		profile.PATCH("", h.Profile.Update)
	}

	// 积分
	creditsGroup := apiGroup.Group("/credits")
	{
		creditsGroup.GET("/balance", h.Credits.GetBalance)
		creditsGroup.GET("/transactions", h.Credits.ListTransactions)
	}

	// 充值
	payments := apiGroup.Group("/payments")
	{
		payments.GET("", h.Payments.List)
		payments.POST("/intents", h.Payments.CreateIntent)
		payments.POST("/confirm", h.Payments.Confirm)
	}

	// 文档与问答
	docs := apiGroup.Group("/documents")
	{
		docs.POST("", h.Documents.Upload)
		docs.GET("", h.Documents.List)
		docs.GET("/:id", h.Documents.Get)
		docs.POST("/:id/retrieval", h.Documents.UploadRetrieval)
		docs.POST("/:id/parse", h.Documents.Parse)
		docs.POST("/:id/summary", h.Documents.Summarize)
		docs.GET("/:id/questions", h.Documents.History)
		docs.POST("/:id/questions", h.Documents.Ask)
		docs.GET("/:id/questions/inflight", h.Documents.InFlight)
		docs.DELETE("/:id/questions/:index", h.Documents.DeleteEntry)
	}
}
