package auth

import (
	"docbrain/internal/common"
	"docbrain/internal/logger"

	"github.com/gin-gonic/gin"
)

// AuthMiddleware JWT 认证中间件，身份写入请求上下文，处理器通过 RequireAuth 读取
func AuthMiddleware(jwtService *JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			common.AbortWithError(c, common.CodeUnauthorized, "缺少认证令牌")
			return
		}

		token := ExtractTokenFromBearer(authHeader)
		if token == "" {
			common.AbortWithError(c, common.CodeUnauthorized, "无效的令牌格式")
			return
		}

		claims, err := jwtService.ValidateToken(c.Request.Context(), token)
		if err != nil {
			common.AbortWithError(c, common.CodeUnauthorized, "令牌验证失败: "+err.Error())
			return
		}
		if claims.TokenType != tokenTypeAccess {
			common.AbortWithError(c, common.CodeUnauthorized, "令牌类型错误")
			return
		}

		ctx := WithIdentity(c.Request.Context(), Identity{UID: claims.UserID, Email: claims.Email})
		ctx = logger.WithUserID(ctx, claims.UserID)
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}
