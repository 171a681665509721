package api

import (
	"context"
	"net/http"
	"os"
	"strings"
	"time"

	"docbrain/internal/infra"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// ReadinessResponse 就绪检查响应
type ReadinessResponse struct {
	Status   string `json:"status"`
	Reason   string `json:"reason,omitempty"`
	Database string `json:"database,omitempty"`
	Redis    string `json:"redis,omitempty"`
}

// HealthCheck 存活检查
func HealthCheck() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, HealthResponse{Status: "healthy", Service: "docbrain"})
	}
}

// ReadinessCheck 就绪检查：数据库必须可用；Redis 未启用时跳过
func ReadinessCheck(db *gorm.DB, rdb redis.UniversalClient) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()

		if err := infra.HealthCheck(ctx, db); err != nil {
			c.JSON(http.StatusServiceUnavailable, ReadinessResponse{
				Status: "not_ready",
				Reason: "database ping failed",
			})
			return
		}

		resp := ReadinessResponse{Status: "ready", Database: "connected", Redis: "disabled"}
		if rdb != nil {
			if err := infra.HealthCheckRedis(ctx, rdb); err != nil {
				c.JSON(http.StatusServiceUnavailable, ReadinessResponse{
					Status:   "not_ready",
					Reason:   "redis ping failed",
					Database: "connected",
				})
				return
			}
			resp.Redis = "connected"
		}
		c.JSON(http.StatusOK, resp)
	}
}

// getEnvList 读取逗号分隔的环境变量列表
func getEnvList(key string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	var res []string
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			res = append(res, v)
		}
	}
	return res
}

// defaultIfEmpty 返回非空列表或默认值
func defaultIfEmpty(list []string, def []string) []string {
	if len(list) == 0 {
		return def
	}
	return list
}
