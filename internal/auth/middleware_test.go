package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := NewJWTService(JWTConfig{Secret: "test-secret", Issuer: "docbrain"}, nil, nil)

	router := gin.New()
	router.Use(AuthMiddleware(svc))
	router.GET("/me", func(c *gin.Context) {
		id, err := RequireAuth(c.Request.Context())
		if err != nil {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.String(http.StatusOK, id.UID)
	})

	pair, err := svc.GenerateTokenPair("user-1", "a@example.com")
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		status int
		body   string
	}{
		{"有效的访问令牌", "Bearer " + pair.AccessToken, http.StatusOK, "user-1"},
		{"缺少令牌", "", http.StatusUnauthorized, ""},
		{"刷新令牌不能访问接口", "Bearer " + pair.RefreshToken, http.StatusUnauthorized, ""},
		{"无效令牌", "Bearer invalid", http.StatusUnauthorized, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
			if tt.body != "" {
				assert.Equal(t, tt.body, w.Body.String())
			}
		})
	}
}

func TestRequireAuth(t *testing.T) {
	_, err := RequireAuth(context.Background())
	assert.ErrorIs(t, err, ErrUnauthorized)

	ctx := WithIdentity(context.Background(), Identity{UID: "user-1"})
	id, err := RequireAuth(ctx)
	require.NoError(t, err)
	assert.Equal(t, "user-1", id.UID)
}
