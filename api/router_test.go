package api

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"docbrain/internal/common"
	"docbrain/internal/config"
	"docbrain/internal/infra"
	"docbrain/internal/logger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	if err := logger.Init("error", "console", "stderr"); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

func testConfig(t *testing.T) *config.Config {
	dir := t.TempDir()
	return &config.Config{
		Server: config.ServerConfig{Mode: gin.TestMode, RateLimitRPS: 100, RateLimitBurst: 100},
		Database: config.DatabaseConfig{
			Driver:     "sqlite",
			SQLitePath: filepath.Join(dir, "docbrain.db"),
		},
		Auth:    config.AuthConfig{JWTSecret: "test-secret", Issuer: "docbrain"},
		Credits: config.CreditsConfig{StartingBalance: 100, CallTimeout: 5 * time.Second},
		Payment: config.PaymentConfig{Currency: "usd", CreditsPerUnit: 100},
		QA:      config.QAConfig{PollInterval: time.Millisecond, ReadyTimeout: time.Second},
		Storage: config.StorageConfig{BasePath: filepath.Join(dir, "files")},
	}
}

type testServer struct {
	router *gin.Engine
	token  string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg := testConfig(t)
	log := zap.NewNop()

	db, err := infra.InitDatabase(&cfg.Database, log)
	require.NoError(t, err)
	t.Cleanup(func() { infra.CloseDatabase(db) })

	container, err := BuildContainer(cfg, db, nil, log)
	require.NoError(t, err)
	require.NoError(t, infra.AutoMigrate(log, container.Migrations()...))

	return &testServer{router: SetupRouter(cfg, container)}
}

func (s *testServer) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) doJSON(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	return s.do(t, req)
}

func (s *testServer) login(t *testing.T) {
	t.Helper()
	w := s.doJSON(t, http.MethodPost, "/api/auth/register",
		map[string]string{"email": "reader@example.com", "password": "secret123"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		Data struct {
			AccessToken string `json:"access_token"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	s.token = resp.Data.AccessToken
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) (int, T) {
	t.Helper()
	var resp struct {
		Code int `json:"code"`
		Data T   `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp.Code, resp.Data
}

func TestRouter_PublicEndpoints(t *testing.T) {
	srv := newTestServer(t)

	t.Run("健康检查", func(t *testing.T) {
		w := srv.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	})

	t.Run("就绪检查", func(t *testing.T) {
		w := srv.do(t, httptest.NewRequest(http.MethodGet, "/ready", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"redis":"disabled"`)
	})

	t.Run("成本表公开", func(t *testing.T) {
		w := srv.do(t, httptest.NewRequest(http.MethodGet, "/api/credits/costs", nil))
		require.Equal(t, http.StatusOK, w.Code)
		_, items := decode[[]struct {
			Kind string `json:"kind"`
			Cost int64  `json:"cost"`
		}](t, w)
		costs := map[string]int64{}
		for _, it := range items {
			costs[it.Kind] = it.Cost
		}
		assert.Equal(t, map[string]int64{"parse": 5, "generate": 3, "retrieve": 8}, costs)
	})

	t.Run("指标", func(t *testing.T) {
		w := srv.do(t, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "docbrain_")
	})

	t.Run("未登录", func(t *testing.T) {
		w := srv.do(t, httptest.NewRequest(http.MethodGet, "/api/profile", nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestRouter_ProfileAndCredits(t *testing.T) {
	srv := newTestServer(t)
	srv.login(t)

	t.Run("初始资料", func(t *testing.T) {
		w := srv.doJSON(t, http.MethodGet, "/api/profile", nil)
		require.Equal(t, http.StatusOK, w.Code)
		_, view := decode[struct {
			Credits    int64 `json:"credits"`
			UseCredits bool  `json:"useCredits"`
		}](t, w)
		assert.Equal(t, int64(100), view.Credits)
		assert.True(t, view.UseCredits)
	})

	t.Run("更新密钥后只返回掩码", func(t *testing.T) {
		w := srv.doJSON(t, http.MethodPatch, "/api/profile",
			map[string]any{"openaiApiKey": "sk-test-abcdef1234", "useCredits": false})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.NotContains(t, w.Body.String(), "sk-test-abcdef1234")
		assert.Contains(t, w.Body.String(), "****1234")
		assert.Contains(t, w.Body.String(), `"useCredits":false`)
	})

	t.Run("空补丁", func(t *testing.T) {
		w := srv.doJSON(t, http.MethodPatch, "/api/profile", map[string]any{})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("余额", func(t *testing.T) {
		w := srv.doJSON(t, http.MethodGet, "/api/credits/balance", nil)
		require.Equal(t, http.StatusOK, w.Code)
		_, bal := decode[struct {
			Credits int64 `json:"credits"`
		}](t, w)
		assert.Equal(t, int64(100), bal.Credits)
	})

	t.Run("流水分页", func(t *testing.T) {
		w := srv.doJSON(t, http.MethodGet, "/api/credits/transactions?page=1&page_size=10", nil)
		require.Equal(t, http.StatusOK, w.Code)
		_, list := decode[common.ListResponse](t, w)
		assert.Equal(t, 10, list.Pagination.PageSize)
	})
}

func TestRouter_Documents(t *testing.T) {
	srv := newTestServer(t)
	srv.login(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "notes.txt")
	require.NoError(t, err)
	_, _ = part.Write([]byte("hello document"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/documents", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := srv.do(t, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	_, doc := decode[struct {
		ID              string `json:"id"`
		Name            string `json:"name"`
		RetrievalStatus string `json:"retrievalStatus"`
	}](t, w)
	assert.Equal(t, "notes.txt", doc.Name)
	assert.Equal(t, "not_uploaded", doc.RetrievalStatus)

	t.Run("列表", func(t *testing.T) {
		w := srv.doJSON(t, http.MethodGet, "/api/documents", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), doc.ID)
	})

	t.Run("平台密钥缺失时提问不可用且不扣费", func(t *testing.T) {
		w := srv.doJSON(t, http.MethodPost, "/api/documents/"+doc.ID+"/questions",
			map[string]string{"question": "what is this?"})
		assert.Equal(t, http.StatusServiceUnavailable, w.Code, w.Body.String())

		bal := srv.doJSON(t, http.MethodGet, "/api/credits/balance", nil)
		assert.Contains(t, bal.Body.String(), `"credits":100`)
	})

	t.Run("平台密钥缺失时不提交上传", func(t *testing.T) {
		w := srv.doJSON(t, http.MethodPost, "/api/documents/"+doc.ID+"/retrieval", nil)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code, w.Body.String())

		got := srv.doJSON(t, http.MethodGet, "/api/documents/"+doc.ID, nil)
		assert.Contains(t, got.Body.String(), `"retrievalStatus":"not_uploaded"`)
	})

	t.Run("空历史", func(t *testing.T) {
		w := srv.doJSON(t, http.MethodGet, "/api/documents/"+doc.ID+"/questions", nil)
		require.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("删除不存在的记录", func(t *testing.T) {
		w := srv.doJSON(t, http.MethodDelete, "/api/documents/"+doc.ID+"/questions/0", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("无效的记录位置", func(t *testing.T) {
		w := srv.doJSON(t, http.MethodDelete, "/api/documents/"+doc.ID+"/questions/abc", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("没有进行中的回答", func(t *testing.T) {
		w := srv.doJSON(t, http.MethodGet, "/api/documents/"+doc.ID+"/questions/inflight", nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("其他文档不存在", func(t *testing.T) {
		w := srv.doJSON(t, http.MethodGet, "/api/documents/missing-id", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestCORS(t *testing.T) {
	router := gin.New()
	router.Use(CORS(CORSOptions{Origins: []string{"https://app.example.com"}, Headers: []string{"Authorization"}}))
	router.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	t.Run("预检请求", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/ping", nil)
		req.Header.Set("Origin", "https://app.example.com")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "Authorization", w.Header().Get("Access-Control-Allow-Headers"))
	})

	t.Run("未授权来源", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.Header.Set("Origin", "https://evil.example.com")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})
}
