package qa

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"docbrain/internal/credits"
	"docbrain/internal/providers"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeRetriever struct {
	mu          sync.Mutex
	registers   atomic.Int32
	retrieves   atomic.Int32
	statusCalls atomic.Int32
	// readyAfter 第几次状态查询返回 ready
	readyAfter  int32
	failStatus  bool
	registerErr error
	retrieveErr error
	passages    []providers.Passage
	lastKey     string
	lastReq     providers.RetrieveRequest
	registerGap time.Duration
}

func (f *fakeRetriever) Register(ctx context.Context, apiKey, scope, name string, content io.Reader) (*providers.RetrievalDocument, error) {
	f.registers.Add(1)
	if f.registerGap > 0 {
		time.Sleep(f.registerGap)
	}
	if f.registerErr != nil {
		return nil, f.registerErr
	}
	io.Copy(io.Discard, content)
	f.mu.Lock()
	f.lastKey = apiKey
	f.mu.Unlock()
	return &providers.RetrievalDocument{ID: "remote-" + name, Name: name, Status: "pending"}, nil
}

func (f *fakeRetriever) Status(ctx context.Context, apiKey, documentID string) (*providers.RetrievalDocument, error) {
	n := f.statusCalls.Add(1)
	doc := &providers.RetrievalDocument{ID: documentID, Status: "indexing"}
	switch {
	case f.failStatus:
		doc.Status = providers.RetrievalStatusFailed
	case n >= f.readyAfter:
		doc.Status = providers.RetrievalStatusReady
	}
	return doc, nil
}

func (f *fakeRetriever) Retrieve(ctx context.Context, apiKey string, req providers.RetrieveRequest) ([]providers.Passage, error) {
	f.retrieves.Add(1)
	f.mu.Lock()
	f.lastKey = apiKey
	f.lastReq = req
	f.mu.Unlock()
	if f.retrieveErr != nil {
		return nil, f.retrieveErr
	}
	return f.passages, nil
}

type fakeGenerator struct {
	calls      atomic.Int32
	chunks     []string
	err        error
	lastPrompt string
	// onChunk 每个片段写出后调用，用于观察进行中的回答
	onChunk func()
}

func (f *fakeGenerator) Generate(ctx context.Context, apiKey, systemPrompt, userPrompt string) (string, error) {
	f.calls.Add(1)
	f.lastPrompt = userPrompt
	if f.err != nil {
		return "", f.err
	}
	return strings.Join(f.chunks, ""), nil
}

func (f *fakeGenerator) GenerateStream(ctx context.Context, apiKey, systemPrompt, userPrompt string, onChunk func(string)) (string, error) {
	f.calls.Add(1)
	f.lastPrompt = userPrompt
	if f.err != nil {
		return "", f.err
	}
	var b strings.Builder
	for _, c := range f.chunks {
		b.WriteString(c)
		onChunk(c)
		if f.onChunk != nil {
			f.onChunk()
		}
	}
	return b.String(), nil
}

type fakeParser struct {
	calls    atomic.Int32
	elements []providers.Element
	err      error
}

func (f *fakeParser) Partition(ctx context.Context, apiKey, filename string, content io.Reader) ([]providers.Element, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.elements, nil
}

var errProviderDown = errors.New("provider down")

type testEnv struct {
	db        *gorm.DB
	cache     *credits.ProfileCache
	retriever *fakeRetriever
	generator *fakeGenerator
	parser    *fakeParser
	svc       *Service
}

func setupQATestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:qa_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// 并发用例下避免内存库的共享缓存锁冲突
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, credits.AutoMigrate(db))
	return db
}

// newTestEnv 真实的积分执行器 + 假的外部服务；新用户初始余额 startingBalance
func newTestEnv(t *testing.T, startingBalance int64, lease UploadLease) *testEnv {
	t.Helper()
	db := setupQATestDB(t)

	store := credits.NewGormProfileStore(db)
	cache := credits.NewProfileCache(store, nil, credits.ProfileDefaults{StartingBalance: startingBalance, UseCredits: true}, nil)
	ledger := credits.NewLedger(store, cache, credits.NewGormTransactionLog(db), nil)
	keys := credits.NewKeyResolver(credits.StaticPlatformKeys{
		credits.ProviderUnstructured: "platform-unstructured",
		credits.ProviderOpenAI:       "platform-openai",
		credits.ProviderRagie:        "platform-ragie",
	})
	executor := credits.NewExecutor(credits.NewCostTable(nil), keys, ledger, credits.WithCallTimeout(5*time.Second))

	env := &testEnv{
		db:        db,
		cache:     cache,
		retriever: &fakeRetriever{readyAfter: 1},
		generator: &fakeGenerator{chunks: []string{"答案", "在第一段"}},
		parser:    &fakeParser{elements: []providers.Element{{Type: "Title", Text: "季度报告"}, {Type: "NarrativeText", Text: "收入增长 20%"}}},
	}
	env.svc = NewService(Dependencies{
		DB:        db,
		Files:     NewFileStorage(t.TempDir()),
		Profiles:  cache,
		Billing:   executor,
		Parser:    env.parser,
		Retriever: env.retriever,
		Generator: env.generator,
		Lease:     lease,
		Tokens:    RuneCounter{},
	}, Config{PollInterval: time.Millisecond, ReadyTimeout: time.Second, TopK: 3, MaxContextTokens: 200})
	require.NoError(t, env.svc.AutoMigrate())
	return env
}

func (e *testEnv) createDocument(t *testing.T, uid string) *Document {
	t.Helper()
	doc, err := e.svc.CreateDocument(context.Background(), uid, "report.pdf", strings.NewReader("%PDF-1.4 fake"))
	require.NoError(t, err)
	return doc
}

func (e *testEnv) balance(t *testing.T, uid string) int64 {
	t.Helper()
	p, err := e.cache.Fetch(context.Background(), uid)
	require.NoError(t, err)
	return p.Credits
}

type fakeScheduler struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeScheduler) ScheduleUpload(ctx context.Context, uid, docID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, uid+"/"+docID)
	return nil
}
