package credits

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupCreditsTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:credits_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, AutoMigrate(db))
	return db
}

// flakyStore 包装真实存储，可注入写失败并统计调用次数
type flakyStore struct {
	ProfileStore
	failUpdate    error
	failIncrement error
	increments    atomic.Int32
}

func (s *flakyStore) Update(ctx context.Context, uid string, fields map[string]any) error {
	if s.failUpdate != nil {
		return s.failUpdate
	}
	return s.ProfileStore.Update(ctx, uid, fields)
}

func (s *flakyStore) AtomicIncrement(ctx context.Context, uid, field string, delta int64) error {
	s.increments.Add(1)
	if s.failIncrement != nil {
		return s.failIncrement
	}
	return s.ProfileStore.AtomicIncrement(ctx, uid, field, delta)
}

var errStoreUnavailable = errors.New("store unavailable")

type testEnv struct {
	db     *gorm.DB
	store  *flakyStore
	cache  *ProfileCache
	ledger *Ledger
	txlog  *GormTransactionLog
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := setupCreditsTestDB(t)
	store := &flakyStore{ProfileStore: NewGormProfileStore(db)}
	cache := NewProfileCache(store, nil, ProfileDefaults{StartingBalance: 100, UseCredits: true}, nil)
	txlog := NewGormTransactionLog(db)
	return &testEnv{
		db:     db,
		store:  store,
		cache:  cache,
		ledger: NewLedger(store, cache, txlog, nil),
		txlog:  txlog,
	}
}

// seedProfile 创建指定余额与模式的资料
func (e *testEnv) seedProfile(t *testing.T, uid string, credits int64, useCredits bool, keys APIKeys) Profile {
	t.Helper()
	ctx := context.Background()
	rec := &ProfileRecord{
		UID:                uid,
		Credits:            credits,
		UnstructuredAPIKey: &keys.Unstructured,
		OpenAIAPIKey:       &keys.OpenAI,
		RagieAPIKey:        &keys.Ragie,
		UseCredits:         &useCredits,
	}
	require.NoError(t, e.store.Set(ctx, rec, false))
	p, err := e.cache.Fetch(ctx, uid)
	require.NoError(t, err)
	return p
}

func (e *testEnv) storedCredits(t *testing.T, uid string) int64 {
	t.Helper()
	var rec ProfileRecord
	require.NoError(t, e.db.Where("uid = ?", uid).First(&rec).Error)
	return rec.Credits
}
