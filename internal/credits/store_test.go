package credits

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGormProfileStore(t *testing.T) {
	ctx := context.Background()
	db := setupCreditsTestDB(t)
	store := NewGormProfileStore(db)

	_, err := store.Get(ctx, "nobody")
	assert.ErrorIs(t, err, ErrProfileNotFound)

	require.NoError(t, store.Set(ctx, &ProfileRecord{UID: "u1", Credits: 10}, true))

	t.Run("合并写入不覆盖已有积分", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, &ProfileRecord{UID: "u1", Credits: 999}, true))
		rec, err := store.Get(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, int64(10), rec.Credits)
		assert.Nil(t, rec.UseCredits)
	})

	t.Run("合并写入只更新给出的字段", func(t *testing.T) {
		key := "rg-key"
		require.NoError(t, store.Set(ctx, &ProfileRecord{UID: "u1", RagieAPIKey: &key}, true))
		rec, err := store.Get(ctx, "u1")
		require.NoError(t, err)
		require.NotNil(t, rec.RagieAPIKey)
		assert.Equal(t, "rg-key", *rec.RagieAPIKey)
		assert.Nil(t, rec.OpenAIAPIKey)
		assert.Equal(t, int64(10), rec.Credits)
	})

	t.Run("局部更新拒绝积分字段", func(t *testing.T) {
		err := store.Update(ctx, "u1", map[string]any{ColumnCredits: 1000})
		assert.ErrorIs(t, err, ErrImmutableField)
	})

	t.Run("局部更新不存在的资料", func(t *testing.T) {
		err := store.Update(ctx, "ghost", map[string]any{ColumnUseCredits: false})
		assert.ErrorIs(t, err, ErrProfileNotFound)
	})

	t.Run("原子增减", func(t *testing.T) {
		require.NoError(t, store.AtomicIncrement(ctx, "u1", ColumnCredits, 5))
		require.NoError(t, store.AtomicIncrement(ctx, "u1", ColumnCredits, -8))
		rec, err := store.Get(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, int64(7), rec.Credits)
	})

	t.Run("扣减不会低于零", func(t *testing.T) {
		err := store.AtomicIncrement(ctx, "u1", ColumnCredits, -8)
		assert.ErrorIs(t, err, ErrBalanceFloor)
		rec, err := store.Get(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, int64(7), rec.Credits)
	})

	t.Run("只允许原子更新积分字段", func(t *testing.T) {
		assert.Error(t, store.AtomicIncrement(ctx, "u1", ColumnUseCredits, 1))
		assert.ErrorIs(t, store.AtomicIncrement(ctx, "ghost", ColumnCredits, 1), ErrProfileNotFound)
	})
}

func TestGormTransactionLog_List(t *testing.T) {
	ctx := context.Background()
	db := setupCreditsTestDB(t)
	txlog := NewGormTransactionLog(db)

	for i := 0; i < 3; i++ {
		require.NoError(t, txlog.Record(ctx, &CreditTransaction{UID: "u1", Type: TransactionTypeConsume, Amount: -3, Kind: KindGenerate}))
	}
	require.NoError(t, txlog.Record(ctx, &CreditTransaction{UID: "u2", Type: TransactionTypeTopUp, Amount: 50}))

	list, total, err := txlog.List(ctx, "u1", 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, list, 2)
	assert.NotEmpty(t, list[0].ID)
}
