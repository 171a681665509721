package credits

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ProfileStore 用户资料的持久化存储
// credits 字段只能通过 AtomicIncrement 修改
type ProfileStore interface {
	// Get 读取资料，不存在时返回 ErrProfileNotFound
	Get(ctx context.Context, uid string) (*ProfileRecord, error)
	// Set 写入资料；merge 为 true 时只覆盖记录中非空的可选字段
	// 已存在记录的积分不会被 Set 修改
	Set(ctx context.Context, rec *ProfileRecord, merge bool) error
	// Update 局部更新指定列
	Update(ctx context.Context, uid string, fields map[string]any) error
	// AtomicIncrement 在存储端对数值字段做原子增减，delta 可为负
	AtomicIncrement(ctx context.Context, uid, field string, delta int64) error
}

// GormProfileStore 基于 GORM 的资料存储
type GormProfileStore struct {
	db *gorm.DB
}

// NewGormProfileStore 创建资料存储
func NewGormProfileStore(db *gorm.DB) *GormProfileStore {
	return &GormProfileStore{db: db}
}

// Get 读取资料
func (s *GormProfileStore) Get(ctx context.Context, uid string) (*ProfileRecord, error) {
	var rec ProfileRecord
	err := s.db.WithContext(ctx).Where("uid = ?", uid).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProfileNotFound
		}
		return nil, fmt.Errorf("查询用户资料失败: %w", err)
	}
	return &rec, nil
}

// Set 写入资料
func (s *GormProfileStore) Set(ctx context.Context, rec *ProfileRecord, merge bool) error {
	if rec == nil || rec.UID == "" {
		return fmt.Errorf("用户资料缺少 uid")
	}

	onConflict := clause.OnConflict{Columns: []clause.Column{{Name: "uid"}}}
	if merge {
		cols := rec.presentColumns()
		if len(cols) == 0 {
			onConflict.DoNothing = true
		} else {
			onConflict.DoUpdates = clause.AssignmentColumns(append(cols, "updated_at"))
		}
	} else {
		onConflict.DoUpdates = clause.AssignmentColumns([]string{
			ColumnUnstructuredAPIKey, ColumnOpenAIAPIKey, ColumnRagieAPIKey, ColumnUseCredits, "updated_at",
		})
	}

	if err := s.db.WithContext(ctx).Clauses(onConflict).Create(rec).Error; err != nil {
		return fmt.Errorf("保存用户资料失败: %w", err)
	}
	return nil
}

// Update 局部更新
func (s *GormProfileStore) Update(ctx context.Context, uid string, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	if _, ok := fields[ColumnCredits]; ok {
		return ErrImmutableField
	}

	result := s.db.WithContext(ctx).Model(&ProfileRecord{}).Where("uid = ?", uid).Updates(fields)
	if result.Error != nil {
		return fmt.Errorf("更新用户资料失败: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrProfileNotFound
	}
	return nil
}

// AtomicIncrement 原子增减积分
// 扣减时附带 credits >= -delta 条件，存储中的余额不会被扣成负数
func (s *GormProfileStore) AtomicIncrement(ctx context.Context, uid, field string, delta int64) error {
	if field != ColumnCredits {
		return fmt.Errorf("不支持原子更新的字段: %s", field)
	}
	if delta == 0 {
		return nil
	}

	query := s.db.WithContext(ctx).Model(&ProfileRecord{}).Where("uid = ?", uid)
	if delta < 0 {
		query = query.Where("credits >= ?", -delta)
	}
	result := query.Update(ColumnCredits, gorm.Expr("credits + ?", delta))
	if result.Error != nil {
		return fmt.Errorf("更新积分失败: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		return nil
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&ProfileRecord{}).Where("uid = ?", uid).Count(&count).Error; err != nil {
		return fmt.Errorf("查询用户资料失败: %w", err)
	}
	if count == 0 {
		return ErrProfileNotFound
	}
	return ErrBalanceFloor
}

// ============ 积分流水 ============

// TransactionLog 积分流水记录
type TransactionLog interface {
	Record(ctx context.Context, tx *CreditTransaction) error
	List(ctx context.Context, uid string, page, pageSize int) ([]CreditTransaction, int64, error)
}

// GormTransactionLog 基于 GORM 的流水记录
type GormTransactionLog struct {
	db *gorm.DB
}

// NewGormTransactionLog 创建流水记录
func NewGormTransactionLog(db *gorm.DB) *GormTransactionLog {
	return &GormTransactionLog{db: db}
}

// Record 写入一条流水
func (l *GormTransactionLog) Record(ctx context.Context, tx *CreditTransaction) error {
	if tx.ID == "" {
		tx.ID = uuid.New().String()
	}
	if err := l.db.WithContext(ctx).Create(tx).Error; err != nil {
		return fmt.Errorf("记录积分流水失败: %w", err)
	}
	return nil
}

// List 分页查询流水，按时间倒序
func (l *GormTransactionLog) List(ctx context.Context, uid string, page, pageSize int) ([]CreditTransaction, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	var total int64
	query := l.db.WithContext(ctx).Model(&CreditTransaction{}).Where("uid = ?", uid)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("查询积分流水失败: %w", err)
	}

	var list []CreditTransaction
	err := query.Order("created_at DESC").Offset((page - 1) * pageSize).Limit(pageSize).Find(&list).Error
	if err != nil {
		return nil, 0, fmt.Errorf("查询积分流水失败: %w", err)
	}
	return list, total, nil
}

// AutoMigrate 迁移积分相关表
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&ProfileRecord{}, &CreditTransaction{})
}
