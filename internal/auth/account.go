package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrInvalidCredentials 邮箱或密码错误
	ErrInvalidCredentials = errors.New("邮箱或密码错误")
	// ErrEmailTaken 邮箱已注册
	ErrEmailTaken = errors.New("邮箱已被注册")
)

// Account 登录账户，ID 即用户 uid
type Account struct {
	ID           string    `gorm:"primaryKey;size:36"`
	Email        string    `gorm:"size:255;not null;uniqueIndex"`
	PasswordHash string    `gorm:"size:255;not null"`
	CreatedAt    time.Time `gorm:"autoCreateTime"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime"`
}

// TableName 表名
func (Account) TableName() string {
	return "accounts"
}

// AccountStore 账户存储
type AccountStore struct {
	db *gorm.DB
}

// NewAccountStore 创建账户存储
func NewAccountStore(db *gorm.DB) *AccountStore {
	return &AccountStore{db: db}
}

// AutoMigrate 迁移账户表
func (s *AccountStore) AutoMigrate() error {
	return s.db.AutoMigrate(&Account{})
}

// Register 注册账户
func (s *AccountStore) Register(ctx context.Context, email, password string) (*Account, error) {
	cleanEmail := normalizeEmail(email)
	if cleanEmail == "" {
		return nil, fmt.Errorf("邮箱不能为空")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("密码加密失败: %w", err)
	}

	account := &Account{
		ID:           uuid.New().String(),
		Email:        cleanEmail,
		PasswordHash: string(hash),
	}
	// 并发注册同一邮箱时只有一个成功
	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(account)
	if result.Error != nil {
		return nil, fmt.Errorf("创建账户失败: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, ErrEmailTaken
	}
	return account, nil
}

// Authenticate 校验邮箱和密码
func (s *AccountStore) Authenticate(ctx context.Context, email, password string) (*Account, error) {
	cleanEmail := normalizeEmail(email)
	if cleanEmail == "" {
		return nil, ErrInvalidCredentials
	}

	var account Account
	if err := s.db.WithContext(ctx).Where("email = ?", cleanEmail).First(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("查询账户失败: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return &account, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
