package credits

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"docbrain/internal/logger"
	"docbrain/internal/security"

	"go.uber.org/zap"
)

// ProfileDefaults 新建或补全资料时使用的默认值
type ProfileDefaults struct {
	StartingBalance int64
	UseCredits      bool
}

// mirror 单个用户的本地镜像
// 读取方看到 pending（进行中的乐观更新），否则看到 confirmed（最近一次成功读取）
type mirror struct {
	confirmed Profile
	pending   *Profile
	inflight  int
}

func (m *mirror) view() Profile {
	if m.pending != nil {
		return *m.pending
	}
	return m.confirmed
}

// ProfileCache 用户资料的本地镜像，所有变更后都从存储重新读取
type ProfileCache struct {
	store    ProfileStore
	cipher   *security.SecretCipher
	defaults ProfileDefaults
	log      *zap.Logger

	mu      sync.Mutex
	mirrors map[string]*mirror
}

// NewProfileCache 创建资料缓存；cipher 为 nil 时密钥按明文存储
func NewProfileCache(store ProfileStore, cipher *security.SecretCipher, defaults ProfileDefaults, log *zap.Logger) *ProfileCache {
	return &ProfileCache{
		store:    store,
		cipher:   cipher,
		defaults: defaults,
		log:      logger.OrNop(log),
		mirrors:  make(map[string]*mirror),
	}
}

// Fetch 从存储读取资料并刷新镜像；资料不存在时按默认值创建
func (c *ProfileCache) Fetch(ctx context.Context, uid string) (Profile, error) {
	if uid == "" {
		return Profile{}, fmt.Errorf("uid 不能为空")
	}

	rec, err := c.store.Get(ctx, uid)
	if errors.Is(err, ErrProfileNotFound) {
		// 只写入 uid 与初始积分，其余字段读取时补默认值；并发创建时保留先到者
		seed := &ProfileRecord{UID: uid, Credits: c.defaults.StartingBalance}
		if err := c.store.Set(ctx, seed, true); err != nil {
			return Profile{}, fmt.Errorf("创建用户资料失败: %w", err)
		}
		logger.With(ctx, c.log).Info("创建用户资料",
			zap.String("uid", uid),
			zap.Int64("starting_balance", c.defaults.StartingBalance))
		rec, err = c.store.Get(ctx, uid)
	}
	if err != nil {
		return Profile{}, err
	}

	profile, err := c.toProfile(rec)
	if err != nil {
		return Profile{}, err
	}

	c.mu.Lock()
	m, ok := c.mirrors[uid]
	if !ok {
		m = &mirror{}
		c.mirrors[uid] = m
	}
	m.confirmed = profile
	c.mu.Unlock()

	return profile, nil
}

// Refresh 重新读取资料，最后一次读取的结果生效
func (c *ProfileCache) Refresh(ctx context.Context, uid string) (Profile, error) {
	return c.Fetch(ctx, uid)
}

// Current 返回镜像中的资料，不做任何 I/O
func (c *ProfileCache) Current(uid string) (Profile, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.mirrors[uid]
	if !ok {
		return Profile{}, false
	}
	return m.view(), true
}

// Get 优先返回镜像，未加载时从存储读取
func (c *ProfileCache) Get(ctx context.Context, uid string) (Profile, error) {
	if p, ok := c.Current(uid); ok {
		return p, nil
	}
	return c.Fetch(ctx, uid)
}

// Invalidate 丢弃镜像，下次读取时重新加载
func (c *ProfileCache) Invalidate(uid string) {
	c.mu.Lock()
	delete(c.mirrors, uid)
	c.mu.Unlock()
}

// Update 乐观更新资料（密钥与偏好），只写入变更的字段
// 写入失败时清除乐观值并重新读取，通过 onError 回调并返回错误
func (c *ProfileCache) Update(ctx context.Context, uid string, patch ProfilePatch, onError func(error)) error {
	if patch.IsEmpty() {
		return nil
	}

	if _, ok := c.Current(uid); !ok {
		if _, err := c.Fetch(ctx, uid); err != nil {
			if onError != nil {
				onError(err)
			}
			return err
		}
	}

	fields, err := c.patchFields(patch)
	if err != nil {
		if onError != nil {
			onError(err)
		}
		return err
	}

	c.mu.Lock()
	m := c.mirrors[uid]
	if m == nil {
		m = &mirror{}
		c.mirrors[uid] = m
	}
	optimistic := patch.ApplyTo(m.view())
	m.pending = &optimistic
	m.inflight++
	c.mu.Unlock()

	writeErr := c.store.Update(ctx, uid, fields)

	c.mu.Lock()
	m.inflight--
	if writeErr != nil || m.inflight == 0 {
		m.pending = nil
	}
	c.mu.Unlock()

	log := logger.With(ctx, c.log)
	if writeErr != nil {
		log.Warn("更新用户资料失败，回退本地镜像", zap.String("uid", uid), zap.Error(writeErr))
		if _, err := c.Refresh(ctx, uid); err != nil {
			log.Warn("回退后重新读取资料失败，丢弃镜像", zap.String("uid", uid), zap.Error(err))
			c.Invalidate(uid)
		}
		if onError != nil {
			onError(writeErr)
		}
		return writeErr
	}

	if _, err := c.Refresh(ctx, uid); err != nil {
		log.Warn("更新后重新读取资料失败，丢弃镜像", zap.String("uid", uid), zap.Error(err))
		c.Invalidate(uid)
	}
	return nil
}

// patchFields 把补丁转换为存储列，密钥加密后写入
func (c *ProfileCache) patchFields(patch ProfilePatch) (map[string]any, error) {
	fields := make(map[string]any, 4)
	keys := []struct {
		column string
		value  *string
	}{
		{ColumnUnstructuredAPIKey, patch.UnstructuredAPIKey},
		{ColumnOpenAIAPIKey, patch.OpenAIAPIKey},
		{ColumnRagieAPIKey, patch.RagieAPIKey},
	}
	for _, k := range keys {
		if k.value == nil {
			continue
		}
		enc, err := c.cipher.Encrypt(*k.value)
		if err != nil {
			return nil, fmt.Errorf("加密 API Key 失败: %w", err)
		}
		fields[k.column] = enc
	}
	if patch.UseCredits != nil {
		fields[ColumnUseCredits] = *patch.UseCredits
	}
	return fields, nil
}

// toProfile 将存储记录与默认值合并并解密密钥
func (c *ProfileCache) toProfile(rec *ProfileRecord) (Profile, error) {
	profile := Profile{
		UID:        rec.UID,
		Credits:    rec.Credits,
		UseCredits: c.defaults.UseCredits,
	}
	if rec.UseCredits != nil {
		profile.UseCredits = *rec.UseCredits
	}

	var err error
	if profile.APIKeys.Unstructured, err = c.decrypt(rec.UnstructuredAPIKey); err != nil {
		return Profile{}, err
	}
	if profile.APIKeys.OpenAI, err = c.decrypt(rec.OpenAIAPIKey); err != nil {
		return Profile{}, err
	}
	if profile.APIKeys.Ragie, err = c.decrypt(rec.RagieAPIKey); err != nil {
		return Profile{}, err
	}
	return profile, nil
}

func (c *ProfileCache) decrypt(value *string) (string, error) {
	if value == nil {
		return "", nil
	}
	plain, err := c.cipher.Decrypt(*value)
	if err != nil {
		return "", fmt.Errorf("解密 API Key 失败: %w", err)
	}
	return plain, nil
}
