package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
)

// encryptedPrefix 标记已加密的字段，便于与历史明文数据共存
const encryptedPrefix = "enc:v1:"

// SecretCipher 用于加密存储用户自带的第三方 API Key
type SecretCipher struct {
	aead cipher.AEAD
}

// NewSecretCipher 根据配置的种子创建加密器
// seed 为空时返回 nil，调用方按明文处理
func NewSecretCipher(seed string) (*SecretCipher, error) {
	seed = strings.TrimSpace(seed)
	if seed == "" {
		return nil, nil
	}
	key := deriveKey(seed)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("初始化密钥失败: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("初始化 GCM 失败: %w", err)
	}
	return &SecretCipher{aead: gcm}, nil
}

// deriveKey 种子若是 32 字节的 base64 密钥则直接使用，否则取 SHA-256
func deriveKey(seed string) []byte {
	if raw, err := base64.StdEncoding.DecodeString(seed); err == nil && len(raw) == 32 {
		return raw
	}
	sum := sha256.Sum256([]byte(seed))
	return sum[:]
}

// Encrypt 使用 AES-GCM 加密，返回带前缀的 base64 字符串
// 空字符串原样返回；接收者为 nil 时不加密
func (c *SecretCipher) Encrypt(plain string) (string, error) {
	if c == nil || plain == "" {
		return plain, nil
	}
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("生成随机数失败: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plain), nil)
	return encryptedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt 解密 Encrypt 的输出；无前缀的值视为明文
func (c *SecretCipher) Decrypt(value string) (string, error) {
	if !strings.HasPrefix(value, encryptedPrefix) {
		return value, nil
	}
	if c == nil {
		return "", fmt.Errorf("密文存在但未配置加密密钥")
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, encryptedPrefix))
	if err != nil {
		return "", fmt.Errorf("密文格式无效: %w", err)
	}
	nonceSize := c.aead.NonceSize()
	if len(raw) < nonceSize {
		return "", fmt.Errorf("密文长度无效")
	}
	plain, err := c.aead.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("解密失败: %w", err)
	}
	return string(plain), nil
}
