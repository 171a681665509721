package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用配置结构
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Log       LogConfig       `mapstructure:"log"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Credits   CreditsConfig   `mapstructure:"credits"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Payment   PaymentConfig   `mapstructure:"payment"`
	QA        QAConfig        `mapstructure:"qa"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Worker    WorkerConfig    `mapstructure:"worker"`
}

// ServerConfig HTTP 服务器配置
type ServerConfig struct {
	Port         int    `mapstructure:"port"`
	Mode         string `mapstructure:"mode"` // debug, release, test
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
	// 每个用户（未登录按 IP）的限流速率，0 表示使用默认值
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver          string `mapstructure:"driver"` // postgres, sqlite
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	DBName          string `mapstructure:"dbname"`
	SSLMode         string `mapstructure:"sslmode"`
	SQLitePath      string `mapstructure:"sqlite_path"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"` // 秒
	AutoMigrate     bool   `mapstructure:"auto_migrate"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// Enabled 关闭时令牌黑名单不可用，上传租约退回进程内互斥
	Enabled bool `mapstructure:"enabled"`
	// 连接模式: standalone(单节点), sentinel(哨兵), cluster(集群)
	Mode string `mapstructure:"mode"`

	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`

	MasterName       string   `mapstructure:"master_name"`
	SentinelAddrs    []string `mapstructure:"sentinel_addrs"`
	SentinelPassword string   `mapstructure:"sentinel_password"`

	ClusterAddrs []string `mapstructure:"cluster_addrs"`

	PoolSize     int `mapstructure:"pool_size"`
	MinIdleConns int `mapstructure:"min_idle_conns"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `mapstructure:"level"`       // debug, info, warn, error
	Format     string `mapstructure:"format"`      // json, console
	OutputPath string `mapstructure:"output_path"` // stdout, stderr, /path/to/log
}

// AuthConfig 认证配置
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
	// KeyEncryptionKey base64 编码的 AES 密钥，用于加密用户自带的 API Key，留空则明文存储
	KeyEncryptionKey string `mapstructure:"key_encryption_key"`
}

// CreditsConfig 积分配置
type CreditsConfig struct {
	StartingBalance int64 `mapstructure:"starting_balance"`
	// Costs 按操作类型覆盖默认积分成本，值为字符串，无法解析时回退默认值
	Costs map[string]string `mapstructure:"costs"`
	// CallTimeout 单次外部调用的超时时间
	CallTimeout time.Duration `mapstructure:"call_timeout"`
}

// ProvidersConfig 外部服务配置，APIKey 为平台出资的密钥
type ProvidersConfig struct {
	Unstructured ProviderConfig `mapstructure:"unstructured"`
	Ragie        ProviderConfig `mapstructure:"ragie"`
	OpenAI       OpenAIConfig   `mapstructure:"openai"`
}

// ProviderConfig 通用 HTTP 服务配置
type ProviderConfig struct {
	APIKey         string `mapstructure:"api_key"`
	BaseURL        string `mapstructure:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// OpenAIConfig OpenAI 配置
type OpenAIConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
}

// PaymentConfig 支付配置
type PaymentConfig struct {
	SecretKey string `mapstructure:"secret_key"`
	BaseURL   string `mapstructure:"base_url"`
	Currency  string `mapstructure:"currency"`
	// CreditsPerUnit 每 1 个货币单位（100 分）兑换的积分数
	CreditsPerUnit int64 `mapstructure:"credits_per_unit"`
}

// QAConfig 文档问答配置
type QAConfig struct {
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	ReadyTimeout     time.Duration `mapstructure:"ready_timeout"`
	TopK             int           `mapstructure:"top_k"`
	MaxContextTokens int           `mapstructure:"max_context_tokens"`
	UploadLeaseTTL   time.Duration `mapstructure:"upload_lease_ttl"`
}

// WorkerConfig 后台任务配置，需要启用 Redis
type WorkerConfig struct {
	// Enabled 关闭时文档上传在接收请求的进程内后台执行
	Enabled     bool `mapstructure:"enabled"`
	Concurrency int  `mapstructure:"concurrency"`
}

// StorageConfig 本地文件存储配置
type StorageConfig struct {
	BasePath string `mapstructure:"base_path"`
}

var globalConfig *Config

// Load 加载配置
// env: 环境名称（dev, prod, test）
// configPath: 配置文件路径（可选）
func Load(env string, configPath string) (*Config, error) {
	v := viper.New()

	if configPath == "" {
		v.SetConfigName(env)
		v.AddConfigPath("./config")
		v.AddConfigPath("../config")
		v.AddConfigPath("../../config")
	} else {
		v.SetConfigFile(configPath)
	}

	v.SetConfigType("yaml")
	setDefaults(v)

	// 读取环境变量（优先级高于配置文件）
	v.SetEnvPrefix("APP")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	// map 类型的成本覆盖项需要显式绑定环境变量
	for _, kind := range []string{"parse", "generate", "retrieve"} {
		_ = v.BindEnv("credits.costs." + kind)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	cfg.Credits.Costs = collectCostOverrides(v)

	globalConfig = &cfg
	return &cfg, nil
}

// Get 获取全局配置
func Get() *Config {
	if globalConfig == nil {
		panic("配置未初始化，请先调用 Load()")
	}
	return globalConfig
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 120)
	v.SetDefault("server.rate_limit_rps", 2)
	v.SetDefault("server.rate_limit_burst", 10)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.sqlite_path", "docbrain.db")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 300)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.mode", "standalone")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.pool_size", 10)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output_path", "stdout")

	v.SetDefault("auth.issuer", "docbrain")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.key_encryption_key", "")

	v.SetDefault("credits.starting_balance", 100)
	v.SetDefault("credits.call_timeout", "90s")

	// 密钥需要默认值才能被 AutomaticEnv 覆盖
	v.SetDefault("providers.unstructured.api_key", "")
	v.SetDefault("providers.ragie.api_key", "")
	v.SetDefault("providers.openai.api_key", "")
	v.SetDefault("providers.openai.base_url", "")
	v.SetDefault("payment.secret_key", "")

	v.SetDefault("providers.unstructured.base_url", "https://api.unstructuredapp.io")
	v.SetDefault("providers.unstructured.timeout_seconds", 120)
	v.SetDefault("providers.ragie.base_url", "https://api.ragie.ai")
	v.SetDefault("providers.ragie.timeout_seconds", 60)
	v.SetDefault("providers.openai.model", "gpt-4o-mini")

	v.SetDefault("payment.base_url", "https://api.stripe.com")
	v.SetDefault("payment.currency", "usd")
	v.SetDefault("payment.credits_per_unit", 100)

	v.SetDefault("qa.poll_interval", "2s")
	v.SetDefault("qa.ready_timeout", "3m")
	v.SetDefault("qa.top_k", 6)
	v.SetDefault("qa.max_context_tokens", 3000)
	v.SetDefault("qa.upload_lease_ttl", "5m")

	v.SetDefault("storage.base_path", "./data/files")

	v.SetDefault("worker.enabled", true)
	v.SetDefault("worker.concurrency", 4)
}

// collectCostOverrides 读取 credits.costs.* 的原始字符串值（文件或环境变量）
func collectCostOverrides(v *viper.Viper) map[string]string {
	out := make(map[string]string)
	for _, kind := range []string{"parse", "generate", "retrieve"} {
		if raw := strings.TrimSpace(v.GetString("credits.costs." + kind)); raw != "" {
			out[kind] = raw
		}
	}
	return out
}
