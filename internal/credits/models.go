package credits

import (
	"time"
)

// APIKeys 用户自带的第三方服务密钥
type APIKeys struct {
	Unstructured string `json:"unstructured"`
	OpenAI       string `json:"openai"`
	Ragie        string `json:"ragie"`
}

// Get 按服务取密钥
func (k APIKeys) Get(p Provider) string {
	switch p {
	case ProviderUnstructured:
		return k.Unstructured
	case ProviderOpenAI:
		return k.OpenAI
	case ProviderRagie:
		return k.Ragie
	default:
		return ""
	}
}

// Masked 返回脱敏后的密钥，仅保留末四位
func (k APIKeys) Masked() APIKeys {
	return APIKeys{
		Unstructured: maskSecret(k.Unstructured),
		OpenAI:       maskSecret(k.OpenAI),
		Ragie:        maskSecret(k.Ragie),
	}
}

func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "****"
	}
	return "****" + s[len(s)-4:]
}

// Profile 用户资料（本地镜像使用的领域模型）
type Profile struct {
	UID        string  `json:"uid"`
	Credits    int64   `json:"credits"`
	APIKeys    APIKeys `json:"apiKeys"`
	UseCredits bool    `json:"useCredits"`
}

// ProfilePatch 资料的局部更新，不包含积分字段
type ProfilePatch struct {
	UnstructuredAPIKey *string `json:"unstructuredApiKey,omitempty"`
	OpenAIAPIKey       *string `json:"openaiApiKey,omitempty"`
	RagieAPIKey        *string `json:"ragieApiKey,omitempty"`
	UseCredits         *bool   `json:"useCredits,omitempty"`
}

// IsEmpty 是否没有任何字段
func (p ProfilePatch) IsEmpty() bool {
	return p.UnstructuredAPIKey == nil && p.OpenAIAPIKey == nil && p.RagieAPIKey == nil && p.UseCredits == nil
}

// ApplyTo 在资料副本上应用补丁
func (p ProfilePatch) ApplyTo(profile Profile) Profile {
	if p.UnstructuredAPIKey != nil {
		profile.APIKeys.Unstructured = *p.UnstructuredAPIKey
	}
	if p.OpenAIAPIKey != nil {
		profile.APIKeys.OpenAI = *p.OpenAIAPIKey
	}
	if p.RagieAPIKey != nil {
		profile.APIKeys.Ragie = *p.RagieAPIKey
	}
	if p.UseCredits != nil {
		profile.UseCredits = *p.UseCredits
	}
	return profile
}

// ProfileRecord 持久化的用户资料
// 可选字段使用指针，NULL 表示旧记录中缺失的字段，读取时与默认值合并
type ProfileRecord struct {
	UID                string    `gorm:"column:uid;primaryKey;size:128"`
	Credits            int64     `gorm:"column:credits;not null;default:0"`
	UnstructuredAPIKey *string   `gorm:"column:unstructured_api_key;size:1024"`
	OpenAIAPIKey       *string   `gorm:"column:openai_api_key;size:1024"`
	RagieAPIKey        *string   `gorm:"column:ragie_api_key;size:1024"`
	UseCredits         *bool     `gorm:"column:use_credits"`
	CreatedAt          time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName 表名
func (ProfileRecord) TableName() string {
	return "profiles"
}

// 可写列名
const (
	ColumnCredits            = "credits"
	ColumnUnstructuredAPIKey = "unstructured_api_key"
	ColumnOpenAIAPIKey       = "openai_api_key"
	ColumnRagieAPIKey        = "ragie_api_key"
	ColumnUseCredits         = "use_credits"
)

// presentColumns 返回非 NULL 的可选列
func (r *ProfileRecord) presentColumns() []string {
	var cols []string
	if r.UnstructuredAPIKey != nil {
		cols = append(cols, ColumnUnstructuredAPIKey)
	}
	if r.OpenAIAPIKey != nil {
		cols = append(cols, ColumnOpenAIAPIKey)
	}
	if r.RagieAPIKey != nil {
		cols = append(cols, ColumnRagieAPIKey)
	}
	if r.UseCredits != nil {
		cols = append(cols, ColumnUseCredits)
	}
	return cols
}

// TransactionType 积分流水类型
type TransactionType string

const (
	TransactionTypeTopUp   TransactionType = "topup"   // 充值
	TransactionTypeConsume TransactionType = "consume" // 消费
)

// CreditTransaction 积分流水，每次账本变动后写入一条
type CreditTransaction struct {
	ID           string          `json:"id" gorm:"primaryKey;size:36"`
	UID          string          `json:"uid" gorm:"column:uid;size:128;not null;index:idx_credit_tx_user"`
	Type         TransactionType `json:"type" gorm:"size:20;not null"`
	Amount       int64           `json:"amount" gorm:"not null"` // 变动金额（正负）
	BalanceAfter int64           `json:"balanceAfter"`           // 变动后刷新得到的余额
	Kind         OperationKind   `json:"kind,omitempty" gorm:"size:20"`
	Reference    string          `json:"reference,omitempty" gorm:"size:255"` // 支付单号等
	Description  string          `json:"description" gorm:"size:500"`
	CreatedAt    time.Time       `json:"createdAt" gorm:"not null;autoCreateTime;index:idx_credit_tx_time"`
}

// Memo 账本变动的附加说明
type Memo struct {
	Type        TransactionType
	Kind        OperationKind
	Reference   string
	Description string
}
