package payment

import (
	"time"
)

// Payment 已确认的外部支付记录
// IntentID 为支付服务分配的全局唯一 ID，用作去重键
type Payment struct {
	ID        string    `json:"id" gorm:"primaryKey;size:36"`
	UID       string    `json:"uid" gorm:"column:uid;size:128;not null;index"`
	IntentID  string    `json:"intentId" gorm:"size:255;not null;uniqueIndex"`
	Amount    int64     `json:"amount" gorm:"not null"` // 最小货币单位
	Currency  string    `json:"currency" gorm:"size:10"`
	Status    string    `json:"status" gorm:"size:30"`
	Credits   int64     `json:"credits" gorm:"not null"` // 兑换的积分
	Credited  bool      `json:"credited" gorm:"not null;default:false"`
	CreatedAt time.Time `json:"createdAt" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"autoUpdateTime"`
}

// TableName 表名
func (Payment) TableName() string {
	return "payments"
}

// Intent 返回给前端的支付意图
type Intent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"clientSecret"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
	Credits      int64  `json:"credits"`
}

// ConfirmResult 确认支付的结果
type ConfirmResult struct {
	Payment         *Payment `json:"payment"`
	AlreadyRecorded bool     `json:"alreadyRecorded"`
}
