package qa

import (
	"time"
)

// RetrievalStatus 文档在检索服务中的状态
type RetrievalStatus string

const (
	StatusNotUploaded RetrievalStatus = "not_uploaded"
	StatusUploading   RetrievalStatus = "uploading"
	StatusReady       RetrievalStatus = "ready"
	StatusFailed      RetrievalStatus = "failed"
)

// Document 文档及其检索状态
type Document struct {
	ID              string          `json:"id" gorm:"primaryKey;size:36"`
	UID             string          `json:"uid" gorm:"column:uid;size:128;not null;index"`
	Name            string          `json:"name" gorm:"size:255;not null"`
	StoragePath     string          `json:"-" gorm:"size:500;not null"`
	Size            int64           `json:"size"`
	RetrievalDocID  string          `json:"retrievalDocId" gorm:"size:128"`
	RetrievalStatus RetrievalStatus `json:"retrievalStatus" gorm:"size:20;not null;default:not_uploaded"`
	Summary         string          `json:"summary" gorm:"type:text"`
	CreatedAt       time.Time       `json:"createdAt" gorm:"autoCreateTime"`
	UpdatedAt       time.Time       `json:"updatedAt" gorm:"autoUpdateTime"`
}

// TableName 表名
func (Document) TableName() string {
	return "documents"
}

// Entry 问答历史条目
type Entry struct {
	ID         string    `json:"id" gorm:"primaryKey;size:36"`
	DocumentID string    `json:"documentId" gorm:"size:36;not null;index:idx_qa_doc_pos"`
	UID        string    `json:"uid" gorm:"column:uid;size:128;not null;index"`
	Question   string    `json:"question" gorm:"type:text;not null"`
	Answer     string    `json:"answer" gorm:"type:text;not null"`
	Position   int       `json:"position" gorm:"not null;index:idx_qa_doc_pos"`
	CreatedAt  time.Time `json:"createdAt" gorm:"autoCreateTime"`
}

// TableName 表名
func (Entry) TableName() string {
	return "qa_entries"
}

// Phase 单个问题的处理阶段
type Phase string

const (
	PhaseRetrieving Phase = "retrieving"
	PhaseGenerating Phase = "generating"
)

// Answer 正在生成中的回答
type Answer struct {
	Question string `json:"question"`
	Phase    Phase  `json:"phase"`
	Partial  string `json:"partial"`
}
