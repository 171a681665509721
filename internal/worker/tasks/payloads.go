package tasks

// 任务类型
const (
	TypeUploadDocument = "retrieval:upload_document"
)

// 队列名
const (
	QueueRetrieval = "retrieval"
)

// UploadDocumentPayload 上传文档到检索服务的任务载荷
type UploadDocumentPayload struct {
	UID        string `json:"uid"`
	DocumentID string `json:"document_id"`
}
