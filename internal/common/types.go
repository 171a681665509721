package common

// ============================================================================
// 通用请求类型
// ============================================================================

// PaginationRequest 分页请求参数
type PaginationRequest struct {
	Page     int `json:"page" form:"page" binding:"omitempty,min=1"`           // 页码，从1开始
	PageSize int `json:"page_size" form:"page_size" binding:"omitempty,min=1"` // 每页数量
}

// DefaultPagination 返回默认分页参数
func DefaultPagination() PaginationRequest {
	return PaginationRequest{
		Page:     1,
		PageSize: 20,
	}
}

// GetPage 获取页码，提供默认值
func (p PaginationRequest) GetPage() int {
	if p.Page < 1 {
		return 1
	}
	return p.Page
}

// GetOffset 计算数据库查询的偏移量
func (p PaginationRequest) GetOffset() int {
	return (p.GetPage() - 1) * p.GetPageSize()
}

// GetPageSize 获取每页数量，提供默认值
func (p PaginationRequest) GetPageSize() int {
	if p.PageSize < 1 {
		return 20
	}
	if p.PageSize > 100 {
		return 100
	}
	return p.PageSize
}

// ============================================================================
// 通用响应类型
// ============================================================================

// APIResponse 统一API响应格式
type APIResponse struct {
	Success bool   `json:"success"`           // 是否成功
	Data    any    `json:"data,omitempty"`    // 响应数据
	Message string `json:"message,omitempty"` // 提示信息
	Code    int    `json:"code"`              // 业务状态码
}

// SuccessResponse 成功响应
func SuccessResponse(data any) APIResponse {
	return APIResponse{
		Success: true,
		Data:    data,
		Code:    CodeSuccess,
	}
}

// SuccessMessageResponse 成功响应（带消息）
func SuccessMessageResponse(message string, data any) APIResponse {
	return APIResponse{
		Success: true,
		Data:    data,
		Message: message,
		Code:    CodeSuccess,
	}
}

// ErrorResponse 错误响应
func ErrorResponse(code int, message string) APIResponse {
	return APIResponse{
		Success: false,
		Message: message,
		Code:    code,
	}
}

// PaginationMeta 分页元信息
type PaginationMeta struct {
	Page       int   `json:"page"`        // 当前页码
	PageSize   int   `json:"page_size"`   // 每页数量
	Total      int64 `json:"total"`       // 总记录数
	TotalPages int   `json:"total_pages"` // 总页数
}

// NewPaginationMeta 创建分页元信息
func NewPaginationMeta(page, pageSize int, total int64) PaginationMeta {
	meta := PaginationMeta{
		Page:     page,
		PageSize: pageSize,
		Total:    total,
	}
	if pageSize > 0 {
		meta.TotalPages = int((total + int64(pageSize) - 1) / int64(pageSize))
	}
	return meta
}

// ListResponse 列表响应（包含分页信息）
type ListResponse struct {
	Items      any            `json:"items"`      // 数据列表
	Pagination PaginationMeta `json:"pagination"` // 分页信息
}

// ============================================================================
// 业务状态码定义
// ============================================================================

const (
	// 成功状态码
	CodeSuccess = 0

	// 通用错误码 (1000-1999)
	CodeInvalidRequest     = 1000 // 请求参数错误
	CodeUnauthorized       = 1001 // 未授权
	CodeForbidden          = 1002 // 禁止访问
	CodeNotFound           = 1003 // 资源不存在
	CodeConflict           = 1004 // 资源冲突
	CodeInternalError      = 1005 // 内部错误
	CodeServiceUnavailable = 1006 // 服务不可用
	CodeRateLimited        = 1007 // 请求过于频繁

	// 账户相关错误码 (2000-2099)
	CodeInvalidCredentials = 2012 // 凭证无效

	// 积分与密钥 (3000-3099)
	CodeInsufficientCredits = 3000 // 积分不足
	CodeMissingAPIKey       = 3001 // 未配置自己的 API Key
	CodePlatformKeyMissing  = 3002 // 平台密钥未配置
	CodeProviderFailed      = 3010 // 外部服务调用失败
	CodeProviderTimeout     = 3011 // 外部服务超时

	// 支付 (4000-4099)
	CodePaymentNotSucceeded = 4000 // 支付未完成
	CodePaymentMismatch     = 4001 // 支付不属于当前用户

	// 文档与问答 (6000-6099)
	CodeDocumentNotFound = 6001 // 文档不存在
	CodeDocumentNotReady = 6003 // 文档仍在处理
	CodeUploadInProgress = 6004 // 文档正在上传
	CodeRetrievalFailed  = 6005 // 检索服务处理失败
	CodeEntryNotFound    = 6010 // 问答记录不存在
)

// ErrorMessages 错误码对应的默认消息
var ErrorMessages = map[int]string{
	CodeSuccess:            "操作成功",
	CodeInvalidRequest:     "请求参数错误",
	CodeUnauthorized:       "未授权，请先登录",
	CodeForbidden:          "无权限访问",
	CodeNotFound:           "资源不存在",
	CodeConflict:           "资源冲突",
	CodeInternalError:      "系统内部错误",
	CodeServiceUnavailable: "服务暂不可用",
	CodeRateLimited:        "请求过于频繁，请稍后重试",

	CodeInvalidCredentials: "邮箱或密码错误",

	CodeInsufficientCredits: "积分不足",
	CodeMissingAPIKey:       "未配置 API Key",
	CodePlatformKeyMissing:  "平台暂不可用，请稍后重试",
	CodeProviderFailed:      "外部服务调用失败",
	CodeProviderTimeout:     "外部服务超时",

	CodePaymentNotSucceeded: "支付尚未完成",
	CodePaymentMismatch:     "支付信息不匹配",

	CodeDocumentNotFound: "文档不存在",
	CodeDocumentNotReady: "文档仍在处理中",
	CodeUploadInProgress: "文档正在上传",
	CodeRetrievalFailed:  "检索服务处理文档失败",
	CodeEntryNotFound:    "问答记录不存在",
}

// GetErrorMessage 获取错误码对应的消息
func GetErrorMessage(code int) string {
	if msg, ok := ErrorMessages[code]; ok {
		return msg
	}
	return "未知错误"
}

// ============================================================================
// 通用业务错误类型
// ============================================================================

// BusinessError 业务错误
type BusinessError struct {
	Code    int    // 错误码
	Message string // 错误信息
}

// Error 实现error接口
func (e *BusinessError) Error() string {
	return e.Message
}

// NewBusinessError 创建业务错误
func NewBusinessError(code int, message string) *BusinessError {
	if message == "" {
		message = GetErrorMessage(code)
	}
	return &BusinessError{
		Code:    code,
		Message: message,
	}
}
