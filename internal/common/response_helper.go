package common

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ResponseSuccess 返回成功响应
func ResponseSuccess(c *gin.Context, data any) {
	c.JSON(http.StatusOK, SuccessResponse(data))
}

// ResponseSuccessMessage 返回成功响应（带消息）
func ResponseSuccessMessage(c *gin.Context, message string, data any) {
	c.JSON(http.StatusOK, SuccessMessageResponse(message, data))
}

// ResponseList 返回分页列表响应
func ResponseList(c *gin.Context, items any, total int64, req PaginationRequest) {
	response := ListResponse{
		Items:      items,
		Pagination: NewPaginationMeta(req.GetPage(), req.GetPageSize(), total),
	}
	c.JSON(http.StatusOK, SuccessResponse(response))
}

// HTTPStatus 业务状态码对应的 HTTP 状态码
func HTTPStatus(code int) int {
	switch code {
	case CodeSuccess:
		return http.StatusOK
	case CodeUnauthorized, CodeInvalidCredentials:
		return http.StatusUnauthorized
	case CodeForbidden, CodePaymentMismatch:
		return http.StatusForbidden
	case CodeNotFound, CodeDocumentNotFound, CodeEntryNotFound:
		return http.StatusNotFound
	case CodeInvalidRequest, CodeMissingAPIKey, CodePaymentNotSucceeded:
		return http.StatusBadRequest
	case CodeConflict, CodeDocumentNotReady, CodeUploadInProgress:
		return http.StatusConflict
	case CodeInsufficientCredits:
		return http.StatusPaymentRequired
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeServiceUnavailable, CodePlatformKeyMissing:
		return http.StatusServiceUnavailable
	case CodeProviderFailed, CodeRetrievalFailed:
		return http.StatusBadGateway
	case CodeProviderTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// ResponseError 返回错误响应
func ResponseError(c *gin.Context, code int, message string) {
	if message == "" {
		message = GetErrorMessage(code)
	}
	c.JSON(HTTPStatus(code), ErrorResponse(code, message))
}

// ResponseErrorWithData 返回带附加数据的错误响应
func ResponseErrorWithData(c *gin.Context, code int, message string, data any) {
	resp := ErrorResponse(code, message)
	resp.Data = data
	c.JSON(HTTPStatus(code), resp)
}

// ResponseBusinessError 返回业务错误响应
func ResponseBusinessError(c *gin.Context, err *BusinessError) {
	ResponseError(c, err.Code, err.Message)
}

// AbortWithError 中断并返回错误
func AbortWithError(c *gin.Context, code int, message string) {
	ResponseError(c, code, message)
	c.Abort()
}

// ResponseCreated 返回创建成功响应（201）
func ResponseCreated(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, SuccessResponse(data))
}

// ResponseBadRequest 返回参数错误响应
func ResponseBadRequest(c *gin.Context, message string) {
	ResponseError(c, CodeInvalidRequest, message)
}

// ResponseNotFound 返回资源不存在响应
func ResponseNotFound(c *gin.Context, message string) {
	ResponseError(c, CodeNotFound, message)
}

// ResponseServerError 返回服务器错误响应
func ResponseServerError(c *gin.Context, message string) {
	ResponseError(c, CodeInternalError, message)
}
