package response

import (
	"errors"

	"docbrain/internal/auth"
	"docbrain/internal/common"
	"docbrain/internal/credits"
	"docbrain/internal/logger"
	"docbrain/internal/payment"
	"docbrain/internal/providers"
	"docbrain/internal/qa"
	"docbrain/pkg/httputil"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ShortfallData 积分不足时附带的数据，界面据此提示充值数量
type ShortfallData struct {
	Kind      credits.OperationKind `json:"kind"`
	Required  int64                 `json:"required"`
	Available int64                 `json:"available"`
	Shortfall int64                 `json:"shortfall"`
}

// Code 领域错误对应的业务状态码
func Code(err error) int {
	var insufficient *credits.InsufficientCreditsError
	var missingKey *credits.MissingUserKeyError
	var providerErr *credits.ProviderError
	var paymentErr *payment.ProviderError

	switch {
	case errors.As(err, &insufficient):
		return common.CodeInsufficientCredits
	case errors.As(err, &missingKey):
		return common.CodeMissingAPIKey
	case errors.Is(err, credits.ErrPlatformKeyMissing):
		return common.CodePlatformKeyMissing
	case errors.Is(err, providers.ErrPaymentNotConfigured):
		return common.CodeServiceUnavailable
	case errors.Is(err, credits.ErrCallTimeout):
		return common.CodeProviderTimeout
	case errors.Is(err, qa.ErrRetrievalFailed):
		return common.CodeRetrievalFailed
	case errors.As(err, &providerErr), errors.As(err, &paymentErr), errors.Is(err, httputil.ErrServiceUnavailable):
		return common.CodeProviderFailed
	case errors.Is(err, credits.ErrInvalidAmount), errors.Is(err, payment.ErrInvalidAmount),
		errors.Is(err, payment.ErrMissingPaymentID), errors.Is(err, qa.ErrEmptyQuestion):
		return common.CodeInvalidRequest
	case errors.Is(err, auth.ErrUnauthorized):
		return common.CodeUnauthorized
	case errors.Is(err, auth.ErrInvalidCredentials):
		return common.CodeInvalidCredentials
	case errors.Is(err, auth.ErrEmailTaken), errors.Is(err, qa.ErrQuestionInProgress):
		return common.CodeConflict
	case errors.Is(err, payment.ErrPaymentNotSucceeded):
		return common.CodePaymentNotSucceeded
	case errors.Is(err, payment.ErrPaymentOwnerMismatch):
		return common.CodePaymentMismatch
	case errors.Is(err, qa.ErrDocumentNotFound):
		return common.CodeDocumentNotFound
	case errors.Is(err, credits.ErrProfileNotFound):
		return common.CodeNotFound
	case errors.Is(err, qa.ErrDocumentNotReady):
		return common.CodeDocumentNotReady
	case errors.Is(err, qa.ErrUploadInProgress):
		return common.CodeUploadInProgress
	case errors.Is(err, qa.ErrEntryNotFound):
		return common.CodeEntryNotFound
	default:
		return common.CodeInternalError
	}
}

// Error 把领域错误写成统一响应；内部错误只记录日志，不向客户端暴露细节
func Error(c *gin.Context, err error) {
	code := Code(err)
	log := logger.WithContext(c.Request.Context())

	var insufficient *credits.InsufficientCreditsError
	if errors.As(err, &insufficient) {
		common.ResponseErrorWithData(c, code, insufficient.Error(), ShortfallData{
			Kind:      insufficient.Kind,
			Required:  insufficient.Required,
			Available: insufficient.Available,
			Shortfall: insufficient.Shortfall(),
		})
		return
	}

	if code == common.CodeInternalError {
		log.Error("请求处理失败", zap.String("path", c.FullPath()), zap.Error(err))
		common.ResponseError(c, code, "")
		return
	}
	if code == common.CodeProviderFailed || code == common.CodeProviderTimeout {
		log.Warn("外部服务调用失败", zap.String("path", c.FullPath()), zap.Error(err))
	}
	common.ResponseError(c, code, err.Error())
}

// BindError 参数绑定失败
func BindError(c *gin.Context, err error) {
	common.ResponseBadRequest(c, "参数错误: "+err.Error())
}
