package payments

import (
	"docbrain/api/handlers/response"
	"docbrain/internal/auth"
	"docbrain/internal/common"
	"docbrain/internal/payment"

	"github.com/gin-gonic/gin"
)

// Handler 支付处理器
type Handler struct {
	svc *payment.Service
}

// NewHandler 创建处理器
func NewHandler(svc *payment.Service) *Handler {
	return &Handler{svc: svc}
}

type createIntentDTO struct {
	Amount int64 `json:"amount" binding:"required,gt=0"` // 最小货币单位（分）
}

// CreateIntent 创建支付意图
// @Summary 创建充值支付
// @Tags Payments
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param body body createIntentDTO true "充值金额（分）"
// @Success 200 {object} payment.Intent
// @Router /api/payments/intents [post]
func (h *Handler) CreateIntent(c *gin.Context) {
	id, err := auth.RequireAuth(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}

	var dto createIntentDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BindError(c, err)
		return
	}

	intent, err := h.svc.CreateIntent(c.Request.Context(), id.UID, dto.Amount)
	if err != nil {
		response.Error(c, err)
		return
	}
	common.ResponseSuccess(c, intent)
}

type confirmDTO struct {
	IntentID string `json:"intentId" binding:"required"`
}

// Confirm 确认支付并充值积分，重复确认不会重复充值
// @Summary 确认支付
// @Tags Payments
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param body body confirmDTO true "支付 ID"
// @Success 200 {object} payment.ConfirmResult
// @Router /api/payments/confirm [post]
func (h *Handler) Confirm(c *gin.Context) {
	id, err := auth.RequireAuth(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}

	var dto confirmDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BindError(c, err)
		return
	}

	result, err := h.svc.Confirm(c.Request.Context(), id.UID, dto.IntentID)
	if err != nil {
		response.Error(c, err)
		return
	}

	msg := "充值成功"
	if result.AlreadyRecorded {
		msg = "该支付已记录"
	}
	common.ResponseSuccessMessage(c, msg, result)
}

// List 支付记录
// @Summary 支付记录
// @Tags Payments
// @Security BearerAuth
// @Param page query int false "页码"
// @Param page_size query int false "每页数量"
// @Produce json
// @Router /api/payments [get]
func (h *Handler) List(c *gin.Context) {
	id, err := auth.RequireAuth(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}

	var page common.PaginationRequest
	if err := c.ShouldBindQuery(&page); err != nil {
		response.BindError(c, err)
		return
	}

	list, total, err := h.svc.List(c.Request.Context(), id.UID, page.GetPage(), page.GetPageSize())
	if err != nil {
		response.Error(c, err)
		return
	}
	common.ResponseList(c, list, total, page)
}
