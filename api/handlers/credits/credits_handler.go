package credits

import (
	"context"

	"docbrain/api/handlers/response"
	"docbrain/internal/auth"
	"docbrain/internal/common"
	creditsSvc "docbrain/internal/credits"

	"github.com/gin-gonic/gin"
)

// TransactionLister 积分流水查询
type TransactionLister interface {
	List(ctx context.Context, uid string, page, pageSize int) ([]creditsSvc.CreditTransaction, int64, error)
}

// Handler 积分处理器
type Handler struct {
	ledger *creditsSvc.Ledger
	costs  *creditsSvc.CostTable
	txlog  TransactionLister
}

// NewHandler 创建处理器
func NewHandler(ledger *creditsSvc.Ledger, costs *creditsSvc.CostTable, txlog TransactionLister) *Handler {
	return &Handler{ledger: ledger, costs: costs, txlog: txlog}
}

// BalanceResponse 余额
type BalanceResponse struct {
	Credits int64 `json:"credits"`
}

// GetBalance 获取当前用户余额（本地镜像）
// @Summary 获取积分余额
// @Tags Credits
// @Security BearerAuth
// @Produce json
// @Success 200 {object} BalanceResponse
// @Router /api/credits/balance [get]
func (h *Handler) GetBalance(c *gin.Context) {
	id, err := auth.RequireAuth(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}

	balance, err := h.ledger.Balance(c.Request.Context(), id.UID)
	if err != nil {
		response.Error(c, err)
		return
	}
	common.ResponseSuccess(c, BalanceResponse{Credits: balance})
}

// ListTransactions 积分流水
// @Summary 积分流水
// @Tags Credits
// @Security BearerAuth
// @Param page query int false "页码"
// @Param page_size query int false "每页数量"
// @Produce json
// @Router /api/credits/transactions [get]
func (h *Handler) ListTransactions(c *gin.Context) {
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

	list, total, err := h.txlog.List(c.Request.Context(), id.UID, page.GetPage(), page.GetPageSize())
	if err != nil {
		response.Error(c, err)
		return
	}
	common.ResponseList(c, list, total, page)
}

// CostItem 单个操作的积分成本
type CostItem struct {
	Kind     creditsSvc.OperationKind `json:"kind"`
	Provider string                   `json:"provider"`
	Cost     int64                    `json:"cost"`
}

// ListCosts 各操作的积分成本
// @Summary 操作成本
// @Tags Credits
// @Produce json
// @Success 200 {array} CostItem
// @Router /api/credits/costs [get]
func (h *Handler) ListCosts(c *gin.Context) {
	snapshot := h.costs.Snapshot()
	items := make([]CostItem, 0, len(snapshot))
	for _, kind := range creditsSvc.Kinds() {
		items = append(items, CostItem{
			Kind:     kind,
			Provider: kind.Provider().DisplayName(),
			Cost:     snapshot[kind],
		})
	}
	common.ResponseSuccess(c, items)
}
