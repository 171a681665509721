package profile

import (
	"docbrain/api/handlers/response"
	"docbrain/internal/auth"
	"docbrain/internal/common"
	"docbrain/internal/credits"

	"github.com/gin-gonic/gin"
)

// Handler 用户资料处理器
type Handler struct {
	cache *credits.ProfileCache
}

// NewHandler 创建处理器
func NewHandler(cache *credits.ProfileCache) *Handler {
	return &Handler{cache: cache}
}

// View 返回给客户端的资料，密钥只显示末尾四位
type View struct {
	UID        string          `json:"uid"`
	Credits    int64           `json:"credits"`
	UseCredits bool            `json:"useCredits"`
	APIKeys    credits.APIKeys `json:"apiKeys"`
}

func toView(p credits.Profile) View {
	return View{
		UID:        p.UID,
		Credits:    p.Credits,
		UseCredits: p.UseCredits,
		APIKeys:    p.APIKeys.Masked(),
	}
}

// Get 获取当前用户资料
// @Summary 获取用户资料
// @Tags Profile
// @Security BearerAuth
// @Produce json
// @Success 200 {object} View
// @Router /api/profile [get]
func (h *Handler) Get(c *gin.Context) {
	id, err := auth.RequireAuth(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}

	// 每次进入设置页都以存储为准
	p, err := h.cache.Fetch(c.Request.Context(), id.UID)
	if err != nil {
		response.Error(c, err)
		return
	}
	common.ResponseSuccess(c, toView(p))
}

// Update 更新密钥或积分模式；credits 字段不可通过此接口修改
// @Summary 更新用户资料
// @Tags Profile
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param body body credits.ProfilePatch true "资料补丁"
// @Success 200 {object} View
// @Router /api/profile [patch]
func (h *Handler) Update(c *gin.Context) {
	id, err := auth.RequireAuth(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}

	var patch credits.ProfilePatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		response.BindError(c, err)
		return
	}
	if patch.IsEmpty() {
		common.ResponseBadRequest(c, "没有需要更新的字段")
		return
	}

	if err := h.cache.Update(c.Request.Context(), id.UID, patch, nil); err != nil {
		response.Error(c, err)
		return
	}

	p, err := h.cache.Get(c.Request.Context(), id.UID)
	if err != nil {
		response.Error(c, err)
		return
	}
	common.ResponseSuccessMessage(c, "资料已更新", toView(p))
}
