package documents

import (
	"net/http"
	"path/filepath"
	"strconv"

	"docbrain/api/handlers/response"
	"docbrain/internal/auth"
	"docbrain/internal/common"
	"docbrain/internal/qa"

	"github.com/gin-gonic/gin"
)

// MaxUploadBytes 单个文件上传上限
const MaxUploadBytes = 50 << 20

// Handler 文档与问答处理器
type Handler struct {
	svc *qa.Service
}

// NewHandler 创建处理器
func NewHandler(svc *qa.Service) *Handler {
	return &Handler{svc: svc}
}

// Upload 上传文档（只保存到本地，不调用外部服务）
// @Summary 上传文档
// @Tags Documents
// @Security BearerAuth
// @Accept multipart/form-data
// @Param file formData file true "文档"
// @Produce json
// @Success 201 {object} qa.Document
// @Router /api/documents [post]
func (h *Handler) Upload(c *gin.Context) {
	id, err := auth.RequireAuth(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxUploadBytes)
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		common.ResponseBadRequest(c, "未找到上传文件: "+err.Error())
		return
	}
	defer file.Close()

	doc, err := h.svc.CreateDocument(c.Request.Context(), id.UID, filepath.Base(header.Filename), file)
	if err != nil {
		response.Error(c, err)
		return
	}
	common.ResponseCreated(c, doc)
}

// List 当前用户的文档
// @Summary 文档列表
// @Tags Documents
// @Security BearerAuth
// @Produce json
// @Router /api/documents [get]
func (h *Handler) List(c *gin.Context) {
	id, err := auth.RequireAuth(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}

	docs, err := h.svc.ListDocuments(c.Request.Context(), id.UID)
	if err != nil {
		response.Error(c, err)
		return
	}
	common.ResponseSuccess(c, docs)
}

// Get 文档详情
// @Summary 文档详情
// @Tags Documents
// @Security BearerAuth
// @Param id path string true "文档 ID"
// @Produce json
// @Router /api/documents/{id} [get]
func (h *Handler) Get(c *gin.Context) {
	id, err := auth.RequireAuth(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}

	doc, err := h.svc.GetDocument(c.Request.Context(), id.UID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	common.ResponseSuccess(c, doc)
}

// UploadRetrieval 提交文档到检索服务后立即返回，客户端轮询文档状态，不扣积分
// @Summary 上传到检索服务
// @Tags Documents
// @Security BearerAuth
// @Param id path string true "文档 ID"
// @Produce json
// @Router /api/documents/{id}/retrieval [post]
func (h *Handler) UploadRetrieval(c *gin.Context) {
	id, err := auth.RequireAuth(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}

	doc, err := h.svc.StartUpload(c.Request.Context(), id.UID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	if doc.RetrievalStatus == qa.StatusReady {
		common.ResponseSuccess(c, doc)
		return
	}
	c.JSON(http.StatusAccepted, common.SuccessMessageResponse("文档正在上传到检索服务", doc))
}

type askDTO struct {
	Question string `json:"question" binding:"required"`
}

// Ask 对文档提问（检索与生成分别扣费）
// @Summary 文档问答
// @Tags Documents
// @Security BearerAuth
// @Param id path string true "文档 ID"
// @Param body body askDTO true "问题"
// @Accept json
// @Produce json
// @Success 200 {object} qa.Entry
// @Router /api/documents/{id}/questions [post]
func (h *Handler) Ask(c *gin.Context) {
	id, err := auth.RequireAuth(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}

	var dto askDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BindError(c, err)
		return
	}

	entry, err := h.svc.Ask(c.Request.Context(), id.UID, c.Param("id"), dto.Question)
	if err != nil {
		response.Error(c, err)
		return
	}
	common.ResponseSuccess(c, entry)
}

// InFlight 正在生成中的回答
// @Summary 进行中的回答
// @Tags Documents
// @Security BearerAuth
// @Param id path string true "文档 ID"
// @Produce json
// @Success 200 {object} qa.Answer
// @Router /api/documents/{id}/questions/inflight [get]
func (h *Handler) InFlight(c *gin.Context) {
	id, err := auth.RequireAuth(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}

	doc, err := h.svc.GetDocument(c.Request.Context(), id.UID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	answer, ok := h.svc.InFlight(doc.ID)
	if !ok {
		common.ResponseSuccess(c, nil)
		return
	}
	common.ResponseSuccess(c, answer)
}

// History 问答历史
// @Summary 问答历史
// @Tags Documents
// @Security BearerAuth
// @Param id path string true "文档 ID"
// @Produce json
// @Success 200 {array} qa.Entry
// @Router /api/documents/{id}/questions [get]
func (h *Handler) History(c *gin.Context) {
	id, err := auth.RequireAuth(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}

	entries, err := h.svc.History(c.Request.Context(), id.UID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	common.ResponseSuccess(c, entries)
}

// DeleteEntry 按位置删除一条问答记录
// @Summary 删除问答记录
// @Tags Documents
// @Security BearerAuth
// @Param id path string true "文档 ID"
// @Param index path int true "记录位置，从 0 开始"
// @Produce json
// @Router /api/documents/{id}/questions/{index} [delete]
func (h *Handler) DeleteEntry(c *gin.Context) {
	id, err := auth.RequireAuth(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}

	index, err := strconv.Atoi(c.Param("index"))
	if err != nil || index < 0 {
		common.ResponseBadRequest(c, "无效的记录位置")
		return
	}

	if err := h.svc.DeleteEntry(c.Request.Context(), id.UID, c.Param("id"), index); err != nil {
		response.Error(c, err)
		return
	}
	common.ResponseSuccessMessage(c, "删除成功", nil)
}

// Summarize 解析并总结文档（解析与生成分别扣费）
// @Summary 文档摘要
// @Tags Documents
// @Security BearerAuth
// @Param id path string true "文档 ID"
// @Produce json
// @Router /api/documents/{id}/summary [post]
func (h *Handler) Summarize(c *gin.Context) {
	id, err := auth.RequireAuth(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}

	summary, err := h.svc.Summarize(c.Request.Context(), id.UID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	common.ResponseSuccess(c, gin.H{"summary": summary})
}

// Parse 解析文档结构（扣费）
// @Summary 文档解析
// @Tags Documents
// @Security BearerAuth
// @Param id path string true "文档 ID"
// @Produce json
// @Router /api/documents/{id}/parse [post]
func (h *Handler) Parse(c *gin.Context) {
	id, err := auth.RequireAuth(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}

	elements, err := h.svc.Parse(c.Request.Context(), id.UID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	common.ResponseSuccess(c, gin.H{"elements": elements, "count": len(elements)})
}
