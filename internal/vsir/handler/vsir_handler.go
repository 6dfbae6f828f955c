package handler

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sooshee9/AIR01/internal/middleware"
	"github.com/sooshee9/AIR01/internal/vsir/entity"
	"github.com/sooshee9/AIR01/internal/vsir/service"
	"github.com/sooshee9/AIR01/internal/vsir/sse"
	"github.com/sooshee9/AIR01/internal/vsir/store"
)

// VSIRHandler 收货记录接口
type VSIRHandler struct {
	mgr            *service.Manager
	docs           store.DocumentStore
	export         *service.ExportService
	imports        *service.ImportService
	hub            *sse.Hub
	bulkPermission string
	logger         *zap.Logger
}

// Deps wires a VSIRHandler.
type Deps struct {
	Manager        *service.Manager
	Documents      store.DocumentStore
	Export         *service.ExportService
	Import         *service.ImportService
	Hub            *sse.Hub
	BulkPermission string
	Logger         *zap.Logger
}

func NewVSIRHandler(d Deps) *VSIRHandler {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Export == nil {
		d.Export = service.NewExportService(nil, "", d.Logger)
	}
	if d.Import == nil {
		d.Import = service.NewImportService(d.Documents, d.Logger)
	}
	if d.BulkPermission == "" {
		d.BulkPermission = "vsir:bulk"
	}
	return &VSIRHandler{
		mgr:            d.Manager,
		docs:           d.Documents,
		export:         d.Export,
		imports:        d.Import,
		hub:            d.Hub,
		bulkPermission: d.BulkPermission,
		logger:         d.Logger,
	}
}

// RegisterRoutes mounts the module under an authenticated group.
func (h *VSIRHandler) RegisterRoutes(api *gin.RouterGroup) {
	v := api.Group("/vsir")
	{
		v.POST("/session", h.Login)
		v.DELETE("/session", h.Logout)

		v.GET("/records", h.ListRecords)
		v.GET("/records/export", h.ExportRecords)
		v.DELETE("/records/:id", h.DeleteRecord)

		v.GET("/form", h.GetForm)
		v.PUT("/form", h.UpdateForm)
		v.POST("/form/edit/:id", h.EditRecord)
		v.POST("/form/reset", h.ResetForm)
		v.POST("/form/vendor-batch", h.GenerateVendorBatch)
		v.POST("/form/submit", h.SubmitForm)

		v.GET("/toggles", h.GetToggles)
		v.PUT("/toggles", middleware.RequirePermission(h.bulkPermission), h.SetToggles)

		v.GET("/item-master", h.ItemMaster)
		v.GET("/next-vendor-batch-no", h.NextVendorBatchNo)

		v.GET("/confirmations", h.ListConfirmations)
		v.POST("/confirmations/:id", h.AnswerConfirmation)

		v.GET("/activity", h.ListActivity)
		v.GET("/events", h.Stream)

		v.GET("/reference/:collection", h.ListReference)
		v.POST("/reference/:collection", h.AddReference)
		v.POST("/reference/:collection/import", h.ImportReference)
		v.PUT("/reference/:collection/:id", h.UpdateReference)
		v.DELETE("/reference/:collection/:id", h.DeleteReference)
	}
}

func (h *VSIRHandler) session(c *gin.Context) (*service.Session, bool) {
	s, err := h.mgr.Get(GetUserID(c))
	if err != nil {
		fail(c, err)
		return nil, false
	}
	return s, true
}

// Login 打开会话
// POST /api/v1/vsir/session
func (h *VSIRHandler) Login(c *gin.Context) {
	s, err := h.mgr.Login(c.Request.Context(), GetUserID(c))
	if err != nil {
		fail(c, err)
		return
	}
	Success(c, gin.H{"user_id": s.UserID(), "ready": s.Ready(), "toggles": s.Toggles()})
}

// Logout 关闭会话
// DELETE /api/v1/vsir/session
func (h *VSIRHandler) Logout(c *gin.Context) {
	if err := h.mgr.Logout(c.Request.Context(), GetUserID(c)); err != nil {
		fail(c, err)
		return
	}
	Success(c, nil)
}

func (h *VSIRHandler) ListRecords(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	records := s.Records()
	Success(c, gin.H{"items": records, "total": len(records)})
}

// ExportRecords 导出Excel
// GET /api/v1/vsir/records/export
func (h *VSIRHandler) ExportRecords(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	f, filename, err := h.export.Export(s.Records())
	if err != nil {
		InternalError(c, "导出失败: "+err.Error())
		return
	}
	defer f.Close()

	if obj, err := h.export.Archive(c.Request.Context(), s.UserID(), f, filename); err != nil {
		h.logger.Warn("vsir export archive failed", zap.String("user_id", s.UserID()), zap.Error(err))
	} else if obj != "" {
		c.Header("X-Archive-Object", obj)
	}

	c.Header("Content-Type", h.export.ContentType())
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))
	if err := f.Write(c.Writer); err != nil {
		h.logger.Error("write vsir export", zap.Error(err))
	}
}

func (h *VSIRHandler) DeleteRecord(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	if err := s.DeleteRecord(c.Request.Context(), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	Success(c, nil)
}

func (h *VSIRHandler) GetForm(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	Success(c, s.Form())
}

// UpdateForm 修改表单字段，请求体为 {字段名: 值}
// PUT /api/v1/vsir/form
func (h *VSIRHandler) UpdateForm(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var fields map[string]interface{}
	if err := c.ShouldBindJSON(&fields); err != nil {
		BadRequest(c, "Invalid request: "+err.Error())
		return
	}
	if len(fields) == 0 {
		BadRequest(c, "No fields to update")
		return
	}
	state, err := s.UpdateForm(c.Request.Context(), fields)
	if err != nil {
		fail(c, err)
		return
	}
	Success(c, state)
}

func (h *VSIRHandler) EditRecord(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	state, err := s.EditRecord(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	Success(c, state)
}

func (h *VSIRHandler) ResetForm(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	if err := s.ResetForm(c.Request.Context()); err != nil {
		fail(c, err)
		return
	}
	Success(c, s.Form())
}

func (h *VSIRHandler) GenerateVendorBatch(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	next, err := s.GenerateVendorBatch(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	Success(c, gin.H{"vendor_batch_no": next, "form": s.Form()})
}

// SubmitForm 提交表单
// POST /api/v1/vsir/form/submit
func (h *VSIRHandler) SubmitForm(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	rec, err := s.SubmitForm(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	Success(c, rec)
}

func (h *VSIRHandler) GetToggles(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	Success(c, s.Toggles())
}

type toggleRequest struct {
	AutoImport *bool `json:"auto_import"`
	AutoDelete *bool `json:"auto_delete"`
}

// SetToggles 切换自动导入/自动删除。开启时若需要确认，请求会等待确认结果
// PUT /api/v1/vsir/toggles
func (h *VSIRHandler) SetToggles(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req toggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid request: "+err.Error())
		return
	}
	if req.AutoImport == nil && req.AutoDelete == nil {
		BadRequest(c, "auto_import or auto_delete is required")
		return
	}
	toggles, err := s.SetToggles(c.Request.Context(), req.AutoImport, req.AutoDelete)
	if err != nil {
		fail(c, err)
		return
	}
	Success(c, toggles)
}

// ItemMaster 物料主数据，refresh=true 时重新读取
// GET /api/v1/vsir/item-master
func (h *VSIRHandler) ItemMaster(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	items, err := s.ItemMaster(c.Request.Context(), c.Query("refresh") == "true")
	if err != nil {
		fail(c, err)
		return
	}
	Success(c, gin.H{"items": items})
}

func (h *VSIRHandler) NextVendorBatchNo(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	next, err := s.NextVendorBatchNo(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	Success(c, gin.H{"vendor_batch_no": next})
}

func (h *VSIRHandler) ListConfirmations(c *gin.Context) {
	Success(c, gin.H{"items": h.mgr.Confirmations().List(GetUserID(c))})
}

type answerRequest struct {
	Accept *bool `json:"accept" binding:"required"`
}

// AnswerConfirmation 回复批量操作确认
// POST /api/v1/vsir/confirmations/:id
func (h *VSIRHandler) AnswerConfirmation(c *gin.Context) {
	var req answerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid request: "+err.Error())
		return
	}
	if err := h.mgr.Confirmations().Answer(GetUserID(c), c.Param("id"), *req.Accept); err != nil {
		fail(c, err)
		return
	}
	Success(c, gin.H{"accepted": *req.Accept})
}

// ListActivity 操作日志
// GET /api/v1/vsir/activity?limit=50
func (h *VSIRHandler) ListActivity(c *gin.Context) {
	activity := h.mgr.Activity()
	if activity == nil {
		Success(c, gin.H{"items": []entity.ActivityLog{}})
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	logs, err := activity.List(c.Request.Context(), GetUserID(c), limit)
	if err != nil {
		InternalError(c, err.Error())
		return
	}
	Success(c, gin.H{"items": logs})
}

func referenceCollection(c *gin.Context) (entity.Collection, bool) {
	coll := entity.Collection(c.Param("collection"))
	if !coll.IsReference() {
		BadRequest(c, "Unknown reference collection: "+string(coll))
		return "", false
	}
	return coll, true
}

func (h *VSIRHandler) ListReference(c *gin.Context) {
	coll, ok := referenceCollection(c)
	if !ok {
		return
	}
	docs, err := h.docs.GetAll(c.Request.Context(), GetUserID(c), coll)
	if err != nil {
		InternalError(c, err.Error())
		return
	}
	Success(c, gin.H{"items": docs, "total": len(docs)})
}

type referenceRequest struct {
	ID   string       `json:"id"`
	Data entity.JSONB `json:"data" binding:"required"`
}

// AddReference 写入外部模块的参考数据
// POST /api/v1/vsir/reference/:collection
func (h *VSIRHandler) AddReference(c *gin.Context) {
	coll, ok := referenceCollection(c)
	if !ok {
		return
	}
	var req referenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid request: "+err.Error())
		return
	}
	now := time.Now()
	doc := &entity.Document{
		ID:         req.ID,
		Collection: coll,
		Data:       req.Data,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := h.docs.Add(c.Request.Context(), GetUserID(c), doc); err != nil {
		InternalError(c, err.Error())
		return
	}
	Created(c, doc)
}

func (h *VSIRHandler) UpdateReference(c *gin.Context) {
	coll, ok := referenceCollection(c)
	if !ok {
		return
	}
	var req referenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid request: "+err.Error())
		return
	}
	if err := h.docs.Update(c.Request.Context(), GetUserID(c), coll, c.Param("id"), req.Data); err != nil {
		fail(c, err)
		return
	}
	Success(c, nil)
}

func (h *VSIRHandler) DeleteReference(c *gin.Context) {
	coll, ok := referenceCollection(c)
	if !ok {
		return
	}
	if err := h.docs.Delete(c.Request.Context(), GetUserID(c), coll, c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	Success(c, nil)
}

// ImportReference 从文件导入参考数据 (xlsx / csv / tsv)
// POST /api/v1/vsir/reference/:collection/import?encoding=gbk
func (h *VSIRHandler) ImportReference(c *gin.Context) {
	coll, ok := referenceCollection(c)
	if !ok {
		return
	}
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		BadRequest(c, "请上传文件")
		return
	}
	defer file.Close()

	result, err := h.imports.Import(c.Request.Context(), GetUserID(c), coll, header.Filename, file, c.Query("encoding"))
	if err != nil {
		BadRequest(c, "导入失败: "+err.Error())
		return
	}
	Success(c, result)
}
