// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"io"
	"net/http"
	"strconv"

	"citizen-safety-go/internal/model"
	"citizen-safety-go/internal/service"
	"citizen-safety-go/pkg/log"
	"citizen-safety-go/pkg/token"

	"github.com/gin-gonic/gin"
)

// KnowledgeHandler 负责处理知识库管理相关的 API 请求。
type KnowledgeHandler struct {
	knowledgeService service.KnowledgeService
}

// NewKnowledgeHandler 创建一个新的 KnowledgeHandler 实例。
func NewKnowledgeHandler(knowledgeService service.KnowledgeService) *KnowledgeHandler {
	return &KnowledgeHandler{knowledgeService: knowledgeService}
}

// Upload 处理文档上传。
// 默认入库到临时分区；permanent=true 时进入永久语料库，需要管理员权限。
func (h *KnowledgeHandler) Upload(c *gin.Context) {
	permanent, _ := strconv.ParseBool(c.DefaultPostForm("permanent", c.DefaultQuery("permanent", "false")))
	if permanent && !isAdmin(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "写入永久语料库需要管理员权限"})
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的 multipart 请求"})
		return
	}
	fileHeaders := form.File["files"]
	if len(fileHeaders) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求中没有文件"})
		return
	}

	var files []model.IngestFile
	for _, fh := range fileHeaders {
		f, err := fh.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "无法读取上传文件: " + fh.Filename})
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "无法读取上传文件: " + fh.Filename})
			return
		}
		files = append(files, model.IngestFile{FileName: fh.Filename, Text: string(data)})
	}

	report, err := h.knowledgeService.IngestUploads(c.Request.Context(), files, permanent)
	if err != nil {
		log.Errorf("批量上传部分失败: %v", err)
		// 部分失败：报告成功的文件，同时带回失败原因
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "files": report.Files})
		return
	}
	c.JSON(http.StatusOK, report)
}

// Rebuild 触发全量重建：清空索引后从永久语料重新入库。仅管理员可用。
func (h *KnowledgeHandler) Rebuild(c *gin.Context) {
	enqueued, err := h.knowledgeService.Rebuild(c.Request.Context())
	if err != nil {
		log.Errorf("触发全量重建失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "全量重建失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":          "全量重建已触发，语料正在异步重新入库",
		"documents_queued": enqueued,
	})
}

// ClearTemporary 清空临时分区。永久语料不受影响。
func (h *KnowledgeHandler) ClearTemporary(c *gin.Context) {
	deleted, err := h.knowledgeService.ClearTemporary(c.Request.Context())
	if err != nil {
		log.Errorf("清空临时分区失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "清空临时分区失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "临时分区已清空", "deleted": deleted})
}

// Status 返回知识库两个分区的统计信息。
func (h *KnowledgeHandler) Status(c *gin.Context) {
	status, err := h.knowledgeService.Status(c.Request.Context())
	if err != nil {
		log.Errorf("获取知识库状态失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "获取知识库状态失败"})
		return
	}
	c.JSON(http.StatusOK, status)
}

// isAdmin 检查当前请求的 claims 是否具有管理员角色。
func isAdmin(c *gin.Context) bool {
	claims, exists := c.Get("claims")
	if !exists {
		return false
	}
	currentClaims, ok := claims.(*token.CustomClaims)
	return ok && currentClaims.Role == "admin"
}
