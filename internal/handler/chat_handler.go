// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"

	"citizen-safety-go/internal/model"
	"citizen-safety-go/internal/service"
	"citizen-safety-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// ChatHandler 负责处理问答请求。
type ChatHandler struct {
	chatService service.ChatService
}

// NewChatHandler 创建一个新的 ChatHandler 实例。
func NewChatHandler(chatService service.ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

// Chat 处理一次问答请求。
// 脱敏服务不可用时请求被整体拒绝（503），不会把原始问题继续传递下去。
func (h *ChatHandler) Chat(c *gin.Context) {
	var req model.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求参数: message 为必填且长度不超过 2000"})
		return
	}

	resp, err := h.chatService.Answer(c.Request.Context(), req.Message)
	if err != nil {
		if errors.Is(err, service.ErrMaskingFailure) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "隐私保护服务暂时不可用，请求已被拒绝"})
			return
		}
		log.Errorf("处理问答请求失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "处理请求时发生内部错误"})
		return
	}

	c.JSON(http.StatusOK, resp)
}
