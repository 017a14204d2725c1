package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/SandipWaghchaure7/geocluster-connect/internal/auth"
	"github.com/SandipWaghchaure7/geocluster-connect/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

// PresenceQuerier 由 ws.Hub 实现。
type PresenceQuerier interface {
	OnlineAmong(userIDs []uint) []uint
}

// Handler 聚合所有 HTTP handler，依赖注入 service 层。
type Handler struct {
	chat     *service.ChatService
	presence PresenceQuerier
}

func NewHandler(chat *service.ChatService, presence PresenceQuerier) *Handler {
	return &Handler{chat: chat, presence: presence}
}

func parseID(c *gin.Context, name string) (uint, bool) {
	v, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || v == 0 {
		return 0, false
	}
	return uint(v), true
}

// writeError 把 service 层的哨兵错误映射为 HTTP 状态码。
func writeError(c *gin.Context, op string, err error) {
	status, msg := http.StatusInternalServerError, "internal error"
	switch {
	case errors.Is(err, service.ErrValidation):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, service.ErrForbidden):
		status, msg = http.StatusForbidden, "not a member of this group"
	case errors.Is(err, service.ErrGroupNotFound):
		status, msg = http.StatusNotFound, "group not found"
	case errors.Is(err, service.ErrMessageNotFound):
		status, msg = http.StatusNotFound, "message not found"
	case errors.Is(err, service.ErrStoreUnavailable):
		status, msg = http.StatusServiceUnavailable, "message store unavailable"
	}
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Uint("user_id", auth.GetUserID(c)).Str("path", c.FullPath()).Msg(op)
	} else {
		log.Debug().Err(err).Uint("user_id", auth.GetUserID(c)).Msg(op)
	}
	c.JSON(status, gin.H{"error": msg})
}

// ListMessages 返回群组最近的消息，支持 limit 与 before_id 分页。
func (h *Handler) ListMessages(c *gin.Context) {
	groupID, ok := parseID(c, "id")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid group id"})
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	var beforeID uint
	if bid := c.Query("before_id"); bid != "" {
		if v, err := strconv.ParseUint(bid, 10, 64); err == nil {
			beforeID = uint(v)
		}
	}
	msgs, err := h.chat.History(c.Request.Context(), groupID, auth.GetUserID(c), limit, beforeID)
	if err != nil {
		writeError(c, "list messages", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// SendMessage 是 send-message 命令的 REST 版本，广播行为相同。
func (h *Handler) SendMessage(c *gin.Context) {
	groupID, ok := parseID(c, "id")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid group id"})
		return
	}
	var req struct {
		Content       string `json:"content"`
		Kind          string `json:"kind"`
		AttachmentURL string `json:"attachment_url"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	msg, err := h.chat.Send(c.Request.Context(), service.SendInput{
		GroupID:       groupID,
		SenderID:      auth.GetUserID(c),
		Content:       req.Content,
		Kind:          req.Kind,
		AttachmentURL: req.AttachmentURL,
	})
	if err != nil {
		writeError(c, "send message", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": msg})
}

func (h *Handler) MarkRead(c *gin.Context) {
	var req struct {
		MessageIDs []uint `json:"message_ids" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if err := h.chat.MarkRead(c.Request.Context(), auth.GetUserID(c), lo.Uniq(req.MessageIDs)); err != nil {
		writeError(c, "mark read", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) DeleteMessage(c *gin.Context) {
	messageID, ok := parseID(c, "id")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message id"})
		return
	}
	if err := h.chat.Delete(c.Request.Context(), auth.GetUserID(c), messageID); err != nil {
		writeError(c, "delete message", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// GroupPresence 返回该群组当前在线的成员 id。
func (h *Handler) GroupPresence(c *gin.Context) {
	groupID, ok := parseID(c, "id")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid group id"})
		return
	}
	snap, err := h.chat.Members(c.Request.Context(), groupID, auth.GetUserID(c))
	if err != nil {
		writeError(c, "group presence", err)
		return
	}
	ids := lo.Uniq(append([]uint{snap.AdminID}, snap.Members...))
	c.JSON(http.StatusOK, gin.H{"online": h.presence.OnlineAmong(ids)})
}
