package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mohitgusain8671/WanderSphere-Backend/internal/auth"
	"github.com/mohitgusain8671/WanderSphere-Backend/internal/directory"
	"github.com/mohitgusain8671/WanderSphere-Backend/internal/service"
	"github.com/mohitgusain8671/WanderSphere-Backend/internal/ws"
	"github.com/rs/zerolog/log"
)

// Handler 聚合所有 HTTP handler，依赖注入 service 层。
// gateway 可为 nil（测试环境），此时 REST 写入不做实时扇出。
type Handler struct {
	chatSvc *service.ChatService
	msgSvc  *service.MessageService
	dir     *directory.Service
	gateway *ws.Gateway
}

func NewHandler(chatSvc *service.ChatService, msgSvc *service.MessageService, dir *directory.Service, gateway *ws.Gateway) *Handler {
	return &Handler{chatSvc: chatSvc, msgSvc: msgSvc, dir: dir, gateway: gateway}
}

// respondError 把统一错误分类映射到 HTTP 状态码。
// 未分类的错误一律按内部错误处理，细节只进日志。
func respondError(c *gin.Context, err error, logMsg string) {
	switch {
	case errors.Is(err, service.ErrValidation), errors.Is(err, service.ErrInvalidOperation):
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
	case errors.Is(err, service.ErrAuthorization):
		c.JSON(http.StatusForbidden, gin.H{"success": false, "message": err.Error()})
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": err.Error()})
	default:
		log.Error().Err(err).Str("path", c.Request.URL.Path).Msg(logMsg)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": logMsg})
	}
}

func pageParams(c *gin.Context, defaultLimit int) (page, limit int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultLimit)))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = defaultLimit
	}
	return page, limit
}

func uintParam(c *gin.Context, name string) (uint, bool) {
	v, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil || v == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid " + name})
		return 0, false
	}
	return uint(v), true
}

// ListChats 返回当前用户的会话列表，带未读数与分页。
func (h *Handler) ListChats(c *gin.Context) {
	userID := auth.GetUserID(c)
	page, limit := pageParams(c, 20)
	filter := c.DefaultQuery("filter", service.FilterAll)

	chats, pagination, err := h.chatSvc.ListForUser(userID, filter, page, limit)
	if err != nil {
		respondError(c, err, "failed to list chats")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    gin.H{"chats": chats, "pagination": pagination},
	})
}

// CreateDirectChat 获取或创建 1:1 会话，新建返回 201。
func (h *Handler) CreateDirectChat(c *gin.Context) {
	userID := auth.GetUserID(c)
	var req struct {
		ParticipantID uint `json:"participantId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.ParticipantID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "participantId is required"})
		return
	}
	chat, created, err := h.chatSvc.GetOrCreateDirect(userID, req.ParticipantID)
	if err != nil {
		respondError(c, err, "failed to create chat")
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"success": true, "data": chat})
}

// CreateGroupChat 创建群聊，全部成员必须是创建者的好友。
func (h *Handler) CreateGroupChat(c *gin.Context) {
	userID := auth.GetUserID(c)
	var req struct {
		Name           string `json:"name"`
		ParticipantIDs []uint `json:"participantIds"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid payload"})
		return
	}
	chat, err := h.chatSvc.CreateGroup(userID, req.Name, req.ParticipantIDs)
	if err != nil {
		respondError(c, err, "failed to create group chat")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "data": chat})
}

// SearchUsers 按姓名或邮箱模糊查找用户，用于发起新会话。
func (h *Handler) SearchUsers(c *gin.Context) {
	userID := auth.GetUserID(c)
	query := strings.TrimSpace(c.Query("query"))
	if len(query) < 2 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "query must be at least 2 characters"})
		return
	}
	users, err := h.dir.Search(query, userID, 20)
	if err != nil {
		respondError(c, err, "failed to search users")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{"users": users}})
}

// ChatDetails 返回单个会话详情，非成员一律按不存在处理。
func (h *Handler) ChatDetails(c *gin.Context) {
	userID := auth.GetUserID(c)
	chatID, ok := uintParam(c, "chatId")
	if !ok {
		return
	}
	chat, err := h.chatSvc.Details(chatID, userID)
	if err != nil {
		respondError(c, err, "failed to fetch chat")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": chat})
}

// DeleteChat 软删除会话：置 is_active=false，历史保留。
func (h *Handler) DeleteChat(c *gin.Context) {
	userID := auth.GetUserID(c)
	chatID, ok := uintParam(c, "chatId")
	if !ok {
		return
	}
	if err := h.chatSvc.Deactivate(chatID, userID); err != nil {
		respondError(c, err, "failed to delete chat")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "chat deleted"})
}

// ListMessages 返回按日期分组的消息历史，页内从旧到新。
func (h *Handler) ListMessages(c *gin.Context) {
	userID := auth.GetUserID(c)
	chatID, ok := uintParam(c, "chatId")
	if !ok {
		return
	}
	page, limit := pageParams(c, 50)
	groups, pagination, err := h.msgSvc.List(chatID, userID, page, limit)
	if err != nil {
		respondError(c, err, "failed to fetch messages")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    gin.H{"messages": groups, "pagination": pagination},
	})
}

// SendMessage 经 REST 路径写入消息，写入后与 WS 路径共享同一套扇出。
func (h *Handler) SendMessage(c *gin.Context) {
	userID := auth.GetUserID(c)
	chatID, ok := uintParam(c, "chatId")
	if !ok {
		return
	}
	var req struct {
		Content     string               `json:"content"`
		MessageType string               `json:"messageType"`
		ReplyToID   *uint                `json:"replyToId"`
		Media       []service.MediaInput `json:"mediaFiles"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid payload"})
		return
	}
	msg, err := h.msgSvc.Append(chatID, userID, req.Content, req.MessageType, req.Media, req.ReplyToID)
	if err != nil {
		respondError(c, err, "failed to send message")
		return
	}
	if h.gateway != nil {
		h.gateway.BroadcastMessage(chatID, msg)
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "data": msg})
}

// MarkMessagesRead 批量标记已读；messageIds 为空时不做任何事。
func (h *Handler) MarkMessagesRead(c *gin.Context) {
	userID := auth.GetUserID(c)
	chatID, ok := uintParam(c, "chatId")
	if !ok {
		return
	}
	var req struct {
		MessageIDs []uint `json:"messageIds"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid payload"})
		return
	}
	if err := h.msgSvc.MarkRead(chatID, userID, req.MessageIDs); err != nil {
		respondError(c, err, "failed to mark messages read")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "messages marked as read"})
}

// EditMessage 编辑消息正文，仅发送者可编辑纯文本消息。
func (h *Handler) EditMessage(c *gin.Context) {
	userID := auth.GetUserID(c)
	messageID, ok := uintParam(c, "messageId")
	if !ok {
		return
	}
	var req struct {
		Content string `json:"content"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid payload"})
		return
	}
	msg, err := h.msgSvc.Edit(messageID, userID, req.Content)
	if err != nil {
		respondError(c, err, "failed to edit message")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": msg})
}

// DeleteMessage 删除消息：deleteForEveryone 受 24 小时窗口限制，
// 否则仅对自己隐藏。
func (h *Handler) DeleteMessage(c *gin.Context) {
	userID := auth.GetUserID(c)
	messageID, ok := uintParam(c, "messageId")
	if !ok {
		return
	}
	var req struct {
		DeleteForEveryone bool `json:"deleteForEveryone"`
	}
	// body 可省略，默认仅对自己删除。
	_ = c.ShouldBindJSON(&req)

	if err := h.msgSvc.Delete(messageID, userID, req.DeleteForEveryone); err != nil {
		respondError(c, err, "failed to delete message")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "message deleted"})
}
