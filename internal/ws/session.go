package ws

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mohitgusain8671/WanderSphere-Backend/internal/auth"
	"github.com/mohitgusain8671/WanderSphere-Backend/internal/config"
	"github.com/mohitgusain8671/WanderSphere-Backend/internal/directory"
	"github.com/mohitgusain8671/WanderSphere-Backend/internal/metrics"
	"github.com/mohitgusain8671/WanderSphere-Backend/internal/service"
	"github.com/rs/zerolog/log"
)

// Gateway 是实时网关：认证每条进来的连接、把会话登记进在线注册表、
// 自动订阅用户参与的频道，并分发处理客户端的实时事件。
type Gateway struct {
	cfg      config.Config
	hub      *Hub
	presence *Presence
	dir      *directory.Service
	chats    *service.ChatService
	msgs     *service.MessageService
}

func NewGateway(cfg config.Config, hub *Hub, presence *Presence, dir *directory.Service, chats *service.ChatService, msgs *service.MessageService) *Gateway {
	return &Gateway{cfg: cfg, hub: hub, presence: presence, dir: dir, chats: chats, msgs: msgs}
}

// Session 是一条已认证的长连接。
type Session struct {
	id     string
	userID uint
	user   directory.Summary
	conn   *websocket.Conn
	send   chan []byte
	gw     *Gateway

	mu       sync.Mutex
	channels map[uint]*ChatChannel
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Serve 处理 WebSocket 握手。认证失败直接拒绝连接，
// 不产生任何注册表副作用。
func (g *Gateway) Serve() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := auth.TokenFromRequest(c)
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "missing token"})
			return
		}
		claims, err := auth.ParseAccessToken(token, g.cfg.JWTSecret)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "invalid token"})
			return
		}
		user, err := g.dir.FindByID(claims.UserID)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "user not found"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}

		sess := &Session{
			id:     uuid.NewString(),
			userID: user.ID,
			user: directory.Summary{
				ID:             user.ID,
				FirstName:      user.FirstName,
				LastName:       user.LastName,
				ProfilePicture: user.ProfilePicture,
				IsOnline:       true,
			},
			conn:     conn,
			send:     make(chan []byte, 256),
			gw:       g,
			channels: make(map[uint]*ChatChannel),
		}

		g.activate(sess)
		go sess.writePump()
		sess.readPump()
	}
}

// activate 完成会话上线：登记注册表、必要时翻转在线标记并全局广播、
// 自动订阅全部活跃会话频道、补记离线期间漏掉的 delivered 回执。
func (g *Gateway) activate(sess *Session) {
	g.hub.AddSession(sess)

	if cameOnline := g.presence.Register(sess); cameOnline {
		if err := g.dir.SetOnline(sess.userID, true); err != nil {
			log.Error().Err(err).Uint("user_id", sess.userID).Msg("set online")
		}
		g.hub.BroadcastAll(marshalEvent(statusChangedEvent{
			Type:     EventStatusChanged,
			UserID:   sess.userID,
			IsOnline: true,
		}), sess)
	}

	ids, err := g.chats.ActiveChatIDs(sess.userID)
	if err != nil {
		log.Error().Err(err).Uint("user_id", sess.userID).Msg("auto join chats")
	}
	for _, chatID := range ids {
		ch := g.hub.Channel(chatID)
		ch.Subscribe(sess)
		sess.track(chatID, ch)
	}

	if n, err := g.msgs.ReconcileDelivered(sess.userID, 0); err != nil {
		log.Error().Err(err).Uint("user_id", sess.userID).Msg("reconcile delivered")
	} else if n > 0 {
		log.Debug().Uint("user_id", sess.userID).Int("messages", n).Msg("reconciled delivery receipts")
	}

	log.Info().Uint("user_id", sess.userID).Str("session_id", sess.id).Msg("session connected")
}

// deactivate 完成会话下线：退订全部频道、注销注册表，最后一条连接
// 断开时翻转离线标记、记 last_seen 并全局广播。
func (g *Gateway) deactivate(sess *Session) {
	for chatID, ch := range sess.snapshot() {
		ch.Unsubscribe(sess)
		sess.untrack(chatID)
	}
	g.hub.RemoveSession(sess)

	userID, wentOffline := g.presence.Unregister(sess.id)
	if wentOffline {
		if err := g.dir.SetOnline(userID, false); err != nil {
			log.Error().Err(err).Uint("user_id", userID).Msg("set offline")
		}
		now := time.Now()
		g.hub.BroadcastAll(marshalEvent(statusChangedEvent{
			Type:     EventStatusChanged,
			UserID:   userID,
			IsOnline: false,
			LastSeen: &now,
		}), sess)
	}

	log.Info().Uint("user_id", sess.userID).Str("session_id", sess.id).Msg("session disconnected")
}

// SendNotificationToUser 把任意负载推给某用户的全部活跃会话，
// 供其他子系统（如通知扇出）复用；用户离线则静默丢弃。
func (g *Gateway) SendNotificationToUser(userID uint, payload interface{}) {
	data := marshalEvent(notificationEvent{Type: EventNotification, Payload: payload})
	for _, sess := range g.presence.SessionsFor(userID) {
		sess.trySend(data)
	}
}

func (g *Gateway) dispatch(sess *Session, ev InboundEvent) {
	switch ev.Type {
	case EventJoinChat:
		g.handleJoinChat(sess, ev)
	case EventLeaveChat:
		g.handleLeaveChat(sess, ev)
	case EventSendMessage:
		g.handleSendMessage(sess, ev)
	case EventMessageRead:
		g.handleMessageRead(sess, ev)
	case EventMessageDelivered:
		g.handleMessageDelivered(sess, ev)
	case EventTyping:
		g.handleTyping(sess, ev, EventUserTyping)
	case EventStopTyping:
		g.handleTyping(sess, ev, EventUserStopTyping)
	default:
		sess.sendError("unknown event type", ev.ChatID, ev.MessageID)
	}
}

func (g *Gateway) handleJoinChat(sess *Session, ev InboundEvent) {
	ok, err := g.chats.IsParticipant(ev.ChatID, sess.userID)
	if err != nil || !ok {
		sess.sendError("failed to join chat", ev.ChatID, 0)
		return
	}
	ch := g.hub.Channel(ev.ChatID)
	ch.Subscribe(sess)
	sess.track(ev.ChatID, ch)
	sess.trySend(marshalEvent(ackEvent{Type: EventJoinedChat, ChatID: ev.ChatID}))
}

func (g *Gateway) handleLeaveChat(sess *Session, ev InboundEvent) {
	if ch := sess.untrack(ev.ChatID); ch != nil {
		ch.Unsubscribe(sess)
	}
	sess.trySend(marshalEvent(ackEvent{Type: EventLeftChat, ChatID: ev.ChatID}))
}

func (g *Gateway) handleSendMessage(sess *Session, ev InboundEvent) {
	dto, err := g.msgs.Append(ev.ChatID, sess.userID, ev.Content, ev.MessageType, ev.Media, ev.ReplyToID)
	if err != nil {
		sess.sendError(userMessage(err, "failed to send message"), ev.ChatID, 0)
		return
	}
	g.BroadcastMessage(ev.ChatID, dto)
}

// BroadcastMessage 把一条新消息连同会话摘要更新推给频道全部订阅者。
// REST 路径写入的消息也走这里扇出，两条写入路径共享同一份投递逻辑。
func (g *Gateway) BroadcastMessage(chatID uint, dto *service.MessageDTO) {
	metrics.WsMessagesTotal.Inc()
	ch := g.hub.Channel(chatID)
	ch.Publish(marshalEvent(newMessageEvent{
		Type:    EventNewMessage,
		ChatID:  chatID,
		Message: *dto,
	}), nil)
	ch.Publish(marshalEvent(chatUpdatedEvent{
		Type:         EventChatUpdated,
		ChatID:       chatID,
		LastMessage:  *dto,
		LastActivity: dto.CreatedAt,
	}), nil)
}

func (g *Gateway) handleMessageRead(sess *Session, ev InboundEvent) {
	info, err := g.msgs.RecordRead(ev.MessageID, sess.userID)
	if err != nil {
		sess.sendError(userMessage(err, "failed to record read receipt"), ev.ChatID, ev.MessageID)
		return
	}
	metrics.WsReadReceiptsTotal.Inc()
	data := marshalEvent(readReceiptEvent{
		Type:      EventReadReceipt,
		MessageID: info.MessageID,
		ChatID:    info.ChatID,
		ReadBy:    sess.userID,
		ReadAt:    info.At,
	})
	for _, senderSess := range g.presence.SessionsFor(info.SenderID) {
		senderSess.trySend(data)
	}
}

func (g *Gateway) handleMessageDelivered(sess *Session, ev InboundEvent) {
	info, err := g.msgs.RecordDelivered(ev.MessageID, sess.userID)
	if err != nil {
		sess.sendError(userMessage(err, "failed to record delivery receipt"), ev.ChatID, ev.MessageID)
		return
	}
	metrics.WsDeliveredReceiptsTotal.Inc()
	data := marshalEvent(deliveredReceiptEvent{
		Type:        EventDeliveredReceipt,
		MessageID:   info.MessageID,
		ChatID:      info.ChatID,
		DeliveredTo: sess.userID,
		DeliveredAt: info.At,
	})
	for _, senderSess := range g.presence.SessionsFor(info.SenderID) {
		senderSess.trySend(data)
	}
}

// handleTyping 打字指示只发给频道里除自己外的订阅者，不落库。
// 会话必须已订阅该频道（订阅本身经过成员校验）。
func (g *Gateway) handleTyping(sess *Session, ev InboundEvent, outType string) {
	ch := sess.tracked(ev.ChatID)
	if ch == nil {
		return
	}
	evt := typingEvent{Type: outType, ChatID: ev.ChatID, UserID: sess.userID}
	if outType == EventUserTyping {
		evt.User = &sess.user
	}
	ch.Publish(marshalEvent(evt), sess)
}

// userMessage 业务错误透出原文，其他错误用兜底文案，细节只进日志。
func userMessage(err error, fallback string) string {
	for _, sentinel := range []error{
		service.ErrValidation, service.ErrNotFound, service.ErrAuthorization, service.ErrInvalidOperation,
	} {
		if errors.Is(err, sentinel) {
			return err.Error()
		}
	}
	log.Error().Err(err).Msg(fallback)
	return fallback
}

func (s *Session) readPump() {
	defer func() {
		s.gw.deactivate(s)
		_ = s.conn.Close()
	}()
	s.conn.SetReadLimit(1 << 20) // 1MB
	s.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			break
		}
		var ev InboundEvent
		if err := json.Unmarshal(data, &ev); err != nil || ev.Type == "" {
			continue
		}
		s.gw.dispatch(s, ev)
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()
	for {
		select {
		case message, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := s.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)
			_ = w.Close()
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// trySend 非阻塞投递，队列满则丢帧，由心跳机制收割真正死掉的连接。
func (s *Session) trySend(data []byte) {
	select {
	case s.send <- data:
	default:
	}
}

func (s *Session) sendError(message string, chatID, messageID uint) {
	s.trySend(marshalEvent(errorEvent{
		Type:      EventError,
		Message:   message,
		ChatID:    chatID,
		MessageID: messageID,
	}))
}

func (s *Session) track(chatID uint, ch *ChatChannel) {
	s.mu.Lock()
	s.channels[chatID] = ch
	s.mu.Unlock()
}

func (s *Session) untrack(chatID uint) *ChatChannel {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := s.channels[chatID]
	delete(s.channels, chatID)
	return ch
}

func (s *Session) tracked(chatID uint) *ChatChannel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channels[chatID]
}

func (s *Session) snapshot() map[uint]*ChatChannel {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[uint]*ChatChannel, len(s.channels))
	for id, ch := range s.channels {
		out[id] = ch
	}
	return out
}
