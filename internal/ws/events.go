package ws

import (
	"encoding/json"
	"time"

	"github.com/mohitgusain8671/WanderSphere-Backend/internal/directory"
	"github.com/mohitgusain8671/WanderSphere-Backend/internal/service"
)

// 客户端上行事件类型。
const (
	EventJoinChat         = "join_chat"
	EventLeaveChat        = "leave_chat"
	EventSendMessage      = "send_message"
	EventMessageRead      = "message_read"
	EventMessageDelivered = "message_delivered"
	EventTyping           = "typing"
	EventStopTyping       = "stop_typing"
)

// 服务端下行事件类型。
const (
	EventJoinedChat       = "joined_chat"
	EventLeftChat         = "left_chat"
	EventNewMessage       = "new_message"
	EventChatUpdated      = "chat_updated"
	EventReadReceipt      = "message_read_receipt"
	EventDeliveredReceipt = "message_delivered_receipt"
	EventUserTyping       = "user_typing"
	EventUserStopTyping   = "user_stop_typing"
	EventStatusChanged    = "user_status_changed"
	EventNotification     = "notification"
	EventError            = "error"
)

// InboundEvent 上行事件的统一信封，按 type 取用对应字段。
// 显式结构体替代任意 JSON 负载，进业务层之前完成校验。
type InboundEvent struct {
	Type        string               `json:"type"`
	ChatID      uint                 `json:"chatId,omitempty"`
	MessageID   uint                 `json:"messageId,omitempty"`
	Content     string               `json:"content,omitempty"`
	MessageType string               `json:"messageType,omitempty"`
	Media       []service.MediaInput `json:"mediaFiles,omitempty"`
	ReplyToID   *uint                `json:"replyToId,omitempty"`
}

type ackEvent struct {
	Type   string `json:"type"`
	ChatID uint   `json:"chatId"`
}

type errorEvent struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	ChatID    uint   `json:"chatId,omitempty"`
	MessageID uint   `json:"messageId,omitempty"`
}

type newMessageEvent struct {
	Type    string             `json:"type"`
	ChatID  uint               `json:"chatId"`
	Message service.MessageDTO `json:"message"`
}

type chatUpdatedEvent struct {
	Type         string             `json:"type"`
	ChatID       uint               `json:"chatId"`
	LastMessage  service.MessageDTO `json:"lastMessage"`
	LastActivity time.Time          `json:"lastActivity"`
}

type readReceiptEvent struct {
	Type      string    `json:"type"`
	MessageID uint      `json:"messageId"`
	ChatID    uint      `json:"chatId"`
	ReadBy    uint      `json:"readBy"`
	ReadAt    time.Time `json:"readAt"`
}

type deliveredReceiptEvent struct {
	Type        string    `json:"type"`
	MessageID   uint      `json:"messageId"`
	ChatID      uint      `json:"chatId"`
	DeliveredTo uint      `json:"deliveredTo"`
	DeliveredAt time.Time `json:"deliveredAt"`
}

type typingEvent struct {
	Type   string             `json:"type"`
	ChatID uint               `json:"chatId"`
	UserID uint               `json:"userId"`
	User   *directory.Summary `json:"user,omitempty"`
}

type statusChangedEvent struct {
	Type     string     `json:"type"`
	UserID   uint       `json:"userId"`
	IsOnline bool       `json:"isOnline"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}

type notificationEvent struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

func marshalEvent(v interface{}) []byte {
	b, _ := json.Marshal(v)
	return b
}
