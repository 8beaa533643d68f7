package models

import "time"

// 消息类型枚举，与客户端约定保持一致。
const (
	MessageTypeText     = "text"
	MessageTypeImage    = "image"
	MessageTypeVideo    = "video"
	MessageTypeAudio    = "audio"
	MessageTypeDocument = "document"
	MessageTypeLocation = "location"
)

// 回执类型：delivered 表示已送达，read 表示已读。
const (
	ReceiptDelivered = "delivered"
	ReceiptRead      = "read"
)

// 好友关系状态。
const (
	FriendshipPending  = "pending"
	FriendshipAccepted = "accepted"
	FriendshipDeclined = "declined"
	FriendshipBlocked  = "blocked"
)

// User 是用户目录的底层表，聊天核心只读取身份与在线状态。
type User struct {
	ID             uint   `gorm:"primaryKey"`
	FirstName      string `gorm:"size:64;not null"`
	LastName       string `gorm:"size:64"`
	Email          string `gorm:"uniqueIndex;size:128;not null"`
	ProfilePicture string
	IsOnline       bool `gorm:"index"`
	LastSeen       *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Friendship 好友关系，(requester, recipient) 唯一避免重复请求。
type Friendship struct {
	ID          uint   `gorm:"primaryKey"`
	RequesterID uint   `gorm:"uniqueIndex:idx_friendship_pair;not null"`
	RecipientID uint   `gorm:"uniqueIndex:idx_friendship_pair;not null"`
	Status      string `gorm:"size:16;index;default:pending"`
	RequestedAt time.Time
	RespondedAt *time.Time
}

// Chat 会话，单聊与群聊共用一张表。
// DirectKey 是单聊参与者对的 "小id:大id" 键，唯一索引保证同一对用户
// 并发 get-or-create 时只会落库一条会话。群聊该字段为 NULL。
type Chat struct {
	ID            uint   `gorm:"primaryKey"`
	Name          string `gorm:"size:128"`
	IsGroupChat   bool   `gorm:"index"`
	GroupAdminID  *uint
	GroupImage    string
	DirectKey     *string `gorm:"uniqueIndex;size:64"`
	LastMessageID *uint
	LastActivity  time.Time `gorm:"index"`
	IsActive      bool      `gorm:"index;default:true"`
	CreatedAt     time.Time
	UpdatedAt     time.Time

	Participants []ChatParticipant `gorm:"foreignKey:ChatID"`
}

// ChatParticipant 会话成员，复合主键天然去重。
type ChatParticipant struct {
	ChatID    uint `gorm:"primaryKey;autoIncrement:false"`
	UserID    uint `gorm:"primaryKey;autoIncrement:false;index"`
	CreatedAt time.Time
}

// Message 一条消息。content 与媒体附件至少存在其一。
// IsDeleted 是「对所有人删除」，MessageHide 记录「仅对自己删除」。
type Message struct {
	ID          uint   `gorm:"primaryKey"`
	ChatID      uint   `gorm:"index:idx_msg_chat_created;not null"`
	SenderID    uint   `gorm:"index;not null"`
	Content     string `gorm:"type:text"`
	MessageType string `gorm:"size:16;default:text"`
	ReplyToID   *uint
	IsEdited    bool
	EditedAt    *time.Time
	IsDeleted   bool `gorm:"index"`
	DeletedAt   *time.Time
	CreatedAt   time.Time `gorm:"index:idx_msg_chat_created"`

	Media []MediaFile `gorm:"foreignKey:MessageID"`
}

// MediaFile 消息携带的媒体附件，URL 指向对象存储。
type MediaFile struct {
	ID        uint   `gorm:"primaryKey"`
	MessageID uint   `gorm:"index;not null"`
	URL       string `gorm:"not null"`
	Type      string `gorm:"size:16"`
	FileName  string
	FileSize  int64
	MimeType  string `gorm:"size:128"`
}

// MessageReceipt 送达/已读回执。复合主键 (message, user, kind) 使回执
// 集合只增不重，插入走 ON CONFLICT DO NOTHING 即幂等。
type MessageReceipt struct {
	MessageID uint   `gorm:"primaryKey;autoIncrement:false"`
	UserID    uint   `gorm:"primaryKey;autoIncrement:false"`
	Kind      string `gorm:"primaryKey;size:16"`
	At        time.Time
}

// MessageHide 「仅对自己删除」的记录，对应 deletedFor 集合。
type MessageHide struct {
	MessageID uint `gorm:"primaryKey;autoIncrement:false"`
	UserID    uint `gorm:"primaryKey;autoIncrement:false"`
	CreatedAt time.Time
}

// ValidMessageType 校验消息类型是否在枚举内。
func ValidMessageType(t string) bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeVideo,
		MessageTypeAudio, MessageTypeDocument, MessageTypeLocation:
		return true
	}
	return false
}
