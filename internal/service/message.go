package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mohitgusain8671/WanderSphere-Backend/internal/blob"
	"github.com/mohitgusain8671/WanderSphere-Backend/internal/directory"
	"github.com/mohitgusain8671/WanderSphere-Backend/internal/models"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// 「对所有人删除」只允许在消息创建后的时间窗内。
const deleteForEveryoneWindow = 24 * time.Hour

// OnlineChecker 回答某个用户当前是否有活跃连接。由 ws.Presence 实现，
// 写消息时据此决定能否同步记 delivered 回执。
type OnlineChecker interface {
	IsOnline(userID uint) bool
}

// MessageService 封装消息相关的业务逻辑。
type MessageService struct {
	db     *gorm.DB
	dir    *directory.Service
	blobs  *blob.Store
	online OnlineChecker
}

func NewMessageService(db *gorm.DB, dir *directory.Service, blobs *blob.Store, online OnlineChecker) *MessageService {
	return &MessageService{db: db, dir: dir, blobs: blobs, online: online}
}

// MediaInput 发消息时携带的附件描述，URL 由媒体子系统上传后得到。
type MediaInput struct {
	URL      string `json:"url"`
	Type     string `json:"type"`
	FileName string `json:"fileName"`
	FileSize int64  `json:"fileSize"`
	MimeType string `json:"mimeType"`
}

type MediaDTO struct {
	URL      string `json:"url"`
	Type     string `json:"type"`
	FileName string `json:"fileName,omitempty"`
	FileSize int64  `json:"fileSize,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// ReceiptDTO 回执集合里的一条记录。
type ReceiptDTO struct {
	UserID uint      `json:"userId"`
	At     time.Time `json:"at"`
}

// MessageSummary 消息摘要：会话列表的 lastMessage 与被回复消息用它。
type MessageSummary struct {
	ID          uint      `json:"id"`
	SenderID    uint      `json:"senderId"`
	SenderName  string    `json:"senderName,omitempty"`
	Content     string    `json:"content"`
	MessageType string    `json:"messageType"`
	CreatedAt   time.Time `json:"createdAt"`
}

// MessageDTO 是对外输出的完整消息数据。
type MessageDTO struct {
	ID          uint              `json:"id"`
	ChatID      uint              `json:"chatId"`
	Sender      directory.Summary `json:"sender"`
	Content     string            `json:"content"`
	MessageType string            `json:"messageType"`
	Media       []MediaDTO        `json:"mediaFiles,omitempty"`
	ReplyTo     *MessageSummary   `json:"replyTo,omitempty"`
	ReadBy      []ReceiptDTO      `json:"readBy"`
	DeliveredTo []ReceiptDTO      `json:"deliveredTo"`
	IsEdited    bool              `json:"isEdited"`
	EditedAt    *time.Time        `json:"editedAt,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
}

// DateGroup 按日期分桶的消息列表，供客户端按天渲染。
type DateGroup struct {
	Date     string       `json:"date"`
	Messages []MessageDTO `json:"messages"`
}

// ReceiptInfo 记录回执后返回给网关的路由信息。
type ReceiptInfo struct {
	MessageID uint
	ChatID    uint
	SenderID  uint
	At        time.Time
}

// Append 写入一条消息：校验成员身份与内容，落库后推进会话的
// lastMessage/lastActivity，并给当前在线的其他成员记 delivered 回执。
func (s *MessageService) Append(chatID, senderID uint, content, messageType string, media []MediaInput, replyToID *uint) (*MessageDTO, error) {
	if _, err := chatForMember(s.db, chatID, senderID); err != nil {
		return nil, err
	}

	content = strings.TrimSpace(content)
	if content == "" && len(media) == 0 {
		return nil, fmt.Errorf("%w: message content or media files are required", ErrValidation)
	}
	if messageType == "" {
		messageType = models.MessageTypeText
	}
	if !models.ValidMessageType(messageType) {
		return nil, fmt.Errorf("%w: unknown message type %q", ErrValidation, messageType)
	}

	msg := models.Message{
		ChatID:      chatID,
		SenderID:    senderID,
		Content:     content,
		MessageType: messageType,
		ReplyToID:   replyToID,
	}
	for _, m := range media {
		msg.Media = append(msg.Media, models.MediaFile{
			URL:      m.URL,
			Type:     m.Type,
			FileName: m.FileName,
			FileSize: m.FileSize,
			MimeType: m.MimeType,
		})
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&msg).Error; err != nil {
			return err
		}
		// lastActivity 只向前推进，乱序重试不会把指针拉回去。
		return tx.Model(&models.Chat{}).
			Where("id = ? AND last_activity <= ?", chatID, msg.CreatedAt).
			Updates(map[string]interface{}{
				"last_message_id": msg.ID,
				"last_activity":   msg.CreatedAt,
			}).Error
	})
	if err != nil {
		return nil, err
	}

	// 发送时刻在线的其他成员同步记 delivered；离线成员等重连对账
	// 或拉历史时补。
	if s.online != nil {
		ids, err := participantIDsOf(s.db, chatID)
		if err != nil {
			return nil, err
		}
		receipts := make([]models.MessageReceipt, 0, len(ids))
		now := time.Now()
		for _, id := range ids {
			if id != senderID && s.online.IsOnline(id) {
				receipts = append(receipts, models.MessageReceipt{
					MessageID: msg.ID, UserID: id, Kind: models.ReceiptDelivered, At: now,
				})
			}
		}
		if len(receipts) > 0 {
			if err := s.insertReceipts(receipts); err != nil {
				return nil, err
			}
		}
	}

	dtos, err := s.buildDTOs([]models.Message{msg})
	if err != nil {
		return nil, err
	}
	return &dtos[0], nil
}

// List 返回会话的可见消息：未被全局删除、也没有被 viewer 单独删除的，
// 存储层新在前取页，展示层翻转为旧在前并按日期分桶。
func (s *MessageService) List(chatID, viewerID uint, page, limit int) ([]DateGroup, *Pagination, error) {
	if _, err := chatForMember(s.db, chatID, viewerID); err != nil {
		return nil, nil, err
	}
	if page <= 0 {
		page = 1
	}
	if limit <= 0 || limit > 200 {
		limit = 100
	}

	visible := func() *gorm.DB {
		return s.visibleMessages(chatID, viewerID)
	}

	var total int64
	if err := visible().Count(&total).Error; err != nil {
		return nil, nil, err
	}

	var msgs []models.Message
	err := visible().
		Preload("Media").
		Order("created_at DESC, id DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&msgs).Error
	if err != nil {
		return nil, nil, err
	}

	// 翻转为时间升序
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}

	dtos, err := s.buildDTOs(msgs)
	if err != nil {
		return nil, nil, err
	}
	return groupMessagesByDate(dtos), paginate(page, limit, total, len(msgs)), nil
}

// visibleMessages 集中定义可见性谓词，REST 与实时路径共用，
// 避免两处过滤逻辑漂移。
func (s *MessageService) visibleMessages(chatID, viewerID uint) *gorm.DB {
	return s.db.Model(&models.Message{}).
		Where("chat_id = ? AND is_deleted = ?", chatID, false).
		Where("id NOT IN (?)", s.db.Model(&models.MessageHide{}).
			Select("message_id").
			Where("user_id = ?", viewerID))
}

// MarkRead 批量标记已读，幂等。只处理属于该会话、且不是 viewer 自己
// 发出的消息；已读蕴含已送达，两种回执一并补齐。
func (s *MessageService) MarkRead(chatID, viewerID uint, messageIDs []uint) error {
	if _, err := chatForMember(s.db, chatID, viewerID); err != nil {
		return err
	}
	if len(messageIDs) == 0 {
		return nil
	}

	var ids []uint
	err := s.db.Model(&models.Message{}).
		Where("id IN ? AND chat_id = ? AND sender_id <> ?", messageIDs, chatID, viewerID).
		Pluck("id", &ids).Error
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	now := time.Now()
	receipts := make([]models.MessageReceipt, 0, len(ids)*2)
	for _, id := range ids {
		receipts = append(receipts,
			models.MessageReceipt{MessageID: id, UserID: viewerID, Kind: models.ReceiptDelivered, At: now},
			models.MessageReceipt{MessageID: id, UserID: viewerID, Kind: models.ReceiptRead, At: now},
		)
	}
	return s.insertReceipts(receipts)
}

// RecordRead 单条已读回执（实时路径），返回发送者信息供网关回推。
func (s *MessageService) RecordRead(messageID, readerID uint) (*ReceiptInfo, error) {
	msg, err := s.messageByID(messageID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID == readerID {
		return nil, fmt.Errorf("%w: cannot mark own message as read", ErrInvalidOperation)
	}
	now := time.Now()
	err = s.insertReceipts([]models.MessageReceipt{
		{MessageID: messageID, UserID: readerID, Kind: models.ReceiptDelivered, At: now},
		{MessageID: messageID, UserID: readerID, Kind: models.ReceiptRead, At: now},
	})
	if err != nil {
		return nil, err
	}
	return &ReceiptInfo{MessageID: msg.ID, ChatID: msg.ChatID, SenderID: msg.SenderID, At: now}, nil
}

// RecordDelivered 单条送达回执（实时路径）。
func (s *MessageService) RecordDelivered(messageID, recipientID uint) (*ReceiptInfo, error) {
	msg, err := s.messageByID(messageID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID == recipientID {
		return nil, fmt.Errorf("%w: cannot mark own message as delivered", ErrInvalidOperation)
	}
	now := time.Now()
	err = s.insertReceipts([]models.MessageReceipt{
		{MessageID: messageID, UserID: recipientID, Kind: models.ReceiptDelivered, At: now},
	})
	if err != nil {
		return nil, err
	}
	return &ReceiptInfo{MessageID: msg.ID, ChatID: msg.ChatID, SenderID: msg.SenderID, At: now}, nil
}

// Edit 修改消息内容。仅发送者本人、仅纯文本消息。
func (s *MessageService) Edit(messageID, requesterID uint, newContent string) (*MessageDTO, error) {
	msg, err := s.messageByID(messageID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != requesterID {
		return nil, fmt.Errorf("%w: only the sender can edit a message", ErrAuthorization)
	}
	if msg.MessageType != models.MessageTypeText {
		return nil, fmt.Errorf("%w: only text messages can be edited", ErrInvalidOperation)
	}
	newContent = strings.TrimSpace(newContent)
	if newContent == "" {
		return nil, fmt.Errorf("%w: message content is required", ErrValidation)
	}

	now := time.Now()
	err = s.db.Model(&models.Message{}).Where("id = ?", messageID).Updates(map[string]interface{}{
		"content":   newContent,
		"is_edited": true,
		"edited_at": now,
	}).Error
	if err != nil {
		return nil, err
	}
	msg.Content = newContent
	msg.IsEdited = true
	msg.EditedAt = &now

	dtos, err := s.buildDTOs([]models.Message{*msg})
	if err != nil {
		return nil, err
	}
	return &dtos[0], nil
}

// Delete 删除消息。forEveryone 仅限发送后 24 小时内，置全局删除标记并
// 释放媒体附件；否则只把 requester 加入 deletedFor，且不动媒体——
// 其他成员还要看。
func (s *MessageService) Delete(messageID, requesterID uint, forEveryone bool) error {
	var msg models.Message
	if err := s.db.Preload("Media").First(&msg, messageID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: message", ErrNotFound)
		}
		return err
	}
	if msg.SenderID != requesterID {
		return fmt.Errorf("%w: only the sender can delete a message", ErrAuthorization)
	}

	if !forEveryone {
		hide := models.MessageHide{MessageID: messageID, UserID: requesterID}
		return s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&hide).Error
	}

	if time.Since(msg.CreatedAt) > deleteForEveryoneWindow {
		return fmt.Errorf("%w: can only delete for everyone within 24 hours", ErrInvalidOperation)
	}
	now := time.Now()
	err := s.db.Model(&models.Message{}).Where("id = ?", messageID).Updates(map[string]interface{}{
		"is_deleted": true,
		"deleted_at": now,
	}).Error
	if err != nil {
		return err
	}

	// 媒体清理失败不影响删除本身，记日志后吞掉。
	for _, m := range msg.Media {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := s.blobs.DeleteObject(ctx, m.URL); err != nil && !errors.Is(err, blob.ErrDisabled) {
			log.Warn().Err(err).Uint("message_id", messageID).Str("url", m.URL).Msg("delete media object")
		}
		cancel()
	}
	return nil
}

// ReconcileDelivered 重连对账：把用户离线期间别人发给他、还没有
// delivered 回执的近期消息补记为已送达。批量有上限，避免长期离线的
// 用户一次拖垮连接建立。
func (s *MessageService) ReconcileDelivered(userID uint, limit int) (int, error) {
	if limit <= 0 || limit > 1000 {
		limit = 500
	}
	var ids []uint
	err := s.db.Model(&models.Message{}).
		Joins("JOIN chats ON chats.id = messages.chat_id AND chats.is_active = ?", true).
		Joins("JOIN chat_participants cp ON cp.chat_id = messages.chat_id AND cp.user_id = ?", userID).
		Where("messages.sender_id <> ? AND messages.is_deleted = ?", userID, false).
		Where("messages.id NOT IN (?)", s.db.Model(&models.MessageReceipt{}).
			Select("message_id").
			Where("user_id = ? AND kind = ?", userID, models.ReceiptDelivered)).
		Order("messages.created_at DESC").
		Limit(limit).
		Pluck("messages.id", &ids).Error
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	now := time.Now()
	receipts := make([]models.MessageReceipt, 0, len(ids))
	for _, id := range ids {
		receipts = append(receipts, models.MessageReceipt{
			MessageID: id, UserID: userID, Kind: models.ReceiptDelivered, At: now,
		})
	}
	if err := s.insertReceipts(receipts); err != nil {
		return 0, err
	}
	return len(ids), nil
}

func (s *MessageService) messageByID(id uint) (*models.Message, error) {
	var msg models.Message
	if err := s.db.First(&msg, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: message", ErrNotFound)
		}
		return nil, err
	}
	return &msg, nil
}

// insertReceipts 幂等写回执：复合主键冲突直接忽略。
func (s *MessageService) insertReceipts(receipts []models.MessageReceipt) error {
	return s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&receipts).Error
}

func chatForMember(db *gorm.DB, chatID, userID uint) (*models.Chat, error) {
	var chat models.Chat
	err := db.
		Joins("JOIN chat_participants cp ON cp.chat_id = chats.id AND cp.user_id = ?", userID).
		Where("chats.id = ?", chatID).
		First(&chat).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: chat", ErrNotFound)
		}
		return nil, err
	}
	return &chat, nil
}

func participantIDsOf(db *gorm.DB, chatID uint) ([]uint, error) {
	var ids []uint
	err := db.Model(&models.ChatParticipant{}).
		Where("chat_id = ?", chatID).
		Pluck("user_id", &ids).Error
	return ids, err
}

// buildDTOs 批量组装消息 DTO：一次性解出发送者摘要、被回复消息、
// 媒体与回执，避免逐条查询。
func (s *MessageService) buildDTOs(msgs []models.Message) ([]MessageDTO, error) {
	if len(msgs) == 0 {
		return []MessageDTO{}, nil
	}

	msgIDs := make([]uint, 0, len(msgs))
	senderSet := make(map[uint]struct{})
	replySet := make(map[uint]struct{})
	for _, m := range msgs {
		msgIDs = append(msgIDs, m.ID)
		senderSet[m.SenderID] = struct{}{}
		if m.ReplyToID != nil {
			replySet[*m.ReplyToID] = struct{}{}
		}
	}

	// 被回复的消息及其发送者
	replies := make(map[uint]models.Message, len(replySet))
	if len(replySet) > 0 {
		replyIDs := make([]uint, 0, len(replySet))
		for id := range replySet {
			replyIDs = append(replyIDs, id)
		}
		var replyMsgs []models.Message
		if err := s.db.Where("id IN ?", replyIDs).Find(&replyMsgs).Error; err != nil {
			return nil, err
		}
		for _, rm := range replyMsgs {
			replies[rm.ID] = rm
			senderSet[rm.SenderID] = struct{}{}
		}
	}

	senderIDs := make([]uint, 0, len(senderSet))
	for id := range senderSet {
		senderIDs = append(senderIDs, id)
	}
	senders, err := s.dir.Summaries(senderIDs)
	if err != nil {
		return nil, err
	}

	var receipts []models.MessageReceipt
	if err := s.db.Where("message_id IN ?", msgIDs).Find(&receipts).Error; err != nil {
		return nil, err
	}
	readBy := make(map[uint][]ReceiptDTO)
	deliveredTo := make(map[uint][]ReceiptDTO)
	for _, r := range receipts {
		entry := ReceiptDTO{UserID: r.UserID, At: r.At}
		if r.Kind == models.ReceiptRead {
			readBy[r.MessageID] = append(readBy[r.MessageID], entry)
		} else {
			deliveredTo[r.MessageID] = append(deliveredTo[r.MessageID], entry)
		}
	}

	out := make([]MessageDTO, 0, len(msgs))
	for _, m := range msgs {
		dto := MessageDTO{
			ID:          m.ID,
			ChatID:      m.ChatID,
			Sender:      senders[m.SenderID],
			Content:     m.Content,
			MessageType: m.MessageType,
			ReadBy:      readBy[m.ID],
			DeliveredTo: deliveredTo[m.ID],
			IsEdited:    m.IsEdited,
			EditedAt:    m.EditedAt,
			CreatedAt:   m.CreatedAt,
		}
		if dto.ReadBy == nil {
			dto.ReadBy = []ReceiptDTO{}
		}
		if dto.DeliveredTo == nil {
			dto.DeliveredTo = []ReceiptDTO{}
		}
		for _, mf := range m.Media {
			dto.Media = append(dto.Media, MediaDTO{
				URL:      mf.URL,
				Type:     mf.Type,
				FileName: mf.FileName,
				FileSize: mf.FileSize,
				MimeType: mf.MimeType,
			})
		}
		if m.ReplyToID != nil {
			if rm, ok := replies[*m.ReplyToID]; ok {
				sum := MessageSummary{
					ID:          rm.ID,
					SenderID:    rm.SenderID,
					Content:     rm.Content,
					MessageType: rm.MessageType,
					CreatedAt:   rm.CreatedAt,
				}
				if sender, ok := senders[rm.SenderID]; ok {
					sum.SenderName = strings.TrimSpace(sender.FirstName + " " + sender.LastName)
				}
				dto.ReplyTo = &sum
			}
		}
		out = append(out, dto)
	}
	return out, nil
}

// groupMessagesByDate 按服务器观察到的日历日期分桶，保持升序。
func groupMessagesByDate(msgs []MessageDTO) []DateGroup {
	groups := make([]DateGroup, 0)
	idx := make(map[string]int)
	for _, m := range msgs {
		date := m.CreatedAt.Format("Mon Jan 02 2006")
		i, ok := idx[date]
		if !ok {
			i = len(groups)
			idx[date] = i
			groups = append(groups, DateGroup{Date: date, Messages: []MessageDTO{}})
		}
		groups[i].Messages = append(groups[i].Messages, m)
	}
	return groups
}
