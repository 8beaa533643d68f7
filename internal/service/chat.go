package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/mohitgusain8671/WanderSphere-Backend/internal/directory"
	"github.com/mohitgusain8671/WanderSphere-Backend/internal/friends"
	"github.com/mohitgusain8671/WanderSphere-Backend/internal/models"
	"gorm.io/gorm"
)

// 会话列表过滤器。
const (
	FilterAll    = "all"
	FilterGroups = "groups"
	FilterDirect = "direct"
	FilterUnread = "unread"
)

// ChatService 封装会话相关的业务逻辑。
type ChatService struct {
	db      *gorm.DB
	dir     *directory.Service
	friends *friends.Oracle
}

func NewChatService(db *gorm.DB, dir *directory.Service, oracle *friends.Oracle) *ChatService {
	return &ChatService{db: db, dir: dir, friends: oracle}
}

// Pagination 分页信息，offset 式。
type Pagination struct {
	CurrentPage int   `json:"currentPage"`
	TotalPages  int   `json:"totalPages"`
	TotalItems  int64 `json:"totalItems"`
	HasMore     bool  `json:"hasMore"`
}

func paginate(page, limit int, total int64, got int) *Pagination {
	totalPages := int((total + int64(limit) - 1) / int64(limit))
	skip := (page - 1) * limit
	return &Pagination{
		CurrentPage: page,
		TotalPages:  totalPages,
		TotalItems:  total,
		HasMore:     int64(skip+got) < total,
	}
}

// ChatDTO 是对外输出的会话数据。
type ChatDTO struct {
	ID           uint                `json:"id"`
	Name         string              `json:"name,omitempty"`
	ChatName     string              `json:"chatName"`
	IsGroupChat  bool                `json:"isGroupChat"`
	Participants []directory.Summary `json:"participants"`
	GroupAdmin   *directory.Summary  `json:"groupAdmin,omitempty"`
	GroupImage   string              `json:"groupImage,omitempty"`
	LastMessage  *MessageSummary     `json:"lastMessage,omitempty"`
	LastActivity time.Time           `json:"lastActivity"`
	UnreadCount  int64               `json:"unreadCount"`
	CreatedAt    time.Time           `json:"createdAt"`
}

// directKey 生成单聊参与者对的唯一键，与用户顺序无关。
func directKey(a, b uint) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("%d:%d", a, b)
}

// GetOrCreateDirect 返回两人之间的单聊，不存在则创建。
// direct_key 上的唯一索引保证双方并发调用也只会创建一条；
// 竞态输家落库失败后重读赢家的记录返回。
func (s *ChatService) GetOrCreateDirect(userID, participantID uint) (*ChatDTO, bool, error) {
	if userID == participantID {
		return nil, false, fmt.Errorf("%w: cannot create chat with yourself", ErrInvalidOperation)
	}
	exists, err := s.dir.Exists(participantID)
	if err != nil {
		return nil, false, fmt.Errorf("%w: user lookup: %v", ErrUpstream, err)
	}
	if !exists {
		return nil, false, fmt.Errorf("%w: user", ErrNotFound)
	}

	key := directKey(userID, participantID)
	var chat models.Chat
	if err := s.db.Where("direct_key = ?", key).First(&chat).Error; err == nil {
		dto, err := s.buildDTO(&chat, userID, false)
		return dto, false, err
	}

	now := time.Now()
	chat = models.Chat{
		IsGroupChat:  false,
		DirectKey:    &key,
		LastActivity: now,
		IsActive:     true,
	}
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&chat).Error; err != nil {
			return err
		}
		parts := []models.ChatParticipant{
			{ChatID: chat.ID, UserID: userID},
			{ChatID: chat.ID, UserID: participantID},
		}
		return tx.Create(&parts).Error
	})
	if err != nil {
		// 大概率是唯一索引冲突：对方先建好了，读回即可。
		if rerr := s.db.Where("direct_key = ?", key).First(&chat).Error; rerr != nil {
			return nil, false, err
		}
		dto, derr := s.buildDTO(&chat, userID, false)
		return dto, false, derr
	}
	dto, err := s.buildDTO(&chat, userID, false)
	return dto, true, err
}

// CreateGroup 建群。群名必填，除创建者外至少 2 名成员，
// 且每个成员都必须与创建者互为好友（封闭群邀请）。
func (s *ChatService) CreateGroup(adminID uint, name string, participantIDs []uint) (*ChatDTO, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > 128 {
		return nil, fmt.Errorf("%w: group name is required", ErrValidation)
	}

	seen := map[uint]bool{adminID: true}
	members := make([]uint, 0, len(participantIDs))
	for _, id := range participantIDs {
		if !seen[id] {
			seen[id] = true
			members = append(members, id)
		}
	}
	if len(members) < 2 {
		return nil, fmt.Errorf("%w: at least 2 participants are required", ErrValidation)
	}

	accepted, err := s.friends.AcceptedFriendIDs(adminID, members)
	if err != nil {
		return nil, fmt.Errorf("%w: friendship lookup: %v", ErrUpstream, err)
	}
	for _, id := range members {
		if !accepted[id] {
			return nil, fmt.Errorf("%w: can only add friends to a group chat", ErrAuthorization)
		}
	}

	chat := models.Chat{
		Name:         name,
		IsGroupChat:  true,
		GroupAdminID: &adminID,
		LastActivity: time.Now(),
		IsActive:     true,
	}
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&chat).Error; err != nil {
			return err
		}
		parts := make([]models.ChatParticipant, 0, len(members)+1)
		for _, id := range append([]uint{adminID}, members...) {
			parts = append(parts, models.ChatParticipant{ChatID: chat.ID, UserID: id})
		}
		return tx.Create(&parts).Error
	})
	if err != nil {
		return nil, err
	}
	return s.buildDTO(&chat, adminID, false)
}

// ListForUser 返回用户参与的活跃会话，按最近活动倒序，附带未读数。
func (s *ChatService) ListForUser(userID uint, filter string, page, limit int) ([]ChatDTO, *Pagination, error) {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	base := s.db.Model(&models.Chat{}).
		Joins("JOIN chat_participants cp ON cp.chat_id = chats.id AND cp.user_id = ?", userID).
		Where("chats.is_active = ?", true)
	switch filter {
	case FilterGroups:
		base = base.Where("chats.is_group_chat = ?", true)
	case FilterDirect:
		base = base.Where("chats.is_group_chat = ?", false)
	}

	var total int64
	if err := base.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, nil, err
	}

	var chats []models.Chat
	err := base.Session(&gorm.Session{}).
		Order("chats.last_activity DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&chats).Error
	if err != nil {
		return nil, nil, err
	}

	out := make([]ChatDTO, 0, len(chats))
	for i := range chats {
		dto, err := s.buildDTO(&chats[i], userID, true)
		if err != nil {
			return nil, nil, err
		}
		if filter == FilterUnread && dto.UnreadCount == 0 {
			continue
		}
		out = append(out, *dto)
	}
	return out, paginate(page, limit, total, len(chats)), nil
}

// Details 返回会话详情。请求者不是成员时与会话不存在同样返回
// ErrNotFound，避免探测会话是否存在。
func (s *ChatService) Details(chatID, requesterID uint) (*ChatDTO, error) {
	chat, err := chatForMember(s.db, chatID, requesterID)
	if err != nil {
		return nil, err
	}
	return s.buildDTO(chat, requesterID, false)
}

// Deactivate 软删除会话。群聊仅管理员可删，单聊任一成员可删。
func (s *ChatService) Deactivate(chatID, requesterID uint) error {
	chat, err := chatForMember(s.db, chatID, requesterID)
	if err != nil {
		return err
	}
	if chat.IsGroupChat && (chat.GroupAdminID == nil || *chat.GroupAdminID != requesterID) {
		return fmt.Errorf("%w: only the group admin can delete a group chat", ErrAuthorization)
	}
	return s.db.Model(&models.Chat{}).Where("id = ?", chatID).Update("is_active", false).Error
}

// IsParticipant 检查用户是否为会话成员。
func (s *ChatService) IsParticipant(chatID, userID uint) (bool, error) {
	var count int64
	err := s.db.Model(&models.ChatParticipant{}).
		Where("chat_id = ? AND user_id = ?", chatID, userID).
		Count(&count).Error
	return count > 0, err
}

// ActiveChatIDs 返回用户参与的全部活跃会话 id，网关连接建立时
// 用它完成自动订阅。
func (s *ChatService) ActiveChatIDs(userID uint) ([]uint, error) {
	var ids []uint
	err := s.db.Model(&models.Chat{}).
		Joins("JOIN chat_participants cp ON cp.chat_id = chats.id AND cp.user_id = ?", userID).
		Where("chats.is_active = ?", true).
		Pluck("chats.id", &ids).Error
	return ids, err
}

// unreadCount 统计会话里别人发出、viewer 尚未读、且未被全局删除的消息数。
func (s *ChatService) unreadCount(chatID, viewerID uint) (int64, error) {
	var count int64
	err := s.db.Model(&models.Message{}).
		Where("chat_id = ? AND sender_id <> ? AND is_deleted = ?", chatID, viewerID, false).
		Where("id NOT IN (?)", s.db.Model(&models.MessageReceipt{}).
			Select("message_id").
			Where("user_id = ? AND kind = ?", viewerID, models.ReceiptRead)).
		Count(&count).Error
	return count, err
}

// buildDTO 组装会话 DTO：成员摘要、管理员、最近一条消息、未读数。
func (s *ChatService) buildDTO(chat *models.Chat, viewerID uint, withUnread bool) (*ChatDTO, error) {
	ids, err := participantIDsOf(s.db, chat.ID)
	if err != nil {
		return nil, err
	}
	summaries, err := s.dir.Summaries(ids)
	if err != nil {
		return nil, err
	}

	dto := &ChatDTO{
		ID:           chat.ID,
		Name:         chat.Name,
		IsGroupChat:  chat.IsGroupChat,
		GroupImage:   chat.GroupImage,
		LastActivity: chat.LastActivity,
		CreatedAt:    chat.CreatedAt,
		Participants: make([]directory.Summary, 0, len(ids)),
	}
	for _, id := range ids {
		if sum, ok := summaries[id]; ok {
			dto.Participants = append(dto.Participants, sum)
		}
	}

	if chat.IsGroupChat {
		dto.ChatName = chat.Name
		if chat.GroupAdminID != nil {
			if sum, ok := summaries[*chat.GroupAdminID]; ok {
				dto.GroupAdmin = &sum
			} else if admin, err := s.dir.FindByID(*chat.GroupAdminID); err == nil {
				a := directory.Summary{ID: admin.ID, FirstName: admin.FirstName, LastName: admin.LastName, ProfilePicture: admin.ProfilePicture, IsOnline: admin.IsOnline, LastSeen: admin.LastSeen}
				dto.GroupAdmin = &a
			}
		}
	} else {
		// 单聊会话名取对方的名字。
		for _, id := range ids {
			if id != viewerID {
				if sum, ok := summaries[id]; ok {
					dto.ChatName = strings.TrimSpace(sum.FirstName + " " + sum.LastName)
				}
			}
		}
	}

	if chat.LastMessageID != nil {
		var msg models.Message
		if err := s.db.First(&msg, *chat.LastMessageID).Error; err == nil {
			sum := MessageSummary{
				ID:          msg.ID,
				SenderID:    msg.SenderID,
				Content:     msg.Content,
				MessageType: msg.MessageType,
				CreatedAt:   msg.CreatedAt,
			}
			if sender, ok := summaries[msg.SenderID]; ok {
				sum.SenderName = strings.TrimSpace(sender.FirstName + " " + sender.LastName)
			}
			dto.LastMessage = &sum
		}
	}

	if withUnread {
		n, err := s.unreadCount(chat.ID, viewerID)
		if err != nil {
			return nil, err
		}
		dto.UnreadCount = n
	}
	return dto, nil
}
