package directory

import (
	"errors"
	"time"

	"github.com/mohitgusain8671/WanderSphere-Backend/internal/models"
	"gorm.io/gorm"
)

// Service 是用户目录协作方：聊天核心通过它确认用户存在、
// 读写在线状态、取用户摘要。用户资料本身的增删改属于平台其他子系统。
type Service struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Service {
	return &Service{db: db}
}

var ErrUserNotFound = errors.New("user not found")

// Summary 是对外输出的用户摘要，消息与会话的 DTO 都引用它。
type Summary struct {
	ID             uint       `json:"id"`
	FirstName      string     `json:"firstName"`
	LastName       string     `json:"lastName"`
	ProfilePicture string     `json:"profilePicture,omitempty"`
	IsOnline       bool       `json:"isOnline"`
	LastSeen       *time.Time `json:"lastSeen,omitempty"`
}

func summarize(u models.User) Summary {
	return Summary{
		ID:             u.ID,
		FirstName:      u.FirstName,
		LastName:       u.LastName,
		ProfilePicture: u.ProfilePicture,
		IsOnline:       u.IsOnline,
		LastSeen:       u.LastSeen,
	}
}

func (s *Service) FindByID(id uint) (*models.User, error) {
	var user models.User
	if err := s.db.First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (s *Service) Exists(id uint) (bool, error) {
	var count int64
	if err := s.db.Model(&models.User{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// SetOnline 更新在线标记。下线时记录 last_seen，上线时清空。
func (s *Service) SetOnline(id uint, online bool) error {
	updates := map[string]interface{}{"is_online": online}
	if online {
		updates["last_seen"] = nil
	} else {
		updates["last_seen"] = time.Now()
	}
	return s.db.Model(&models.User{}).Where("id = ?", id).Updates(updates).Error
}

// Summaries 批量取用户摘要，供消息、会话列表做 sender 填充。
func (s *Service) Summaries(ids []uint) (map[uint]Summary, error) {
	out := make(map[uint]Summary, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var users []models.User
	if err := s.db.Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, err
	}
	for _, u := range users {
		out[u.ID] = summarize(u)
	}
	return out, nil
}

// Search 按名字或邮箱模糊搜索用户，用于发起新会话，排除请求者自己。
func (s *Service) Search(query string, excludeID uint, limit int) ([]Summary, error) {
	if limit <= 0 || limit > 50 {
		limit = 20
	}
	pattern := "%" + query + "%"
	var users []models.User
	err := s.db.
		Where("id <> ?", excludeID).
		Where("first_name ILIKE ? OR last_name ILIKE ? OR email ILIKE ?", pattern, pattern, pattern).
		Limit(limit).
		Find(&users).Error
	if err != nil {
		return nil, err
	}
	out := make([]Summary, 0, len(users))
	for _, u := range users {
		out = append(out, summarize(u))
	}
	return out, nil
}
