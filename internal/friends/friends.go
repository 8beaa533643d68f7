package friends

import (
	"github.com/mohitgusain8671/WanderSphere-Backend/internal/models"
	"gorm.io/gorm"
)

// Oracle 是好友关系协作方，回答「A 是否允许与 B 建群/私聊」。
// 好友请求的收发与处理属于平台的社交子系统。
type Oracle struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Oracle {
	return &Oracle{db: db}
}

// AreFriends 双向查询 accepted 状态的好友关系。
func (o *Oracle) AreFriends(userA, userB uint) (bool, error) {
	var count int64
	err := o.db.Model(&models.Friendship{}).
		Where("status = ?", models.FriendshipAccepted).
		Where("(requester_id = ? AND recipient_id = ?) OR (requester_id = ? AND recipient_id = ?)",
			userA, userB, userB, userA).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// AcceptedFriendIDs 返回 candidates 中与 userID 互为好友的子集，
// 建群校验用一次查询替代逐个询问。
func (o *Oracle) AcceptedFriendIDs(userID uint, candidates []uint) (map[uint]bool, error) {
	out := make(map[uint]bool, len(candidates))
	if len(candidates) == 0 {
		return out, nil
	}
	var rows []models.Friendship
	err := o.db.
		Where("status = ?", models.FriendshipAccepted).
		Where("(requester_id = ? AND recipient_id IN ?) OR (recipient_id = ? AND requester_id IN ?)",
			userID, candidates, userID, candidates).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, f := range rows {
		if f.RequesterID == userID {
			out[f.RecipientID] = true
		} else {
			out[f.RequesterID] = true
		}
	}
	return out, nil
}
