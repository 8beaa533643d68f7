package service

import (
	"fmt"
	"testing"
	"time"

	"github.com/mohitgusain8671/WanderSphere-Backend/internal/db"
	"github.com/mohitgusain8671/WanderSphere-Backend/internal/directory"
	"github.com/mohitgusain8671/WanderSphere-Backend/internal/friends"
	"github.com/mohitgusain8671/WanderSphere-Backend/internal/models"
	"gorm.io/gorm"
)

// stubOnline 固定的在线用户集合，替代真实的在线注册表。
type stubOnline map[uint]bool

func (s stubOnline) IsOnline(userID uint) bool { return s[userID] }

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := db.Connect("host=localhost user=postgres password=postgres dbname=wandersphere port=5432 sslmode=disable TimeZone=UTC")
	if err != nil {
		t.Skipf("skip: db not available: %v", err)
	}
	if err := db.Migrate(gdb); err != nil {
		t.Skipf("skip: migrate failed: %v", err)
	}
	return gdb
}

func newTestUser(t *testing.T, gdb *gorm.DB, firstName string) *models.User {
	t.Helper()
	u := models.User{
		FirstName: firstName,
		LastName:  "Tester",
		Email:     fmt.Sprintf("%s-%d@test.local", firstName, time.Now().UnixNano()),
	}
	if err := gdb.Create(&u).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	return &u
}

func befriend(t *testing.T, gdb *gorm.DB, a, b uint) {
	t.Helper()
	now := time.Now()
	f := models.Friendship{
		RequesterID: a,
		RecipientID: b,
		Status:      models.FriendshipAccepted,
		RequestedAt: now,
		RespondedAt: &now,
	}
	if err := gdb.Create(&f).Error; err != nil {
		t.Fatalf("create friendship: %v", err)
	}
}

func newTestServices(gdb *gorm.DB, online stubOnline) (*ChatService, *MessageService) {
	dir := directory.New(gdb)
	chatSvc := NewChatService(gdb, dir, friends.New(gdb))
	msgSvc := NewMessageService(gdb, dir, nil, online)
	return chatSvc, msgSvc
}
