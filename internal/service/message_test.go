package service

import (
	"errors"
	"testing"
	"time"

	"github.com/mohitgusain8671/WanderSphere-Backend/internal/models"
)

func TestGroupMessagesByDate(t *testing.T) {
	day1 := time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	msgs := []MessageDTO{
		{ID: 1, CreatedAt: day1},
		{ID: 2, CreatedAt: day1.Add(2 * time.Hour)},
		{ID: 3, CreatedAt: day2},
	}

	groups := groupMessagesByDate(msgs)
	if len(groups) != 2 {
		t.Fatalf("groups = %d, want 2", len(groups))
	}
	// Day is zero-padded, like Date.toDateString() on the clients.
	if groups[0].Date != "Mon Mar 09 2026" {
		t.Errorf("first bucket date = %q, want %q", groups[0].Date, "Mon Mar 09 2026")
	}
	if len(groups[0].Messages) != 2 || len(groups[1].Messages) != 1 {
		t.Errorf("bucket sizes = %d/%d, want 2/1", len(groups[0].Messages), len(groups[1].Messages))
	}
	if groups[0].Messages[0].ID != 1 || groups[0].Messages[1].ID != 2 {
		t.Error("messages within a bucket are not in ascending order")
	}
}

func TestGroupMessagesByDate_Empty(t *testing.T) {
	groups := groupMessagesByDate(nil)
	if groups == nil || len(groups) != 0 {
		t.Errorf("groupMessagesByDate(nil) = %v, want empty non-nil slice", groups)
	}
}

func directChat(t *testing.T, chatSvc *ChatService, a, b uint) uint {
	t.Helper()
	chat, _, err := chatSvc.GetOrCreateDirect(a, b)
	if err != nil {
		t.Fatalf("GetOrCreateDirect: %v", err)
	}
	return chat.ID
}

func TestAppend_Validation(t *testing.T) {
	gdb := setupTestDB(t)
	chatSvc, msgSvc := newTestServices(gdb, nil)
	alice := newTestUser(t, gdb, "mAlice")
	bob := newTestUser(t, gdb, "mBob")
	eve := newTestUser(t, gdb, "mEve")
	chatID := directChat(t, chatSvc, alice.ID, bob.ID)

	if _, err := msgSvc.Append(chatID, alice.ID, "   ", "", nil, nil); !errors.Is(err, ErrValidation) {
		t.Errorf("empty message error = %v, want ErrValidation", err)
	}
	if _, err := msgSvc.Append(chatID, alice.ID, "hi", "carrier-pigeon", nil, nil); !errors.Is(err, ErrValidation) {
		t.Errorf("bad type error = %v, want ErrValidation", err)
	}
	if _, err := msgSvc.Append(chatID, eve.ID, "hi", "", nil, nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("non-participant error = %v, want ErrNotFound", err)
	}

	// Media-only message is fine.
	media := []MediaInput{{URL: "http://blob/x.jpg", Type: "image", MimeType: "image/jpeg"}}
	dto, err := msgSvc.Append(chatID, alice.ID, "", models.MessageTypeImage, media, nil)
	if err != nil {
		t.Fatalf("media-only Append: %v", err)
	}
	if len(dto.Media) != 1 {
		t.Errorf("media = %d, want 1", len(dto.Media))
	}
}

func TestAppend_DeliveredToOnlineParticipants(t *testing.T) {
	gdb := setupTestDB(t)
	alice := newTestUser(t, gdb, "onAlice")
	bob := newTestUser(t, gdb, "onBob")
	chatSvc, msgSvc := newTestServices(gdb, stubOnline{bob.ID: true})
	chatID := directChat(t, chatSvc, alice.ID, bob.ID)

	dto, err := msgSvc.Append(chatID, alice.ID, "are you there", "", nil, nil)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if len(dto.DeliveredTo) != 1 || dto.DeliveredTo[0].UserID != bob.ID {
		t.Errorf("DeliveredTo = %v, want [bob]", dto.DeliveredTo)
	}
	if len(dto.ReadBy) != 0 {
		t.Errorf("ReadBy = %v, want empty", dto.ReadBy)
	}
}

func TestAppend_AdvancesLastActivity(t *testing.T) {
	gdb := setupTestDB(t)
	chatSvc, msgSvc := newTestServices(gdb, nil)
	alice := newTestUser(t, gdb, "laAlice")
	bob := newTestUser(t, gdb, "laBob")
	chatID := directChat(t, chatSvc, alice.ID, bob.ID)

	dto, err := msgSvc.Append(chatID, alice.ID, "first", "", nil, nil)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	var chat models.Chat
	if err := gdb.First(&chat, chatID).Error; err != nil {
		t.Fatalf("load chat: %v", err)
	}
	if chat.LastMessageID == nil || *chat.LastMessageID != dto.ID {
		t.Error("last_message_id not advanced to the new message")
	}
	if chat.LastActivity.Before(dto.CreatedAt.Truncate(time.Millisecond)) {
		t.Error("last_activity not advanced")
	}
}

func TestList_VisibilityAndOrdering(t *testing.T) {
	gdb := setupTestDB(t)
	chatSvc, msgSvc := newTestServices(gdb, nil)
	alice := newTestUser(t, gdb, "vAlice")
	bob := newTestUser(t, gdb, "vBob")
	chatID := directChat(t, chatSvc, alice.ID, bob.ID)

	first, _ := msgSvc.Append(chatID, alice.ID, "one", "", nil, nil)
	second, _ := msgSvc.Append(chatID, bob.ID, "two", "", nil, nil)
	third, _ := msgSvc.Append(chatID, alice.ID, "three", "", nil, nil)

	// "two" is gone for everyone, "three" only for alice.
	if err := msgSvc.Delete(second.ID, bob.ID, true); err != nil {
		t.Fatalf("Delete for everyone: %v", err)
	}
	if err := msgSvc.Delete(third.ID, alice.ID, false); err != nil {
		t.Fatalf("Delete for self: %v", err)
	}

	groups, _, err := msgSvc.List(chatID, alice.ID, 1, 50)
	if err != nil {
		t.Fatalf("List for alice: %v", err)
	}
	aliceIDs := collectIDs(groups)
	if len(aliceIDs) != 1 || aliceIDs[0] != first.ID {
		t.Errorf("alice sees %v, want [%d]", aliceIDs, first.ID)
	}

	groups, _, err = msgSvc.List(chatID, bob.ID, 1, 50)
	if err != nil {
		t.Fatalf("List for bob: %v", err)
	}
	bobIDs := collectIDs(groups)
	if len(bobIDs) != 2 || bobIDs[0] != first.ID || bobIDs[1] != third.ID {
		t.Errorf("bob sees %v, want [%d %d] in ascending order", bobIDs, first.ID, third.ID)
	}
}

func collectIDs(groups []DateGroup) []uint {
	var ids []uint
	for _, g := range groups {
		for _, m := range g.Messages {
			ids = append(ids, m.ID)
		}
	}
	return ids
}

func TestMarkRead_Idempotent(t *testing.T) {
	gdb := setupTestDB(t)
	chatSvc, msgSvc := newTestServices(gdb, nil)
	alice := newTestUser(t, gdb, "rAlice")
	bob := newTestUser(t, gdb, "rBob")
	chatID := directChat(t, chatSvc, alice.ID, bob.ID)

	msg, err := msgSvc.Append(chatID, alice.ID, "read me", "", nil, nil)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	// Marking twice, plus the sender marking their own message, must
	// yield exactly one read receipt for bob.
	for i := 0; i < 2; i++ {
		if err := msgSvc.MarkRead(chatID, bob.ID, []uint{msg.ID}); err != nil {
			t.Fatalf("MarkRead #%d: %v", i+1, err)
		}
	}
	if err := msgSvc.MarkRead(chatID, alice.ID, []uint{msg.ID}); err != nil {
		t.Fatalf("sender MarkRead: %v", err)
	}

	var count int64
	gdb.Model(&models.MessageReceipt{}).
		Where("message_id = ? AND kind = ?", msg.ID, models.ReceiptRead).
		Count(&count)
	if count != 1 {
		t.Errorf("read receipts = %d, want 1", count)
	}
}

func TestRecordRead_ImpliesDelivered(t *testing.T) {
	gdb := setupTestDB(t)
	chatSvc, msgSvc := newTestServices(gdb, nil)
	alice := newTestUser(t, gdb, "idAlice")
	bob := newTestUser(t, gdb, "idBob")
	chatID := directChat(t, chatSvc, alice.ID, bob.ID)

	msg, err := msgSvc.Append(chatID, alice.ID, "ping", "", nil, nil)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	info, err := msgSvc.RecordRead(msg.ID, bob.ID)
	if err != nil {
		t.Fatalf("RecordRead: %v", err)
	}
	if info.SenderID != alice.ID || info.ChatID != chatID {
		t.Errorf("ReceiptInfo = %+v, want sender %d chat %d", info, alice.ID, chatID)
	}

	var kinds []string
	gdb.Model(&models.MessageReceipt{}).
		Where("message_id = ? AND user_id = ?", msg.ID, bob.ID).
		Order("kind").
		Pluck("kind", &kinds)
	if len(kinds) != 2 {
		t.Fatalf("receipts = %v, want delivered and read", kinds)
	}

	// Own messages cannot be acknowledged.
	if _, err := msgSvc.RecordRead(msg.ID, alice.ID); !errors.Is(err, ErrInvalidOperation) {
		t.Errorf("RecordRead(own message) error = %v, want ErrInvalidOperation", err)
	}
	if _, err := msgSvc.RecordDelivered(msg.ID, alice.ID); !errors.Is(err, ErrInvalidOperation) {
		t.Errorf("RecordDelivered(own message) error = %v, want ErrInvalidOperation", err)
	}
}

func TestEdit_Rules(t *testing.T) {
	gdb := setupTestDB(t)
	chatSvc, msgSvc := newTestServices(gdb, nil)
	alice := newTestUser(t, gdb, "eAlice")
	bob := newTestUser(t, gdb, "eBob")
	chatID := directChat(t, chatSvc, alice.ID, bob.ID)

	text, _ := msgSvc.Append(chatID, alice.ID, "tpyo", "", nil, nil)
	media := []MediaInput{{URL: "http://blob/y.jpg", Type: "image"}}
	image, _ := msgSvc.Append(chatID, alice.ID, "", models.MessageTypeImage, media, nil)

	if _, err := msgSvc.Edit(text.ID, bob.ID, "hacked"); !errors.Is(err, ErrAuthorization) {
		t.Errorf("non-sender edit error = %v, want ErrAuthorization", err)
	}
	if _, err := msgSvc.Edit(image.ID, alice.ID, "caption"); !errors.Is(err, ErrInvalidOperation) {
		t.Errorf("media edit error = %v, want ErrInvalidOperation", err)
	}
	if _, err := msgSvc.Edit(text.ID, alice.ID, "  "); !errors.Is(err, ErrValidation) {
		t.Errorf("empty edit error = %v, want ErrValidation", err)
	}

	dto, err := msgSvc.Edit(text.ID, alice.ID, "typo")
	if err != nil {
		t.Fatalf("Edit: %v", err)
	}
	if dto.Content != "typo" || !dto.IsEdited || dto.EditedAt == nil {
		t.Errorf("edited message = %+v, want content updated with edit flags", dto)
	}
}

func TestDelete_ForEveryoneWindow(t *testing.T) {
	gdb := setupTestDB(t)
	chatSvc, msgSvc := newTestServices(gdb, nil)
	alice := newTestUser(t, gdb, "wAlice")
	bob := newTestUser(t, gdb, "wBob")
	chatID := directChat(t, chatSvc, alice.ID, bob.ID)

	msg, err := msgSvc.Append(chatID, alice.ID, "old news", "", nil, nil)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	if err := msgSvc.Delete(msg.ID, bob.ID, true); !errors.Is(err, ErrAuthorization) {
		t.Errorf("non-sender delete error = %v, want ErrAuthorization", err)
	}

	// Backdate past the window.
	stale := time.Now().Add(-25 * time.Hour)
	if err := gdb.Model(&models.Message{}).Where("id = ?", msg.ID).Update("created_at", stale).Error; err != nil {
		t.Fatalf("backdate: %v", err)
	}
	if err := msgSvc.Delete(msg.ID, alice.ID, true); !errors.Is(err, ErrInvalidOperation) {
		t.Errorf("late delete error = %v, want ErrInvalidOperation", err)
	}

	// Delete for self has no window and is idempotent.
	if err := msgSvc.Delete(msg.ID, alice.ID, false); err != nil {
		t.Fatalf("delete for self: %v", err)
	}
	if err := msgSvc.Delete(msg.ID, alice.ID, false); err != nil {
		t.Fatalf("repeated delete for self: %v", err)
	}
}

func TestReconcileDelivered(t *testing.T) {
	gdb := setupTestDB(t)
	chatSvc, msgSvc := newTestServices(gdb, nil) // nobody online at send time
	alice := newTestUser(t, gdb, "rcAlice")
	bob := newTestUser(t, gdb, "rcBob")
	chatID := directChat(t, chatSvc, alice.ID, bob.ID)

	for _, text := range []string{"while you", "were away"} {
		if _, err := msgSvc.Append(chatID, alice.ID, text, "", nil, nil); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	n, err := msgSvc.ReconcileDelivered(bob.ID, 0)
	if err != nil {
		t.Fatalf("ReconcileDelivered: %v", err)
	}
	if n != 2 {
		t.Errorf("reconciled = %d, want 2", n)
	}

	// Second pass finds nothing new.
	n, err = msgSvc.ReconcileDelivered(bob.ID, 0)
	if err != nil {
		t.Fatalf("second ReconcileDelivered: %v", err)
	}
	if n != 0 {
		t.Errorf("second reconcile = %d, want 0", n)
	}

	// The sender never reconciles their own messages.
	if n, err = msgSvc.ReconcileDelivered(alice.ID, 0); err != nil || n != 0 {
		t.Errorf("sender reconcile = (%d, %v), want (0, nil)", n, err)
	}
}
