package service

import (
	"errors"
	"sync"
	"testing"
)

func TestDirectKey_OrderIndependent(t *testing.T) {
	if directKey(3, 7) != directKey(7, 3) {
		t.Errorf("directKey(3,7) = %q, directKey(7,3) = %q, want equal", directKey(3, 7), directKey(7, 3))
	}
	if got := directKey(3, 7); got != "3:7" {
		t.Errorf("directKey(3,7) = %q, want \"3:7\"", got)
	}
}

func TestPaginate(t *testing.T) {
	tests := []struct {
		name        string
		page, limit int
		total       int64
		got         int
		wantPages   int
		wantHasMore bool
	}{
		{"first of three pages", 1, 10, 25, 10, 3, true},
		{"last partial page", 3, 10, 25, 5, 3, false},
		{"exact fit", 2, 10, 20, 10, 2, false},
		{"empty", 1, 10, 0, 0, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := paginate(tt.page, tt.limit, tt.total, tt.got)
			if p.TotalPages != tt.wantPages {
				t.Errorf("TotalPages = %d, want %d", p.TotalPages, tt.wantPages)
			}
			if p.HasMore != tt.wantHasMore {
				t.Errorf("HasMore = %v, want %v", p.HasMore, tt.wantHasMore)
			}
			if p.CurrentPage != tt.page || p.TotalItems != tt.total {
				t.Errorf("CurrentPage/TotalItems = %d/%d, want %d/%d", p.CurrentPage, p.TotalItems, tt.page, tt.total)
			}
		})
	}
}

func TestGetOrCreateDirect_SelfChat(t *testing.T) {
	gdb := setupTestDB(t)
	chatSvc, _ := newTestServices(gdb, nil)
	u := newTestUser(t, gdb, "solo")

	_, _, err := chatSvc.GetOrCreateDirect(u.ID, u.ID)
	if !errors.Is(err, ErrInvalidOperation) {
		t.Errorf("GetOrCreateDirect(self) error = %v, want ErrInvalidOperation", err)
	}
}

func TestGetOrCreateDirect_UnknownParticipant(t *testing.T) {
	gdb := setupTestDB(t)
	chatSvc, _ := newTestServices(gdb, nil)
	u := newTestUser(t, gdb, "lonely")

	_, _, err := chatSvc.GetOrCreateDirect(u.ID, 99999999)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetOrCreateDirect(unknown) error = %v, want ErrNotFound", err)
	}
}

func TestGetOrCreateDirect_Idempotent(t *testing.T) {
	gdb := setupTestDB(t)
	chatSvc, _ := newTestServices(gdb, nil)
	alice := newTestUser(t, gdb, "alice")
	bob := newTestUser(t, gdb, "bob")

	first, created, err := chatSvc.GetOrCreateDirect(alice.ID, bob.ID)
	if err != nil {
		t.Fatalf("first GetOrCreateDirect: %v", err)
	}
	if !created {
		t.Error("first call created = false, want true")
	}

	// Same pair from the other side must return the same chat.
	second, created, err := chatSvc.GetOrCreateDirect(bob.ID, alice.ID)
	if err != nil {
		t.Fatalf("second GetOrCreateDirect: %v", err)
	}
	if created {
		t.Error("second call created = true, want false")
	}
	if first.ID != second.ID {
		t.Errorf("chat IDs differ: %d vs %d", first.ID, second.ID)
	}
	if len(second.Participants) != 2 {
		t.Errorf("participants = %d, want 2", len(second.Participants))
	}
}

func TestGetOrCreateDirect_Concurrent(t *testing.T) {
	gdb := setupTestDB(t)
	chatSvc, _ := newTestServices(gdb, nil)
	alice := newTestUser(t, gdb, "raceA")
	bob := newTestUser(t, gdb, "raceB")

	var wg sync.WaitGroup
	ids := make([]uint, 8)
	errs := make([]error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			a, b := alice.ID, bob.ID
			if n%2 == 1 {
				a, b = b, a
			}
			dto, _, err := chatSvc.GetOrCreateDirect(a, b)
			if err != nil {
				errs[n] = err
				return
			}
			ids[n] = dto.ID
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("call %d failed: %v", i, err)
		}
	}
	for i := 1; i < len(ids); i++ {
		if ids[i] != ids[0] {
			t.Fatalf("concurrent calls produced different chats: %v", ids)
		}
	}
}

func TestCreateGroup_Validation(t *testing.T) {
	gdb := setupTestDB(t)
	chatSvc, _ := newTestServices(gdb, nil)
	admin := newTestUser(t, gdb, "admin")
	friend := newTestUser(t, gdb, "friend")
	befriend(t, gdb, admin.ID, friend.ID)

	if _, err := chatSvc.CreateGroup(admin.ID, "  ", []uint{friend.ID}); !errors.Is(err, ErrValidation) {
		t.Errorf("empty name error = %v, want ErrValidation", err)
	}
	if _, err := chatSvc.CreateGroup(admin.ID, "trip", []uint{friend.ID}); !errors.Is(err, ErrValidation) {
		t.Errorf("one participant error = %v, want ErrValidation", err)
	}
	// Duplicates and the admin's own id do not count towards the minimum.
	if _, err := chatSvc.CreateGroup(admin.ID, "trip", []uint{friend.ID, friend.ID, admin.ID}); !errors.Is(err, ErrValidation) {
		t.Errorf("deduped participants error = %v, want ErrValidation", err)
	}
}

func TestCreateGroup_FriendGate(t *testing.T) {
	gdb := setupTestDB(t)
	chatSvc, _ := newTestServices(gdb, nil)
	admin := newTestUser(t, gdb, "gadmin")
	friend := newTestUser(t, gdb, "gfriend")
	stranger := newTestUser(t, gdb, "stranger")
	befriend(t, gdb, admin.ID, friend.ID)

	if _, err := chatSvc.CreateGroup(admin.ID, "expedition", []uint{friend.ID, stranger.ID}); !errors.Is(err, ErrAuthorization) {
		t.Errorf("non-friend participant error = %v, want ErrAuthorization", err)
	}

	other := newTestUser(t, gdb, "gother")
	befriend(t, gdb, other.ID, admin.ID) // friendship direction must not matter

	chat, err := chatSvc.CreateGroup(admin.ID, "expedition", []uint{friend.ID, other.ID})
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	if !chat.IsGroupChat {
		t.Error("IsGroupChat = false, want true")
	}
	if len(chat.Participants) != 3 {
		t.Errorf("participants = %d, want 3", len(chat.Participants))
	}
	if chat.GroupAdmin == nil || chat.GroupAdmin.ID != admin.ID {
		t.Error("GroupAdmin not set to creator")
	}
}

func TestDetails_NonParticipant(t *testing.T) {
	gdb := setupTestDB(t)
	chatSvc, _ := newTestServices(gdb, nil)
	alice := newTestUser(t, gdb, "dAlice")
	bob := newTestUser(t, gdb, "dBob")
	eve := newTestUser(t, gdb, "dEve")

	chat, _, err := chatSvc.GetOrCreateDirect(alice.ID, bob.ID)
	if err != nil {
		t.Fatalf("GetOrCreateDirect: %v", err)
	}

	// Outsiders get the same answer as for a chat that does not exist.
	if _, err := chatSvc.Details(chat.ID, eve.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Details(non-participant) error = %v, want ErrNotFound", err)
	}
	if _, err := chatSvc.Details(99999999, alice.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Details(missing chat) error = %v, want ErrNotFound", err)
	}
}

func TestDeactivate_GroupAdminOnly(t *testing.T) {
	gdb := setupTestDB(t)
	chatSvc, _ := newTestServices(gdb, nil)
	admin := newTestUser(t, gdb, "delAdmin")
	m1 := newTestUser(t, gdb, "delM1")
	m2 := newTestUser(t, gdb, "delM2")
	befriend(t, gdb, admin.ID, m1.ID)
	befriend(t, gdb, admin.ID, m2.ID)

	chat, err := chatSvc.CreateGroup(admin.ID, "doomed", []uint{m1.ID, m2.ID})
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}

	if err := chatSvc.Deactivate(chat.ID, m1.ID); !errors.Is(err, ErrAuthorization) {
		t.Errorf("member Deactivate error = %v, want ErrAuthorization", err)
	}
	if err := chatSvc.Deactivate(chat.ID, admin.ID); err != nil {
		t.Fatalf("admin Deactivate: %v", err)
	}

	ids, err := chatSvc.ActiveChatIDs(m1.ID)
	if err != nil {
		t.Fatalf("ActiveChatIDs: %v", err)
	}
	for _, id := range ids {
		if id == chat.ID {
			t.Error("deactivated chat still listed as active")
		}
	}
}

func TestListForUser_FiltersAndUnread(t *testing.T) {
	gdb := setupTestDB(t)
	online := stubOnline{}
	chatSvc, msgSvc := newTestServices(gdb, online)
	alice := newTestUser(t, gdb, "lAlice")
	bob := newTestUser(t, gdb, "lBob")
	carol := newTestUser(t, gdb, "lCarol")
	befriend(t, gdb, alice.ID, bob.ID)
	befriend(t, gdb, alice.ID, carol.ID)

	direct, _, err := chatSvc.GetOrCreateDirect(alice.ID, bob.ID)
	if err != nil {
		t.Fatalf("GetOrCreateDirect: %v", err)
	}
	group, err := chatSvc.CreateGroup(alice.ID, "crew", []uint{bob.ID, carol.ID})
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}

	if _, err := msgSvc.Append(direct.ID, bob.ID, "hello alice", "", nil, nil); err != nil {
		t.Fatalf("Append: %v", err)
	}

	groups, _, err := chatSvc.ListForUser(alice.ID, FilterGroups, 1, 20)
	if err != nil {
		t.Fatalf("ListForUser(groups): %v", err)
	}
	for _, c := range groups {
		if !c.IsGroupChat {
			t.Errorf("groups filter returned direct chat %d", c.ID)
		}
	}

	unread, _, err := chatSvc.ListForUser(alice.ID, FilterUnread, 1, 20)
	if err != nil {
		t.Fatalf("ListForUser(unread): %v", err)
	}
	found := false
	for _, c := range unread {
		if c.ID == direct.ID {
			found = true
			if c.UnreadCount != 1 {
				t.Errorf("UnreadCount = %d, want 1", c.UnreadCount)
			}
		}
		if c.ID == group.ID {
			t.Error("unread filter returned chat with no unread messages")
		}
	}
	if !found {
		t.Error("unread filter did not return the chat with an unread message")
	}
}
