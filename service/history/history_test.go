package history

import (
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/qqbot-core/gateway/storage"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open in-memory sqlite: %v", err)
	}
	if err := db.AutoMigrate(&storage.ChatHistory{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestService_SaveAndRecentHistory(t *testing.T) {
	svc := New(newTestDB(t))

	if err := svc.SaveMessage("acct", "u1", "", "user", "hello"); err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}
	if err := svc.SaveMessage("acct", "u1", "", "assistant", "hi there"); err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}

	msgs, err := svc.RecentHistory("acct", "u1", "", 10)
	if err != nil {
		t.Fatalf("RecentHistory: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("len(msgs) = %d, want 2", len(msgs))
	}
	if msgs[0].Content != "hello" || msgs[1].Content != "hi there" {
		t.Errorf("msgs = %+v, want oldest-first order", msgs)
	}
}

func TestService_HistoryScopedByGroupOpenid(t *testing.T) {
	svc := New(newTestDB(t))

	_ = svc.SaveMessage("acct", "u1", "", "user", "dm message")
	_ = svc.SaveMessage("acct", "u1", "g1", "user", "group message")

	dm, err := svc.RecentHistory("acct", "u1", "", 10)
	if err != nil || len(dm) != 1 || dm[0].Content != "dm message" {
		t.Errorf("dm history = %+v, err=%v; want exactly the DM turn", dm, err)
	}

	group, err := svc.RecentHistory("acct", "u1", "g1", 10)
	if err != nil || len(group) != 1 || group[0].Content != "group message" {
		t.Errorf("group history = %+v, err=%v; want exactly the group turn", group, err)
	}
}

func TestService_RecentHistoryRespectsLimit(t *testing.T) {
	svc := New(newTestDB(t))
	for i := 0; i < 5; i++ {
		_ = svc.SaveMessage("acct", "u1", "", "user", "m")
	}
	msgs, err := svc.RecentHistory("acct", "u1", "", 2)
	if err != nil {
		t.Fatalf("RecentHistory: %v", err)
	}
	if len(msgs) != 2 {
		t.Errorf("len(msgs) = %d, want 2", len(msgs))
	}
}

func TestService_ClearConversation(t *testing.T) {
	svc := New(newTestDB(t))
	_ = svc.SaveMessage("acct", "u1", "", "user", "hello")

	if err := svc.ClearConversation("acct", "u1", ""); err != nil {
		t.Fatalf("ClearConversation: %v", err)
	}
	msgs, err := svc.RecentHistory("acct", "u1", "", 10)
	if err != nil || len(msgs) != 0 {
		t.Errorf("msgs = %+v, err=%v; want empty after clear", msgs, err)
	}
}
