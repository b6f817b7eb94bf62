package contacts

import (
	"context"
	"testing"
	"time"

	"github.com/nabila-sheona/chat/store"
)

func seedUsers(t *testing.T, m *store.MemStore) {
	t.Helper()
	ctx := context.Background()
	users := []struct {
		uid    string
		fields map[string]any
	}{
		{"u1", map[string]any{"email": "me@example.com", "displayName": "Me"}},
		{"u2", map[string]any{"email": "bob@example.com", "displayName": "Bob"}},
		{"u3", map[string]any{"email": "carol@example.com", "displayName": "Carol"}},
		{"u4", map[string]any{}},
	}
	for _, u := range users {
		if err := m.Upsert(ctx, "users/"+u.uid, u.fields, false); err != nil {
			t.Fatalf("seeding %s: %v", u.uid, err)
		}
	}
}

func TestContactListExcludesSelf(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemStore()
	seedUsers(t, m)

	s := New(m, nil)
	s.Start(ctx, "u1")
	defer s.Stop()

	got := s.Contacts()
	if len(got) != 3 {
		t.Fatalf("got %d contacts; want 3 (self excluded)", len(got))
	}
	for _, c := range got {
		if c.ID == "u1" {
			t.Error("contact list contains the current identity")
		}
	}

	// Ordered by email; the profile without an email sorts first and
	// gets display defaults.
	if got[0].ID != "u4" {
		t.Errorf("first contact = %s; want u4 (empty email sorts first)", got[0].ID)
	}
	if got[0].Email != "No email" || got[0].DisplayName != "No email" {
		t.Errorf("defaults not applied: %+v", got[0])
	}
	if got[1].ID != "u2" || got[2].ID != "u3" {
		t.Errorf("contacts not ordered by email: %v", []string{got[0].ID, got[1].ID, got[2].ID})
	}
}

func TestFilter(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemStore()
	seedUsers(t, m)

	s := New(m, nil)
	s.Start(ctx, "u1")
	defer s.Stop()

	tests := []struct {
		name    string
		term    string
		wantIDs []string
	}{
		{
			name:    "empty term returns all",
			term:    "",
			wantIDs: []string{"u4", "u2", "u3"},
		},
		{
			name:    "match by name, case-insensitive",
			term:    "BOB",
			wantIDs: []string{"u2"},
		},
		{
			name:    "match by email fragment",
			term:    "carol@",
			wantIDs: []string{"u3"},
		},
		{
			name:    "no match",
			term:    "zelda",
			wantIDs: nil,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got := s.Filter(test.term)
			if len(got) != len(test.wantIDs) {
				t.Fatalf("Filter(%q) returned %d contacts; want %d", test.term, len(got), len(test.wantIDs))
			}
			for i, c := range got {
				if c.ID != test.wantIDs[i] {
					t.Errorf("Filter(%q)[%d] = %s; want %s", test.term, i, c.ID, test.wantIDs[i])
				}
			}
		})
	}
}

func TestStartChatIdempotent(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemStore()
	m.Now = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }

	id1, err := StartChat(ctx, m, "u1", "u2")
	if err != nil {
		t.Fatalf("StartChat failed: %v", err)
	}
	id2, err := StartChat(ctx, m, "u2", "u1")
	if err != nil {
		t.Fatalf("second StartChat failed: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("chat ids differ: %q vs %q", id1, id2)
	}

	// Simulate history, then re-initiate: nothing may be erased.
	if err := m.Update(ctx, "chats/"+id1, []store.FieldUpdate{
		{Path: "lastMessage", Value: "precious history"},
		{Path: "unreadCount.u2", Value: int64(7)},
	}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if _, err := StartChat(ctx, m, "u1", "u2"); err != nil {
		t.Fatalf("re-initiating StartChat failed: %v", err)
	}

	doc, ok, _ := m.GetOnce(ctx, "chats/"+id1)
	if !ok {
		t.Fatal("chat disappeared")
	}
	if doc.Fields["lastMessage"] != "precious history" {
		t.Errorf("lastMessage = %v; re-initiation erased history", doc.Fields["lastMessage"])
	}
	counts := doc.Fields["unreadCount"].(map[string]any)
	if counts["u2"] != int64(7) {
		t.Errorf("unreadCount.u2 = %v; want 7", counts["u2"])
	}
}

func TestStartChatInitialDocument(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemStore()

	id, err := StartChat(ctx, m, "u1", "u2")
	if err != nil {
		t.Fatalf("StartChat failed: %v", err)
	}
	doc, ok, _ := m.GetOnce(ctx, "chats/"+id)
	if !ok {
		t.Fatal("chat not created")
	}
	counts := doc.Fields["unreadCount"].(map[string]any)
	if counts["u1"] != int64(0) || counts["u2"] != int64(0) {
		t.Errorf("initial unreadCount = %v; want zeros for both", counts)
	}
	if _, ok := doc.Fields["lastUpdated"].(time.Time); !ok {
		t.Error("lastUpdated not stamped")
	}

	if _, err := StartChat(ctx, m, "", "u2"); err == nil {
		t.Error("StartChat with empty id must fail")
	}
}
