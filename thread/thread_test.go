package thread

import (
	"context"
	"testing"
	"time"

	"github.com/nabila-sheona/chat/contacts"
	"github.com/nabila-sheona/chat/profile"
	"github.com/nabila-sheona/chat/store"
)

func newClock(start time.Time) func() time.Time {
	t := start
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func setup(t *testing.T) (*store.MemStore, string) {
	t.Helper()
	m := store.NewMemStore()
	m.Now = newClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))

	chatID, err := contacts.StartChat(context.Background(), m, "u1", "u2")
	if err != nil {
		t.Fatalf("StartChat failed: %v", err)
	}
	return m, chatID
}

func sender(uid string) SenderInfo {
	return SenderInfo{UID: uid, Name: uid + "@example.com", Avatar: profile.PlaceholderAvatar}
}

func unread(t *testing.T, m *store.MemStore, chatID, uid string) int64 {
	t.Helper()
	doc, ok, err := m.GetOnce(context.Background(), "chats/"+chatID)
	if err != nil || !ok {
		t.Fatalf("chat doc missing: ok=%v err=%v", ok, err)
	}
	counts, _ := doc.Fields["unreadCount"].(map[string]any)
	n, _ := counts[uid].(int64)
	return n
}

func TestSendScenario(t *testing.T) {
	ctx := context.Background()
	m, chatID := setup(t)

	u1 := New(m, profile.New(m), sender("u1"), nil)
	u1.Start(ctx, chatID)
	defer u1.Stop()

	if err := u1.Send(ctx, "hi"); err != nil {
		t.Fatalf("Send(hi) failed: %v", err)
	}
	if err := u1.Send(ctx, "there"); err != nil {
		t.Fatalf("Send(there) failed: %v", err)
	}

	msgs := u1.Messages()
	if len(msgs) != 2 {
		t.Fatalf("projection has %d messages; want 2", len(msgs))
	}
	if msgs[0].Text != "hi" || msgs[1].Text != "there" {
		t.Errorf("projection = [%q, %q]; want [hi, there]", msgs[0].Text, msgs[1].Text)
	}
	if !msgs[0].CreatedAt.Before(msgs[1].CreatedAt) {
		t.Error("projection is not ascending by creation time")
	}
	if msgs[0].ID == msgs[1].ID {
		t.Error("duplicate message ids in projection")
	}
	if msgs[0].Sender.ID != "u1" {
		t.Errorf("sender snapshot id = %q; want u1", msgs[0].Sender.ID)
	}

	doc, _, _ := m.GetOnce(ctx, "chats/"+chatID)
	if doc.Fields["lastMessage"] != "there" {
		t.Errorf("lastMessage = %v; want there", doc.Fields["lastMessage"])
	}
	if doc.Fields["lastMessageSender"] != "u1" {
		t.Errorf("lastMessageSender = %v; want u1", doc.Fields["lastMessageSender"])
	}

	// u1 is viewing the thread, so u1's own counter stays zero while
	// u2's reflects both unseen messages.
	if got := unread(t, m, chatID, "u1"); got != 0 {
		t.Errorf("unread[u1] = %d; want 0", got)
	}
	if got := unread(t, m, chatID, "u2"); got != 2 {
		t.Errorf("unread[u2] = %d; want 2", got)
	}

	// u2 opens the thread: their counter resets regardless of count.
	u2 := New(m, profile.New(m), sender("u2"), nil)
	u2.Start(ctx, chatID)
	defer u2.Stop()

	if got := unread(t, m, chatID, "u2"); got != 0 {
		t.Errorf("unread[u2] after opening = %d; want 0", got)
	}

	u2msgs := u2.Messages()
	if len(u2msgs) != 2 || u2msgs[0].Text != "hi" || u2msgs[1].Text != "there" {
		t.Errorf("u2 projection = %v; want [hi, there]", u2msgs)
	}
}

func TestCounterMonotonicity(t *testing.T) {
	ctx := context.Background()
	m, chatID := setup(t)

	u1 := New(m, profile.New(m), sender("u1"), nil)
	u1.Start(ctx, chatID)
	defer u1.Stop()

	const n = 5
	for i := 0; i < n; i++ {
		if err := u1.Send(ctx, "ping"); err != nil {
			t.Fatalf("Send %d failed: %v", i, err)
		}
		if got := unread(t, m, chatID, "u2"); got != int64(i+1) {
			t.Fatalf("unread[u2] after %d sends = %d", i+1, got)
		}
	}
}

func TestProjectionReplacedOnEachSnapshot(t *testing.T) {
	ctx := context.Background()
	m, chatID := setup(t)

	var snapshots [][]Message
	u1 := New(m, profile.New(m), sender("u1"), func(msgs []Message) {
		snapshots = append(snapshots, msgs)
	})
	u1.Start(ctx, chatID)
	defer u1.Stop()

	u1.Send(ctx, "one")
	u1.Send(ctx, "two")

	last := snapshots[len(snapshots)-1]
	if len(last) != 2 {
		t.Fatalf("last snapshot has %d messages; want full replacement with 2", len(last))
	}
	for _, snap := range snapshots {
		for i := 1; i < len(snap); i++ {
			if snap[i].CreatedAt.Before(snap[i-1].CreatedAt) {
				t.Fatal("snapshot not ascending by creation time")
			}
		}
	}
}

func TestEmptySnapshotDoesNotMarkRead(t *testing.T) {
	ctx := context.Background()
	m, chatID := setup(t)

	// Pretend u2 has unseen messages recorded although the message
	// sub-collection is empty.
	if err := m.Update(ctx, "chats/"+chatID, []store.FieldUpdate{
		{Path: "unreadCount.u2", Value: int64(4)},
	}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	u2 := New(m, profile.New(m), sender("u2"), nil)
	u2.Start(ctx, chatID)
	defer u2.Stop()

	if got := unread(t, m, chatID, "u2"); got != 4 {
		t.Errorf("empty snapshot reset the counter: unread[u2] = %d; want 4", got)
	}
}

func TestSendSanitizesText(t *testing.T) {
	ctx := context.Background()
	m, chatID := setup(t)

	u1 := New(m, profile.New(m), sender("u1"), nil)
	u1.Start(ctx, chatID)
	defer u1.Stop()

	if err := u1.Send(ctx, `hello <script>alert("x")</script>world`); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	msgs := u1.Messages()
	if msgs[len(msgs)-1].Text != "hello world" {
		t.Errorf("stored text = %q; want markup stripped", msgs[len(msgs)-1].Text)
	}

	if err := u1.Send(ctx, "<img src=x>"); err == nil {
		t.Error("message that sanitizes to nothing must fail to send")
	}
}

func TestSendWithoutConversation(t *testing.T) {
	m := store.NewMemStore()
	u1 := New(m, profile.New(m), sender("u1"), nil)
	if err := u1.Send(context.Background(), "hi"); err == nil {
		t.Error("Send without Start must fail")
	}
}

func TestTitle(t *testing.T) {
	ctx := context.Background()
	m, chatID := setup(t)

	if err := m.Upsert(ctx, "users/u2", map[string]any{
		"email":       "two@example.com",
		"displayName": "User Two",
	}, false); err != nil {
		t.Fatalf("seeding profile: %v", err)
	}

	u1 := New(m, profile.New(m), sender("u1"), nil)
	if got := u1.Title(ctx, chatID); got != "User Two" {
		t.Errorf("Title = %q; want User Two", got)
	}
	if got := u1.Title(ctx, "nope_nope"); got != "Unknown User" {
		t.Errorf("Title for missing chat = %q; want Unknown User", got)
	}
}
