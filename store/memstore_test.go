package store

import (
	"context"
	"testing"
	"time"
)

func TestMemStoreSubscribeOrdering(t *testing.T) {
	ctx := context.Background()
	m := NewMemStore()

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	chats := map[string]map[string]any{
		"a_b": {"participants": []string{"a", "b"}, "lastUpdated": base.Add(time.Minute)},
		"a_c": {"participants": []string{"a", "c"}, "lastUpdated": base.Add(3 * time.Minute)},
		"b_c": {"participants": []string{"b", "c"}, "lastUpdated": base.Add(2 * time.Minute)},
	}
	for id, fields := range chats {
		if err := m.Upsert(ctx, "chats/"+id, fields, false); err != nil {
			t.Fatalf("Upsert(%q) failed: %v", id, err)
		}
	}

	var got [][]string
	stop := m.Subscribe(ctx, Query{
		Collection: "chats",
		Wheres:     []Where{{Field: "participants", Op: OpArrayContains, Value: "a"}},
		OrderBy:    "lastUpdated",
		Descending: true,
	}, func(docs []Doc) {
		ids := make([]string, len(docs))
		for i, d := range docs {
			ids[i] = d.ID
		}
		got = append(got, ids)
	}, func(err error) {
		t.Fatalf("unexpected subscription error: %v", err)
	})
	defer stop()

	if len(got) != 1 {
		t.Fatalf("expected 1 snapshot on registration, got %d", len(got))
	}
	want := []string{"a_c", "a_b"}
	assertIDs(t, got[0], want)

	// A mutation on the subscribed collection re-delivers.
	if err := m.Upsert(ctx, "chats/a_b", map[string]any{"lastUpdated": base.Add(10 * time.Minute)}, true); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(got))
	}
	assertIDs(t, got[1], []string{"a_b", "a_c"})

	// A mutation elsewhere does not.
	if _, err := m.Append(ctx, "chats/a_b/messages", map[string]any{"text": "hi"}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("message append leaked into chats subscription: %d snapshots", len(got))
	}
}

func TestMemStoreIndexedQueryFailure(t *testing.T) {
	ctx := context.Background()
	m := NewMemStore()
	m.FailIndexedQueries(true)

	var gotErr error
	m.Subscribe(ctx, Query{
		Collection: "chats",
		Wheres:     []Where{{Field: "participants", Op: OpArrayContains, Value: "a"}},
		OrderBy:    "lastUpdated",
		Descending: true,
	}, func([]Doc) {
		t.Fatal("onChange fired for a failed subscription")
	}, func(err error) {
		gotErr = err
	})

	if gotErr == nil {
		t.Fatal("expected an index error")
	}
	if !IsIndexMissing(gotErr) {
		t.Errorf("IsIndexMissing(%v) = false; want true", gotErr)
	}

	// The unfiltered scan still works.
	var snapshots int
	m.Subscribe(ctx, Query{Collection: "chats"}, func([]Doc) {
		snapshots++
	}, func(err error) {
		t.Fatalf("unfiltered subscription failed: %v", err)
	})
	if snapshots != 1 {
		t.Fatalf("expected 1 snapshot, got %d", snapshots)
	}
}

func TestMemStoreUpsertMerge(t *testing.T) {
	ctx := context.Background()
	m := NewMemStore()

	if err := m.Upsert(ctx, "chats/a_b", map[string]any{
		"lastMessage": "hello",
		"unreadCount": map[string]any{"a": int64(0), "b": int64(2)},
	}, false); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	// Merge must not erase sibling fields or sibling map entries.
	if err := m.Upsert(ctx, "chats/a_b", map[string]any{
		"unreadCount": map[string]any{"b": int64(0)},
	}, true); err != nil {
		t.Fatalf("merge Upsert failed: %v", err)
	}

	doc, ok, err := m.GetOnce(ctx, "chats/a_b")
	if err != nil || !ok {
		t.Fatalf("GetOnce = %v, %v; want doc", ok, err)
	}
	if doc.Fields["lastMessage"] != "hello" {
		t.Errorf("lastMessage = %v; want hello", doc.Fields["lastMessage"])
	}
	counts := doc.Fields["unreadCount"].(map[string]any)
	if counts["a"] != int64(0) || counts["b"] != int64(0) {
		t.Errorf("unreadCount = %v; want a=0 b=0", counts)
	}
}

func TestMemStoreFieldPathUpdate(t *testing.T) {
	ctx := context.Background()
	m := NewMemStore()

	if err := m.Update(ctx, "chats/nope", []FieldUpdate{{Path: "lastMessage", Value: "x"}}); err == nil {
		t.Fatal("Update on a missing document must fail")
	} else if !IsNotFound(err) {
		t.Errorf("IsNotFound(%v) = false; want true", err)
	}

	if err := m.Upsert(ctx, "chats/a_b", map[string]any{"lastMessage": "hi"}, false); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if err := m.Update(ctx, "chats/a_b", []FieldUpdate{{Path: "unreadCount.b", Value: int64(3)}}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	doc, _, _ := m.GetOnce(ctx, "chats/a_b")
	counts, _ := doc.Fields["unreadCount"].(map[string]any)
	if counts["b"] != int64(3) {
		t.Errorf("unreadCount.b = %v; want 3", counts["b"])
	}
}

func TestMemStoreServerTimestamp(t *testing.T) {
	ctx := context.Background()
	m := NewMemStore()
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	m.Now = func() time.Time { return now }

	id, err := m.Append(ctx, "chats/a_b/messages", map[string]any{
		"text":      "hi",
		"createdAt": ServerTimestamp,
	})
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	doc, ok, err := m.GetOnce(ctx, "chats/a_b/messages/"+id)
	if err != nil || !ok {
		t.Fatalf("GetOnce = %v, %v; want doc", ok, err)
	}
	if doc.Fields["createdAt"] != now {
		t.Errorf("createdAt = %v; want %v", doc.Fields["createdAt"], now)
	}
}

func assertIDs(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("ids = %v; want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ids = %v; want %v", got, want)
		}
	}
}
