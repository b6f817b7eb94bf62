// Package directory maintains the live chat list for one identity:
// every conversation the identity participates in, newest activity
// first, annotated with the other participant's display data and the
// identity's own unread count.
package directory

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/nabila-sheona/chat/contract"
	"github.com/nabila-sheona/chat/log"
	"github.com/nabila-sheona/chat/nav"
	"github.com/nabila-sheona/chat/profile"
	"github.com/nabila-sheona/chat/store"
)

// Entry is one row of the chat list.
type Entry struct {
	ID          string
	Name        string
	LastMessage string
	Timestamp   time.Time
	Unread      int64
	Avatar      string
}

// Synchronizer owns exactly one live chats subscription per identity.
// Every snapshot fully replaces the projection; the last good
// projection survives transient store errors.
type Synchronizer struct {
	store    store.Store
	profiles *profile.Service
	notifier nav.Notifier
	onUpdate func([]Entry)

	mu       sync.Mutex
	uid      string
	stop     func()
	entries  []Entry
	fellBack bool
}

func New(st store.Store, profiles *profile.Service, notifier nav.Notifier, onUpdate func([]Entry)) *Synchronizer {
	return &Synchronizer{
		store:    st,
		profiles: profiles,
		notifier: notifier,
		onUpdate: onUpdate,
	}
}

// Start subscribes to the chat list of uid, disposing any previous
// subscription first. An empty uid (signed out) only disposes.
func (s *Synchronizer) Start(ctx context.Context, uid string) {
	s.mu.Lock()
	if s.stop != nil {
		s.stop()
		s.stop = nil
	}
	s.uid = uid
	s.fellBack = false
	s.mu.Unlock()

	if uid == "" {
		return
	}

	s.subscribePrimary(ctx, uid)
}

// Stop disposes the live subscription, if any.
func (s *Synchronizer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		s.stop()
		s.stop = nil
	}
}

// Entries returns the current projection.
func (s *Synchronizer) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// subscribePrimary issues the indexed query: membership predicate
// plus server-side ordering. Needs a composite index on the store.
func (s *Synchronizer) subscribePrimary(ctx context.Context, uid string) {
	q := store.Query{
		Collection: contract.ChatsCollection,
		Wheres:     []store.Where{{Field: "participants", Op: store.OpArrayContains, Value: uid}},
		OrderBy:    "lastUpdated",
		Descending: true,
	}

	stop := s.store.Subscribe(ctx, q,
		func(docs []store.Doc) { s.apply(ctx, uid, docs, false) },
		func(err error) { s.handleError(ctx, uid, err) },
	)

	s.mu.Lock()
	// The index error can fire inside Subscribe itself, in which case
	// the fallback already owns the subscription slot.
	if !s.fellBack {
		s.stop = stop
	}
	s.mu.Unlock()
}

// subscribeFallback scans the whole chats collection and filters and
// sorts client-side. Same visible ordering as the primary query with
// no index dependency; every chat in the system crosses the wire, so
// this scales with total chats, not the identity's chats.
func (s *Synchronizer) subscribeFallback(ctx context.Context, uid string) {
	q := store.Query{Collection: contract.ChatsCollection}

	stop := s.store.Subscribe(ctx, q,
		func(docs []store.Doc) { s.apply(ctx, uid, docs, true) },
		func(err error) { s.handleError(ctx, uid, err) },
	)

	s.mu.Lock()
	s.stop = stop
	s.mu.Unlock()
}

func (s *Synchronizer) handleError(ctx context.Context, uid string, err error) {
	logger := log.LoggerFromContext(ctx)

	s.mu.Lock()
	if s.uid != uid {
		s.mu.Unlock()
		return // stale listener, a newer Start took over
	}
	firstFallback := store.IsIndexMissing(err) && !s.fellBack
	if firstFallback {
		s.fellBack = true
	}
	s.mu.Unlock()

	if firstFallback {
		logger.Warn("chats index missing, falling back to full scan",
			slog.String("errorMsg", err.Error()),
		)
		s.notifier.Notify("Index Required",
			"Chat list is using an unindexed query; ask an administrator to create the chats index.")
		s.subscribeFallback(ctx, uid)
		return
	}

	logger.Error("chats subscription failed", slog.String("errorMsg", err.Error()))
	s.notifier.Notify("Error", "Failed to load chats: "+err.Error())
}

// apply replaces the projection from a snapshot. In fallback mode the
// membership filter and ordering happen here instead of on the store.
func (s *Synchronizer) apply(ctx context.Context, uid string, docs []store.Doc, fallback bool) {
	if fallback {
		kept := docs[:0]
		for _, d := range docs {
			if participantIn(d, uid) {
				kept = append(kept, d)
			}
		}
		docs = kept
		sort.SliceStable(docs, func(i, j int) bool {
			return docTime(docs[i], "lastUpdated").After(docTime(docs[j], "lastUpdated"))
		})
	}

	entries := make([]Entry, 0, len(docs))
	for _, d := range docs {
		entries = append(entries, s.entryFromDoc(ctx, uid, d))
	}

	s.mu.Lock()
	if s.uid != uid {
		s.mu.Unlock()
		return
	}
	s.entries = entries
	s.mu.Unlock()

	if s.onUpdate != nil {
		s.onUpdate(entries)
	}
}

func (s *Synchronizer) entryFromDoc(ctx context.Context, uid string, d store.Doc) Entry {
	entry := Entry{
		ID:          d.ID,
		LastMessage: "No messages yet",
		Timestamp:   docTime(d, "lastUpdated"),
	}
	if msg, ok := d.Fields["lastMessage"].(string); ok && msg != "" {
		entry.LastMessage = msg
	}
	if counts, ok := d.Fields["unreadCount"].(map[string]any); ok {
		entry.Unread = toInt64(counts[uid])
	}

	other := contract.OtherParticipant(participants(d), uid)
	p := s.profiles.Resolve(ctx, other)
	entry.Name = p.DisplayName
	entry.Avatar = p.PhotoURL
	return entry
}

func participants(d store.Doc) []string {
	switch v := d.Fields["participants"].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func participantIn(d store.Doc, uid string) bool {
	for _, p := range participants(d) {
		if p == uid {
			return true
		}
	}
	return false
}

// docTime reads a timestamp field, treating a missing or mistyped
// value as the epoch so unsorted chats sink to the bottom.
func docTime(d store.Doc, field string) time.Time {
	t, _ := d.Fields[field].(time.Time)
	return t
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}
