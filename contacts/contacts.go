// Package contacts maintains the live user list and starts
// conversations from it.
package contacts

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/nabila-sheona/chat/contract"
	"github.com/nabila-sheona/chat/log"
	"github.com/nabila-sheona/chat/profile"
	"github.com/nabila-sheona/chat/store"
)

type Contact struct {
	ID          string
	Email       string
	DisplayName string
	PhotoURL    string
}

// Synchronizer subscribes to the users collection ordered by email,
// excluding the current identity. One subscription per identity;
// Start disposes the previous one.
type Synchronizer struct {
	store    store.Store
	onUpdate func([]Contact)

	mu       sync.Mutex
	uid      string
	stop     func()
	contacts []Contact
}

func New(st store.Store, onUpdate func([]Contact)) *Synchronizer {
	return &Synchronizer{store: st, onUpdate: onUpdate}
}

func (s *Synchronizer) Start(ctx context.Context, uid string) {
	s.mu.Lock()
	if s.stop != nil {
		s.stop()
		s.stop = nil
	}
	s.uid = uid
	s.mu.Unlock()

	if uid == "" {
		return
	}

	q := store.Query{Collection: contract.UsersCollection, OrderBy: "email"}
	stop := s.store.Subscribe(ctx, q,
		func(docs []store.Doc) { s.apply(uid, docs) },
		func(err error) {
			log.LoggerFromContext(ctx).Error("users subscription failed",
				slog.String("errorMsg", err.Error()),
			)
		},
	)

	s.mu.Lock()
	s.stop = stop
	s.mu.Unlock()
}

func (s *Synchronizer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		s.stop()
		s.stop = nil
	}
}

func (s *Synchronizer) Contacts() []Contact {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Contact, len(s.contacts))
	copy(out, s.contacts)
	return out
}

// Filter returns the contacts whose name or email contains term,
// case-insensitively. An empty term returns everything.
func (s *Synchronizer) Filter(term string) []Contact {
	all := s.Contacts()
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return all
	}
	out := all[:0]
	for _, c := range all {
		if strings.Contains(strings.ToLower(c.Email), term) ||
			strings.Contains(strings.ToLower(c.DisplayName), term) {
			out = append(out, c)
		}
	}
	return out
}

func (s *Synchronizer) apply(uid string, docs []store.Doc) {
	contacts := make([]Contact, 0, len(docs))
	for _, d := range docs {
		if d.ID == uid {
			continue
		}
		c := Contact{ID: d.ID}
		c.Email, _ = d.Fields["email"].(string)
		c.DisplayName, _ = d.Fields["displayName"].(string)
		c.PhotoURL, _ = d.Fields["photoURL"].(string)
		if c.Email == "" {
			c.Email = "No email"
		}
		if c.DisplayName == "" {
			c.DisplayName = c.Email
		}
		if c.PhotoURL == "" {
			c.PhotoURL = profile.PlaceholderAvatar
		}
		contacts = append(contacts, c)
	}

	s.mu.Lock()
	if s.uid != uid {
		s.mu.Unlock()
		return
	}
	s.contacts = contacts
	s.mu.Unlock()

	if s.onUpdate != nil {
		s.onUpdate(contacts)
	}
}

// StartChat returns the deterministic chat id for the pair, creating
// the chat document on first contact. An existing chat is left
// untouched, so re-initiating never erases history or counters.
func StartChat(ctx context.Context, st store.Store, selfUID, otherUID string) (string, error) {
	if selfUID == "" || otherUID == "" {
		return "", fmt.Errorf("both participant ids are required")
	}

	chatID := contract.ChatID(selfUID, otherUID)
	path := contract.ChatPath(chatID)

	_, exists, err := st.GetOnce(ctx, path)
	if err != nil {
		return "", fmt.Errorf("checking chat: %w", err)
	}
	if exists {
		return chatID, nil
	}

	err = st.Upsert(ctx, path, map[string]any{
		"participants": []string{selfUID, otherUID},
		"lastMessage":  "",
		"lastUpdated":  store.ServerTimestamp,
		"unreadCount": map[string]any{
			selfUID:  int64(0),
			otherUID: int64(0),
		},
	}, true)
	if err != nil {
		return "", fmt.Errorf("creating chat: %w", err)
	}
	return chatID, nil
}
