// Package thread maintains the live message projection for one
// conversation and performs the send operation with its chat-document
// side effects.
package thread

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nabila-sheona/chat/contract"
	"github.com/nabila-sheona/chat/filter"
	"github.com/nabila-sheona/chat/log"
	"github.com/nabila-sheona/chat/profile"
	"github.com/nabila-sheona/chat/store"
)

// Message is one row of the thread projection, oldest first.
type Message struct {
	ID        string
	Text      string
	CreatedAt time.Time
	Sender    contract.Sender
}

// Sender identity snapshot stamped onto every outgoing message.
type SenderInfo struct {
	UID    string
	Name   string
	Avatar string
}

// Synchronizer owns one live message subscription per (chat, identity)
// pair. Observing a non-empty snapshot resets the identity's own
// unread counter: mark-as-read is tied to viewing the thread, not to
// individual messages.
type Synchronizer struct {
	store    store.Store
	profiles *profile.Service
	sender   SenderInfo
	onUpdate func([]Message)

	mu       sync.Mutex
	chatID   string
	stop     func()
	messages []Message
}

func New(st store.Store, profiles *profile.Service, sender SenderInfo, onUpdate func([]Message)) *Synchronizer {
	return &Synchronizer{
		store:    st,
		profiles: profiles,
		sender:   sender,
		onUpdate: onUpdate,
	}
}

// Start subscribes to the messages of chatID, disposing any previous
// subscription first.
func (s *Synchronizer) Start(ctx context.Context, chatID string) {
	s.mu.Lock()
	if s.stop != nil {
		s.stop()
		s.stop = nil
	}
	s.chatID = chatID
	s.mu.Unlock()

	if chatID == "" || s.sender.UID == "" {
		return
	}

	q := store.Query{
		Collection: contract.MessagesPath(chatID),
		OrderBy:    "createdAt",
		Descending: true,
	}
	stop := s.store.Subscribe(ctx, q,
		func(docs []store.Doc) { s.apply(ctx, chatID, docs) },
		func(err error) {
			log.LoggerFromContext(ctx).Error("messages subscription failed",
				slog.String("chatID", chatID),
				slog.String("errorMsg", err.Error()),
			)
		},
	)

	s.mu.Lock()
	s.stop = stop
	s.mu.Unlock()
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

// Messages returns the current projection, ascending by creation time.
func (s *Synchronizer) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Title resolves the conversation title: the other participant's
// display name, their email when no name is set, or a placeholder.
func (s *Synchronizer) Title(ctx context.Context, chatID string) string {
	doc, ok, err := s.store.GetOnce(ctx, contract.ChatPath(chatID))
	if err != nil || !ok {
		return "Unknown User"
	}
	other := contract.OtherParticipant(docParticipants(doc), s.sender.UID)
	if other == "" {
		return "Unknown User"
	}
	return s.profiles.Resolve(ctx, other).DisplayName
}

// apply replaces the projection from a snapshot. The store delivers
// newest first; the projection is kept oldest first for rendering.
func (s *Synchronizer) apply(ctx context.Context, chatID string, docs []store.Doc) {
	messages := make([]Message, 0, len(docs))
	for i := len(docs) - 1; i >= 0; i-- {
		d := docs[i]
		m := Message{ID: d.ID}
		m.Text, _ = d.Fields["text"].(string)
		m.CreatedAt, _ = d.Fields["createdAt"].(time.Time)
		if sender, ok := d.Fields["user"].(map[string]any); ok {
			m.Sender.ID, _ = sender["_id"].(string)
			m.Sender.Name, _ = sender["name"].(string)
			m.Sender.Avatar, _ = sender["avatar"].(string)
		}
		messages = append(messages, m)
	}

	s.mu.Lock()
	if s.chatID != chatID {
		s.mu.Unlock()
		return // stale snapshot from a superseded subscription
	}
	s.messages = messages
	s.mu.Unlock()

	if len(messages) > 0 {
		s.markRead(ctx, chatID)
	}

	if s.onUpdate != nil {
		s.onUpdate(messages)
	}
}

// markRead zeroes the viewer's own unread counter. Best effort: a
// failure is logged, never surfaced, and the next snapshot retries.
func (s *Synchronizer) markRead(ctx context.Context, chatID string) {
	err := s.store.Update(ctx, contract.ChatPath(chatID), []store.FieldUpdate{
		{Path: "unreadCount." + s.sender.UID, Value: int64(0)},
	})
	if err != nil {
		log.LoggerFromContext(ctx).Warn("failed to reset unread counter",
			slog.String("chatID", chatID),
			slog.String("errorMsg", err.Error()),
		)
	}
}

// Send appends a message to the active conversation on behalf of the
// synchronizer's sender.
func (s *Synchronizer) Send(ctx context.Context, text string) error {
	s.mu.Lock()
	chatID := s.chatID
	s.mu.Unlock()
	if chatID == "" {
		return fmt.Errorf("no active conversation")
	}
	_, err := SendMessage(ctx, s.store, chatID, s.sender, text)
	return err
}

// SendMessage appends a message and updates the parent chat document,
// returning the new message id. The three writes are independent, not
// a transaction: a concurrent send from the other side can race the
// counter read-modify-write and undercount by one. Partial effects of
// a failed send are not rolled back.
func SendMessage(ctx context.Context, st store.Store, chatID string, sender SenderInfo, text string) (string, error) {
	text = filter.Sanitize(text)
	if text == "" {
		return "", fmt.Errorf("empty message")
	}

	msgID, err := st.Append(ctx, contract.MessagesPath(chatID), map[string]any{
		"text":      text,
		"createdAt": store.ServerTimestamp,
		"user": map[string]any{
			"_id":    sender.UID,
			"name":   sender.Name,
			"avatar": sender.Avatar,
		},
	})
	if err != nil {
		return "", fmt.Errorf("appending message: %w", err)
	}

	err = st.Update(ctx, contract.ChatPath(chatID), []store.FieldUpdate{
		{Path: "lastMessage", Value: text},
		{Path: "lastUpdated", Value: store.ServerTimestamp},
		{Path: "lastMessageSender", Value: sender.UID},
	})
	if err != nil {
		return "", fmt.Errorf("updating chat metadata: %w", err)
	}

	if err := bumpRecipientCounter(ctx, st, chatID, sender.UID); err != nil {
		return "", err
	}
	return msgID, nil
}

// bumpRecipientCounter re-fetches the chat to find the other
// participant and increments their unread entry relative to its last
// known value.
func bumpRecipientCounter(ctx context.Context, st store.Store, chatID, senderUID string) error {
	doc, ok, err := st.GetOnce(ctx, contract.ChatPath(chatID))
	if err != nil {
		return fmt.Errorf("fetching chat: %w", err)
	}
	if !ok {
		return fmt.Errorf("chat %s not found", chatID)
	}

	other := contract.OtherParticipant(docParticipants(doc), senderUID)
	if other == "" {
		return nil // single-participant chat, nothing to bump
	}

	var current int64
	if counts, ok := doc.Fields["unreadCount"].(map[string]any); ok {
		current = toInt64(counts[other])
	}
	return st.Update(ctx, contract.ChatPath(chatID), []store.FieldUpdate{
		{Path: "unreadCount." + other, Value: current + 1},
	})
}

func docParticipants(d store.Doc) []string {
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
