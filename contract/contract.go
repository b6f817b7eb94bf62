// Package contract holds the Firestore document shapes shared by the
// synchronizers, the send function and the export tool.
package contract

import (
	"sort"
	"strings"
	"time"
)

const (
	UsersCollection = "users"
	ChatsCollection = "chats"

	// MessagesCollection is the per-chat sub-collection name.
	MessagesCollection = "messages"
)

type UserProfile struct {
	Email       string    `firestore:"email"`
	DisplayName string    `firestore:"displayName"`
	PhotoURL    string    `firestore:"photoURL"`
	CreatedAt   time.Time `firestore:"createdAt"`
	UpdatedAt   time.Time `firestore:"updatedAt"`
}

type Chat struct {
	Participants      []string         `firestore:"participants"`
	LastMessage       string           `firestore:"lastMessage"`
	LastMessageSender string           `firestore:"lastMessageSender"`
	LastUpdated       time.Time        `firestore:"lastUpdated"`
	UnreadCount       map[string]int64 `firestore:"unreadCount"`
}

type Sender struct {
	ID     string `firestore:"_id"`
	Name   string `firestore:"name"`
	Avatar string `firestore:"avatar"`
}

type Message struct {
	Text      string    `firestore:"text"`
	CreatedAt time.Time `firestore:"createdAt"`
	Sender    Sender    `firestore:"user"`
}

// ChatID derives the chat document id from the two participant ids.
// Ids are sorted before joining, so the result is the same regardless
// of argument order and re-initiating a chat can never create a
// second document.
func ChatID(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return strings.Join(ids, "_")
}

// OtherParticipant returns the first participant id that differs from
// self, or "" when there is none.
func OtherParticipant(participants []string, self string) string {
	for _, p := range participants {
		if p != self {
			return p
		}
	}
	return ""
}

// ChatPath is the document path of a chat.
func ChatPath(chatID string) string {
	return ChatsCollection + "/" + chatID
}

// MessagesPath is the collection path of a chat's message sub-collection.
func MessagesPath(chatID string) string {
	return ChatsCollection + "/" + chatID + "/" + MessagesCollection
}

// UserPath is the document path of a user profile.
func UserPath(uid string) string {
	return UsersCollection + "/" + uid
}
