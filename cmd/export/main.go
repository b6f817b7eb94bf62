// export copies chats and messages from Firestore into Postgres for
// offline analytics. Rows are keyed by document id, so re-running the
// export is an upsert, not a duplication.
//
//	DB_SOURCE="user=chat dbname=chat sslmode=disable" go run ./cmd/export
package main

import (
	"context"
	"errors"
	"os"
	"time"

	"cloud.google.com/go/compute/metadata"
	"cloud.google.com/go/firestore"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/nabila-sheona/chat/contract"
	"github.com/nabila-sheona/chat/logger"
	"google.golang.org/api/iterator"
)

const dbDriver = "postgres"

var schema = `
CREATE TABLE IF NOT EXISTS chat (
	id TEXT PRIMARY KEY,
	participant_a TEXT NOT NULL,
	participant_b TEXT NOT NULL,
	last_message TEXT NOT NULL,
	last_message_sender TEXT NOT NULL,
	last_updated TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS message (
	id TEXT PRIMARY KEY,
	chat_id TEXT NOT NULL REFERENCES chat(id),
	sender_id TEXT NOT NULL,
	sender_name TEXT NOT NULL,
	text TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);`

type chatRow struct {
	ID                string    `db:"id"`
	ParticipantA      string    `db:"participant_a"`
	ParticipantB      string    `db:"participant_b"`
	LastMessage       string    `db:"last_message"`
	LastMessageSender string    `db:"last_message_sender"`
	LastUpdated       time.Time `db:"last_updated"`
}

type messageRow struct {
	ID         string    `db:"id"`
	ChatID     string    `db:"chat_id"`
	SenderID   string    `db:"sender_id"`
	SenderName string    `db:"sender_name"`
	Text       string    `db:"text"`
	CreatedAt  time.Time `db:"created_at"`
}

func main() {
	ctx := context.Background()
	log := logger.New(ctx, "export")

	projectID := os.Getenv("GOOGLE_CLOUD_PROJECT")
	if projectID == "" {
		var err error
		projectID, err = metadata.ProjectIDWithContext(ctx)
		if err != nil {
			log.Fatalf("failed to resolve project: %v", err)
		}
	}

	fs, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		log.Fatalf("failed to create firestore client: %v", err)
	}
	defer fs.Close()

	dbSource := os.Getenv("DB_SOURCE")
	if dbSource == "" {
		log.Fatal("DB_SOURCE is required")
	}
	db, err := sqlx.ConnectContext(ctx, dbDriver, dbSource)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer db.Close()
	db.MustExecContext(ctx, schema)

	chats, messages, err := export(ctx, fs, db)
	if err != nil {
		log.Fatalf("export failed: %v", err)
	}
	log.Printf("exported %d chats, %d messages", chats, messages)
}

func export(ctx context.Context, fs *firestore.Client, db *sqlx.DB) (chats, messages int, err error) {
	it := fs.Collection(contract.ChatsCollection).Documents(ctx)
	defer it.Stop()

	for {
		doc, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return chats, messages, err
		}

		var c contract.Chat
		if err := doc.DataTo(&c); err != nil {
			return chats, messages, err
		}
		if len(c.Participants) < 2 {
			continue // malformed document, skip
		}

		_, err = db.NamedExecContext(ctx, `
			INSERT INTO chat (id, participant_a, participant_b, last_message, last_message_sender, last_updated)
			VALUES (:id, :participant_a, :participant_b, :last_message, :last_message_sender, :last_updated)
			ON CONFLICT (id) DO UPDATE SET
				last_message = EXCLUDED.last_message,
				last_message_sender = EXCLUDED.last_message_sender,
				last_updated = EXCLUDED.last_updated`,
			chatRow{
				ID:                doc.Ref.ID,
				ParticipantA:      c.Participants[0],
				ParticipantB:      c.Participants[1],
				LastMessage:       c.LastMessage,
				LastMessageSender: c.LastMessageSender,
				LastUpdated:       c.LastUpdated,
			})
		if err != nil {
			return chats, messages, err
		}
		chats++

		n, err := exportMessages(ctx, fs, db, doc.Ref.ID)
		if err != nil {
			return chats, messages, err
		}
		messages += n
	}
	return chats, messages, nil
}

func exportMessages(ctx context.Context, fs *firestore.Client, db *sqlx.DB, chatID string) (int, error) {
	it := fs.Collection(contract.MessagesPath(chatID)).Documents(ctx)
	defer it.Stop()

	count := 0
	for {
		doc, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return count, err
		}

		var m contract.Message
		if err := doc.DataTo(&m); err != nil {
			return count, err
		}

		_, err = db.NamedExecContext(ctx, `
			INSERT INTO message (id, chat_id, sender_id, sender_name, text, created_at)
			VALUES (:id, :chat_id, :sender_id, :sender_name, :text, :created_at)
			ON CONFLICT (id) DO NOTHING`,
			messageRow{
				ID:         doc.Ref.ID,
				ChatID:     chatID,
				SenderID:   m.Sender.ID,
				SenderName: m.Sender.Name,
				Text:       m.Text,
				CreatedAt:  m.CreatedAt,
			})
		if err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}
