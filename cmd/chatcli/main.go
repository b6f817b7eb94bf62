// chatcli is a headless chat client for development: sign in, print
// the live chat list, optionally tail one conversation and send lines
// read from stdin.
//
//	FIREBASE_API_KEY=*** GOOGLE_CLOUD_PROJECT=*** \
//	  go run ./cmd/chatcli -email you@example.com -password *** -peer <uid>
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/nabila-sheona/chat/contacts"
	"github.com/nabila-sheona/chat/directory"
	chatlog "github.com/nabila-sheona/chat/log"
	"github.com/nabila-sheona/chat/nav"
	"github.com/nabila-sheona/chat/profile"
	"github.com/nabila-sheona/chat/session"
	"github.com/nabila-sheona/chat/store"
	"github.com/nabila-sheona/chat/thread"
)

// exitNavigator is the headless router: a redirect to the login
// route means the session is gone, so the process ends.
type exitNavigator struct{}

func (exitNavigator) NavigateTo(route string, _ map[string]string) {
	fmt.Fprintf(os.Stderr, "redirected to %s: no active session\n", route)
	os.Exit(1)
}

func (exitNavigator) GoBack() {}

func main() {
	email := flag.String("email", "", "account email")
	password := flag.String("password", "", "account password")
	peer := flag.String("peer", "", "uid to open a conversation with (optional)")
	signup := flag.Bool("signup", false, "create the account instead of logging in")
	flag.Parse()

	logger := slog.New(chatlog.NewCloudLoggingHandler())
	ctx := chatlog.WithLogger(context.Background(), logger)

	if *email == "" || *password == "" {
		fmt.Fprintln(os.Stderr, "both -email and -password are required")
		os.Exit(2)
	}

	client, err := store.NewClient(ctx)
	if err != nil {
		logger.Error("failed to create store client", slog.String("errorMsg", err.Error()))
		os.Exit(1)
	}
	defer client.Close()

	profiles := profile.New(client)
	sessions := session.New("", profiles)

	var id *session.Identity
	if *signup {
		id, err = sessions.SignUp(ctx, *email, *password, "")
	} else {
		id, err = sessions.Login(ctx, *email, *password)
	}
	if err != nil {
		if credErr, ok := err.(*session.CredentialError); ok {
			fmt.Fprintln(os.Stderr, credErr.Message())
			os.Exit(1)
		}
		logger.Error("sign-in failed", slog.String("errorMsg", err.Error()))
		os.Exit(1)
	}
	fmt.Printf("signed in as %s (%s)\n", id.DisplayName, id.UID)

	if !nav.RequireSession(id.UID, exitNavigator{}) {
		return
	}

	notifier := nav.LogNotifier{Ctx: ctx}
	dir := directory.New(client, profiles, notifier, func(entries []directory.Entry) {
		fmt.Println("-- chats --")
		for _, e := range entries {
			marker := " "
			if e.Unread > 0 {
				marker = fmt.Sprintf("(%d)", e.Unread)
			}
			fmt.Printf("%s %s: %s %s\n", e.Timestamp.Format("15:04"), e.Name, e.LastMessage, marker)
		}
	})
	dir.Start(ctx, id.UID)
	defer dir.Stop()

	if *peer == "" {
		// No conversation requested; just tail the directory.
		select {}
	}

	chatID, err := contacts.StartChat(ctx, client, id.UID, *peer)
	if err != nil {
		logger.Error("failed to start chat", slog.String("errorMsg", err.Error()))
		os.Exit(1)
	}

	conv := thread.New(client, profiles, thread.SenderInfo{
		UID:    id.UID,
		Name:   id.DisplayName,
		Avatar: id.PhotoURL,
	}, func(msgs []thread.Message) {
		for _, m := range msgs {
			fmt.Printf("[%s] %s: %s\n", m.CreatedAt.Format("15:04:05"), m.Sender.Name, m.Text)
		}
	})
	conv.Start(ctx, chatID)
	defer conv.Stop()

	fmt.Printf("talking to %s, type a message and press enter\n", conv.Title(ctx, chatID))

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		text := scanner.Text()
		if text == "" {
			continue
		}
		if err := conv.Send(ctx, text); err != nil {
			fmt.Fprintf(os.Stderr, "send failed: %v\n", err)
		}
	}

	sessions.Logout()
}
