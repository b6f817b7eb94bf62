// Package chat exposes the server-side send endpoint as a Google
// Cloud Function. Clients normally write through the Firestore SDK
// directly; the HTTP path exists for shells that cannot, and for
// server-to-server integrations.
package chat

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/nabila-sheona/chat/auth"
	"github.com/nabila-sheona/chat/contract"
	"github.com/nabila-sheona/chat/filter"
	"github.com/nabila-sheona/chat/log"
	"github.com/nabila-sheona/chat/store"
	"github.com/nabila-sheona/chat/thread"
)

const (
	errorMsgLogField = "errorMsg"
	userIDLogField   = "userID"
	chatIDLogField   = "chatID"
)

func init() {
	functions.HTTP("Send", Send)
}

// Send authenticates the caller, checks chat membership and performs
// the three-step send on their behalf.
func Send(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := log.LoggerFromContext(ctx)

	if r.Method != http.MethodPost {
		logger.Error("invalid method: " + r.Method)
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	token, err := auth.Authenticate(r)
	if err != nil {
		logger.Error("error while authenticating", slog.String(errorMsgLogField, err.Error()))
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	logger = logger.With(slog.String(userIDLogField, token.UID))

	data, err := io.ReadAll(r.Body)
	if err != nil {
		logger.Error("error while reading request body", slog.String(errorMsgLogField, err.Error()))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	var req SendRequest
	if err := json.Unmarshal(data, &req); err != nil {
		logger.Error("error while decoding request", slog.String(errorMsgLogField, err.Error()))
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	if req.ChatID == "" || req.Text == "" {
		logger.Error("missing chat_id or text")
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	logger = logger.With(slog.String(chatIDLogField, req.ChatID))
	ctx = log.WithLogger(ctx, logger)

	client, err := store.NewClient(ctx)
	if err != nil {
		logger.Error("error while creating store client", slog.String(errorMsgLogField, err.Error()))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	defer client.Close()

	chatDoc, ok, err := client.GetOnce(ctx, contract.ChatPath(req.ChatID))
	if err != nil {
		logger.Error("error while fetching chat", slog.String(errorMsgLogField, err.Error()))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if !ok || !isParticipant(chatDoc, token.UID) {
		logger.Error("caller is not a participant of the chat")
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	msgID, err := thread.SendMessage(ctx, client, req.ChatID, senderFromToken(token.UID, token.Claims), req.Text)
	if err != nil {
		logger.Error("error while sending message", slog.String(errorMsgLogField, err.Error()))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	logger.Info("message sent")
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(SendResponse{MessageID: msgID, HTML: renderedHTML(req)})
}

// renderedHTML renders the message as it was stored, for callers
// that asked for display-ready HTML.
func renderedHTML(req SendRequest) string {
	if !req.Render {
		return ""
	}
	return filter.RenderMarkdown(filter.Sanitize(req.Text))
}

func isParticipant(d store.Doc, uid string) bool {
	switch v := d.Fields["participants"].(type) {
	case []string:
		for _, p := range v {
			if p == uid {
				return true
			}
		}
	case []any:
		for _, p := range v {
			if p == uid {
				return true
			}
		}
	}
	return false
}

// senderFromToken builds the message sender snapshot from the ID
// token claims the Firebase SDK puts there.
func senderFromToken(uid string, claims map[string]any) thread.SenderInfo {
	s := thread.SenderInfo{UID: uid}
	if name, ok := claims["name"].(string); ok && name != "" {
		s.Name = name
	} else if email, ok := claims["email"].(string); ok {
		s.Name = email
	}
	if picture, ok := claims["picture"].(string); ok {
		s.Avatar = picture
	}
	return s
}
