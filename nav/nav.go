// Package nav declares the navigation and user-notification
// collaborators the synchronizers talk to. The real screens live in
// the mobile shell; headless consumers plug in the slog-backed
// implementations below.
package nav

import (
	"context"
	"log/slog"

	"github.com/nabila-sheona/chat/log"
)

const (
	RouteLogin = "login"
	RouteChats = "chats"
	RouteChat  = "chat"
)

// Navigator is the router surface the core drives: push a route with
// parameters, or pop back.
type Navigator interface {
	NavigateTo(route string, params map[string]string)
	GoBack()
}

// Notifier surfaces a dismissible, user-visible message. No error in
// the core is fatal; everything user-facing funnels through here.
type Notifier interface {
	Notify(title, message string)
}

// RequireSession is the route guard: it redirects to the login route
// and reports false when no identity is present.
func RequireSession(uid string, n Navigator) bool {
	if uid == "" {
		n.NavigateTo(RouteLogin, nil)
		return false
	}
	return true
}

// LogNotifier writes notifications to the structured log. Used by the
// CLI and anywhere no UI is attached.
type LogNotifier struct {
	Ctx context.Context
}

func (l LogNotifier) Notify(title, message string) {
	log.LoggerFromContext(l.Ctx).Warn("user notification",
		slog.String("title", title),
		slog.String("message", message),
	)
}
