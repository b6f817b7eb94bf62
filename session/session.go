// Package session is the identity client: email/password signup and
// login against the Identity Toolkit REST API, an observable current
// session, and profile-document upkeep on every auth event.
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"

	"github.com/nabila-sheona/chat/log"
	"github.com/nabila-sheona/chat/profile"
)

const defaultEndpoint = "https://identitytoolkit.googleapis.com"

// Identity is the authenticated user as seen by the rest of the core.
type Identity struct {
	UID          string
	Email        string
	DisplayName  string
	PhotoURL     string
	IDToken      string
	RefreshToken string
}

// CredentialError is a non-fatal, user-facing auth failure: bad
// password, duplicate email, malformed email and friends.
type CredentialError struct {
	Code string
}

func (e *CredentialError) Error() string {
	return "credential error: " + e.Code
}

// Message maps the API error code to a form-level message.
func (e *CredentialError) Message() string {
	switch {
	case e.Code == "EMAIL_EXISTS":
		return "An account with this email already exists."
	case e.Code == "INVALID_EMAIL":
		return "That email address is not valid."
	case e.Code == "EMAIL_NOT_FOUND", e.Code == "INVALID_PASSWORD",
		strings.HasPrefix(e.Code, "INVALID_LOGIN_CREDENTIALS"):
		return "Wrong email or password."
	case strings.HasPrefix(e.Code, "WEAK_PASSWORD"):
		return "Password should be at least 6 characters."
	}
	return "Authentication failed."
}

// Service issues and observes sessions. Exactly one identity (or
// none) is current at a time; every change is fanned out to the
// registered observers.
type Service struct {
	apiKey   string
	endpoint string
	client   *http.Client
	profiles *profile.Service

	mu        sync.Mutex
	current   *Identity
	observers map[int]func(*Identity)
	nextObs   int
}

type Option func(*Service)

// WithEndpoint overrides the Identity Toolkit base URL (tests).
func WithEndpoint(endpoint string) Option {
	return func(s *Service) { s.endpoint = endpoint }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Service) { s.client = c }
}

// New builds a session service. The API key defaults to the
// FIREBASE_API_KEY environment variable. profiles may be nil, in
// which case no profile documents are written.
func New(apiKey string, profiles *profile.Service, opts ...Option) *Service {
	if apiKey == "" {
		apiKey = os.Getenv("FIREBASE_API_KEY")
	}
	s := &Service{
		apiKey:    apiKey,
		endpoint:  defaultEndpoint,
		client:    http.DefaultClient,
		profiles:  profiles,
		observers: map[int]func(*Identity){},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type authResponse struct {
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
	LocalID      string `json:"localId"`
	Email        string `json:"email"`
	DisplayName  string `json:"displayName"`
	PhotoURL     string `json:"photoUrl"`
}

type authError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// SignUp registers a new account and makes it the current session.
// An empty displayName defaults to the local part of the email, the
// same rule the mobile shell applies.
func (s *Service) SignUp(ctx context.Context, email, password, displayName string) (*Identity, error) {
	resp, err := s.call(ctx, "accounts:signUp", map[string]any{
		"email":             email,
		"password":          password,
		"returnSecureToken": true,
	})
	if err != nil {
		return nil, err
	}

	if displayName == "" {
		displayName = email
		if i := strings.Index(email, "@"); i > 0 {
			displayName = email[:i]
		}
	}

	id := &Identity{
		UID:          resp.LocalID,
		Email:        resp.Email,
		DisplayName:  displayName,
		IDToken:      resp.IDToken,
		RefreshToken: resp.RefreshToken,
	}
	s.ensureProfile(ctx, id)
	s.setCurrent(id)
	return id, nil
}

// Login signs in an existing account and makes it the current session.
func (s *Service) Login(ctx context.Context, email, password string) (*Identity, error) {
	resp, err := s.call(ctx, "accounts:signInWithPassword", map[string]any{
		"email":             email,
		"password":          password,
		"returnSecureToken": true,
	})
	if err != nil {
		return nil, err
	}

	displayName := resp.DisplayName
	if displayName == "" {
		displayName = email
		if i := strings.Index(email, "@"); i > 0 {
			displayName = email[:i]
		}
	}

	id := &Identity{
		UID:          resp.LocalID,
		Email:        resp.Email,
		DisplayName:  displayName,
		PhotoURL:     resp.PhotoURL,
		IDToken:      resp.IDToken,
		RefreshToken: resp.RefreshToken,
	}
	s.ensureProfile(ctx, id)
	s.setCurrent(id)
	return id, nil
}

// LoginWithGoogle exchanges a Google OAuth ID token for a session,
// the headless counterpart of the web popup flow. The caller obtains
// the Google token out of band (device flow, service tooling); this
// only performs the Identity Toolkit federated exchange. The profile
// document is ensured like on any other sign-in.
func (s *Service) LoginWithGoogle(ctx context.Context, googleIDToken string) (*Identity, error) {
	post := url.Values{
		"id_token":   {googleIDToken},
		"providerId": {"google.com"},
	}
	resp, err := s.call(ctx, "accounts:signInWithIdp", map[string]any{
		"postBody":            post.Encode(),
		"requestUri":          "http://localhost",
		"returnSecureToken":   true,
		"returnIdpCredential": true,
	})
	if err != nil {
		return nil, err
	}

	displayName := resp.DisplayName
	if displayName == "" {
		displayName = resp.Email
		if i := strings.Index(resp.Email, "@"); i > 0 {
			displayName = resp.Email[:i]
		}
	}

	id := &Identity{
		UID:          resp.LocalID,
		Email:        resp.Email,
		DisplayName:  displayName,
		PhotoURL:     resp.PhotoURL,
		IDToken:      resp.IDToken,
		RefreshToken: resp.RefreshToken,
	}
	s.ensureProfile(ctx, id)
	s.setCurrent(id)
	return id, nil
}

// Logout clears the current session.
func (s *Service) Logout() {
	s.setCurrent(nil)
}

// Current returns the current identity, or nil when signed out.
func (s *Service) Current() *Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// ObserveSession registers cb for session changes. cb fires
// immediately with the current state and again on every change, with
// nil meaning signed out. The returned func de-registers it.
func (s *Service) ObserveSession(cb func(*Identity)) (cancel func()) {
	s.mu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = cb
	current := s.current
	s.mu.Unlock()

	cb(current)

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.observers, id)
	}
}

func (s *Service) setCurrent(id *Identity) {
	s.mu.Lock()
	s.current = id
	obs := make([]func(*Identity), 0, len(s.observers))
	for _, cb := range s.observers {
		obs = append(obs, cb)
	}
	s.mu.Unlock()

	for _, cb := range obs {
		cb(id)
	}
}

// ensureProfile upserts the user document on every auth event.
// Profile upkeep is best effort; a store failure never fails the
// sign-in itself.
func (s *Service) ensureProfile(ctx context.Context, id *Identity) {
	if s.profiles == nil {
		return
	}
	err := s.profiles.Ensure(ctx, id.UID, profile.Profile{
		Email:       id.Email,
		DisplayName: id.DisplayName,
		PhotoURL:    id.PhotoURL,
	})
	if err != nil {
		log.LoggerFromContext(ctx).Warn("profile upsert failed",
			slog.String("uid", id.UID),
			slog.String("errorMsg", err.Error()),
		)
	}
}

func (s *Service) call(ctx context.Context, method string, payload map[string]any) (*authResponse, error) {
	url := fmt.Sprintf("%s/v1/%s?key=%s", s.endpoint, method, s.apiKey)
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr authError
		if err := json.Unmarshal(data, &apiErr); err == nil && apiErr.Error.Message != "" {
			return nil, &CredentialError{Code: apiErr.Error.Message}
		}
		return nil, fmt.Errorf("identity API returned status %d", resp.StatusCode)
	}

	var out authResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
