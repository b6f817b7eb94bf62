// Package profile reads and upserts user profile documents. Profiles
// are owned by the identity flow; the synchronizers only read them to
// turn a participant id into a display name and avatar.
package profile

import (
	"context"
	"log/slog"

	"github.com/nabila-sheona/chat/contract"
	"github.com/nabila-sheona/chat/log"
	"github.com/nabila-sheona/chat/store"
)

// PlaceholderAvatar is used whenever a profile has no photo or the
// lookup fails entirely.
const PlaceholderAvatar = "https://place-hold.it/100x100"

// searchTerminator is the highest Unicode code point Firestore
// indexes; appending it to a prefix turns two range predicates into a
// prefix match.
const searchTerminator = "\uf8ff"

type Profile struct {
	ID          string
	Email       string
	DisplayName string
	PhotoURL    string
}

type Service struct {
	store store.Store
}

func New(st store.Store) *Service {
	return &Service{store: st}
}

// Ensure creates the profile document on first sight of the uid and
// merges the given data into it on every later call. CreatedAt is set
// only on creation; UpdatedAt on every write.
func (s *Service) Ensure(ctx context.Context, uid string, p Profile) error {
	path := contract.UserPath(uid)

	_, exists, err := s.store.GetOnce(ctx, path)
	if err != nil {
		return err
	}

	fields := map[string]any{
		"email":       p.Email,
		"displayName": p.DisplayName,
		"photoURL":    p.PhotoURL,
		"updatedAt":   store.ServerTimestamp,
	}
	if !exists {
		fields["createdAt"] = store.ServerTimestamp
	}
	return s.store.Upsert(ctx, path, fields, true)
}

// Get returns the profile for uid, or nil when no document exists.
func (s *Service) Get(ctx context.Context, uid string) (*Profile, error) {
	doc, ok, err := s.store.GetOnce(ctx, contract.UserPath(uid))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return docToProfile(doc), nil
}

// Search finds profiles whose email starts with term, using the
// range-predicate prefix trick so no extra index is needed.
func (s *Service) Search(ctx context.Context, term string) ([]Profile, error) {
	q := store.Query{
		Collection: contract.UsersCollection,
		Wheres: []store.Where{
			{Field: "email", Op: store.OpGreaterEqual, Value: term},
			{Field: "email", Op: store.OpLessEqual, Value: term + searchTerminator},
		},
	}

	resultCh := make(chan []store.Doc, 1)
	errCh := make(chan error, 1)
	stop := s.store.Subscribe(ctx, q, func(docs []store.Doc) {
		select {
		case resultCh <- docs:
		default:
		}
	}, func(err error) {
		select {
		case errCh <- err:
		default:
		}
	})
	defer stop()

	select {
	case docs := <-resultCh:
		out := make([]Profile, 0, len(docs))
		for _, d := range docs {
			out = append(out, *docToProfile(d))
		}
		return out, nil
	case err := <-errCh:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Resolve is the degrading lookup used by the chat directory: a
// failed or missing profile yields placeholder display data instead
// of an error.
func (s *Service) Resolve(ctx context.Context, uid string) Profile {
	p, err := s.Get(ctx, uid)
	if err != nil {
		log.LoggerFromContext(ctx).Warn("profile lookup failed",
			slog.String("uid", uid),
			slog.String("errorMsg", err.Error()),
		)
	}
	if p == nil {
		return Profile{ID: uid, DisplayName: "Unknown User", PhotoURL: PlaceholderAvatar}
	}
	out := *p
	if out.DisplayName == "" {
		if out.Email != "" {
			out.DisplayName = out.Email
		} else {
			out.DisplayName = "Unknown User"
		}
	}
	if out.PhotoURL == "" {
		out.PhotoURL = PlaceholderAvatar
	}
	return out
}

func docToProfile(d store.Doc) *Profile {
	p := &Profile{ID: d.ID}
	p.Email, _ = d.Fields["email"].(string)
	p.DisplayName, _ = d.Fields["displayName"].(string)
	p.PhotoURL, _ = d.Fields["photoURL"].(string)
	return p
}
