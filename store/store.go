// Package store abstracts the document database behind the messaging
// client: collections of schemaless documents, equality / array-contains
// / range queries with single-field ordering, and live snapshot
// subscriptions. The production backend is Firestore; an in-memory
// backend backs the synchronizer tests.
package store

import (
	"context"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// serverTimestamp is a sentinel; backends replace it with their own
// notion of server time when writing.
type serverTimestamp struct{}

// ServerTimestamp marks a field to be written with the store's
// server-assigned time.
var ServerTimestamp = serverTimestamp{}

type Op string

const (
	OpEqual         Op = "=="
	OpArrayContains Op = "array-contains"
	OpGreaterEqual  Op = ">="
	OpLessEqual     Op = "<="
)

type Where struct {
	Field string
	Op    Op
	Value any
}

// Query describes a collection subscription: zero or more predicates
// plus at most one ordering field.
type Query struct {
	Collection string
	Wheres     []Where
	OrderBy    string
	Descending bool
}

// Doc is one document in a snapshot or point read.
type Doc struct {
	ID     string
	Fields map[string]any
}

// FieldUpdate sets a single field, addressed by a dotted path
// ("unreadCount.u1" updates one entry of a map field).
type FieldUpdate struct {
	Path  string
	Value any
}

// Store is the document store client consumed by the synchronizers.
//
// Subscribe registers a live listener for q. onChange receives the
// full result set on registration and again after every change, in
// the order the store emits them. onError receives terminal listener
// errors; after onError fires no further onChange calls are made. The
// returned stop func de-registers the listener and must be called
// when the owning view goes away or its key input changes.
type Store interface {
	Subscribe(ctx context.Context, q Query, onChange func([]Doc), onError func(error)) (stop func())
	GetOnce(ctx context.Context, path string) (Doc, bool, error)
	Upsert(ctx context.Context, path string, fields map[string]any, merge bool) error
	Update(ctx context.Context, path string, updates []FieldUpdate) error
	Append(ctx context.Context, collection string, fields map[string]any) (string, error)
}

// IsIndexMissing reports whether err is the store telling us the
// query needs a composite index that has not been created. The
// directory synchronizer recovers from this with a full-scan fallback.
func IsIndexMissing(err error) bool {
	return status.Code(err) == codes.FailedPrecondition
}

// IsNotFound reports whether err means the addressed document does
// not exist.
func IsNotFound(err error) bool {
	return status.Code(err) == codes.NotFound
}
