package store

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// MemStore is an in-memory Store with synchronous listener dispatch.
// It backs the synchronizer tests: every mutation immediately
// re-evaluates all live subscriptions, and index-missing failures can
// be injected to exercise the directory fallback path.
type MemStore struct {
	mu      sync.Mutex
	colls   map[string]map[string]map[string]any
	subs    map[int]*memSub
	nextSub int
	nextDoc int

	// Now supplies timestamps for the ServerTimestamp sentinel.
	// Override before use for deterministic tests.
	Now func() time.Time

	failIndexed bool
}

type memSub struct {
	q        Query
	onChange func([]Doc)
	onError  func(error)
	stopped  bool
}

func NewMemStore() *MemStore {
	return &MemStore{
		colls: map[string]map[string]map[string]any{},
		subs:  map[int]*memSub{},
		Now:   time.Now,
	}
}

// FailIndexedQueries makes every subscription that combines a
// predicate with an ordering fail as if the composite index were
// missing.
func (m *MemStore) FailIndexedQueries(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failIndexed = fail
}

// EmitError delivers err to every live subscriber's error callback
// and tears the subscriptions down, simulating a terminal listener
// failure.
func (m *MemStore) EmitError(err error) {
	m.mu.Lock()
	subs := make([]*memSub, 0, len(m.subs))
	for id, s := range m.subs {
		subs = append(subs, s)
		delete(m.subs, id)
	}
	m.mu.Unlock()

	for _, s := range subs {
		if !s.stopped {
			s.onError(err)
		}
	}
}

func (m *MemStore) Subscribe(_ context.Context, q Query, onChange func([]Doc), onError func(error)) (stop func()) {
	m.mu.Lock()
	if m.failIndexed && len(q.Wheres) > 0 && q.OrderBy != "" {
		m.mu.Unlock()
		onError(status.Error(codes.FailedPrecondition, "The query requires an index."))
		return func() {}
	}

	sub := &memSub{q: q, onChange: onChange, onError: onError}
	id := m.nextSub
	m.nextSub++
	m.subs[id] = sub
	docs := m.evaluate(q)
	m.mu.Unlock()

	onChange(docs)

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		sub.stopped = true
		delete(m.subs, id)
	}
}

func (m *MemStore) GetOnce(_ context.Context, path string) (Doc, bool, error) {
	coll, id, err := splitDocPath(path)
	if err != nil {
		return Doc{}, false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	fields, ok := m.colls[coll][id]
	if !ok {
		return Doc{}, false, nil
	}
	return Doc{ID: id, Fields: copyFields(fields)}, true, nil
}

func (m *MemStore) Upsert(_ context.Context, path string, fields map[string]any, merge bool) error {
	coll, id, err := splitDocPath(path)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if m.colls[coll] == nil {
		m.colls[coll] = map[string]map[string]any{}
	}
	resolved := m.resolveSentinels(fields)
	existing, ok := m.colls[coll][id]
	if !ok || !merge {
		m.colls[coll][id] = resolved
	} else {
		mergeFields(existing, resolved)
	}
	m.dispatchLocked(coll)
	return nil
}

func (m *MemStore) Update(_ context.Context, path string, updates []FieldUpdate) error {
	coll, id, err := splitDocPath(path)
	if err != nil {
		return err
	}

	m.mu.Lock()
	fields, ok := m.colls[coll][id]
	if !ok {
		m.mu.Unlock()
		return status.Errorf(codes.NotFound, "no document %q", path)
	}
	for _, u := range updates {
		v := u.Value
		if _, isSentinel := v.(serverTimestamp); isSentinel {
			v = m.Now()
		}
		setFieldPath(fields, u.Path, v)
	}
	m.dispatchLocked(coll)
	return nil
}

func (m *MemStore) Append(_ context.Context, collection string, fields map[string]any) (string, error) {
	m.mu.Lock()
	if m.colls[collection] == nil {
		m.colls[collection] = map[string]map[string]any{}
	}
	m.nextDoc++
	id := fmt.Sprintf("doc-%04d", m.nextDoc)
	m.colls[collection][id] = m.resolveSentinels(fields)
	m.dispatchLocked(collection)
	return id, nil
}

// dispatchLocked re-evaluates the live subscriptions on the mutated
// collection and delivers the fresh snapshots. Called with the lock
// held; releases it.
func (m *MemStore) dispatchLocked(collection string) {
	type delivery struct {
		sub  *memSub
		docs []Doc
	}
	var pending []delivery
	for _, s := range m.subs {
		if s.q.Collection != collection {
			continue
		}
		pending = append(pending, delivery{sub: s, docs: m.evaluate(s.q)})
	}
	m.mu.Unlock()

	for _, d := range pending {
		if !d.sub.stopped {
			d.sub.onChange(d.docs)
		}
	}
}

func (m *MemStore) evaluate(q Query) []Doc {
	var out []Doc
	for id, fields := range m.colls[q.Collection] {
		if matches(fields, q.Wheres) {
			out = append(out, Doc{ID: id, Fields: copyFields(fields)})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if q.OrderBy != "" {
			c := compareValues(out[i].Fields[q.OrderBy], out[j].Fields[q.OrderBy])
			if c != 0 {
				if q.Descending {
					return c > 0
				}
				return c < 0
			}
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func matches(fields map[string]any, wheres []Where) bool {
	for _, w := range wheres {
		v := fields[w.Field]
		switch w.Op {
		case OpEqual:
			if !reflect.DeepEqual(v, w.Value) {
				return false
			}
		case OpArrayContains:
			if !arrayContains(v, w.Value) {
				return false
			}
		case OpGreaterEqual:
			if compareValues(v, w.Value) < 0 {
				return false
			}
		case OpLessEqual:
			if compareValues(v, w.Value) > 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func arrayContains(v, want any) bool {
	switch arr := v.(type) {
	case []string:
		for _, e := range arr {
			if e == want {
				return true
			}
		}
	case []any:
		for _, e := range arr {
			if reflect.DeepEqual(e, want) {
				return true
			}
		}
	}
	return false
}

// compareValues orders the scalar types that appear in chat
// documents. A missing value sorts first, so a chat without a
// lastUpdated timestamp behaves as if stamped at the epoch.
func compareValues(a, b any) int {
	at, aok := a.(time.Time)
	bt, bok := b.(time.Time)
	if aok || bok {
		if !aok {
			at = time.Time{}
		}
		if !bok {
			bt = time.Time{}
		}
		switch {
		case at.Before(bt):
			return -1
		case at.After(bt):
			return 1
		}
		return 0
	}

	as, _ := a.(string)
	bs, _ := b.(string)
	return strings.Compare(as, bs)
}

func (m *MemStore) resolveSentinels(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		switch tv := v.(type) {
		case serverTimestamp:
			out[k] = m.Now()
		case map[string]any:
			out[k] = m.resolveSentinels(tv)
		default:
			out[k] = v
		}
	}
	return out
}

func mergeFields(dst, src map[string]any) {
	for k, v := range src {
		if sv, ok := v.(map[string]any); ok {
			if dv, ok := dst[k].(map[string]any); ok {
				mergeFields(dv, sv)
				continue
			}
		}
		dst[k] = v
	}
}

func setFieldPath(fields map[string]any, path string, value any) {
	parts := strings.Split(path, ".")
	for _, p := range parts[:len(parts)-1] {
		next, ok := fields[p].(map[string]any)
		if !ok {
			next = map[string]any{}
			fields[p] = next
		}
		fields = next
	}
	fields[parts[len(parts)-1]] = value
}

func copyFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if mv, ok := v.(map[string]any); ok {
			out[k] = copyFields(mv)
			continue
		}
		out[k] = v
	}
	return out
}

func splitDocPath(path string) (collection, id string, err error) {
	i := strings.LastIndex(path, "/")
	if i <= 0 || i == len(path)-1 {
		return "", "", fmt.Errorf("invalid document path %q", path)
	}
	return path[:i], path[i+1:], nil
}
