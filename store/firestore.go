package store

import (
	"context"
	"os"

	"cloud.google.com/go/compute/metadata"
	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"github.com/nabila-sheona/chat/log"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// Client implements Store on top of Firestore.
type Client struct {
	fs *firestore.Client
}

// NewClient connects to Firestore. The project id is taken from
// GOOGLE_CLOUD_PROJECT, falling back to the GCE metadata server when
// running inside GCP.
func NewClient(ctx context.Context, opts ...option.ClientOption) (*Client, error) {
	projectID := os.Getenv("GOOGLE_CLOUD_PROJECT")
	if projectID == "" {
		var err error
		projectID, err = metadata.ProjectIDWithContext(ctx)
		if err != nil {
			return nil, err
		}
	}

	fs, err := firestore.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{fs: fs}, nil
}

func (c *Client) Close() error {
	return c.fs.Close()
}

func (c *Client) buildQuery(q Query) firestore.Query {
	fq := c.fs.Collection(q.Collection).Query
	for _, w := range q.Wheres {
		fq = fq.Where(w.Field, string(w.Op), w.Value)
	}
	if q.OrderBy != "" {
		dir := firestore.Asc
		if q.Descending {
			dir = firestore.Desc
		}
		fq = fq.OrderBy(q.OrderBy, dir)
	}
	return fq
}

func (c *Client) Subscribe(ctx context.Context, q Query, onChange func([]Doc), onError func(error)) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	snaps := c.buildQuery(q).Snapshots(ctx)

	go func() {
		defer snaps.Stop()
		logger := log.LoggerFromContext(ctx)
		for {
			snap, err := snaps.Next()
			if err != nil {
				if ctx.Err() != nil {
					return // listener was stopped, not an error
				}
				onError(err)
				return
			}

			var docs []Doc
			iter := snap.Documents
			for {
				d, err := iter.Next()
				if err == iterator.Done {
					break
				}
				if err != nil {
					onError(err)
					return
				}
				docs = append(docs, Doc{ID: d.Ref.ID, Fields: d.Data()})
			}
			logger.Debug("snapshot delivered")
			onChange(docs)
		}
	}()

	return cancel
}

func (c *Client) GetOnce(ctx context.Context, path string) (Doc, bool, error) {
	snap, err := c.fs.Doc(path).Get(ctx)
	if err != nil {
		if IsNotFound(err) {
			return Doc{}, false, nil
		}
		return Doc{}, false, err
	}
	if !snap.Exists() {
		return Doc{}, false, nil
	}
	return Doc{ID: snap.Ref.ID, Fields: snap.Data()}, true, nil
}

func (c *Client) Upsert(ctx context.Context, path string, fields map[string]any, merge bool) error {
	var opts []firestore.SetOption
	if merge {
		opts = append(opts, firestore.MergeAll)
	}
	_, err := c.fs.Doc(path).Set(ctx, translateSentinels(fields), opts...)
	return err
}

func (c *Client) Update(ctx context.Context, path string, updates []FieldUpdate) error {
	fsUpdates := make([]firestore.Update, 0, len(updates))
	for _, u := range updates {
		v := u.Value
		if _, ok := v.(serverTimestamp); ok {
			v = firestore.ServerTimestamp
		}
		fsUpdates = append(fsUpdates, firestore.Update{Path: u.Path, Value: v})
	}
	_, err := c.fs.Doc(path).Update(ctx, fsUpdates)
	return err
}

func (c *Client) Append(ctx context.Context, collection string, fields map[string]any) (string, error) {
	id := uuid.NewString()
	_, err := c.fs.Collection(collection).Doc(id).Create(ctx, translateSentinels(fields))
	if err != nil {
		return "", err
	}
	return id, nil
}

// translateSentinels swaps the backend-neutral ServerTimestamp marker
// for the Firestore one. Nested maps are handled because the unread
// counter lives inside a map field.
func translateSentinels(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		switch tv := v.(type) {
		case serverTimestamp:
			out[k] = firestore.ServerTimestamp
		case map[string]any:
			out[k] = translateSentinels(tv)
		default:
			out[k] = v
		}
	}
	return out
}
