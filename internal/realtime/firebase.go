// README: Firebase RTDB Store adapter; the production backend shared with the
// passenger and admin clients.
package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/db"
	"google.golang.org/api/option"
)

// defaultPollInterval drives the watch loops. The Admin SDK exposes no
// streaming listener, so watches poll and emit only on change.
const defaultPollInterval = 2 * time.Second

type FirebaseStore struct {
	client       *db.Client
	pollInterval time.Duration
}

// NewFirebaseStore initialises the Admin SDK against the given RTDB instance.
// credentialsFile may be empty, in which case application-default credentials
// are used.
func NewFirebaseStore(ctx context.Context, projectID, databaseURL, credentialsFile string) (*FirebaseStore, error) {
	opts := []option.ClientOption{}
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID, DatabaseURL: databaseURL}, opts...)
	if err != nil {
		return nil, fmt.Errorf("firebase.NewApp: %w", err)
	}
	client, err := app.Database(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase app.Database: %w", err)
	}
	return &FirebaseStore{client: client, pollInterval: defaultPollInterval}, nil
}

func (s *FirebaseStore) Get(ctx context.Context, path string, v any) error {
	var raw json.RawMessage
	if err := s.client.NewRef(path).Get(ctx, &raw); err != nil {
		return fmt.Errorf("rtdb get %s: %w", path, err)
	}
	if isAbsent(raw) {
		return ErrNotFound
	}
	return json.Unmarshal(raw, v)
}

func (s *FirebaseStore) Set(ctx context.Context, path string, v any) error {
	if err := s.client.NewRef(path).Set(ctx, v); err != nil {
		return fmt.Errorf("rtdb set %s: %w", path, err)
	}
	return nil
}

func (s *FirebaseStore) Update(ctx context.Context, path string, fields map[string]any) error {
	if err := s.client.NewRef(path).Update(ctx, fields); err != nil {
		return fmt.Errorf("rtdb update %s: %w", path, err)
	}
	return nil
}

func (s *FirebaseStore) Delete(ctx context.Context, path string) error {
	if err := s.client.NewRef(path).Delete(ctx); err != nil {
		return fmt.Errorf("rtdb delete %s: %w", path, err)
	}
	return nil
}

func (s *FirebaseStore) Push(ctx context.Context, path string, v any) (string, error) {
	ref, err := s.client.NewRef(path).Push(ctx, v)
	if err != nil {
		return "", fmt.Errorf("rtdb push %s: %w", path, err)
	}
	return ref.Key, nil
}

func (s *FirebaseStore) Txn(ctx context.Context, path string, fn TxnFunc) error {
	err := s.client.NewRef(path).Transaction(ctx, func(node db.TransactionNode) (any, error) {
		var raw json.RawMessage
		if err := node.Unmarshal(&raw); err != nil {
			return nil, err
		}
		if isAbsent(raw) {
			raw = nil
		}
		return fn(raw)
	})
	if errors.Is(err, ErrTxnAborted) {
		return ErrTxnAborted
	}
	if err != nil {
		return fmt.Errorf("rtdb txn %s: %w", path, err)
	}
	return nil
}

func (s *FirebaseStore) Children(ctx context.Context, path, childKey string, equals any) (map[string]json.RawMessage, error) {
	var out map[string]json.RawMessage
	if childKey == "" {
		if err := s.client.NewRef(path).Get(ctx, &out); err != nil {
			return nil, fmt.Errorf("rtdb get %s: %w", path, err)
		}
		return out, nil
	}
	q := s.client.NewRef(path).OrderByChild(childKey).EqualTo(equals)
	if err := q.Get(ctx, &out); err != nil {
		return nil, fmt.Errorf("rtdb query %s by %s: %w", path, childKey, err)
	}
	return out, nil
}

func (s *FirebaseStore) Watch(ctx context.Context, path string) (<-chan Snapshot, error) {
	out := make(chan Snapshot, 1)
	go func() {
		defer close(out)
		var last json.RawMessage
		first := true
		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()
		for {
			var raw json.RawMessage
			if err := s.client.NewRef(path).Get(ctx, &raw); err == nil {
				if isAbsent(raw) {
					raw = nil
				}
				if first || !bytes.Equal(raw, last) {
					deliver(out, Snapshot{Path: path, Data: raw})
					last = raw
					first = false
				}
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return out, nil
}

func (s *FirebaseStore) WatchChildren(ctx context.Context, path, childKey string, equals any) (<-chan ChildSnapshot, error) {
	out := make(chan ChildSnapshot, 1)
	go func() {
		defer close(out)
		var last []byte
		first := true
		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()
		for {
			if children, err := s.Children(ctx, path, childKey, equals); err == nil {
				cur, _ := json.Marshal(children)
				if first || !bytes.Equal(cur, last) {
					deliver(out, ChildSnapshot{Path: path, Children: children})
					last = cur
					first = false
				}
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return out, nil
}

// isAbsent reports whether a raw RTDB read came back empty or null.
func isAbsent(raw json.RawMessage) bool {
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}
