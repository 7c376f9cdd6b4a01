// README: Key-path realtime store contract shared by all engine modules.
//
// The store is a multi-writer tree of JSON records addressed by slash-separated
// paths ("trips/t1", "drivers/d1"). Every adapter provides point reads and
// writes, a conditional read-modify-write transaction used to arbitrate the
// trip-acceptance race, child-equality queries, and watches that deliver the
// current value followed by every subsequent change until the context ends.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

var (
	// ErrNotFound reports a point read of an absent record.
	ErrNotFound = errors.New("realtime: not found")
	// ErrTxnAborted is returned from a TxnFunc to leave the record untouched.
	// Txn surfaces it unchanged so callers can distinguish "lost the race"
	// from a transport failure.
	ErrTxnAborted = errors.New("realtime: transaction aborted")
)

// TxnFunc receives the current raw value at a path (nil when absent) and
// returns the replacement value. Returning ErrTxnAborted cancels the write.
type TxnFunc func(current json.RawMessage) (any, error)

// Snapshot is one observation of a path. Data is nil when the record and all
// of its descendants are absent.
type Snapshot struct {
	Path string
	Data json.RawMessage
}

// ChildSnapshot is one observation of a filtered children query.
type ChildSnapshot struct {
	Path     string
	Children map[string]json.RawMessage
}

// Store is the engine's view of the shared realtime database. Calls may be
// slow and may fail; callers bound them with contexts.
type Store interface {
	// Get unmarshals the record at path into v, or returns ErrNotFound.
	Get(ctx context.Context, path string, v any) error
	// Set replaces the record at path.
	Set(ctx context.Context, path string, v any) error
	// Update merges the given fields into the object record at path.
	Update(ctx context.Context, path string, fields map[string]any) error
	// Delete removes the record at path. Deleting an absent record is a no-op.
	Delete(ctx context.Context, path string) error
	// Push stores v under a store-assigned child key of path and returns the key.
	Push(ctx context.Context, path string, v any) (string, error)
	// Txn runs fn against the current value and writes its result atomically
	// with respect to other writers. A nil result deletes the record.
	Txn(ctx context.Context, path string, fn TxnFunc) error
	// Children returns the direct children of path whose childKey field equals
	// the given value. A nil childKey filter ("" key) returns all children.
	Children(ctx context.Context, path, childKey string, equals any) (map[string]json.RawMessage, error)
	// Watch delivers the current snapshot of path, then a snapshot after every
	// change beneath it, until ctx is done. Intermediate states may be
	// coalesced; the latest state is always delivered.
	Watch(ctx context.Context, path string) (<-chan Snapshot, error)
	// WatchChildren is Watch over a filtered children query.
	WatchChildren(ctx context.Context, path, childKey string, equals any) (<-chan ChildSnapshot, error)
}

// Join builds a path from segments.
func Join(parts ...string) string {
	return strings.Join(parts, "/")
}

// matchesChild reports whether the raw child object has childKey equal to
// equals, compared through JSON so numeric and string forms normalize.
func matchesChild(raw json.RawMessage, childKey string, equals any) bool {
	if childKey == "" {
		return true
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return false
	}
	field, ok := obj[childKey]
	if !ok {
		return false
	}
	want, err := json.Marshal(equals)
	if err != nil {
		return false
	}
	var a, b any
	if json.Unmarshal(field, &a) != nil || json.Unmarshal(want, &b) != nil {
		return false
	}
	fa, _ := json.Marshal(a)
	fb, _ := json.Marshal(b)
	return string(fa) == string(fb)
}
