// README: In-memory Store adapter; canonical contract semantics and test backend.
package realtime

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore keeps the whole tree in process memory. It is the reference
// implementation of the Store contract and backs the package tests; sessions
// sharing one MemoryStore observe each other exactly like remote clients
// sharing one database.
type MemoryStore struct {
	mu       sync.Mutex
	data     map[string]json.RawMessage
	watchers []*memWatcher
}

type memWatcher struct {
	path     string
	children bool
	childKey string
	equals   any
	valueCh  chan Snapshot
	childCh  chan ChildSnapshot
	closed   bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]json.RawMessage)}
}

func (m *MemoryStore) Get(ctx context.Context, path string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	raw := m.materializeLocked(path)
	m.mu.Unlock()
	if raw == nil {
		return ErrNotFound
	}
	return json.Unmarshal(raw, v)
}

func (m *MemoryStore) Set(ctx context.Context, path string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[path] = raw
	m.notifyLocked(path)
	return nil
}

func (m *MemoryStore) Update(ctx context.Context, path string, fields map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj := map[string]json.RawMessage{}
	if cur, ok := m.data[path]; ok {
		if err := json.Unmarshal(cur, &obj); err != nil {
			return err
		}
	}
	for k, v := range fields {
		raw, err := json.Marshal(v)
		if err != nil {
			return err
		}
		obj[k] = raw
	}
	raw, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	m.data[path] = raw
	m.notifyLocked(path)
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, path)
	prefix := path + "/"
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			delete(m.data, k)
		}
	}
	m.notifyLocked(path)
	return nil
}

func (m *MemoryStore) Push(ctx context.Context, path string, v any) (string, error) {
	key := uuid.NewString()
	if err := m.Set(ctx, Join(path, key), v); err != nil {
		return "", err
	}
	return key, nil
}

func (m *MemoryStore) Txn(ctx context.Context, path string, fn TxnFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	next, err := fn(m.materializeLocked(path))
	if err != nil {
		return err
	}
	if next == nil {
		delete(m.data, path)
	} else {
		raw, err := json.Marshal(next)
		if err != nil {
			return err
		}
		m.data[path] = raw
	}
	m.notifyLocked(path)
	return nil
}

func (m *MemoryStore) Children(ctx context.Context, path, childKey string, equals any) (map[string]json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.filteredChildrenLocked(path, childKey, equals), nil
}

func (m *MemoryStore) Watch(ctx context.Context, path string) (<-chan Snapshot, error) {
	w := &memWatcher{path: path, valueCh: make(chan Snapshot, 1)}
	m.mu.Lock()
	m.watchers = append(m.watchers, w)
	w.valueCh <- Snapshot{Path: path, Data: m.materializeLocked(path)}
	m.mu.Unlock()
	go m.reap(ctx, w)
	return w.valueCh, nil
}

func (m *MemoryStore) WatchChildren(ctx context.Context, path, childKey string, equals any) (<-chan ChildSnapshot, error) {
	w := &memWatcher{path: path, children: true, childKey: childKey, equals: equals, childCh: make(chan ChildSnapshot, 1)}
	m.mu.Lock()
	m.watchers = append(m.watchers, w)
	w.childCh <- ChildSnapshot{Path: path, Children: m.filteredChildrenLocked(path, childKey, equals)}
	m.mu.Unlock()
	go m.reap(ctx, w)
	return w.childCh, nil
}

// reap unregisters the watcher when its context ends.
func (m *MemoryStore) reap(ctx context.Context, w *memWatcher) {
	<-ctx.Done()
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, cur := range m.watchers {
		if cur == w {
			m.watchers = append(m.watchers[:i], m.watchers[i+1:]...)
			break
		}
	}
	w.closed = true
	if w.children {
		close(w.childCh)
	} else {
		close(w.valueCh)
	}
}

// notifyLocked fans a mutation at path out to every watcher whose subtree
// overlaps it. Delivery is latest-wins: a full snapshot replaces any unread
// one, so slow consumers see coalesced state, never stale state.
func (m *MemoryStore) notifyLocked(path string) {
	for _, w := range m.watchers {
		if w.closed || !overlaps(w.path, path) {
			continue
		}
		if w.children {
			deliver(w.childCh, ChildSnapshot{Path: w.path, Children: m.filteredChildrenLocked(w.path, w.childKey, w.equals)})
			continue
		}
		deliver(w.valueCh, Snapshot{Path: w.path, Data: m.materializeLocked(w.path)})
	}
}

func overlaps(a, b string) bool {
	return a == b || strings.HasPrefix(b, a+"/") || strings.HasPrefix(a, b+"/")
}

// materializeLocked renders the subtree rooted at path as one JSON value.
func (m *MemoryStore) materializeLocked(path string) json.RawMessage {
	if raw, ok := m.data[path]; ok {
		return raw
	}
	children := m.childrenLocked(path)
	if len(children) == 0 {
		return nil
	}
	raw, err := json.Marshal(children)
	if err != nil {
		return nil
	}
	return raw
}

func (m *MemoryStore) childrenLocked(path string) map[string]json.RawMessage {
	prefix := path + "/"
	segs := map[string]bool{}
	for k := range m.data {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		rest := k[len(prefix):]
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			rest = rest[:i]
		}
		segs[rest] = true
	}
	out := make(map[string]json.RawMessage, len(segs))
	for seg := range segs {
		if raw := m.materializeLocked(prefix + seg); raw != nil {
			out[seg] = raw
		}
	}
	return out
}

func (m *MemoryStore) filteredChildrenLocked(path, childKey string, equals any) map[string]json.RawMessage {
	all := m.childrenLocked(path)
	if childKey == "" {
		return all
	}
	out := make(map[string]json.RawMessage, len(all))
	for k, raw := range all {
		if matchesChild(raw, childKey, equals) {
			out[k] = raw
		}
	}
	return out
}
