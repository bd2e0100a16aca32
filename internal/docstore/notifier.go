package docstore

import (
	"context"
	"sync"
)

// Notifier fans committed changes out to subscribers of a path. Publish may
// deliver to local callbacks synchronously; callbacks must not block.
type Notifier interface {
	Publish(ctx context.Context, snap Snapshot) error
	Subscribe(ctx context.Context, path string, fn func(Snapshot)) (cancel func(), err error)
	Close() error
}

// LocalNotifier delivers changes within the process.
type LocalNotifier struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string]map[int]func(Snapshot)
}

func NewLocalNotifier() *LocalNotifier {
	return &LocalNotifier{subs: make(map[string]map[int]func(Snapshot))}
}

func (n *LocalNotifier) Publish(_ context.Context, snap Snapshot) error {
	n.mu.RLock()
	fns := make([]func(Snapshot), 0, len(n.subs[snap.Path]))
	for _, fn := range n.subs[snap.Path] {
		fns = append(fns, fn)
	}
	n.mu.RUnlock()

	for _, fn := range fns {
		fn(snap)
	}
	return nil
}

func (n *LocalNotifier) Subscribe(_ context.Context, path string, fn func(Snapshot)) (func(), error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.nextID++
	id := n.nextID
	if n.subs[path] == nil {
		n.subs[path] = make(map[int]func(Snapshot))
	}
	n.subs[path][id] = fn

	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.subs[path], id)
		if len(n.subs[path]) == 0 {
			delete(n.subs, path)
		}
	}, nil
}

func (n *LocalNotifier) Close() error {
	n.mu.Lock()
	n.subs = make(map[string]map[int]func(Snapshot))
	n.mu.Unlock()
	return nil
}
