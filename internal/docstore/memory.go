package docstore

import (
	"context"
	"sort"
	"strings"
	"sync"
)

type memRecord struct {
	data    []byte
	version int64
	exists  bool
	created int64
}

// MemoryBackend keeps documents in a map guarded by one mutex. Deleted
// documents stay behind as tombstones so their version keeps growing.
type MemoryBackend struct {
	mu   sync.Mutex
	docs map[string]*memRecord
	seq  int64
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{docs: make(map[string]*memRecord)}
}

func (b *MemoryBackend) Read(_ context.Context, path string) (Snapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshot(path), nil
}

func (b *MemoryBackend) snapshot(path string) Snapshot {
	rec, ok := b.docs[path]
	if !ok {
		return Snapshot{Path: path}
	}
	snap := Snapshot{Path: path, Version: rec.version, Exists: rec.exists, Created: rec.created}
	if rec.exists {
		snap.Data = append([]byte(nil), rec.data...)
	}
	return snap
}

func (b *MemoryBackend) Commit(_ context.Context, reads map[string]int64, writes []Write) ([]Snapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for path, want := range reads {
		var have int64
		if rec, ok := b.docs[path]; ok {
			have = rec.version
		}
		if have != want {
			return nil, ErrTxConflict
		}
	}

	out := make([]Snapshot, 0, len(writes))
	for _, w := range writes {
		rec, ok := b.docs[w.Path]
		if !ok {
			rec = &memRecord{}
			b.docs[w.Path] = rec
		}
		rec.version++
		switch w.Op {
		case OpSet:
			if !rec.exists {
				b.seq++
				rec.created = b.seq
			}
			rec.exists = true
			rec.data = append([]byte(nil), w.Data...)
		case OpDelete:
			rec.exists = false
			rec.data = nil
			rec.created = 0
		}
		out = append(out, b.snapshot(w.Path))
	}
	return out, nil
}

func (b *MemoryBackend) Query(_ context.Context, q Query) ([]Snapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	prefix := q.Collection + "/"
	var out []Snapshot
	for path, rec := range b.docs {
		if !rec.exists || !strings.HasPrefix(path, prefix) {
			continue
		}
		snap := b.snapshot(path)
		if q.excluded(snap.ID()) {
			continue
		}
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Created < out[j].Created })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (b *MemoryBackend) Close() error { return nil }
