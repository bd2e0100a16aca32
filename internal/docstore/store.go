// Package docstore is the shared document store the matchmaker, session
// registry and game engine transact against. Documents are JSON values
// addressed by "collection/id" paths. Every document carries a version that
// grows on each write and never resets, so subscribers can drop stale or
// duplicate notifications.
package docstore

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var (
	ErrNotFound       = errors.New("docstore: document not found")
	ErrTxConflict     = errors.New("docstore: transaction conflict")
	ErrReadAfterWrite = errors.New("docstore: transaction reads must precede writes")
)

// MaxTxAttempts bounds the automatic retry of a transaction that lost a
// version race.
const MaxTxAttempts = 5

// Snapshot is a document as of one version. A missing or deleted document
// has Exists == false.
type Snapshot struct {
	Path    string `json:"path"`
	Data    []byte `json:"data,omitempty"`
	Version int64  `json:"version"`
	Exists  bool   `json:"exists"`
	// Created orders documents of a collection; it is reset when a deleted
	// document is written again.
	Created int64 `json:"created,omitempty"`
}

// ID returns the last path segment.
func (s Snapshot) ID() string {
	if i := strings.LastIndex(s.Path, "/"); i >= 0 {
		return s.Path[i+1:]
	}
	return s.Path
}

// Decode unmarshals the document into v.
func (s Snapshot) Decode(v any) error {
	if !s.Exists {
		return errors.Wrap(ErrNotFound, s.Path)
	}
	return json.Unmarshal(s.Data, v)
}

// Collection returns the first path segment.
func Collection(path string) string {
	if i := strings.Index(path, "/"); i >= 0 {
		return path[:i]
	}
	return path
}

// Query selects documents of one collection in creation order.
type Query struct {
	Collection string
	Limit      int
	ExcludeIDs []string
}

func (q Query) excluded(id string) bool {
	for _, ex := range q.ExcludeIDs {
		if ex == id {
			return true
		}
	}
	return false
}

// Subscription is a handle on a live document feed.
type Subscription interface {
	Unsubscribe()
}

// Store is the contract consumers depend on.
type Store interface {
	Get(ctx context.Context, path string) (Snapshot, error)
	Set(ctx context.Context, path string, doc any) error
	Update(ctx context.Context, path string, fields map[string]any) error
	Delete(ctx context.Context, path string) error
	Query(ctx context.Context, q Query) ([]Snapshot, error)
	RunTransaction(ctx context.Context, fn func(ctx context.Context, tx *Tx) error) error
	Subscribe(ctx context.Context, path string, fn func(Snapshot)) (Subscription, error)
}

type WriteOp int

const (
	OpSet WriteOp = iota
	OpDelete
)

// Write is one staged mutation of a transaction.
type Write struct {
	Op   WriteOp
	Path string
	Data []byte
}

// Backend is what a storage engine implements. Commit must atomically check
// that every path in reads still has the given version, then apply writes,
// bumping each written path's version by one. It returns ErrTxConflict when
// a version check fails and the post-commit snapshots otherwise.
type Backend interface {
	Read(ctx context.Context, path string) (Snapshot, error)
	Commit(ctx context.Context, reads map[string]int64, writes []Write) ([]Snapshot, error)
	Query(ctx context.Context, q Query) ([]Snapshot, error)
	Close() error
}

// DocStore implements Store on top of a Backend and a Notifier.
type DocStore struct {
	backend  Backend
	notifier Notifier
	log      *zap.Logger
}

func New(backend Backend, notifier Notifier, log *zap.Logger) *DocStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &DocStore{backend: backend, notifier: notifier, log: log}
}

// NewMemory returns a process-local store.
func NewMemory(log *zap.Logger) *DocStore {
	return New(NewMemoryBackend(), NewLocalNotifier(), log)
}

func (s *DocStore) Close() error {
	nerr := s.notifier.Close()
	if err := s.backend.Close(); err != nil {
		return err
	}
	return nerr
}

func (s *DocStore) Get(ctx context.Context, path string) (Snapshot, error) {
	snap, err := s.backend.Read(ctx, path)
	if err != nil {
		return Snapshot{}, errors.Wrapf(err, "read %s", path)
	}
	if !snap.Exists {
		return snap, errors.Wrap(ErrNotFound, path)
	}
	return snap, nil
}

func (s *DocStore) Set(ctx context.Context, path string, doc any) error {
	return s.RunTransaction(ctx, func(ctx context.Context, tx *Tx) error {
		return tx.Set(path, doc)
	})
}

// Update merges dotted field paths into an existing document.
func (s *DocStore) Update(ctx context.Context, path string, fields map[string]any) error {
	return s.RunTransaction(ctx, func(ctx context.Context, tx *Tx) error {
		return tx.Update(path, fields)
	})
}

// Delete removes a document; deleting a missing document is a no-op.
func (s *DocStore) Delete(ctx context.Context, path string) error {
	return s.RunTransaction(ctx, func(ctx context.Context, tx *Tx) error {
		return tx.Delete(path)
	})
}

func (s *DocStore) Query(ctx context.Context, q Query) ([]Snapshot, error) {
	snaps, err := s.backend.Query(ctx, q)
	if err != nil {
		return nil, errors.Wrapf(err, "query %s", q.Collection)
	}
	return snaps, nil
}

// RunTransaction runs fn against a fresh Tx and commits its writes. When the
// commit loses a version race, fn runs again, up to MaxTxAttempts times.
// An error returned by fn aborts the transaction and is returned unchanged.
func (s *DocStore) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx *Tx) error) error {
	for attempt := 1; ; attempt++ {
		tx := newTx(ctx, s.backend)
		if err := fn(ctx, tx); err != nil {
			return err
		}
		if len(tx.writes) == 0 {
			return nil
		}

		changes, err := s.backend.Commit(ctx, tx.readVersions(), tx.writes)
		if errors.Is(err, ErrTxConflict) {
			if attempt >= MaxTxAttempts {
				return errors.Wrapf(ErrTxConflict, "gave up after %d attempts", attempt)
			}
			s.log.Debug("transaction conflict, retrying", zap.Int("attempt", attempt))
			if err := sleepCtx(ctx, time.Duration(attempt)*5*time.Millisecond); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return errors.Wrap(err, "commit")
		}

		s.publish(ctx, changes)
		return nil
	}
}

func (s *DocStore) publish(ctx context.Context, changes []Snapshot) {
	for _, snap := range changes {
		if err := s.notifier.Publish(ctx, snap); err != nil {
			s.log.Error("failed to publish change", zap.String("path", snap.Path), zap.Error(err))
		}
	}
}

// Subscribe delivers the current snapshot of path and then every newer
// version. Callbacks for one subscription run sequentially.
func (s *DocStore) Subscribe(ctx context.Context, path string, fn func(Snapshot)) (Subscription, error) {
	sub := newSubscriber(path, fn)
	cancel, err := s.notifier.Subscribe(ctx, path, sub.offer)
	if err != nil {
		sub.Unsubscribe()
		return nil, errors.Wrapf(err, "subscribe %s", path)
	}
	sub.setCancel(cancel)

	snap, err := s.backend.Read(ctx, path)
	if err != nil {
		sub.Unsubscribe()
		return nil, errors.Wrapf(err, "read %s", path)
	}
	sub.offer(snap)
	return sub, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
