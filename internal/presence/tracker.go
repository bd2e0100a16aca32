// Package presence maps realtime connection liveness to the status/<uid>
// documents.
package presence

import (
	"context"
	"sync"
	"time"

	"campusconnect/backend/internal/docstore"
	"campusconnect/backend/internal/models"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Channel is a realtime connection. Hooks registered with OnDisconnect run
// once when the transport notices the connection is gone, graceful or not.
type Channel interface {
	OnDisconnect(fn func())
}

// Tracker keeps status documents in line with live connections. A user with
// several connections stays online until the last one drops.
type Tracker struct {
	store docstore.Store
	log   *zap.Logger
	now   func() time.Time

	mu   sync.Mutex
	seq  uint64
	live map[string]map[uint64]struct{}
}

func NewTracker(store docstore.Store, log *zap.Logger) *Tracker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Tracker{store: store, log: log, now: time.Now, live: make(map[string]map[uint64]struct{})}
}

func (t *Tracker) presence(state models.PresenceState) models.Presence {
	return models.Presence{State: state, LastChanged: t.now().UTC()}
}

func (t *Tracker) set(ctx context.Context, userID string, state models.PresenceState) error {
	err := t.store.Set(ctx, models.StatusPath(userID), t.presence(state))
	return errors.Wrapf(err, "set %s %s", userID, state)
}

// Connect marks the user online and arranges for them to be marked offline
// when ch disconnects.
func (t *Tracker) Connect(ctx context.Context, ch Channel, userID string) error {
	id := t.acquire(userID)

	if err := t.set(ctx, userID, models.PresenceOnline); err != nil {
		t.release(userID, id)
		return err
	}

	var once sync.Once
	ch.OnDisconnect(func() {
		once.Do(func() {
			if !t.release(userID, id) {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := t.markOffline(ctx, userID); err != nil {
				t.log.Error("failed to mark user offline", zap.String("user_id", userID), zap.Error(err))
			}
		})
	})
	return nil
}

func (t *Tracker) acquire(userID string) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seq++
	conns := t.live[userID]
	if conns == nil {
		conns = make(map[uint64]struct{})
		t.live[userID] = conns
	}
	conns[t.seq] = struct{}{}
	return t.seq
}

// release drops connection id and reports whether it was the user's last.
// Ids cleared by Disconnect are ignored.
func (t *Tracker) release(userID string, id uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	conns, ok := t.live[userID]
	if !ok {
		return false
	}
	if _, ok := conns[id]; !ok {
		return false
	}
	delete(conns, id)
	if len(conns) > 0 {
		return false
	}
	delete(t.live, userID)
	return true
}

func (t *Tracker) idle(userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.live[userID]) == 0
}

// markOffline writes offline only while the user has no live connection.
// Reading the status document first makes a concurrent online write from
// Connect fail this commit, and the retry then sees the new connection.
func (t *Tracker) markOffline(ctx context.Context, userID string) error {
	path := models.StatusPath(userID)
	err := t.store.RunTransaction(ctx, func(ctx context.Context, tx *docstore.Tx) error {
		if _, err := tx.Get(path); err != nil && !errors.Is(err, docstore.ErrNotFound) {
			return err
		}
		if !t.idle(userID) {
			return nil
		}
		return tx.Set(path, t.presence(models.PresenceOffline))
	})
	return errors.Wrapf(err, "mark %s offline", userID)
}

// Disconnect marks the user offline right away, regardless of open
// connections. Hooks of connections opened before the call become no-ops.
func (t *Tracker) Disconnect(ctx context.Context, userID string) error {
	t.mu.Lock()
	delete(t.live, userID)
	t.mu.Unlock()
	return t.set(ctx, userID, models.PresenceOffline)
}

// Status reads the user's presence; users never seen are offline.
func (t *Tracker) Status(ctx context.Context, userID string) (models.Presence, error) {
	snap, err := t.store.Get(ctx, models.StatusPath(userID))
	if errors.Is(err, docstore.ErrNotFound) {
		return models.Presence{State: models.PresenceOffline}, nil
	}
	if err != nil {
		return models.Presence{}, err
	}
	var p models.Presence
	if err := snap.Decode(&p); err != nil {
		return models.Presence{}, err
	}
	return p, nil
}
