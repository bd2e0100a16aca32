package matchmaker

import (
	"context"
	"time"

	"campusconnect/backend/internal/docstore"
	"campusconnect/backend/internal/models"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Sweeper removes waiting entries nobody will consume: pending entries older
// than WaitingTTL (the user went away) and matched entries whose owner never
// picked the match up within MatchedTTL.
type Sweeper struct {
	store      docstore.Store
	log        *zap.Logger
	WaitingTTL time.Duration
	MatchedTTL time.Duration

	now  func() time.Time
	cron *cron.Cron
}

func NewSweeper(store docstore.Store, log *zap.Logger, waitingTTL, matchedTTL time.Duration) *Sweeper {
	if log == nil {
		log = zap.NewNop()
	}
	return &Sweeper{
		store:      store,
		log:        log,
		WaitingTTL: waitingTTL,
		MatchedTTL: matchedTTL,
		now:        time.Now,
	}
}

func (s *Sweeper) expired(e models.WaitingEntry, now time.Time) bool {
	if e.Matched() {
		at := e.MatchedAt
		if at.IsZero() {
			at = e.EnqueuedAt
		}
		return now.Sub(at) > s.MatchedTTL
	}
	return now.Sub(e.EnqueuedAt) > s.WaitingTTL
}

// Sweep runs one pass and returns how many entries were deleted.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	snaps, err := s.store.Query(ctx, docstore.Query{Collection: models.CollectionWaiting})
	if err != nil {
		return 0, err
	}

	now := s.now()
	removed := 0
	for _, snap := range snaps {
		var entry models.WaitingEntry
		if err := snap.Decode(&entry); err != nil {
			s.log.Warn("skipping malformed waiting entry", zap.String("path", snap.Path), zap.Error(err))
			continue
		}
		if !s.expired(entry, now) {
			continue
		}

		// Only delete the version that was judged stale.
		deleted := false
		err := s.store.RunTransaction(ctx, func(ctx context.Context, tx *docstore.Tx) error {
			deleted = false
			cur, err := tx.Get(snap.Path)
			if errors.Is(err, docstore.ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			if cur.Version != snap.Version {
				return nil
			}
			deleted = true
			return tx.Delete(snap.Path)
		})
		if err != nil {
			return removed, errors.Wrapf(err, "delete %s", snap.Path)
		}
		if deleted {
			removed++
			s.log.Info("swept waiting entry",
				zap.String("user_id", entry.UserID),
				zap.Bool("matched", entry.Matched()),
				zap.String("chat_id", entry.MatchedChatID))
		}
	}
	return removed, nil
}

// Start schedules Sweep on a cron spec such as "@every 1m".
func (s *Sweeper) Start(spec string) error {
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		n, err := s.Sweep(ctx)
		if err != nil {
			s.log.Error("waiting sweep failed", zap.Error(err))
			return
		}
		if n > 0 {
			s.log.Info("waiting sweep finished", zap.Int("removed", n))
		}
	})
	if err != nil {
		return errors.Wrapf(err, "invalid sweep schedule %q", spec)
	}
	s.cron = c
	c.Start()
	return nil
}

// Stop waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}
