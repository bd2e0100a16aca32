// Package matchmaker pairs anonymous users for random chats through the
// waiting collection of the document store.
package matchmaker

import (
	"context"
	"sync"
	"time"

	"campusconnect/backend/internal/docstore"
	"campusconnect/backend/internal/models"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var (
	ErrProfileNotFound = errors.New("matchmaker: profile not found")
	ErrSessionNotFound = errors.New("matchmaker: matched session not found")
	ErrSearchCancelled = errors.New("matchmaker: search cancelled")
)

// DefaultWindow is how many waiting entries are considered per attempt.
const DefaultWindow = 10

// ProfileLookup resolves the display data seeded into a new session.
// ok is false when the user has no profile.
type ProfileLookup interface {
	LookupProfile(ctx context.Context, userID string) (member models.Member, ok bool, err error)
}

// Result is the outcome of a search.
type Result struct {
	Session *models.ChatSession
	Err     error
}

// Search is one pending findMatch call. It yields at most one Result.
type Search struct {
	UserID string

	result chan Result
	done   chan struct{}
	once   sync.Once

	mu      sync.Mutex
	sub     docstore.Subscription
	outcome *Result
}

func newSearch(userID string) *Search {
	return &Search{UserID: userID, result: make(chan Result, 1), done: make(chan struct{})}
}

// Result receives the outcome once it is known. The channel carries a single
// value; use Wait when several parties observe the same search.
func (s *Search) Result() <-chan Result { return s.result }

// Done is closed when the search resolved or was cancelled.
func (s *Search) Done() <-chan struct{} { return s.done }

// Wait blocks until the search resolves, is cancelled, or ctx ends.
func (s *Search) Wait(ctx context.Context) (*models.ChatSession, error) {
	select {
	case <-s.done:
		s.mu.Lock()
		r := s.outcome
		s.mu.Unlock()
		if r == nil {
			return nil, ErrSearchCancelled
		}
		return r.Session, r.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// finish delivers r (unless nil) the first time it is called.
func (s *Search) finish(r *Result) bool {
	first := false
	s.once.Do(func() {
		first = true
		if r != nil {
			s.result <- *r
		}
		s.mu.Lock()
		s.outcome = r
		sub := s.sub
		s.sub = nil
		s.mu.Unlock()
		if sub != nil {
			sub.Unsubscribe()
		}
		close(s.done)
	})
	return first
}

func (s *Search) setSubscription(sub docstore.Subscription) {
	s.mu.Lock()
	select {
	case <-s.done:
		s.mu.Unlock()
		sub.Unsubscribe()
		return
	default:
	}
	s.sub = sub
	s.mu.Unlock()
}

// Matcher implements random matchmaking.
type Matcher struct {
	store    docstore.Store
	profiles ProfileLookup
	log      *zap.Logger
	window   int

	now   func() time.Time
	newID func() string

	mu       sync.Mutex
	searches map[string]*Search
}

func NewMatcher(store docstore.Store, profiles ProfileLookup, log *zap.Logger, window int) *Matcher {
	if log == nil {
		log = zap.NewNop()
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Matcher{
		store:    store,
		profiles: profiles,
		log:      log,
		window:   window,
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
		searches: make(map[string]*Search),
	}
}

// Pending returns the user's running search, if any.
func (m *Matcher) Pending(userID string) *Search {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.searches[userID]
}

// FindMatch looks for a partner among waiting users. If one is claimed the
// returned Search resolves immediately; otherwise the requester is enqueued
// and the Search resolves when another user claims the entry.
func (m *Matcher) FindMatch(ctx context.Context, requesterID string, blocked []string) (*Search, error) {
	m.replace(requesterID, nil)

	self, ok, err := m.profiles.LookupProfile(ctx, requesterID)
	if err != nil {
		return nil, errors.Wrap(err, "lookup requester profile")
	}
	if !ok {
		return nil, errors.Wrap(ErrProfileNotFound, requesterID)
	}

	search := newSearch(requesterID)

	// A previous entry may already carry a match nobody consumed.
	if chatID, err := m.matchedEntry(ctx, requesterID); err != nil {
		return nil, err
	} else if chatID != "" {
		m.consume(ctx, search, chatID)
		return search, nil
	}

	session, err := m.tryMatch(ctx, requesterID, blocked, self, false)
	if err != nil {
		return nil, err
	}
	if session != nil {
		search.finish(&Result{Session: session})
		return search, nil
	}

	if err := m.enqueue(ctx, requesterID, blocked); err != nil {
		return nil, err
	}
	m.replace(requesterID, search)

	sub, err := m.store.Subscribe(ctx, models.WaitingPath(requesterID), func(snap docstore.Snapshot) {
		m.onEntryChange(search, snap)
	})
	if err != nil {
		m.replace(requesterID, nil)
		return nil, errors.Wrap(err, "listen for match")
	}
	search.setSubscription(sub)
	m.log.Info("user is waiting for a match", zap.String("user_id", requesterID))

	// Someone may have enqueued at the same moment; the claim transaction
	// lets only one of the two pairings commit.
	session, err = m.tryMatch(ctx, requesterID, blocked, self, true)
	if err != nil {
		m.log.Warn("re-query after enqueue failed", zap.String("user_id", requesterID), zap.Error(err))
		return search, nil
	}
	if session != nil && search.finish(&Result{Session: session}) {
		m.forget(search)
	}
	return search, nil
}

// StopSearching cancels the user's search and removes their entry. It is a
// no-op when nothing is pending.
func (m *Matcher) StopSearching(ctx context.Context, userID string) error {
	m.replace(userID, nil)

	return m.store.RunTransaction(ctx, func(ctx context.Context, tx *docstore.Tx) error {
		snap, err := tx.Get(models.WaitingPath(userID))
		if errors.Is(err, docstore.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		var entry models.WaitingEntry
		if err := snap.Decode(&entry); err == nil && entry.Matched() {
			m.log.Warn("search stopped after a match was made",
				zap.String("user_id", userID), zap.String("chat_id", entry.MatchedChatID))
		}
		return tx.Delete(models.WaitingPath(userID))
	})
}

// replace installs next as the user's search, cancelling the previous one.
func (m *Matcher) replace(userID string, next *Search) {
	m.mu.Lock()
	prev := m.searches[userID]
	if next == nil {
		delete(m.searches, userID)
	} else {
		m.searches[userID] = next
	}
	m.mu.Unlock()

	if prev != nil && prev != next {
		prev.finish(nil)
	}
}

func (m *Matcher) forget(s *Search) {
	m.mu.Lock()
	if m.searches[s.UserID] == s {
		delete(m.searches, s.UserID)
	}
	m.mu.Unlock()
}

func (m *Matcher) current(s *Search) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.searches[s.UserID] == s
}

func (m *Matcher) matchedEntry(ctx context.Context, userID string) (string, error) {
	snap, err := m.store.Get(ctx, models.WaitingPath(userID))
	if errors.Is(err, docstore.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	var entry models.WaitingEntry
	if err := snap.Decode(&entry); err != nil {
		return "", errors.Wrap(err, "decode own waiting entry")
	}
	return entry.MatchedChatID, nil
}

// enqueue upserts the requester's entry unless a match landed on it first.
func (m *Matcher) enqueue(ctx context.Context, userID string, blocked []string) error {
	return m.store.RunTransaction(ctx, func(ctx context.Context, tx *docstore.Tx) error {
		path := models.WaitingPath(userID)
		snap, err := tx.Get(path)
		if err != nil && !errors.Is(err, docstore.ErrNotFound) {
			return err
		}
		if snap.Exists {
			var entry models.WaitingEntry
			if err := snap.Decode(&entry); err == nil && entry.Matched() {
				// Leave it for the listener to consume.
				return nil
			}
		}
		return tx.Set(path, models.WaitingEntry{
			UserID:       userID,
			BlockedUsers: append([]string{}, blocked...),
			EnqueuedAt:   m.now().UTC(),
		})
	})
}

var (
	errCandidateGone  = errors.New("candidate no longer waiting")
	errAlreadyMatched = errors.New("requester already matched")
)

func contains(ids []string, id string) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

// tryMatch claims the first eligible candidate in query order. It returns a
// nil session when nobody could be claimed. enqueued requires the
// requester's own entry to still be waiting.
func (m *Matcher) tryMatch(ctx context.Context, requesterID string, blocked []string, self models.Member, enqueued bool) (*models.ChatSession, error) {
	snaps, err := m.store.Query(ctx, docstore.Query{
		Collection: models.CollectionWaiting,
		Limit:      m.window,
		ExcludeIDs: []string{requesterID},
	})
	if err != nil {
		return nil, err
	}

	for _, snap := range snaps {
		var entry models.WaitingEntry
		if err := snap.Decode(&entry); err != nil {
			m.log.Warn("skipping malformed waiting entry", zap.String("path", snap.Path), zap.Error(err))
			continue
		}
		if entry.UserID == "" {
			entry.UserID = snap.ID()
		}
		if entry.Matched() || contains(blocked, entry.UserID) || entry.Blocks(requesterID) {
			continue
		}

		partner, ok, err := m.profiles.LookupProfile(ctx, entry.UserID)
		if err != nil {
			return nil, errors.Wrap(err, "lookup candidate profile")
		}
		if !ok {
			return nil, errors.Wrap(ErrProfileNotFound, entry.UserID)
		}

		session, err := m.claim(ctx, requesterID, self, entry.UserID, partner, enqueued)
		switch {
		case errors.Is(err, errCandidateGone):
			continue
		case errors.Is(err, errAlreadyMatched):
			return nil, nil
		case err != nil:
			return nil, err
		}
		m.log.Info("match found",
			zap.String("user_id", requesterID),
			zap.String("partner_id", entry.UserID),
			zap.String("chat_id", session.ID))
		return session, nil
	}
	return nil, nil
}

// claim creates the session, points the candidate's entry at it and drops
// the requester's own entry, all in one transaction.
func (m *Matcher) claim(ctx context.Context, requesterID string, self models.Member, candidateID string, partner models.Member, enqueued bool) (*models.ChatSession, error) {
	chatID := m.newID()
	var session *models.ChatSession

	err := m.store.RunTransaction(ctx, func(ctx context.Context, tx *docstore.Tx) error {
		candSnap, err := tx.Get(models.WaitingPath(candidateID))
		if errors.Is(err, docstore.ErrNotFound) {
			return errCandidateGone
		}
		if err != nil {
			return err
		}
		var cand models.WaitingEntry
		if err := candSnap.Decode(&cand); err != nil {
			return errCandidateGone
		}
		if cand.Matched() {
			return errCandidateGone
		}

		ownSnap, err := tx.Get(models.WaitingPath(requesterID))
		if err != nil && !errors.Is(err, docstore.ErrNotFound) {
			return err
		}
		if enqueued && !ownSnap.Exists {
			// Consumed or cancelled in the meantime.
			return errAlreadyMatched
		}
		if ownSnap.Exists {
			var own models.WaitingEntry
			if err := ownSnap.Decode(&own); err == nil && own.Matched() {
				return errAlreadyMatched
			}
		}

		now := m.now().UTC()
		session = models.NewChatSession(chatID, requesterID, candidateID, self, partner, now)
		if err := tx.Set(models.ChatPath(chatID), session); err != nil {
			return err
		}
		cand.MatchedChatID = chatID
		cand.MatchedAt = now
		if err := tx.Set(models.WaitingPath(candidateID), cand); err != nil {
			return err
		}
		return tx.Delete(models.WaitingPath(requesterID))
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// onEntryChange runs on the subscription goroutine of a waiting entry.
func (m *Matcher) onEntryChange(search *Search, snap docstore.Snapshot) {
	if !snap.Exists || !m.current(search) {
		return
	}
	var entry models.WaitingEntry
	if err := snap.Decode(&entry); err != nil {
		m.log.Warn("malformed waiting entry", zap.String("user_id", search.UserID), zap.Error(err))
		return
	}
	if !entry.Matched() {
		return
	}
	m.consume(context.Background(), search, entry.MatchedChatID)
}

// consume turns a matchedChatId into a Result exactly once.
func (m *Matcher) consume(ctx context.Context, search *Search, chatID string) {
	m.forget(search)

	err := m.store.RunTransaction(ctx, func(ctx context.Context, tx *docstore.Tx) error {
		path := models.WaitingPath(search.UserID)
		snap, err := tx.Get(path)
		if errors.Is(err, docstore.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		var entry models.WaitingEntry
		if err := snap.Decode(&entry); err != nil || entry.MatchedChatID != chatID {
			return nil
		}
		return tx.Delete(path)
	})
	if err != nil {
		m.log.Error("failed to delete consumed waiting entry", zap.String("user_id", search.UserID), zap.Error(err))
	}

	var session models.ChatSession
	snap, err := m.store.Get(ctx, models.ChatPath(chatID))
	if err == nil {
		err = snap.Decode(&session)
	}
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			err = errors.Wrap(ErrSessionNotFound, chatID)
		}
		search.finish(&Result{Err: err})
		return
	}
	if search.finish(&Result{Session: &session}) {
		m.log.Info("match consumed", zap.String("user_id", search.UserID), zap.String("chat_id", chatID))
	}
}
