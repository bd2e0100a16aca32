// Package session tracks which chat each user is viewing and turns changes
// of the chat document into events for that viewer.
package session

import (
	"context"
	"sync"
	"time"

	"campusconnect/backend/internal/docstore"
	"campusconnect/backend/internal/models"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var (
	ErrSessionNotFound = errors.New("session: chat not found")
	ErrNotMember       = errors.New("session: not a member of this chat")
	ErrSelfChat        = errors.New("session: cannot open a chat with yourself")
)

// ProfileLookup resolves member display data for new friend chats.
type ProfileLookup interface {
	LookupProfile(ctx context.Context, userID string) (member models.Member, ok bool, err error)
}

// Registry holds at most one View per user.
type Registry struct {
	store    docstore.Store
	profiles ProfileLookup
	log      *zap.Logger
	now      func() time.Time

	mu    sync.Mutex
	gen   uint64
	views map[string]*View
}

func NewRegistry(store docstore.Store, profiles ProfileLookup, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		store:    store,
		profiles: profiles,
		log:      log,
		now:      time.Now,
		views:    make(map[string]*View),
	}
}

// Current returns the user's open view, nil when idle.
func (r *Registry) Current(userID string) *View {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.views[userID]
}

func (r *Registry) load(ctx context.Context, chatID string) (*models.ChatSession, error) {
	snap, err := r.store.Get(ctx, models.ChatPath(chatID))
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, errors.Wrap(ErrSessionNotFound, chatID)
	}
	if err != nil {
		return nil, err
	}
	var s models.ChatSession
	if err := snap.Decode(&s); err != nil {
		return nil, errors.Wrapf(err, "decode chat %s", chatID)
	}
	return &s, nil
}

// Get returns a chat the caller is a member of.
func (r *Registry) Get(ctx context.Context, chatID, userID string) (*models.ChatSession, error) {
	s, err := r.load(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !s.HasMember(userID) {
		return nil, ErrNotMember
	}
	return s, nil
}

func (r *Registry) setActive(ctx context.Context, chatID, userID string, active bool) error {
	fields := map[string]any{models.MemberActiveField(userID): active}
	if active {
		fields["members."+userID+".online"] = true
		fields[models.MemberLeftAtField(userID)] = nil
	} else {
		fields[models.MemberLeftAtField(userID)] = r.now().UTC()
	}
	err := r.store.Update(ctx, models.ChatPath(chatID), fields)
	if errors.Is(err, docstore.ErrNotFound) {
		return errors.Wrap(ErrSessionNotFound, chatID)
	}
	return err
}

// Enter marks the user active in chatID and starts watching the chat and the
// partner's presence. A view the user already had is closed first.
func (r *Registry) Enter(ctx context.Context, userID, chatID string) (*View, error) {
	if prev := r.Current(userID); prev != nil && prev.ChatID == chatID {
		// Re-entering the same chat must not look like leaving it.
		r.detach(prev, "")
	} else if err := r.Leave(ctx, userID); err != nil && !errors.Is(err, ErrSessionNotFound) {
		r.log.Warn("failed to leave previous chat", zap.String("user_id", userID), zap.Error(err))
	}

	s, err := r.Get(ctx, chatID, userID)
	if err != nil {
		return nil, err
	}
	partnerID, _ := s.PartnerOf(userID)

	if err := r.setActive(ctx, chatID, userID, true); err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.gen++
	view := newView(r.gen, userID, chatID, partnerID)
	r.views[userID] = view
	r.mu.Unlock()

	chatSub, err := r.store.Subscribe(ctx, models.ChatPath(chatID), func(snap docstore.Snapshot) {
		r.onChat(view, snap)
	})
	if err != nil {
		r.detach(view, "")
		return nil, errors.Wrap(err, "watch chat")
	}
	view.track(chatSub)

	presenceSub, err := r.store.Subscribe(ctx, models.StatusPath(partnerID), func(snap docstore.Snapshot) {
		r.onPresence(view, snap)
	})
	if err != nil {
		r.detach(view, "")
		return nil, errors.Wrap(err, "watch partner presence")
	}
	view.track(presenceSub)

	r.log.Info("entered chat", zap.String("user_id", userID), zap.String("chat_id", chatID))
	return view, nil
}

// Leave marks the user inactive in the chat they are viewing and tears the
// view down. It is a no-op when the user is idle.
func (r *Registry) Leave(ctx context.Context, userID string) error {
	r.mu.Lock()
	view := r.views[userID]
	delete(r.views, userID)
	r.mu.Unlock()
	if view == nil {
		return nil
	}

	view.close(EventLeft, nil)
	r.log.Info("left chat", zap.String("user_id", userID), zap.String("chat_id", view.ChatID))
	return r.setActive(ctx, view.ChatID, userID, false)
}

// detach drops view if it is still the user's current one and closes it
// with a terminal event kind ("" for none).
func (r *Registry) detach(view *View, kind EventKind) bool {
	r.mu.Lock()
	current := r.views[view.UserID] == view
	if current {
		delete(r.views, view.UserID)
	}
	r.mu.Unlock()

	if kind == "" {
		view.close("", nil)
		return current
	}
	view.close(kind, &Event{Kind: kind, ChatID: view.ChatID})
	return current
}

func (r *Registry) isCurrent(view *View) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.views[view.UserID] == view
}

// onChat runs on the chat subscription goroutine.
func (r *Registry) onChat(view *View, snap docstore.Snapshot) {
	if !r.isCurrent(view) {
		return
	}
	if !snap.Exists {
		if r.detach(view, EventDeleted) {
			r.log.Info("chat deleted while open", zap.String("user_id", view.UserID), zap.String("chat_id", view.ChatID))
		}
		return
	}

	var s models.ChatSession
	if err := snap.Decode(&s); err != nil {
		r.log.Error("malformed chat document", zap.String("chat_id", view.ChatID), zap.Error(err))
		return
	}

	partner := s.Members[view.PartnerID]
	// A random chat is over once the partner closed it, even if this view
	// never saw them active. Friend chats wait for the friend to come back.
	closedBefore := !s.IsFriendChat && partner.LeftAt != nil
	if view.observePartner(partner.Active, closedBefore) {
		if r.detach(view, EventPartnerLeft) {
			r.log.Info("partner left chat", zap.String("user_id", view.UserID), zap.String("chat_id", view.ChatID))
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := r.setActive(ctx, view.ChatID, view.UserID, false); err != nil && !errors.Is(err, ErrSessionNotFound) {
				r.log.Warn("failed to mark self inactive", zap.String("user_id", view.UserID), zap.Error(err))
			}
		}
		return
	}

	if !view.emit(Event{Kind: EventUpdated, ChatID: view.ChatID, Session: &s}) {
		r.log.Debug("viewer is behind, dropped chat update", zap.String("user_id", view.UserID), zap.String("chat_id", view.ChatID))
	}
}

func (r *Registry) onPresence(view *View, snap docstore.Snapshot) {
	if !r.isCurrent(view) {
		return
	}
	p := models.Presence{State: models.PresenceOffline}
	if snap.Exists {
		if err := snap.Decode(&p); err != nil {
			r.log.Warn("malformed presence document", zap.String("user_id", view.PartnerID), zap.Error(err))
			return
		}
	}
	view.emit(Event{Kind: EventPresence, ChatID: view.ChatID, UserID: view.PartnerID, Presence: &p})
}

// FriendChatID is the deterministic id of the friend chat between a and b.
func FriendChatID(a, b string) string {
	pair := models.SortedPair(a, b)
	return "friend_" + pair[0] + "_" + pair[1]
}

// OpenFriendChat returns the friend chat between a and b, creating it on
// first use.
func (r *Registry) OpenFriendChat(ctx context.Context, a, b string) (*models.ChatSession, error) {
	if a == b {
		return nil, ErrSelfChat
	}
	memberA, okA, err := r.profiles.LookupProfile(ctx, a)
	if err != nil {
		return nil, err
	}
	memberB, okB, err := r.profiles.LookupProfile(ctx, b)
	if err != nil {
		return nil, err
	}
	if !okA || !okB {
		return nil, errors.Wrap(ErrSessionNotFound, "friend profile missing")
	}

	chatID := FriendChatID(a, b)
	var out *models.ChatSession
	err = r.store.RunTransaction(ctx, func(ctx context.Context, tx *docstore.Tx) error {
		snap, err := tx.Get(models.ChatPath(chatID))
		if err == nil {
			var existing models.ChatSession
			if err := snap.Decode(&existing); err != nil {
				return err
			}
			out = &existing
			return nil
		}
		if !errors.Is(err, docstore.ErrNotFound) {
			return err
		}
		s := models.NewChatSession(chatID, a, b, memberA, memberB, r.now().UTC())
		s.IsFriendChat = true
		out = s
		return tx.Set(models.ChatPath(chatID), s)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// EndChat deletes a chat. Everyone viewing it observes the deletion.
func (r *Registry) EndChat(ctx context.Context, chatID string) error {
	if _, err := r.load(ctx, chatID); err != nil {
		return err
	}
	if err := r.store.Delete(ctx, models.ChatPath(chatID)); err != nil {
		return err
	}
	r.log.Info("chat ended", zap.String("chat_id", chatID))
	return nil
}
