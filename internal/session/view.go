package session

import (
	"sync"

	"campusconnect/backend/internal/docstore"
	"campusconnect/backend/internal/models"
)

type EventKind string

const (
	EventUpdated     EventKind = "updated"
	EventPresence    EventKind = "presence"
	EventPartnerLeft EventKind = "partner_left"
	EventDeleted     EventKind = "deleted"
	// EventLeft closes a view the user left themselves. It is never sent.
	EventLeft EventKind = "left"
)

// Terminal reports whether the event ends the view.
func (k EventKind) Terminal() bool {
	return k == EventPartnerLeft || k == EventDeleted || k == EventLeft
}

type Event struct {
	Kind     EventKind
	ChatID   string
	UserID   string
	Session  *models.ChatSession
	Presence *models.Presence
}

const viewBuffer = 32

// View is one user's open chat. Events stop once Done is closed; Reason
// then tells why.
type View struct {
	UserID    string
	ChatID    string
	PartnerID string
	Gen       uint64

	events chan Event
	done   chan struct{}

	mu            sync.Mutex
	subs          []docstore.Subscription
	closed        bool
	reason        EventKind
	partnerActive bool
	// presence is the newest presence event that did not fit the buffer.
	presence *Event
}

func newView(gen uint64, userID, chatID, partnerID string) *View {
	return &View{
		UserID:    userID,
		ChatID:    chatID,
		PartnerID: partnerID,
		Gen:       gen,
		events:    make(chan Event, viewBuffer),
		done:      make(chan struct{}),
	}
}

func (v *View) Events() <-chan Event  { return v.events }
func (v *View) Done() <-chan struct{} { return v.done }

func (v *View) Reason() EventKind {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.reason
}

func (v *View) track(sub docstore.Subscription) {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		sub.Unsubscribe()
		return
	}
	v.subs = append(v.subs, sub)
	v.mu.Unlock()
}

// observePartner records the partner's active flag and reports whether the
// partner has left: an active -> inactive transition, or an inactive partner
// the chat marks as closed. A partner who never entered has not left.
func (v *View) observePartner(active, closed bool) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	left := !active && (v.partnerActive || closed)
	v.partnerActive = active
	return left
}

// emit queues e without blocking and reports whether it was kept. A full
// buffer drops updates, since the next one carries the full session again.
// Presence is not repeated, so the newest presence event is held back and
// queued ahead of whatever is emitted next.
func (v *View) emit(e Event) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return false
	}
	if v.presence != nil {
		select {
		case v.events <- *v.presence:
			v.presence = nil
		default:
		}
	}
	select {
	case v.events <- e:
		return true
	default:
	}
	if e.Kind == EventPresence {
		v.presence = &e
		return true
	}
	return false
}

func (v *View) close(reason EventKind, final *Event) {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	v.reason = reason
	subs := v.subs
	v.subs = nil
	if final != nil {
		// Make room so the terminal event is never lost.
		select {
		case v.events <- *final:
		default:
			select {
			case <-v.events:
			default:
			}
			v.events <- *final
		}
	}
	v.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}
	close(v.done)
}
