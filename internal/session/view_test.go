package session

import (
	"testing"

	"campusconnect/backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func presenceEvent(state models.PresenceState) Event {
	return Event{Kind: EventPresence, UserID: "ben", Presence: &models.Presence{State: state}}
}

func TestViewKeepsNewestPresenceWhenFull(t *testing.T) {
	v := newView(1, "amy", "c1", "ben")
	for i := 0; i < viewBuffer; i++ {
		require.True(t, v.emit(Event{Kind: EventUpdated}))
	}

	assert.False(t, v.emit(Event{Kind: EventUpdated}), "updates are dropped when full")
	assert.True(t, v.emit(presenceEvent(models.PresenceOnline)))
	assert.True(t, v.emit(presenceEvent(models.PresenceOffline)))

	<-v.Events()
	<-v.Events()
	require.True(t, v.emit(Event{Kind: EventUpdated}))

	var kinds []EventKind
	var last *models.Presence
	for len(v.Events()) > 0 {
		e := <-v.Events()
		kinds = append(kinds, e.Kind)
		if e.Kind == EventPresence {
			last = e.Presence
		}
	}
	require.NotNil(t, last, "held presence is delivered")
	assert.Equal(t, models.PresenceOffline, last.State)
	assert.Equal(t, 1, countKind(kinds, EventPresence), "older presence is superseded")
	assert.Equal(t, EventPresence, kinds[len(kinds)-2], "held presence precedes the next event")
	assert.Equal(t, EventUpdated, kinds[len(kinds)-1])
}

func TestViewEmitAfterClose(t *testing.T) {
	v := newView(1, "amy", "c1", "ben")
	v.close(EventLeft, nil)
	assert.False(t, v.emit(presenceEvent(models.PresenceOnline)))
}

func countKind(kinds []EventKind, k EventKind) int {
	n := 0
	for _, kind := range kinds {
		if kind == k {
			n++
		}
	}
	return n
}
