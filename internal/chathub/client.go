package chathub

import "campusconnect/backend/internal/models"

// Client is the interface for any type of connection (WebSocket, Telegram).
// It abstracts the transport so the hub can push envelopes to every
// connection of a user uniformly.
type Client interface {
	// GetUserID returns the user the connection is authenticated as.
	GetUserID() string

	// GetSendChannel returns the channel the hub writes envelopes to. The
	// hub never writes to it after Close.
	GetSendChannel() chan<- models.Envelope

	// OnDisconnect registers fn to run once when the connection goes away.
	// It makes every Client usable as a presence.Channel.
	OnDisconnect(fn func())

	// Run starts the client's pumps.
	Run()
	// Close shuts the connection down and runs the disconnect hooks.
	Close()
}

// hooks is the OnDisconnect bookkeeping shared by client implementations.
type hooks struct {
	fired bool
	fns   []func()
}

// add registers fn, or reports false when the hooks already fired.
func (h *hooks) add(fn func()) bool {
	if h.fired {
		return false
	}
	h.fns = append(h.fns, fn)
	return true
}

// fire marks the hooks fired and returns the ones to run.
func (h *hooks) fire() []func() {
	if h.fired {
		return nil
	}
	h.fired = true
	fns := h.fns
	h.fns = nil
	return fns
}
