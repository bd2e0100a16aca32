package models

import "time"

type PresenceState string

const (
	PresenceOnline  PresenceState = "online"
	PresenceOffline PresenceState = "offline"
)

// Presence is the status document kept under status/<userId>.
type Presence struct {
	State       PresenceState `json:"state"`
	LastChanged time.Time     `json:"lastChanged"`
}
