package models

import "time"

// WaitingEntry is a queued request for random matchmaking, stored under
// waiting/<userId>. The enqueuing user owns it while it is pending; a
// matching party sets MatchedChatID.
type WaitingEntry struct {
	UserID        string    `json:"userId"`
	BlockedUsers  []string  `json:"blockedUsers"`
	MatchedChatID string    `json:"matchedChatId,omitempty"`
	EnqueuedAt    time.Time `json:"enqueuedAt"`
	MatchedAt     time.Time `json:"matchedAt,omitzero"`
}

// Blocks reports whether the entry's owner has blocked userID.
func (w *WaitingEntry) Blocks(userID string) bool {
	for _, id := range w.BlockedUsers {
		if id == userID {
			return true
		}
	}
	return false
}

func (w *WaitingEntry) Matched() bool { return w.MatchedChatID != "" }
