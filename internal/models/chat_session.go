package models

import (
	"sort"
	"time"
)

// Collections in the document store.
const (
	CollectionChats   = "chats"
	CollectionWaiting = "waiting"
	CollectionStatus  = "status"
)

func ChatPath(chatID string) string    { return CollectionChats + "/" + chatID }
func WaitingPath(userID string) string { return CollectionWaiting + "/" + userID }
func StatusPath(userID string) string  { return CollectionStatus + "/" + userID }

// MemberActiveField is the dotted update path of a member's active flag.
func MemberActiveField(userID string) string { return "members." + userID + ".active" }

// MemberLeftAtField is the dotted update path of a member's leftAt stamp.
func MemberLeftAtField(userID string) string { return "members." + userID + ".leftAt" }

// Member is the per-user part of a ChatSession.
type Member struct {
	// Active is true while the user has the chat open.
	Active bool   `json:"active"`
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
	Online bool   `json:"online"`
	// LeftAt is set when the user closes the chat and cleared when they
	// open it again.
	LeftAt *time.Time `json:"leftAt,omitempty"`
}

// ChatSession represents one 1:1 conversation between two users.
// It is stored as a document under chats/<id> and may carry an embedded game.
type ChatSession struct {
	// ID is the unique identifier of the session (UUID for random matches,
	// derived from the member pair for friend chats).
	ID string `json:"id"`
	// MemberIDs holds both user IDs, sorted.
	MemberIDs []string `json:"memberIds"`
	// Members maps user ID to the member's view state.
	Members map[string]Member `json:"members"`
	// IsFriendChat distinguishes friend chats from random matches.
	IsFriendChat bool `json:"isFriendChat"`
	// Game is the attached mini-game, nil when none.
	Game *GameState `json:"game"`
	// CreatedAt is when the session was first written.
	CreatedAt time.Time `json:"createdAt"`
}

// SortedPair returns the two user IDs in ascending order.
func SortedPair(a, b string) []string {
	ids := []string{a, b}
	sort.Strings(ids)
	return ids
}

// NewChatSession seeds a session for two members, both inactive.
func NewChatSession(id string, a, b string, memberA, memberB Member, now time.Time) *ChatSession {
	memberA.Active = false
	memberB.Active = false
	return &ChatSession{
		ID:        id,
		MemberIDs: SortedPair(a, b),
		Members: map[string]Member{
			a: memberA,
			b: memberB,
		},
		CreatedAt: now,
	}
}

func (c *ChatSession) HasMember(userID string) bool {
	for _, id := range c.MemberIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// PartnerOf returns the other member of the session.
func (c *ChatSession) PartnerOf(userID string) (string, bool) {
	if !c.HasMember(userID) || len(c.MemberIDs) != 2 {
		return "", false
	}
	if c.MemberIDs[0] == userID {
		return c.MemberIDs[1], true
	}
	return c.MemberIDs[0], true
}
