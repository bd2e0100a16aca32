package models

// Envelope types pushed to realtime clients.
const (
	EnvelopeMatchFound     = "match_found"
	EnvelopeSearching      = "searching"
	EnvelopeSessionUpdated = "session_updated"
	EnvelopePartnerLeft    = "partner_left"
	EnvelopeSessionDeleted = "session_deleted"
	EnvelopePresence       = "presence"
	EnvelopeMessage        = "message"
	EnvelopeError          = "error"
)

// Envelope is a server → client event.
type Envelope struct {
	Type     string       `json:"type"`
	ChatID   string       `json:"chat_id,omitempty"`
	UserID   string       `json:"user_id,omitempty"`
	Session  *ChatSession `json:"session,omitempty"`
	Presence *Presence    `json:"presence,omitempty"`
	Message  *ChatMessage `json:"message,omitempty"`
	Error    string       `json:"error,omitempty"`
}

// ChatMessage is a text message relayed between the two members of a chat.
type ChatMessage struct {
	ID       uint   `json:"id,omitempty"`
	SenderID string `json:"sender_id"`
	ChatID   string `json:"chat_id"`
	Content  string `json:"content"`
	Type     string `json:"type"`
}

// Command types accepted over realtime connections.
const (
	CommandSearch     = "search"
	CommandStopSearch = "stop_search"
	CommandEnter      = "enter"
	CommandLeave      = "leave"
	CommandMessage    = "message"
	CommandPropose    = "propose"
	CommandAccept     = "accept"
	CommandDecline    = "decline"
	CommandQuit       = "quit"
	CommandDrop       = "drop"
	CommandLine       = "line"
	CommandBlock      = "block"
	CommandReport     = "report"
)

// Command is a client → server request received over a realtime connection.
// ChatID may be empty, in which case the chat the user has open is meant.
type Command struct {
	Type          string   `json:"type"`
	ChatID        string   `json:"chat_id,omitempty"`
	Content       string   `json:"content,omitempty"`
	Kind          GameKind `json:"kind,omitempty"`
	GridSize      int      `json:"grid_size,omitempty"`
	Column        int      `json:"column,omitempty"`
	Orientation   string   `json:"orientation,omitempty"`
	Index         int      `json:"index,omitempty"`
	ComplaintType string   `json:"complaint_type,omitempty"`
}
