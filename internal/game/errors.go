// Package game holds the rules of the chat mini-games and the transactions
// that apply moves to the game embedded in a ChatSession document.
package game

// MoveError is a rejected move or game transition. The state the move was
// checked against is authoritative, so a MoveError is never retried.
type MoveError struct {
	msg string
}

func (e *MoveError) Error() string { return "game: " + e.msg }

func moveError(msg string) *MoveError { return &MoveError{msg: msg} }

var (
	ErrNoGame          = moveError("no game attached")
	ErrGameInProgress  = moveError("a game is already in progress")
	ErrWrongGame       = moveError("move does not fit the attached game")
	ErrNotPending      = moveError("no proposal to accept")
	ErrOwnProposal     = moveError("cannot accept your own proposal")
	ErrNotActive       = moveError("game is not active")
	ErrNotYourTurn     = moveError("not your turn")
	ErrNotMember       = moveError("not a member of this chat")
	ErrInvalidColumn   = moveError("column out of range")
	ErrColumnFull      = moveError("column is full")
	ErrInvalidLine     = moveError("line out of range")
	ErrLineTaken       = moveError("line already claimed")
	ErrCellTaken       = moveError("cell already taken")
	ErrInvalidCell     = moveError("cell out of range")
	ErrInvalidGridSize = moveError("grid size out of range")
	ErrUnknownKind     = moveError("unknown game kind")
	ErrLocalOnly       = moveError("tic-tac-toe is local only")
	ErrMoveInFlight    = moveError("previous move still in flight")
)
