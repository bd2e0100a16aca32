package game

import (
	"context"
	"sync"

	"campusconnect/backend/internal/models"
)

// Mover commits moves. *Engine implements it.
type Mover interface {
	DropDisc(ctx context.Context, chatID, caller string, column int) (*models.GameState, error)
	ClaimLine(ctx context.Context, chatID, caller string, o Orientation, index int) (*models.GameState, error)
}

// Table is one player's view of a chat game, for Go clients that embed the
// engine and draw the board themselves. Moves are shown immediately and
// rolled back to the last confirmed state when the commit fails. Only one
// move may be in flight at a time. Server-side transports do not use it;
// they render whatever the chat document holds.
type Table struct {
	mover  Mover
	chatID string
	self   string

	mu        sync.Mutex
	confirmed *models.GameState
	view      *models.GameState
	inFlight  bool
}

func NewTable(mover Mover, chatID, self string, initial *models.GameState) *Table {
	return &Table{
		mover:     mover,
		chatID:    chatID,
		self:      self,
		confirmed: initial.Clone(),
		view:      initial.Clone(),
	}
}

// View returns a copy of the state to display.
func (t *Table) View() *models.GameState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.view.Clone()
}

// Pending reports whether a move is awaiting its commit.
func (t *Table) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inFlight
}

// Observe adopts a state pushed by the store. While a move is in flight the
// optimistic view is kept and only the rollback point moves.
func (t *Table) Observe(g *models.GameState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.confirmed = g.Clone()
	if !t.inFlight {
		t.view = g.Clone()
	}
}

// Drop plays a Connect Four disc. A move that is invalid against the local
// view fails without reaching the store.
func (t *Table) Drop(ctx context.Context, column int) (*models.GameState, error) {
	return t.play(ctx,
		func(g *models.GameState) (*models.GameState, error) { return ApplyDrop(g, t.self, column) },
		func(ctx context.Context) (*models.GameState, error) {
			return t.mover.DropDisc(ctx, t.chatID, t.self, column)
		})
}

// Claim plays a Dots and Boxes line.
func (t *Table) Claim(ctx context.Context, o Orientation, index int) (*models.GameState, error) {
	return t.play(ctx,
		func(g *models.GameState) (*models.GameState, error) { return ApplyLine(g, t.self, o, index) },
		func(ctx context.Context) (*models.GameState, error) {
			return t.mover.ClaimLine(ctx, t.chatID, t.self, o, index)
		})
}

func (t *Table) play(ctx context.Context, local func(*models.GameState) (*models.GameState, error), commit func(context.Context) (*models.GameState, error)) (*models.GameState, error) {
	t.mu.Lock()
	if t.inFlight {
		t.mu.Unlock()
		return nil, ErrMoveInFlight
	}
	optimistic, err := local(t.view)
	if err != nil {
		t.mu.Unlock()
		return nil, err
	}
	t.view = optimistic
	t.inFlight = true
	t.mu.Unlock()

	committed, err := commit(ctx)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.inFlight = false
	if err != nil {
		t.view = t.confirmed.Clone()
		return nil, err
	}
	t.confirmed = committed.Clone()
	t.view = committed.Clone()
	return committed.Clone(), nil
}
