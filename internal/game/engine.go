package game

import (
	"context"

	"campusconnect/backend/internal/docstore"
	"campusconnect/backend/internal/models"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Engine applies game transitions to the game field of chat documents.
// Every move re-reads the session inside a transaction and validates against
// that copy; the store retries on version races.
type Engine struct {
	store       docstore.Store
	log         *zap.Logger
	defaultGrid int
}

func NewEngine(store docstore.Store, log *zap.Logger, defaultGridSize int) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	if defaultGridSize < MinGridSize || defaultGridSize > MaxGridSize {
		defaultGridSize = 3
	}
	return &Engine{store: store, log: log, defaultGrid: defaultGridSize}
}

// mutate runs step against the transactionally read session and stores the
// game it returns.
func (e *Engine) mutate(ctx context.Context, chatID, caller string, step func(s *models.ChatSession) (*models.GameState, error)) (*models.GameState, error) {
	var result *models.GameState
	err := e.store.RunTransaction(ctx, func(ctx context.Context, tx *docstore.Tx) error {
		path := models.ChatPath(chatID)
		snap, err := tx.Get(path)
		if err != nil {
			return err
		}
		var session models.ChatSession
		if err := snap.Decode(&session); err != nil {
			return errors.Wrapf(err, "decode %s", path)
		}
		if !session.HasMember(caller) {
			return ErrNotMember
		}

		next, err := step(&session)
		if err != nil {
			return err
		}
		result = next
		return tx.Update(path, map[string]any{"game": next})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Propose attaches a pending game. Only allowed when the chat has no game
// or the previous one has finished.
func (e *Engine) Propose(ctx context.Context, chatID, caller string, kind models.GameKind, gridSize int) (*models.GameState, error) {
	switch kind {
	case models.KindConnectFour:
	case models.KindDotsAndBoxes:
		if gridSize == 0 {
			gridSize = e.defaultGrid
		}
		if gridSize < MinGridSize || gridSize > MaxGridSize {
			return nil, ErrInvalidGridSize
		}
	case models.KindTicTacToe:
		return nil, ErrLocalOnly
	default:
		return nil, ErrUnknownKind
	}

	g, err := e.mutate(ctx, chatID, caller, func(s *models.ChatSession) (*models.GameState, error) {
		if s.Game != nil && !s.Game.Status.Terminal() {
			return nil, ErrGameInProgress
		}
		partner, _ := s.PartnerOf(caller)

		next := &models.GameState{
			Status:      models.StatusPending,
			Players:     map[string]string{caller: models.SeatFirst, partner: models.SeatSecond},
			InitiatorID: caller,
		}
		if kind == models.KindConnectFour {
			next.Board = &models.ConnectFourBoard{}
		} else {
			next.Board = models.NewDotsAndBoxesBoard(gridSize, caller, partner)
		}
		return next, nil
	})
	if err != nil {
		return nil, err
	}
	e.log.Info("game proposed", zap.String("chat_id", chatID), zap.String("user_id", caller), zap.String("game", string(kind)))
	return g, nil
}

// Accept activates a pending proposal. The initiator moves first.
func (e *Engine) Accept(ctx context.Context, chatID, caller string) (*models.GameState, error) {
	return e.mutate(ctx, chatID, caller, func(s *models.ChatSession) (*models.GameState, error) {
		g := s.Game
		if g == nil || g.Status != models.StatusPending {
			return nil, ErrNotPending
		}
		if g.InitiatorID == caller {
			return nil, ErrOwnProposal
		}
		next := g.Clone()
		next.Status = models.StatusActive
		next.Turn = g.InitiatorID
		return next, nil
	})
}

// Decline rejects a proposal. It is the same reset as Quit.
func (e *Engine) Decline(ctx context.Context, chatID, caller string) error {
	return e.Quit(ctx, chatID, caller)
}

// Quit clears the game field whatever its state. Concurrent resets simply
// overwrite each other.
func (e *Engine) Quit(ctx context.Context, chatID, caller string) error {
	path := models.ChatPath(chatID)
	snap, err := e.store.Get(ctx, path)
	if err != nil {
		return err
	}
	var session models.ChatSession
	if err := snap.Decode(&session); err != nil {
		return errors.Wrapf(err, "decode %s", path)
	}
	if !session.HasMember(caller) {
		return ErrNotMember
	}
	if err := e.store.Update(ctx, path, map[string]any{"game": nil}); err != nil {
		return err
	}
	e.log.Info("game cleared", zap.String("chat_id", chatID), zap.String("user_id", caller))
	return nil
}

// DropDisc plays a Connect Four move.
func (e *Engine) DropDisc(ctx context.Context, chatID, caller string, column int) (*models.GameState, error) {
	if column < 0 || column >= models.ConnectFourColumns {
		return nil, ErrInvalidColumn
	}
	g, err := e.mutate(ctx, chatID, caller, func(s *models.ChatSession) (*models.GameState, error) {
		return ApplyDrop(s.Game, caller, column)
	})
	if err != nil {
		return nil, err
	}
	e.logOutcome(chatID, caller, g)
	return g, nil
}

// ClaimLine plays a Dots and Boxes move.
func (e *Engine) ClaimLine(ctx context.Context, chatID, caller string, o Orientation, index int) (*models.GameState, error) {
	if o != Horizontal && o != Vertical {
		return nil, ErrInvalidLine
	}
	g, err := e.mutate(ctx, chatID, caller, func(s *models.ChatSession) (*models.GameState, error) {
		return ApplyLine(s.Game, caller, o, index)
	})
	if err != nil {
		return nil, err
	}
	e.logOutcome(chatID, caller, g)
	return g, nil
}

// Current returns the game attached to a chat, nil when there is none.
func (e *Engine) Current(ctx context.Context, chatID string) (*models.GameState, error) {
	path := models.ChatPath(chatID)
	snap, err := e.store.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	var session models.ChatSession
	if err := snap.Decode(&session); err != nil {
		return nil, errors.Wrapf(err, "decode %s", path)
	}
	return session.Game, nil
}

func (e *Engine) logOutcome(chatID, caller string, g *models.GameState) {
	if !g.Status.Terminal() {
		return
	}
	e.log.Info("game finished",
		zap.String("chat_id", chatID),
		zap.String("user_id", caller),
		zap.String("game", string(g.Kind())),
		zap.String("status", string(g.Status)))
}
