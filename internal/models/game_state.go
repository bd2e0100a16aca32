package models

import (
	"encoding/json"

	"github.com/pkg/errors"
)

type GameKind string

const (
	KindConnectFour  GameKind = "connect_four"
	KindDotsAndBoxes GameKind = "dots_and_boxes"
	// KindTicTacToe is played on a single device and never attached to a
	// ChatSession.
	KindTicTacToe GameKind = "tic_tac_toe"
)

type GameStatus string

const (
	StatusPending GameStatus = "pending"
	StatusActive  GameStatus = "active"
	StatusWin     GameStatus = "win"
	StatusDraw    GameStatus = "draw"
)

// Terminal reports whether no further moves are possible.
func (s GameStatus) Terminal() bool {
	return s == StatusWin || s == StatusDraw
}

// Connect Four geometry. Cells are column-major: index = col*ConnectFourRows + row,
// row 0 being the bottom of the column.
const (
	ConnectFourColumns = 7
	ConnectFourRows    = 6
	ConnectFourCells   = ConnectFourColumns * ConnectFourRows
)

// Seat labels handed out when a game is proposed.
const (
	SeatFirst  = "p1"
	SeatSecond = "p2"
)

// Board is the variant part of a GameState. It is implemented only by the
// board types in this file.
type Board interface {
	Kind() GameKind
	cloneBoard() Board
}

// ConnectFourBoard holds the gravity-drop grid. Empty cells are "".
type ConnectFourBoard struct {
	Cells  [ConnectFourCells]string `json:"cells"`
	Winner string                   `json:"winner,omitempty"`
}

func (b *ConnectFourBoard) Kind() GameKind { return KindConnectFour }

func (b *ConnectFourBoard) cloneBoard() Board {
	c := *b
	return &c
}

// Index returns the flat cell index of (col, row).
func (b *ConnectFourBoard) Index(col, row int) int { return col*ConnectFourRows + row }

// At returns the owner of (col, row), "" when empty or out of range.
func (b *ConnectFourBoard) At(col, row int) string {
	if col < 0 || col >= ConnectFourColumns || row < 0 || row >= ConnectFourRows {
		return ""
	}
	return b.Cells[b.Index(col, row)]
}

// DotsAndBoxesBoard tracks line and box ownership on an N×N box grid.
// Horizontal lines: (N+1) rows of N, index r*N+c.
// Vertical lines: N rows of (N+1), index r*(N+1)+c.
// Boxes: index r*N+c.
type DotsAndBoxesBoard struct {
	GridSize   int            `json:"gridSize"`
	Horizontal []string       `json:"horizontal"`
	Vertical   []string       `json:"vertical"`
	Boxes      []string       `json:"boxes"`
	Scores     map[string]int `json:"scores"`
	Winner     string         `json:"winner,omitempty"`
}

// NewDotsAndBoxesBoard returns an empty board for the given players.
func NewDotsAndBoxesBoard(n int, players ...string) *DotsAndBoxesBoard {
	scores := make(map[string]int, len(players))
	for _, p := range players {
		scores[p] = 0
	}
	return &DotsAndBoxesBoard{
		GridSize:   n,
		Horizontal: make([]string, n*(n+1)),
		Vertical:   make([]string, (n+1)*n),
		Boxes:      make([]string, n*n),
		Scores:     scores,
	}
}

func (b *DotsAndBoxesBoard) Kind() GameKind { return KindDotsAndBoxes }

func (b *DotsAndBoxesBoard) cloneBoard() Board {
	c := &DotsAndBoxesBoard{
		GridSize:   b.GridSize,
		Horizontal: append([]string(nil), b.Horizontal...),
		Vertical:   append([]string(nil), b.Vertical...),
		Boxes:      append([]string(nil), b.Boxes...),
		Scores:     make(map[string]int, len(b.Scores)),
		Winner:     b.Winner,
	}
	for k, v := range b.Scores {
		c.Scores[k] = v
	}
	return c
}

// GameState is the game embedded in a ChatSession. Turn is "" when nobody
// may move (pending or terminal).
type GameState struct {
	Status      GameStatus
	Players     map[string]string
	Turn        string
	InitiatorID string
	Board       Board
}

func (g *GameState) Kind() GameKind {
	if g == nil || g.Board == nil {
		return ""
	}
	return g.Board.Kind()
}

// Clone returns a deep copy.
func (g *GameState) Clone() *GameState {
	if g == nil {
		return nil
	}
	c := &GameState{
		Status:      g.Status,
		Players:     make(map[string]string, len(g.Players)),
		Turn:        g.Turn,
		InitiatorID: g.InitiatorID,
	}
	for k, v := range g.Players {
		c.Players[k] = v
	}
	if g.Board != nil {
		c.Board = g.Board.cloneBoard()
	}
	return c
}

// Opponent returns the other player of a two-player game.
func (g *GameState) Opponent(userID string) string {
	for id := range g.Players {
		if id != userID {
			return id
		}
	}
	return ""
}

type gameStateWire struct {
	Kind        GameKind          `json:"kind"`
	Status      GameStatus        `json:"status"`
	Players     map[string]string `json:"players"`
	Turn        *string           `json:"turn"`
	InitiatorID string            `json:"initiatorId"`
	Board       json.RawMessage   `json:"board,omitempty"`
}

func (g GameState) MarshalJSON() ([]byte, error) {
	w := gameStateWire{
		Status:      g.Status,
		Players:     g.Players,
		InitiatorID: g.InitiatorID,
	}
	if g.Turn != "" {
		turn := g.Turn
		w.Turn = &turn
	}
	if g.Board != nil {
		w.Kind = g.Board.Kind()
		raw, err := json.Marshal(g.Board)
		if err != nil {
			return nil, errors.Wrap(err, "marshal board")
		}
		w.Board = raw
	}
	return json.Marshal(w)
}

func (g *GameState) UnmarshalJSON(data []byte) error {
	var w gameStateWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	g.Status = w.Status
	g.Players = w.Players
	g.InitiatorID = w.InitiatorID
	g.Turn = ""
	if w.Turn != nil {
		g.Turn = *w.Turn
	}

	var board Board
	switch w.Kind {
	case KindConnectFour:
		board = &ConnectFourBoard{}
	case KindDotsAndBoxes:
		board = &DotsAndBoxesBoard{}
	case "":
		g.Board = nil
		return nil
	default:
		return errors.Errorf("unknown game kind %q", w.Kind)
	}
	if len(w.Board) > 0 {
		if err := json.Unmarshal(w.Board, board); err != nil {
			return errors.Wrapf(err, "decode %s board", w.Kind)
		}
	}
	g.Board = board
	return nil
}
