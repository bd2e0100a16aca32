package game

import "campusconnect/backend/internal/models"

// Tic-tac-toe marks.
const (
	MarkX = "X"
	MarkO = "O"
)

var winningTriples = [8][3]int{
	{0, 1, 2}, {3, 4, 5}, {6, 7, 8},
	{0, 3, 6}, {1, 4, 7}, {2, 5, 8},
	{0, 4, 8}, {2, 4, 6},
}

// LocalTicTacToe is a pass-and-play game on one device. It is never stored
// or synchronized, so there is no turn conflict to resolve.
type LocalTicTacToe struct {
	Board  [9]string
	Turn   string
	Status models.GameStatus
	Winner string
}

func NewLocalTicTacToe() *LocalTicTacToe {
	return &LocalTicTacToe{Turn: MarkX, Status: models.StatusActive}
}

// Play marks cell (0-8, row-major) for the side to move.
func (g *LocalTicTacToe) Play(cell int) error {
	if g.Status != models.StatusActive {
		return ErrNotActive
	}
	if cell < 0 || cell >= len(g.Board) {
		return ErrInvalidCell
	}
	if g.Board[cell] != "" {
		return ErrCellTaken
	}
	g.Board[cell] = g.Turn

	if w := TicTacToeWinner(g.Board); w != "" {
		g.Status, g.Winner, g.Turn = models.StatusWin, w, ""
		return nil
	}
	for _, c := range g.Board {
		if c == "" {
			if g.Turn == MarkX {
				g.Turn = MarkO
			} else {
				g.Turn = MarkX
			}
			return nil
		}
	}
	g.Status, g.Turn = models.StatusDraw, ""
	return nil
}

// Reset starts a new round with X to move.
func (g *LocalTicTacToe) Reset() { *g = *NewLocalTicTacToe() }

// TicTacToeWinner returns the mark owning a full triple, "" if none.
func TicTacToeWinner(b [9]string) string {
	for _, t := range winningTriples {
		if b[t[0]] != "" && b[t[0]] == b[t[1]] && b[t[1]] == b[t[2]] {
			return b[t[0]]
		}
	}
	return ""
}
