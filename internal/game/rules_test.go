package game_test

import (
	"math/rand"
	"testing"

	"campusconnect/backend/internal/game"
	"campusconnect/backend/internal/models"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	alice = "alice"
	bob   = "bob"
)

func activeConnectFour() *models.GameState {
	return &models.GameState{
		Status:      models.StatusActive,
		Players:     map[string]string{alice: models.SeatFirst, bob: models.SeatSecond},
		Turn:        alice,
		InitiatorID: alice,
		Board:       &models.ConnectFourBoard{},
	}
}

func activeDots(n int) *models.GameState {
	return &models.GameState{
		Status:      models.StatusActive,
		Players:     map[string]string{alice: models.SeatFirst, bob: models.SeatSecond},
		Turn:        alice,
		InitiatorID: alice,
		Board:       models.NewDotsAndBoxesBoard(n, alice, bob),
	}
}

func TestConnectFour_ColumnThreeWin(t *testing.T) {
	g := activeConnectFour()
	var err error
	for i := 0; i < 4; i++ {
		g, err = game.ApplyDrop(g, alice, 3)
		require.NoError(t, err)
		if i < 3 {
			assert.Equal(t, models.StatusActive, g.Status)
			g, err = game.ApplyDrop(g, bob, 0)
			require.NoError(t, err)
		}
	}

	assert.Equal(t, models.StatusWin, g.Status)
	assert.Equal(t, "", g.Turn)
	assert.Equal(t, alice, g.Board.(*models.ConnectFourBoard).Winner)
}

func TestConnectFour_Preconditions(t *testing.T) {
	g := activeConnectFour()

	_, err := game.ApplyDrop(g, bob, 0)
	assert.ErrorIs(t, err, game.ErrNotYourTurn)

	_, err = game.ApplyDrop(g, alice, 7)
	assert.ErrorIs(t, err, game.ErrInvalidColumn)

	_, err = game.ApplyDrop(nil, alice, 0)
	assert.ErrorIs(t, err, game.ErrNoGame)

	_, err = game.ApplyDrop(activeDots(2), alice, 0)
	assert.ErrorIs(t, err, game.ErrWrongGame)

	pending := activeConnectFour()
	pending.Status, pending.Turn = models.StatusPending, ""
	_, err = game.ApplyDrop(pending, alice, 0)
	assert.ErrorIs(t, err, game.ErrNotActive)
}

func TestConnectFour_ColumnFull(t *testing.T) {
	g := activeConnectFour()
	var err error
	// Alternating discs in one column never make four.
	for i := 0; i < models.ConnectFourRows; i++ {
		g, err = game.ApplyDrop(g, g.Turn, 5)
		require.NoError(t, err)
	}
	_, err = game.ApplyDrop(g, g.Turn, 5)
	assert.ErrorIs(t, err, game.ErrColumnFull)
}

func TestConnectFour_DoesNotMutateInput(t *testing.T) {
	g := activeConnectFour()
	_, err := game.ApplyDrop(g, alice, 2)
	require.NoError(t, err)
	assert.Equal(t, "", g.Board.(*models.ConnectFourBoard).At(2, 0))
	assert.Equal(t, alice, g.Turn)
}

// drawPattern fills (c, r) so that no line of four exists in any direction.
func drawPattern(c, r int) string {
	if ((c+2*r)%4)/2 == 0 {
		return alice
	}
	return bob
}

func TestConnectFour_FullBoardIsDraw(t *testing.T) {
	g := activeConnectFour()
	board := g.Board.(*models.ConnectFourBoard)
	for c := 0; c < models.ConnectFourColumns; c++ {
		for r := 0; r < models.ConnectFourRows; r++ {
			if c == 6 && r == 5 {
				continue
			}
			board.Cells[board.Index(c, r)] = drawPattern(c, r)
		}
	}
	_, won := game.CheckConnectFour(board)
	require.False(t, won)
	g.Turn = drawPattern(6, 5)

	next, err := game.ApplyDrop(g, g.Turn, 6)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDraw, next.Status)
	assert.Equal(t, "", next.Turn)
}

// hasFour is an independent reference for CheckConnectFour.
func hasFour(b *models.ConnectFourBoard) bool {
	for c := 0; c < models.ConnectFourColumns; c++ {
		for r := 0; r < models.ConnectFourRows; r++ {
			o := b.At(c, r)
			if o == "" {
				continue
			}
			if c+3 < models.ConnectFourColumns && b.At(c+1, r) == o && b.At(c+2, r) == o && b.At(c+3, r) == o {
				return true
			}
			if r+3 < models.ConnectFourRows && b.At(c, r+1) == o && b.At(c, r+2) == o && b.At(c, r+3) == o {
				return true
			}
			if b.At(c+1, r+1) == o && b.At(c+2, r+2) == o && b.At(c+3, r+3) == o {
				return true
			}
			if b.At(c+1, r-1) == o && b.At(c+2, r-2) == o && b.At(c+3, r-3) == o {
				return true
			}
		}
	}
	return false
}

func TestConnectFour_RandomGamesKeepInvariants(t *testing.T) {
	for seed := int64(1); seed <= 200; seed++ {
		rng := rand.New(rand.NewSource(seed))
		g := activeConnectFour()
		moves := 0

		for g.Status == models.StatusActive {
			require.Contains(t, g.Players, g.Turn, "active game must have a player to move")

			col := rng.Intn(models.ConnectFourColumns)
			next, err := game.ApplyDrop(g, g.Turn, col)
			if errors.Is(err, game.ErrColumnFull) {
				continue
			}
			require.NoError(t, err)
			moves++

			board := next.Board.(*models.ConnectFourBoard)
			filled := 0
			for _, cell := range board.Cells {
				if cell != "" {
					filled++
				}
			}
			require.Equal(t, moves, filled, "each move fills exactly one new cell")

			_, won := game.CheckConnectFour(board)
			require.Equal(t, hasFour(board), won, "seed %d", seed)
			if next.Status.Terminal() {
				require.Equal(t, "", next.Turn)
			}
			g = next
		}
	}
}

func TestDotsAndBoxes_SingleBox(t *testing.T) {
	g := activeDots(1)
	var err error

	g, err = game.ApplyLine(g, alice, game.Horizontal, 0)
	require.NoError(t, err)
	assert.Equal(t, bob, g.Turn)
	g, err = game.ApplyLine(g, bob, game.Horizontal, 1)
	require.NoError(t, err)
	g, err = game.ApplyLine(g, alice, game.Vertical, 0)
	require.NoError(t, err)
	g, err = game.ApplyLine(g, bob, game.Vertical, 1)
	require.NoError(t, err)

	board := g.Board.(*models.DotsAndBoxesBoard)
	assert.Equal(t, 1, board.Scores[bob])
	assert.Equal(t, bob, board.Boxes[0])
	assert.Equal(t, models.StatusWin, g.Status)
	assert.Equal(t, bob, board.Winner)
	assert.Equal(t, "", g.Turn)
}

func TestDotsAndBoxes_ExtraTurnOnCompletion(t *testing.T) {
	g := activeDots(2)
	board := g.Board.(*models.DotsAndBoxesBoard)
	// Three sides of the top-left box are already drawn.
	board.Horizontal[0] = bob
	board.Horizontal[2] = bob
	board.Vertical[0] = bob

	next, err := game.ApplyLine(g, alice, game.Vertical, 1)
	require.NoError(t, err)
	assert.Equal(t, alice, next.Turn, "completing a box keeps the turn")
	assert.Equal(t, 1, next.Board.(*models.DotsAndBoxesBoard).Scores[alice])
}

func TestDotsAndBoxes_DoubleCompletion(t *testing.T) {
	g := activeDots(2)
	board := g.Board.(*models.DotsAndBoxesBoard)
	// Boxes (0,0) and (0,1) only miss the shared vertical line 1.
	board.Horizontal[0], board.Horizontal[1] = bob, bob
	board.Horizontal[2], board.Horizontal[3] = bob, bob
	board.Vertical[0], board.Vertical[2] = bob, bob

	next, err := game.ApplyLine(g, alice, game.Vertical, 1)
	require.NoError(t, err)
	nb := next.Board.(*models.DotsAndBoxesBoard)
	assert.Equal(t, 2, nb.Scores[alice])
	assert.Equal(t, alice, nb.Boxes[0])
	assert.Equal(t, alice, nb.Boxes[1])
}

func TestDotsAndBoxes_Preconditions(t *testing.T) {
	g := activeDots(2)

	_, err := game.ApplyLine(g, bob, game.Horizontal, 0)
	assert.ErrorIs(t, err, game.ErrNotYourTurn)

	_, err = game.ApplyLine(g, alice, game.Horizontal, 6)
	assert.ErrorIs(t, err, game.ErrInvalidLine)

	_, err = game.ApplyLine(g, alice, "diagonal", 0)
	assert.ErrorIs(t, err, game.ErrInvalidLine)

	next, err := game.ApplyLine(g, alice, game.Horizontal, 0)
	require.NoError(t, err)
	_, err = game.ApplyLine(next, bob, game.Horizontal, 0)
	assert.ErrorIs(t, err, game.ErrLineTaken)
}

func TestDotsAndBoxes_RandomGamesKeepInvariants(t *testing.T) {
	for seed := int64(1); seed <= 100; seed++ {
		rng := rand.New(rand.NewSource(seed))
		n := 1 + rng.Intn(4)
		g := activeDots(n)

		for g.Status == models.StatusActive {
			require.Contains(t, g.Players, g.Turn)

			o := game.Horizontal
			if rng.Intn(2) == 1 {
				o = game.Vertical
			}
			next, err := game.ApplyLine(g, g.Turn, o, rng.Intn(n*(n+1)))
			if errors.Is(err, game.ErrLineTaken) {
				continue
			}
			require.NoError(t, err)

			board := next.Board.(*models.DotsAndBoxesBoard)
			filled, sum := 0, 0
			for _, b := range board.Boxes {
				if b != "" {
					filled++
				}
			}
			for _, s := range board.Scores {
				sum += s
			}
			require.Equal(t, filled, sum, "seed %d", seed)
			if filled == n*n {
				require.True(t, next.Status.Terminal())
				require.Equal(t, "", next.Turn)
			}
			g = next
		}
	}
}

func TestParseOrientation(t *testing.T) {
	o, ok := game.ParseOrientation("h")
	assert.True(t, ok)
	assert.Equal(t, game.Horizontal, o)

	o, ok = game.ParseOrientation("vertical")
	assert.True(t, ok)
	assert.Equal(t, game.Vertical, o)

	_, ok = game.ParseOrientation("x")
	assert.False(t, ok)
}

func TestLocalTicTacToe(t *testing.T) {
	g := game.NewLocalTicTacToe()

	for _, cell := range []int{0, 3, 1, 4} {
		require.NoError(t, g.Play(cell))
	}
	assert.ErrorIs(t, g.Play(0), game.ErrCellTaken)
	assert.ErrorIs(t, g.Play(9), game.ErrInvalidCell)

	require.NoError(t, g.Play(2))
	assert.Equal(t, models.StatusWin, g.Status)
	assert.Equal(t, game.MarkX, g.Winner)
	assert.ErrorIs(t, g.Play(5), game.ErrNotActive)

	g.Reset()
	// X O X / X O O / O X X
	for _, cell := range []int{0, 1, 2, 4, 3, 5, 7, 6, 8} {
		require.NoError(t, g.Play(cell))
	}
	assert.Equal(t, models.StatusDraw, g.Status)
	assert.Equal(t, "", g.Turn)
}
