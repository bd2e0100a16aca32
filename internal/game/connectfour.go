package game

import "campusconnect/backend/internal/models"

var directions = [4][2]int{
	{1, 0},  // horizontal
	{0, 1},  // vertical
	{1, 1},  // rising diagonal
	{1, -1}, // falling diagonal
}

// checkMover validates the preconditions shared by every move.
func checkMover(g *models.GameState, caller string, kind models.GameKind) error {
	if g == nil || g.Board == nil {
		return ErrNoGame
	}
	if g.Kind() != kind {
		return ErrWrongGame
	}
	if g.Status != models.StatusActive {
		return ErrNotActive
	}
	if g.Turn != caller {
		return ErrNotYourTurn
	}
	return nil
}

// LowestEmptyRow returns the row a disc dropped into column lands on, or -1
// when the column is full.
func LowestEmptyRow(b *models.ConnectFourBoard, column int) int {
	for row := 0; row < models.ConnectFourRows; row++ {
		if b.At(column, row) == "" {
			return row
		}
	}
	return -1
}

// CheckConnectFour scans the whole board and returns the owner of a line of
// four, if any.
func CheckConnectFour(b *models.ConnectFourBoard) (string, bool) {
	for col := 0; col < models.ConnectFourColumns; col++ {
		for row := 0; row < models.ConnectFourRows; row++ {
			owner := b.At(col, row)
			if owner == "" {
				continue
			}
			for _, d := range directions {
				n := 1
				for n < 4 && b.At(col+d[0]*n, row+d[1]*n) == owner {
					n++
				}
				if n == 4 {
					return owner, true
				}
			}
		}
	}
	return "", false
}

func boardFull(b *models.ConnectFourBoard) bool {
	for _, c := range b.Cells {
		if c == "" {
			return false
		}
	}
	return true
}

// ApplyDrop returns the state after caller drops a disc into column.
// g is not modified.
func ApplyDrop(g *models.GameState, caller string, column int) (*models.GameState, error) {
	if err := checkMover(g, caller, models.KindConnectFour); err != nil {
		return nil, err
	}
	if column < 0 || column >= models.ConnectFourColumns {
		return nil, ErrInvalidColumn
	}

	next := g.Clone()
	board := next.Board.(*models.ConnectFourBoard)
	row := LowestEmptyRow(board, column)
	if row < 0 {
		return nil, ErrColumnFull
	}
	board.Cells[board.Index(column, row)] = caller

	switch winner, won := CheckConnectFour(board); {
	case won:
		next.Status = models.StatusWin
		next.Turn = ""
		board.Winner = winner
	case boardFull(board):
		next.Status = models.StatusDraw
		next.Turn = ""
	default:
		next.Turn = next.Opponent(caller)
	}
	return next, nil
}
