package game

import "campusconnect/backend/internal/models"

type Orientation string

const (
	Horizontal Orientation = "h"
	Vertical   Orientation = "v"
)

// Grid sizes accepted for Dots and Boxes.
const (
	MinGridSize = 1
	MaxGridSize = 8
)

// ParseOrientation accepts "h"/"v" and the long forms.
func ParseOrientation(s string) (Orientation, bool) {
	switch s {
	case "h", "horizontal":
		return Horizontal, true
	case "v", "vertical":
		return Vertical, true
	}
	return "", false
}

// boxComplete reports whether all four sides of box (r, c) are owned.
func boxComplete(b *models.DotsAndBoxesBoard, r, c int) bool {
	n := b.GridSize
	return b.Horizontal[r*n+c] != "" &&
		b.Horizontal[(r+1)*n+c] != "" &&
		b.Vertical[r*(n+1)+c] != "" &&
		b.Vertical[r*(n+1)+c+1] != ""
}

// adjacentBoxes lists the (up to two) boxes a line borders, as [row, col].
func adjacentBoxes(n int, o Orientation, index int) [][2]int {
	var out [][2]int
	switch o {
	case Horizontal:
		r, c := index/n, index%n
		if r > 0 {
			out = append(out, [2]int{r - 1, c})
		}
		if r < n {
			out = append(out, [2]int{r, c})
		}
	case Vertical:
		r, c := index/(n+1), index%(n+1)
		if c > 0 {
			out = append(out, [2]int{r, c - 1})
		}
		if c < n {
			out = append(out, [2]int{r, c})
		}
	}
	return out
}

// ApplyLine returns the state after caller claims a line. Completing a box
// scores it and keeps the turn; otherwise the turn passes. g is not modified.
func ApplyLine(g *models.GameState, caller string, o Orientation, index int) (*models.GameState, error) {
	if err := checkMover(g, caller, models.KindDotsAndBoxes); err != nil {
		return nil, err
	}

	next := g.Clone()
	board := next.Board.(*models.DotsAndBoxesBoard)

	var lines []string
	switch o {
	case Horizontal:
		lines = board.Horizontal
	case Vertical:
		lines = board.Vertical
	default:
		return nil, ErrInvalidLine
	}
	if index < 0 || index >= len(lines) {
		return nil, ErrInvalidLine
	}
	if lines[index] != "" {
		return nil, ErrLineTaken
	}
	lines[index] = caller

	completed := 0
	for _, box := range adjacentBoxes(board.GridSize, o, index) {
		i := box[0]*board.GridSize + box[1]
		if board.Boxes[i] == "" && boxComplete(board, box[0], box[1]) {
			board.Boxes[i] = caller
			completed++
		}
	}
	board.Scores[caller] += completed

	total := 0
	for _, s := range board.Scores {
		total += s
	}
	switch {
	case total == board.GridSize*board.GridSize:
		next.Turn = ""
		opp := next.Opponent(caller)
		switch {
		case board.Scores[caller] > board.Scores[opp]:
			next.Status, board.Winner = models.StatusWin, caller
		case board.Scores[opp] > board.Scores[caller]:
			next.Status, board.Winner = models.StatusWin, opp
		default:
			next.Status = models.StatusDraw
		}
	case completed == 0:
		next.Turn = next.Opponent(caller)
	}
	return next, nil
}
