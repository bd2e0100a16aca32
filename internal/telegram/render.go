package telegram

import (
	"fmt"
	"strings"

	"campusconnect/backend/internal/game"
	"campusconnect/backend/internal/localization"
	"campusconnect/backend/internal/models"
)

// renderEnvelope returns the text shown for env, or "" when the envelope
// produces no chat message. Session updates are rendered by the client,
// which knows what it showed last.
func renderEnvelope(loc *localization.Localizer, lang, self string, env models.Envelope) string {
	switch env.Type {
	case models.EnvelopeSearching:
		return loc.GetString(lang, "searching")
	case models.EnvelopeMatchFound:
		return loc.Format(lang, "match_found", partnerName(loc, lang, self, env.Session))
	case models.EnvelopePartnerLeft:
		return loc.GetString(lang, "partner_left")
	case models.EnvelopeSessionDeleted:
		return loc.GetString(lang, "chat_ended")
	case models.EnvelopePresence:
		if env.UserID == self || env.Presence == nil {
			return ""
		}
		if env.Presence.State == models.PresenceOnline {
			return loc.GetString(lang, "partner_online")
		}
		return loc.GetString(lang, "partner_offline")
	case models.EnvelopeMessage:
		if env.Message == nil || env.Message.SenderID == self {
			return ""
		}
		return env.Message.Content
	case models.EnvelopeError:
		return loc.Format(lang, "error", env.Error)
	}
	return ""
}

func partnerName(loc *localization.Localizer, lang, self string, s *models.ChatSession) string {
	if s != nil {
		if id, ok := s.PartnerOf(self); ok && s.Members[id].Name != "" {
			return s.Members[id].Name
		}
	}
	return loc.GetString(lang, "anonymous")
}

// renderGame draws g from self's point of view. It returns "" for nil.
func renderGame(loc *localization.Localizer, lang, self string, g *models.GameState) string {
	if g == nil {
		return ""
	}
	if g.Status == models.StatusPending {
		if g.InitiatorID == self {
			return loc.Format(lang, "game_proposed_by_you", gameName(loc, lang, g.Kind()))
		}
		return loc.Format(lang, "game_proposed", gameName(loc, lang, g.Kind()))
	}

	var b strings.Builder
	switch board := g.Board.(type) {
	case *models.ConnectFourBoard:
		drawConnectFour(&b, self, board)
	case *models.DotsAndBoxesBoard:
		drawDots(&b, loc, lang, self, board)
	}

	switch g.Status {
	case models.StatusDraw:
		b.WriteString(loc.GetString(lang, "game_draw"))
	case models.StatusWin:
		if winner(g) == self {
			b.WriteString(loc.GetString(lang, "game_won"))
		} else {
			b.WriteString(loc.GetString(lang, "game_lost"))
		}
	default:
		if g.Turn == self {
			b.WriteString(loc.GetString(lang, "game_your_turn"))
		} else {
			b.WriteString(loc.GetString(lang, "game_partner_turn"))
		}
	}
	return b.String()
}

func gameName(loc *localization.Localizer, lang string, kind models.GameKind) string {
	return loc.GetString(lang, "game_"+string(kind))
}

func winner(g *models.GameState) string {
	switch board := g.Board.(type) {
	case *models.ConnectFourBoard:
		return board.Winner
	case *models.DotsAndBoxesBoard:
		return board.Winner
	}
	return ""
}

func drawConnectFour(b *strings.Builder, self string, board *models.ConnectFourBoard) {
	for row := models.ConnectFourRows - 1; row >= 0; row-- {
		for col := 0; col < models.ConnectFourColumns; col++ {
			switch owner := board.At(col, row); {
			case owner == "":
				b.WriteString("⚪")
			case owner == self:
				b.WriteString("🔴")
			default:
				b.WriteString("🟡")
			}
		}
		b.WriteByte('\n')
	}
	b.WriteString("1️⃣2️⃣3️⃣4️⃣5️⃣6️⃣7️⃣\n")
}

// drawDots prints the grid with boxes marked Y (yours) or P (partner's),
// followed by the scores and the lines still free, numbered from 1.
func drawDots(b *strings.Builder, loc *localization.Localizer, lang, self string, board *models.DotsAndBoxesBoard) {
	n := board.GridSize
	mark := func(owner string) string {
		switch owner {
		case "":
			return " "
		case self:
			return "Y"
		}
		return "P"
	}

	for r := 0; r <= n; r++ {
		for c := 0; c < n; c++ {
			b.WriteString("•")
			if board.Horizontal[r*n+c] != "" {
				b.WriteString("──")
			} else {
				b.WriteString("  ")
			}
		}
		b.WriteString("•\n")
		if r == n {
			break
		}
		for c := 0; c <= n; c++ {
			if board.Vertical[r*(n+1)+c] != "" {
				b.WriteString("│")
			} else {
				b.WriteString(" ")
			}
			if c < n {
				b.WriteString(" " + mark(board.Boxes[r*n+c]))
			}
		}
		b.WriteByte('\n')
	}

	mine, theirs := 0, 0
	for id, score := range board.Scores {
		if id == self {
			mine = score
		} else {
			theirs = score
		}
	}
	b.WriteString(loc.Format(lang, "dots_score", mine, theirs))
	b.WriteByte('\n')

	var free []string
	for i, owner := range board.Horizontal {
		if owner == "" {
			free = append(free, fmt.Sprintf("h%d", i+1))
		}
	}
	for i, owner := range board.Vertical {
		if owner == "" {
			free = append(free, fmt.Sprintf("v%d", i+1))
		}
	}
	if len(free) > 0 {
		b.WriteString(loc.Format(lang, "dots_free", strings.Join(free, " ")))
		b.WriteByte('\n')
	}
}

var (
	tttMarks = map[string]string{game.MarkX: "❌", game.MarkO: "⭕"}
	tttCells = [9]string{"1️⃣", "2️⃣", "3️⃣", "4️⃣", "5️⃣", "6️⃣", "7️⃣", "8️⃣", "9️⃣"}
)

// renderTicTacToe draws a local game. Free cells show the number /cell
// takes.
func renderTicTacToe(loc *localization.Localizer, lang string, g *game.LocalTicTacToe) string {
	var b strings.Builder
	for i, mark := range g.Board {
		if mark == "" {
			b.WriteString(tttCells[i])
		} else {
			b.WriteString(tttMarks[mark])
		}
		if i%3 == 2 {
			b.WriteByte('\n')
		}
	}
	switch g.Status {
	case models.StatusWin:
		b.WriteString(loc.Format(lang, "ttt_won", tttMarks[g.Winner]))
	case models.StatusDraw:
		b.WriteString(loc.GetString(lang, "ttt_draw"))
	default:
		b.WriteString(loc.Format(lang, "ttt_turn", tttMarks[g.Turn]))
	}
	return b.String()
}
