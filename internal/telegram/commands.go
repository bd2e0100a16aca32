package telegram

import (
	"strconv"
	"strings"

	"campusconnect/backend/internal/models"

	"github.com/pkg/errors"
)

// Bot-local commands. They never reach the hub.
const (
	cmdStart     = "start"
	cmdHelp      = "help"
	cmdLanguage  = "language"
	cmdTicTacToe = "tictactoe"
	cmdCell      = "cell"
)

// UsageError means a known command had bad arguments. Key names the
// localized usage hint.
type UsageError struct {
	Key string
}

func (e *UsageError) Error() string { return "telegram: bad usage, see " + e.Key }

var errUnknownCommand = errors.New("telegram: unknown command")

// ParseCommand turns a "/command args" message into a hub command. Columns
// and line indexes are typed 1-based and converted to the 0-based values the
// game engine expects.
func ParseCommand(text string) (models.Command, error) {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return models.Command{}, errUnknownCommand
	}
	// "/search@campus_bot" in group chats.
	name, _, _ := strings.Cut(strings.TrimPrefix(fields[0], "/"), "@")
	args := fields[1:]

	switch strings.ToLower(name) {
	case cmdStart, cmdHelp:
		return models.Command{Type: cmdHelp}, nil
	case cmdLanguage:
		return models.Command{Type: cmdLanguage}, nil
	case "search":
		return models.Command{Type: models.CommandSearch}, nil
	case "stop":
		return models.Command{Type: models.CommandStopSearch}, nil
	case "leave":
		return models.Command{Type: models.CommandLeave}, nil
	case "accept":
		return models.Command{Type: models.CommandAccept}, nil
	case "decline":
		return models.Command{Type: models.CommandDecline}, nil
	case "quit":
		return models.Command{Type: models.CommandQuit}, nil
	case "block":
		return models.Command{Type: models.CommandBlock}, nil
	case "report":
		return parseReport(args)
	case "play":
		return parsePlay(args)
	case cmdCell:
		if len(args) != 1 {
			return models.Command{}, &UsageError{Key: "usage_cell"}
		}
		cell, err := strconv.Atoi(args[0])
		if err != nil || cell < 1 || cell > 9 {
			return models.Command{}, &UsageError{Key: "usage_cell"}
		}
		return models.Command{Type: cmdCell, Index: cell - 1}, nil
	case "drop":
		if len(args) != 1 {
			return models.Command{}, &UsageError{Key: "usage_drop"}
		}
		col, err := strconv.Atoi(args[0])
		if err != nil || col < 1 {
			return models.Command{}, &UsageError{Key: "usage_drop"}
		}
		return models.Command{Type: models.CommandDrop, Column: col - 1}, nil
	case "line":
		if len(args) != 2 {
			return models.Command{}, &UsageError{Key: "usage_line"}
		}
		idx, err := strconv.Atoi(args[1])
		if err != nil || idx < 1 {
			return models.Command{}, &UsageError{Key: "usage_line"}
		}
		o := strings.ToLower(args[0])
		if o != "h" && o != "v" {
			return models.Command{}, &UsageError{Key: "usage_line"}
		}
		return models.Command{Type: models.CommandLine, Orientation: o, Index: idx - 1}, nil
	}
	return models.Command{}, errors.Wrap(errUnknownCommand, name)
}

func parsePlay(args []string) (models.Command, error) {
	if len(args) == 0 || len(args) > 2 {
		return models.Command{}, &UsageError{Key: "usage_play"}
	}
	cmd := models.Command{Type: models.CommandPropose}
	switch strings.ToLower(args[0]) {
	case "ttt", cmdTicTacToe:
		// Played on this device only; the partner is not involved.
		if len(args) > 1 {
			return models.Command{}, &UsageError{Key: "usage_play"}
		}
		return models.Command{Type: cmdTicTacToe}, nil
	case "c4", "connect4":
		if len(args) > 1 {
			return models.Command{}, &UsageError{Key: "usage_play"}
		}
		cmd.Kind = models.KindConnectFour
	case "dots":
		cmd.Kind = models.KindDotsAndBoxes
		if len(args) == 2 {
			n, err := strconv.Atoi(args[1])
			if err != nil {
				return models.Command{}, &UsageError{Key: "usage_play"}
			}
			cmd.GridSize = n
		}
	default:
		return models.Command{}, &UsageError{Key: "usage_play"}
	}
	return cmd, nil
}

// parseReport accepts an optional severity; without one the bot asks for it.
func parseReport(args []string) (models.Command, error) {
	cmd := models.Command{Type: models.CommandReport}
	if len(args) == 0 {
		return cmd, nil
	}
	switch strings.ToLower(args[0]) {
	case "low":
		cmd.ComplaintType = "Low"
	case "medium":
		cmd.ComplaintType = "Medium"
	case "critical":
		cmd.ComplaintType = "Critical"
	default:
		return models.Command{}, &UsageError{Key: "usage_report"}
	}
	cmd.Content = strings.Join(args[1:], " ")
	return cmd, nil
}
