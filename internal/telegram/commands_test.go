package telegram

import (
	"testing"

	"campusconnect/backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		text string
		want models.Command
	}{
		{"/search", models.Command{Type: models.CommandSearch}},
		{"/search@campus_bot", models.Command{Type: models.CommandSearch}},
		{"/stop", models.Command{Type: models.CommandStopSearch}},
		{"/leave", models.Command{Type: models.CommandLeave}},
		{"/start", models.Command{Type: cmdHelp}},
		{"/language", models.Command{Type: cmdLanguage}},
		{"/play c4", models.Command{Type: models.CommandPropose, Kind: models.KindConnectFour}},
		{"/play dots", models.Command{Type: models.CommandPropose, Kind: models.KindDotsAndBoxes}},
		{"/play dots 4", models.Command{Type: models.CommandPropose, Kind: models.KindDotsAndBoxes, GridSize: 4}},
		{"/play ttt", models.Command{Type: cmdTicTacToe}},
		{"/play TicTacToe", models.Command{Type: cmdTicTacToe}},
		{"/cell 1", models.Command{Type: cmdCell, Index: 0}},
		{"/cell 9", models.Command{Type: cmdCell, Index: 8}},
		{"/accept", models.Command{Type: models.CommandAccept}},
		{"/decline", models.Command{Type: models.CommandDecline}},
		{"/drop 1", models.Command{Type: models.CommandDrop, Column: 0}},
		{"  /drop   7 ", models.Command{Type: models.CommandDrop, Column: 6}},
		{"/line h 3", models.Command{Type: models.CommandLine, Orientation: "h", Index: 2}},
		{"/line V 1", models.Command{Type: models.CommandLine, Orientation: "v", Index: 0}},
		{"/quit", models.Command{Type: models.CommandQuit}},
		{"/block", models.Command{Type: models.CommandBlock}},
		{"/report", models.Command{Type: models.CommandReport}},
		{"/report critical he threatened me", models.Command{Type: models.CommandReport, ComplaintType: "Critical", Content: "he threatened me"}},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, err := ParseCommand(tt.text)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseCommand_Usage(t *testing.T) {
	tests := []struct {
		text string
		key  string
	}{
		{"/drop", "usage_drop"},
		{"/drop x", "usage_drop"},
		{"/drop 0", "usage_drop"},
		{"/line h", "usage_line"},
		{"/line d 2", "usage_line"},
		{"/line h zero", "usage_line"},
		{"/play", "usage_play"},
		{"/play chess", "usage_play"},
		{"/play c4 5", "usage_play"},
		{"/play dots big", "usage_play"},
		{"/report urgent", "usage_report"},
		{"/play ttt 3", "usage_play"},
		{"/cell", "usage_cell"},
		{"/cell 0", "usage_cell"},
		{"/cell 10", "usage_cell"},
		{"/cell x", "usage_cell"},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			_, err := ParseCommand(tt.text)
			var usage *UsageError
			require.ErrorAs(t, err, &usage)
			assert.Equal(t, tt.key, usage.Key)
		})
	}
}

func TestParseCommand_Unknown(t *testing.T) {
	for _, text := range []string{"/dance", "hello", ""} {
		_, err := ParseCommand(text)
		assert.ErrorIs(t, err, errUnknownCommand, text)
	}
}
