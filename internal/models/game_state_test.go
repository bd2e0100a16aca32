package models_test

import (
	"encoding/json"
	"testing"
	"time"

	"campusconnect/backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGameStateJSON_ConnectFourVariant(t *testing.T) {
	board := &models.ConnectFourBoard{}
	board.Cells[board.Index(3, 0)] = "alice"
	state := &models.GameState{
		Status:      models.StatusActive,
		Players:     map[string]string{"alice": models.SeatFirst, "bob": models.SeatSecond},
		Turn:        "bob",
		InitiatorID: "alice",
		Board:       board,
	}

	raw, err := json.Marshal(state)
	require.NoError(t, err)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(raw, &wire))
	assert.Equal(t, "connect_four", wire["kind"])
	assert.Equal(t, "bob", wire["turn"])

	var decoded models.GameState
	require.NoError(t, json.Unmarshal(raw, &decoded))
	decodedBoard, ok := decoded.Board.(*models.ConnectFourBoard)
	require.True(t, ok, "board should decode as connect four")
	assert.Equal(t, "alice", decodedBoard.At(3, 0))
	assert.Equal(t, models.StatusActive, decoded.Status)
}

func TestGameStateJSON_TerminalTurnIsNull(t *testing.T) {
	state := models.GameState{
		Status: models.StatusDraw,
		Board:  models.NewDotsAndBoxesBoard(1, "a", "b"),
	}

	raw, err := json.Marshal(state)
	require.NoError(t, err)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(raw, &wire))
	v, present := wire["turn"]
	assert.True(t, present)
	assert.Nil(t, v)
}

func TestGameStateJSON_UnknownKind(t *testing.T) {
	var g models.GameState
	err := json.Unmarshal([]byte(`{"kind":"chess","status":"active"}`), &g)
	assert.Error(t, err)
}

func TestGameStateClone_IsDeep(t *testing.T) {
	orig := &models.GameState{
		Status:  models.StatusActive,
		Players: map[string]string{"a": models.SeatFirst, "b": models.SeatSecond},
		Turn:    "a",
		Board:   models.NewDotsAndBoxesBoard(2, "a", "b"),
	}

	c := orig.Clone()
	c.Players["a"] = "changed"
	c.Board.(*models.DotsAndBoxesBoard).Horizontal[0] = "a"
	c.Board.(*models.DotsAndBoxesBoard).Scores["a"] = 4

	assert.Equal(t, models.SeatFirst, orig.Players["a"])
	assert.Equal(t, "", orig.Board.(*models.DotsAndBoxesBoard).Horizontal[0])
	assert.Equal(t, 0, orig.Board.(*models.DotsAndBoxesBoard).Scores["a"])
}

func TestDotsAndBoxesBoardShape(t *testing.T) {
	b := models.NewDotsAndBoxesBoard(3, "a", "b")

	assert.Len(t, b.Horizontal, 12)
	assert.Len(t, b.Vertical, 12)
	assert.Len(t, b.Boxes, 9)
	assert.Equal(t, map[string]int{"a": 0, "b": 0}, b.Scores)
}

func TestChatSessionRoundTripWithGame(t *testing.T) {
	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	s := models.NewChatSession("c1", "zed", "amy", models.Member{Name: "Zed", Active: true}, models.Member{Name: "Amy"}, now)
	s.Game = &models.GameState{Status: models.StatusPending, InitiatorID: "amy", Board: &models.ConnectFourBoard{}}

	raw, err := json.Marshal(s)
	require.NoError(t, err)

	var decoded models.ChatSession
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, []string{"amy", "zed"}, decoded.MemberIDs)
	assert.False(t, decoded.Members["zed"].Active, "seeded members start inactive")
	require.NotNil(t, decoded.Game)
	assert.Equal(t, models.KindConnectFour, decoded.Game.Kind())
	assert.True(t, decoded.CreatedAt.Equal(now))
}

func TestChatSessionPartnerOf(t *testing.T) {
	s := models.NewChatSession("c1", "a", "b", models.Member{}, models.Member{}, time.Now())

	p, ok := s.PartnerOf("a")
	assert.True(t, ok)
	assert.Equal(t, "b", p)

	_, ok = s.PartnerOf("stranger")
	assert.False(t, ok)
}

func TestWaitingEntryBlocks(t *testing.T) {
	w := models.WaitingEntry{UserID: "a", BlockedUsers: []string{"x"}}

	assert.True(t, w.Blocks("x"))
	assert.False(t, w.Blocks("y"))
	assert.False(t, w.Matched())
}
