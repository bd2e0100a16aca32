package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"campusconnect/backend/internal/game"
	"campusconnect/backend/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
)

const (
	defaultHistory = 50
	maxHistory     = 200
	defaultWait    = 25 * time.Second
	maxWait        = 60 * time.Second
)

var errNoSearch = errors.New("no search started")

// StartMatch starts matchmaking. 200 with the session when a partner was
// claimed right away, 202 when the user is now waiting.
func (h *Handler) StartMatch(c *gin.Context) {
	s, err := h.hub.Search(c.Request.Context(), userID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	select {
	case <-s.Done():
		chat, err := s.Wait(c.Request.Context())
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "matched", "session": chat})
	default:
		c.JSON(http.StatusAccepted, gin.H{"status": "searching"})
	}
}

func (h *Handler) StopMatch(c *gin.Context) {
	if err := h.matcher.StopSearching(c.Request.Context(), userID(c)); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// WaitMatch long-polls the user's latest search. 204 when nothing happened
// within the timeout.
func (h *Handler) WaitMatch(c *gin.Context) {
	s := h.hub.LastSearch(userID(c))
	if s == nil {
		h.fail(c, errNoSearch)
		return
	}
	wait := defaultWait
	if v := c.Query("timeout"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid timeout"})
			return
		}
		wait = min(d, maxWait)
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), wait)
	defer cancel()
	chat, err := s.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		c.Status(http.StatusNoContent)
		return
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "matched", "session": chat})
}

func (h *Handler) GetChat(c *gin.Context) {
	chat, err := h.sessions.Get(c.Request.Context(), c.Param("id"), userID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, chat)
}

func (h *Handler) EnterChat(c *gin.Context) {
	v, err := h.hub.Enter(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"chat_id": v.ChatID, "partner_id": v.PartnerID})
}

func (h *Handler) LeaveChat(c *gin.Context) {
	uid := userID(c)
	if v := h.sessions.Current(uid); v == nil || v.ChatID != c.Param("id") {
		c.Status(http.StatusNoContent)
		return
	}
	if err := h.sessions.Leave(c.Request.Context(), uid); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) ListMessages(c *gin.Context) {
	ctx := c.Request.Context()
	chatID := c.Param("id")
	if _, err := h.sessions.Get(ctx, chatID, userID(c)); err != nil {
		h.fail(c, err)
		return
	}

	limit := defaultHistory
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = min(n, maxHistory)
	}

	history, err := h.users.GetChatHistory(ctx, chatID, limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	out := make([]models.ChatMessage, 0, len(history))
	for i := range history {
		out = append(out, history[i].ToMessage())
	}
	c.JSON(http.StatusOK, gin.H{"messages": out})
}

type messageRequest struct {
	Content string `json:"content" binding:"required"`
}

func (h *Handler) PostMessage(c *gin.Context) {
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content is required"})
		return
	}
	if err := h.hub.SendMessage(c.Request.Context(), userID(c), c.Param("id"), req.Content); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusCreated)
}

type proposeRequest struct {
	Kind     models.GameKind `json:"kind" binding:"required"`
	GridSize int             `json:"grid_size"`
}

func (h *Handler) ProposeGame(c *gin.Context) {
	var req proposeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "kind is required"})
		return
	}
	g, err := h.games.Propose(c.Request.Context(), c.Param("id"), userID(c), req.Kind, req.GridSize)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, g)
}

func (h *Handler) AcceptGame(c *gin.Context) {
	g, err := h.games.Accept(c.Request.Context(), c.Param("id"), userID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, g)
}

// QuitGame clears the game, whether it was proposed, running or over.
func (h *Handler) QuitGame(c *gin.Context) {
	if err := h.games.Quit(c.Request.Context(), c.Param("id"), userID(c)); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type moveRequest struct {
	Column      *int   `json:"column"`
	Orientation string `json:"orientation"`
	Index       int    `json:"index"`
}

// Move plays a Connect Four drop (column) or a Dots and Boxes line
// (orientation + index).
func (h *Handler) Move(c *gin.Context) {
	var req moveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid move"})
		return
	}
	ctx := c.Request.Context()
	chatID, uid := c.Param("id"), userID(c)

	var (
		g   *models.GameState
		err error
	)
	switch {
	case req.Column != nil:
		g, err = h.games.DropDisc(ctx, chatID, uid, *req.Column)
	case req.Orientation != "":
		o, ok := game.ParseOrientation(req.Orientation)
		if !ok {
			h.fail(c, game.ErrInvalidLine)
			return
		}
		g, err = h.games.ClaimLine(ctx, chatID, uid, o, req.Index)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "column or orientation is required"})
		return
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, g)
}

func (h *Handler) OpenFriendChat(c *gin.Context) {
	chat, err := h.sessions.OpenFriendChat(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, chat)
}

func (h *Handler) Block(c *gin.Context) {
	if err := h.moderation.Block(c.Request.Context(), userID(c), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) Unblock(c *gin.Context) {
	if err := h.moderation.Unblock(c.Request.Context(), userID(c), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type reportRequest struct {
	ReportedUserID string `json:"reported_user_id" binding:"required"`
	ChatID         string `json:"chat_id" binding:"required"`
	ComplaintType  string `json:"complaint_type" binding:"required"`
	Reason         string `json:"reason"`
}

// Report files a complaint about the other member of a chat the caller
// belongs to.
func (h *Handler) Report(c *gin.Context) {
	var req reportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "reported_user_id, chat_id and complaint_type are required"})
		return
	}
	ctx := c.Request.Context()
	uid := userID(c)

	chat, err := h.sessions.Get(ctx, req.ChatID, uid)
	if err != nil {
		h.fail(c, err)
		return
	}
	if !chat.HasMember(req.ReportedUserID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "reported user is not in this chat"})
		return
	}

	banned, err := h.moderation.Report(ctx, &models.Complaint{
		ReporterID:     uid,
		ReportedUserID: req.ReportedUserID,
		ChatID:         req.ChatID,
		ComplaintType:  req.ComplaintType,
		Reason:         req.Reason,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"banned": banned})
}
