package handler

import (
	"context"
	"net/http"

	"campusconnect/backend/internal/chathub"
	"campusconnect/backend/internal/docstore"
	"campusconnect/backend/internal/game"
	"campusconnect/backend/internal/matchmaker"
	"campusconnect/backend/internal/models"
	"campusconnect/backend/internal/moderation"
	"campusconnect/backend/internal/session"
	"campusconnect/backend/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// UserStore is the relational storage the handlers touch directly.
type UserStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetChatHistory(ctx context.Context, chatID string, limit int) ([]models.ChatHistory, error)
}

// Moderation is the part of moderation exposed over HTTP.
type Moderation interface {
	Block(ctx context.Context, userID, targetID string) error
	Unblock(ctx context.Context, userID, targetID string) error
	Report(ctx context.Context, c *models.Complaint) (bool, error)
}

// Deps bundles what the handlers are built from.
type Deps struct {
	Hub        *chathub.ManagerService
	Sessions   *session.Registry
	Matcher    *matchmaker.Matcher
	Games      *game.Engine
	Users      UserStore
	Moderation Moderation
	Auth       *Authenticator
}

// Handler serves the HTTP and websocket API.
type Handler struct {
	hub        *chathub.ManagerService
	sessions   *session.Registry
	matcher    *matchmaker.Matcher
	games      *game.Engine
	users      UserStore
	moderation Moderation
	auth       *Authenticator
	log        *zap.Logger
}

func NewHandler(d Deps, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		hub:        d.Hub,
		sessions:   d.Sessions,
		matcher:    d.Matcher,
		games:      d.Games,
		users:      d.Users,
		moderation: d.Moderation,
		auth:       d.Auth,
		log:        log,
	}
}

// Register mounts every route on r.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/anonid", h.GetAnonID)
	r.POST("/anonid", h.GetAnonID)

	api := r.Group("/", h.RequireAuth())
	api.GET("/ws", h.ServeWebSocket)
	api.POST("/signout", h.SignOut)

	api.POST("/match", h.StartMatch)
	api.DELETE("/match", h.StopMatch)
	api.GET("/match/wait", h.WaitMatch)

	chats := api.Group("/chats/:id")
	chats.GET("", h.GetChat)
	chats.POST("/enter", h.EnterChat)
	chats.POST("/leave", h.LeaveChat)
	chats.GET("/messages", h.ListMessages)
	chats.POST("/messages", h.PostMessage)
	chats.POST("/game", h.ProposeGame)
	chats.POST("/game/accept", h.AcceptGame)
	chats.POST("/game/move", h.Move)
	chats.DELETE("/game", h.QuitGame)

	api.POST("/friends/:id/chat", h.OpenFriendChat)
	api.POST("/users/:id/block", h.Block)
	api.DELETE("/users/:id/block", h.Unblock)
	api.POST("/reports", h.Report)
}

func userID(c *gin.Context) string { return c.GetString(ctxUserID) }

var (
	notFound = []error{
		session.ErrSessionNotFound, matchmaker.ErrSessionNotFound, matchmaker.ErrProfileNotFound,
		docstore.ErrNotFound, storage.ErrUserNotFound, errNoSearch,
	}
	badInput = []error{
		chathub.ErrEmptyMessage, chathub.ErrUnknownCommand, session.ErrSelfChat,
		moderation.ErrUnknownComplaintType, moderation.ErrSelfReport, moderation.ErrSelfBlock,
	}
	forbidden = []error{session.ErrNotMember, chathub.ErrBanned}
	conflict  = []error{matchmaker.ErrSearchCancelled, chathub.ErrNoOpenChat}
)

func matchAny(err error, targets []error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}

// statusOf maps a service error to an HTTP status.
func statusOf(err error) int {
	var moveErr *game.MoveError
	switch {
	case errors.As(err, &moveErr):
		return http.StatusConflict
	case matchAny(err, notFound):
		return http.StatusNotFound
	case matchAny(err, badInput):
		return http.StatusBadRequest
	case matchAny(err, forbidden):
		return http.StatusForbidden
	case matchAny(err, conflict):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// fail writes err as a JSON error. Unexpected errors are logged and hidden.
func (h *Handler) fail(c *gin.Context, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		h.log.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.String("user_id", userID(c)),
			zap.Error(err))
		_ = c.Error(err)
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": errors.Cause(err).Error()})
}
