package handler

import (
	"net/http"
	"strings"
	"time"

	"campusconnect/backend/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	jwt "github.com/golang-jwt/jwt/v5"
)

const (
	tokenTTL    = 72 * time.Hour
	tokenIssuer = "campusconnect"
	ctxUserID   = "user_id"
)

var errInvalidToken = errors.New("invalid or expired token")

// Authenticator issues and checks the bearer tokens of anonymous users.
type Authenticator struct {
	secret []byte
	now    func() time.Time
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret), now: time.Now}
}

// Issue signs a token for userID.
func (a *Authenticator) Issue(userID string) (string, error) {
	now := a.now()
	claims := jwt.MapClaims{
		"anon_id": userID,
		"iat":     now.Unix(),
		"exp":     now.Add(tokenTTL).Unix(),
		"iss":     tokenIssuer,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Verify returns the user id carried by a valid token.
func (a *Authenticator) Verify(raw string) (string, error) {
	token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithIssuer(tokenIssuer), jwt.WithExpirationRequired(), jwt.WithTimeFunc(a.now))
	if err != nil || !token.Valid {
		return "", errInvalidToken
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", errInvalidToken
	}
	id, _ := claims["anon_id"].(string)
	if id == "" {
		return "", errInvalidToken
	}
	return id, nil
}

// bearer extracts the token from the Authorization header, falling back to
// the token query parameter for websocket upgrades from browsers.
func bearer(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return c.Query("token")
}

// RequireAuth rejects requests without a valid token and stores the user id
// in the context.
func (h *Handler) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearer(c)
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization token missing"})
			return
		}
		userID, err := h.auth.Verify(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Set(ctxUserID, userID)
		c.Next()
	}
}

type anonRequest struct {
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url"`
}

// GetAnonID creates an anonymous profile and returns a token for it.
func (h *Handler) GetAnonID(c *gin.Context) {
	var req anonRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
			return
		}
	}
	if req.DisplayName == "" {
		req.DisplayName = c.Query("name")
	}

	id := uuid.NewString()
	if req.DisplayName == "" {
		req.DisplayName = "Guest-" + id[:4]
	}
	user := &models.User{ID: id, DisplayName: req.DisplayName, AvatarURL: req.AvatarURL}
	if err := h.users.CreateUser(c.Request.Context(), user); err != nil {
		h.fail(c, errors.Wrap(err, "create anonymous user"))
		return
	}

	token, err := h.auth.Issue(id)
	if err != nil {
		h.fail(c, errors.Wrap(err, "sign token"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "anon_id": id})
}

// SignOut drops the caller's realtime connections and marks them offline.
// The token itself stays valid until it expires.
func (h *Handler) SignOut(c *gin.Context) {
	if err := h.hub.SignOut(c.Request.Context(), userID(c)); err != nil {
		h.fail(c, errors.Wrap(err, "sign out"))
		return
	}
	c.Status(http.StatusNoContent)
}
