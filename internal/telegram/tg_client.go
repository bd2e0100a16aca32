package telegram

import (
	"sync"

	"campusconnect/backend/internal/chathub"
	"campusconnect/backend/internal/localization"
	"campusconnect/backend/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

const sendBuffer = 64

// Sender is the part of *tgbotapi.BotAPI a client writes through.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Hub is the part of the chat hub the bot talks to.
type Hub interface {
	Register(c chathub.Client) bool
	Submit(in chathub.Incoming) bool
}

// Client implements chathub.Client for one Telegram chat. There is no read
// pump: incoming updates are handled centrally by BotService.
type Client struct {
	UserID string
	ChatID int64
	Send   chan models.Envelope

	hub Hub
	bot Sender
	loc *localization.Localizer
	log *zap.Logger

	mu       sync.Mutex
	lang     string
	lastGame string
	closed   bool
	hooks    []func()
}

func NewClient(userID string, chatID int64, lang string, hub Hub, bot Sender, loc *localization.Localizer, log *zap.Logger) *Client {
	return &Client{
		UserID: userID,
		ChatID: chatID,
		Send:   make(chan models.Envelope, sendBuffer),
		hub:    hub,
		bot:    bot,
		loc:    loc,
		log:    log.With(zap.String("user_id", userID), zap.Int64("telegram_chat", chatID)),
		lang:   lang,
	}
}

func (c *Client) GetUserID() string                      { return c.UserID }
func (c *Client) GetSendChannel() chan<- models.Envelope { return c.Send }

func (c *Client) OnDisconnect(fn func()) {
	c.mu.Lock()
	if !c.closed {
		c.hooks = append(c.hooks, fn)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	fn()
}

// Run starts the write pump.
func (c *Client) Run() {
	go c.writePump()
}

// Close closes the Send channel and runs the disconnect hooks once.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	hooks := c.hooks
	c.hooks = nil
	close(c.Send)
	c.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
}

// Closed reports whether the hub dropped this client.
func (c *Client) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) Language() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lang
}

func (c *Client) SetLanguage(lang string) {
	c.mu.Lock()
	c.lang = lang
	c.mu.Unlock()
}

func (c *Client) writePump() {
	defer c.log.Debug("telegram write pump stopped")

	for env := range c.Send {
		text := c.render(env)
		if text == "" {
			continue
		}
		if _, err := c.bot.Send(tgbotapi.NewMessage(c.ChatID, text)); err != nil {
			c.log.Warn("failed to send telegram message", zap.String("envelope", env.Type), zap.Error(err))
		}
	}
}

// render turns env into chat text. A found match is entered right away,
// since a Telegram chat has nothing else to show.
func (c *Client) render(env models.Envelope) string {
	lang := c.Language()

	switch env.Type {
	case models.EnvelopeMatchFound:
		c.setLastGame("")
		c.hub.Submit(chathub.Incoming{
			UserID:  c.UserID,
			Command: models.Command{Type: models.CommandEnter, ChatID: env.ChatID},
		})
	case models.EnvelopeSessionUpdated:
		if env.Session == nil {
			return ""
		}
		text := renderGame(c.loc, lang, c.UserID, env.Session.Game)
		prev := c.setLastGame(text)
		switch {
		case text == prev:
			return ""
		case text == "":
			return c.loc.GetString(lang, "game_cleared")
		}
		return text
	case models.EnvelopePartnerLeft, models.EnvelopeSessionDeleted:
		c.setLastGame("")
	}
	return renderEnvelope(c.loc, lang, c.UserID, env)
}

func (c *Client) setLastGame(text string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.lastGame
	c.lastGame = text
	return prev
}
