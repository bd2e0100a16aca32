// Package telegram is a Telegram bot frontend to the chat hub. Each Telegram
// chat becomes a hub client; commands map onto the same hub commands the
// websocket clients send.
package telegram

import (
	"context"
	"strings"
	"sync"

	"campusconnect/backend/internal/chathub"
	"campusconnect/backend/internal/game"
	"campusconnect/backend/internal/localization"
	"campusconnect/backend/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var errHubStopped = errors.New("telegram: hub stopped")

// BotAPI is the subset of *tgbotapi.BotAPI the bot uses.
type BotAPI interface {
	Sender
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// UserStore resolves Telegram chats to profiles.
type UserStore interface {
	SaveUserIfNotExists(ctx context.Context, telegramID int64, displayName string) (*models.User, error)
	SetLanguage(ctx context.Context, userID, lang string) error
}

// BanChecker reports active bans.
type BanChecker interface {
	IsBanned(ctx context.Context, userID string) (bool, error)
}

type BotService struct {
	BotAPI     BotAPI
	Hub        Hub
	Storage    UserStore
	Moderation BanChecker
	Localizer  *localization.Localizer
	log        *zap.Logger

	mu      sync.Mutex
	clients map[int64]*Client
	// pendingReports holds the severity picked for a report whose reason
	// the user is about to type.
	pendingReports map[int64]string
	// localGames are tic-tac-toe rounds played on one device. They are not
	// shared with the partner and do not survive a restart.
	localGames map[int64]*game.LocalTicTacToe
}

// NewBotService connects to the Bot API with token.
func NewBotService(token string, hub Hub, store UserStore, mod BanChecker, loc *localization.Localizer, log *zap.Logger) (*BotService, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, errors.Wrap(err, "connect telegram bot api")
	}
	log.Info("telegram bot authorized", zap.String("account", bot.Self.UserName))
	return newBotService(bot, hub, store, mod, loc, log), nil
}

func newBotService(bot BotAPI, hub Hub, store UserStore, mod BanChecker, loc *localization.Localizer, log *zap.Logger) *BotService {
	if log == nil {
		log = zap.NewNop()
	}
	return &BotService{
		BotAPI:         bot,
		Hub:            hub,
		Storage:        store,
		Moderation:     mod,
		Localizer:      loc,
		log:            log.Named("telegram"),
		clients:        make(map[int64]*Client),
		pendingReports: make(map[int64]string),
		localGames:     make(map[int64]*game.LocalTicTacToe),
	}
}

// Run consumes updates until ctx ends.
func (s *BotService) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := s.BotAPI.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			s.BotAPI.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			s.handleUpdate(ctx, update)
		}
	}
}

func (s *BotService) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.Message != nil:
		s.handleMessage(ctx, update.Message)
	case update.CallbackQuery != nil:
		s.handleCallbackQuery(ctx, update.CallbackQuery)
	}
}

func displayName(u *tgbotapi.User) string {
	if u == nil {
		return ""
	}
	if u.FirstName != "" {
		return u.FirstName
	}
	return u.UserName
}

// getOrCreateClient returns the hub client for a Telegram chat, registering
// a fresh one on first contact or after the hub dropped the previous one.
func (s *BotService) getOrCreateClient(ctx context.Context, chatID int64, name string) (*Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.clients[chatID]; ok && !c.Closed() {
		return c, nil
	}

	user, err := s.Storage.SaveUserIfNotExists(ctx, chatID, name)
	if err != nil {
		return nil, errors.Wrap(err, "save telegram user")
	}
	lang := user.Language
	if lang == "" {
		lang = localization.DefaultLanguage
	}

	c := NewClient(user.ID, chatID, lang, s.Hub, s.BotAPI, s.Localizer, s.log)
	if !s.Hub.Register(c) {
		return nil, errHubStopped
	}
	c.Run()
	s.clients[chatID] = c
	s.log.Info("telegram client registered", zap.String("user_id", user.ID), zap.Int64("telegram_chat", chatID))
	return c, nil
}

func (s *BotService) reply(chatID int64, text string) {
	if _, err := s.BotAPI.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		s.log.Warn("failed to send reply", zap.Int64("telegram_chat", chatID), zap.Error(err))
	}
}

func (s *BotService) submit(c *Client, cmd models.Command) {
	if !s.Hub.Submit(chathub.Incoming{UserID: c.UserID, Command: cmd}) {
		s.reply(c.ChatID, s.Localizer.Format(c.Language(), "error", errHubStopped.Error()))
	}
}

func (s *BotService) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	c, err := s.getOrCreateClient(ctx, chatID, displayName(msg.From))
	if err != nil {
		s.log.Error("failed to resolve telegram client", zap.Int64("telegram_chat", chatID), zap.Error(err))
		return
	}
	lang := c.Language()

	banned, err := s.Moderation.IsBanned(ctx, c.UserID)
	if err != nil {
		s.log.Error("ban check failed", zap.String("user_id", c.UserID), zap.Error(err))
		return
	}
	if banned {
		s.reply(chatID, s.Localizer.GetString(lang, "banned"))
		return
	}

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		s.reply(chatID, s.Localizer.GetString(lang, "text_only"))
		return
	}

	if !strings.HasPrefix(text, "/") {
		if severity, ok := s.takePendingReport(chatID); ok {
			s.submit(c, models.Command{Type: models.CommandReport, ComplaintType: severity, Content: text})
			s.reply(chatID, s.Localizer.GetString(lang, "report_submitted"))
			return
		}
		s.submit(c, models.Command{Type: models.CommandMessage, Content: text})
		return
	}

	cmd, err := ParseCommand(text)
	var usage *UsageError
	switch {
	case errors.As(err, &usage):
		s.reply(chatID, s.Localizer.GetString(lang, usage.Key))
		return
	case err != nil:
		s.reply(chatID, s.Localizer.GetString(lang, "unknown_command"))
		return
	}

	switch cmd.Type {
	case cmdHelp:
		s.reply(chatID, s.Localizer.GetString(lang, "help"))
	case cmdLanguage:
		s.handleLanguageCommand(chatID, lang)
	case cmdTicTacToe:
		s.startTicTacToe(chatID, lang)
	case cmdCell:
		s.playCell(chatID, lang, cmd.Index)
	case models.CommandReport:
		switch {
		case cmd.ComplaintType == "":
			s.handleReportCommand(chatID, lang)
		case cmd.Content == "":
			s.setPendingReport(chatID, cmd.ComplaintType)
			s.reply(chatID, s.Localizer.GetString(lang, "report_reason_prompt"))
		default:
			s.submit(c, cmd)
			s.reply(chatID, s.Localizer.GetString(lang, "report_submitted"))
		}
	default:
		s.submit(c, cmd)
	}
}

func (s *BotService) startTicTacToe(chatID int64, lang string) {
	g := game.NewLocalTicTacToe()
	s.mu.Lock()
	s.localGames[chatID] = g
	s.mu.Unlock()
	s.reply(chatID, s.Localizer.GetString(lang, "ttt_started")+"\n"+renderTicTacToe(s.Localizer, lang, g))
}

func (s *BotService) playCell(chatID int64, lang string, cell int) {
	s.mu.Lock()
	g, ok := s.localGames[chatID]
	var err error
	var board string
	if ok {
		if err = g.Play(cell); err == nil {
			board = renderTicTacToe(s.Localizer, lang, g)
		}
	}
	s.mu.Unlock()

	switch {
	case !ok:
		s.reply(chatID, s.Localizer.GetString(lang, "ttt_none"))
	case errors.Is(err, game.ErrCellTaken):
		s.reply(chatID, s.Localizer.GetString(lang, "ttt_cell_taken"))
	case errors.Is(err, game.ErrNotActive):
		s.reply(chatID, s.Localizer.GetString(lang, "ttt_over"))
	case err != nil:
		s.reply(chatID, s.Localizer.GetString(lang, "usage_cell"))
	default:
		s.reply(chatID, board)
	}
}

func (s *BotService) setPendingReport(chatID int64, severity string) {
	s.mu.Lock()
	s.pendingReports[chatID] = severity
	s.mu.Unlock()
}

func (s *BotService) takePendingReport(chatID int64) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	severity, ok := s.pendingReports[chatID]
	delete(s.pendingReports, chatID)
	return severity, ok
}

func (s *BotService) handleReportCommand(chatID int64, lang string) {
	reply := tgbotapi.NewMessage(chatID, s.Localizer.GetString(lang, "report_choose"))
	reply.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(s.Localizer.GetString(lang, "report_reason_critical"), "report_Critical"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(s.Localizer.GetString(lang, "report_reason_medium"), "report_Medium"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(s.Localizer.GetString(lang, "report_reason_low"), "report_Low"),
		),
	)
	if _, err := s.BotAPI.Send(reply); err != nil {
		s.log.Warn("failed to send report keyboard", zap.Error(err))
	}
}

func (s *BotService) handleLanguageCommand(chatID int64, lang string) {
	langs := s.Localizer.Languages()
	row := make([]tgbotapi.InlineKeyboardButton, 0, len(langs))
	for _, code := range langs {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(s.Localizer.GetString(code, "language_name"), "set_lang_"+code))
	}
	msg := tgbotapi.NewMessage(chatID, s.Localizer.GetString(lang, "choose_language"))
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(row)
	if _, err := s.BotAPI.Send(msg); err != nil {
		s.log.Warn("failed to send language keyboard", zap.Error(err))
	}
}

func (s *BotService) handleCallbackQuery(ctx context.Context, q *tgbotapi.CallbackQuery) {
	if _, err := s.BotAPI.Request(tgbotapi.NewCallback(q.ID, "")); err != nil {
		s.log.Warn("failed to answer callback", zap.Error(err))
	}
	if q.Message == nil {
		return
	}
	chatID := q.Message.Chat.ID
	c, err := s.getOrCreateClient(ctx, chatID, displayName(q.From))
	if err != nil {
		s.log.Error("failed to resolve telegram client", zap.Int64("telegram_chat", chatID), zap.Error(err))
		return
	}

	switch {
	case strings.HasPrefix(q.Data, "set_lang_"):
		lang := strings.TrimPrefix(q.Data, "set_lang_")
		if !s.Localizer.Supports(lang) {
			return
		}
		if err := s.Storage.SetLanguage(ctx, c.UserID, lang); err != nil {
			s.log.Error("failed to save language", zap.String("user_id", c.UserID), zap.Error(err))
			return
		}
		c.SetLanguage(lang)
		s.reply(chatID, s.Localizer.GetString(lang, "language_changed"))
	case strings.HasPrefix(q.Data, "report_"):
		s.setPendingReport(chatID, strings.TrimPrefix(q.Data, "report_"))
		s.reply(chatID, s.Localizer.GetString(c.Language(), "report_reason_prompt"))
	default:
		s.log.Debug("unhandled callback", zap.String("data", q.Data))
	}
}
