// Package chathub connects realtime clients to the chat services: it tracks
// connections, turns client commands into service calls and pushes the
// resulting events back as envelopes.
package chathub

import (
	"context"
	"strings"
	"sync"
	"time"

	"campusconnect/backend/internal/game"
	"campusconnect/backend/internal/matchmaker"
	"campusconnect/backend/internal/models"
	"campusconnect/backend/internal/moderation"
	"campusconnect/backend/internal/presence"
	"campusconnect/backend/internal/session"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var (
	ErrUnknownCommand = errors.New("chathub: unknown command")
	ErrNoOpenChat     = errors.New("chathub: no chat open")
	ErrEmptyMessage   = errors.New("chathub: empty message")
	ErrBanned         = errors.New("chathub: user is banned")
)

const commandTimeout = 10 * time.Second

// MessageStore persists relayed chat messages.
type MessageStore interface {
	SaveMessage(ctx context.Context, msg *models.ChatMessage) error
}

// Moderator is what the hub needs from moderation.
type Moderator interface {
	IsBanned(ctx context.Context, userID string) (bool, error)
	Blocked(ctx context.Context, userID string) ([]string, error)
	Block(ctx context.Context, userID, targetID string) error
	Report(ctx context.Context, c *models.Complaint) (bool, error)
}

// Incoming is a command received from one of the user's connections.
type Incoming struct {
	UserID  string
	Command models.Command
}

// Services are the collaborators a ManagerService dispatches to.
type Services struct {
	Presence  *presence.Tracker
	Sessions  *session.Registry
	Matcher   *matchmaker.Matcher
	Games     *game.Engine
	Messages  MessageStore
	Moderator Moderator
	Relay     Relay
}

// ManagerService is the hub. Its Run loop owns registration; deliveries may
// come from any goroutine.
type ManagerService struct {
	RegisterCh   chan Client
	UnregisterCh chan Client
	IncomingCh   chan Incoming

	svc Services
	log *zap.Logger

	done     chan struct{}
	stopOnce sync.Once

	mu       sync.RWMutex
	clients  map[string]map[Client]struct{}
	searches map[string]*matchmaker.Search
}

func NewManagerService(svc Services, log *zap.Logger) *ManagerService {
	if log == nil {
		log = zap.NewNop()
	}
	if svc.Relay == nil {
		svc.Relay = NewLocalRelay()
	}
	return &ManagerService{
		RegisterCh:   make(chan Client),
		UnregisterCh: make(chan Client),
		IncomingCh:   make(chan Incoming),
		svc:          svc,
		log:          log,
		done:         make(chan struct{}),
		clients:      make(map[string]map[Client]struct{}),
		searches:     make(map[string]*matchmaker.Search),
	}
}

// Run processes registrations and commands until ctx ends. Every client
// still connected is closed on the way out.
func (m *ManagerService) Run(ctx context.Context) error {
	cancelRelay, err := m.svc.Relay.Subscribe(ctx, m.onDelivery)
	if err != nil {
		return errors.Wrap(err, "subscribe relay")
	}
	defer cancelRelay()
	defer m.shutdown()

	for {
		select {
		case <-ctx.Done():
			return nil
		case c := <-m.RegisterCh:
			m.register(ctx, c)
		case c := <-m.UnregisterCh:
			m.unregister(c)
		case in := <-m.IncomingCh:
			go m.handle(ctx, in)
		}
	}
}

func (m *ManagerService) shutdown() {
	m.stopOnce.Do(func() { close(m.done) })

	m.mu.Lock()
	var all []Client
	for _, set := range m.clients {
		for c := range set {
			all = append(all, c)
		}
	}
	m.clients = make(map[string]map[Client]struct{})
	m.mu.Unlock()

	for _, c := range all {
		c.Close()
	}
}

// Register hands a new connection to the hub. It reports false once the hub
// stopped.
func (m *ManagerService) Register(c Client) bool {
	select {
	case m.RegisterCh <- c:
		return true
	case <-m.done:
		return false
	}
}

// Unregister hands a dead connection back to the hub.
func (m *ManagerService) Unregister(c Client) {
	select {
	case m.UnregisterCh <- c:
	case <-m.done:
	}
}

// Submit queues a command. It reports false once the hub stopped.
func (m *ManagerService) Submit(in Incoming) bool {
	select {
	case m.IncomingCh <- in:
		return true
	case <-m.done:
		return false
	}
}

func (m *ManagerService) register(ctx context.Context, c Client) {
	uid := c.GetUserID()
	m.mu.Lock()
	set := m.clients[uid]
	if set == nil {
		set = make(map[Client]struct{})
		m.clients[uid] = set
	}
	set[c] = struct{}{}
	m.mu.Unlock()

	if m.svc.Presence != nil {
		ctx, cancel := context.WithTimeout(ctx, commandTimeout)
		defer cancel()
		if err := m.svc.Presence.Connect(ctx, c, uid); err != nil {
			m.log.Error("failed to mark user online", zap.String("user_id", uid), zap.Error(err))
		}
	}
	m.log.Debug("client registered", zap.String("user_id", uid))
}

func (m *ManagerService) unregister(c Client) {
	uid := c.GetUserID()
	m.mu.Lock()
	set, ok := m.clients[uid]
	if ok {
		if _, ok = set[c]; ok {
			delete(set, c)
			if len(set) == 0 {
				delete(m.clients, uid)
			}
		}
	}
	m.mu.Unlock()

	if ok {
		c.Close()
		m.log.Debug("client unregistered", zap.String("user_id", uid))
	}
}

// SignOut closes every local connection of userID and marks the user
// offline without waiting for the transports to notice.
func (m *ManagerService) SignOut(ctx context.Context, userID string) error {
	m.mu.Lock()
	set := m.clients[userID]
	delete(m.clients, userID)
	m.mu.Unlock()

	if m.svc.Presence != nil {
		if err := m.svc.Presence.Disconnect(ctx, userID); err != nil {
			return err
		}
	}
	for c := range set {
		c.Close()
	}
	m.log.Debug("user signed out", zap.String("user_id", userID), zap.Int("connections", len(set)))
	return nil
}

// Connected reports how many connections userID has on this instance.
func (m *ManagerService) Connected(userID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients[userID])
}

// Deliver pushes env to every local connection of userID. A connection whose
// buffer is full is dropped.
func (m *ManagerService) Deliver(userID string, env models.Envelope) {
	var slow []Client
	m.mu.RLock()
	for c := range m.clients[userID] {
		select {
		case c.GetSendChannel() <- env:
		default:
			slow = append(slow, c)
		}
	}
	m.mu.RUnlock()

	for _, c := range slow {
		m.log.Warn("dropping slow client", zap.String("user_id", userID))
		go m.Unregister(c)
	}
}

func (m *ManagerService) onDelivery(d Delivery) {
	for _, uid := range d.To {
		m.Deliver(uid, d.Envelope)
	}
}

func (m *ManagerService) handle(ctx context.Context, in Incoming) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	if err := m.Dispatch(ctx, in.UserID, in.Command); err != nil {
		m.Deliver(in.UserID, models.Envelope{
			Type:   models.EnvelopeError,
			ChatID: in.Command.ChatID,
			Error:  m.publicMessage(in.UserID, in.Command.Type, err),
		})
	}
}

// clientErrors are reported to clients verbatim.
var clientErrors = []error{
	ErrUnknownCommand, ErrNoOpenChat, ErrEmptyMessage, ErrBanned,
	matchmaker.ErrProfileNotFound, matchmaker.ErrSessionNotFound,
	session.ErrSessionNotFound, session.ErrNotMember, session.ErrSelfChat,
	moderation.ErrUnknownComplaintType, moderation.ErrSelfReport, moderation.ErrSelfBlock,
}

// publicMessage turns err into something safe to show; unexpected failures
// are logged and reported generically.
func (m *ManagerService) publicMessage(userID, command string, err error) string {
	var moveErr *game.MoveError
	if errors.As(err, &moveErr) {
		return moveErr.Error()
	}
	for _, known := range clientErrors {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	m.log.Error("command failed", zap.String("user_id", userID), zap.String("command", command), zap.Error(err))
	return "something went wrong, please try again"
}

// chatFor resolves an empty chat id to the chat the user has open.
func (m *ManagerService) chatFor(userID, chatID string) (string, error) {
	if chatID != "" {
		return chatID, nil
	}
	if v := m.svc.Sessions.Current(userID); v != nil {
		return v.ChatID, nil
	}
	return "", ErrNoOpenChat
}

// Dispatch executes one command on behalf of userID.
func (m *ManagerService) Dispatch(ctx context.Context, userID string, cmd models.Command) error {
	switch cmd.Type {
	case models.CommandSearch:
		_, err := m.Search(ctx, userID)
		return err
	case models.CommandStopSearch:
		return m.svc.Matcher.StopSearching(ctx, userID)
	case models.CommandEnter:
		if cmd.ChatID == "" {
			return ErrNoOpenChat
		}
		_, err := m.Enter(ctx, userID, cmd.ChatID)
		return err
	case models.CommandLeave:
		return m.svc.Sessions.Leave(ctx, userID)
	}

	chatID, err := m.chatFor(userID, cmd.ChatID)
	if err != nil {
		return err
	}
	switch cmd.Type {
	case models.CommandMessage:
		return m.SendMessage(ctx, userID, chatID, cmd.Content)
	case models.CommandPropose:
		_, err = m.svc.Games.Propose(ctx, chatID, userID, cmd.Kind, cmd.GridSize)
	case models.CommandAccept:
		_, err = m.svc.Games.Accept(ctx, chatID, userID)
	case models.CommandDecline:
		err = m.svc.Games.Decline(ctx, chatID, userID)
	case models.CommandQuit:
		err = m.svc.Games.Quit(ctx, chatID, userID)
	case models.CommandDrop:
		_, err = m.svc.Games.DropDisc(ctx, chatID, userID, cmd.Column)
	case models.CommandLine:
		o, ok := game.ParseOrientation(cmd.Orientation)
		if !ok {
			return game.ErrInvalidLine
		}
		_, err = m.svc.Games.ClaimLine(ctx, chatID, userID, o, cmd.Index)
	case models.CommandBlock:
		err = m.BlockPartner(ctx, userID, chatID)
	case models.CommandReport:
		_, err = m.ReportPartner(ctx, userID, chatID, cmd.ComplaintType, cmd.Content)
	default:
		err = errors.Wrap(ErrUnknownCommand, cmd.Type)
	}
	return err
}

// Search starts matchmaking for userID. The outcome is pushed to the user's
// connections as a match_found or error envelope.
func (m *ManagerService) Search(ctx context.Context, userID string) (*matchmaker.Search, error) {
	banned, err := m.svc.Moderator.IsBanned(ctx, userID)
	if err != nil {
		return nil, err
	}
	if banned {
		return nil, ErrBanned
	}
	blocked, err := m.svc.Moderator.Blocked(ctx, userID)
	if err != nil {
		return nil, err
	}

	s, err := m.svc.Matcher.FindMatch(ctx, userID, blocked)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.searches[userID] = s
	m.mu.Unlock()

	select {
	case <-s.Done():
	default:
		m.Deliver(userID, models.Envelope{Type: models.EnvelopeSearching})
	}
	go m.awaitMatch(userID, s)
	return s, nil
}

// LastSearch returns the most recent search started through the hub, even
// when it already resolved.
func (m *ManagerService) LastSearch(userID string) *matchmaker.Search {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.searches[userID]
}

func (m *ManagerService) awaitMatch(userID string, s *matchmaker.Search) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-m.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	chat, err := s.Wait(ctx)
	switch {
	case errors.Is(err, matchmaker.ErrSearchCancelled), errors.Is(err, context.Canceled):
		return
	case err != nil:
		m.Deliver(userID, models.Envelope{Type: models.EnvelopeError, Error: m.publicMessage(userID, models.CommandSearch, err)})
	default:
		m.log.Info("match delivered", zap.String("user_id", userID), zap.String("chat_id", chat.ID))
		m.Deliver(userID, models.Envelope{Type: models.EnvelopeMatchFound, ChatID: chat.ID, Session: chat})
	}
}

// Enter opens chatID for userID and streams its events to the user's
// connections until the view ends.
func (m *ManagerService) Enter(ctx context.Context, userID, chatID string) (*session.View, error) {
	v, err := m.svc.Sessions.Enter(ctx, userID, chatID)
	if err != nil {
		return nil, err
	}
	go m.pump(v)
	return v, nil
}

func (m *ManagerService) pump(v *session.View) {
	for {
		select {
		case e := <-v.Events():
			m.forward(v, e)
		case <-v.Done():
			// The terminal event is buffered before Done closes.
			for {
				select {
				case e := <-v.Events():
					m.forward(v, e)
				default:
					return
				}
			}
		case <-m.done:
			return
		}
	}
}

func (m *ManagerService) forward(v *session.View, e session.Event) {
	env := models.Envelope{ChatID: e.ChatID}
	switch e.Kind {
	case session.EventUpdated:
		env.Type = models.EnvelopeSessionUpdated
		env.Session = e.Session
	case session.EventPresence:
		env.Type = models.EnvelopePresence
		env.UserID = e.UserID
		env.Presence = e.Presence
	case session.EventPartnerLeft:
		env.Type = models.EnvelopePartnerLeft
	case session.EventDeleted:
		env.Type = models.EnvelopeSessionDeleted
	default:
		return
	}
	m.Deliver(v.UserID, env)
}

// SendMessage stores a text message and relays it to both members.
func (m *ManagerService) SendMessage(ctx context.Context, userID, chatID, content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return ErrEmptyMessage
	}
	s, err := m.svc.Sessions.Get(ctx, chatID, userID)
	if err != nil {
		return err
	}

	msg := &models.ChatMessage{SenderID: userID, ChatID: chatID, Content: content, Type: "text"}
	if err := m.svc.Messages.SaveMessage(ctx, msg); err != nil {
		return errors.Wrap(err, "save message")
	}
	return m.svc.Relay.Publish(ctx, Delivery{
		To:       s.MemberIDs,
		Envelope: models.Envelope{Type: models.EnvelopeMessage, ChatID: chatID, Message: msg},
	})
}

func (m *ManagerService) partner(ctx context.Context, userID, chatID string) (string, error) {
	s, err := m.svc.Sessions.Get(ctx, chatID, userID)
	if err != nil {
		return "", err
	}
	partnerID, _ := s.PartnerOf(userID)
	return partnerID, nil
}

// BlockPartner blocks the other member of chatID and leaves the chat.
func (m *ManagerService) BlockPartner(ctx context.Context, userID, chatID string) error {
	partnerID, err := m.partner(ctx, userID, chatID)
	if err != nil {
		return err
	}
	if err := m.svc.Moderator.Block(ctx, userID, partnerID); err != nil {
		return err
	}
	if v := m.svc.Sessions.Current(userID); v != nil && v.ChatID == chatID {
		return m.svc.Sessions.Leave(ctx, userID)
	}
	return nil
}

// ReportPartner files a complaint against the other member of chatID.
func (m *ManagerService) ReportPartner(ctx context.Context, userID, chatID, complaintType, reason string) (bool, error) {
	partnerID, err := m.partner(ctx, userID, chatID)
	if err != nil {
		return false, err
	}
	return m.svc.Moderator.Report(ctx, &models.Complaint{
		ReporterID:     userID,
		ReportedUserID: partnerID,
		ChatID:         chatID,
		ComplaintType:  complaintType,
		Reason:         reason,
	})
}
