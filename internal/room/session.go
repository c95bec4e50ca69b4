package room

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/kaiyuanliu/liveroom/internal/bus"
	"github.com/kaiyuanliu/liveroom/internal/capture"
	"github.com/kaiyuanliu/liveroom/internal/chat"
	"github.com/kaiyuanliu/liveroom/internal/config"
	"github.com/kaiyuanliu/liveroom/internal/playback"
	"github.com/kaiyuanliu/liveroom/internal/protocol"
)

// RoleSource supplies the roles to replay join requests for after a
// connection opens. Implemented by the prefs store.
type RoleSource interface {
	EnabledRoles() []string
}

// Session is the controller tying the websocket connection, frame router,
// playback queue, capture pipeline and conversation log into one client.
type Session struct {
	logger zerolog.Logger
	events *bus.EventBus

	conn    *Connection
	router  *Router
	queue   *playback.Queue
	capture *capture.Pipeline
	log     *chat.Log
	roles   RoleSource

	userName string

	mu        sync.Mutex
	sessionID string
}

// SessionOptions configures a Session.
type SessionOptions struct {
	Config *config.Config
	Logger zerolog.Logger
	Events *bus.EventBus
	// Sink plays decoded speech; defaults to the no-op sink.
	Sink playback.Sink
	// Roles drives join replay on connect; optional.
	Roles RoleSource
	// NewSource overrides the capture device factory; optional.
	NewSource capture.SourceFactory
}

// NewSession wires up a client for the configured server.
func NewSession(opts SessionOptions) *Session {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	logger := opts.Logger.With().Str("component", "session").Logger()

	s := &Session{
		logger:   logger,
		events:   opts.Events,
		roles:    opts.Roles,
		userName: cfg.Chat.DefaultUserName,
	}

	s.log = chat.NewLog(chat.Options{
		Events:           opts.Events,
		Logger:           opts.Logger,
		SubtitleFallback: cfg.Chat.SubtitleFallback,
	})

	s.conn = NewConnection(ConnectionOptions{
		URL:    cfg.Server.WebsocketURL(),
		Logger: opts.Logger,
		Events: opts.Events,
		Reconnect: ReconnectPolicy{
			Enabled:     cfg.Reconnect.Enabled,
			MaxAttempts: cfg.Reconnect.MaxAttempts,
			Delay:       cfg.Reconnect.Delay,
		},
		OnOpen:   s.replayJoins,
		OnText:   func(data []byte) { s.router.HandleText(data) },
		OnBinary: func(data []byte) { s.router.HandleBinary(data) },
	})

	s.queue = playback.NewQueue(playback.Options{
		Sink:           opts.Sink,
		Sender:         s.conn,
		Events:         opts.Events,
		Logger:         opts.Logger,
		InterruptGrace: cfg.Playback.InterruptGrace,
		// a fully played turn releases the chat merge index
		OnTurnDrained: func(string) { s.log.ResetIndex() },
	})

	s.router = NewRouter(RouterOptions{
		Playback: s.queue,
		Log:      s.log,
		Events:   opts.Events,
		Logger:   opts.Logger,
		UserName: cfg.Chat.DefaultUserName,
	})

	s.capture = capture.NewPipeline(capture.Options{
		Transport:  s.conn,
		Events:     opts.Events,
		Logger:     opts.Logger,
		SampleRate: cfg.Capture.SampleRate,
		BlockSize:  cfg.Capture.BlockSize,
		NewSource:  opts.NewSource,
	})

	return s
}

// Connect opens the websocket link. No-op when already open.
func (s *Session) Connect() error {
	return s.conn.Connect()
}

// Disconnect closes the link, stops any running call and flushes playback.
func (s *Session) Disconnect() error {
	if s.capture.IsRunning() {
		_ = s.capture.Stop()
	}
	s.queue.Interrupt()
	return s.conn.Close()
}

// IsConnected reports whether the link is open.
func (s *Session) IsConnected() bool {
	return s.conn.IsConnected()
}

// replayJoins re-requests every enabled role after a (re)connect so the
// server-side room matches the local preference set.
func (s *Session) replayJoins() {
	if s.roles == nil {
		return
	}
	for _, role := range s.roles.EnabledRoles() {
		s.logger.Debug().Str("role", role).Msg("Replaying join")
		s.JoinRole(role)
	}
}

// JoinRole asks the server to add a character to the room.
func (s *Session) JoinRole(role string) {
	s.router.MarkPending(role)
	if err := s.conn.Send(protocol.Join(role)); err != nil {
		s.logger.Debug().Err(err).Str("role", role).Msg("Join request not sent")
	}
}

// ExitRole asks the server to remove a character from the room.
func (s *Session) ExitRole(role string) {
	s.router.MarkPending(role)
	if err := s.conn.Send(protocol.Exit(role)); err != nil {
		s.logger.Debug().Err(err).Str("role", role).Msg("Exit request not sent")
	}
}

// RoleStatuses returns the current role join state.
func (s *Session) RoleStatuses() map[string]RoleStatus {
	return s.router.RoleStatuses()
}

// SetSession selects the active conversation.
func (s *Session) SetSession(id string) {
	s.mu.Lock()
	s.sessionID = id
	s.mu.Unlock()
}

// SessionID returns the active conversation id.
func (s *Session) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// SendText ships a user chat message and appends it to the local log.
func (s *Session) SendText(content string) error {
	if content == "" {
		return nil
	}
	s.log.AppendUser(s.userName, content)
	return s.conn.Send(protocol.TextMessage(content, s.SessionID()))
}

// StartCall begins streaming microphone audio for the active conversation.
func (s *Session) StartCall() error {
	return s.capture.Start(s.SessionID())
}

// StopCall ends microphone streaming.
func (s *Session) StopCall() error {
	return s.capture.Stop()
}

// CallActive reports whether a call is streaming.
func (s *Session) CallActive() bool {
	return s.capture.IsRunning()
}

// Interrupt performs a local stop and tells the server to abandon the
// in-flight turn: the queue is flushed first so stale audio cannot keep
// playing while the server winds down.
func (s *Session) Interrupt() {
	s.queue.Interrupt()
	if err := s.conn.Send(protocol.Interrupt()); err != nil {
		s.logger.Debug().Err(err).Msg("Interrupt frame not sent")
	}
}

// Chat returns the conversation log.
func (s *Session) Chat() *chat.Log {
	return s.log
}

// Playback returns the playback queue, mainly for observability.
func (s *Session) Playback() *playback.Queue {
	return s.queue
}

// Close tears the whole client down.
func (s *Session) Close() error {
	err := s.Disconnect()
	s.queue.Close()
	return err
}
