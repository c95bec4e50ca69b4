// Package room holds the websocket transport to the room server, the inbound
// frame router, and the session controller that wires transport, playback,
// capture and chat together.
package room

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/kaiyuanliu/liveroom/internal/bus"
)

// Common errors
var (
	ErrNotConnected = errors.New("connection not open")
)

// State is the connection lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "idle"
	}
}

// ReconnectPolicy bounds automatic redial after an unexpected close.
type ReconnectPolicy struct {
	Enabled     bool
	MaxAttempts int
	Delay       time.Duration
}

// Connection is the websocket link to the room server. Sends while the socket
// is not open are logged and dropped rather than surfaced to UI paths; the
// returned error exists for callers that do want to observe the drop.
type Connection struct {
	url    string
	dialer websocket.Dialer
	logger zerolog.Logger
	events *bus.EventBus
	policy ReconnectPolicy

	// onOpen runs after every successful dial, before the read pump starts.
	onOpen func()
	// onText and onBinary receive inbound frames from the read pump.
	onText   func(data []byte)
	onBinary func(data []byte)

	mu         sync.Mutex
	writeMu    sync.Mutex
	conn       *websocket.Conn
	state      State
	attempts   int
	retryTimer *time.Timer
	closing    bool
}

// ConnectionOptions configures a Connection.
type ConnectionOptions struct {
	URL       string
	Logger    zerolog.Logger
	Events    *bus.EventBus
	Reconnect ReconnectPolicy
	OnOpen    func()
	OnText    func(data []byte)
	OnBinary  func(data []byte)
}

// NewConnection creates an idle connection for the given ws endpoint.
func NewConnection(opts ConnectionOptions) *Connection {
	policy := opts.Reconnect
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 5
	}
	if policy.Delay <= 0 {
		policy.Delay = 3 * time.Second
	}
	return &Connection{
		url:      opts.URL,
		dialer:   websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger:   opts.Logger.With().Str("component", "connection").Logger(),
		events:   opts.Events,
		policy:   policy,
		onOpen:   opts.OnOpen,
		onText:   opts.OnText,
		onBinary: opts.OnBinary,
	}
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected reports whether the socket is open.
func (c *Connection) IsConnected() bool {
	return c.State() == StateOpen
}

// Connect dials the server. A no-op when already open or mid-dial, so double
// clicks and redundant calls cannot stack sockets.
func (c *Connection) Connect() error {
	c.mu.Lock()
	if c.state == StateOpen || c.state == StateConnecting {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.closing = false
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	c.mu.Unlock()

	conn, resp, err := c.dialer.Dial(c.url, http.Header{})
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		c.logger.Error().Err(err).Int("status", status).Str("url", c.url).Msg("Websocket dial failed")

		c.mu.Lock()
		c.state = StateClosed
		c.mu.Unlock()
		c.publish(bus.EventTypeDisconnected, map[string]any{"error": err.Error()})
		c.maybeReconnect()
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.state = StateOpen
	c.attempts = 0
	c.mu.Unlock()

	c.logger.Info().Str("url", c.url).Msg("Connected to room server")
	c.publish(bus.EventTypeConnected, nil)
	if c.onOpen != nil {
		c.onOpen()
	}

	go c.readPump(conn)
	return nil
}

// readPump drains inbound frames until the socket dies.
func (c *Connection) readPump(conn *websocket.Conn) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug().Msg("Connection closed normally")
			} else {
				c.logger.Warn().Err(err).Msg("Websocket read ended")
			}
			c.handleClose(conn)
			return
		}

		switch msgType {
		case websocket.TextMessage:
			if c.onText != nil {
				c.onText(data)
			}
		case websocket.BinaryMessage:
			if c.onBinary != nil {
				c.onBinary(data)
			}
		}
	}
}

// handleClose transitions to closed and, on an unexpected drop, schedules one
// bounded redial per the reconnect policy.
func (c *Connection) handleClose(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn != conn {
		// a newer socket already replaced this one
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.state = StateClosed
	wasRequested := c.closing
	c.mu.Unlock()

	_ = conn.Close()
	c.publish(bus.EventTypeDisconnected, nil)

	if !wasRequested {
		c.maybeReconnect()
	}
}

// maybeReconnect schedules a redial when the policy allows one more attempt.
// Past the cap the connection stays closed until an explicit Connect.
func (c *Connection) maybeReconnect() {
	if !c.policy.Enabled {
		return
	}

	c.mu.Lock()
	if c.closing || c.attempts >= c.policy.MaxAttempts {
		exhausted := c.attempts >= c.policy.MaxAttempts
		c.mu.Unlock()
		if exhausted {
			c.logger.Warn().Int("attempts", c.policy.MaxAttempts).Msg("Reconnect attempts exhausted, staying closed")
		}
		return
	}
	c.attempts++
	attempt := c.attempts
	if c.retryTimer != nil {
		c.retryTimer.Stop()
	}
	c.retryTimer = time.AfterFunc(c.policy.Delay, func() { _ = c.Connect() })
	c.mu.Unlock()

	c.logger.Info().Int("attempt", attempt).Int("max", c.policy.MaxAttempts).Dur("delay", c.policy.Delay).Msg("Scheduling reconnect")
	c.publish(bus.EventTypeReconnecting, map[string]any{"attempt": attempt})
}

// Send marshals v and ships it as a text frame. Dropped with a log line when
// the socket is not open; the error return is advisory.
func (c *Connection) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.write(websocket.TextMessage, data)
}

// SendBinary ships raw bytes as a binary frame, same drop semantics as Send.
func (c *Connection) SendBinary(data []byte) error {
	return c.write(websocket.BinaryMessage, data)
}

func (c *Connection) write(msgType int, data []byte) error {
	c.mu.Lock()
	conn := c.conn
	open := c.state == StateOpen
	c.mu.Unlock()

	if !open || conn == nil {
		c.logger.Debug().Int("bytes", len(data)).Msg("Socket not open, dropping outbound frame")
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteMessage(msgType, data); err != nil {
		c.logger.Warn().Err(err).Msg("Websocket write failed")
		return err
	}
	return nil
}

// Close shuts the socket down and suppresses any pending reconnect.
// Idempotent.
func (c *Connection) Close() error {
	c.mu.Lock()
	c.closing = true
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	conn := c.conn
	c.conn = nil
	alreadyClosed := c.state == StateClosed || c.state == StateIdle
	c.state = StateClosed
	c.mu.Unlock()

	if conn == nil {
		return nil
	}

	c.writeMu.Lock()
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	err := conn.Close()

	if !alreadyClosed {
		c.logger.Info().Msg("Connection closed")
	}
	return err
}

func (c *Connection) publish(t bus.EventType, data map[string]any) {
	if c.events != nil {
		c.events.Publish(bus.Event{Type: t, Data: data})
	}
}
