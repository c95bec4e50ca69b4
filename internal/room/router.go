package room

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/kaiyuanliu/liveroom/internal/bus"
	"github.com/kaiyuanliu/liveroom/internal/chat"
	"github.com/kaiyuanliu/liveroom/internal/protocol"
)

// RoleStatus tracks one character's join lifecycle.
type RoleStatus string

const (
	RolePending RoleStatus = "pending"
	RoleJoined  RoleStatus = "joined"
	RoleFailed  RoleStatus = "failed"
)

// Playback is the slice of the playback queue the router feeds.
type Playback interface {
	EnqueueAudio(audio []byte, senderName string)
	EnqueueEOF(messageID string)
	Interrupt()
}

// Router classifies every inbound frame and dispatches it to playback and the
// conversation log. A frame that fails to decode or dispatch is logged and
// dropped; one bad frame never takes the pump down.
type Router struct {
	playback Playback
	log      *chat.Log
	events   *bus.EventBus
	logger   zerolog.Logger
	userName string

	mu    sync.Mutex
	roles map[string]RoleStatus
}

// RouterOptions configures a Router.
type RouterOptions struct {
	Playback Playback
	Log      *chat.Log
	Events   *bus.EventBus
	Logger   zerolog.Logger
	UserName string // display name for transcribed mic input
}

// NewRouter creates a router with an empty role status map.
func NewRouter(opts RouterOptions) *Router {
	if opts.UserName == "" {
		opts.UserName = "user"
	}
	return &Router{
		playback: opts.Playback,
		log:      opts.Log,
		events:   opts.Events,
		logger:   opts.Logger.With().Str("component", "router").Logger(),
		userName: opts.UserName,
		roles:    make(map[string]RoleStatus),
	}
}

// MarkPending records that a join or exit request went out for role.
func (r *Router) MarkPending(role string) {
	r.setRole(role, RolePending)
}

// RoleStatuses returns a copy of the role status map.
func (r *Router) RoleStatuses() map[string]RoleStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]RoleStatus, len(r.roles))
	for k, v := range r.roles {
		out[k] = v
	}
	return out
}

// HandleBinary enqueues a raw PCM frame for playback. Binary frames carry no
// sender metadata so the default speaker is assumed.
func (r *Router) HandleBinary(data []byte) {
	if len(data) == 0 {
		return
	}
	pcm := make([]byte, len(data))
	copy(pcm, data)
	r.playback.EnqueueAudio(pcm, protocol.DefaultSender)
}

// HandleText decodes and dispatches one inbound JSON frame.
func (r *Router) HandleText(data []byte) {
	frame, err := protocol.Decode(data)
	if err != nil {
		r.logger.Warn().Err(err).Str("payload", truncate(data, 200)).Msg("Dropping malformed frame")
		return
	}

	switch kind := frame.Classify(); kind {
	case protocol.KindJoinStatus:
		r.handleJoinStatus(frame)
	case protocol.KindInterrupt:
		r.logger.Info().Msg("Server interrupt received")
		r.playback.Interrupt()
	case protocol.KindUserTranscript:
		r.handleUserTranscript(frame)
	case protocol.KindEOF:
		id, _ := frame.ResolveMessageID()
		r.playback.EnqueueEOF(id)
	case protocol.KindTTSChunk:
		r.handleTTSChunk(frame)
	case protocol.KindLegacy:
		r.handleLegacy(frame)
	default:
		r.logger.Debug().Str("payload", truncate(data, 200)).Msg("Unrecognized frame ignored")
	}
}

func (r *Router) handleJoinStatus(f *protocol.Frame) {
	status := RoleJoined
	if f.Type == protocol.TypeError {
		status = RoleFailed
		r.logger.Warn().Str("role", f.RoleName).Str("reason", f.Content).Msg("Role join failed")
	} else {
		r.logger.Info().Str("role", f.RoleName).Msg("Role joined")
	}
	r.setRole(f.RoleName, status)
}

func (r *Router) handleUserTranscript(f *protocol.Frame) {
	text := f.Content
	if text == "" {
		text = f.Text
	}
	if text == "" {
		return
	}
	r.log.AppendUser(f.ResolveRole(r.userName), text)
}

// handleTTSChunk processes a modern speech chunk: audio goes to the playback
// queue, any accompanying text delta merges into the chat entry for the
// chunk's message id.
func (r *Router) handleTTSChunk(f *protocol.Frame) {
	id, err := f.ResolveMessageID()
	if err != nil {
		r.logger.Warn().Err(err).Msg("TTS chunk without message id dropped")
		return
	}
	audio, err := f.DecodeAudio()
	if err != nil {
		r.logger.Warn().Err(err).Str("message_id", id).Msg("Undecodable audio chunk dropped")
		return
	}
	sender := f.ResolveSender()
	r.playback.EnqueueAudio(audio, sender)
	if f.Text != "" && f.Text != protocol.EOFMarker {
		r.log.MergeDelta(id, sender, f.Text)
	}
}

// handleLegacy covers older frame shapes: id and sender come from the alias
// fields, the literal EOF text is a turn terminator rather than content, and
// id-less text deltas feed the subtitle accumulator.
func (r *Router) handleLegacy(f *protocol.Frame) {
	sender := f.ResolveSender()
	id, idErr := f.ResolveMessageID()

	if f.Audio != "" {
		audio, err := f.DecodeAudio()
		if err != nil {
			r.logger.Warn().Err(err).Msg("Undecodable legacy audio dropped")
		} else {
			r.playback.EnqueueAudio(audio, sender)
		}
	}

	switch {
	case f.Text == protocol.EOFMarker:
		if idErr == nil {
			r.playback.EnqueueEOF(id)
		} else {
			r.logger.Debug().Msg("Legacy EOF without message id, nothing to acknowledge")
		}
	case f.Text != "":
		if idErr == nil {
			r.log.MergeDelta(id, sender, f.Text)
		} else {
			r.log.AddSubtitleFragment(sender, f.Text)
		}
	}
}

func (r *Router) setRole(role string, status RoleStatus) {
	if role == "" {
		return
	}
	r.mu.Lock()
	r.roles[role] = status
	r.mu.Unlock()

	if r.events != nil {
		r.events.Publish(bus.Event{Type: bus.EventTypeRoleStatusChanged, Data: map[string]any{
			"role":   role,
			"status": string(status),
		}})
	}
}

func truncate(data []byte, n int) string {
	if len(data) <= n {
		return string(data)
	}
	return string(data[:n]) + "..."
}
