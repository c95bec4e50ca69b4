// Package chat maintains the conversation log the UI renders: streamed
// assistant deltas merged by message id, user entries, and the subtitle
// fallback for legacy frames with no clean end signal.
package chat

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kaiyuanliu/liveroom/internal/bus"
)

// Role tags who authored an entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Entry is one rendered chat message.
type Entry struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Log is the append/merge conversation history. Streamed deltas sharing a
// message id are merged into one entry through an index map; the map is
// cleared exactly when the turn's eof drains so a later turn reusing memory
// never collides with a stale index.
type Log struct {
	events           *bus.EventBus
	logger           zerolog.Logger
	subtitleFallback time.Duration

	mu       sync.Mutex
	entries  []Entry
	indexMap map[string]int // message id -> position in entries

	subtitle       string
	subtitleSender string
	subtitleTimer  *time.Timer
}

// Options configures a Log.
type Options struct {
	Events           *bus.EventBus
	Logger           zerolog.Logger
	SubtitleFallback time.Duration // default 8s
}

// NewLog creates an empty conversation log.
func NewLog(opts Options) *Log {
	if opts.SubtitleFallback <= 0 {
		opts.SubtitleFallback = 8 * time.Second
	}
	return &Log{
		events:           opts.Events,
		logger:           opts.Logger.With().Str("component", "chat").Logger(),
		subtitleFallback: opts.SubtitleFallback,
		indexMap:         make(map[string]int),
	}
}

// AppendUser adds a user-authored entry.
func (l *Log) AppendUser(name, content string) {
	l.mu.Lock()
	l.entries = append(l.entries, Entry{
		ID:      uuid.NewString(),
		Name:    name,
		Role:    RoleUser,
		Content: content,
	})
	l.mu.Unlock()
	l.publishUpdated()
}

// MergeDelta appends a streamed text delta to the entry registered for
// messageID, creating the entry and recording its index on first sight.
func (l *Log) MergeDelta(messageID, senderName, text string) {
	if text == "" {
		return
	}
	l.mu.Lock()
	if idx, ok := l.indexMap[messageID]; ok {
		l.entries[idx].Content += text
	} else {
		l.indexMap[messageID] = len(l.entries)
		l.entries = append(l.entries, Entry{
			ID:      messageID,
			Name:    senderName,
			Role:    RoleAssistant,
			Content: text,
		})
	}
	l.mu.Unlock()
	l.publishUpdated()
}

// ResetIndex clears the message index map. Called when a turn's eof has
// fully drained.
func (l *Log) ResetIndex() {
	l.mu.Lock()
	l.indexMap = make(map[string]int)
	l.stopSubtitleLocked()
	l.mu.Unlock()
}

// IndexLen returns the number of live index entries.
func (l *Log) IndexLen() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.indexMap)
}

// Entries returns a copy of the history.
func (l *Log) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of entries.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Clear drops the whole history and index map.
func (l *Log) Clear() {
	l.mu.Lock()
	l.entries = nil
	l.indexMap = make(map[string]int)
	l.stopSubtitleLocked()
	l.mu.Unlock()
	l.publishUpdated()
}

// AddSubtitleFragment accumulates legacy delta text that carries no message
// id. If no end signal arrives before the fallback window, the accumulated
// subtitle is promoted into the log as a regular assistant entry. Display
// concern only, not protocol-critical.
func (l *Log) AddSubtitleFragment(senderName, text string) {
	if text == "" {
		return
	}
	l.mu.Lock()
	l.subtitle += text
	l.subtitleSender = senderName
	if l.subtitleTimer != nil {
		l.subtitleTimer.Stop()
	}
	l.subtitleTimer = time.AfterFunc(l.subtitleFallback, l.promoteSubtitle)
	subtitle := l.subtitle
	l.mu.Unlock()

	if l.events != nil {
		l.events.Publish(bus.Event{Type: bus.EventTypeSubtitleChanged, Data: map[string]any{
			"subtitle": subtitle,
			"sender":   senderName,
		}})
	}
}

// promoteSubtitle pushes the accumulated subtitle into the log after the
// fallback window elapses with no end signal.
func (l *Log) promoteSubtitle() {
	l.mu.Lock()
	subtitle := l.subtitle
	sender := l.subtitleSender
	l.subtitle = ""
	l.subtitleSender = ""
	l.subtitleTimer = nil
	if subtitle == "" {
		l.mu.Unlock()
		return
	}
	l.entries = append(l.entries, Entry{
		ID:      uuid.NewString(),
		Name:    sender,
		Role:    RoleAssistant,
		Content: subtitle,
	})
	l.mu.Unlock()

	l.logger.Debug().Str("sender", sender).Msg("Subtitle promoted to log after fallback timeout")
	l.publishUpdated()
}

// Subtitle returns the accumulated, not yet promoted subtitle text.
func (l *Log) Subtitle() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.subtitle
}

func (l *Log) stopSubtitleLocked() {
	if l.subtitleTimer != nil {
		l.subtitleTimer.Stop()
		l.subtitleTimer = nil
	}
	l.subtitle = ""
	l.subtitleSender = ""
}

func (l *Log) publishUpdated() {
	if l.events != nil {
		l.events.Publish(bus.Event{Type: bus.EventTypeChatUpdated, Data: map[string]any{"len": l.Len()}})
	}
}
