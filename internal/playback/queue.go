// Package playback provides the ordered speech playback queue and the
// interrupt controller that can flush it at any moment.
package playback

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/kaiyuanliu/liveroom/internal/bus"
	"github.com/kaiyuanliu/liveroom/internal/protocol"
)

// ControlSender sends JSON control frames upstream. Implemented by the
// room connection; failures are advisory (logged by the implementation).
type ControlSender interface {
	Send(v any) error
}

// item is one queue entry: a speech segment or an end-of-turn marker.
type item struct {
	audio     []byte
	sender    string
	eof       bool
	messageID string
}

// Queue drains speech segments strictly in FIFO order. Each segment is handed
// to the Sink and the queue only advances once the Sink reports completion;
// an eof marker therefore cannot be acknowledged while any earlier segment of
// the same turn is still audible.
type Queue struct {
	sink   Sink
	sender ControlSender
	events *bus.EventBus
	logger zerolog.Logger
	grace  time.Duration

	mu          sync.Mutex
	items       []item
	playing     bool
	interrupted bool
	cancel      context.CancelFunc
	graceTimer  *time.Timer

	// onTurnDrained runs after a turn's play_done is sent; the router uses it
	// to clear its message index map.
	onTurnDrained func(messageID string)
}

// Options configures a Queue.
type Options struct {
	Sink           Sink
	Sender         ControlSender
	Events         *bus.EventBus
	Logger         zerolog.Logger
	InterruptGrace time.Duration
	OnTurnDrained  func(messageID string)
}

// NewQueue creates an empty playback queue.
func NewQueue(opts Options) *Queue {
	if opts.Sink == nil {
		opts.Sink = NopSink{}
	}
	if opts.InterruptGrace <= 0 {
		opts.InterruptGrace = 300 * time.Millisecond
	}
	return &Queue{
		sink:          opts.Sink,
		sender:        opts.Sender,
		events:        opts.Events,
		logger:        opts.Logger.With().Str("component", "playback").Logger(),
		grace:         opts.InterruptGrace,
		onTurnDrained: opts.OnTurnDrained,
	}
}

// EnqueueAudio appends one decoded speech segment and kicks the drain loop.
func (q *Queue) EnqueueAudio(audio []byte, senderName string) {
	q.mu.Lock()
	q.items = append(q.items, item{audio: audio, sender: senderName})
	n := len(q.items)
	q.mu.Unlock()

	q.logger.Debug().Str("sender", senderName).Int("bytes", len(audio)).Int("queue_len", n).Msg("Audio segment queued")
	q.drain()
}

// EnqueueEOF appends the end-of-turn marker for one message id.
func (q *Queue) EnqueueEOF(messageID string) {
	q.mu.Lock()
	q.items = append(q.items, item{eof: true, messageID: messageID})
	q.mu.Unlock()

	q.logger.Debug().Str("message_id", messageID).Msg("EOF marker queued")
	q.drain()
}

// Len returns the number of undrained items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// IsPlaying reports whether a segment is currently with the sink.
func (q *Queue) IsPlaying() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.playing
}

// Interrupted reports whether the post-interrupt grace window is active.
// New segments are not started while it is.
func (q *Queue) Interrupted() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.interrupted
}

// drain advances the queue. Only one item is ever in flight: eof markers are
// handled inline, audio segments hand off to a goroutine that re-enters drain
// once the sink finishes. Concurrent calls while a segment plays are no-ops.
func (q *Queue) drain() {
	for {
		q.mu.Lock()
		if q.playing || q.interrupted || len(q.items) == 0 {
			q.mu.Unlock()
			return
		}
		it := q.items[0]
		q.items = q.items[1:]

		if it.eof {
			q.mu.Unlock()
			q.finishTurn(it.messageID)
			continue
		}

		ctx, cancel := context.WithCancel(context.Background())
		q.playing = true
		q.cancel = cancel
		q.mu.Unlock()

		go q.playSegment(ctx, cancel, it)
		return
	}
}

func (q *Queue) playSegment(ctx context.Context, cancel context.CancelFunc, it item) {
	defer cancel()

	q.publish(bus.EventTypePlaybackStarted, map[string]any{"sender": it.sender, "bytes": len(it.audio)})

	// An error from the sink counts as completion; a stuck segment must not
	// stall the whole turn.
	if err := q.sink.Play(ctx, it.audio, it.sender); err != nil {
		q.logger.Warn().Err(err).Str("sender", it.sender).Msg("Segment playback failed, advancing queue")
	}

	q.mu.Lock()
	q.playing = false
	q.cancel = nil
	q.mu.Unlock()

	q.publish(bus.EventTypePlaybackFinished, map[string]any{"sender": it.sender})
	q.drain()
}

// finishTurn acknowledges one fully played turn: play_done upstream, index
// map reset, refresh signal for the conversation list.
func (q *Queue) finishTurn(messageID string) {
	if q.sender != nil {
		if err := q.sender.Send(protocol.PlayDone(messageID)); err != nil {
			q.logger.Warn().Err(err).Str("message_id", messageID).Msg("Failed to send play_done")
		} else {
			q.logger.Debug().Str("message_id", messageID).Msg("play_done sent")
		}
	}
	if q.onTurnDrained != nil {
		q.onTurnDrained(messageID)
	}
	q.publish(bus.EventTypePlaybackDrained, map[string]any{"message_id": messageID})
	q.publish(bus.EventTypeRefreshConversations, nil)
}

// Interrupt flushes everything: queued items are discarded, the in-flight
// segment's context is cancelled, the sink is reset, and new segments are
// held back until the grace window elapses. Safe to call repeatedly.
func (q *Queue) Interrupt() {
	q.mu.Lock()
	dropped := len(q.items)
	q.items = nil
	q.playing = false
	q.interrupted = true
	cancel := q.cancel
	q.cancel = nil
	if q.graceTimer != nil {
		q.graceTimer.Stop()
	}
	q.graceTimer = time.AfterFunc(q.grace, q.endGrace)
	q.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	q.sink.Reset()

	q.logger.Info().Int("dropped", dropped).Msg("Playback interrupted, queue flushed")
	q.publish(bus.EventTypeInterrupted, map[string]any{"dropped": dropped})
}

// endGrace lifts the interrupt hold and resumes draining anything queued
// since. The delay gives the sink time to actually stop before a new segment
// starts.
func (q *Queue) endGrace() {
	q.mu.Lock()
	q.interrupted = false
	q.mu.Unlock()
	q.drain()
}

// Close stops the grace timer and resets the sink.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.graceTimer != nil {
		q.graceTimer.Stop()
	}
	q.items = nil
	cancel := q.cancel
	q.cancel = nil
	q.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	q.sink.Reset()
}

func (q *Queue) publish(t bus.EventType, data map[string]any) {
	if q.events != nil {
		q.events.Publish(bus.Event{Type: t, Data: data})
	}
}
