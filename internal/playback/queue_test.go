package playback

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaiyuanliu/liveroom/internal/protocol"
)

// blockingSink records play order and holds each segment until released.
type blockingSink struct {
	mu      sync.Mutex
	played  []string
	resets  int
	release chan struct{} // closed or written to let one Play finish
	gate    bool          // when false, Play returns immediately
}

func newBlockingSink(gated bool) *blockingSink {
	return &blockingSink{release: make(chan struct{}, 16), gate: gated}
}

func (s *blockingSink) Play(ctx context.Context, audio []byte, senderName string) error {
	s.mu.Lock()
	s.played = append(s.played, string(audio))
	s.mu.Unlock()
	if !s.gate {
		return nil
	}
	select {
	case <-s.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *blockingSink) Reset() {
	s.mu.Lock()
	s.resets++
	s.mu.Unlock()
}

func (s *blockingSink) playedOrder() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.played))
	copy(out, s.played)
	return out
}

func (s *blockingSink) resetCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resets
}

// frameSender records every control frame sent upstream.
type frameSender struct {
	mu     sync.Mutex
	frames []any
}

func (f *frameSender) Send(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, v)
	return nil
}

func (f *frameSender) playDones() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, fr := range f.frames {
		if pd, ok := fr.(protocol.PlayDoneFrame); ok {
			out = append(out, pd.Content)
		}
	}
	return out
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting: %s", msg)
}

func newTestQueue(sink Sink, sender ControlSender, onDrained func(string)) *Queue {
	return NewQueue(Options{
		Sink:           sink,
		Sender:         sender,
		Logger:         zerolog.Nop(),
		InterruptGrace: 50 * time.Millisecond,
		OnTurnDrained:  onDrained,
	})
}

func TestQueue_FIFODrain(t *testing.T) {
	sink := newBlockingSink(false)
	q := newTestQueue(sink, nil, nil)

	q.EnqueueAudio([]byte("a"), "momo")
	q.EnqueueAudio([]byte("b"), "momo")
	q.EnqueueAudio([]byte("c"), "momo")

	waitFor(t, func() bool { return len(sink.playedOrder()) == 3 }, "all segments played")
	assert.Equal(t, []string{"a", "b", "c"}, sink.playedOrder())
	assert.Equal(t, 0, q.Len())
}

func TestQueue_PlayDoneOnlyAfterSinkCompletes(t *testing.T) {
	sink := newBlockingSink(true)
	sender := &frameSender{}
	q := newTestQueue(sink, sender, nil)

	q.EnqueueAudio([]byte("a"), "momo")
	q.EnqueueEOF("1")

	waitFor(t, func() bool { return len(sink.playedOrder()) == 1 }, "segment handed to sink")

	// While the segment is still with the sink, the eof must not be acked.
	time.Sleep(30 * time.Millisecond)
	assert.Empty(t, sender.playDones())
	assert.True(t, q.IsPlaying())

	sink.release <- struct{}{}

	waitFor(t, func() bool { return len(sender.playDones()) == 1 }, "play_done sent after completion")
	assert.Equal(t, []string{"1"}, sender.playDones())
	assert.Equal(t, 0, q.Len())
}

func TestQueue_EOFScenario_SingleChunkThenEOF(t *testing.T) {
	// Frames {id:1, audio} then {id:1, text:EOF} produce one play then one
	// play_done, in that relative order.
	sink := newBlockingSink(false)
	sender := &frameSender{}
	var drained []string
	var mu sync.Mutex
	q := newTestQueue(sink, sender, func(id string) {
		mu.Lock()
		drained = append(drained, id)
		mu.Unlock()
	})

	q.EnqueueAudio([]byte("chunk"), "A")
	q.EnqueueEOF("1")

	waitFor(t, func() bool { return len(sender.playDones()) == 1 }, "play_done sent")
	assert.Equal(t, []string{"chunk"}, sink.playedOrder())
	assert.Equal(t, []string{"1"}, sender.playDones())

	mu.Lock()
	assert.Equal(t, []string{"1"}, drained)
	mu.Unlock()
}

func TestQueue_InterruptFlushesWithoutPlayDone(t *testing.T) {
	sink := newBlockingSink(true)
	sender := &frameSender{}
	q := newTestQueue(sink, sender, nil)

	q.EnqueueAudio([]byte("a"), "momo")
	q.EnqueueAudio([]byte("b"), "momo")
	q.EnqueueEOF("7")

	waitFor(t, func() bool { return q.IsPlaying() }, "first segment in flight")

	q.Interrupt()

	assert.Equal(t, 0, q.Len())
	assert.False(t, q.IsPlaying())
	assert.True(t, q.Interrupted())
	assert.Empty(t, sender.playDones())
	assert.GreaterOrEqual(t, sink.resetCount(), 1)

	// The in-flight Play was cancelled, so only "a" ever reached the sink.
	waitFor(t, func() bool { return !q.IsPlaying() }, "cancelled segment settled")
	assert.Equal(t, []string{"a"}, sink.playedOrder())
}

func TestQueue_InterruptIdempotent(t *testing.T) {
	sink := newBlockingSink(false)
	sender := &frameSender{}
	q := newTestQueue(sink, sender, nil)

	q.EnqueueEOF("9")
	q.Interrupt()
	q.Interrupt()

	assert.Equal(t, 0, q.Len())
	assert.False(t, q.IsPlaying())
	assert.True(t, q.Interrupted())
	assert.Equal(t, 2, sink.resetCount())
}

func TestQueue_InterruptGraceRestoresDraining(t *testing.T) {
	sink := newBlockingSink(false)
	q := newTestQueue(sink, nil, nil)

	q.Interrupt()
	require.True(t, q.Interrupted())

	// Segments queued during the grace window are held back...
	q.EnqueueAudio([]byte("late"), "momo")
	assert.Empty(t, sink.playedOrder())

	// ...and drained once the flag drops.
	waitFor(t, func() bool { return !q.Interrupted() }, "grace window elapsed")
	waitFor(t, func() bool { return len(sink.playedOrder()) == 1 }, "held segment drained")
	assert.Equal(t, []string{"late"}, sink.playedOrder())
}

// errorSink fails every play.
type errorSink struct {
	blockingSink
}

func (s *errorSink) Play(ctx context.Context, audio []byte, senderName string) error {
	s.mu.Lock()
	s.played = append(s.played, string(audio))
	s.mu.Unlock()
	return context.DeadlineExceeded
}

func TestQueue_SinkErrorAdvancesQueue(t *testing.T) {
	sink := &errorSink{}
	sender := &frameSender{}
	q := newTestQueue(sink, sender, nil)

	q.EnqueueAudio([]byte("bad"), "momo")
	q.EnqueueAudio([]byte("next"), "momo")
	q.EnqueueEOF("3")

	waitFor(t, func() bool { return len(sender.playDones()) == 1 }, "turn still acked")
	assert.Equal(t, []string{"bad", "next"}, sink.playedOrder())
}

func TestQueue_EOFOnlyTurn(t *testing.T) {
	// A turn with no audio at all still gets its play_done.
	sender := &frameSender{}
	q := newTestQueue(newBlockingSink(false), sender, nil)

	q.EnqueueEOF("42")

	waitFor(t, func() bool { return len(sender.playDones()) == 1 }, "play_done for empty turn")
	assert.Equal(t, []string{"42"}, sender.playDones())
}
