// Package capture streams microphone audio to the room server as fixed-size
// 16-bit PCM blocks while a call is active.
package capture

import (
	"errors"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"github.com/kaiyuanliu/liveroom/internal/bus"
	"github.com/kaiyuanliu/liveroom/internal/protocol"
)

// Common errors
var (
	ErrNoSession      = errors.New("no session selected")
	ErrAlreadyRunning = errors.New("capture already running")
	ErrNotRunning     = errors.New("capture not running")
)

// Transport is the slice of the room connection the pipeline needs.
type Transport interface {
	Send(v any) error
	SendBinary(data []byte) error
	IsConnected() bool
}

// Pipeline owns at most one capture session. Blocks are fire-and-forget:
// they are sent only while the connection is open and dropped (logged)
// otherwise, never buffered for retry.
type Pipeline struct {
	transport  Transport
	events     *bus.EventBus
	logger     zerolog.Logger
	sampleRate int
	blockSize  int
	newSource  SourceFactory

	mu      sync.Mutex
	framer  *Framer
	source  Source
	done    chan struct{}
	session string
}

// Options configures a Pipeline.
type Options struct {
	Transport  Transport
	Events     *bus.EventBus
	Logger     zerolog.Logger
	SampleRate int // default 16000
	BlockSize  int // samples per outbound frame, default 4096
	NewSource  SourceFactory
}

// NewPipeline creates an idle capture pipeline.
func NewPipeline(opts Options) *Pipeline {
	if opts.SampleRate <= 0 {
		opts.SampleRate = 16000
	}
	if opts.BlockSize <= 0 {
		opts.BlockSize = 4096
	}
	if opts.NewSource == nil {
		opts.NewSource = NewFFmpegSource
	}
	p := &Pipeline{
		transport:  opts.Transport,
		events:     opts.Events,
		logger:     opts.Logger.With().Str("component", "capture").Logger(),
		sampleRate: opts.SampleRate,
		blockSize:  opts.BlockSize,
		newSource:  opts.NewSource,
	}
	p.framer = NewFramer(p.blockSize, p.sendBlock)
	return p
}

// IsRunning reports whether a call is active.
func (p *Pipeline) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.source != nil
}

// Start begins a call for sessionID: sends start_call, opens the microphone
// and streams PCM blocks until Stop. A missing session id or device failure
// surfaces as a notice and leaves no partial state behind.
func (p *Pipeline) Start(sessionID string) error {
	if sessionID == "" {
		p.notice("no session selected, pick a conversation first")
		return ErrNoSession
	}

	p.mu.Lock()
	if p.source != nil {
		p.mu.Unlock()
		return ErrAlreadyRunning
	}
	p.mu.Unlock()

	if !p.transport.IsConnected() {
		p.notice("not connected to the server")
		return errors.New("transport not connected")
	}
	if err := p.transport.Send(protocol.StartCall(sessionID)); err != nil {
		p.logger.Warn().Err(err).Msg("Failed to send start_call")
	}

	source, err := p.newSource(p.sampleRate)
	if err != nil {
		p.logger.Error().Err(err).Msg("Microphone open failed")
		p.notice("cannot access the microphone, check permissions")
		return err
	}

	done := make(chan struct{})
	p.mu.Lock()
	p.source = source
	p.done = done
	p.session = sessionID
	p.mu.Unlock()

	go p.pump(source, done)

	p.logger.Info().Str("session_id", sessionID).Int("sample_rate", p.sampleRate).Int("block", p.blockSize).Msg("Call started")
	p.publish(bus.EventTypeCallStarted, map[string]any{"session_id": sessionID})
	return nil
}

// pump reads fixed-size PCM blocks from the source and ships each one as a
// binary frame. Each block is independent; a drop is a drop.
func (p *Pipeline) pump(source Source, done chan struct{}) {
	defer close(done)

	blockBytes := p.blockSize * 2 // s16le mono
	buf := make([]byte, blockBytes)
	for {
		n, err := io.ReadFull(source, buf)
		if n > 0 {
			p.sendBlock(buf[:n])
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.ErrClosedPipe) {
				p.logger.Warn().Err(err).Msg("Mic read ended")
			}
			return
		}
	}
}

func (p *Pipeline) sendBlock(block []byte) {
	if !p.transport.IsConnected() {
		p.logger.Debug().Int("bytes", len(block)).Msg("Connection not open, dropping capture block")
		return
	}
	frame := make([]byte, len(block))
	copy(frame, block)
	if err := p.transport.SendBinary(frame); err != nil {
		p.logger.Debug().Err(err).Msg("Capture block send failed")
	}
}

// ProcessFloat32 feeds pre-captured floating-point samples through the PCM
// converter and block framer, for capture backends that deliver float audio.
// Samples short of a full block are buffered until the next push.
func (p *Pipeline) ProcessFloat32(samples []float32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.framer.Push(samples)
}

// Stop ends the call: closes the microphone and sends stop_call. Idempotent.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	source := p.source
	done := p.done
	session := p.session
	p.source = nil
	p.done = nil
	p.session = ""
	p.mu.Unlock()

	if source == nil {
		return ErrNotRunning
	}

	_ = source.Close()
	if done != nil {
		<-done
	}

	p.mu.Lock()
	p.framer.Flush()
	p.mu.Unlock()

	if err := p.transport.Send(protocol.StopCall(session)); err != nil {
		p.logger.Warn().Err(err).Msg("Failed to send stop_call")
	}

	p.logger.Info().Str("session_id", session).Msg("Call stopped")
	p.publish(bus.EventTypeCallStopped, map[string]any{"session_id": session})
	return nil
}

func (p *Pipeline) notice(msg string) {
	p.logger.Warn().Msg(msg)
	p.publish(bus.EventTypeNotice, map[string]any{"message": msg})
}

func (p *Pipeline) publish(t bus.EventType, data map[string]any) {
	if p.events != nil {
		p.events.Publish(bus.Event{Type: t, Data: data})
	}
}
