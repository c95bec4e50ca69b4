package playback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"
)

// Sink renders one speech segment and drives whatever avatar animation is
// attached to the audio path. Play blocks until the segment has finished or
// ctx is cancelled; Reset aborts any in-progress rendering and must be safe
// to call at any time, including when nothing is playing.
type Sink interface {
	Play(ctx context.Context, audio []byte, senderName string) error
	Reset()
}

// NopSink discards audio. Used when the client runs without an audio device.
type NopSink struct{}

func (NopSink) Play(ctx context.Context, audio []byte, senderName string) error { return nil }
func (NopSink) Reset()                                                          {}

const pcmBytesPerSample = 2

// FFPlaySink plays raw mono s16le PCM through an ffplay child process.
// Completion is estimated from the segment length at the configured sample
// rate; Reset kills and restarts the process so queued PCM is dropped
// immediately.
type FFPlaySink struct {
	sampleRate int

	mu    sync.Mutex
	cmd   *exec.Cmd
	stdin io.WriteCloser
}

// NewFFPlaySink starts the ffplay process.
func NewFFPlaySink(sampleRate int) (*FFPlaySink, error) {
	if _, err := exec.LookPath("ffplay"); err != nil {
		return nil, errors.New("ffplay is required for audio playback (install ffmpeg and ensure it is in PATH)")
	}
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	s := &FFPlaySink{sampleRate: sampleRate}
	if err := s.startLocked(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FFPlaySink) startLocked() error {
	s.cmd = exec.Command("ffplay",
		"-nodisp",
		"-autoexit",
		"-loglevel", "error",
		"-f", "s16le",
		"-ar", fmt.Sprintf("%d", s.sampleRate),
		"-ac", "1",
		"-i", "pipe:0",
	)
	stdin, err := s.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("open ffplay stdin: %w", err)
	}
	s.cmd.Stdout = io.Discard
	s.cmd.Stderr = io.Discard
	if err := s.cmd.Start(); err != nil {
		return fmt.Errorf("start ffplay: %w", err)
	}
	s.stdin = stdin
	return nil
}

// Play writes the segment and waits out its estimated duration, or returns
// early when ctx is cancelled.
func (s *FFPlaySink) Play(ctx context.Context, audio []byte, senderName string) error {
	s.mu.Lock()
	stdin := s.stdin
	s.mu.Unlock()
	if stdin == nil {
		return errors.New("ffplay stdin is not initialized")
	}
	if _, err := stdin.Write(audio); err != nil {
		return fmt.Errorf("write pcm: %w", err)
	}

	d := time.Duration(len(audio)/pcmBytesPerSample) * time.Second / time.Duration(s.sampleRate)
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reset drops buffered PCM by restarting the player.
func (s *FFPlaySink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
		_ = s.cmd.Wait()
	}
	s.stdin = nil
	if err := s.startLocked(); err != nil {
		s.cmd = nil
	}
}

// Close kills the player process.
func (s *FFPlaySink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
		_ = s.cmd.Wait()
	}
	s.stdin = nil
	return nil
}
