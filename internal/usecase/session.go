package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"voxin/internal/domain"
	"voxin/internal/metrics"
	"voxin/internal/ports"
)

var (
	ErrNoActiveSession = errors.New("no active recording session")
	ErrSessionBusy     = errors.New("recording session already active")
)

const (
	defaultStopTimeout = time.Second
	defaultStopGrace   = 250 * time.Millisecond
)

// SessionConfig controls capture and the bounded stop wait.
type SessionConfig struct {
	Audio ports.AudioConfig
	// StopTimeout bounds the wait for the capture goroutine after stop.
	StopTimeout time.Duration
	// StopGrace is the extra wait after the source is force-closed.
	StopGrace time.Duration
}

// RecordingSession owns the microphone for one recording at a time.
type RecordingSession struct {
	capture ports.AudioCapture
	events  ports.EventSink
	metrics *metrics.Metrics
	log     zerolog.Logger
	cfg     SessionConfig

	mu     sync.Mutex
	state  domain.SessionState
	active *activeCapture
}

type activeCapture struct {
	source ports.AudioSource
	cancel context.CancelFunc
	stop   chan struct{}
	result chan domain.RecordingBuffer
}

func NewRecordingSession(capture ports.AudioCapture, events ports.EventSink, m *metrics.Metrics, log zerolog.Logger, cfg SessionConfig) *RecordingSession {
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = defaultStopTimeout
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = defaultStopGrace
	}
	return &RecordingSession{
		capture: capture,
		events:  events,
		metrics: m,
		log:     log,
		cfg:     cfg,
		state:   domain.SessionStateIdle,
	}
}

// State returns the current session state.
func (s *RecordingSession) State() domain.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start opens the audio source and begins capturing into a fresh buffer.
func (s *RecordingSession) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != domain.SessionStateIdle {
		return fmt.Errorf("%w (state %s)", ErrSessionBusy, s.state)
	}

	// The source lives until Stop, not until the caller's request ends.
	captureCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	source, err := s.capture.Open(captureCtx, s.cfg.Audio)
	if err != nil {
		cancel()
		return fmt.Errorf("open audio source: %w", err)
	}

	active := &activeCapture{
		source: source,
		cancel: cancel,
		stop:   make(chan struct{}),
		result: make(chan domain.RecordingBuffer, 1),
	}
	buf := domain.RecordingBuffer{
		SampleRate: s.cfg.Audio.SampleRate,
		Channels:   s.cfg.Audio.Channels,
		StartedAt:  time.Now(),
	}

	go captureFrames(source, active.stop, buf, s.events, s.metrics, s.log, active.result)

	s.active = active
	s.state = domain.SessionStateRecording
	return nil
}

// Stop ends capture and returns everything recorded. The wait for the
// capture goroutine is bounded; a goroutine stuck in a read past
// StopTimeout+StopGrace yields an empty buffer.
func (s *RecordingSession) Stop() (domain.RecordingBuffer, error) {
	s.mu.Lock()
	if s.state != domain.SessionStateRecording {
		s.mu.Unlock()
		return domain.RecordingBuffer{}, ErrNoActiveSession
	}
	active := s.active
	s.state = domain.SessionStateFinalizing
	s.mu.Unlock()

	close(active.stop)
	buf := s.awaitBuffer(active)

	if err := active.source.Close(); err != nil {
		s.log.Warn().Err(err).Msg("audio source did not close cleanly")
		s.events.SessionError(domain.ErrorCodeAudioStop, "failed to stop audio capture cleanly")
	}
	active.cancel()

	s.mu.Lock()
	s.active = nil
	s.state = domain.SessionStateIdle
	s.mu.Unlock()

	return buf, nil
}

func (s *RecordingSession) awaitBuffer(active *activeCapture) domain.RecordingBuffer {
	timer := time.NewTimer(s.cfg.StopTimeout)
	defer timer.Stop()

	select {
	case buf := <-active.result:
		return buf
	case <-timer.C:
	}

	s.log.Warn().Dur("timeout", s.cfg.StopTimeout).Msg("capture loop did not stop in time, closing source")
	_ = active.source.Close()

	grace := time.NewTimer(s.cfg.StopGrace)
	defer grace.Stop()

	select {
	case buf := <-active.result:
		return buf
	case <-grace.C:
		s.log.Error().Msg("capture loop still blocked, discarding its buffer")
		return domain.RecordingBuffer{
			SampleRate: s.cfg.Audio.SampleRate,
			Channels:   s.cfg.Audio.Channels,
			StoppedAt:  time.Now(),
		}
	}
}
