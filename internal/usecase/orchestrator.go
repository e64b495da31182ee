package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"voxin/internal/domain"
	"voxin/internal/metrics"
	"voxin/internal/ports"
)

var (
	ErrFinalizing           = errors.New("recording is finalizing")
	ErrWorkerNotReady       = errors.New("recognizer is not ready")
	ErrTranscriptionPending = errors.New("previous transcription still pending")
	ErrClosed               = errors.New("orchestrator closed")
)

// ToggleAction tells the caller what a toggle did.
type ToggleAction string

const (
	ToggleStarted ToggleAction = "started"
	ToggleStopped ToggleAction = "stopped"
)

// Config controls recording and submission behavior.
type Config struct {
	Session SessionConfig
	Metrics *metrics.Metrics
	Logger  zerolog.Logger
}

// Orchestrator correlates recordings with transcriptions. At most one
// recording and one transcription are in flight, and a new recording
// cannot start until the previous result has been delivered.
type Orchestrator struct {
	session    *RecordingSession
	recognizer ports.Recognizer
	artifacts  ports.ArtifactStore
	notifier   ports.Notifier
	events     ports.EventSink
	finalizer  transcriptFinalizer
	metrics    *metrics.Metrics
	log        zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	pending     bool
	closed      bool
	lastMessage string
	lastResult  *domain.TranscriptResult
}

func NewOrchestrator(
	audio ports.AudioCapture,
	recognizer ports.Recognizer,
	artifacts ports.ArtifactStore,
	rules ports.RulesEngine,
	clipboard ports.Clipboard,
	notifier ports.Notifier,
	events ports.EventSink,
	cfg Config,
) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		session:    NewRecordingSession(audio, events, cfg.Metrics, cfg.Logger, cfg.Session),
		recognizer: recognizer,
		artifacts:  artifacts,
		notifier:   notifier,
		events:     events,
		finalizer:  newTranscriptFinalizer(rules, clipboard, events),
		metrics:    cfg.Metrics,
		log:        cfg.Logger,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Toggle starts a recording when idle and stops and submits it when
// recording. It never blocks on transcription.
func (o *Orchestrator) Toggle(ctx context.Context) (ToggleAction, error) {
	switch o.session.State() {
	case domain.SessionStateRecording:
		return ToggleStopped, o.stopAndSubmit()
	case domain.SessionStateFinalizing:
		o.metrics.Refused("finalizing")
		return "", ErrFinalizing
	default:
		return ToggleStarted, o.start(ctx)
	}
}

func (o *Orchestrator) start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return ErrClosed
	}
	if o.pending {
		o.metrics.Refused("pending")
		o.log.Info().Msg("toggle ignored: transcription pending")
		return ErrTranscriptionPending
	}
	if state := o.recognizer.State(); state != domain.WorkerStateReady {
		o.metrics.Refused("worker_" + string(state))
		o.log.Info().Str("worker", string(state)).Msg("toggle ignored: recognizer not ready")
		return fmt.Errorf("%w (state %s)", ErrWorkerNotReady, state)
	}

	if err := o.session.Start(ctx); err != nil {
		if errors.Is(err, ErrSessionBusy) {
			return err
		}
		o.lastMessage = "failed to start recording"
		o.events.SessionError(domain.ErrorCodeAudioStart, err.Error())
		o.notifier.Cue(domain.CueError)
		return err
	}

	o.lastMessage = "recording"
	o.metrics.RecordingStarted()
	o.log.Info().Msg("recording started")
	o.events.SessionStateChanged(domain.SessionStateRecording, domain.SessionReasonRecordingStarted)
	o.notifier.Cue(domain.CueStart)
	return nil
}

func (o *Orchestrator) stopAndSubmit() error {
	// Reserve before the session leaves recording so no start can slip
	// in between stop and result delivery.
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	if o.pending {
		o.mu.Unlock()
		o.metrics.Refused("pending")
		return ErrTranscriptionPending
	}
	o.pending = true
	o.mu.Unlock()

	buf, err := o.session.Stop()
	if err != nil {
		o.clearPending("")
		return err
	}
	o.metrics.RecordingStopped(buf)

	if buf.Empty() {
		o.log.Warn().Msg("recording captured no audio")
		o.notifier.Cue(domain.CueError)
		o.finish(domain.SessionReasonRecordingEmpty, "recording was empty")
		return nil
	}

	// Close may have run while the session was stopping. The wait group
	// is joined under o.mu so Close either waits for this request or
	// this request sees closed.
	o.mu.Lock()
	if o.closed {
		o.pending = false
		o.mu.Unlock()
		o.log.Info().Msg("discarded recording stopped during shutdown")
		return ErrClosed
	}
	o.wg.Add(1)
	o.mu.Unlock()

	o.log.Info().
		Int("frames", len(buf.Frames)).
		Dur("audio", buf.Duration()).
		Msg("recording stopped, submitting")
	o.events.SessionStateChanged(domain.SessionStateFinalizing, domain.SessionReasonTranscribing)

	go func() {
		defer o.wg.Done()
		o.transcribe(buf)
	}()
	return nil
}

func (o *Orchestrator) transcribe(buf domain.RecordingBuffer) {
	path, err := o.artifacts.Write(buf)
	if err != nil {
		o.log.Error().Err(err).Msg("failed to write audio artifact")
		o.events.SessionError(domain.ErrorCodeArtifact, err.Error())
		o.notifier.Cue(domain.CueError)
		o.finish(domain.SessionReasonTranscriptionFailed, "failed to write audio artifact")
		return
	}

	started := time.Now()
	text, err := o.recognizer.Transcribe(o.ctx, path)
	elapsed := time.Since(started)

	if rmErr := o.artifacts.Remove(path); rmErr != nil {
		o.log.Warn().Err(rmErr).Str("path", path).Msg("failed to remove audio artifact")
	}

	var recErr *ports.RecognitionError
	switch {
	case err == nil && strings.TrimSpace(text) == "":
		o.metrics.Transcription("empty", elapsed.Seconds())
		o.log.Info().Dur("latency", elapsed).Msg("no speech recognized")
		o.finish(domain.SessionReasonNoTranscript, "no speech recognized")

	case err == nil:
		o.metrics.Transcription("ok", elapsed.Seconds())
		o.deliver(text, elapsed)

	case errors.As(err, &recErr):
		o.metrics.Transcription("recognition_error", elapsed.Seconds())
		o.log.Error().Str("message", recErr.Message).Msg("recognizer reported an error")
		o.events.SessionError(domain.ErrorCodeTranscription, recErr.Message)
		o.notifier.Cue(domain.CueError)
		o.finish(domain.SessionReasonTranscriptionFailed, recErr.Message)

	default:
		o.metrics.Transcription("unavailable", elapsed.Seconds())
		o.log.Error().Err(err).Msg("recognizer unavailable")
		o.events.SessionError(domain.ErrorCodeWorker, err.Error())
		o.notifier.Cue(domain.CueError)
		o.finish(domain.SessionReasonWorkerUnavailable, "recognizer unavailable")
	}
}

func (o *Orchestrator) deliver(raw string, elapsed time.Duration) {
	result, reason, err := o.finalizer.Finalize(o.ctx, raw)
	if err != nil {
		o.log.Error().Err(err).Msg("rules failed")
		o.notifier.Cue(domain.CueError)
		o.finish(reason, "rules failed")
		return
	}

	o.log.Info().
		Dur("latency", elapsed).
		Int("chars", len(result.FinalTranscript)).
		Bool("copied", result.Copied).
		Msg("transcript delivered")

	o.mu.Lock()
	o.lastResult = &result
	o.mu.Unlock()

	o.notifier.Cue(domain.CueComplete)
	o.finish(reason, string(reason))
}

// finish releases the pending reservation and reports the session idle.
func (o *Orchestrator) finish(reason domain.SessionStateReason, message string) {
	o.clearPending(message)
	o.events.SessionStateChanged(domain.SessionStateIdle, reason)
}

func (o *Orchestrator) clearPending(message string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pending = false
	if message != "" {
		o.lastMessage = message
	}
}

// WorkerStateChanged forwards recognizer transitions to the sink.
func (o *Orchestrator) WorkerStateChanged(state domain.WorkerState) {
	o.metrics.SetWorkerState(state)
	o.log.Debug().Str("worker", string(state)).Msg("recognizer state changed")

	o.mu.Lock()
	switch state {
	case domain.WorkerStateStarting:
		o.lastMessage = string(domain.SessionReasonWorkerLoading)
	case domain.WorkerStateDead:
		o.lastMessage = string(domain.SessionReasonWorkerUnavailable)
	case domain.WorkerStateReady:
		if !o.pending && o.session.State() == domain.SessionStateIdle {
			o.lastMessage = string(domain.SessionReasonReady)
		}
	}
	o.mu.Unlock()

	o.events.WorkerStateChanged(state)
}

// Status returns a snapshot for the UI and control clients.
func (o *Orchestrator) Status() domain.Status {
	state := o.session.State()
	worker := o.recognizer.State()

	o.mu.Lock()
	pending, message := o.pending, o.lastMessage
	o.mu.Unlock()

	if pending && state == domain.SessionStateIdle {
		state = domain.SessionStateFinalizing
	}
	return domain.Status{
		State:       state,
		Worker:      worker,
		Pending:     pending,
		CanRecord:   state == domain.SessionStateIdle && worker == domain.WorkerStateReady,
		LastMessage: message,
	}
}

// LastResult returns the most recently delivered transcript.
func (o *Orchestrator) LastResult() (domain.TranscriptResult, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.lastResult == nil {
		return domain.TranscriptResult{}, false
	}
	return *o.lastResult, true
}

// Close refuses new recordings, discards an active one and waits for
// the in-flight transcription until ctx expires, then cancels it.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	o.mu.Unlock()

	if _, err := o.session.Stop(); err == nil {
		o.log.Info().Msg("discarded active recording on shutdown")
	}

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		o.cancel()
		return nil
	case <-ctx.Done():
		o.cancel()
		<-done
		return ctx.Err()
	}
}
