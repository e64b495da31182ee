package ports

import (
	"context"
	"errors"

	"voxin/internal/domain"
)

// AudioConfig describes how the microphone should be captured.
type AudioConfig struct {
	SampleRate   int
	Channels     int
	FrameSamples int
	InputFormat  string
	InputDevice  string
}

// FrameBytes is the byte length of one s16le frame.
func (c AudioConfig) FrameBytes() int {
	channels := c.Channels
	if channels <= 0 {
		channels = 1
	}
	return c.FrameSamples * channels * 2
}

// AudioSource is an open capture stream yielding fixed-size frames.
// ReadFrame blocks until a frame is available; Close unblocks it.
type AudioSource interface {
	ReadFrame() (domain.AudioFrame, error)
	Close() error
}

// AudioCapture opens microphone capture streams.
type AudioCapture interface {
	// Probe checks that an input device exists at all.
	Probe(ctx context.Context, cfg AudioConfig) error
	Open(ctx context.Context, cfg AudioConfig) (AudioSource, error)
}

var (
	// ErrRecognizerNotReady is returned when a request arrives while the
	// recognizer is starting, busy, dead or stopped. Nothing is sent.
	ErrRecognizerNotReady = errors.New("recognizer not ready")
	// ErrRecognizerUnavailable means the recognizer went away while a
	// request was outstanding.
	ErrRecognizerUnavailable = errors.New("recognizer unavailable")
)

// RecognitionError is a per-request failure reported by the recognizer.
// The recognizer itself stays usable.
type RecognitionError struct {
	Message string
}

func (e *RecognitionError) Error() string {
	return "recognition failed: " + e.Message
}

// Recognizer turns an encoded audio artifact into text. Implementations
// serve one request at a time.
type Recognizer interface {
	Start(ctx context.Context) error
	Transcribe(ctx context.Context, artifactPath string) (string, error)
	Shutdown() error
	State() domain.WorkerState
}

// RulesEngine transforms transcripts using deterministic rules.
type RulesEngine interface {
	Apply(text string) (string, error)
}

// Clipboard writes text into the system clipboard.
type Clipboard interface {
	SetText(ctx context.Context, text string) error
}

// Notifier plays audible cues.
type Notifier interface {
	Cue(cue domain.Cue)
}

// EventSink emits backend state/events to the UI.
type EventSink interface {
	SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason)
	WorkerStateChanged(state domain.WorkerState)
	FinalTranscript(raw string, transformed string)
	SessionError(code domain.ErrorCode, detail string)
}

// ArtifactStore persists a recording as a file the recognizer can read.
type ArtifactStore interface {
	Write(buf domain.RecordingBuffer) (string, error)
	Remove(path string) error
}
