package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"voxin/internal/domain"
	"voxin/internal/ports"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type fakeAudioCapture struct {
	mu      sync.Mutex
	sources []*fakeSource
	err     error
	calls   int
}

func (f *fakeAudioCapture) Probe(_ context.Context, _ ports.AudioConfig) error { return f.err }

func (f *fakeAudioCapture) Open(_ context.Context, _ ports.AudioConfig) (ports.AudioSource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.calls >= len(f.sources) {
		return nil, errors.New("no audio source configured")
	}
	source := f.sources[f.calls]
	f.calls++
	return source, nil
}

// fakeSource yields queued frames, then blocks until closed. A non-nil
// readErr is returned once the queue is drained.
type fakeSource struct {
	frames  chan domain.AudioFrame
	closed  chan struct{}
	readErr error

	// ignoreClose keeps ReadFrame blocked after Close, like a wedged device.
	ignoreClose bool
	// closeGate, when set, holds Close until it is closed.
	closeGate chan struct{}

	mu         sync.Mutex
	closeCalls int
}

func newFakeSource(frames ...domain.AudioFrame) *fakeSource {
	s := &fakeSource{
		frames: make(chan domain.AudioFrame, len(frames)+16),
		closed: make(chan struct{}),
	}
	for _, f := range frames {
		s.frames <- f
	}
	return s
}

func (s *fakeSource) ReadFrame() (domain.AudioFrame, error) {
	select {
	case f := <-s.frames:
		return f, nil
	default:
	}
	if s.readErr != nil {
		return nil, s.readErr
	}
	if s.ignoreClose {
		select {}
	}
	// an empty read stands in for device pacing
	select {
	case f := <-s.frames:
		return f, nil
	case <-s.closed:
		return nil, io.EOF
	case <-time.After(2 * time.Millisecond):
		return nil, nil
	}
}

func (s *fakeSource) Close() error {
	if s.closeGate != nil {
		<-s.closeGate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCalls++
	if s.closeCalls == 1 {
		close(s.closed)
	}
	return nil
}

func (s *fakeSource) drained() bool { return len(s.frames) == 0 }

func (s *fakeSource) closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCalls
}

type transcribeReply struct {
	text string
	err  error
}

type fakeRecognizer struct {
	mu      sync.Mutex
	state   domain.WorkerState
	replies []transcribeReply
	paths   []string
	release chan struct{}
}

func newFakeRecognizer(replies ...transcribeReply) *fakeRecognizer {
	return &fakeRecognizer{state: domain.WorkerStateReady, replies: replies}
}

func (f *fakeRecognizer) Start(_ context.Context) error { return nil }
func (f *fakeRecognizer) Shutdown() error               { return nil }

func (f *fakeRecognizer) State() domain.WorkerState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeRecognizer) setState(state domain.WorkerState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = state
}

func (f *fakeRecognizer) Transcribe(ctx context.Context, path string) (string, error) {
	f.mu.Lock()
	f.paths = append(f.paths, path)
	idx := len(f.paths) - 1
	release := f.release
	f.mu.Unlock()

	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	if idx >= len(f.replies) {
		return "", fmt.Errorf("no reply configured for request %d", idx)
	}
	return f.replies[idx].text, f.replies[idx].err
}

func (f *fakeRecognizer) requests() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.paths))
	copy(out, f.paths)
	return out
}

type fakeArtifacts struct {
	mu      sync.Mutex
	buffers []domain.RecordingBuffer
	removed []string
	err     error
}

func (f *fakeArtifacts) Write(buf domain.RecordingBuffer) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.buffers = append(f.buffers, buf)
	return fmt.Sprintf("/tmp/voxin_test_%d.wav", len(f.buffers)), nil
}

func (f *fakeArtifacts) Remove(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, path)
	return nil
}

func (f *fakeArtifacts) snapshot() ([]domain.RecordingBuffer, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.RecordingBuffer(nil), f.buffers...), append([]string(nil), f.removed...)
}

type fakeRules struct {
	transform string
	err       error
}

func (f *fakeRules) Apply(text string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if f.transform != "" {
		return f.transform, nil
	}
	return text, nil
}

type fakeClipboard struct {
	mu       sync.Mutex
	lastText string
	err      error
}

func (f *fakeClipboard) SetText(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastText = text
	return f.err
}

func (f *fakeClipboard) text() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastText
}

type fakeNotifier struct {
	mu   sync.Mutex
	cues []domain.Cue
}

func (f *fakeNotifier) Cue(cue domain.Cue) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cues = append(f.cues, cue)
}

func (f *fakeNotifier) snapshot() []domain.Cue {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Cue(nil), f.cues...)
}

type fakeEventSink struct {
	mu sync.Mutex

	states  []stateEvent
	finals  []finalEvent
	errors  []errEvent
	workers []domain.WorkerState
}

type stateEvent struct {
	state  domain.SessionState
	reason domain.SessionStateReason
}

type finalEvent struct {
	raw         string
	transformed string
}

type errEvent struct {
	code   domain.ErrorCode
	detail string
}

func (f *fakeEventSink) SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, stateEvent{state: state, reason: reason})
}

func (f *fakeEventSink) WorkerStateChanged(state domain.WorkerState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.workers = append(f.workers, state)
}

func (f *fakeEventSink) FinalTranscript(raw string, transformed string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finals = append(f.finals, finalEvent{raw: raw, transformed: transformed})
}

func (f *fakeEventSink) SessionError(code domain.ErrorCode, detail string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, errEvent{code: code, detail: detail})
}

func (f *fakeEventSink) snapshotStates() []stateEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]stateEvent, len(f.states))
	copy(out, f.states)
	return out
}

func (f *fakeEventSink) snapshotErrors() []errEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]errEvent, len(f.errors))
	copy(out, f.errors)
	return out
}

func (f *fakeEventSink) snapshotFinals() []finalEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]finalEvent, len(f.finals))
	copy(out, f.finals)
	return out
}

// lastReason is empty until at least one state event arrived.
func (f *fakeEventSink) lastReason() domain.SessionStateReason {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.states) == 0 {
		return ""
	}
	return f.states[len(f.states)-1].reason
}
