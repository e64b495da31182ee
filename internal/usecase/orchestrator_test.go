package usecase

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"voxin/internal/domain"
	"voxin/internal/ports"
)

type orchestratorHarness struct {
	capture    *fakeAudioCapture
	recognizer *fakeRecognizer
	artifacts  *fakeArtifacts
	rules      *fakeRules
	clipboard  *fakeClipboard
	notifier   *fakeNotifier
	events     *fakeEventSink
	orch       *Orchestrator
}

func newHarness(sources []*fakeSource, recognizer *fakeRecognizer) *orchestratorHarness {
	h := &orchestratorHarness{
		capture:    &fakeAudioCapture{sources: sources},
		recognizer: recognizer,
		artifacts:  &fakeArtifacts{},
		rules:      &fakeRules{},
		clipboard:  &fakeClipboard{},
		notifier:   &fakeNotifier{},
		events:     &fakeEventSink{},
	}
	h.orch = NewOrchestrator(
		h.capture,
		h.recognizer,
		h.artifacts,
		h.rules,
		h.clipboard,
		h.notifier,
		h.events,
		Config{
			Session: SessionConfig{
				Audio: ports.AudioConfig{SampleRate: 16000, Channels: 1, FrameSamples: 2},
			},
			Logger: zerolog.Nop(),
		},
	)
	return h
}

// record runs one start/stop cycle, waiting for the source to drain.
func (h *orchestratorHarness) record(t *testing.T, source *fakeSource) {
	t.Helper()
	action, err := h.orch.Toggle(context.Background())
	if err != nil || action != ToggleStarted {
		t.Fatalf("expected start, got %s %v", action, err)
	}
	waitFor(t, "frames to be captured", source.drained)
	action, err = h.orch.Toggle(context.Background())
	if err != nil || action != ToggleStopped {
		t.Fatalf("expected stop, got %s %v", action, err)
	}
}

func (h *orchestratorHarness) waitIdle(t *testing.T, reason domain.SessionStateReason) {
	t.Helper()
	waitFor(t, string(reason), func() bool { return h.events.lastReason() == reason })
	waitFor(t, "pending to clear", func() bool { return !h.orch.Status().Pending })
}

func TestOrchestratorFullCycleDeliversTranscript(t *testing.T) {
	t.Parallel()

	source := newFakeSource(pcm(1, 2), pcm(3, 4), pcm(5, 6))
	h := newHarness([]*fakeSource{source}, newFakeRecognizer(transcribeReply{text: "hello world"}))
	h.rules.transform = "Hello world."

	h.record(t, source)
	h.waitIdle(t, domain.SessionReasonTranscriptCopied)

	buffers, removed := h.artifacts.snapshot()
	if len(buffers) != 1 {
		t.Fatalf("expected one artifact, got %d", len(buffers))
	}
	if buffers[0].TotalSamples() != 6 || len(buffers[0].Frames) != 3 {
		t.Fatalf("artifact must hold every frame in order, got %d samples", buffers[0].TotalSamples())
	}
	if string(buffers[0].Frames[1]) != string(pcm(3, 4)) {
		t.Fatalf("frames out of order")
	}

	requests := h.recognizer.requests()
	if len(requests) != 1 {
		t.Fatalf("expected exactly one request, got %d", len(requests))
	}
	if len(removed) != 1 || removed[0] != requests[0] {
		t.Fatalf("artifact %q must be removed after the request, removed %v", requests[0], removed)
	}

	if h.clipboard.text() != "Hello world." {
		t.Fatalf("unexpected clipboard text %q", h.clipboard.text())
	}
	finals := h.events.snapshotFinals()
	if len(finals) != 1 || finals[0].raw != "hello world" || finals[0].transformed != "Hello world." {
		t.Fatalf("unexpected final transcripts: %+v", finals)
	}

	cues := h.notifier.snapshot()
	if len(cues) != 2 || cues[0] != domain.CueStart || cues[1] != domain.CueComplete {
		t.Fatalf("unexpected cues: %v", cues)
	}

	states := h.events.snapshotStates()
	want := []domain.SessionStateReason{
		domain.SessionReasonRecordingStarted,
		domain.SessionReasonTranscribing,
		domain.SessionReasonTranscriptCopied,
	}
	if len(states) != len(want) {
		t.Fatalf("expected %d state events, got %+v", len(want), states)
	}
	for i, reason := range want {
		if states[i].reason != reason {
			t.Fatalf("state %d: expected %s, got %s", i, reason, states[i].reason)
		}
	}

	result, ok := h.orch.LastResult()
	if !ok || result.FinalTranscript != "Hello world." || !result.Copied {
		t.Fatalf("unexpected last result: %+v", result)
	}
	status := h.orch.Status()
	if status.State != domain.SessionStateIdle || !status.CanRecord {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func TestOrchestratorEmptyRecordingSendsNoRequest(t *testing.T) {
	t.Parallel()

	source := newFakeSource()
	h := newHarness([]*fakeSource{source}, newFakeRecognizer())

	h.record(t, source)
	h.waitIdle(t, domain.SessionReasonRecordingEmpty)

	if requests := h.recognizer.requests(); len(requests) != 0 {
		t.Fatalf("empty recording must not reach the recognizer, got %v", requests)
	}
	if buffers, _ := h.artifacts.snapshot(); len(buffers) != 0 {
		t.Fatalf("empty recording must not be encoded")
	}
	cues := h.notifier.snapshot()
	if cues[len(cues)-1] != domain.CueError {
		t.Fatalf("expected error cue, got %v", cues)
	}
}

func TestOrchestratorRefusesStartWhenWorkerNotReady(t *testing.T) {
	t.Parallel()

	for _, state := range []domain.WorkerState{
		domain.WorkerStateStarting,
		domain.WorkerStateBusy,
		domain.WorkerStateDead,
		domain.WorkerStateStopped,
	} {
		recognizer := newFakeRecognizer()
		recognizer.setState(state)
		h := newHarness([]*fakeSource{newFakeSource()}, recognizer)

		_, err := h.orch.Toggle(context.Background())
		if !errors.Is(err, ErrWorkerNotReady) {
			t.Fatalf("%s: expected ErrWorkerNotReady, got %v", state, err)
		}
		if h.capture.calls != 0 {
			t.Fatalf("%s: refused start must not open the microphone", state)
		}
		if h.orch.Status().CanRecord {
			t.Fatalf("%s: status must not allow recording", state)
		}
	}
}

func TestOrchestratorRefusesStartWhileTranscriptionPending(t *testing.T) {
	t.Parallel()

	first := newFakeSource(pcm(1))
	second := newFakeSource(pcm(2))
	recognizer := newFakeRecognizer(transcribeReply{text: "one"}, transcribeReply{text: "two"})
	recognizer.release = make(chan struct{})
	h := newHarness([]*fakeSource{first, second}, recognizer)

	h.record(t, first)
	waitFor(t, "request to be sent", func() bool { return len(h.recognizer.requests()) == 1 })

	status := h.orch.Status()
	if !status.Pending || status.State != domain.SessionStateFinalizing || status.CanRecord {
		t.Fatalf("unexpected status while pending: %+v", status)
	}
	if _, err := h.orch.Toggle(context.Background()); !errors.Is(err, ErrTranscriptionPending) {
		t.Fatalf("expected ErrTranscriptionPending, got %v", err)
	}
	if h.capture.calls != 1 {
		t.Fatalf("no second capture may start while pending")
	}

	close(recognizer.release)
	h.waitIdle(t, domain.SessionReasonTranscriptCopied)

	h.record(t, second)
	waitFor(t, "second transcript", func() bool { return len(h.events.snapshotFinals()) == 2 })

	finals := h.events.snapshotFinals()
	if finals[0].raw != "one" || finals[1].raw != "two" {
		t.Fatalf("results delivered out of order: %+v", finals)
	}
}

func TestOrchestratorEmptyTranscript(t *testing.T) {
	t.Parallel()

	source := newFakeSource(pcm(1))
	h := newHarness([]*fakeSource{source}, newFakeRecognizer(transcribeReply{text: "  "}))

	h.record(t, source)
	h.waitIdle(t, domain.SessionReasonNoTranscript)

	if h.clipboard.text() != "" {
		t.Fatalf("empty transcript must not touch the clipboard")
	}
	if len(h.events.snapshotFinals()) != 0 {
		t.Fatalf("empty transcript must not be delivered")
	}
	if len(h.events.snapshotErrors()) != 0 {
		t.Fatalf("empty transcript is not an error")
	}
}

func TestOrchestratorRecognitionErrorIsReportedVerbatim(t *testing.T) {
	t.Parallel()

	first := newFakeSource(pcm(1))
	second := newFakeSource(pcm(2))
	h := newHarness([]*fakeSource{first, second}, newFakeRecognizer(
		transcribeReply{err: &ports.RecognitionError{Message: "model failed: out of memory"}},
		transcribeReply{text: "recovered"},
	))

	h.record(t, first)
	h.waitIdle(t, domain.SessionReasonTranscriptionFailed)

	errs := h.events.snapshotErrors()
	if len(errs) != 1 || errs[0].code != domain.ErrorCodeTranscription || errs[0].detail != "model failed: out of memory" {
		t.Fatalf("unexpected errors: %+v", errs)
	}

	h.record(t, second)
	h.waitIdle(t, domain.SessionReasonTranscriptCopied)
	if h.clipboard.text() != "recovered" {
		t.Fatalf("recognizer must stay usable after a recognition error")
	}
}

func TestOrchestratorWorkerUnavailable(t *testing.T) {
	t.Parallel()

	source := newFakeSource(pcm(1))
	h := newHarness([]*fakeSource{source}, newFakeRecognizer(
		transcribeReply{err: ports.ErrRecognizerUnavailable},
	))

	h.record(t, source)
	h.waitIdle(t, domain.SessionReasonWorkerUnavailable)

	errs := h.events.snapshotErrors()
	if len(errs) != 1 || errs[0].code != domain.ErrorCodeWorker {
		t.Fatalf("unexpected errors: %+v", errs)
	}
	_, removed := h.artifacts.snapshot()
	if len(removed) != 1 {
		t.Fatalf("artifact must be removed on failure too")
	}
}

func TestOrchestratorArtifactFailure(t *testing.T) {
	t.Parallel()

	source := newFakeSource(pcm(1))
	h := newHarness([]*fakeSource{source}, newFakeRecognizer())
	h.artifacts.err = errors.New("disk full")

	h.record(t, source)
	h.waitIdle(t, domain.SessionReasonTranscriptionFailed)

	if len(h.recognizer.requests()) != 0 {
		t.Fatalf("no request without an artifact")
	}
	errs := h.events.snapshotErrors()
	if len(errs) != 1 || errs[0].code != domain.ErrorCodeArtifact {
		t.Fatalf("unexpected errors: %+v", errs)
	}
}

func TestOrchestratorRulesFailure(t *testing.T) {
	t.Parallel()

	source := newFakeSource(pcm(1))
	h := newHarness([]*fakeSource{source}, newFakeRecognizer(transcribeReply{text: "text"}))
	h.rules.err = errors.New("bad rules")

	h.record(t, source)
	h.waitIdle(t, domain.SessionReasonRulesFailed)

	if h.clipboard.text() != "" {
		t.Fatalf("clipboard must not be written when rules fail")
	}
}

func TestOrchestratorAudioStartFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(nil, newFakeRecognizer())
	h.capture.err = errors.New("device busy")

	if _, err := h.orch.Toggle(context.Background()); err == nil {
		t.Fatalf("expected start failure")
	}
	errs := h.events.snapshotErrors()
	if len(errs) != 1 || errs[0].code != domain.ErrorCodeAudioStart {
		t.Fatalf("unexpected errors: %+v", errs)
	}
	if h.orch.Status().State != domain.SessionStateIdle {
		t.Fatalf("expected idle after failed start")
	}
}

func TestOrchestratorWorkerStateForwarded(t *testing.T) {
	t.Parallel()

	h := newHarness(nil, newFakeRecognizer())
	h.orch.WorkerStateChanged(domain.WorkerStateStarting)
	if msg := h.orch.Status().LastMessage; msg != string(domain.SessionReasonWorkerLoading) {
		t.Fatalf("unexpected message %q", msg)
	}
	h.orch.WorkerStateChanged(domain.WorkerStateReady)
	if msg := h.orch.Status().LastMessage; msg != string(domain.SessionReasonReady) {
		t.Fatalf("unexpected message %q", msg)
	}

	h.events.mu.Lock()
	workers := append([]domain.WorkerState(nil), h.events.workers...)
	h.events.mu.Unlock()
	if len(workers) != 2 || workers[1] != domain.WorkerStateReady {
		t.Fatalf("unexpected worker events: %v", workers)
	}
}

func TestOrchestratorCloseCancelsStuckTranscription(t *testing.T) {
	t.Parallel()

	source := newFakeSource(pcm(1))
	recognizer := newFakeRecognizer(transcribeReply{text: "never"})
	recognizer.release = make(chan struct{})
	h := newHarness([]*fakeSource{source}, recognizer)

	h.record(t, source)
	waitFor(t, "request to be sent", func() bool { return len(recognizer.requests()) == 1 })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := h.orch.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if h.events.lastReason() != domain.SessionReasonWorkerUnavailable {
		t.Fatalf("cancelled request must still resolve, got %s", h.events.lastReason())
	}
	if _, err := h.orch.Toggle(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after close, got %v", err)
	}
}

func TestOrchestratorCloseDiscardsActiveRecording(t *testing.T) {
	t.Parallel()

	source := newFakeSource(pcm(1))
	h := newHarness([]*fakeSource{source}, newFakeRecognizer())

	if _, err := h.orch.Toggle(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := h.orch.Close(context.Background()); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if source.closes() == 0 {
		t.Fatalf("expected microphone to be released")
	}
	if len(h.recognizer.requests()) != 0 {
		t.Fatalf("discarded recording must not be transcribed")
	}
}

func TestOrchestratorCloseDuringStopSubmitsNothing(t *testing.T) {
	t.Parallel()

	source := newFakeSource(pcm(1))
	source.closeGate = make(chan struct{})
	h := newHarness([]*fakeSource{source}, newFakeRecognizer(transcribeReply{text: "late"}))

	if _, err := h.orch.Toggle(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	waitFor(t, "frames to be captured", source.drained)

	stopped := make(chan error, 1)
	go func() {
		_, err := h.orch.Toggle(context.Background())
		stopped <- err
	}()
	waitFor(t, "session to start stopping", func() bool {
		return h.orch.session.State() == domain.SessionStateFinalizing
	})

	if err := h.orch.Close(context.Background()); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	close(source.closeGate)

	select {
	case err := <-stopped:
		if !errors.Is(err, ErrClosed) {
			t.Fatalf("expected ErrClosed from the interrupted stop, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("stop did not return")
	}
	if got := h.recognizer.requests(); len(got) != 0 {
		t.Fatalf("expected no request after close, got %v", got)
	}
	if h.orch.Status().Pending {
		t.Fatalf("expected pending reservation released")
	}
}

// concurrencyRecognizer tracks overlapping Transcribe calls.
type concurrencyRecognizer struct {
	*fakeRecognizer
	inflight atomic.Int32
	maxSeen  atomic.Int32
}

func (c *concurrencyRecognizer) Transcribe(ctx context.Context, path string) (string, error) {
	n := c.inflight.Add(1)
	defer c.inflight.Add(-1)
	for {
		peak := c.maxSeen.Load()
		if n <= peak || c.maxSeen.CompareAndSwap(peak, n) {
			break
		}
	}
	time.Sleep(time.Millisecond)
	return "ok", nil
}

func TestOrchestratorConcurrentTogglesNeverOverlap(t *testing.T) {
	t.Parallel()

	const toggles = 60
	sources := make([]*fakeSource, toggles)
	for i := range sources {
		sources[i] = newFakeSource(pcm(int16(i)))
	}
	recognizer := &concurrencyRecognizer{fakeRecognizer: newFakeRecognizer()}
	h := &orchestratorHarness{
		capture:   &fakeAudioCapture{sources: sources},
		artifacts: &fakeArtifacts{},
		events:    &fakeEventSink{},
	}
	h.orch = NewOrchestrator(h.capture, recognizer, h.artifacts, &fakeRules{}, &fakeClipboard{}, &fakeNotifier{}, h.events, Config{
		Session: SessionConfig{Audio: ports.AudioConfig{SampleRate: 16000, Channels: 1, FrameSamples: 1}},
		Logger:  zerolog.Nop(),
	})

	var started atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < toggles; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			action, err := h.orch.Toggle(context.Background())
			if err == nil && action == ToggleStarted {
				started.Add(1)
			}
		}()
	}
	wg.Wait()

	if err := h.orch.Close(context.Background()); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	if got := recognizer.maxSeen.Load(); got > 1 {
		t.Fatalf("transcriptions overlapped: %d in flight", got)
	}
	h.capture.mu.Lock()
	opened := h.capture.calls
	h.capture.mu.Unlock()
	if int32(opened) != started.Load() {
		t.Fatalf("opened %d sources for %d started recordings", opened, started.Load())
	}
}
