package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/wailsapp/wails/v2/pkg/runtime"

	"voxin/internal/audio"
	"voxin/internal/bootstrap"
	"voxin/internal/config"
	"voxin/internal/domain"
	"voxin/internal/logging"
	"voxin/internal/ports"
)

const historySeparator = "\n\n"

var errNothingToCopy = errors.New("no transcripts to copy")

const (
	eventSession = "voxin:session"
	eventWorker  = "voxin:worker"
	eventFinal   = "voxin:final"
	eventError   = "voxin:error"
)

// App is the Wails application root.
type App struct {
	ctx context.Context
	cfg config.Config
	log zerolog.Logger

	services  *bootstrap.Services
	clipboard ports.Clipboard
	bootErr   error
	exitCode  int

	historyMu sync.Mutex
	history   []string
}

func NewApp(cfg config.Config) *App {
	a := &App{cfg: cfg, log: logging.WithComponent("app")}
	a.clipboard = &wailsClipboard{app: a}
	return a
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	services, err := bootstrap.Build(ctx, a.cfg, bootstrap.Options{
		Events:    a,
		Clipboard: a.clipboard,
	})
	if err == nil {
		err = services.Start(ctx)
	}
	if err != nil {
		a.bootErr = err
		a.log.Error().Err(err).Msg("startup failed")
		a.SessionError(domain.ErrorCodeStartup, err.Error())
		if errors.Is(err, audio.ErrNoInputDevice) {
			a.exitCode = 1
			runtime.Quit(ctx)
		}
		return
	}

	a.services = services
	a.SessionStateChanged(domain.SessionStateIdle, domain.SessionReasonWorkerLoading)
}

func (a *App) shutdown(_ context.Context) {
	if a.services == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.services.Shutdown(ctx); err != nil {
		a.log.Warn().Err(err).Msg("shutdown incomplete")
	}
}

// Toggle starts or stops dictation, the same as the hotkey.
func (a *App) Toggle() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	if _, err := a.services.Toggle(a.ctx, "ui"); err != nil {
		return a.services.Orchestrator.Status(), err
	}
	return a.services.Orchestrator.Status(), nil
}

// GetStatus returns the current session status.
func (a *App) GetStatus() domain.Status {
	if a.services == nil {
		status := domain.Status{State: domain.SessionStateIdle, Worker: domain.WorkerStateStopped}
		if a.bootErr != nil {
			status.LastMessage = a.bootErr.Error()
		}
		return status
	}
	return a.services.Orchestrator.Status()
}

// GetLastResult returns the most recent transcript, if any.
func (a *App) GetLastResult() (domain.TranscriptResult, error) {
	if err := a.requireReady(); err != nil {
		return domain.TranscriptResult{}, err
	}
	result, ok := a.services.Orchestrator.LastResult()
	if !ok {
		return domain.TranscriptResult{}, errors.New("no transcript yet")
	}
	return result, nil
}

// ReloadRules re-reads the substitutions file and returns the rule count.
func (a *App) ReloadRules() (int, error) {
	if err := a.requireReady(); err != nil {
		return 0, err
	}
	if err := a.services.Rules.Reload(); err != nil {
		a.SessionError(domain.ErrorCodeRules, err.Error())
		return 0, err
	}
	return a.services.Rules.Len(), nil
}

// RestartRecognizer respawns a recognizer that died and ran out of
// automatic restarts.
func (a *App) RestartRecognizer() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.services.RestartRecognizer()
}

// GetHistory returns every transcript delivered this run, oldest first.
func (a *App) GetHistory() string {
	a.historyMu.Lock()
	defer a.historyMu.Unlock()
	return strings.Join(a.history, historySeparator)
}

// CopyHistory puts the whole transcript history on the clipboard.
func (a *App) CopyHistory() error {
	text := a.GetHistory()
	if text == "" {
		return errNothingToCopy
	}
	if a.clipboard == nil {
		return errors.New("clipboard is not available")
	}
	if err := a.clipboard.SetText(context.Background(), text); err != nil {
		a.SessionError(domain.ErrorCodeClipboard, err.Error())
		return err
	}
	return nil
}

// ClearHistory forgets all transcripts shown so far.
func (a *App) ClearHistory() {
	a.historyMu.Lock()
	defer a.historyMu.Unlock()
	a.history = nil
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}

	info := map[string]string{
		"recognizer":       a.cfg.Recognizer.Kind,
		"hotkey":           a.cfg.Hotkey.Chord,
		"rulesFile":        a.cfg.Rules.Path,
		"audioBackend":     a.cfg.Audio.Backend,
		"audioInput":       a.cfg.Audio.InputDevice,
		"audioInputFormat": a.cfg.Audio.InputFormat,
	}
	switch a.cfg.Recognizer.Kind {
	case config.RecognizerOpenAI:
		info["model"] = a.cfg.Recognizer.OpenAI.Model
		info["language"] = a.cfg.Recognizer.OpenAI.Language
	default:
		info["worker"] = a.cfg.Recognizer.Worker.Command
	}
	return info
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.services == nil {
		return fmt.Errorf("application is not initialized")
	}
	return nil
}

// SessionStateChanged emits session lifecycle updates to the frontend.
func (a *App) SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventSession, map[string]string{
		"state":   string(state),
		"reason":  string(reason),
		"message": sessionReasonMessage(reason),
	})
}

// WorkerStateChanged emits recognizer lifecycle updates.
func (a *App) WorkerStateChanged(state domain.WorkerState) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventWorker, map[string]string{
		"state":   string(state),
		"message": workerStateMessage(state),
	})
}

// FinalTranscript appends to the history and emits final transcript
// output.
func (a *App) FinalTranscript(raw string, transformed string) {
	if text := strings.TrimSpace(transformed); text != "" {
		a.historyMu.Lock()
		a.history = append(a.history, text)
		a.historyMu.Unlock()
	}
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventFinal, map[string]string{
		"raw":         raw,
		"transformed": transformed,
		"history":     a.GetHistory(),
	})
}

// SessionError emits backend errors to the UI.
func (a *App) SessionError(code domain.ErrorCode, detail string) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventError, map[string]string{
		"code":    string(code),
		"message": errorMessage(code, detail),
		"detail":  detail,
	})
}

func sessionReasonMessage(reason domain.SessionStateReason) string {
	switch reason {
	case domain.SessionReasonWorkerLoading:
		return "Loading speech model..."
	case domain.SessionReasonReady:
		return "Ready"
	case domain.SessionReasonRecordingStarted:
		return "Recording started"
	case domain.SessionReasonTranscribing:
		return "Recording stopped. Transcribing..."
	case domain.SessionReasonRecordingEmpty:
		return "Nothing was recorded"
	case domain.SessionReasonTranscriptCopied:
		return "Transcript copied to clipboard"
	case domain.SessionReasonTranscriptReadyClipboardFailed:
		return "Transcript ready (clipboard write failed)"
	case domain.SessionReasonNoTranscript:
		return "No transcript captured"
	case domain.SessionReasonTranscriptionFailed:
		return "Transcription failed"
	case domain.SessionReasonWorkerUnavailable:
		return "Speech recognizer unavailable"
	case domain.SessionReasonRulesFailed:
		return "Rules processing failed"
	default:
		return ""
	}
}

func workerStateMessage(state domain.WorkerState) string {
	switch state {
	case domain.WorkerStateStarting:
		return "Loading speech model..."
	case domain.WorkerStateReady:
		return "Ready"
	case domain.WorkerStateBusy:
		return "Transcribing..."
	case domain.WorkerStateDead:
		return "Speech recognizer stopped unexpectedly"
	case domain.WorkerStateStopped:
		return "Speech recognizer stopped"
	default:
		return ""
	}
}

func errorMessage(code domain.ErrorCode, detail string) string {
	switch code {
	case domain.ErrorCodeStartup:
		return "Startup failed"
	case domain.ErrorCodeAudioStart:
		return "Could not start recording"
	case domain.ErrorCodeAudioStop:
		return "Audio stop issue"
	case domain.ErrorCodeAudioStream:
		return "Audio streaming issue"
	case domain.ErrorCodeArtifact:
		return "Could not save recording"
	case domain.ErrorCodeClipboard:
		return "Clipboard write failed"
	case domain.ErrorCodeRules:
		return "Rules processing failed"
	case domain.ErrorCodeTranscription:
		return "Transcription error"
	case domain.ErrorCodeWorker:
		return "Speech recognizer error"
	default:
		if detail == "" {
			return "Unknown error"
		}
		return detail
	}
}

// wailsClipboard writes through the window runtime, which needs the
// context Wails handed to startup rather than the caller's.
type wailsClipboard struct {
	app *App
}

func (c *wailsClipboard) SetText(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.app.ctx == nil {
		return errors.New("window runtime not started")
	}
	return runtime.ClipboardSetText(c.app.ctx, text)
}
