package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"voxin/internal/audio"
	"voxin/internal/config"
	"voxin/internal/control"
	"voxin/internal/domain"
	"voxin/internal/hotkey"
	"voxin/internal/logging"
	"voxin/internal/metrics"
	"voxin/internal/notify"
	"voxin/internal/ports"
	"voxin/internal/recognizer/openai"
	"voxin/internal/rules"
	"voxin/internal/usecase"
	"voxin/internal/worker"
)

// Options lets the host swap the default desktop adapters. Nil fields
// get the headless defaults.
type Options struct {
	Events    ports.EventSink
	Clipboard ports.Clipboard
	Capture   ports.AudioCapture
	Hotkeys   hotkey.Enumerator
}

type recognizer interface {
	ports.Recognizer
	OnStateChange(fn func(domain.WorkerState))
}

// Services is the assembled runtime graph.
type Services struct {
	Config       config.Config
	Orchestrator *usecase.Orchestrator
	Recognizer   ports.Recognizer
	Rules        *rules.Engine
	Metrics      *metrics.Metrics
	Registry     *prometheus.Registry

	watcher *hotkey.Watcher
	control *control.Server
	observe *metrics.Server
	cues    *notify.Cues
	toggles chan string
	log     zerolog.Logger

	runCtx  context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool

	mu       sync.Mutex
	stopping bool
}

var (
	errNotStarted     = errors.New("services are not running")
	errRecognizerLive = errors.New("recognizer is not dead")
)

// Build wires all backend dependencies. A missing microphone is the
// one fatal condition and is reported as audio.ErrNoInputDevice.
func Build(ctx context.Context, cfg config.Config, opts Options) (*Services, error) {
	log := logging.WithComponent("bootstrap")

	chordSpec := cfg.Hotkey.Chord
	if chordSpec == "" {
		chordSpec = hotkey.DefaultChord
	}
	chord, err := hotkey.ParseChord(chordSpec)
	if err != nil {
		return nil, err
	}

	audioCfg := ports.AudioConfig{
		SampleRate:   cfg.Audio.SampleRate,
		Channels:     cfg.Audio.Channels,
		FrameSamples: cfg.Audio.FrameSamples,
		InputFormat:  cfg.Audio.InputFormat,
		InputDevice:  cfg.Audio.InputDevice,
	}
	capture := opts.Capture
	if capture == nil {
		capture, err = audio.NewCapture(cfg.Audio.Backend, cfg.Audio.RecorderCommand)
		if err != nil {
			return nil, err
		}
	}
	if err := capture.Probe(ctx, audioCfg); err != nil {
		return nil, err
	}

	rulesEngine, err := rules.NewEngine(cfg.Rules.Path, cfg.Rules.IterationLimit)
	if err != nil {
		return nil, err
	}
	log.Info().Str("path", cfg.Rules.Path).Int("rules", rulesEngine.Len()).Msg("rules loaded")

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewMetrics(registry)

	rec, err := newRecognizer(cfg.Recognizer, m)
	if err != nil {
		return nil, err
	}

	events := opts.Events
	if events == nil {
		events = newLogSink(logging.WithComponent("events"))
	}
	clipboard := opts.Clipboard
	if clipboard == nil {
		clipboard = notify.NewSystemClipboard()
	}
	cues := notify.NewCues(notify.ParseCueMode(cfg.Cues), logging.WithComponent("cues"))

	orch := usecase.NewOrchestrator(
		capture,
		rec,
		audio.NewWAVStore(os.TempDir()),
		rulesEngine,
		clipboard,
		cues,
		events,
		usecase.Config{
			Session: usecase.SessionConfig{
				Audio:       audioCfg,
				StopTimeout: cfg.Audio.StopTimeout,
			},
			Metrics: m,
			Logger:  logging.WithComponent("orchestrator"),
		},
	)
	rec.OnStateChange(orch.WorkerStateChanged)

	s := &Services{
		Config:       cfg,
		Orchestrator: orch,
		Recognizer:   rec,
		Rules:        rulesEngine,
		Metrics:      m,
		Registry:     registry,
		cues:         cues,
		toggles:      make(chan string, 4),
		log:          log,
	}

	enum := opts.Hotkeys
	if enum == nil {
		enum = hotkey.NewEnumerator(logging.WithComponent("hotkey"))
	}
	s.watcher = hotkey.NewWatcher(enum, chord, func() { s.requestToggle("hotkey") }, logging.WithComponent("hotkey"))
	s.watcher.OnDeviceCount(m.SetHotkeyDevices)

	socketPath := cfg.Control.SocketPath
	if socketPath == "" {
		socketPath = control.DefaultSocketPath()
	}
	s.control = control.NewServer(socketPath, controlHandler{s: s}, logging.WithComponent("control"))

	if cfg.Metrics.Addr != "" {
		s.observe = metrics.NewServer(cfg.Metrics.Addr, registry, func() bool {
			return rec.State() == domain.WorkerStateReady
		}, logging.WithComponent("metrics"))
	}

	return s, nil
}

func newRecognizer(cfg config.RecognizerConfig, m *metrics.Metrics) (recognizer, error) {
	switch cfg.Kind {
	case config.RecognizerOpenAI:
		return openai.New(openai.Config{
			APIKey:     cfg.OpenAI.APIKey,
			BaseURL:    cfg.OpenAI.BaseURL,
			Model:      cfg.OpenAI.Model,
			Language:   cfg.OpenAI.Language,
			Timeout:    cfg.Worker.RequestTimeout,
			MaxRetries: -1,
		}, logging.WithComponent("recognizer")), nil
	case config.RecognizerSubprocess, "":
		return worker.NewSupervisor(worker.Config{
			Command:        cfg.Worker.Command,
			Args:           cfg.Worker.Args,
			ReadyTimeout:   cfg.Worker.ReadyTimeout,
			RequestTimeout: cfg.Worker.RequestTimeout,
			MaxRestarts:    cfg.Worker.MaxRestarts,
			RestartBackoff: cfg.Worker.RestartBackoff,
		}, logging.WithComponent("worker"), m), nil
	default:
		return nil, fmt.Errorf("unknown recognizer %q", cfg.Kind)
	}
}

// Start binds the control socket, writes the pid file and launches the
// background goroutines. It returns control.ErrAlreadyRunning when
// another daemon owns the socket.
func (s *Services) Start(ctx context.Context) error {
	if err := s.control.Listen(); err != nil {
		return err
	}

	pidPath := s.pidPath()
	if err := control.WritePIDFile(pidPath); err != nil {
		s.log.Warn().Err(err).Str("path", pidPath).Msg("failed to write pid file")
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.runCtx = runCtx
	s.cancel = cancel
	s.started = true

	s.spawn(func() {
		if err := s.Recognizer.Start(runCtx); err != nil {
			s.log.Error().Err(err).Msg("recognizer failed to start")
		}
	})
	s.spawn(func() {
		if err := s.watcher.Run(runCtx); err != nil {
			s.log.Warn().Err(err).Msg("hotkey watcher stopped")
		}
	})
	s.spawn(func() {
		if err := s.control.Serve(runCtx); err != nil {
			s.log.Error().Err(err).Msg("control server stopped")
		}
	})
	s.spawn(func() { s.runToggles(runCtx) })
	control.NotifyToggle(runCtx, func() { s.requestToggle("signal") })

	if s.observe != nil {
		s.observe.Start()
	}
	return nil
}

func (s *Services) spawn(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

// requestToggle queues a toggle without blocking the caller. Toggles
// arriving while the queue is full are dropped.
func (s *Services) requestToggle(source string) {
	select {
	case s.toggles <- source:
	default:
		s.log.Warn().Str("source", source).Msg("toggle dropped: queue full")
	}
}

// runToggles applies queued toggles one at a time, in arrival order.
func (s *Services) runToggles(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case source := <-s.toggles:
			s.Toggle(ctx, source)
		}
	}
}

// Toggle runs one toggle from source and logs its outcome.
func (s *Services) Toggle(ctx context.Context, source string) (usecase.ToggleAction, error) {
	s.Metrics.Toggle(source)
	action, err := s.Orchestrator.Toggle(ctx)
	if err != nil {
		s.log.Info().Err(err).Str("source", source).Msg("toggle refused")
		return action, err
	}
	s.log.Debug().Str("source", source).Str("action", string(action)).Msg("toggle applied")
	return action, nil
}

// RestartRecognizer respawns a dead recognizer with a fresh restart
// budget. It returns once the respawn is under way.
func (s *Services) RestartRecognizer() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started || s.stopping {
		return errNotStarted
	}
	if state := s.Recognizer.State(); state != domain.WorkerStateDead {
		return fmt.Errorf("%w (state %s)", errRecognizerLive, state)
	}
	s.log.Info().Msg("restarting recognizer on request")
	s.spawn(func() {
		if err := s.Recognizer.Start(s.runCtx); err != nil {
			s.log.Error().Err(err).Msg("recognizer restart failed")
		}
	})
	return nil
}

// Shutdown stops inputs first, lets the in-flight transcription finish
// until ctx expires, then stops the recognizer and removes the markers.
func (s *Services) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.stopping = true
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	var errs []error
	if s.started {
		if err := s.control.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close control socket: %w", err))
		}
	}

	if err := s.Orchestrator.Close(ctx); err != nil {
		s.log.Warn().Err(err).Msg("in-flight transcription abandoned")
	}
	if err := s.Recognizer.Shutdown(); err != nil {
		errs = append(errs, fmt.Errorf("shutdown recognizer: %w", err))
	}
	s.wg.Wait()
	s.cues.Close()

	if s.observe != nil {
		if err := s.observe.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown observability server: %w", err))
		}
	}
	if s.started {
		if err := control.RemovePIDFile(s.pidPath()); err != nil {
			errs = append(errs, fmt.Errorf("remove pid file: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (s *Services) pidPath() string {
	if s.Config.Control.PIDPath != "" {
		return s.Config.Control.PIDPath
	}
	return control.DefaultPIDPath()
}

// controlHandler adapts the services to the control socket.
type controlHandler struct {
	s *Services
}

func (h controlHandler) Toggle(ctx context.Context) (string, error) {
	action, err := h.s.Toggle(ctx, "control")
	return string(action), err
}

func (h controlHandler) RestartRecognizer() error {
	return h.s.RestartRecognizer()
}

func (h controlHandler) Status() domain.Status {
	return h.s.Orchestrator.Status()
}
