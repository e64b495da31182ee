// Package worker supervises the out-of-process speech recognizer.
//
// The worker speaks a line protocol over stdin/stdout. It prints "ready"
// once its model is loaded, then for every artifact path written to
// stdin it answers with one line: the transcript (possibly empty) or
// "ERROR:" followed by a message.
package worker

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"voxin/internal/domain"
	"voxin/internal/metrics"
	"voxin/internal/ports"
)

const (
	ReadyMarker = "ready"
	ErrorPrefix = "ERROR:"

	maxBackoff = 30 * time.Second
	maxLine    = 1 << 20
	lineQueue  = 64
)

var (
	ErrNotReady          = ports.ErrRecognizerNotReady
	ErrWorkerUnavailable = ports.ErrRecognizerUnavailable
	ErrRequestTimeout    = errors.New("worker request timed out")
	ErrReadyTimeout      = errors.New("worker did not become ready in time")
	ErrShutdown          = errors.New("worker shut down")
)

// Config describes the worker command and its supervision limits.
type Config struct {
	Command string
	Args    []string
	Env     []string

	ReadyTimeout   time.Duration
	RequestTimeout time.Duration
	ShutdownGrace  time.Duration

	// MaxRestarts bounds consecutive automatic respawns. Zero disables
	// restarts.
	MaxRestarts    int
	RestartBackoff time.Duration
}

func (c Config) withDefaults() Config {
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = 120 * time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 120 * time.Second
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = 2 * time.Second
	}
	if c.MaxRestarts < 0 {
		c.MaxRestarts = 0
	}
	if c.RestartBackoff <= 0 {
		c.RestartBackoff = 500 * time.Millisecond
	}
	return c
}

// Supervisor owns one worker process at a time and serializes requests
// to it. It implements ports.Recognizer.
type Supervisor struct {
	cfg     Config
	log     zerolog.Logger
	metrics *metrics.Metrics
	onState func(domain.WorkerState)

	// reqMu keeps at most one request on the wire.
	reqMu sync.Mutex

	mu         sync.Mutex
	state      domain.WorkerState
	proc       *process
	closed     bool
	failures   int
	restarting bool
	launching  bool
	done       chan struct{}
}

func NewSupervisor(cfg Config, log zerolog.Logger, m *metrics.Metrics) *Supervisor {
	return &Supervisor{
		cfg:     cfg.withDefaults(),
		log:     log,
		metrics: m,
		state:   domain.WorkerStateStopped,
		done:    make(chan struct{}),
	}
}

// OnStateChange registers fn for state transitions. It must be set
// before Start.
func (s *Supervisor) OnStateChange(fn func(domain.WorkerState)) {
	s.onState = fn
}

// State returns the current worker state.
func (s *Supervisor) State() domain.WorkerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start spawns the worker and waits for its ready line. Calling Start on
// a running worker is a no-op; on a dead one it respawns and resets the
// restart budget. A failed start enters the restart policy.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrShutdown
	}
	if s.proc != nil || s.restarting || s.launching {
		s.mu.Unlock()
		return nil
	}
	s.failures = 0
	s.launching = true
	s.mu.Unlock()

	if err := s.launch(ctx); err != nil {
		s.died(nil, err)
		return err
	}
	return nil
}

// launch runs with s.launching set and always clears it.
func (s *Supervisor) launch(ctx context.Context) error {
	s.transition(domain.WorkerStateStarting)

	proc, err := startProcess(s.cfg, s.log)
	if err != nil {
		s.endLaunch()
		return err
	}
	s.log.Info().Int("pid", proc.pid()).Str("command", s.cfg.Command).Msg("worker spawned, waiting for ready")

	if err := proc.awaitReady(ctx, s.cfg.ReadyTimeout, s.log); err != nil {
		proc.kill()
		s.endLaunch()
		return err
	}

	s.mu.Lock()
	s.launching = false
	if s.closed {
		s.mu.Unlock()
		proc.kill()
		return ErrShutdown
	}
	s.proc = proc
	state := s.setStateLocked(domain.WorkerStateReady)
	s.mu.Unlock()
	s.emit(state)

	s.log.Info().Int("pid", proc.pid()).Msg("worker ready")
	go s.watch(proc)
	return nil
}

func (s *Supervisor) endLaunch() {
	s.mu.Lock()
	s.launching = false
	s.mu.Unlock()
}

// watch marks the worker dead when its process exits on its own.
func (s *Supervisor) watch(proc *process) {
	<-proc.exited
	s.died(proc, fmt.Errorf("%w: process exited: %v", ErrWorkerUnavailable, proc.waitErr))
}

// Transcribe sends one artifact path and returns the transcript line.
func (s *Supervisor) Transcribe(ctx context.Context, artifactPath string) (string, error) {
	if strings.ContainsAny(artifactPath, "\r\n") {
		return "", fmt.Errorf("artifact path must be a single line: %q", artifactPath)
	}

	s.reqMu.Lock()
	defer s.reqMu.Unlock()

	s.mu.Lock()
	if s.state != domain.WorkerStateReady || s.proc == nil {
		state := s.state
		s.mu.Unlock()
		return "", fmt.Errorf("%w (state %s)", ErrNotReady, state)
	}
	proc := s.proc
	state := s.setStateLocked(domain.WorkerStateBusy)
	s.mu.Unlock()
	s.emit(state)

	line, err := proc.exchange(ctx, artifactPath, s.cfg.RequestTimeout, s.log)
	if err != nil {
		s.log.Error().Err(err).Str("artifact", artifactPath).Msg("worker request failed")
		proc.kill()
		s.died(proc, err)
		return "", err
	}

	s.mu.Lock()
	s.failures = 0
	var ready domain.WorkerState
	if s.proc == proc && s.state == domain.WorkerStateBusy {
		ready = s.setStateLocked(domain.WorkerStateReady)
	}
	s.mu.Unlock()
	s.emit(ready)

	if msg, ok := strings.CutPrefix(line, ErrorPrefix); ok {
		return "", &ports.RecognitionError{Message: msg}
	}
	return line, nil
}

// Shutdown stops the worker and disables restarts. It is idempotent.
func (s *Supervisor) Shutdown() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.done)
	proc := s.proc
	s.proc = nil
	state := s.setStateLocked(domain.WorkerStateStopped)
	s.mu.Unlock()
	s.emit(state)

	if proc == nil {
		return nil
	}
	s.log.Info().Int("pid", proc.pid()).Msg("stopping worker")
	return proc.stop(s.cfg.ShutdownGrace)
}

// died records the loss of proc (nil for a failed launch) and schedules
// a respawn while the restart budget lasts.
func (s *Supervisor) died(proc *process, cause error) {
	s.mu.Lock()
	if s.closed || (proc != nil && s.proc != proc) {
		s.mu.Unlock()
		return
	}
	s.proc = nil
	state := s.setStateLocked(domain.WorkerStateDead)

	schedule, exhausted := false, false
	var delay time.Duration
	if !s.restarting {
		if s.failures < s.cfg.MaxRestarts {
			s.failures++
			delay = backoff(s.cfg.RestartBackoff, s.failures)
			s.restarting = true
			schedule = true
		} else {
			exhausted = s.cfg.MaxRestarts > 0
		}
	}
	attempt := s.failures
	s.mu.Unlock()
	s.emit(state)

	s.log.Error().Err(cause).Msg("worker is dead")
	if exhausted {
		s.log.Error().Int("attempts", attempt).Msg("worker restart budget exhausted")
	}
	if !schedule {
		return
	}
	s.log.Warn().Int("attempt", attempt).Dur("backoff", delay).Msg("scheduling worker restart")
	go s.restartAfter(delay)
}

func (s *Supervisor) restartAfter(delay time.Duration) {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-s.done:
		return
	}

	s.mu.Lock()
	s.restarting = false
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.launching = true
	s.mu.Unlock()

	s.metrics.WorkerRestarted()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-s.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := s.launch(ctx); err != nil {
		s.died(nil, err)
	}
}

func backoff(base time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}

// setStateLocked returns the new state when it changed, "" otherwise.
func (s *Supervisor) setStateLocked(state domain.WorkerState) domain.WorkerState {
	if s.state == state {
		return ""
	}
	s.state = state
	return state
}

func (s *Supervisor) transition(state domain.WorkerState) {
	s.mu.Lock()
	changed := s.setStateLocked(state)
	s.mu.Unlock()
	s.emit(changed)
}

// emit runs outside s.mu so callbacks may call back into the supervisor.
func (s *Supervisor) emit(state domain.WorkerState) {
	if state == "" {
		return
	}
	if s.onState != nil {
		s.onState(state)
	}
}

// process is one running worker with its line reader.
type process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	writer *bufio.Writer
	lines  chan string

	exited  chan struct{}
	waitErr error

	killOnce sync.Once
}

func startProcess(cfg Config, log zerolog.Logger) (*process, error) {
	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Env = append(os.Environ(), cfg.Env...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create worker stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create worker stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create worker stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: failed to start worker: %v", ErrWorkerUnavailable, err)
	}

	p := &process{
		cmd:    cmd,
		stdin:  stdin,
		writer: bufio.NewWriter(stdin),
		lines:  make(chan string, lineQueue),
		exited: make(chan struct{}),
	}

	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		defer close(p.lines)
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 64*1024), maxLine)
		// The reader never blocks on an idle worker, so EOF is always
		// reached and exited always closes.
		for scanner.Scan() {
			line := strings.TrimRight(scanner.Text(), "\r")
			select {
			case p.lines <- line:
			default:
				log.Warn().Str("line", line).Msg("dropping worker output nobody asked for")
			}
		}
		if err := scanner.Err(); err != nil {
			log.Warn().Err(err).Msg("worker stdout read failed")
		}
	}()
	go func() {
		defer readers.Done()
		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, 64*1024), maxLine)
		for scanner.Scan() {
			log.Debug().Str("stream", "stderr").Msg(scanner.Text())
		}
	}()
	go func() {
		// Wait closes the pipes, so it runs after both readers drain.
		readers.Wait()
		p.waitErr = cmd.Wait()
		close(p.exited)
	}()

	return p, nil
}

func (p *process) pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

func (p *process) awaitReady(ctx context.Context, timeout time.Duration, log zerolog.Logger) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case line, ok := <-p.lines:
			if !ok {
				<-p.exited
				return fmt.Errorf("%w: exited before ready: %v", ErrWorkerUnavailable, p.waitErr)
			}
			if strings.TrimSpace(line) == ReadyMarker {
				return nil
			}
			log.Debug().Str("line", line).Msg("worker output before ready")
		case <-timer.C:
			return fmt.Errorf("%w after %s", ErrReadyTimeout, timeout)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// exchange writes one request and reads exactly one response line.
func (p *process) exchange(ctx context.Context, request string, timeout time.Duration, log zerolog.Logger) (string, error) {
	// A line still queued here was never asked for.
drain:
	for {
		select {
		case line, ok := <-p.lines:
			if !ok {
				return "", fmt.Errorf("%w: output closed", ErrWorkerUnavailable)
			}
			log.Warn().Str("line", line).Msg("discarding unsolicited worker output")
		default:
			break drain
		}
	}

	if _, err := p.writer.WriteString(request + "\n"); err != nil {
		return "", fmt.Errorf("%w: write request: %v", ErrWorkerUnavailable, err)
	}
	if err := p.writer.Flush(); err != nil {
		return "", fmt.Errorf("%w: write request: %v", ErrWorkerUnavailable, err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case line, ok := <-p.lines:
		if !ok {
			return "", fmt.Errorf("%w: exited while a request was outstanding", ErrWorkerUnavailable)
		}
		return line, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: %w after %s", ErrWorkerUnavailable, ErrRequestTimeout, timeout)
		}
		return "", fmt.Errorf("%w: %v", ErrWorkerUnavailable, ctx.Err())
	}
}

func (p *process) kill() {
	p.killOnce.Do(func() {
		if p.cmd.Process != nil {
			_ = p.cmd.Process.Kill()
		}
	})
}

// stop closes stdin and waits for a clean exit, killing after grace.
func (p *process) stop(grace time.Duration) error {
	_ = p.stdin.Close()

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-p.exited:
		return normalizeExitErr(p.waitErr)
	case <-timer.C:
		p.kill()
		<-p.exited
		return nil
	}
}

func normalizeExitErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}
