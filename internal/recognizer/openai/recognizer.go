// Package openai implements ports.Recognizer over the OpenAI audio
// transcription endpoint. It is a drop-in replacement for the local
// worker when no model can run on the machine.
package openai

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/rs/zerolog"

	"voxin/internal/domain"
	"voxin/internal/ports"
)

const DefaultModel = "whisper-1"

var ErrMissingAPIKey = errors.New("openai api key is required")

// Config holds configuration for the remote recognizer.
type Config struct {
	APIKey   string
	BaseURL  string // Optional, defaults to OpenAI's API
	Model    string // Optional, defaults to whisper-1
	Language string // Optional ISO-639-1 hint
	Timeout  time.Duration
	// MaxRetries is passed to the client; negative uses the client default.
	MaxRetries int
}

// Recognizer sends one artifact per request to the transcription API.
type Recognizer struct {
	cfg     Config
	log     zerolog.Logger
	onState func(domain.WorkerState)

	reqMu sync.Mutex

	mu     sync.Mutex
	state  domain.WorkerState
	client *openai.Client
}

func New(cfg Config, log zerolog.Logger) *Recognizer {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &Recognizer{cfg: cfg, log: log, state: domain.WorkerStateStopped}
}

// OnStateChange registers fn for state transitions. It must be set
// before Start.
func (r *Recognizer) OnStateChange(fn func(domain.WorkerState)) {
	r.onState = fn
}

func (r *Recognizer) State() domain.WorkerState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Start builds the client. There is no handshake beyond checking that
// credentials are configured.
func (r *Recognizer) Start(_ context.Context) error {
	r.setState(domain.WorkerStateStarting)

	if r.cfg.APIKey == "" {
		r.setState(domain.WorkerStateDead)
		return ErrMissingAPIKey
	}

	opts := []option.RequestOption{
		option.WithAPIKey(r.cfg.APIKey),
		option.WithRequestTimeout(r.cfg.Timeout),
	}
	if r.cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(r.cfg.BaseURL))
	}
	if r.cfg.MaxRetries >= 0 {
		opts = append(opts, option.WithMaxRetries(r.cfg.MaxRetries))
	}
	client := openai.NewClient(opts...)

	r.mu.Lock()
	r.client = &client
	r.mu.Unlock()

	r.log.Info().Str("model", r.cfg.Model).Msg("remote recognizer ready")
	r.setState(domain.WorkerStateReady)
	return nil
}

// Transcribe uploads the artifact and returns the recognized text. API
// failures are per-request and leave the recognizer ready.
func (r *Recognizer) Transcribe(ctx context.Context, artifactPath string) (string, error) {
	r.reqMu.Lock()
	defer r.reqMu.Unlock()

	r.mu.Lock()
	if r.state != domain.WorkerStateReady || r.client == nil {
		state := r.state
		r.mu.Unlock()
		return "", fmt.Errorf("%w (state %s)", ports.ErrRecognizerNotReady, state)
	}
	client := r.client
	r.mu.Unlock()

	file, err := os.Open(artifactPath)
	if err != nil {
		return "", &ports.RecognitionError{Message: fmt.Sprintf("open artifact: %v", err)}
	}
	defer file.Close()

	r.setState(domain.WorkerStateBusy)
	defer r.setStateIf(domain.WorkerStateBusy, domain.WorkerStateReady)

	params := openai.AudioTranscriptionNewParams{
		File:  file,
		Model: openai.AudioModel(r.cfg.Model),
	}
	if r.cfg.Language != "" {
		params.Language = openai.String(r.cfg.Language)
	}

	resp, err := client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("%w: %v", ports.ErrRecognizerUnavailable, ctxErr)
		}
		var apiErr *openai.Error
		if errors.As(err, &apiErr) && apiErr.Message != "" {
			return "", &ports.RecognitionError{Message: apiErr.Message}
		}
		return "", &ports.RecognitionError{Message: err.Error()}
	}
	return resp.Text, nil
}

// Shutdown drops the client. It is idempotent.
func (r *Recognizer) Shutdown() error {
	r.mu.Lock()
	r.client = nil
	r.mu.Unlock()
	r.setState(domain.WorkerStateStopped)
	return nil
}

func (r *Recognizer) setState(state domain.WorkerState) {
	r.mu.Lock()
	changed := r.state != state
	r.state = state
	r.mu.Unlock()
	if changed && r.onState != nil {
		r.onState(state)
	}
}

func (r *Recognizer) setStateIf(from, to domain.WorkerState) {
	r.mu.Lock()
	if r.state != from {
		r.mu.Unlock()
		return
	}
	r.state = to
	r.mu.Unlock()
	if r.onState != nil {
		r.onState(to)
	}
}
