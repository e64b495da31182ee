package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	RecognizerSubprocess = "subprocess"
	RecognizerOpenAI     = "openai"
)

// Config stores runtime configuration for the daemon.
type Config struct {
	Hotkey     HotkeyConfig
	Audio      AudioConfig
	Recognizer RecognizerConfig
	Rules      RulesConfig
	Control    ControlConfig
	Metrics    MetricsConfig
	Cues       string
	Log        LogConfig
}

type HotkeyConfig struct {
	Chord string
}

type AudioConfig struct {
	Backend         string
	RecorderCommand string
	InputFormat     string
	InputDevice     string
	SampleRate      int
	Channels        int
	FrameSamples    int
	StopTimeout     time.Duration
}

type RecognizerConfig struct {
	Kind   string
	Worker WorkerConfig
	OpenAI OpenAIConfig
}

type WorkerConfig struct {
	Command        string
	Args           []string
	ReadyTimeout   time.Duration
	RequestTimeout time.Duration
	MaxRestarts    int
	RestartBackoff time.Duration
}

type OpenAIConfig struct {
	APIKey   string
	BaseURL  string
	Model    string
	Language string
}

type RulesConfig struct {
	Path           string
	IterationLimit int
}

type ControlConfig struct {
	SocketPath string
	PIDPath    string
}

type MetricsConfig struct {
	Addr string
}

type LogConfig struct {
	Level  string
	Format string
}

// Load reads an optional .env file from the working directory, then
// resolves configuration from environment variables and defaults.
// Variables already set in the environment win over .env entries.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load .env file: %w", err)
	}
	return FromEnv()
}

// FromEnv resolves configuration from the process environment only.
func FromEnv() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, errors.New("could not determine home directory")
	}

	rulesPath := strings.TrimSpace(os.Getenv("VOXIN_RULES_FILE"))
	if rulesPath == "" {
		rulesPath = firstExisting(
			filepath.Join(home, ".config", "voxin", "substitutions.rules"),
			filepath.Join(home, ".config", "hypr", "whisper-substitutions.rules"),
		)
	}

	cfg := Config{
		Hotkey: HotkeyConfig{
			Chord: envOrDefault("VOXIN_HOTKEY", ""),
		},
		Audio: AudioConfig{
			Backend:         strings.ToLower(envOrDefault("VOXIN_AUDIO_BACKEND", "ffmpeg")),
			RecorderCommand: envOrDefault("VOXIN_FFMPEG_COMMAND", "ffmpeg"),
			InputFormat:     envOrDefault("VOXIN_AUDIO_INPUT_FORMAT", "pulse"),
			InputDevice: firstNonEmpty(
				os.Getenv("VOXIN_AUDIO_INPUT_DEVICE"),
				os.Getenv("WHISPER_PULSE_SOURCE"),
				"default",
			),
			SampleRate:   envOrDefaultInt("VOXIN_SAMPLE_RATE", 16000),
			Channels:     1,
			FrameSamples: envOrDefaultInt("VOXIN_FRAME_SAMPLES", 1024),
			StopTimeout:  envOrDefaultMillis("VOXIN_STOP_TIMEOUT_MS", time.Second),
		},
		Recognizer: RecognizerConfig{
			Kind: strings.ToLower(envOrDefault("VOXIN_RECOGNIZER", RecognizerSubprocess)),
			Worker: WorkerConfig{
				Command:        envOrDefault("VOXIN_WORKER_COMMAND", ""),
				Args:           strings.Fields(os.Getenv("VOXIN_WORKER_ARGS")),
				ReadyTimeout:   envOrDefaultMillis("VOXIN_WORKER_READY_TIMEOUT_MS", 120*time.Second),
				RequestTimeout: envOrDefaultMillis("VOXIN_WORKER_REQUEST_TIMEOUT_MS", 120*time.Second),
				MaxRestarts:    firstNonNegativeInt("VOXIN_WORKER_MAX_RESTARTS", 5),
				RestartBackoff: envOrDefaultMillis("VOXIN_WORKER_RESTART_BACKOFF_MS", 500*time.Millisecond),
			},
			OpenAI: OpenAIConfig{
				APIKey:   strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
				BaseURL:  strings.TrimSpace(os.Getenv("OPENAI_BASE_URL")),
				Model:    envOrDefault("VOXIN_OPENAI_MODEL", "whisper-1"),
				Language: strings.TrimSpace(os.Getenv("VOXIN_LANGUAGE")),
			},
		},
		Rules: RulesConfig{
			Path:           rulesPath,
			IterationLimit: envOrDefaultInt("VOXIN_RULE_ITERATION_LIMIT", 30),
		},
		Control: ControlConfig{
			SocketPath: envOrDefault("VOXIN_SOCKET", ""),
			PIDPath:    envOrDefault("VOXIN_PID_FILE", ""),
		},
		Metrics: MetricsConfig{
			Addr: envOrDefault("VOXIN_METRICS_ADDR", ""),
		},
		Cues: envOrDefault("VOXIN_CUES", "beep"),
		Log: LogConfig{
			Level:  envOrDefault("VOXIN_LOG_LEVEL", "info"),
			Format: envOrDefault("VOXIN_LOG_FORMAT", "console"),
		},
	}

	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = 16000
	}
	if cfg.Audio.FrameSamples < 64 {
		cfg.Audio.FrameSamples = 1024
	}
	if cfg.Rules.IterationLimit <= 0 {
		cfg.Rules.IterationLimit = 30
	}

	switch cfg.Recognizer.Kind {
	case RecognizerSubprocess:
		if cfg.Recognizer.Worker.Command == "" {
			return Config{}, errors.New("VOXIN_WORKER_COMMAND is required for the subprocess recognizer")
		}
	case RecognizerOpenAI:
		if cfg.Recognizer.OpenAI.APIKey == "" {
			return Config{}, errors.New("OPENAI_API_KEY is required for the openai recognizer")
		}
	default:
		return Config{}, fmt.Errorf("unknown recognizer %q", cfg.Recognizer.Kind)
	}

	return cfg, nil
}

func firstExisting(paths ...string) string {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	if len(paths) == 0 {
		return ""
	}
	return paths[0]
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

// envOrDefaultMillis reads a positive millisecond count.
func envOrDefaultMillis(key string, fallback time.Duration) time.Duration {
	ms := envOrDefaultInt(key, -1)
	if ms <= 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}

func firstNonNegativeInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}
