// Package audio implements microphone capture backends and the WAV
// artifact handed to the recognizer.
package audio

import (
	"errors"
	"fmt"
	"strings"

	"voxin/internal/ports"
)

// ErrNoInputDevice means no capture backend can reach a microphone.
var ErrNoInputDevice = errors.New("no audio input device available")

const (
	BackendFFMPEG    = "ffmpeg"
	BackendPortAudio = "portaudio"
)

// NewCapture selects a capture backend by name.
func NewCapture(backend string, ffmpegCommand string) (ports.AudioCapture, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", BackendFFMPEG:
		return NewFFMPEGCapture(ffmpegCommand), nil
	case BackendPortAudio:
		return NewPortAudioCapture(), nil
	default:
		return nil, fmt.Errorf("unknown audio backend %q", backend)
	}
}

func withDefaults(cfg ports.AudioConfig) ports.AudioConfig {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.FrameSamples <= 0 {
		cfg.FrameSamples = 1024
	}
	if cfg.InputFormat == "" {
		cfg.InputFormat = "pulse"
	}
	if cfg.InputDevice == "" {
		cfg.InputDevice = "default"
	}
	return cfg
}
