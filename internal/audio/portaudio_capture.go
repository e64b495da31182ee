package audio

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/gordonklaus/portaudio"

	"voxin/internal/domain"
	"voxin/internal/ports"
)

// PortAudioCapture reads the default input device through PortAudio.
type PortAudioCapture struct{}

func NewPortAudioCapture() *PortAudioCapture {
	return &PortAudioCapture{}
}

func (c *PortAudioCapture) Probe(_ context.Context, _ ports.AudioConfig) error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("%w: portaudio init failed: %v", ErrNoInputDevice, err)
	}
	defer portaudio.Terminate()

	dev, err := portaudio.DefaultInputDevice()
	if err != nil || dev == nil {
		return fmt.Errorf("%w: %v", ErrNoInputDevice, err)
	}
	return nil
}

func (c *PortAudioCapture) Open(_ context.Context, cfg ports.AudioConfig) (ports.AudioSource, error) {
	cfg = withDefaults(cfg)

	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio init failed: %w", err)
	}

	in := make([]int16, cfg.FrameSamples*cfg.Channels)
	stream, err := portaudio.OpenDefaultStream(cfg.Channels, 0, float64(cfg.SampleRate), cfg.FrameSamples, in)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("open stream failed: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("start stream failed: %w", err)
	}

	return &portAudioSource{stream: stream, in: in}, nil
}

// portAudioSource serializes Read and Close: PortAudio streams must not
// be stopped while a blocking read is in progress.
type portAudioSource struct {
	mu     sync.Mutex
	stream *portaudio.Stream
	in     []int16
	closed bool
}

func (s *portAudioSource) ReadFrame() (domain.AudioFrame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, io.EOF
	}

	if err := s.stream.Read(); err != nil {
		// overflow still fills the buffer
		if err != portaudio.InputOverflowed {
			return nil, fmt.Errorf("stream read failed: %w", err)
		}
	}

	frame := make(domain.AudioFrame, len(s.in)*2)
	for i, v := range s.in {
		binary.LittleEndian.PutUint16(frame[i*2:], uint16(v))
	}
	return frame, nil
}

func (s *portAudioSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	stopErr := s.stream.Stop()
	closeErr := s.stream.Close()
	_ = portaudio.Terminate()
	if stopErr != nil {
		return stopErr
	}
	return closeErr
}
