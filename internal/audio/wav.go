package audio

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/google/uuid"

	"voxin/internal/domain"
)

// WriteArtifact encodes the buffer as a 16-bit PCM WAV file in dir and
// returns its path. Frames are written in capture order. The caller
// owns the file and must remove it.
func WriteArtifact(dir string, buf domain.RecordingBuffer) (string, error) {
	if buf.Empty() {
		return "", fmt.Errorf("refusing to encode an empty recording")
	}
	sampleRate := buf.SampleRate
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	channels := buf.Channels
	if channels <= 0 {
		channels = 1
	}
	if dir == "" {
		dir = os.TempDir()
	}

	path := filepath.Join(dir, artifactName())
	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create wav failed: %w", err)
	}

	enc := wav.NewEncoder(file, sampleRate, 16, channels, 1)
	format := &audio.Format{NumChannels: channels, SampleRate: sampleRate}

	for _, frame := range buf.Frames {
		if len(frame) < 2 {
			continue
		}
		if err := enc.Write(&audio.IntBuffer{Format: format, Data: frameToInts(frame), SourceBitDepth: 16}); err != nil {
			_ = enc.Close()
			_ = file.Close()
			_ = os.Remove(path)
			return "", fmt.Errorf("wav write failed: %w", err)
		}
	}

	if err := enc.Close(); err != nil {
		_ = file.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("wav close failed: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("wav close failed: %w", err)
	}
	return path, nil
}

func frameToInts(frame domain.AudioFrame) []int {
	out := make([]int, len(frame)/2)
	for i := range out {
		out[i] = int(int16(binary.LittleEndian.Uint16(frame[i*2:])))
	}
	return out
}

func artifactName() string {
	id := strings.ReplaceAll(uuid.New().String(), "-", "")[:16]
	return fmt.Sprintf("voxin_%s.wav", id)
}

// WAVStore writes recordings as WAV artifacts under Dir.
type WAVStore struct {
	Dir string
}

func NewWAVStore(dir string) *WAVStore {
	return &WAVStore{Dir: dir}
}

func (s *WAVStore) Write(buf domain.RecordingBuffer) (string, error) {
	return WriteArtifact(s.Dir, buf)
}

func (s *WAVStore) Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
