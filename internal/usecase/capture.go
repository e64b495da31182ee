package usecase

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"voxin/internal/domain"
	"voxin/internal/metrics"
	"voxin/internal/ports"
)

// captureFrames appends frames to buf until stop is closed, then hands
// the buffer over on out. A read error is reported once and capture
// idles until stop so the frames so far are still delivered.
func captureFrames(
	source ports.AudioSource,
	stop <-chan struct{},
	buf domain.RecordingBuffer,
	events ports.EventSink,
	m *metrics.Metrics,
	log zerolog.Logger,
	out chan<- domain.RecordingBuffer,
) {
	defer func() {
		buf.StoppedAt = time.Now()
		out <- buf
	}()

	for {
		select {
		case <-stop:
			return
		default:
		}

		frame, err := source.ReadFrame()
		if len(frame) > 0 {
			buf.Frames = append(buf.Frames, frame)
		}
		if err == nil {
			continue
		}

		select {
		case <-stop:
			// the source was closed under us during stop
			return
		default:
		}

		if errors.Is(err, io.EOF) {
			log.Warn().Int("frames", len(buf.Frames)).Msg("audio source ended before stop")
		} else {
			log.Error().Err(err).Int("frames", len(buf.Frames)).Msg("audio capture error")
			m.CaptureError()
			events.SessionError(domain.ErrorCodeAudioStream, fmt.Sprintf("audio capture error: %v", err))
		}
		<-stop
		return
	}
}
