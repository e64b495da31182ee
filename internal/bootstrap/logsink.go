package bootstrap

import (
	"github.com/rs/zerolog"

	"voxin/internal/domain"
)

// logSink is the event sink used without a GUI.
type logSink struct {
	log zerolog.Logger
}

func newLogSink(log zerolog.Logger) *logSink {
	return &logSink{log: log}
}

func (s *logSink) SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	s.log.Info().Str("state", string(state)).Str("reason", string(reason)).Msg("session")
}

func (s *logSink) WorkerStateChanged(state domain.WorkerState) {
	s.log.Info().Str("worker", string(state)).Msg("recognizer")
}

func (s *logSink) FinalTranscript(raw string, transformed string) {
	s.log.Info().Int("chars", len(transformed)).Bool("rewritten", raw != transformed).Msg("transcript")
	s.log.Debug().Str("text", transformed).Msg("transcript text")
}

func (s *logSink) SessionError(code domain.ErrorCode, detail string) {
	s.log.Warn().Str("code", string(code)).Str("detail", detail).Msg("session error")
}
