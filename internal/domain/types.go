package domain

import "time"

// SessionState models the push-to-talk recording lifecycle.
type SessionState string

const (
	SessionStateIdle       SessionState = "idle"
	SessionStateRecording  SessionState = "recording"
	SessionStateFinalizing SessionState = "finalizing"
)

// SessionStateReason provides a structured reason for state transitions.
type SessionStateReason string

const (
	SessionReasonWorkerLoading                  SessionStateReason = "worker_loading"
	SessionReasonReady                          SessionStateReason = "ready"
	SessionReasonRecordingStarted               SessionStateReason = "recording_started"
	SessionReasonTranscribing                   SessionStateReason = "transcribing"
	SessionReasonRecordingEmpty                 SessionStateReason = "recording_empty"
	SessionReasonTranscriptCopied               SessionStateReason = "transcript_copied"
	SessionReasonTranscriptReadyClipboardFailed SessionStateReason = "transcript_clipboard_failed"
	SessionReasonNoTranscript                   SessionStateReason = "no_transcript"
	SessionReasonTranscriptionFailed            SessionStateReason = "transcription_failed"
	SessionReasonWorkerUnavailable              SessionStateReason = "worker_unavailable"
	SessionReasonRulesFailed                    SessionStateReason = "rules_failed"
)

// ErrorCode identifies non-fatal and fatal backend errors.
type ErrorCode string

const (
	ErrorCodeStartup       ErrorCode = "startup"
	ErrorCodeAudioStart    ErrorCode = "audio_start"
	ErrorCodeAudioStop     ErrorCode = "audio_stop"
	ErrorCodeAudioStream   ErrorCode = "audio_stream"
	ErrorCodeArtifact      ErrorCode = "artifact"
	ErrorCodeTranscription ErrorCode = "transcription"
	ErrorCodeWorker        ErrorCode = "worker"
	ErrorCodeRules         ErrorCode = "rules"
	ErrorCodeClipboard     ErrorCode = "clipboard"
)

// WorkerState is the lifecycle of the recognizer behind a ports.Recognizer.
type WorkerState string

const (
	WorkerStateStarting WorkerState = "starting"
	WorkerStateReady    WorkerState = "ready"
	WorkerStateBusy     WorkerState = "busy"
	WorkerStateDead     WorkerState = "dead"
	WorkerStateStopped  WorkerState = "stopped"
)

// Cue is an audible hint emitted at the edges of a dictation cycle.
type Cue string

const (
	CueStart    Cue = "start"
	CueComplete Cue = "complete"
	CueError    Cue = "error"
)

// AudioFrame is one fixed-size block of s16le PCM as read from the source.
type AudioFrame []byte

// Samples returns the number of 16-bit samples in the frame.
func (f AudioFrame) Samples() int {
	return len(f) / 2
}

// RecordingBuffer is the ordered list of frames captured by one session.
type RecordingBuffer struct {
	Frames     []AudioFrame
	SampleRate int
	Channels   int
	StartedAt  time.Time
	StoppedAt  time.Time
}

// Empty reports whether no audio was captured.
func (b RecordingBuffer) Empty() bool {
	for _, f := range b.Frames {
		if len(f) > 0 {
			return false
		}
	}
	return true
}

// TotalSamples is the sum of the frame sample counts.
func (b RecordingBuffer) TotalSamples() int {
	total := 0
	for _, f := range b.Frames {
		total += f.Samples()
	}
	return total
}

// Duration derives the audio length from the sample count.
func (b RecordingBuffer) Duration() time.Duration {
	if b.SampleRate <= 0 || b.Channels <= 0 {
		return 0
	}
	perChannel := b.TotalSamples() / b.Channels
	return time.Duration(perChannel) * time.Second / time.Duration(b.SampleRate)
}

// TranscriptResult is delivered once a transcription request completes.
type TranscriptResult struct {
	RawTranscript   string `json:"rawTranscript"`
	FinalTranscript string `json:"finalTranscript"`
	Copied          bool   `json:"copied"`
}

// Status summarizes the current runtime status.
type Status struct {
	State       SessionState `json:"state"`
	Worker      WorkerState  `json:"worker"`
	Pending     bool         `json:"pending"`
	CanRecord   bool         `json:"canRecord"`
	LastMessage string       `json:"lastMessage,omitempty"`
}
