package usecase

import (
	"context"
	"strings"

	"golang.org/x/text/unicode/norm"

	"voxin/internal/domain"
	"voxin/internal/ports"
)

type transcriptFinalizer struct {
	rules     ports.RulesEngine
	clipboard ports.Clipboard
	events    ports.EventSink
}

func newTranscriptFinalizer(rules ports.RulesEngine, clipboard ports.Clipboard, events ports.EventSink) transcriptFinalizer {
	return transcriptFinalizer{rules: rules, clipboard: clipboard, events: events}
}

// Finalize normalizes and transforms raw, copies the result and emits
// the final transcript. A clipboard failure is reported but not fatal.
func (f transcriptFinalizer) Finalize(ctx context.Context, raw string) (domain.TranscriptResult, domain.SessionStateReason, error) {
	transformed, err := f.rules.Apply(normalizeTranscript(raw))
	if err != nil {
		f.events.SessionError(domain.ErrorCodeRules, err.Error())
		return domain.TranscriptResult{}, domain.SessionReasonRulesFailed, err
	}

	result := domain.TranscriptResult{
		RawTranscript:   raw,
		FinalTranscript: transformed,
		Copied:          true,
	}
	reason := domain.SessionReasonTranscriptCopied

	if err := f.clipboard.SetText(ctx, transformed); err != nil {
		result.Copied = false
		reason = domain.SessionReasonTranscriptReadyClipboardFailed
		f.events.SessionError(domain.ErrorCodeClipboard, "transcript ready but clipboard write failed")
	}

	f.events.FinalTranscript(result.RawTranscript, result.FinalTranscript)
	return result, reason, nil
}

// normalizeTranscript composes the text to NFC so rules match
// regardless of how the recognizer encoded accents.
func normalizeTranscript(raw string) string {
	return strings.TrimSpace(norm.NFC.String(raw))
}
