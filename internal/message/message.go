// Package message defines the data types flowing through the obivox pipeline.
package message

import (
	"encoding/base64"
	"time"

	"github.com/nadzzz/obivox/internal/drift"
	"github.com/nadzzz/obivox/internal/nlm"
	"github.com/nadzzz/obivox/internal/variation"
)

// Message represents an incoming request from any transport.
type Message struct {
	// ID is a unique identifier for this message (UUID).
	ID string `json:"id"`

	// Source identifies the sender (e.g., "kiosk-01", "phone-alice").
	Source string `json:"source"`

	// Audio is the raw audio payload. Audio messages are transcribed.
	Audio []byte `json:"audio,omitempty"`

	// ContentType is the MIME type of the audio (e.g., "audio/wav", "audio/ogg").
	ContentType string `json:"content_type,omitempty"`

	// Text is synthesized when no audio is present.
	Text string `json:"text,omitempty"`

	// Language is an ISO-639-1 hint passed to the backend.
	Language string `json:"language,omitempty"`

	// Prompt is context for recognition of domain-specific terms.
	Prompt string `json:"prompt,omitempty"`

	// Voice overrides language-based voice selection for synthesis.
	Voice string `json:"voice,omitempty"`

	// Service and Operation override the default atlas key for the input
	// kind (stt/transcribe for audio, tts/synthesize for text).
	Service   string `json:"service,omitempty"`
	Operation string `json:"operation,omitempty"`

	// DriftEstimate, when set, replaces the drift derived from the mapped
	// confidence. Must be in [0,1].
	DriftEstimate *float64 `json:"drift_estimate,omitempty"`

	// Profile carries the caller's accessibility preferences. The updated
	// profile is returned in the result for the caller to keep.
	Profile *variation.Profile `json:"profile,omitempty"`

	// Timestamp is when the message was received by obivox.
	Timestamp time.Time `json:"timestamp"`
}

// HasAudio returns true if the message contains an audio payload.
func (m *Message) HasAudio() bool {
	return len(m.Audio) > 0
}

// Confirmation is a pending human-confirmation request.
type Confirmation struct {
	RequestID           string  `json:"request_id,omitempty"`
	ConfidenceThreshold float64 `json:"confidence_threshold"`
	Reason              string  `json:"reason"`
}

// DispatchResult is the outcome of processing a message through the pipeline.
type DispatchResult struct {
	// MessageID is the original message ID.
	MessageID string `json:"message_id"`

	// Service and Operation are the atlas key that served the message.
	Service   string `json:"service,omitempty"`
	Operation string `json:"operation,omitempty"`

	// Backend is the codec backend that produced the output.
	Backend string `json:"backend,omitempty"`

	// Transcript is the text produced by transcription.
	Transcript string `json:"transcript,omitempty"`

	// Language is the ISO-639-1 code reported by the backend.
	Language string `json:"language,omitempty"`

	// ResponseAudio is the synthesized audio as a base64-encoded string.
	ResponseAudio string `json:"response_audio,omitempty"`

	// ResponseContentType is the MIME type of ResponseAudio (e.g., "audio/wav").
	ResponseContentType string `json:"response_content_type,omitempty"`

	Zone       string       `json:"zone,omitempty"`
	Discipline string       `json:"discipline,omitempty"`
	Position   nlm.Position `json:"position"`

	// Confidence is the mapped position confidence; BackendConfidence is the
	// codec's own.
	Confidence        float64 `json:"confidence"`
	BackendConfidence float64 `json:"backend_confidence,omitempty"`

	ShouldCascade bool `json:"should_cascade"`

	// Intervention is set when automatic recovery is exhausted; no backend
	// was invoked.
	Intervention bool `json:"intervention"`

	Confirmation *Confirmation `json:"confirmation,omitempty"`

	// Profile is the caller's updated accessibility profile (audio only).
	Profile *variation.Profile `json:"profile,omitempty"`

	// Error is set if processing failed at any stage.
	Error string `json:"error,omitempty"`
}

// SetResponseAudioBytes base64-encodes raw audio bytes into ResponseAudio.
func (r *DispatchResult) SetResponseAudioBytes(audio []byte) {
	if len(audio) > 0 {
		r.ResponseAudio = base64.StdEncoding.EncodeToString(audio)
	}
}

// Correction is a human answer to an interpretation.
type Correction struct {
	// RequestID ties the correction to a confirmation request. Optional.
	RequestID string `json:"request_id,omitempty"`

	// MessageID is taken from the request when empty.
	MessageID string `json:"message_id,omitempty"`

	Accepted            bool   `json:"accepted"`
	SuggestedCorrection string `json:"suggested_correction,omitempty"`
}

// FeedbackResult acknowledges a correction with the resulting drift state.
type FeedbackResult struct {
	CorrectionID string      `json:"correction_id,omitempty"`
	State        drift.State `json:"state"`
}
