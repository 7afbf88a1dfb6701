package domain

import (
	"strings"
	"time"
)

// SessionState models the wake-word listening lifecycle.
type SessionState string

const (
	SessionStateIdle             SessionState = "idle"
	SessionStateListeningForWake SessionState = "listening_for_wake"
	SessionStateAwake            SessionState = "awake"
	SessionStateCapturingCommand SessionState = "capturing_command"
	SessionStateError            SessionState = "error"
	SessionStateOffline          SessionState = "offline"
)

var sessionStates = []SessionState{
	SessionStateIdle,
	SessionStateListeningForWake,
	SessionStateAwake,
	SessionStateCapturingCommand,
	SessionStateError,
	SessionStateOffline,
}

// ParseSessionState maps an opaque lifecycle name onto a known state.
func ParseSessionState(name string) (SessionState, bool) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	normalized = strings.NewReplacer(" ", "_", "-", "_").Replace(normalized)
	for _, state := range sessionStates {
		if string(state) == normalized {
			return state, true
		}
	}
	return "", false
}

// Label returns the text shown to the user for a state.
func (s SessionState) Label() string {
	switch s {
	case SessionStateIdle:
		return "Idle"
	case SessionStateListeningForWake:
		return "Listening for Wake Word"
	case SessionStateAwake:
		return "Awake"
	case SessionStateCapturingCommand:
		return "Listening..."
	case SessionStateError:
		return "Error"
	case SessionStateOffline:
		return "Offline"
	default:
		return string(s)
	}
}

// SessionStateReason provides a structured reason for state transitions.
type SessionStateReason string

const (
	SessionReasonStarted            SessionStateReason = "started"
	SessionReasonStopped            SessionStateReason = "stopped"
	SessionReasonPermissionDenied   SessionStateReason = "permission_denied"
	SessionReasonOffline            SessionStateReason = "offline"
	SessionReasonServiceUnavailable SessionStateReason = "service_unavailable"
	SessionReasonWakeDetected       SessionStateReason = "wake_detected"
	SessionReasonCommandCaptured    SessionStateReason = "command_captured"
	SessionReasonNoWakeWord         SessionStateReason = "no_wake_word"
	SessionReasonRecognitionError   SessionStateReason = "recognition_error"
	SessionReasonLifecycle          SessionStateReason = "lifecycle"
	SessionReasonRestarted          SessionStateReason = "restarted"
	SessionReasonRelistening        SessionStateReason = "relistening"
	SessionReasonRetriesExhausted   SessionStateReason = "retries_exhausted"
)

// ErrorCode identifies non-fatal and fatal backend errors.
type ErrorCode string

const (
	ErrorCodePermission       ErrorCode = "permission"
	ErrorCodeOffline          ErrorCode = "offline"
	ErrorCodeSpeechStart      ErrorCode = "speech_start"
	ErrorCodeSpeechStop       ErrorCode = "speech_stop"
	ErrorCodeRecognition      ErrorCode = "recognition"
	ErrorCodeRetriesExhausted ErrorCode = "retries_exhausted"
	ErrorCodeRules            ErrorCode = "rules"
)

// TranscriptKind identifies the variant carried by a TranscriptEvent.
type TranscriptKind string

const (
	TranscriptKindPartial   TranscriptKind = "partial"
	TranscriptKindFinal     TranscriptKind = "final"
	TranscriptKindError     TranscriptKind = "error"
	TranscriptKindLifecycle TranscriptKind = "lifecycle"
)

// Lifecycle names emitted by speech services that are not session states.
// LifecycleUtteranceEnd marks a pause inside a stream that stays open, so it
// never triggers a restart.
const (
	LifecycleSpeechStarted = "speech_started"
	LifecycleUtteranceEnd  = "utterance_end"
	LifecycleEnded         = "ended"
	LifecycleEndOfSpeech   = "end_of_speech"
)

// IsEndOfUtterance reports whether a lifecycle name marks a recognizer that
// finished its listen window on its own.
func IsEndOfUtterance(name string) bool {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case LifecycleEnded, LifecycleEndOfSpeech:
		return true
	default:
		return false
	}
}

// TranscriptEvent is one message from a speech service. Text is set for
// partial/final, Code for error and State for lifecycle events.
type TranscriptEvent struct {
	Kind  TranscriptKind `json:"kind" yaml:"kind"`
	Text  string         `json:"text,omitempty" yaml:"text,omitempty"`
	Code  string         `json:"code,omitempty" yaml:"code,omitempty"`
	State string         `json:"state,omitempty" yaml:"state,omitempty"`
}

func PartialEvent(text string) TranscriptEvent {
	return TranscriptEvent{Kind: TranscriptKindPartial, Text: text}
}

func FinalEvent(text string) TranscriptEvent {
	return TranscriptEvent{Kind: TranscriptKindFinal, Text: text}
}

func ErrorEvent(code string) TranscriptEvent {
	return TranscriptEvent{Kind: TranscriptKindError, Code: code}
}

func LifecycleEvent(name string) TranscriptEvent {
	return TranscriptEvent{Kind: TranscriptKindLifecycle, State: name}
}

// ArmingMode controls what happens to the armed flag after a command is captured.
type ArmingMode string

const (
	// ArmingContinuous stays armed and keeps collecting commands.
	ArmingContinuous ArmingMode = "continuous_capture"
	// ArmingSingleCommand disarms after one command and listens for the wake word again.
	ArmingSingleCommand ArmingMode = "single_command"
)

// ParseArmingMode accepts the canonical names and a few short aliases.
func ParseArmingMode(value string) (ArmingMode, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "continuous", string(ArmingContinuous):
		return ArmingContinuous, true
	case "single", string(ArmingSingleCommand):
		return ArmingSingleCommand, true
	default:
		return "", false
	}
}

// CommandEntry is one captured post-wake-word utterance.
type CommandEntry struct {
	Seq          int       `json:"seq"`
	Text         string    `json:"text"`
	ActivationID string    `json:"activationId"`
	CapturedAt   time.Time `json:"capturedAt"`
}

// Status summarizes what the presentation layer renders.
type Status struct {
	State          SessionState   `json:"state"`
	Label          string         `json:"label"`
	Active         bool           `json:"active"`
	Armed          bool           `json:"armed"`
	LiveTranscript string         `json:"liveTranscript,omitempty"`
	Lifecycle      string         `json:"lifecycle,omitempty"`
	Commands       []CommandEntry `json:"commands"`
	Hint           string         `json:"hint,omitempty"`
	ActivationID   string         `json:"activationId,omitempty"`
	RestartPending bool           `json:"restartPending"`
	Message        string         `json:"message,omitempty"`
}
