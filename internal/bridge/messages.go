package bridge

import (
	"strings"

	"wakelisten/internal/domain"
)

func sessionReasonMessage(reason domain.SessionStateReason) string {
	switch reason {
	case domain.SessionReasonStarted:
		return "Listening started"
	case domain.SessionReasonStopped:
		return "Listening stopped"
	case domain.SessionReasonPermissionDenied:
		return "Microphone access denied"
	case domain.SessionReasonOffline:
		return "No internet connection"
	case domain.SessionReasonServiceUnavailable:
		return "Speech service unavailable"
	case domain.SessionReasonWakeDetected:
		return "Wake word heard"
	case domain.SessionReasonCommandCaptured:
		return "Command captured"
	case domain.SessionReasonNoWakeWord:
		return "No wake word in utterance"
	case domain.SessionReasonRecognitionError:
		return "Speech recognition error; retrying"
	case domain.SessionReasonRestarted:
		return "Recognizer restarted"
	case domain.SessionReasonRelistening:
		return "Listening for the wake word again"
	case domain.SessionReasonRetriesExhausted:
		return "Speech recognition stopped after repeated failures"
	default:
		return ""
	}
}

func errorMessage(code domain.ErrorCode, detail string) string {
	switch code {
	case domain.ErrorCodePermission:
		return "Microphone access denied"
	case domain.ErrorCodeOffline:
		return "No internet connection"
	case domain.ErrorCodeSpeechStart:
		return "Speech recognizer failed to start"
	case domain.ErrorCodeSpeechStop:
		return "Speech recognizer stop issue"
	case domain.ErrorCodeRecognition:
		return "Speech recognition error"
	case domain.ErrorCodeRetriesExhausted:
		return "Speech recognition gave up"
	case domain.ErrorCodeRules:
		return "Rules processing failed"
	default:
		if detail = strings.TrimSpace(detail); detail != "" {
			return detail
		}
		return "Unknown error"
	}
}
