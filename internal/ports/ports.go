package ports

import (
	"context"
	"io"

	"wakelisten/internal/domain"
)

// SpeechService is the platform recognizer. Events arrive in order on one
// channel that lives as long as the service.
type SpeechService interface {
	Start(ctx context.Context, languageHint string) error
	Stop() error
	Events() <-chan domain.TranscriptEvent
}

// Authorizer asks the host for microphone access.
type Authorizer interface {
	RequestMicrophoneAccess(ctx context.Context) (bool, error)
}

// Connectivity reports whether the network the recognizer needs is reachable.
type Connectivity interface {
	IsConnected(ctx context.Context) (bool, error)
}

// AudioConfig describes how the microphone should be captured.
type AudioConfig struct {
	SampleRate  int
	Channels    int
	InputFormat string
	InputDevice string
}

// AudioSession is a live capture session.
type AudioSession interface {
	io.ReadCloser
	Stop() error
}

// AudioCapture creates microphone capture sessions.
type AudioCapture interface {
	Start(ctx context.Context, cfg AudioConfig) (AudioSession, error)
}

// StreamingConfig describes provider-agnostic streaming settings.
type StreamingConfig struct {
	SampleRate     int
	Channels       int
	Encoding       string
	InterimResults bool
	Language       string
}

// StreamingSession is an active provider websocket session.
type StreamingSession interface {
	SendAudio(chunk []byte) error
	CloseSend() error
	Events() <-chan domain.TranscriptEvent
	Wait() error
	Close() error
}

// TranscriptionProvider starts streaming transcription sessions.
type TranscriptionProvider interface {
	StartStreaming(ctx context.Context, cfg StreamingConfig) (StreamingSession, error)
}

// RulesEngine rewrites transcripts using deterministic rules.
type RulesEngine interface {
	Apply(text string) (string, error)
}

// EventSink receives session updates for the UI and other consumers.
// Implementations must not call back into the session.
type EventSink interface {
	SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason)
	PartialTranscript(text string)
	WakeDetected(transcript string)
	CommandCaptured(entry domain.CommandEntry)
	LifecycleChanged(name string)
	SessionError(code domain.ErrorCode, detail string)
}
