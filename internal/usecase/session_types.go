package usecase

import (
	"context"
	"time"

	"wakelisten/internal/domain"
)

// activation is one Start..Stop span of the session.
type activation struct {
	id        string
	startedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

func (a *activation) end() {
	if a.cancel != nil {
		a.cancel()
	}
}

type noopSink struct{}

func (noopSink) SessionStateChanged(domain.SessionState, domain.SessionStateReason) {}
func (noopSink) PartialTranscript(string)                                           {}
func (noopSink) WakeDetected(string)                                                {}
func (noopSink) CommandCaptured(domain.CommandEntry)                                {}
func (noopSink) LifecycleChanged(string)                                            {}
func (noopSink) SessionError(domain.ErrorCode, string)                              {}
