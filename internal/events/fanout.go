package events

import (
	"github.com/sirupsen/logrus"

	"wakelisten/internal/domain"
	"wakelisten/internal/ports"
)

// Fanout delivers every session event to each sink in order.
type Fanout []ports.EventSink

func NewFanout(sinks ...ports.EventSink) Fanout {
	out := make(Fanout, 0, len(sinks))
	for _, sink := range sinks {
		if sink != nil {
			out = append(out, sink)
		}
	}
	return out
}

func (f Fanout) SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	for _, sink := range f {
		sink.SessionStateChanged(state, reason)
	}
}

func (f Fanout) PartialTranscript(text string) {
	for _, sink := range f {
		sink.PartialTranscript(text)
	}
}

func (f Fanout) WakeDetected(transcript string) {
	for _, sink := range f {
		sink.WakeDetected(transcript)
	}
}

func (f Fanout) CommandCaptured(entry domain.CommandEntry) {
	for _, sink := range f {
		sink.CommandCaptured(entry)
	}
}

func (f Fanout) LifecycleChanged(name string) {
	for _, sink := range f {
		sink.LifecycleChanged(name)
	}
}

func (f Fanout) SessionError(code domain.ErrorCode, detail string) {
	for _, sink := range f {
		sink.SessionError(code, detail)
	}
}

// LogSink writes session events to a logrus logger.
type LogSink struct {
	log logrus.FieldLogger
}

func NewLogSink(log logrus.FieldLogger) *LogSink {
	return &LogSink{log: log.WithField("component", "session_events")}
}

func (s *LogSink) SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	s.log.WithFields(logrus.Fields{"state": state, "reason": reason}).Info("session state changed")
}

func (s *LogSink) PartialTranscript(text string) {
	s.log.WithField("text", text).Trace("partial transcript")
}

func (s *LogSink) WakeDetected(transcript string) {
	s.log.WithField("transcript", transcript).Debug("wake detected")
}

func (s *LogSink) CommandCaptured(entry domain.CommandEntry) {
	s.log.WithFields(logrus.Fields{
		"seq":        entry.Seq,
		"activation": entry.ActivationID,
	}).Debug("command recorded")
}

func (s *LogSink) LifecycleChanged(name string) {
	s.log.WithField("lifecycle", name).Debug("recognizer lifecycle")
}

func (s *LogSink) SessionError(code domain.ErrorCode, detail string) {
	s.log.WithFields(logrus.Fields{"code": code, "detail": detail}).Warn("session error")
}
