package usecase

import (
	"strings"

	"github.com/sirupsen/logrus"

	"wakelisten/internal/domain"
	"wakelisten/internal/ports"
)

type transcriptNormalizer struct {
	rules  ports.RulesEngine
	events ports.EventSink
	log    logrus.FieldLogger
}

func newTranscriptNormalizer(rules ports.RulesEngine, events ports.EventSink, log logrus.FieldLogger) transcriptNormalizer {
	return transcriptNormalizer{rules: rules, events: events, log: log}
}

// Normalize applies substitution rules, then lowercases and trims. A rules
// failure falls back to the unmodified text.
func (n transcriptNormalizer) Normalize(text string) string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return ""
	}

	if n.rules != nil {
		rewritten, err := n.rules.Apply(trimmed)
		if err != nil {
			n.log.WithError(err).Warn("transcript rules failed")
			n.events.SessionError(domain.ErrorCodeRules, err.Error())
		} else {
			trimmed = rewritten
		}
	}

	return strings.TrimSpace(strings.ToLower(trimmed))
}
