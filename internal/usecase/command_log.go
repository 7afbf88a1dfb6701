package usecase

import (
	"sync"
	"time"

	"wakelisten/internal/domain"
)

// commandLog is append-only; entries are never changed once stored.
type commandLog struct {
	mu      sync.Mutex
	entries []domain.CommandEntry
}

func newCommandLog() *commandLog {
	return &commandLog{}
}

func (l *commandLog) Append(text string, activationID string, at time.Time) domain.CommandEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry := domain.CommandEntry{
		Seq:          len(l.entries) + 1,
		Text:         text,
		ActivationID: activationID,
		CapturedAt:   at,
	}
	l.entries = append(l.entries, entry)
	return entry
}

func (l *commandLog) Snapshot() []domain.CommandEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]domain.CommandEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

func (l *commandLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
