package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/goccy/go-json"

	"wakelisten/internal/domain"
)

// commandPrinter writes captured commands to the terminal as they arrive.
type commandPrinter struct {
	out    io.Writer
	asJSON bool
	// giveUp runs when the session stops retrying the speech service.
	giveUp func()

	mu sync.Mutex
}

func (p *commandPrinter) SessionStateChanged(domain.SessionState, domain.SessionStateReason) {}
func (p *commandPrinter) PartialTranscript(string)                                           {}
func (p *commandPrinter) WakeDetected(string)                                                {}
func (p *commandPrinter) LifecycleChanged(string)                                            {}

func (p *commandPrinter) CommandCaptured(entry domain.CommandEntry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = writeCommand(p.out, entry, p.asJSON)
}

func (p *commandPrinter) SessionError(code domain.ErrorCode, _ string) {
	if code == domain.ErrorCodeRetriesExhausted && p.giveUp != nil {
		p.giveUp()
	}
}

func writeCommand(out io.Writer, entry domain.CommandEntry, asJSON bool) error {
	if asJSON {
		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, string(data))
		return err
	}
	_, err := fmt.Fprintf(out, "%d\t%s\n", entry.Seq, entry.Text)
	return err
}

// sessionFailure reports an activation that ended in Error or Offline.
func sessionFailure(status domain.Status) error {
	if status.Active {
		return nil
	}
	switch status.State {
	case domain.SessionStateError, domain.SessionStateOffline:
		return &SessionFailureError{State: status.Label, Message: status.Message}
	default:
		return nil
	}
}
