package main

import (
	"errors"
	"fmt"
	"os"
)

// Exit codes for different failure modes
const (
	ExitSuccess       = 0 // Session stopped cleanly
	ExitSessionFailed = 1 // Session ended in an error or offline state
	ExitError         = 2 // Configuration or runtime error
)

// SessionFailureError reports a session that could not keep listening.
type SessionFailureError struct {
	State   string
	Message string
}

func (e *SessionFailureError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("session ended in %s state", e.State)
	}
	return fmt.Sprintf("session ended in %s state: %s", e.State, e.Message)
}

func main() {
	if err := execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)

		var sessionErr *SessionFailureError
		if errors.As(err, &sessionErr) {
			os.Exit(ExitSessionFailed)
		}
		os.Exit(ExitError)
	}
}
