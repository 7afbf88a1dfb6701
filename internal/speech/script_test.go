package speech

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"wakelisten/internal/domain"
)

const sampleScript = `
language: en-US
steps:
  - partial: "hel"
  - final: "Hello"
  - final: "turn on the lights"
  - error: "7"
  - final: "play music"
  - lifecycle: ended
  - final: "stop"
`

func TestParseScript(t *testing.T) {
	t.Parallel()

	script, err := ParseScript(strings.NewReader(sampleScript))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if script.Language != "en-US" || len(script.Steps) != 7 {
		t.Fatalf("unexpected script: %+v", script)
	}
	if event, ok := script.Steps[3].event(); !ok || event != domain.ErrorEvent("7") {
		t.Fatalf("unexpected error step: %+v", event)
	}
}

func TestParseScriptRejectsAmbiguousSteps(t *testing.T) {
	t.Parallel()

	_, err := ParseScript(strings.NewReader("steps:\n  - partial: a\n    final: b\n"))
	if err == nil || !strings.Contains(err.Error(), "step 1") {
		t.Fatalf("expected step validation error, got %v", err)
	}

	_, err = ParseScript(strings.NewReader("steps:\n  - {}\n"))
	if err == nil {
		t.Fatalf("expected empty step to be rejected")
	}
}

func TestParseScriptPause(t *testing.T) {
	t.Parallel()

	script, err := ParseScript(strings.NewReader("steps:\n  - pause: 250ms\n"))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if script.Steps[0].Pause != 250*time.Millisecond {
		t.Fatalf("unexpected pause: %s", script.Steps[0].Pause)
	}
}

func TestLoadScript(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "script.yaml")
	if err := os.WriteFile(path, []byte(sampleScript), 0o600); err != nil {
		t.Fatalf("write script: %v", err)
	}
	script, err := LoadScript(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(script.Steps) != 7 {
		t.Fatalf("unexpected step count: %d", len(script.Steps))
	}

	if _, err := LoadScript(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected missing file error")
	}
}

func TestScriptedServiceHaltsAfterErrorUntilRestart(t *testing.T) {
	t.Parallel()

	script, err := ParseScript(strings.NewReader(sampleScript))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	service := NewScriptedService(script, nil, nil)

	if err := service.Start(context.Background(), "en-US"); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	for _, want := range []domain.TranscriptEvent{
		domain.PartialEvent("hel"),
		domain.FinalEvent("Hello"),
		domain.FinalEvent("turn on the lights"),
		domain.ErrorEvent("7"),
	} {
		if got := receive(t, service.Events()); got != want {
			t.Fatalf("got %+v, want %+v", got, want)
		}
	}
	assertQuiet(t, service.Events())

	if err := service.Start(context.Background(), "en-US"); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	if got := receive(t, service.Events()); got != domain.FinalEvent("play music") {
		t.Fatalf("unexpected event after restart: %+v", got)
	}
	if got := receive(t, service.Events()); got != domain.LifecycleEvent(domain.LifecycleEnded) {
		t.Fatalf("expected ended lifecycle, got %+v", got)
	}
	assertQuiet(t, service.Events())

	if err := service.Start(context.Background(), ""); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	if got := receive(t, service.Events()); got != domain.FinalEvent("stop") {
		t.Fatalf("unexpected last event: %+v", got)
	}

	select {
	case _, ok := <-service.Events():
		if ok {
			t.Fatalf("expected channel to close after the last step")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("channel was not closed")
	}

	if err := service.Start(context.Background(), ""); !errors.Is(err, ErrScriptExhausted) {
		t.Fatalf("expected ErrScriptExhausted, got %v", err)
	}
	if service.Starts() != 3 {
		t.Fatalf("expected three starts, got %d", service.Starts())
	}
}

func TestScriptedServiceStopInterruptsPause(t *testing.T) {
	t.Parallel()

	script, err := ParseScript(strings.NewReader("steps:\n  - pause: 1h\n  - final: late\n"))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	service := NewScriptedService(script, nil, nil)
	if err := service.Start(context.Background(), ""); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	stopped := make(chan struct{})
	go func() {
		_ = service.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatalf("stop did not interrupt the pause")
	}
	if err := service.Stop(); err != nil {
		t.Fatalf("second stop failed: %v", err)
	}
	assertQuiet(t, service.Events())
}

func assertQuiet(t *testing.T, events <-chan domain.TranscriptEvent) {
	t.Helper()
	select {
	case event, ok := <-events:
		if ok {
			t.Fatalf("expected no event, got %+v", event)
		}
		t.Fatalf("events channel closed unexpectedly")
	case <-time.After(30 * time.Millisecond):
	}
}
