package audio

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"wakelisten/internal/ports"
)

func TestFFMPEGCaptureStartReadAndStop(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "capture.sh", "#!/usr/bin/env bash\nprintf 'hello'\nsleep 2\n")
	capture := NewFFMPEGCapture(CaptureOptions{Command: script})

	session, err := capture.Start(context.Background(), ports.AudioConfig{})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	buf := make([]byte, 8)
	n, readErr := session.Read(buf)
	if n <= 0 {
		t.Fatalf("expected audio bytes, got n=%d err=%v", n, readErr)
	}
	if !strings.Contains(string(buf[:n]), "hello") {
		t.Fatalf("unexpected bytes: %q", string(buf[:n]))
	}

	if err := session.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if err := session.Close(); err != nil {
		t.Fatalf("close after stop failed: %v", err)
	}
}

func TestFFMPEGCaptureStopKillsLingeringProcess(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "stubborn.sh", "#!/usr/bin/env bash\ntrap '' INT\nexec sleep 5\n")
	capture := NewFFMPEGCapture(CaptureOptions{Command: script, StopTimeout: 50 * time.Millisecond})

	session, err := capture.Start(context.Background(), ports.AudioConfig{})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	started := time.Now()
	if err := session.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if elapsed := time.Since(started); elapsed > 3*time.Second {
		t.Fatalf("stop waited too long: %s", elapsed)
	}
}

func TestFFMPEGCaptureStartEarlyExit(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "fail.sh", "#!/usr/bin/env bash\necho 'boom' 1>&2\nexit 1\n")
	capture := NewFFMPEGCapture(CaptureOptions{Command: script})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := capture.Start(ctx, ports.AudioConfig{})
	if err == nil {
		t.Fatalf("expected early exit error")
	}
	if !strings.Contains(err.Error(), "exited before capture started") || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCaptureArgs(t *testing.T) {
	t.Parallel()

	args := strings.Join(captureArgs(ports.AudioConfig{InputFormat: "alsa", InputDevice: "hw:1", SampleRate: 8000, Channels: 2}), " ")
	for _, want := range []string{"-f alsa", "-i hw:1", "-ac 2", "-ar 8000", "-f s16le"} {
		if !strings.Contains(args, want) {
			t.Fatalf("expected %q in %q", want, args)
		}
	}

	args = strings.Join(captureArgs(ports.AudioConfig{}), " ")
	if !strings.Contains(args, "-ac 1") || !strings.Contains(args, "-ar 16000") {
		t.Fatalf("expected default rate and channels in %q", args)
	}
}

func TestDefaultInput(t *testing.T) {
	t.Parallel()

	tests := map[string][2]string{
		"linux":   {"pulse", "default"},
		"darwin":  {"avfoundation", ":0"},
		"windows": {"dshow", "audio=default"},
	}
	for goos, want := range tests {
		format, device := defaultInput(goos)
		if format != want[0] || device != want[1] {
			t.Fatalf("defaultInput(%s) = %s, %s", goos, format, device)
		}
	}
}

func TestNormalizeStopErrExitErrorIsIgnored(t *testing.T) {
	t.Parallel()

	err := exec.Command("bash", "-lc", "exit 1").Run()
	if err == nil {
		t.Fatalf("expected command to fail")
	}
	if got := normalizeStopErr(err); got != nil {
		t.Fatalf("expected nil for exit error, got %v", got)
	}
	other := errors.New("pipe broken")
	if got := normalizeStopErr(other); !errors.Is(got, other) {
		t.Fatalf("expected non-exit error to pass through, got %v", got)
	}
}

func TestStringsTrimSpaceSafe(t *testing.T) {
	t.Parallel()

	if got := stringsTrimSpaceSafe("  hi\n"); got != "hi" {
		t.Fatalf("unexpected trim result: %q", got)
	}
}

func TestDeviceAuthorizer(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "mic.sh", "#!/usr/bin/env bash\nsleep 2\n")
	authorizer := NewDeviceAuthorizer(NewFFMPEGCapture(CaptureOptions{Command: script}), ports.AudioConfig{}, time.Second)

	granted, err := authorizer.RequestMicrophoneAccess(context.Background())
	if err != nil || !granted {
		t.Fatalf("expected access, got %v, %v", granted, err)
	}

	failing := writeScript(t, "nomic.sh", "#!/usr/bin/env bash\necho 'no such device' 1>&2\nexit 1\n")
	authorizer = NewDeviceAuthorizer(NewFFMPEGCapture(CaptureOptions{Command: failing}), ports.AudioConfig{}, time.Second)

	granted, err = authorizer.RequestMicrophoneAccess(context.Background())
	if granted || err == nil {
		t.Fatalf("expected denial, got %v, %v", granted, err)
	}
}

func TestStaticAuthorizer(t *testing.T) {
	t.Parallel()

	for _, want := range []bool{true, false} {
		got, err := StaticAuthorizer{Granted: want}.RequestMicrophoneAccess(context.Background())
		if err != nil || got != want {
			t.Fatalf("StaticAuthorizer{%v} = %v, %v", want, got, err)
		}
	}
}

func writeScript(t *testing.T, name string, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(contents), 0o700); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}
	return path
}
