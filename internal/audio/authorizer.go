package audio

import (
	"context"
	"fmt"
	"time"

	"wakelisten/internal/ports"
)

const defaultProbeTimeout = 3 * time.Second

// DeviceAuthorizer proves microphone access by opening a capture and stopping
// it right away. Hosts without a permission dialog report access this way.
type DeviceAuthorizer struct {
	capture ports.AudioCapture
	cfg     ports.AudioConfig
	timeout time.Duration
}

func NewDeviceAuthorizer(capture ports.AudioCapture, cfg ports.AudioConfig, timeout time.Duration) *DeviceAuthorizer {
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	return &DeviceAuthorizer{capture: capture, cfg: cfg, timeout: timeout}
}

func (a *DeviceAuthorizer) RequestMicrophoneAccess(ctx context.Context) (bool, error) {
	probeCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	session, err := a.capture.Start(probeCtx, a.cfg)
	if err != nil {
		return false, fmt.Errorf("microphone unavailable: %w", err)
	}
	_ = session.Stop()
	return true, nil
}

// StaticAuthorizer answers every request with a fixed decision.
type StaticAuthorizer struct {
	Granted bool
}

func (a StaticAuthorizer) RequestMicrophoneAccess(context.Context) (bool, error) {
	return a.Granted, nil
}
