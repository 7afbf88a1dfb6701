package speech

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"wakelisten/internal/domain"
	"wakelisten/internal/ports"
)

func TestStreamingServiceForwardsEventsInOrder(t *testing.T) {
	t.Parallel()

	stream := newFakeStreamingSession()
	service := NewStreamingService(
		&fakeAudioCapture{sessions: []*fakeAudioSession{newBlockingAudioSession()}},
		&fakeProvider{sessions: []*fakeStreamingSession{stream}},
		StreamingConfig{},
	)

	if err := service.Start(context.Background(), ""); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	stream.events <- domain.PartialEvent("hel")
	stream.events <- domain.PartialEvent("")
	stream.events <- domain.FinalEvent("hello")
	stream.events <- domain.LifecycleEvent(domain.LifecycleSpeechStarted)

	want := []domain.TranscriptEvent{
		domain.PartialEvent("hel"),
		domain.FinalEvent("hello"),
		domain.LifecycleEvent(domain.LifecycleSpeechStarted),
	}
	for i, expected := range want {
		if got := receive(t, service.Events()); got != expected {
			t.Fatalf("event %d: got %+v, want %+v", i, got, expected)
		}
	}

	if err := service.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
}

func TestStreamingServiceAppliesLanguageHint(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{sessions: []*fakeStreamingSession{newFakeStreamingSession()}}
	service := NewStreamingService(
		&fakeAudioCapture{sessions: []*fakeAudioSession{newBlockingAudioSession()}},
		provider,
		StreamingConfig{Streaming: ports.StreamingConfig{Language: "en-US"}},
	)

	if err := service.Start(context.Background(), " de-DE "); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer service.Stop()

	if got := provider.lastConfig().Language; got != "de-DE" {
		t.Fatalf("expected language hint to override config, got %q", got)
	}
}

func TestStreamingServiceReportsStreamEnd(t *testing.T) {
	t.Parallel()

	stream := newFakeStreamingSession()
	service := NewStreamingService(
		&fakeAudioCapture{sessions: []*fakeAudioSession{newBlockingAudioSession()}},
		&fakeProvider{sessions: []*fakeStreamingSession{stream}},
		StreamingConfig{},
	)
	if err := service.Start(context.Background(), ""); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer service.Stop()

	_ = stream.Close()

	event := receive(t, service.Events())
	if event.Kind != domain.TranscriptKindLifecycle || event.State != domain.LifecycleEnded {
		t.Fatalf("expected ended lifecycle, got %+v", event)
	}
}

func TestStreamingServiceReportsStreamFailure(t *testing.T) {
	t.Parallel()

	stream := newFakeStreamingSession()
	stream.waitErr = errors.New("socket reset")
	service := NewStreamingService(
		&fakeAudioCapture{sessions: []*fakeAudioSession{newBlockingAudioSession()}},
		&fakeProvider{sessions: []*fakeStreamingSession{stream}},
		StreamingConfig{},
	)
	if err := service.Start(context.Background(), ""); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer service.Stop()

	_ = stream.Close()

	event := receive(t, service.Events())
	if event.Kind != domain.TranscriptKindError || event.Code != ErrorCodeStream {
		t.Fatalf("expected stream error, got %+v", event)
	}
}

func TestStreamingServiceRestartTearsDownPrevious(t *testing.T) {
	t.Parallel()

	firstAudio := newBlockingAudioSession()
	first := newFakeStreamingSession()
	second := newFakeStreamingSession()
	service := NewStreamingService(
		&fakeAudioCapture{sessions: []*fakeAudioSession{firstAudio, newBlockingAudioSession()}},
		&fakeProvider{sessions: []*fakeStreamingSession{first, second}},
		StreamingConfig{},
	)

	if err := service.Start(context.Background(), ""); err != nil {
		t.Fatalf("first start failed: %v", err)
	}
	if err := service.Start(context.Background(), ""); err != nil {
		t.Fatalf("second start failed: %v", err)
	}
	defer service.Stop()

	if firstAudio.stops() == 0 {
		t.Fatalf("expected previous capture to be stopped")
	}
	if first.closeSendCount() == 0 {
		t.Fatalf("expected previous stream to be closed")
	}

	select {
	case event := <-service.Events():
		t.Fatalf("teardown must not report the previous stream ending, got %+v", event)
	case <-time.After(20 * time.Millisecond):
	}

	second.events <- domain.FinalEvent("still here")
	if got := receive(t, service.Events()); got.Text != "still here" {
		t.Fatalf("unexpected event from new stream: %+v", got)
	}
}

func TestStreamingServiceStopIsIdempotent(t *testing.T) {
	t.Parallel()

	audio := newBlockingAudioSession()
	service := NewStreamingService(
		&fakeAudioCapture{sessions: []*fakeAudioSession{audio}},
		&fakeProvider{sessions: []*fakeStreamingSession{newFakeStreamingSession()}},
		StreamingConfig{},
	)
	if err := service.Start(context.Background(), ""); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	if err := service.Stop(); err != nil {
		t.Fatalf("first stop failed: %v", err)
	}
	if err := service.Stop(); err != nil {
		t.Fatalf("second stop failed: %v", err)
	}
	if audio.stops() != 1 {
		t.Fatalf("expected one capture stop, got %d", audio.stops())
	}
}

func TestStreamingServiceStopDoesNotBlockOnFullChannel(t *testing.T) {
	t.Parallel()

	stream := &fakeStreamingSession{events: make(chan domain.TranscriptEvent, 2*eventBuffer)}
	for i := 0; i < eventBuffer+8; i++ {
		stream.events <- domain.PartialEvent("noise")
	}
	service := NewStreamingService(
		&fakeAudioCapture{sessions: []*fakeAudioSession{newBlockingAudioSession()}},
		&fakeProvider{sessions: []*fakeStreamingSession{stream}},
		StreamingConfig{StopTimeout: 50 * time.Millisecond},
	)
	if err := service.Start(context.Background(), ""); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	stopped := make(chan error, 1)
	go func() { stopped <- service.Stop() }()

	select {
	case err := <-stopped:
		if err != nil {
			t.Fatalf("stop failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("stop blocked on an undrained events channel")
	}
}

func TestStreamingServiceStartFailures(t *testing.T) {
	t.Parallel()

	service := NewStreamingService(
		&fakeAudioCapture{sessions: []*fakeAudioSession{newBlockingAudioSession()}},
		&fakeProvider{err: errors.New("unauthorized")},
		StreamingConfig{},
	)
	if err := service.Start(context.Background(), ""); err == nil {
		t.Fatalf("expected provider failure")
	}

	stream := newFakeStreamingSession()
	service = NewStreamingService(
		&fakeAudioCapture{err: errors.New("no device")},
		&fakeProvider{sessions: []*fakeStreamingSession{stream}},
		StreamingConfig{},
	)
	if err := service.Start(context.Background(), ""); err == nil {
		t.Fatalf("expected capture failure")
	}
	if stream.closeCount() == 0 {
		t.Fatalf("expected stream to be closed after capture failure")
	}
	if err := service.Stop(); err != nil {
		t.Fatalf("stop after failed start should be a no-op: %v", err)
	}
}

type fakeAudioCapture struct {
	mu       sync.Mutex
	sessions []*fakeAudioSession
	err      error
	calls    int
}

func (f *fakeAudioCapture) Start(_ context.Context, _ ports.AudioConfig) (ports.AudioSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.calls >= len(f.sessions) {
		return nil, errors.New("no audio session configured")
	}
	session := f.sessions[f.calls]
	f.calls++
	return session, nil
}

type fakeAudioSession struct {
	mu        sync.Mutex
	chunks    [][]byte
	index     int
	stopCalls int
	stopErr   error
	block     chan struct{}
	closeOnce sync.Once
}

// newBlockingAudioSession reads nothing until stopped, like an idle microphone.
func newBlockingAudioSession() *fakeAudioSession {
	return &fakeAudioSession{block: make(chan struct{})}
}

func (f *fakeAudioSession) Read(p []byte) (int, error) {
	if f.block != nil {
		<-f.block
		return 0, io.EOF
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.index >= len(f.chunks) {
		return 0, io.EOF
	}
	n := copy(p, f.chunks[f.index])
	f.index++
	return n, nil
}

func (f *fakeAudioSession) Close() error { return nil }

func (f *fakeAudioSession) Stop() error {
	f.mu.Lock()
	f.stopCalls++
	f.mu.Unlock()
	if f.block != nil {
		f.closeOnce.Do(func() { close(f.block) })
	}
	return f.stopErr
}

func (f *fakeAudioSession) stops() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopCalls
}

type fakeProvider struct {
	mu       sync.Mutex
	sessions []*fakeStreamingSession
	err      error
	calls    int
	configs  []ports.StreamingConfig
}

func (f *fakeProvider) StartStreaming(_ context.Context, cfg ports.StreamingConfig) (ports.StreamingSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.configs = append(f.configs, cfg)
	if f.err != nil {
		return nil, f.err
	}
	if f.calls >= len(f.sessions) {
		return nil, errors.New("no stream session configured")
	}
	session := f.sessions[f.calls]
	f.calls++
	return session, nil
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeProvider) lastConfig() ports.StreamingConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.configs[len(f.configs)-1]
}

type fakeStreamingSession struct {
	events     chan domain.TranscriptEvent
	waitErr    error
	closeSend  int
	closeCalls int
	closed     bool
	mu         sync.Mutex
}

func newFakeStreamingSession() *fakeStreamingSession {
	return &fakeStreamingSession{events: make(chan domain.TranscriptEvent, 16)}
}

func (f *fakeStreamingSession) SendAudio(_ []byte) error { return nil }

func (f *fakeStreamingSession) CloseSend() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeSend++
	f.closeLocked()
	return nil
}

func (f *fakeStreamingSession) Events() <-chan domain.TranscriptEvent { return f.events }

func (f *fakeStreamingSession) Wait() error {
	time.Sleep(5 * time.Millisecond)
	return f.waitErr
}

func (f *fakeStreamingSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCalls++
	f.closeLocked()
	return nil
}

func (f *fakeStreamingSession) closeLocked() {
	if !f.closed {
		close(f.events)
		f.closed = true
	}
}

func (f *fakeStreamingSession) closeSendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeSend
}

func (f *fakeStreamingSession) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCalls
}
