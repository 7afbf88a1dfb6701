package speech

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"wakelisten/internal/domain"
	"wakelisten/internal/ports"
)

func TestPumpAudioChunksReportsSendError(t *testing.T) {
	t.Parallel()

	audio := &fakeAudioSession{chunks: [][]byte{[]byte("abc")}}
	stream := &sendErrStream{err: errors.New("send failed")}
	active, out := newTestStreamSession(audio, stream)
	done := make(chan struct{})

	go pumpAudioChunks(active, 256, done)
	<-done

	event := receive(t, out)
	if event.Kind != domain.TranscriptKindError || event.Code != ErrorCodeAudio {
		t.Fatalf("expected audio error event, got %+v", event)
	}
}

func TestPumpAudioChunksReportsReadError(t *testing.T) {
	t.Parallel()

	audio := &errorAudioSession{err: errors.New("read failed")}
	active, out := newTestStreamSession(audio, &sendErrStream{})
	done := make(chan struct{})

	go pumpAudioChunks(active, 256, done)
	<-done

	event := receive(t, out)
	if event.Kind != domain.TranscriptKindError || event.Code != ErrorCodeAudio {
		t.Fatalf("expected audio error event, got %+v", event)
	}
}

func TestPumpAudioChunksSilentWhileStopping(t *testing.T) {
	t.Parallel()

	audio := &errorAudioSession{err: errors.New("killed")}
	active, out := newTestStreamSession(audio, &sendErrStream{})
	active.stopping.Store(true)
	done := make(chan struct{})

	go pumpAudioChunks(active, 256, done)
	<-done

	select {
	case event := <-out:
		t.Fatalf("expected no event while stopping, got %+v", event)
	default:
	}
}

func TestWaitForStreamTimeoutClosesSession(t *testing.T) {
	t.Parallel()

	stream := &blockingWaitStream{done: make(chan struct{}), waitErr: errors.New("closed")}
	err := waitForStream(stream, 10*time.Millisecond)
	if err == nil || err.Error() != "closed" {
		t.Fatalf("expected closed error, got %v", err)
	}
	if stream.closeCalls == 0 {
		t.Fatalf("expected close to be called on timeout")
	}
}

func newTestStreamSession(audio ports.AudioSession, stream ports.StreamingSession) (*streamSession, chan domain.TranscriptEvent) {
	out := make(chan domain.TranscriptEvent, 8)
	ctx, cancel := context.WithCancel(context.Background())
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return &streamSession{
		ctx:    ctx,
		cancel: cancel,
		audio:  audio,
		stream: stream,
		out:    out,
		log:    logger,
	}, out
}

func receive(t *testing.T, events <-chan domain.TranscriptEvent) domain.TranscriptEvent {
	t.Helper()
	select {
	case event, ok := <-events:
		if !ok {
			t.Fatalf("events channel closed")
		}
		return event
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event")
	}
	return domain.TranscriptEvent{}
}

type sendErrStream struct {
	err error
}

func (s *sendErrStream) SendAudio(_ []byte) error { return s.err }
func (s *sendErrStream) CloseSend() error         { return nil }
func (s *sendErrStream) Events() <-chan domain.TranscriptEvent {
	ch := make(chan domain.TranscriptEvent)
	close(ch)
	return ch
}
func (s *sendErrStream) Wait() error  { return nil }
func (s *sendErrStream) Close() error { return nil }

type errorAudioSession struct {
	err error
}

func (s *errorAudioSession) Read(_ []byte) (int, error) { return 0, s.err }
func (s *errorAudioSession) Close() error               { return nil }
func (s *errorAudioSession) Stop() error                { return nil }

type blockingWaitStream struct {
	done       chan struct{}
	waitErr    error
	closeCalls int
}

func (s *blockingWaitStream) SendAudio(_ []byte) error { return nil }
func (s *blockingWaitStream) CloseSend() error         { return nil }
func (s *blockingWaitStream) Events() <-chan domain.TranscriptEvent {
	ch := make(chan domain.TranscriptEvent)
	close(ch)
	return ch
}
func (s *blockingWaitStream) Wait() error {
	<-s.done
	return s.waitErr
}
func (s *blockingWaitStream) Close() error {
	s.closeCalls++
	close(s.done)
	return nil
}

var _ io.ReadCloser = (*errorAudioSession)(nil)
