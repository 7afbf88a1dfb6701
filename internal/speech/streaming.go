package speech

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"wakelisten/internal/domain"
	"wakelisten/internal/ports"
)

const (
	defaultChunkSize   = 4096
	defaultStopTimeout = 4 * time.Second
	eventBuffer        = 64
)

// StreamingConfig controls the capture and streaming pipeline.
type StreamingConfig struct {
	Audio       ports.AudioConfig
	Streaming   ports.StreamingConfig
	ChunkSize   int
	StopTimeout time.Duration
	Logger      logrus.FieldLogger
}

// StreamingService is a SpeechService that pipes microphone audio into a
// streaming transcription provider. Each Start opens a fresh capture and
// provider stream; events from every stream share one channel.
type StreamingService struct {
	audio    ports.AudioCapture
	provider ports.TranscriptionProvider
	cfg      StreamingConfig
	log      logrus.FieldLogger
	events   chan domain.TranscriptEvent

	mu      sync.Mutex
	current *streamSession
}

type streamSession struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	audio  ports.AudioSession
	stream ports.StreamingSession
	out    chan<- domain.TranscriptEvent
	log    logrus.FieldLogger

	stopping   atomic.Bool
	eventsDone chan struct{}
	audioDone  chan struct{}
}

func (s *streamSession) isStopping() bool {
	return s.stopping.Load()
}

func (s *streamSession) emit(event domain.TranscriptEvent) {
	if s.isStopping() {
		return
	}
	select {
	case s.out <- event:
	case <-s.ctx.Done():
	}
}

func NewStreamingService(audio ports.AudioCapture, provider ports.TranscriptionProvider, cfg StreamingConfig) *StreamingService {
	if cfg.ChunkSize < 256 {
		cfg.ChunkSize = defaultChunkSize
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = defaultStopTimeout
	}
	if cfg.Logger == nil {
		logger := logrus.New()
		logger.SetOutput(io.Discard)
		cfg.Logger = logger
	}
	return &StreamingService{
		audio:    audio,
		provider: provider,
		cfg:      cfg,
		log:      cfg.Logger.WithField("component", "streaming_speech"),
		events:   make(chan domain.TranscriptEvent, eventBuffer),
	}
}

// Events returns the channel shared by every stream this service opens.
func (s *StreamingService) Events() <-chan domain.TranscriptEvent {
	return s.events
}

// Start opens a provider stream and a microphone capture. A running pipeline
// is torn down first.
func (s *StreamingService) Start(ctx context.Context, languageHint string) error {
	s.mu.Lock()
	previous := s.current
	s.current = nil
	s.mu.Unlock()

	if previous != nil {
		s.teardown(previous)
	}

	streaming := s.cfg.Streaming
	if hint := strings.TrimSpace(languageHint); hint != "" {
		streaming.Language = hint
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	stream, err := s.provider.StartStreaming(sessionCtx, streaming)
	if err != nil {
		cancel()
		return fmt.Errorf("start transcription stream: %w", err)
	}

	audioSession, err := s.audio.Start(sessionCtx, s.cfg.Audio)
	if err != nil {
		_ = stream.Close()
		cancel()
		return fmt.Errorf("start audio capture: %w", err)
	}

	id := uuid.NewString()
	active := &streamSession{
		id:         id,
		ctx:        sessionCtx,
		cancel:     cancel,
		audio:      audioSession,
		stream:     stream,
		out:        s.events,
		log:        s.log.WithField("stream", id),
		eventsDone: make(chan struct{}),
		audioDone:  make(chan struct{}),
	}

	s.mu.Lock()
	s.current = active
	s.mu.Unlock()

	go forwardTranscripts(active, s.cfg.StopTimeout, active.eventsDone)
	go pumpAudioChunks(active, s.cfg.ChunkSize, active.audioDone)

	active.log.WithField("language", streaming.Language).Info("speech stream started")
	return nil
}

// Stop ends the running pipeline. It is safe to call when nothing runs.
func (s *StreamingService) Stop() error {
	s.mu.Lock()
	active := s.current
	s.current = nil
	s.mu.Unlock()

	if active == nil {
		return nil
	}
	return s.teardown(active)
}

func (s *StreamingService) teardown(active *streamSession) error {
	active.stopping.Store(true)

	var stopErr error
	if err := active.audio.Stop(); err != nil {
		stopErr = fmt.Errorf("stop audio capture: %w", err)
		active.log.WithError(err).Warn("audio capture did not stop cleanly")
	}

	_ = active.stream.CloseSend()
	if err := waitForStream(active.stream, s.cfg.StopTimeout); err != nil {
		active.log.WithError(err).Debug("transcription stream closed with error")
	}
	active.cancel()
	_ = active.stream.Close()

	<-active.eventsDone
	<-active.audioDone

	active.log.Info("speech stream stopped")
	return stopErr
}
