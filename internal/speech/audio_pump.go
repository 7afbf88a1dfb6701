package speech

import (
	"errors"
	"io"
	"time"

	"wakelisten/internal/domain"
	"wakelisten/internal/ports"
)

// Error codes reported on the events channel when the pipeline breaks.
const (
	ErrorCodeAudio  = "audio"
	ErrorCodeStream = "stream"
)

func pumpAudioChunks(
	active *streamSession,
	chunkSize int,
	done chan struct{},
) {
	defer close(done)

	if chunkSize < 256 {
		chunkSize = 4096
	}

	buf := make([]byte, chunkSize)
	for {
		n, err := active.audio.Read(buf)
		if n > 0 {
			if sendErr := active.stream.SendAudio(buf[:n]); sendErr != nil {
				if !active.isStopping() {
					active.log.WithError(sendErr).Warn("failed to stream audio")
					active.emit(domain.ErrorEvent(ErrorCodeAudio))
				}
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !active.isStopping() {
				active.log.WithError(err).Warn("audio capture error")
				active.emit(domain.ErrorEvent(ErrorCodeAudio))
			}
			return
		}
	}
}

// forwardTranscripts relays provider events in order. When the provider
// stream ends without a Stop it reports the end as a lifecycle or error event.
func forwardTranscripts(active *streamSession, waitTimeout time.Duration, done chan struct{}) {
	defer close(done)

	for event := range active.stream.Events() {
		switch event.Kind {
		case domain.TranscriptKindPartial, domain.TranscriptKindFinal:
			if event.Text == "" {
				continue
			}
		}
		active.emit(event)
	}

	if active.isStopping() {
		return
	}
	if err := waitForStream(active.stream, waitTimeout); err != nil {
		active.log.WithError(err).Warn("transcription stream failed")
		active.emit(domain.ErrorEvent(ErrorCodeStream))
		return
	}
	active.emit(domain.LifecycleEvent(domain.LifecycleEnded))
}

func waitForStream(session ports.StreamingSession, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() {
		done <- session.Wait()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		_ = session.Close()
		return <-done
	}
}
