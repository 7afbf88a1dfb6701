package speech

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"wakelisten/internal/domain"
)

var ErrScriptExhausted = errors.New("speech script exhausted")

// Step is one scripted recognizer callback. Exactly one field is set.
type Step struct {
	Partial   *string       `yaml:"partial,omitempty"`
	Final     *string       `yaml:"final,omitempty"`
	Error     *string       `yaml:"error,omitempty"`
	Lifecycle *string       `yaml:"lifecycle,omitempty"`
	Pause     time.Duration `yaml:"pause,omitempty"`
}

// Script is a recorded sequence of recognizer callbacks.
type Script struct {
	Language string        `yaml:"language,omitempty"`
	Interval time.Duration `yaml:"interval,omitempty"`
	Steps    []Step        `yaml:"steps"`
}

// LoadScript reads a YAML script from disk.
func LoadScript(path string) (Script, error) {
	f, err := os.Open(path)
	if err != nil {
		return Script{}, fmt.Errorf("open script: %w", err)
	}
	defer f.Close()
	return ParseScript(f)
}

// ParseScript decodes and validates a YAML script.
func ParseScript(r io.Reader) (Script, error) {
	var script Script
	if err := yaml.NewDecoder(r).Decode(&script); err != nil {
		return Script{}, fmt.Errorf("decode script: %w", err)
	}
	for i, step := range script.Steps {
		if set := step.fieldCount(); set != 1 {
			return Script{}, fmt.Errorf("script step %d: expected exactly one of partial, final, error, lifecycle or pause, got %d", i+1, set)
		}
	}
	return script, nil
}

func (s Step) fieldCount() int {
	count := 0
	for _, field := range []*string{s.Partial, s.Final, s.Error, s.Lifecycle} {
		if field != nil {
			count++
		}
	}
	if s.Pause > 0 {
		count++
	}
	return count
}

func (s Step) event() (domain.TranscriptEvent, bool) {
	switch {
	case s.Partial != nil:
		return domain.PartialEvent(*s.Partial), true
	case s.Final != nil:
		return domain.FinalEvent(*s.Final), true
	case s.Error != nil:
		return domain.ErrorEvent(*s.Error), true
	case s.Lifecycle != nil:
		return domain.LifecycleEvent(*s.Lifecycle), true
	default:
		return domain.TranscriptEvent{}, false
	}
}

// halts reports whether the recognizer goes quiet after this step until it
// is started again.
func (s Step) halts() bool {
	if s.Error != nil {
		return true
	}
	return s.Lifecycle != nil && domain.IsEndOfUtterance(*s.Lifecycle)
}

// ScriptedService replays a Script as a SpeechService. Emission pauses after
// an error or end-of-utterance step until the next Start, and the events
// channel is closed once every step has been delivered.
type ScriptedService struct {
	script Script
	clock  clock.Clock
	log    logrus.FieldLogger
	events chan domain.TranscriptEvent

	mu      sync.Mutex
	cursor  int
	starts  int
	cancel  context.CancelFunc
	done    chan struct{}
	drained bool
}

func NewScriptedService(script Script, clk clock.Clock, logger logrus.FieldLogger) *ScriptedService {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		logger = l
	}
	return &ScriptedService{
		script: script,
		clock:  clk,
		log:    logger.WithField("component", "scripted_speech"),
		events: make(chan domain.TranscriptEvent, eventBuffer),
	}
}

func (s *ScriptedService) Events() <-chan domain.TranscriptEvent {
	return s.events
}

// Start resumes emission from the current cursor.
func (s *ScriptedService) Start(ctx context.Context, languageHint string) error {
	s.mu.Lock()
	if s.drained {
		s.mu.Unlock()
		return ErrScriptExhausted
	}
	running := s.done != nil
	s.mu.Unlock()

	if running {
		s.Stop()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.starts++
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.play(runCtx, s.done)
	s.log.WithFields(logrus.Fields{"cursor": s.cursor, "language": languageHint}).Debug("script resumed")
	return nil
}

// Stop halts emission. Calling it while nothing plays does nothing.
func (s *ScriptedService) Stop() error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

// Starts returns how many times the recognizer was started.
func (s *ScriptedService) Starts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.starts
}

func (s *ScriptedService) play(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		step, ok := s.next()
		if !ok {
			return
		}

		if step.Pause > 0 {
			if !s.sleep(ctx, step.Pause) {
				return
			}
			s.advance()
			continue
		}

		event, _ := step.event()
		select {
		case s.events <- event:
		case <-ctx.Done():
			return
		}
		last := s.advance()
		if last {
			return
		}
		if step.halts() {
			return
		}
		if s.script.Interval > 0 && !s.sleep(ctx, s.script.Interval) {
			return
		}
	}
}

func (s *ScriptedService) next() (Step, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cursor >= len(s.script.Steps) {
		s.finishLocked()
		return Step{}, false
	}
	return s.script.Steps[s.cursor], true
}

// advance moves past the delivered step and closes the channel when it was
// the last one.
func (s *ScriptedService) advance() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursor++
	if s.cursor >= len(s.script.Steps) {
		s.finishLocked()
		return true
	}
	return false
}

func (s *ScriptedService) finishLocked() {
	if s.drained {
		return
	}
	s.drained = true
	close(s.events)
	s.log.Info("script finished")
}

func (s *ScriptedService) sleep(ctx context.Context, d time.Duration) bool {
	timer := s.clock.Timer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
