package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"wakelisten/internal/domain"
	"wakelisten/internal/ports"
)

var (
	ErrPermissionDenied     = errors.New("microphone permission denied")
	ErrServiceUnavailable   = errors.New("speech service unavailable")
	ErrSessionAlreadyActive = errors.New("session already active")
	ErrActivationCancelled  = errors.New("activation cancelled by stop")
	ErrRetriesExhausted     = errors.New("speech service restart retries exhausted")
)

// Config controls wake-word gating and restart behavior.
type Config struct {
	WakeWord     string
	Mode         domain.ArmingMode
	LanguageHint string
	Restart      RestartPolicy
	Logger       logrus.FieldLogger
}

// WakeSession gates a speech service behind a wake word and records the
// commands spoken after it.
type WakeSession struct {
	speech       ports.SpeechService
	authorizer   ports.Authorizer
	connectivity ports.Connectivity
	normalizer   transcriptNormalizer
	events       ports.EventSink
	clock        clock.Clock
	log          logrus.FieldLogger
	cfg          Config

	mu         sync.Mutex
	state      domain.SessionState
	lastReason domain.SessionStateReason
	armed      bool
	live       string
	lifecycle  string
	message    string
	speechOn   bool
	current    *activation
	commands   *commandLog
	restarts   *restartScheduler
}

// NewWakeSession builds an idle session. A nil authorizer grants access, a nil
// connectivity check is skipped and a nil clock uses wall time. A nil event
// sink discards notifications.
func NewWakeSession(
	speech ports.SpeechService,
	authorizer ports.Authorizer,
	connectivity ports.Connectivity,
	rules ports.RulesEngine,
	events ports.EventSink,
	clk clock.Clock,
	cfg Config,
) *WakeSession {
	if clk == nil {
		clk = clock.New()
	}
	if events == nil {
		events = noopSink{}
	}
	if cfg.Logger == nil {
		logger := logrus.New()
		logger.SetOutput(io.Discard)
		cfg.Logger = logger
	}
	cfg.WakeWord = normalizeWakeWord(cfg.WakeWord)
	if mode, ok := domain.ParseArmingMode(string(cfg.Mode)); ok {
		cfg.Mode = mode
	} else {
		cfg.Mode = domain.ArmingContinuous
	}
	cfg.Restart = cfg.Restart.normalized()

	log := cfg.Logger.WithField("component", "wake_session")
	return &WakeSession{
		speech:       speech,
		authorizer:   authorizer,
		connectivity: connectivity,
		normalizer:   newTranscriptNormalizer(rules, events, log),
		events:       events,
		clock:        clk,
		log:          log,
		cfg:          cfg,
		state:        domain.SessionStateIdle,
		commands:     newCommandLog(),
		restarts:     newRestartScheduler(clk, cfg.Restart),
	}
}

// Start requests microphone access, checks connectivity and begins listening
// for the wake word.
func (s *WakeSession) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.current != nil {
		s.mu.Unlock()
		return ErrSessionAlreadyActive
	}

	s.restarts.cancel()
	s.restarts.resetBackoff()
	activationCtx, cancel := context.WithCancel(ctx)
	act := &activation{
		id:        uuid.NewString(),
		startedAt: s.clock.Now(),
		ctx:       activationCtx,
		cancel:    cancel,
	}
	s.current = act
	s.armed = false
	s.live = ""
	s.message = ""
	s.mu.Unlock()

	granted, authErr := s.requestAccess(act.ctx)
	online, netErr := true, error(nil)
	if granted {
		online, netErr = s.checkConnectivity(act.ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != act {
		return ErrActivationCancelled
	}

	log := s.log.WithField("activation", act.id)

	if !granted {
		detail := "microphone access denied"
		if authErr != nil {
			detail = authErr.Error()
		}
		log.WithField("detail", detail).Warn("microphone permission denied")
		s.endActivationLocked()
		s.failLocked(domain.SessionStateError, domain.SessionReasonPermissionDenied, domain.ErrorCodePermission, detail)
		if authErr != nil {
			return fmt.Errorf("%w: %w", ErrPermissionDenied, authErr)
		}
		return ErrPermissionDenied
	}

	if !online {
		detail := "no network connection"
		if netErr != nil {
			detail = netErr.Error()
		}
		log.WithField("detail", detail).Warn("speech service offline")
		s.endActivationLocked()
		s.failLocked(domain.SessionStateOffline, domain.SessionReasonOffline, domain.ErrorCodeOffline, detail)
		if netErr != nil {
			return fmt.Errorf("%w: %w", ErrServiceUnavailable, netErr)
		}
		return ErrServiceUnavailable
	}

	s.setStateLocked(domain.SessionStateListeningForWake, domain.SessionReasonStarted)
	if err := s.speech.Start(act.ctx, s.cfg.LanguageHint); err != nil {
		log.WithError(err).Error("failed to start speech service")
		s.endActivationLocked()
		s.failLocked(domain.SessionStateError, domain.SessionReasonServiceUnavailable, domain.ErrorCodeSpeechStart, err.Error())
		return fmt.Errorf("%w: %w", ErrServiceUnavailable, err)
	}
	s.speechOn = true
	log.WithField("wake_word", s.cfg.WakeWord).Info("listening for wake word")
	return nil
}

// Stop ends the activation and silences the speech service. Calling it on an
// idle session does nothing.
func (s *WakeSession) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil && !s.speechOn && s.state == domain.SessionStateIdle && !s.restarts.pending() {
		return nil
	}

	s.restarts.cancel()
	s.armed = false
	s.live = ""
	s.message = ""

	stopErr := s.stopSpeechLocked()
	if s.current != nil {
		s.log.WithFields(logrus.Fields{
			"activation": s.current.id,
			"listened":   s.clock.Since(s.current.startedAt),
		}).Info("session stopped")
		s.current.end()
		s.current = nil
	}

	s.setStateLocked(domain.SessionStateIdle, domain.SessionReasonStopped)
	return stopErr
}

// HandleEvent applies one speech event and returns the resulting state.
func (s *WakeSession) HandleEvent(event domain.TranscriptEvent) domain.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch event.Kind {
	case domain.TranscriptKindLifecycle:
		s.handleLifecycleLocked(event.State)
	case domain.TranscriptKindError:
		s.handleErrorLocked(event.Code)
	case domain.TranscriptKindPartial:
		s.handlePartialLocked(event.Text)
	case domain.TranscriptKindFinal:
		s.handleFinalLocked(event.Text)
	default:
		s.log.WithField("kind", event.Kind).Debug("ignoring unknown speech event")
	}
	return s.state
}

// Status returns the snapshot rendered by the presentation layer.
func (s *WakeSession) Status() domain.Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := domain.Status{
		State:          s.state,
		Label:          s.state.Label(),
		Active:         s.current != nil,
		Armed:          s.armed,
		LiveTranscript: s.live,
		Lifecycle:      s.lifecycle,
		Commands:       s.commands.Snapshot(),
		Hint:           hintFor(s.state, s.cfg.WakeWord, s.cfg.Mode),
		RestartPending: s.restarts.pending(),
		Message:        s.message,
	}
	if s.current != nil {
		status.ActivationID = s.current.id
	}
	return status
}

// State returns the current session state.
func (s *WakeSession) State() domain.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Commands returns a copy of the command log.
func (s *WakeSession) Commands() []domain.CommandEntry {
	return s.commands.Snapshot()
}

// RestartPending reports whether a restart timer is outstanding.
func (s *WakeSession) RestartPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restarts.pending()
}

// WakeWord returns the normalized wake word.
func (s *WakeSession) WakeWord() string {
	return s.cfg.WakeWord
}

func (s *WakeSession) handleLifecycleLocked(name string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	s.lifecycle = name
	s.events.LifecycleChanged(name)

	if s.current == nil {
		return
	}
	if state, ok := domain.ParseSessionState(name); ok {
		s.setStateLocked(state, domain.SessionReasonLifecycle)
		return
	}
	if domain.IsEndOfUtterance(name) && s.cfg.Restart.OnEnd {
		s.scheduleRestartLocked(s.cfg.Restart.Delay, domain.SessionReasonRestarted)
	}
}

func (s *WakeSession) handleErrorLocked(code string) {
	code = strings.TrimSpace(code)
	if code == "" {
		code = "unknown"
	}
	if s.current == nil {
		s.log.WithField("code", code).Debug("ignoring recognition error after stop")
		return
	}

	s.log.WithField("code", code).Warn("speech recognition error")
	s.live = ""
	s.setStateLocked(domain.SessionStateError, domain.SessionReasonRecognitionError)
	s.events.SessionError(domain.ErrorCodeRecognition, code)

	if !s.cfg.Restart.OnError {
		s.endActivationLocked()
		return
	}
	s.scheduleErrorRestartLocked()
}

func (s *WakeSession) handlePartialLocked(text string) {
	if s.current == nil {
		return
	}
	normalized := s.normalizer.Normalize(text)
	if normalized == "" {
		return
	}
	s.restarts.resetBackoff()
	s.live = normalized
	s.events.PartialTranscript(normalized)
}

func (s *WakeSession) handleFinalLocked(text string) {
	if s.current == nil {
		return
	}
	normalized := s.normalizer.Normalize(text)
	if normalized == "" {
		return
	}
	s.restarts.resetBackoff()
	s.live = ""

	switch classifyFinal(normalized, s.cfg.WakeWord, s.armed) {
	case finalWake:
		s.armed = true
		s.setStateLocked(domain.SessionStateAwake, domain.SessionReasonWakeDetected)
		s.log.WithField("transcript", normalized).Info("wake word detected")
		s.events.WakeDetected(normalized)
	case finalCommand:
		entry := s.commands.Append(normalized, s.current.id, s.clock.Now())
		s.setStateLocked(domain.SessionStateCapturingCommand, domain.SessionReasonCommandCaptured)
		s.log.WithFields(logrus.Fields{"seq": entry.Seq, "command": entry.Text}).Info("command captured")
		s.events.CommandCaptured(entry)
		if s.cfg.Mode == domain.ArmingSingleCommand {
			s.armed = false
			s.scheduleRestartLocked(s.cfg.Restart.Delay, domain.SessionReasonRelistening)
		}
	default:
		s.setStateLocked(domain.SessionStateListeningForWake, domain.SessionReasonNoWakeWord)
	}
}

func (s *WakeSession) scheduleErrorRestartLocked() {
	delay, ok := s.restarts.nextErrorDelay()
	if !ok {
		s.log.Error("giving up on speech service restarts")
		s.endActivationLocked()
		s.failLocked(domain.SessionStateError, domain.SessionReasonRetriesExhausted, domain.ErrorCodeRetriesExhausted, ErrRetriesExhausted.Error())
		return
	}
	s.scheduleRestartLocked(delay, domain.SessionReasonRestarted)
}

func (s *WakeSession) scheduleRestartLocked(delay time.Duration, reason domain.SessionStateReason) {
	act := s.current
	if act == nil {
		return
	}
	s.restarts.schedule(delay, func(token uint64) {
		s.fireRestart(act, token, reason)
	})
	s.log.WithFields(logrus.Fields{"delay": delay, "reason": reason}).Debug("speech restart scheduled")
}

func (s *WakeSession) fireRestart(act *activation, token uint64, reason domain.SessionStateReason) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.restarts.claim(token) || s.current != act {
		return
	}

	if err := s.speech.Start(act.ctx, s.cfg.LanguageHint); err != nil {
		s.log.WithError(err).Warn("speech service restart failed")
		s.setStateLocked(domain.SessionStateError, domain.SessionReasonRecognitionError)
		s.events.SessionError(domain.ErrorCodeSpeechStart, err.Error())
		if !s.cfg.Restart.OnError {
			s.endActivationLocked()
			return
		}
		s.scheduleErrorRestartLocked()
		return
	}

	s.speechOn = true
	next := domain.SessionStateListeningForWake
	if s.armed {
		next = domain.SessionStateAwake
	}
	s.setStateLocked(next, reason)
}

// endActivationLocked releases the microphone along with the activation so a
// terminal error never leaves the recognizer running.
func (s *WakeSession) endActivationLocked() {
	s.restarts.cancel()
	s.armed = false
	s.live = ""
	_ = s.stopSpeechLocked()
	if s.current != nil {
		s.current.end()
		s.current = nil
	}
}

func (s *WakeSession) stopSpeechLocked() error {
	if !s.speechOn {
		return nil
	}
	s.speechOn = false
	if err := s.speech.Stop(); err != nil {
		s.log.WithError(err).Warn("speech service did not stop cleanly")
		s.events.SessionError(domain.ErrorCodeSpeechStop, err.Error())
		return err
	}
	return nil
}

func (s *WakeSession) failLocked(state domain.SessionState, reason domain.SessionStateReason, code domain.ErrorCode, detail string) {
	s.message = detail
	s.setStateLocked(state, reason)
	s.events.SessionError(code, detail)
}

func (s *WakeSession) setStateLocked(state domain.SessionState, reason domain.SessionStateReason) {
	if state == s.state && reason == s.lastReason && reason != domain.SessionReasonCommandCaptured {
		return
	}
	s.state = state
	s.lastReason = reason
	s.events.SessionStateChanged(state, reason)
}

func (s *WakeSession) requestAccess(ctx context.Context) (bool, error) {
	if s.authorizer == nil {
		return true, nil
	}
	granted, err := s.authorizer.RequestMicrophoneAccess(ctx)
	if err != nil {
		return false, err
	}
	return granted, nil
}

func (s *WakeSession) checkConnectivity(ctx context.Context) (bool, error) {
	if s.connectivity == nil {
		return true, nil
	}
	online, err := s.connectivity.IsConnected(ctx)
	if err != nil {
		return false, err
	}
	return online, nil
}

func hintFor(state domain.SessionState, wakeWord string, mode domain.ArmingMode) string {
	switch state {
	case domain.SessionStateAwake, domain.SessionStateCapturingCommand:
		return ""
	case domain.SessionStateOffline:
		return "No internet connection. Reconnect and start again."
	case domain.SessionStateError:
		return "Speech recognition stopped. Start again if it does not recover."
	}
	if mode == domain.ArmingSingleCommand {
		return fmt.Sprintf("Say %q before each command.", wakeWord)
	}
	return fmt.Sprintf("Say %q once, then speak freely. Every sentence after it is recorded.", wakeWord)
}
