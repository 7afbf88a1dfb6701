package usecase

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sethvargo/go-retry"
)

// RestartStrategy selects how the delay grows across consecutive errors.
type RestartStrategy string

const (
	RestartConstant    RestartStrategy = "constant"
	RestartExponential RestartStrategy = "exponential"
)

const (
	defaultRestartDelay    = 800 * time.Millisecond
	defaultRestartMaxDelay = 30 * time.Second
	defaultRestartRetries  = 10
)

// RestartPolicy decides when the speech service is started again after it
// stopped on its own.
type RestartPolicy struct {
	Delay    time.Duration
	MaxDelay time.Duration
	Strategy RestartStrategy
	// MaxRetries caps consecutive error restarts. Zero leaves them uncapped.
	MaxRetries uint64
	OnError    bool
	OnEnd      bool
}

// DefaultRestartPolicy mirrors the platform listen loop with a retry cap.
func DefaultRestartPolicy() RestartPolicy {
	return RestartPolicy{
		Delay:      defaultRestartDelay,
		MaxDelay:   defaultRestartMaxDelay,
		Strategy:   RestartExponential,
		MaxRetries: defaultRestartRetries,
		OnError:    true,
		OnEnd:      true,
	}
}

func (p RestartPolicy) normalized() RestartPolicy {
	if p.Delay <= 0 {
		p.Delay = defaultRestartDelay
	}
	if p.MaxDelay < p.Delay {
		p.MaxDelay = p.Delay
	}
	switch p.Strategy {
	case RestartConstant, RestartExponential:
	default:
		p.Strategy = RestartExponential
	}
	return p
}

func (p RestartPolicy) newBackoff() retry.Backoff {
	var backoff retry.Backoff
	if p.Strategy == RestartConstant {
		backoff = retry.NewConstant(p.Delay)
	} else {
		backoff = retry.NewExponential(p.Delay)
	}
	backoff = retry.WithCappedDuration(p.MaxDelay, backoff)
	if p.MaxRetries > 0 {
		backoff = retry.WithMaxRetries(p.MaxRetries, backoff)
	}
	return backoff
}

// restartScheduler owns the single pending restart timer. It is not safe for
// concurrent use; the session lock guards it.
type restartScheduler struct {
	clock   clock.Clock
	policy  RestartPolicy
	backoff retry.Backoff

	timer *clock.Timer
	token uint64
}

func newRestartScheduler(clk clock.Clock, policy RestartPolicy) *restartScheduler {
	return &restartScheduler{clock: clk, policy: policy}
}

// schedule replaces any outstanding timer with a new one.
func (r *restartScheduler) schedule(delay time.Duration, fire func(token uint64)) uint64 {
	r.cancel()
	r.token++
	token := r.token
	r.timer = r.clock.AfterFunc(delay, func() { fire(token) })
	return token
}

// cancel stops the pending timer and invalidates a callback that may already
// be waiting for the session lock.
func (r *restartScheduler) cancel() bool {
	if r.timer == nil {
		return false
	}
	stopped := r.timer.Stop()
	r.timer = nil
	r.token++
	return stopped
}

// claim is called by a firing callback; only the current token wins.
func (r *restartScheduler) claim(token uint64) bool {
	if r.timer == nil || token != r.token {
		return false
	}
	r.timer = nil
	return true
}

func (r *restartScheduler) pending() bool {
	return r.timer != nil
}

// nextErrorDelay returns the delay before the next error restart, or false
// once the retry budget is spent.
func (r *restartScheduler) nextErrorDelay() (time.Duration, bool) {
	if r.backoff == nil {
		r.backoff = r.policy.newBackoff()
	}
	delay, stop := r.backoff.Next()
	return delay, !stop
}

func (r *restartScheduler) resetBackoff() {
	r.backoff = nil
}
