// Package gate implements the timed-message reveal: a reaction round with a
// per-viewer attempt budget, a bounded visibility window, and a hard response
// deadline. Content is only handed out on a fast enough response; slow
// responses and timeouts burn an attempt without revealing anything.
package gate

import (
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/BluceCao2018/funbenchmark.com/pkg/clock"
)

// ErrExhausted is returned by Begin when the viewer has no attempts left.
// The refusal never mutates the attempt count.
var ErrExhausted = errors.New("gate: attempts exhausted")

// ErrInProgress is returned by Begin while an attempt is already underway.
var ErrInProgress = errors.New("gate: attempt already in progress")

// State is the gate's position in one attempt.
type State int

const (
	StateIdle State = iota
	StateArmed
	StateRevealed
	StateFalseStart
	StateSucceeded
	StateTooSlow
	StateTimedOut
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateArmed:
		return "armed"
	case StateRevealed:
		return "revealed"
	case StateFalseStart:
		return "falseStart"
	case StateSucceeded:
		return "succeeded"
	case StateTooSlow:
		return "tooSlow"
	case StateTimedOut:
		return "timedOut"
	default:
		return "unknown"
	}
}

// Outcome classifies one call to Respond.
type Outcome int

const (
	// OutcomeIgnored means the response arrived in a state with no meaning.
	OutcomeIgnored Outcome = iota
	// OutcomeFalseStart means the viewer clicked before the reveal.
	OutcomeFalseStart
	// OutcomeAcknowledged means a false start was dismissed back to idle.
	OutcomeAcknowledged
	// OutcomeSuccess means the response landed within the visibility window.
	OutcomeSuccess
	// OutcomeTooSlow means the response landed after the window but within grace.
	OutcomeTooSlow
	// OutcomeTimedOut means no response arrived before the deadline.
	OutcomeTimedOut
)

// Result describes one consumed attempt.
type Result struct {
	Outcome         Outcome
	Latency         time.Duration // zero for timeouts
	AttemptsUsed    int
	ContentRevealed bool
}

// Config parameterizes the gate. VisibleDuration and MaxAttempts come from
// the message being revealed; the arming delay range matches the plain
// reaction round.
type Config struct {
	MinDelay        time.Duration
	MaxDelay        time.Duration
	VisibleDuration time.Duration
	ExtraGrace      time.Duration
	MaxAttempts     int
	Rand            *rand.Rand
}

// DefaultGrace is how long past the visibility window a response may still
// arrive before the attempt times out.
const DefaultGrace = 10 * time.Second

// NewConfig builds a gate config for one message.
func NewConfig(visibleDuration time.Duration, maxAttempts int) Config {
	return Config{
		MinDelay:        1 * time.Second,
		MaxDelay:        5 * time.Second,
		VisibleDuration: visibleDuration,
		ExtraGrace:      DefaultGrace,
		MaxAttempts:     maxAttempts,
	}
}

// Gate runs reveal attempts for a single viewer on a single message.
// Attempts consumed in earlier sessions are seeded through NewGate so the
// budget survives across processes.
type Gate struct {
	mu  sync.Mutex
	clk clock.Clock
	cfg Config

	state        State
	revealedAt   time.Time
	attemptsUsed int
	lastLatency  time.Duration

	generation    uint64
	revealTimer   clock.Timer
	deadlineTimer clock.Timer

	// OnConsumed, when set, receives every consumed attempt. Invoked on its
	// own goroutine; persistence failure must not block the state machine.
	OnConsumed func(Result)
}

// NewGate creates a gate with attemptsUsed already consumed by this viewer.
func NewGate(clk clock.Clock, cfg Config, attemptsUsed int) *Gate {
	if cfg.ExtraGrace == 0 {
		cfg.ExtraGrace = DefaultGrace
	}
	if cfg.MinDelay == 0 && cfg.MaxDelay == 0 {
		cfg.MinDelay, cfg.MaxDelay = 1*time.Second, 5*time.Second
	}
	return &Gate{clk: clk, cfg: cfg, state: StateIdle, attemptsUsed: attemptsUsed}
}

// State returns the current state.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// AttemptsUsed returns how many attempts this viewer has consumed.
func (g *Gate) AttemptsUsed() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.attemptsUsed
}

// Exhausted reports whether the viewer's budget is spent.
func (g *Gate) Exhausted() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.attemptsUsed >= g.cfg.MaxAttempts
}

// LastLatency returns the latency of the last consumed response, zero if the
// last attempt timed out or none completed yet.
func (g *Gate) LastLatency() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastLatency
}

// Begin arms a new attempt. Refused without mutation when the budget is
// already exhausted, and while another attempt is running.
func (g *Gate) Begin() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.attemptsUsed >= g.cfg.MaxAttempts {
		return ErrExhausted
	}
	switch g.state {
	case StateIdle, StateSucceeded, StateTooSlow, StateTimedOut:
	default:
		return ErrInProgress
	}

	g.cancelTimersLocked()
	g.generation++
	gen := g.generation
	g.state = StateArmed

	delay := g.cfg.MinDelay
	if span := g.cfg.MaxDelay - g.cfg.MinDelay; span > 0 {
		delay += time.Duration(g.randInt63n(int64(span)))
	}
	g.revealTimer = g.clk.AfterFunc(delay, func() { g.reveal(gen) })
	return nil
}

func (g *Gate) randInt63n(n int64) int64 {
	if g.cfg.Rand != nil {
		return g.cfg.Rand.Int63n(n)
	}
	return rand.Int63n(n)
}

func (g *Gate) reveal(gen uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if gen != g.generation || g.state != StateArmed {
		return
	}
	g.state = StateRevealed
	g.revealedAt = g.clk.Now()
	g.deadlineTimer = g.clk.AfterFunc(g.cfg.VisibleDuration+g.cfg.ExtraGrace, func() { g.timeout(gen) })
}

// timeout fires when no response arrived within the window plus grace. The
// attempt is consumed.
func (g *Gate) timeout(gen uint64) {
	g.mu.Lock()
	if gen != g.generation || g.state != StateRevealed {
		g.mu.Unlock()
		return
	}
	g.state = StateTimedOut
	g.attemptsUsed++
	res := Result{Outcome: OutcomeTimedOut, AttemptsUsed: g.attemptsUsed}
	sink := g.OnConsumed
	g.mu.Unlock()

	if sink != nil {
		go sink(res)
	}
}

// Respond handles the viewer's action. detectedAt is when the client
// registered the input; the gap between then and now is measurement overhead
// and is subtracted from the latency. A false start cancels the pending
// reveal and does not consume an attempt.
func (g *Gate) Respond(detectedAt time.Time) Result {
	g.mu.Lock()

	switch g.state {
	case StateArmed:
		g.cancelTimersLocked()
		g.generation++
		g.state = StateFalseStart
		g.mu.Unlock()
		return Result{Outcome: OutcomeFalseStart, AttemptsUsed: g.attemptsUsed}

	case StateFalseStart:
		g.state = StateIdle
		g.mu.Unlock()
		return Result{Outcome: OutcomeAcknowledged, AttemptsUsed: g.attemptsUsed}

	case StateRevealed:
		g.cancelTimersLocked()
		g.generation++

		now := g.clk.Now()
		latency := now.Sub(g.revealedAt) - now.Sub(detectedAt)
		g.attemptsUsed++
		g.lastLatency = latency

		res := Result{Latency: latency, AttemptsUsed: g.attemptsUsed}
		if latency <= g.cfg.VisibleDuration {
			g.state = StateSucceeded
			res.Outcome = OutcomeSuccess
			res.ContentRevealed = true
		} else {
			g.state = StateTooSlow
			res.Outcome = OutcomeTooSlow
		}
		sink := g.OnConsumed
		g.mu.Unlock()

		if sink != nil {
			go sink(res)
		}
		return res

	default:
		g.mu.Unlock()
		return Result{Outcome: OutcomeIgnored, AttemptsUsed: g.attemptsUsed}
	}
}

func (g *Gate) cancelTimersLocked() {
	if g.revealTimer != nil {
		g.revealTimer.Stop()
		g.revealTimer = nil
	}
	if g.deadlineTimer != nil {
		g.deadlineTimer.Stop()
		g.deadlineTimer = nil
	}
}
