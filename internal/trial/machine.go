// Package trial implements the timed-stimulus reaction round shared by the
// benchmark games: arm with a randomized reveal delay, trap premature
// responses, measure latency on a valid response.
package trial

import (
	"math/rand"
	"sync"
	"time"

	"github.com/BluceCao2018/funbenchmark.com/pkg/clock"
)

// State of one trial machine.
type State int

const (
	StateIdle State = iota
	StateArmed
	StateRevealed
	StateFalseStart
	StateMeasured
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
	case StateMeasured:
		return "measured"
	}
	return "unknown"
}

// Outcome of a response event.
type Outcome int

const (
	// OutcomeIgnored means the response arrived in a state where it has no
	// meaning (duplicate click, stale event) and was dropped.
	OutcomeIgnored Outcome = iota
	// OutcomeFalseStart means the response arrived before the reveal.
	OutcomeFalseStart
	// OutcomeAcknowledged means a false start was acknowledged; back to idle.
	OutcomeAcknowledged
	// OutcomeMeasured means the response produced a valid measurement.
	OutcomeMeasured
)

// Measurement is the result of one successful trial.
//
// Latency is response instant minus reveal instant minus the time spent
// between detecting the response and computing the value, so the cost of
// measuring does not inflate the result. No clamping: an implausible or
// negative value is reported as-is.
type Measurement struct {
	Latency    time.Duration
	RevealedAt time.Time
	MeasuredAt time.Time
}

// LatencyMs is the measured latency in integer milliseconds.
func (m Measurement) LatencyMs() int64 {
	return m.Latency.Milliseconds()
}

// Config parameterizes a machine for one game variant.
type Config struct {
	MinDelay time.Duration // inclusive lower bound of the reveal delay
	MaxDelay time.Duration // exclusive upper bound
	Rand     *rand.Rand    // optional deterministic source for tests
}

// DefaultConfig is the delay range used by the reaction-time games.
func DefaultConfig() Config {
	return Config{MinDelay: 1 * time.Second, MaxDelay: 5 * time.Second}
}

// Machine drives one session's trial rounds. All transitions are serialized
// under an internal mutex; at most one reveal timer is outstanding, and
// arming or responding always cancels the previous one first. Responses in
// invalid states are no-ops so duplicate events cannot corrupt a round.
type Machine struct {
	mu  sync.Mutex
	clk clock.Clock
	cfg Config

	state       State
	arming      uint64 // generation guard against stale reveal callbacks
	revealTimer clock.Timer
	revealedAt  time.Time
	last        Measurement

	onReveal   func()
	onMeasured func(Measurement)
}

// NewMachine creates a machine in the idle state.
func NewMachine(clk clock.Clock, cfg Config) *Machine {
	if cfg.MaxDelay < cfg.MinDelay {
		cfg.MaxDelay = cfg.MinDelay
	}
	return &Machine{clk: clk, cfg: cfg, state: StateIdle}
}

// OnReveal registers a hook invoked when the stimulus becomes perceivable.
func (m *Machine) OnReveal(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReveal = fn
}

// OnMeasured registers the sink receiving completed measurements. The sink
// runs on its own goroutine; a slow or failing sink never blocks the
// transition to the measured state.
func (m *Machine) OnMeasured(fn func(Measurement)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onMeasured = fn
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// LastMeasurement returns the most recent measurement.
func (m *Machine) LastMeasurement() Measurement {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// Start arms the machine from idle or measured, scheduling a reveal after a
// delay drawn uniformly from the configured range. The delay is re-randomized
// on every arming. Starting in any other state is a no-op.
func (m *Machine) Start() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateIdle && m.state != StateMeasured {
		return false
	}

	m.cancelRevealLocked()
	m.state = StateArmed
	m.arming++
	gen := m.arming

	m.revealTimer = m.clk.AfterFunc(m.drawDelay(), func() {
		m.reveal(gen)
	})
	return true
}

func (m *Machine) drawDelay() time.Duration {
	span := m.cfg.MaxDelay - m.cfg.MinDelay
	if span <= 0 {
		return m.cfg.MinDelay
	}
	var n int64
	if m.cfg.Rand != nil {
		n = m.cfg.Rand.Int63n(int64(span))
	} else {
		n = rand.Int63n(int64(span))
	}
	return m.cfg.MinDelay + time.Duration(n)
}

// cancelRevealLocked stops any outstanding reveal timer and invalidates its
// generation so a concurrently firing callback is dropped.
func (m *Machine) cancelRevealLocked() {
	if m.revealTimer != nil {
		m.revealTimer.Stop()
		m.revealTimer = nil
	}
	m.arming++
}

func (m *Machine) reveal(gen uint64) {
	m.mu.Lock()
	if m.state != StateArmed || gen != m.arming {
		m.mu.Unlock()
		return
	}
	m.state = StateRevealed
	m.revealedAt = m.clk.Now()
	m.revealTimer = nil
	hook := m.onReveal
	m.mu.Unlock()

	if hook != nil {
		hook()
	}
}

// Respond handles a response detected at the given instant.
//
//   - armed: false start; the pending reveal is cancelled and can never fire.
//   - falseStart: acknowledged; back to idle (no immediate re-arm).
//   - revealed: measured; latency is computed with the processing-time
//     correction and the measurement is handed to the OnMeasured sink.
//   - anything else: ignored.
func (m *Machine) Respond(detectedAt time.Time) (Outcome, Measurement) {
	m.mu.Lock()

	switch m.state {
	case StateArmed:
		m.cancelRevealLocked()
		m.state = StateFalseStart
		m.mu.Unlock()
		return OutcomeFalseStart, Measurement{}

	case StateFalseStart:
		m.state = StateIdle
		m.mu.Unlock()
		return OutcomeAcknowledged, Measurement{}

	case StateRevealed:
		now := m.clk.Now()
		processing := now.Sub(detectedAt)
		meas := Measurement{
			Latency:    now.Sub(m.revealedAt) - processing,
			RevealedAt: m.revealedAt,
			MeasuredAt: now,
		}
		m.state = StateMeasured
		m.last = meas
		sink := m.onMeasured
		m.mu.Unlock()

		if sink != nil {
			go sink(meas)
		}
		return OutcomeMeasured, meas

	default:
		m.mu.Unlock()
		return OutcomeIgnored, Measurement{}
	}
}
