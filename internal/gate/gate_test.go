package gate

import (
	"testing"
	"time"

	"github.com/BluceCao2018/funbenchmark.com/pkg/clock/clocktest"
)

// fixedDelayConfig pins the arming delay to 2s so tests can advance past it
// deterministically.
func fixedDelayConfig(visible time.Duration, maxAttempts int) Config {
	cfg := NewConfig(visible, maxAttempts)
	cfg.MinDelay = 2 * time.Second
	cfg.MaxDelay = 2 * time.Second
	return cfg
}

func newTestGate(t *testing.T, visible time.Duration, maxAttempts int) (*Gate, *clocktest.Fake) {
	t.Helper()
	clk := clocktest.NewFake(time.Unix(1_700_000_000, 0))
	return NewGate(clk, fixedDelayConfig(visible, maxAttempts), 0), clk
}

func TestFastResponseRevealsContent(t *testing.T) {
	g, clk := newTestGate(t, 500*time.Millisecond, 3)

	if err := g.Begin(); err != nil {
		t.Fatalf("begin: %v", err)
	}
	clk.Advance(2 * time.Second)
	if g.State() != StateRevealed {
		t.Fatalf("state = %v, want revealed", g.State())
	}

	clk.Advance(300 * time.Millisecond)
	res := g.Respond(clk.Now())
	if res.Outcome != OutcomeSuccess {
		t.Fatalf("outcome = %v, want success", res.Outcome)
	}
	if !res.ContentRevealed {
		t.Fatal("content not revealed on fast response")
	}
	if res.Latency != 300*time.Millisecond {
		t.Fatalf("latency = %v, want 300ms", res.Latency)
	}
	if res.AttemptsUsed != 1 {
		t.Fatalf("attemptsUsed = %d, want 1", res.AttemptsUsed)
	}
}

func TestSlowResponseWithinGraceIsTooSlow(t *testing.T) {
	g, clk := newTestGate(t, 500*time.Millisecond, 3)

	g.Begin()
	clk.Advance(2 * time.Second)
	clk.Advance(700 * time.Millisecond)
	res := g.Respond(clk.Now())

	if res.Outcome != OutcomeTooSlow {
		t.Fatalf("outcome = %v, want tooSlow", res.Outcome)
	}
	if res.ContentRevealed {
		t.Fatal("content revealed on too-slow response")
	}
	if res.AttemptsUsed != 1 {
		t.Fatalf("attemptsUsed = %d, want 1 (too-slow still consumes)", res.AttemptsUsed)
	}
}

func TestNoResponseTimesOutAndConsumesAttempt(t *testing.T) {
	g, clk := newTestGate(t, 500*time.Millisecond, 3)
	consumed := make(chan Result, 1)
	g.OnConsumed = func(r Result) { consumed <- r }

	g.Begin()
	clk.Advance(2 * time.Second)
	// Deadline is visibleDuration + 10s grace after reveal.
	clk.Advance(10500 * time.Millisecond)

	if g.State() != StateTimedOut {
		t.Fatalf("state = %v, want timedOut", g.State())
	}
	if g.AttemptsUsed() != 1 {
		t.Fatalf("attemptsUsed = %d, want 1", g.AttemptsUsed())
	}
	select {
	case r := <-consumed:
		if r.Outcome != OutcomeTimedOut {
			t.Fatalf("sink outcome = %v, want timedOut", r.Outcome)
		}
	case <-time.After(time.Second):
		t.Fatal("consumed attempt never reached the sink")
	}
}

func TestFalseStartNeverConsumesAttempt(t *testing.T) {
	g, clk := newTestGate(t, 500*time.Millisecond, 3)

	g.Begin()
	clk.Advance(time.Second) // still armed
	res := g.Respond(clk.Now())
	if res.Outcome != OutcomeFalseStart {
		t.Fatalf("outcome = %v, want falseStart", res.Outcome)
	}
	if g.AttemptsUsed() != 0 {
		t.Fatalf("attemptsUsed = %d, want 0", g.AttemptsUsed())
	}

	// The cancelled reveal must not fire late.
	clk.Advance(5 * time.Second)
	if g.State() != StateFalseStart {
		t.Fatalf("state = %v after cancelled reveal delay, want falseStart", g.State())
	}

	// Acknowledging returns to idle, still without consuming.
	res = g.Respond(clk.Now())
	if res.Outcome != OutcomeAcknowledged || g.State() != StateIdle {
		t.Fatalf("acknowledge: outcome=%v state=%v", res.Outcome, g.State())
	}
	if g.AttemptsUsed() != 0 {
		t.Fatalf("attemptsUsed = %d after false start cycle, want 0", g.AttemptsUsed())
	}
}

func TestBeginRefusedWhileAttemptRunning(t *testing.T) {
	g, clk := newTestGate(t, 500*time.Millisecond, 3)
	g.Begin()
	if err := g.Begin(); err != ErrInProgress {
		t.Fatalf("begin while armed: %v, want ErrInProgress", err)
	}
	clk.Advance(2 * time.Second)
	if err := g.Begin(); err != ErrInProgress {
		t.Fatalf("begin while revealed: %v, want ErrInProgress", err)
	}
}

func TestExhaustionAfterMaxAttempts(t *testing.T) {
	g, clk := newTestGate(t, 500*time.Millisecond, 2)

	for i := 0; i < 2; i++ {
		if err := g.Begin(); err != nil {
			t.Fatalf("begin %d: %v", i, err)
		}
		clk.Advance(2 * time.Second)
		clk.Advance(100 * time.Millisecond)
		g.Respond(clk.Now())
	}

	if !g.Exhausted() {
		t.Fatal("gate not exhausted after maxAttempts completed attempts")
	}
	if err := g.Begin(); err != ErrExhausted {
		t.Fatalf("begin after exhaustion: %v, want ErrExhausted", err)
	}
	if g.AttemptsUsed() != 2 {
		t.Fatalf("refused begin mutated attemptsUsed: %d", g.AttemptsUsed())
	}
}

func TestSeededAttemptsCountTowardExhaustion(t *testing.T) {
	clk := clocktest.NewFake(time.Unix(1_700_000_000, 0))
	g := NewGate(clk, fixedDelayConfig(500*time.Millisecond, 3), 3)
	if err := g.Begin(); err != ErrExhausted {
		t.Fatalf("begin with seeded exhaustion: %v, want ErrExhausted", err)
	}
}

// Full walkthrough: 500ms window, 3 attempts. A 300ms response succeeds, a
// 700ms response is too slow, and a timeout spends the last attempt.
func TestAttemptBudgetScenario(t *testing.T) {
	g, clk := newTestGate(t, 500*time.Millisecond, 3)

	g.Begin()
	clk.Advance(2 * time.Second)
	clk.Advance(300 * time.Millisecond)
	res := g.Respond(clk.Now())
	if res.Outcome != OutcomeSuccess || !res.ContentRevealed || res.AttemptsUsed != 1 {
		t.Fatalf("attempt 1: %+v", res)
	}

	g.Begin()
	clk.Advance(2 * time.Second)
	clk.Advance(700 * time.Millisecond)
	res = g.Respond(clk.Now())
	if res.Outcome != OutcomeTooSlow || res.ContentRevealed || res.AttemptsUsed != 2 {
		t.Fatalf("attempt 2: %+v", res)
	}

	g.Begin()
	clk.Advance(2 * time.Second)
	clk.Advance(11 * time.Second)
	if g.State() != StateTimedOut || g.AttemptsUsed() != 3 {
		t.Fatalf("attempt 3: state=%v attempts=%d", g.State(), g.AttemptsUsed())
	}

	if err := g.Begin(); err != ErrExhausted {
		t.Fatalf("attempt 4: %v, want ErrExhausted", err)
	}
}

func TestLatencyCorrectedForMeasurementOverhead(t *testing.T) {
	g, clk := newTestGate(t, 500*time.Millisecond, 1)

	g.Begin()
	clk.Advance(2 * time.Second)
	clk.Advance(400 * time.Millisecond)
	detectedAt := clk.Now()
	clk.Advance(150 * time.Millisecond) // handling overhead after detection
	res := g.Respond(detectedAt)

	if res.Latency != 400*time.Millisecond {
		t.Fatalf("latency = %v, want 400ms after overhead subtraction", res.Latency)
	}
	if res.Outcome != OutcomeSuccess {
		t.Fatalf("outcome = %v, want success", res.Outcome)
	}
}

func TestIgnoredResponseInTerminalState(t *testing.T) {
	g, clk := newTestGate(t, 500*time.Millisecond, 2)

	g.Begin()
	clk.Advance(2 * time.Second)
	clk.Advance(100 * time.Millisecond)
	g.Respond(clk.Now())

	res := g.Respond(clk.Now())
	if res.Outcome != OutcomeIgnored {
		t.Fatalf("outcome = %v, want ignored", res.Outcome)
	}
	if g.AttemptsUsed() != 1 {
		t.Fatalf("ignored response consumed an attempt: %d", g.AttemptsUsed())
	}
}
