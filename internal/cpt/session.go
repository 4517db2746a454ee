// Package cpt implements the continuous performance test: a fixed-duration
// session streaming letter stimuli at a fixed cadence, classifying responses
// as correct, commission or omission, and bucketing them into fixed-width
// period windows.
package cpt

import (
	"math/rand"
	"sync"
	"time"

	"github.com/BluceCao2018/funbenchmark.com/pkg/clock"
	"github.com/BluceCao2018/funbenchmark.com/pkg/models"
)

// Config parameterizes a session.
type Config struct {
	Duration          time.Duration // total session length
	StimulusDuration  time.Duration // how long each stimulus stays visible
	StimulusInterval  time.Duration // cadence between stimulus onsets
	BucketWidth       time.Duration // period window width
	TargetProbability float64       // chance each draw is the target
	Alphabet          string        // stimulus alphabet
	Target            byte          // designated target stimulus
	Rand              *rand.Rand    // optional deterministic source
}

// DefaultConfig mirrors the browser test: 5 minutes, 500ms display every
// 1000ms, 20% targets, 30s period windows, target letter X.
func DefaultConfig() Config {
	return Config{
		Duration:          5 * time.Minute,
		StimulusDuration:  500 * time.Millisecond,
		StimulusInterval:  1 * time.Second,
		BucketWidth:       30 * time.Second,
		TargetProbability: 0.2,
		Alphabet:          "ABCDEFGHIJKLMNOPQRSTUVWXYZ",
		Target:            'X',
	}
}

// Summary is the end-of-session report.
type Summary struct {
	CorrectResponses int                   `json:"correctResponses"`
	OmissionErrors   int                   `json:"omissionErrors"`
	CommissionErrors int                   `json:"commissionErrors"`
	TotalTrials      int                   `json:"totalTrials"`
	AverageLatencyMs float64               `json:"averageReactionTime"`
	Accuracy         float64               `json:"accuracyRate"`
	Periods          []models.PeriodBucket `json:"periods"`
}

type stimulus struct {
	letter    byte
	isTarget  bool
	shownAt   time.Time
	responded bool
	resolved  bool // omission check completed (expired or responded)
}

// Session drives one live continuous-performance run off the clock.
// Omissions are detected by the expiry scheduler, not the response handler,
// since they are the absence of an action.
type Session struct {
	mu  sync.Mutex
	clk clock.Clock
	cfg Config

	running   bool
	startedAt time.Time

	current    *stimulus
	active     bool // current stimulus still within its display window
	nextTimer  clock.Timer
	expiry     clock.Timer
	endTimer   clock.Timer
	generation uint64

	correct    int
	commission int
	omission   int
	latencies  []time.Duration // correct responses only
	buckets    map[int64]*models.PeriodBucket

	onStimulus func(letter byte, isTarget bool)
}

// NewSession creates an idle session.
func NewSession(clk clock.Clock, cfg Config) *Session {
	if cfg.Alphabet == "" {
		cfg = DefaultConfig()
	}
	return &Session{clk: clk, cfg: cfg, buckets: make(map[int64]*models.PeriodBucket)}
}

// OnStimulus registers a hook invoked when a stimulus is presented.
func (s *Session) OnStimulus(fn func(letter byte, isTarget bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onStimulus = fn
}

// Running reports whether the session is in progress.
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Start begins the session; a no-op when already running.
func (s *Session) Start() bool {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return false
	}
	s.running = true
	s.startedAt = s.clk.Now()
	s.generation++
	gen := s.generation

	s.endTimer = s.clk.AfterFunc(s.cfg.Duration, func() { s.finish(gen) })
	s.mu.Unlock()

	s.present(gen)
	return true
}

func (s *Session) present(gen uint64) {
	s.mu.Lock()
	if !s.running || gen != s.generation {
		s.mu.Unlock()
		return
	}

	letter, isTarget := s.draw()
	s.current = &stimulus{letter: letter, isTarget: isTarget, shownAt: s.clk.Now()}
	s.active = true

	cur := s.current
	s.expiry = s.clk.AfterFunc(s.cfg.StimulusDuration, func() { s.expire(gen, cur) })
	s.nextTimer = s.clk.AfterFunc(s.cfg.StimulusInterval, func() { s.present(gen) })
	hook := s.onStimulus
	s.mu.Unlock()

	if hook != nil {
		hook(letter, isTarget)
	}
}

// draw picks the next stimulus. Independent draws; consecutive identical
// letters are possible.
func (s *Session) draw() (byte, bool) {
	if s.randFloat() < s.cfg.TargetProbability {
		return s.cfg.Target, true
	}
	others := make([]byte, 0, len(s.cfg.Alphabet)-1)
	for i := 0; i < len(s.cfg.Alphabet); i++ {
		if s.cfg.Alphabet[i] != s.cfg.Target {
			others = append(others, s.cfg.Alphabet[i])
		}
	}
	return others[s.randIntn(len(others))], false
}

func (s *Session) randFloat() float64 {
	if s.cfg.Rand != nil {
		return s.cfg.Rand.Float64()
	}
	return rand.Float64()
}

func (s *Session) randIntn(n int) int {
	if s.cfg.Rand != nil {
		return s.cfg.Rand.Intn(n)
	}
	return rand.Intn(n)
}

// expire ends a stimulus's display window. A target that saw no response is
// counted as exactly one omission here.
func (s *Session) expire(gen uint64, cur *stimulus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation || cur == nil || cur.resolved {
		return
	}
	if s.current == cur {
		s.active = false
	}
	cur.resolved = true
	if cur.isTarget && !cur.responded {
		s.omission++
		b := s.bucketFor(s.clk.Now())
		b.OmissionErrors++
	}
}

// Respond classifies a user action against the most recently displayed
// stimulus. Correct requires the target to still be within its display
// window; everything else is a commission error. Ignored when the session is
// not running.
func (s *Session) Respond(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	if s.current == nil {
		// A response with no stimulus shown yet is a commission, the same
		// classification the offline scorer applies.
		s.commission++
		s.bucketFor(at).CommissionErrors++
		return
	}

	cur := s.current
	latency := at.Sub(cur.shownAt)
	b := s.bucketFor(at)
	b.LatenciesMs = append(b.LatenciesMs, latency.Milliseconds())

	if s.active && cur.isTarget && !cur.responded && latency <= s.cfg.StimulusDuration {
		cur.responded = true
		cur.resolved = true
		s.correct++
		s.latencies = append(s.latencies, latency)
		b.CorrectResponses++
		return
	}

	// Non-target, expired display, or repeat click
	s.commission++
	b.CommissionErrors++
}

func (s *Session) bucketFor(at time.Time) *models.PeriodBucket {
	elapsed := at.Sub(s.startedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	start := (elapsed / s.cfg.BucketWidth) * s.cfg.BucketWidth
	key := start.Milliseconds()
	b, ok := s.buckets[key]
	if !ok {
		b = &models.PeriodBucket{StartMs: key}
		s.buckets[key] = b
	}
	return b
}

func (s *Session) finish(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || gen != s.generation {
		return
	}
	s.running = false
	if s.nextTimer != nil {
		s.nextTimer.Stop()
	}
	if s.expiry != nil {
		s.expiry.Stop()
	}

	// A target still on display with no response is a missed target.
	if cur := s.current; cur != nil && !cur.resolved {
		cur.resolved = true
		if cur.isTarget && !cur.responded {
			s.omission++
			s.bucketFor(s.clk.Now()).OmissionErrors++
		}
	}
	s.generation++
}

// Summary reports the session totals and period table.
func (s *Session) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return summarize(s.correct, s.omission, s.commission, s.latencies, s.buckets)
}
