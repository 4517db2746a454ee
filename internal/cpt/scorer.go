package cpt

import (
	"sort"
	"time"

	"github.com/BluceCao2018/funbenchmark.com/pkg/models"
)

// StimulusEvent is one presented stimulus in a submitted event log.
// Timestamps are milliseconds from session start.
type StimulusEvent struct {
	AtMs     int64  `json:"timestamp"`
	Letter   string `json:"letter"`
	IsTarget bool   `json:"isTarget"`
}

// ResponseEvent is one user action in a submitted event log.
type ResponseEvent struct {
	AtMs int64 `json:"timestamp"`
}

// Score replays a submitted event log through the same classification rules
// the live session applies, so clients can have their raw logs scored
// server-side. Events need not be sorted.
func Score(stimuli []StimulusEvent, responses []ResponseEvent, cfg Config) Summary {
	if cfg.StimulusDuration == 0 {
		cfg = DefaultConfig()
	}

	st := make([]StimulusEvent, len(stimuli))
	copy(st, stimuli)
	sort.Slice(st, func(i, j int) bool { return st[i].AtMs < st[j].AtMs })
	rs := make([]ResponseEvent, len(responses))
	copy(rs, responses)
	sort.Slice(rs, func(i, j int) bool { return rs[i].AtMs < rs[j].AtMs })

	displayMs := cfg.StimulusDuration.Milliseconds()
	bucketMs := cfg.BucketWidth.Milliseconds()

	var correct, commission, omission int
	var latencies []time.Duration
	buckets := make(map[int64]*models.PeriodBucket)
	bucketFor := func(atMs int64) *models.PeriodBucket {
		if atMs < 0 {
			atMs = 0
		}
		key := (atMs / bucketMs) * bucketMs
		b, ok := buckets[key]
		if !ok {
			b = &models.PeriodBucket{StartMs: key}
			buckets[key] = b
		}
		return b
	}

	answered := make([]bool, len(st))
	for _, r := range rs {
		// Most recently shown stimulus at response time, displayed or not.
		idx := sort.Search(len(st), func(i int) bool { return st[i].AtMs > r.AtMs }) - 1
		b := bucketFor(r.AtMs)
		if idx < 0 {
			commission++
			b.CommissionErrors++
			continue
		}
		latencyMs := r.AtMs - st[idx].AtMs
		b.LatenciesMs = append(b.LatenciesMs, latencyMs)
		if st[idx].IsTarget && !answered[idx] && latencyMs <= displayMs {
			answered[idx] = true
			correct++
			latencies = append(latencies, time.Duration(latencyMs)*time.Millisecond)
			b.CorrectResponses++
			continue
		}
		commission++
		b.CommissionErrors++
	}

	for i, ev := range st {
		if ev.IsTarget && !answered[i] {
			omission++
			bucketFor(ev.AtMs + displayMs).OmissionErrors++
		}
	}

	return summarize(correct, omission, commission, latencies, buckets)
}

func summarize(correct, omission, commission int, latencies []time.Duration, buckets map[int64]*models.PeriodBucket) Summary {
	out := Summary{
		CorrectResponses: correct,
		OmissionErrors:   omission,
		CommissionErrors: commission,
		TotalTrials:      correct + commission + omission,
	}
	if len(latencies) > 0 {
		var total time.Duration
		for _, l := range latencies {
			total += l
		}
		out.AverageLatencyMs = float64(total.Milliseconds()) / float64(len(latencies))
	}
	if out.TotalTrials > 0 {
		out.Accuracy = float64(correct) / float64(out.TotalTrials)
	}

	keys := make([]int64, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	out.Periods = make([]models.PeriodBucket, 0, len(keys))
	for _, k := range keys {
		out.Periods = append(out.Periods, *buckets[k])
	}
	return out
}
