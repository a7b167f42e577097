package monitor

import (
	"time"

	"github.com/dmitrymomot/jobkit/pkg/queue"
)

// sample is one terminal or stall event kept in the performance window.
type sample struct {
	at         time.Time
	transition queue.Transition
	duration   time.Duration
}

// window keeps recent samples per queue, pruned by age and capped in size.
// It is not safe for concurrent use; Monitor guards it.
type window struct {
	span    time.Duration
	limit   int
	samples map[string][]sample
}

func newWindow(span time.Duration, limit int) *window {
	return &window{
		span:    span,
		limit:   limit,
		samples: make(map[string][]sample),
	}
}

// tracked reports whether a transition feeds the performance window.
func tracked(t queue.Transition) bool {
	switch t {
	case queue.TransitionCompleted, queue.TransitionFailed, queue.TransitionRetrying, queue.TransitionStalled:
		return true
	}
	return false
}

func (w *window) add(ev queue.Event) {
	if !tracked(ev.Transition) {
		return
	}
	s := append(w.samples[ev.Queue], sample{at: ev.At, transition: ev.Transition, duration: ev.Duration})
	if over := len(s) - w.limit; over > 0 {
		s = append(s[:0], s[over:]...)
	}
	w.samples[ev.Queue] = s
}

// prune drops samples older than the window span.
func (w *window) prune(now time.Time) {
	cutoff := now.Add(-w.span)
	for name, s := range w.samples {
		i := 0
		for i < len(s) && s[i].at.Before(cutoff) {
			i++
		}
		if i == len(s) {
			delete(w.samples, name)
			continue
		}
		if i > 0 {
			w.samples[name] = append(s[:0], s[i:]...)
		}
	}
}

// performance aggregates the samples of one queue. elapsed is the span the
// samples could have been collected over and drives the throughput figure.
func (w *window) performance(name string, elapsed time.Duration) Performance {
	p := Performance{Queue: name, Window: w.span, SuccessRate: 100}

	var total time.Duration
	var timed int64
	for _, s := range w.samples[name] {
		switch s.transition {
		case queue.TransitionCompleted:
			p.Completed++
		case queue.TransitionFailed:
			p.Failed++
		case queue.TransitionRetrying:
			p.Retried++
		case queue.TransitionStalled:
			p.Stalled++
			continue
		}
		if s.duration > 0 {
			total += s.duration
			timed++
		}
	}

	if timed > 0 {
		p.AvgProcessingTime = total / time.Duration(timed)
	}
	// Retries are executions that failed, so they count against the rate.
	if executions := p.Completed + p.Failed + p.Retried; executions > 0 {
		p.SuccessRate = float64(p.Completed) / float64(executions) * 100
	}
	if minutes := elapsed.Minutes(); minutes > 0 {
		p.ThroughputPerMinute = float64(p.Completed) / minutes
	}
	return p
}

func (w *window) stalled(name string) int64 {
	var n int64
	for _, s := range w.samples[name] {
		if s.transition == queue.TransitionStalled {
			n++
		}
	}
	return n
}
