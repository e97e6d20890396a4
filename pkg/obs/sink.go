package obs

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Sink is the observability extension point every pipeline component calls.
// The concrete backend stays behind this interface; components never depend
// on a metrics or tracing library directly.
type Sink interface {
	RecordEvent(name string, tags map[string]string)
	StartTimer(name string) TimerHandle
	StopTimer(h TimerHandle, tags map[string]string)
	RecordSpan(ctx context.Context, name string, attrs map[string]string, fn func(context.Context) error) error
}

// TimerHandle identifies an in-flight timer returned by StartTimer.
type TimerHandle struct {
	name  string
	start time.Time
}

// LogSink records counters and timer aggregates in memory and emits spans as
// structured log lines. It is safe for concurrent use.
type LogSink struct {
	log *zap.Logger

	mu       sync.Mutex
	counters map[string]int64
	timings  map[string]timerStats
}

type timerStats struct {
	Count int64
	Total time.Duration
	Max   time.Duration
}

// NewLogSink creates a sink backed by the given logger.
func NewLogSink(log *zap.Logger) *LogSink {
	return &LogSink{
		log:      log,
		counters: make(map[string]int64),
		timings:  make(map[string]timerStats),
	}
}

// RecordEvent increments the counter for name, qualified by tags.
func (s *LogSink) RecordEvent(name string, tags map[string]string) {
	key := metricKey(name, tags)
	s.mu.Lock()
	s.counters[key]++
	s.mu.Unlock()
}

// StartTimer begins timing the named operation.
func (s *LogSink) StartTimer(name string) TimerHandle {
	return TimerHandle{name: name, start: time.Now()}
}

// StopTimer records the elapsed time for a handle returned by StartTimer.
func (s *LogSink) StopTimer(h TimerHandle, tags map[string]string) {
	if h.name == "" {
		return
	}
	elapsed := time.Since(h.start)
	key := metricKey(h.name, tags)

	s.mu.Lock()
	st := s.timings[key]
	st.Count++
	st.Total += elapsed
	if elapsed > st.Max {
		st.Max = elapsed
	}
	s.timings[key] = st
	s.mu.Unlock()
}

// RecordSpan runs fn inside a logical span, logging its outcome and duration.
// The error from fn is returned unchanged.
func (s *LogSink) RecordSpan(ctx context.Context, name string, attrs map[string]string, fn func(context.Context) error) error {
	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start)

	fields := make([]zap.Field, 0, len(attrs)+3)
	fields = append(fields, zap.String("span", name), zap.Duration("elapsed", elapsed))
	for k, v := range attrs {
		fields = append(fields, zap.String(k, v))
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
		s.log.Warn("span failed", fields...)
	} else {
		s.log.Debug("span completed", fields...)
	}

	s.RecordEvent("span."+name, map[string]string{"outcome": outcome(err)})
	return err
}

// Snapshot returns a copy of all counters, keyed by metric name plus tags.
func (s *LogSink) Snapshot() map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int64, len(s.counters))
	for k, v := range s.counters {
		out[k] = v
	}
	return out
}

// Flush logs the final counter values. Called once at shutdown.
func (s *LogSink) Flush() {
	for k, v := range s.Snapshot() {
		s.log.Info("metric", zap.String("name", k), zap.Int64("count", v))
	}
}

func metricKey(name string, tags map[string]string) string {
	if len(tags) == 0 {
		return name
	}
	parts := make([]string, 0, len(tags))
	for k, v := range tags {
		parts = append(parts, k+"="+v)
	}
	sort.Strings(parts)
	return name + "{" + strings.Join(parts, ",") + "}"
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Nop is a Sink that discards everything. Useful in tests.
type Nop struct{}

func (Nop) RecordEvent(string, map[string]string)       {}
func (Nop) StartTimer(string) TimerHandle               { return TimerHandle{} }
func (Nop) StopTimer(TimerHandle, map[string]string)    {}
func (Nop) RecordSpan(ctx context.Context, _ string, _ map[string]string, fn func(context.Context) error) error {
	return fn(ctx)
}
