// Package metrics records backend call outcomes without ever blocking the
// caller. Records are buffered on a channel, stored by a single worker with
// bounded retention and mirrored to OpenTelemetry instruments. Aggregates are
// computed when queried.
package metrics

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/agentexchange/core"
	"github.com/hupe1980/agentexchange/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/hupe1980/agentexchange/metrics"

// Options configures a Recorder.
type Options struct {
	// BufferSize is the capacity of the record channel. Records arriving while
	// it is full are dropped and counted.
	BufferSize int
	// Retention caps how many records are kept for querying; oldest go first.
	Retention int
	// Meter receives mirrored instruments. Defaults to the global provider.
	Meter  metric.Meter
	Logger logging.Logger
}

// Filter selects records for Query and Stats. Zero fields match everything.
type Filter struct {
	AgentID   string
	SessionID string
	// Limit caps the number of newest matching records considered.
	Limit int
}

// Stats is an aggregate over the records selected by a Filter.
type Stats struct {
	Count          int     `json:"count"`
	Successes      int     `json:"successes"`
	Failures       int     `json:"failures"`
	SuccessRate    float64 `json:"success_rate"`
	MeanDurationMs float64 `json:"mean_duration_ms"`
}

type item struct {
	rec  core.MetricRecord
	sync chan struct{}
}

// Recorder implements core.MetricsRecorder.
type Recorder struct {
	ch        chan item
	done      chan struct{}
	retention int
	logger    logging.Logger

	mu      sync.RWMutex
	records []core.MetricRecord

	closeMu sync.RWMutex
	closed  bool
	dropped atomic.Int64

	calls    metric.Int64Counter
	failures metric.Int64Counter
	duration metric.Float64Histogram
}

// NewRecorder starts a Recorder and its worker goroutine. Call Close to stop it.
func NewRecorder(optFns ...func(o *Options)) (*Recorder, error) {
	opts := Options{BufferSize: 1024, Retention: 10000, Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = 1
	}
	if opts.Meter == nil {
		opts.Meter = otel.Meter(instrumentationName)
	}

	r := &Recorder{
		ch:        make(chan item, opts.BufferSize),
		done:      make(chan struct{}),
		retention: opts.Retention,
		logger:    opts.Logger,
	}

	var err error
	if r.calls, err = opts.Meter.Int64Counter("agentexchange.backend.calls",
		metric.WithDescription("Backend send calls")); err != nil {
		return nil, err
	}
	if r.failures, err = opts.Meter.Int64Counter("agentexchange.backend.failures",
		metric.WithDescription("Failed backend send calls")); err != nil {
		return nil, err
	}
	if r.duration, err = opts.Meter.Float64Histogram("agentexchange.backend.duration",
		metric.WithDescription("Backend send duration"), metric.WithUnit("ms")); err != nil {
		return nil, err
	}

	go r.run()
	return r, nil
}

// Record enqueues rec. It never blocks: when the buffer is full or the
// recorder is closed the record is dropped and counted.
func (r *Recorder) Record(rec core.MetricRecord) {
	r.closeMu.RLock()
	defer r.closeMu.RUnlock()
	if r.closed {
		r.dropped.Add(1)
		return
	}
	select {
	case r.ch <- item{rec: rec}:
	default:
		r.dropped.Add(1)
	}
}

// Sync blocks until every record enqueued before the call has been stored.
func (r *Recorder) Sync(ctx context.Context) error {
	ack := make(chan struct{})
	r.closeMu.RLock()
	if r.closed {
		r.closeMu.RUnlock()
		return nil
	}
	select {
	case r.ch <- item{sync: ack}:
	case <-ctx.Done():
		r.closeMu.RUnlock()
		return ctx.Err()
	}
	r.closeMu.RUnlock()

	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dropped returns how many records were discarded.
func (r *Recorder) Dropped() int64 { return r.dropped.Load() }

// Query returns matching records, newest first.
func (r *Recorder) Query(f Filter) []core.MetricRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []core.MetricRecord{}
	for i := len(r.records) - 1; i >= 0; i-- {
		rec := r.records[i]
		if f.AgentID != "" && rec.AgentID != f.AgentID {
			continue
		}
		if f.SessionID != "" && rec.SessionID != f.SessionID {
			continue
		}
		out = append(out, rec)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out
}

// Stats aggregates the records Query would return for f.
func (r *Recorder) Stats(f Filter) Stats {
	return Aggregate(r.Query(f))
}

// Aggregate computes Stats over records.
func Aggregate(records []core.MetricRecord) Stats {
	var s Stats
	var total int64
	for _, rec := range records {
		s.Count++
		if rec.Success {
			s.Successes++
		} else {
			s.Failures++
		}
		total += rec.DurationMs
	}
	if s.Count > 0 {
		s.SuccessRate = float64(s.Successes) / float64(s.Count)
		s.MeanDurationMs = float64(total) / float64(s.Count)
	}
	return s
}

// Close stops accepting records, drains the buffer and waits for the worker.
// It is safe to call more than once.
func (r *Recorder) Close() error {
	r.closeMu.Lock()
	if r.closed {
		r.closeMu.Unlock()
		<-r.done
		return nil
	}
	r.closed = true
	close(r.ch)
	r.closeMu.Unlock()

	<-r.done
	if n := r.Dropped(); n > 0 {
		r.logger.Warn("metric records dropped", "count", n)
	}
	return nil
}

func (r *Recorder) run() {
	defer close(r.done)
	for it := range r.ch {
		if it.sync != nil {
			close(it.sync)
			continue
		}
		r.store(it.rec)
		r.mirror(it.rec)
	}
}

func (r *Recorder) store(rec core.MetricRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	if r.retention > 0 && len(r.records) > r.retention {
		n := len(r.records) - r.retention
		r.records = append(r.records[:0:0], r.records[n:]...)
	}
}

func (r *Recorder) mirror(rec core.MetricRecord) {
	ctx := context.Background()
	attrs := metric.WithAttributes(
		attribute.String("agent_id", rec.AgentID),
		attribute.Bool("success", rec.Success),
	)
	r.calls.Add(ctx, 1, attrs)
	r.duration.Record(ctx, float64(rec.DurationMs), attrs)
	if !rec.Success {
		r.failures.Add(ctx, 1, metric.WithAttributes(
			attribute.String("agent_id", rec.AgentID),
			attribute.String("error_kind", rec.ErrorKind),
		))
	}
}
