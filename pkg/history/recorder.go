// Copyright 2025 The Harrow Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

package history

import (
	"encoding/json"
	"io"
	"time"

	"github.com/codahale/hdrhistogram"
	"github.com/google/uuid"
	"github.com/harrowdb/harrow/pkg/util/syncutil"
	"github.com/harrowdb/harrow/pkg/util/timeutil"
)

// EventType is the kind of a history event.
type EventType string

// The event types. Invoke marks the start of an attempt; exactly one of the
// other three completes it.
const (
	EventInvoke EventType = "invoke"
	EventOK     EventType = "ok"
	EventFail   EventType = "fail"
	EventInfo   EventType = "info"
)

// ForOutcome maps an outcome type to its completion event type.
func ForOutcome(t OutcomeType) EventType {
	switch t {
	case OutcomeOK:
		return EventOK
	case OutcomeFail:
		return EventFail
	default:
		return EventInfo
	}
}

// Event is one entry of the recorded history.
type Event struct {
	Index  int64     `json:"index"`
	Worker int       `json:"process"`
	Type   EventType `json:"type"`
	Op     Op        `json:"op"`
	Err    ErrTag    `json:"error,omitempty"`
	Wall   time.Time `json:"time"`
}

const (
	histMinLatency = 100 * time.Microsecond
	histMaxLatency = 100 * time.Second
	histSigFigs    = 1
)

// Recorder accumulates the ordered operation history of a run. It is safe
// for concurrent use by all workers; the index order of events is the order
// the recorder observed them in.
type Recorder struct {
	RunID uuid.UUID

	mu struct {
		syncutil.RWMutex
		events    []Event
		invokedAt map[int64]time.Time
		latency   map[OpTag]*hdrhistogram.Histogram
	}
}

// NewRecorder returns an empty Recorder with a fresh run ID.
func NewRecorder() *Recorder {
	r := &Recorder{RunID: uuid.New()}
	r.mu.invokedAt = make(map[int64]time.Time)
	r.mu.latency = make(map[OpTag]*hdrhistogram.Histogram)
	return r
}

// Invoke records the invocation of op by worker and returns the event index
// identifying the attempt.
func (r *Recorder) Invoke(worker int, op Op) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := int64(len(r.mu.events))
	now := timeutil.Now()
	r.mu.events = append(r.mu.events, Event{
		Index:  idx,
		Worker: worker,
		Type:   EventInvoke,
		Op:     op,
		Wall:   now,
	})
	r.mu.invokedAt[idx] = now
	return idx
}

// Complete records the completion of the attempt started at invokeIdx. The
// op carries the completed micro-ops; the outcome decides the event type.
func (r *Recorder) Complete(worker int, invokeIdx int64, op Op, oc Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := timeutil.Now()
	r.mu.events = append(r.mu.events, Event{
		Index:  int64(len(r.mu.events)),
		Worker: worker,
		Type:   ForOutcome(oc.Type),
		Op:     op,
		Err:    oc.Err,
		Wall:   now,
	})
	if start, ok := r.mu.invokedAt[invokeIdx]; ok {
		delete(r.mu.invokedAt, invokeIdx)
		r.recordLatencyLocked(op.Tag, now.Sub(start))
	}
}

func (r *Recorder) recordLatencyLocked(tag OpTag, elapsed time.Duration) {
	h, ok := r.mu.latency[tag]
	if !ok {
		h = hdrhistogram.New(
			histMinLatency.Nanoseconds(), histMaxLatency.Nanoseconds(), histSigFigs)
		r.mu.latency[tag] = h
	}
	if elapsed < histMinLatency {
		elapsed = histMinLatency
	} else if elapsed > histMaxLatency {
		elapsed = histMaxLatency
	}
	_ = h.RecordValue(elapsed.Nanoseconds())
}

// Events returns a snapshot of the recorded history.
func (r *Recorder) Events() []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Event, len(r.mu.events))
	copy(out, r.mu.events)
	return out
}

// LatencySummary describes the latency distribution of one op tag.
type LatencySummary struct {
	Tag   OpTag         `json:"tag"`
	Count int64         `json:"count"`
	P50   time.Duration `json:"p50"`
	P99   time.Duration `json:"p99"`
	Max   time.Duration `json:"max"`
}

// Latencies returns per-tag latency summaries for completed operations.
func (r *Recorder) Latencies() []LatencySummary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []LatencySummary
	for tag, h := range r.mu.latency {
		out = append(out, LatencySummary{
			Tag:   tag,
			Count: h.TotalCount(),
			P50:   time.Duration(h.ValueAtQuantile(50)),
			P99:   time.Duration(h.ValueAtQuantile(99)),
			Max:   time.Duration(h.Max()),
		})
	}
	return out
}

// WriteJSON writes the complete history, one JSON event per line, for the
// downstream analyzer.
func (r *Recorder) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	for _, ev := range r.Events() {
		if err := enc.Encode(ev); err != nil {
			return err
		}
	}
	return nil
}
