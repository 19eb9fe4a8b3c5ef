// Package progress keeps aggregated execution counters for a single
// workflow run. The tracker lives in the execution context so every
// component receiving the context can update counters without a global
// registry.
package progress

import (
	"context"
	"sync"
	"time"
)

// Delta is an incremental counter change. Fields are signed, so both
// increments and decrements are possible.
type Delta struct {
	StepsTotal     int
	StepsCompleted int
	StepsFailed    int
	StepsSkipped   int
	ItemsTotal     int
	ItemsCompleted int
	ItemsFailed    int
	ProviderCalls  int
	Retries        int
}

// Tracker keeps aggregated counters for a run and its nested sequences.
// Safe for concurrent use.
type Tracker struct {
	RunID     string
	Workflow  string
	StartedAt time.Time

	StepsTotal     int
	StepsCompleted int
	StepsFailed    int
	StepsSkipped   int
	ItemsTotal     int
	ItemsCompleted int
	ItemsFailed    int
	ProviderCalls  int
	Retries        int

	sync.Mutex
	onChange func(Tracker)
}

// Update applies the delta. The onChange callback, when registered, receives
// a snapshot outside the critical section.
func (t *Tracker) Update(d Delta) {
	if t == nil {
		return
	}
	t.Lock()
	t.StepsTotal += d.StepsTotal
	t.StepsCompleted += d.StepsCompleted
	t.StepsFailed += d.StepsFailed
	t.StepsSkipped += d.StepsSkipped
	t.ItemsTotal += d.ItemsTotal
	t.ItemsCompleted += d.ItemsCompleted
	t.ItemsFailed += d.ItemsFailed
	t.ProviderCalls += d.ProviderCalls
	t.Retries += d.Retries
	snapshot := *t
	cb := t.onChange
	t.Unlock()

	if cb != nil {
		cb(snapshot)
	}
}

// Snapshot returns a copy for read-only inspection.
func (t *Tracker) Snapshot() Tracker {
	if t == nil {
		return Tracker{}
	}
	t.Lock()
	defer t.Unlock()
	return *t
}

// OnChange registers a callback invoked after every Update; nil disables it.
func (t *Tracker) OnChange(cb func(Tracker)) {
	if t == nil {
		return
	}
	t.Lock()
	t.onChange = cb
	t.Unlock()
}

type trackerKeyT struct{}

var trackerKey trackerKeyT

// WithNewTracker embeds a fresh tracker in a derived context.
func WithNewTracker(ctx context.Context, runID, workflow string, onChange func(Tracker)) (context.Context, *Tracker) {
	if ctx == nil {
		ctx = context.Background()
	}
	tracker := &Tracker{
		RunID:     runID,
		Workflow:  workflow,
		StartedAt: time.Now(),
		onChange:  onChange,
	}
	return context.WithValue(ctx, trackerKey, tracker), tracker
}

// FromContext extracts the tracker from ctx.
func FromContext(ctx context.Context) (*Tracker, bool) {
	if ctx == nil {
		return nil, false
	}
	tracker, ok := ctx.Value(trackerKey).(*Tracker)
	return tracker, ok
}

// UpdateCtx applies the delta to the tracker carried by ctx, if any.
func UpdateCtx(ctx context.Context, d Delta) {
	if tracker, ok := FromContext(ctx); ok {
		tracker.Update(d)
	}
}
