package events

import (
	"context"
	"sync"

	id "veriqan/pkg/domain"
)

// Recorder collects published events in memory. Tests use it to assert
// ordering and correlation without a broker.
type Recorder struct {
	mu     sync.RWMutex
	events []Event
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Publish(_ context.Context, event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

// All returns every recorded event in publish order.
func (r *Recorder) All() []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Event{}, r.events...)
}

// ByCorrelation returns the events for one correlation ID in publish order.
func (r *Recorder) ByCorrelation(correlationID id.CorrelationID) []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Event
	for _, e := range r.events {
		if e.Common().CorrelationID == correlationID {
			out = append(out, e)
		}
	}
	return out
}

// Kinds returns the ordered kinds for one correlation ID; a convenience for
// order/stop assertions.
func (r *Recorder) Kinds(correlationID id.CorrelationID) []Kind {
	var kinds []Kind
	for _, e := range r.ByCorrelation(correlationID) {
		kinds = append(kinds, e.Kind())
	}
	return kinds
}
