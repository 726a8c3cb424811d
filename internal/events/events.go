// Package events is the publish/subscribe surface shared by the scheduler
// and the adaptive controller. It generalizes the teacher's trace.Sink /
// SafeRecord pattern into a registry of named event kinds, each with its own
// ordered list of handlers, delivered synchronously and in true emission
// order (unlike the teacher's trace package, which re-sorts events into a
// canonical order for content-hash determinism — a goal this bus does not
// share).
package events

import (
	"sync"

	"github.com/rs/zerolog"
)

// Kind names an event. The table in SPEC_FULL.md §6 enumerates the kinds
// this codebase emits, except queue-stalled, which §9 adds.
type Kind string

const (
	KindTaskStart          Kind = "task-start"
	KindTaskComplete       Kind = "task-complete"
	KindTaskError          Kind = "task-error"
	KindQueueComplete      Kind = "queue-complete"
	KindQueueStalled       Kind = "queue-stalled"
	KindPaused             Kind = "paused"
	KindResumed            Kind = "resumed"
	KindStopped            Kind = "stopped"
	KindReset              Kind = "reset"
	KindConcurrencyChanged Kind = "concurrency-changed"
	KindConcurrencyUpdate  Kind = "concurrency-update"
	KindMetrics            Kind = "metrics"
	KindError              Kind = "error"
)

// Handler receives one event's payload. The concrete type of payload is
// documented per Kind (see the payload structs in this package).
type Handler func(payload any)

// Bus is a synchronous, in-process, named-event pub/sub registry. The zero
// value is not usable; construct with New.
type Bus struct {
	mu     sync.Mutex
	subs   map[Kind][]Handler
	logger zerolog.Logger
}

// New returns an empty Bus. A zero zerolog.Logger (the default) discards
// everything, matching zerolog's own convention for an unconfigured logger.
func New(logger zerolog.Logger) *Bus {
	return &Bus{subs: make(map[Kind][]Handler), logger: logger}
}

// Subscribe registers h for kind and returns a function that removes it.
func (b *Bus) Subscribe(kind Kind, h Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.subs[kind] = append(b.subs[kind], h)
	idx := len(b.subs[kind]) - 1

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		handlers := b.subs[kind]
		if idx >= len(handlers) || handlers[idx] == nil {
			return
		}
		handlers[idx] = nil
	}
}

// Publish delivers payload to every handler currently subscribed to kind, in
// subscription order. A handler that panics is recovered and logged; it does
// not stop delivery to the remaining handlers and never propagates into the
// caller of Publish.
func (b *Bus) Publish(kind Kind, payload any) {
	b.mu.Lock()
	handlers := append([]Handler{}, b.subs[kind]...)
	b.mu.Unlock()

	for _, h := range handlers {
		if h == nil { // removed by Subscribe's unsubscribe closure
			continue
		}
		b.safeInvoke(kind, h, payload)
	}
}

func (b *Bus) safeInvoke(kind Kind, h Handler, payload any) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().
				Interface("panic", r).
				Str("event", string(kind)).
				Msg("event subscriber panicked; isolating")
		}
	}()
	h(payload)
}
