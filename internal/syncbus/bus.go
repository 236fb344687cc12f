// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package syncbus

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// TRANSPORT INTERFACE
// =============================================================================

// Transport carries event envelopes to peers. Implementations call
// Bus.Deliver for every envelope they receive.
type Transport interface {
	// Name identifies the transport in log output.
	Name() string

	// Publish posts one envelope. Errors are reported for logging only;
	// the bus never fails a broadcast because a transport did.
	Publish(ctx context.Context, ev Event) error
}

// =============================================================================
// BUS
// =============================================================================

// Handler receives inbound events. Handlers must be idempotent and must
// re-read affected entities from storage; the payload carries ids, not state.
type Handler func(Event)

// Bus stamps outbound events with this process's origin id and a monotonic
// sequence, fans them out across the attached transports, and dispatches
// deduplicated inbound events to subscribers.
type Bus struct {
	originID string
	logger   *slog.Logger
	seq      atomic.Uint64

	mu         sync.Mutex
	dedup      *dedupWindow
	handlers   map[EventType][]Handler
	allHandler []Handler
	transports []Transport
	fallback   Transport
}

// New creates a bus with a fresh origin id and no transports attached.
// Local operation keeps working with nothing attached; events simply do
// not leave the process.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		originID: uuid.NewString(),
		logger:   logger,
		dedup:    newDedupWindow(),
		handlers: make(map[EventType][]Handler),
	}
}

// OriginID returns the process-unique identifier stamped on outbound events.
func (b *Bus) OriginID() string {
	return b.originID
}

// Attach registers a preferred transport. Broadcast posts to every attached
// transport in parallel.
func (b *Bus) Attach(t Transport) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transports = append(b.transports, t)
}

// AttachFallback registers the transport of last resort, used only when no
// preferred transport is attached.
func (b *Bus) AttachFallback(t Transport) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fallback = t
}

// Subscribe registers a handler for one event type.
func (b *Bus) Subscribe(t EventType, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[t] = append(b.handlers[t], h)
}

// SubscribeAll registers a handler for every event type.
func (b *Bus) SubscribeAll(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.allHandler = append(b.allHandler, h)
}

// =============================================================================
// PUBLISH PATH
// =============================================================================

// Broadcast stamps and posts one event. It blocks until every transport has
// accepted or refused the envelope but never reports failure to the caller;
// transport errors are logged and the local mutation stands.
func (b *Bus) Broadcast(ctx context.Context, eventType EventType, data map[string]any) {
	ev := Event{
		Type:      eventType,
		Data:      data,
		Timestamp: nowMillis(),
		Seq:       b.seq.Add(1),
		OriginID:  b.originID,
	}

	b.mu.Lock()
	transports := make([]Transport, len(b.transports))
	copy(transports, b.transports)
	fallback := b.fallback
	b.mu.Unlock()

	if len(transports) == 0 {
		if fallback == nil {
			return
		}
		if err := fallback.Publish(ctx, ev); err != nil {
			b.logger.Warn("sync publish failed",
				"transport", fallback.Name(), "type", ev.Type, "error", err)
		}
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, t := range transports {
		t := t
		g.Go(func() error {
			if err := t.Publish(gctx, ev); err != nil {
				b.logger.Warn("sync publish failed",
					"transport", t.Name(), "type", ev.Type, "error", err)
			}
			return nil
		})
	}
	g.Wait()
}

// =============================================================================
// RECEIVE PATH
// =============================================================================

// Deliver routes one inbound envelope: echoes from this process are dropped,
// repeats within the dedup window are dropped, everything else is dispatched.
func (b *Bus) Deliver(ev Event) {
	if ev.OriginID == b.originID {
		return
	}

	b.mu.Lock()
	if b.dedup.Observe(ev.Key()) {
		b.mu.Unlock()
		return
	}
	handlers := make([]Handler, 0, len(b.handlers[ev.Type])+len(b.allHandler))
	handlers = append(handlers, b.handlers[ev.Type]...)
	handlers = append(handlers, b.allHandler...)
	b.mu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
}

// Close shuts down every attached transport that holds resources.
func (b *Bus) Close() error {
	b.mu.Lock()
	transports := append([]Transport{}, b.transports...)
	if b.fallback != nil {
		transports = append(transports, b.fallback)
	}
	b.transports = nil
	b.fallback = nil
	b.mu.Unlock()

	var firstErr error
	for _, t := range transports {
		if closer, ok := t.(io.Closer); ok {
			if err := closer.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
