// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package syncbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// recorder collects delivered events for assertions.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) handle(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event{}, r.events...)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// =============================================================================
// CHANNEL FAN-OUT
// =============================================================================

func TestBroadcastReachesPeersButNotOrigin(t *testing.T) {
	broker := NewBroker()
	sender := New(nil)
	receiverA := New(nil)
	receiverB := New(nil)
	broker.Join(sender)
	broker.Join(receiverA)
	broker.Join(receiverB)

	var senderRec, recA, recB recorder
	sender.SubscribeAll(senderRec.handle)
	receiverA.SubscribeAll(recA.handle)
	receiverB.SubscribeAll(recB.handle)

	sender.Broadcast(context.Background(), EventChatCreated, map[string]any{"chatId": "chat_1"})

	require.Equal(t, 0, senderRec.count(), "origin must never see its own event")
	require.Equal(t, 1, recA.count())
	require.Equal(t, 1, recB.count())

	got := recA.snapshot()[0]
	require.Equal(t, EventChatCreated, got.Type)
	require.Equal(t, "chat_1", got.Data["chatId"])
	require.Equal(t, sender.OriginID(), got.OriginID)
	require.NotZero(t, got.Timestamp)
}

func TestSubscribeFiltersByType(t *testing.T) {
	broker := NewBroker()
	sender := New(nil)
	receiver := New(nil)
	broker.Join(sender)
	broker.Join(receiver)

	var created, deleted recorder
	receiver.Subscribe(EventChatCreated, created.handle)
	receiver.Subscribe(EventChatDeleted, deleted.handle)

	ctx := context.Background()
	sender.Broadcast(ctx, EventChatCreated, nil)
	sender.Broadcast(ctx, EventChatUpdated, nil)
	sender.Broadcast(ctx, EventChatDeleted, nil)

	require.Equal(t, 1, created.count())
	require.Equal(t, 1, deleted.count())
}

// =============================================================================
// DEDUPLICATION
// =============================================================================

func TestDeliverDropsDuplicates(t *testing.T) {
	bus := New(nil)
	var rec recorder
	bus.SubscribeAll(rec.handle)

	ev := Event{
		Type:      EventMessageAdded,
		Timestamp: time.Now().UnixMilli(),
		Seq:       1,
		OriginID:  "peer-1",
	}
	bus.Deliver(ev)
	bus.Deliver(ev)
	bus.Deliver(ev)

	require.Equal(t, 1, rec.count(), "repeats of one envelope dispatch once")
}

func TestDeliverKeepsDistinctSeqInSameMillisecond(t *testing.T) {
	bus := New(nil)
	var rec recorder
	bus.SubscribeAll(rec.handle)

	now := time.Now().UnixMilli()
	bus.Deliver(Event{Type: EventChatUpdated, Timestamp: now, Seq: 1, OriginID: "peer-1"})
	bus.Deliver(Event{Type: EventChatUpdated, Timestamp: now, Seq: 2, OriginID: "peer-1"})

	require.Equal(t, 2, rec.count(), "seq must break same-millisecond ties")
}

func TestDedupWindowSlides(t *testing.T) {
	w := newDedupWindow()

	require.False(t, w.Observe("first"))
	require.True(t, w.Observe("first"))

	// Push the first key out of the window.
	for i := 0; i < dedupWindowSize; i++ {
		require.False(t, w.Observe(string(rune('a'+i%26))+string(rune('0'+i/26))))
	}
	require.False(t, w.Observe("first"), "evicted keys are forgotten")
}

// =============================================================================
// TRANSPORT PREFERENCE
// =============================================================================

type countingTransport struct {
	mu        sync.Mutex
	name      string
	published int
}

func (c *countingTransport) Name() string { return c.name }

func (c *countingTransport) Publish(context.Context, Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published++
	return nil
}

func (c *countingTransport) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.published
}

func TestFallbackOnlyUsedWithoutPreferredTransports(t *testing.T) {
	ctx := context.Background()

	// No preferred transport attached: fallback carries the event.
	lonely := New(nil)
	fallback := &countingTransport{name: "fallback"}
	lonely.AttachFallback(fallback)
	lonely.Broadcast(ctx, EventChatCreated, nil)
	require.Equal(t, 1, fallback.count())

	// Preferred transport attached: fallback stays idle.
	connected := New(nil)
	primary := &countingTransport{name: "primary"}
	idle := &countingTransport{name: "fallback"}
	connected.Attach(primary)
	connected.AttachFallback(idle)
	connected.Broadcast(ctx, EventChatCreated, nil)
	require.Equal(t, 1, primary.count())
	require.Equal(t, 0, idle.count())
}

func TestBroadcastPostsToAllPreferredTransports(t *testing.T) {
	bus := New(nil)
	first := &countingTransport{name: "first"}
	second := &countingTransport{name: "second"}
	bus.Attach(first)
	bus.Attach(second)

	bus.Broadcast(context.Background(), EventProviderUpdated, nil)

	require.Equal(t, 1, first.count())
	require.Equal(t, 1, second.count())
}

func TestBroadcastWithNoTransportsIsHarmless(t *testing.T) {
	bus := New(nil)
	bus.Broadcast(context.Background(), EventChatDeleted, map[string]any{"chatId": "chat_x"})
}
