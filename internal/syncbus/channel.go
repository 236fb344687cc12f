// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package syncbus

import (
	"context"
	"sync"
)

// =============================================================================
// CHANNEL TRANSPORT
// =============================================================================

// Broker is the in-process pub/sub hub. Every bus that joins the broker
// receives the envelopes every other member publishes. It is the cheapest
// transport and is always available once constructed.
type Broker struct {
	mu      sync.RWMutex
	members map[*channelTransport]struct{}
	closed  bool
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{members: make(map[*channelTransport]struct{})}
}

// Join attaches the bus to the broker and returns the transport so the
// caller can detach it later. The transport is registered on the bus as a
// preferred transport.
func (br *Broker) Join(bus *Bus) Transport {
	t := &channelTransport{broker: br, bus: bus}

	br.mu.Lock()
	if !br.closed {
		br.members[t] = struct{}{}
	}
	br.mu.Unlock()

	bus.Attach(t)
	return t
}

// Close detaches every member. Subsequent publishes reach nobody.
func (br *Broker) Close() {
	br.mu.Lock()
	br.closed = true
	br.members = make(map[*channelTransport]struct{})
	br.mu.Unlock()
}

// broadcast hands the envelope to every member other than the sender.
func (br *Broker) broadcast(from *channelTransport, ev Event) {
	br.mu.RLock()
	targets := make([]*channelTransport, 0, len(br.members))
	for m := range br.members {
		if m != from {
			targets = append(targets, m)
		}
	}
	br.mu.RUnlock()

	for _, m := range targets {
		m.bus.Deliver(ev)
	}
}

// channelTransport binds one bus to a broker.
type channelTransport struct {
	broker *Broker
	bus    *Bus
}

func (t *channelTransport) Name() string { return "channel" }

func (t *channelTransport) Publish(_ context.Context, ev Event) error {
	t.broker.broadcast(t, ev)
	return nil
}

func (t *channelTransport) Close() error {
	t.broker.mu.Lock()
	delete(t.broker.members, t)
	t.broker.mu.Unlock()
	return nil
}
