// Copyright 2026 The btcnode Authors
// This file is part of the btcnode library.
//
// The btcnode library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The btcnode library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the btcnode library. If not, see <http://www.gnu.org/licenses/>.

// Package eventbus broadcasts chase.Event values to subscribers in issuer
// order, one delivery goroutine per subscriber with a 256-event queue, so a
// slow subscriber does not delay the others until its queue is full; Notify
// then blocks on that subscriber. It plays the role the teacher's event.TypeMux plays for
// protocol-level broadcast: Subscribe by kind, Post (here Notify) to every
// matching subscriber, Unsubscribe to stop. SubscribeKeyed/NotifyOne add
// the targeted notify_one(key, kind, value) of spec.md §4.1, letting a
// caller address a single subscriber (e.g. one peer channel) instead of
// broadcasting to all.
package eventbus

import (
	"sync"

	"github.com/chainforge/btcnode/internal/chase"
)

// Handler is invoked once per matching event, in post order, never
// concurrently with another call for the same subscription. Returning false
// unsubscribes.
type Handler func(chase.Event) bool

// Bus is safe for concurrent Notify/Subscribe/Unsubscribe from any strand.
type Bus struct {
	mu        sync.Mutex
	nextID    uint64
	subs      map[uint64]*subscription
	stopped   bool
}

type subscription struct {
	id      uint64
	kinds   map[chase.Kind]bool // nil means "all kinds"
	keyed   bool
	key     uint64
	handler Handler
	queue   chan chase.Event
	done    chan struct{}
}

// New returns an empty, running Bus.
func New() *Bus {
	return &Bus{subs: make(map[uint64]*subscription)}
}

// Subscription is returned by Subscribe; call Unsubscribe to stop delivery.
type Subscription struct {
	bus *Bus
	id  uint64
}

// Unsubscribe stops further delivery to this subscription and waits for its
// delivery goroutine to drain.
func (s *Subscription) Unsubscribe() {
	s.bus.mu.Lock()
	sub, ok := s.bus.subs[s.id]
	if ok {
		delete(s.bus.subs, s.id)
	}
	s.bus.mu.Unlock()
	if ok {
		close(sub.queue)
		<-sub.done
	}
}

// Subscribe registers handler for the given kinds (all kinds if empty).
// Delivery to handler is single-threaded and in Notify order.
func (b *Bus) Subscribe(handler Handler, kinds ...chase.Kind) *Subscription {
	return b.subscribe(false, 0, handler, kinds)
}

// SubscribeKeyed registers handler for the given kinds, but only events
// delivered through NotifyOne with a matching key reach it: this is the
// subscription side of the targeted notify_one(key, kind, value) of §4.1,
// used by a peer channel to receive split/stall/purge addressed to it
// specifically rather than broadcast to every channel.
func (b *Bus) SubscribeKeyed(key uint64, handler Handler, kinds ...chase.Kind) *Subscription {
	return b.subscribe(true, key, handler, kinds)
}

func (b *Bus) subscribe(keyed bool, key uint64, handler Handler, kinds []chase.Kind) *Subscription {
	var set map[chase.Kind]bool
	if len(kinds) > 0 {
		set = make(map[chase.Kind]bool, len(kinds))
		for _, k := range kinds {
			set[k] = true
		}
	}

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	sub := &subscription{
		id:      id,
		kinds:   set,
		keyed:   keyed,
		key:     key,
		handler: handler,
		queue:   make(chan chase.Event, 256),
		done:    make(chan struct{}),
	}
	if b.stopped {
		b.mu.Unlock()
		close(sub.done)
		return &Subscription{bus: b, id: id}
	}
	b.subs[id] = sub
	b.mu.Unlock()

	go b.deliver(sub)
	return &Subscription{bus: b, id: id}
}

func (b *Bus) deliver(sub *subscription) {
	defer close(sub.done)
	for ev := range sub.queue {
		if !sub.handler(ev) {
			b.mu.Lock()
			delete(b.subs, sub.id)
			b.mu.Unlock()
			// Drain remaining queued events without invoking handler so the
			// producer side (Notify) never blocks on a dead subscriber.
			for range sub.queue {
			}
			return
		}
	}
}

// Notify broadcasts an event to every subscriber whose kind set matches.
// After Stop has been notified, further Notify calls are no-ops.
func (b *Bus) Notify(kind chase.Kind, value chase.Value) {
	ev := chase.Event{Kind: kind, Value: value}
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	targets := make([]*subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		if sub.keyed {
			continue // keyed subscriptions are only addressed via NotifyOne
		}
		if sub.kinds == nil || sub.kinds[kind] {
			targets = append(targets, sub)
		}
	}
	if kind == chase.Stop {
		b.stopped = true
	}
	b.mu.Unlock()

	for _, sub := range targets {
		sub.queue <- ev
	}
}

// NotifyOne delivers to the subscriber matching kind and key, the targeted
// notify_one(key, kind, value) of §4.1 (e.g. routing a split/stall to the
// one slow channel rather than broadcasting to every channel). Only
// subscriptions created through SubscribeKeyed with a matching key receive
// the event; a plain Subscribe never does, even if its kind set matches.
func (b *Bus) NotifyOne(key uint64, kind chase.Kind, value chase.Value) {
	ev := chase.Event{Kind: kind, Value: value}
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	targets := make([]*subscription, 0, 1)
	for _, sub := range b.subs {
		if sub.keyed && sub.key == key && (sub.kinds == nil || sub.kinds[kind]) {
			targets = append(targets, sub)
		}
	}
	b.mu.Unlock()

	for _, sub := range targets {
		sub.queue <- ev
	}
}
