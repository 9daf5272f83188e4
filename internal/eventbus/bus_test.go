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

package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chainforge/btcnode/internal/chase"
)

func TestNotifyInOrder(t *testing.T) {
	b := New()
	var got []uint64
	done := make(chan struct{})
	b.Subscribe(func(ev chase.Event) bool {
		got = append(got, ev.Value.Height)
		if len(got) == 5 {
			close(done)
		}
		return true
	}, chase.Checked)

	for i := uint64(1); i <= 5; i++ {
		b.Notify(chase.Checked, chase.HeightValue(i))
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}
	require.Equal(t, []uint64{1, 2, 3, 4, 5}, got)
}

func TestSubscribeFiltersKind(t *testing.T) {
	b := New()
	seen := make(chan chase.Kind, 4)
	b.Subscribe(func(ev chase.Event) bool {
		seen <- ev.Kind
		return true
	}, chase.Valid)

	b.Notify(chase.Checked, chase.HeightValue(1))
	b.Notify(chase.Valid, chase.HeightValue(1))
	b.Notify(chase.Checked, chase.HeightValue(2))

	select {
	case k := <-seen:
		require.Equal(t, chase.Valid, k)
	case <-time.After(time.Second):
		t.Fatal("expected one delivery")
	}
	select {
	case k := <-seen:
		t.Fatalf("unexpected extra delivery: %v", k)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribeOnFalse(t *testing.T) {
	b := New()
	count := 0
	done := make(chan struct{})
	b.Subscribe(func(ev chase.Event) bool {
		count++
		if count == 2 {
			close(done)
			return false
		}
		return true
	}, chase.Bump)

	b.Notify(chase.Bump, chase.CountValue(1))
	b.Notify(chase.Bump, chase.CountValue(2))
	<-done
	b.Notify(chase.Bump, chase.CountValue(3))
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 2, count)
}

func TestNotifyOneAddressesOnlyMatchingKey(t *testing.T) {
	b := New()
	gotA := make(chan chase.Event, 4)
	gotB := make(chan chase.Event, 4)
	b.SubscribeKeyed(1, func(ev chase.Event) bool {
		gotA <- ev
		return true
	}, chase.Split)
	b.SubscribeKeyed(2, func(ev chase.Event) bool {
		gotB <- ev
		return true
	}, chase.Split)

	b.NotifyOne(2, chase.Split, chase.ChannelValue(2))

	select {
	case ev := <-gotB:
		require.Equal(t, uint64(2), ev.Value.ChannelID)
	case <-time.After(time.Second):
		t.Fatal("expected the keyed subscriber to receive the targeted event")
	}
	select {
	case ev := <-gotA:
		t.Fatalf("unexpected delivery to non-addressed key: %v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNotifyDoesNotReachKeyedSubscribers(t *testing.T) {
	b := New()
	got := make(chan chase.Event, 4)
	b.SubscribeKeyed(1, func(ev chase.Event) bool {
		got <- ev
		return true
	}, chase.Split)

	b.Notify(chase.Split, chase.ChannelValue(1))

	select {
	case ev := <-got:
		t.Fatalf("unexpected broadcast delivery to keyed subscriber: %v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStopIsTerminal(t *testing.T) {
	b := New()
	kinds := make(chan chase.Kind, 8)
	b.Subscribe(func(ev chase.Event) bool {
		kinds <- ev.Kind
		return true
	})

	b.Notify(chase.Stop, chase.Value{})
	require.Equal(t, chase.Stop, <-kinds)

	b.Notify(chase.Start, chase.Value{})
	select {
	case k := <-kinds:
		t.Fatalf("unexpected event after stop: %v", k)
	case <-time.After(50 * time.Millisecond):
	}
}
