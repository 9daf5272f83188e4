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

package blockin

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chainforge/btcnode/internal/archive"
	"github.com/chainforge/btcnode/internal/block"
	"github.com/chainforge/btcnode/internal/chase"
	"github.com/chainforge/btcnode/internal/eventbus"
	"github.com/chainforge/btcnode/internal/workmap"
)

type fakeTransport struct {
	requested chan []chase.Hash32
}

func newFakeTransport() *fakeTransport { return &fakeTransport{requested: make(chan []chase.Hash32, 8)} }

func (f *fakeTransport) RequestBlocks(hashes []chase.Hash32) error {
	f.requested <- hashes
	return nil
}

type fakeCheck struct {
	maps   []*workmap.Map
	putted chan *workmap.Map
}

func newFakeCheck(maps ...*workmap.Map) *fakeCheck {
	return &fakeCheck{maps: maps, putted: make(chan *workmap.Map, 8)}
}

func (f *fakeCheck) GetHashes() *workmap.Map {
	if len(f.maps) == 0 {
		return nil
	}
	m := f.maps[0]
	f.maps = f.maps[1:]
	return m
}

func (f *fakeCheck) PutHashes(m *workmap.Map) { f.putted <- m }

func mkHash(b byte) chase.Hash32 {
	var h chase.Hash32
	h[0] = b
	return h
}

func setup(t *testing.T, m *workmap.Map) (*Channel, *fakeCheck, *fakeTransport, *archive.Memory) {
	ar := archive.NewMemory()
	bus := eventbus.New()
	check := newFakeCheck(m)
	transport := newFakeTransport()
	c := New(1, ar, bus, check, transport)
	t.Cleanup(c.Close)
	return c, check, transport, ar
}

func TestReadyStartsDownload(t *testing.T) {
	item := chase.Item{Hash: mkHash(1), Link: 5, Context: chase.Context{Height: 1}}
	m := workmap.NewMap([]chase.Item{item})
	c, _, transport, _ := setup(t, m)

	c.Ready()
	select {
	case hashes := <-transport.requested:
		require.Equal(t, []chase.Hash32{item.Hash}, hashes)
	case <-time.After(time.Second):
		t.Fatal("expected a RequestBlocks call")
	}
}

func TestReadyStarvedWhenEmpty(t *testing.T) {
	bus := eventbus.New()
	ar := archive.NewMemory()
	starved := make(chan struct{}, 1)
	bus.Subscribe(func(ev chase.Event) bool {
		starved <- struct{}{}
		return true
	}, chase.Starved)
	check := newFakeCheck() // no maps queued
	transport := newFakeTransport()
	c := New(2, ar, bus, check, transport)
	defer c.Close()

	c.Ready()
	select {
	case <-starved:
	case <-time.After(time.Second):
		t.Fatal("expected starved event")
	}
}

func TestDeliverEmitsChecked(t *testing.T) {
	ar := archive.NewMemory()
	bus := eventbus.New()
	checked := make(chan uint64, 1)
	bus.Subscribe(func(ev chase.Event) bool {
		checked <- ev.Value.Height
		return true
	}, chase.Checked)

	ctx := chase.Context{Height: 3}
	link := ar.AddHeader(mkHash(7), ctx)
	item := chase.Item{Hash: mkHash(7), Link: link, Context: ctx}
	c := New(5, ar, bus, newFakeCheck(workmap.NewMap([]chase.Item{item})), newFakeTransport())
	t.Cleanup(c.Close)
	c.Ready()

	b := &block.Block{Hash: item.Hash, Height: 3}
	c.Deliver(b, item.Context)
	select {
	case h := <-checked:
		require.Equal(t, uint64(3), h)
	case <-time.After(time.Second):
		t.Fatal("expected checked event")
	}
	require.True(t, ar.IsAssociated(link))
}

func TestSplitReturnsHalfAndStops(t *testing.T) {
	items := make([]chase.Item, 4)
	for i := range items {
		items[i] = chase.Item{Hash: mkHash(byte(i + 1)), Link: chase.HLink(i + 1), Context: chase.Context{Height: uint64(i + 1)}}
	}
	m := workmap.NewMap(items)
	c, check, _, _ := setup(t, m)
	c.Ready()
	time.Sleep(10 * time.Millisecond)

	c.Split()
	select {
	case tail := <-check.putted:
		require.Equal(t, 2, tail.Len())
	case <-time.After(time.Second):
		t.Fatal("expected split residual returned to pool")
	}
	time.Sleep(10 * time.Millisecond)
	require.Equal(t, Stopping, c.State())
	require.Equal(t, StopSacrificedChannel, c.StopReasonValue())
}

func TestBusSplitIsAddressedToOneChannelOnly(t *testing.T) {
	ar := archive.NewMemory()
	bus := eventbus.New()

	itemsA := []chase.Item{
		{Hash: mkHash(1), Link: 1, Context: chase.Context{Height: 1}},
		{Hash: mkHash(2), Link: 2, Context: chase.Context{Height: 2}},
	}
	itemsB := []chase.Item{
		{Hash: mkHash(3), Link: 3, Context: chase.Context{Height: 3}},
		{Hash: mkHash(4), Link: 4, Context: chase.Context{Height: 4}},
	}
	checkA := newFakeCheck(workmap.NewMap(itemsA))
	checkB := newFakeCheck(workmap.NewMap(itemsB))
	a := New(1, ar, bus, checkA, newFakeTransport())
	b := New(2, ar, bus, checkB, newFakeTransport())
	t.Cleanup(a.Close)
	t.Cleanup(b.Close)

	a.Ready()
	b.Ready()
	time.Sleep(10 * time.Millisecond)

	bus.NotifyOne(2, chase.Split, chase.ChannelValue(2))

	select {
	case tail := <-checkB.putted:
		require.Equal(t, 1, tail.Len())
	case <-time.After(time.Second):
		t.Fatal("expected the addressed channel to split and return work")
	}
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, Stopping, b.State())
	select {
	case <-checkA.putted:
		t.Fatal("split addressed to channel 2 must not affect channel 1")
	default:
	}
	require.Equal(t, Downloading, a.State())
}

func TestBusDownloadBroadcastWakesIdleChannel(t *testing.T) {
	ar := archive.NewMemory()
	bus := eventbus.New()
	check := newFakeCheck() // starts with no work
	transport := newFakeTransport()
	c := New(3, ar, bus, check, transport)
	t.Cleanup(c.Close)

	c.Ready()
	time.Sleep(10 * time.Millisecond)
	require.Equal(t, Idle, c.State())

	item := chase.Item{Hash: mkHash(9), Link: 9, Context: chase.Context{Height: 1}}
	check.maps = append(check.maps, workmap.NewMap([]chase.Item{item}))
	bus.Notify(chase.Download, chase.CountValue(1))

	select {
	case hashes := <-transport.requested:
		require.Equal(t, []chase.Hash32{item.Hash}, hashes)
	case <-time.After(time.Second):
		t.Fatal("expected download broadcast to trigger GetHashes")
	}
	require.Equal(t, Downloading, c.State())
}

func TestBusStopReleasesHeldMap(t *testing.T) {
	item := chase.Item{Hash: mkHash(1), Link: 1, Context: chase.Context{Height: 1}}
	m := workmap.NewMap([]chase.Item{item})
	ar := archive.NewMemory()
	bus := eventbus.New()
	check := newFakeCheck(m)
	c := New(4, ar, bus, check, newFakeTransport())
	t.Cleanup(c.Close)

	c.Ready()
	time.Sleep(10 * time.Millisecond)

	bus.Notify(chase.Stop, chase.Value{})
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, Stopping, c.State())
	require.Equal(t, StopRequested, c.StopReasonValue())
	select {
	case <-check.putted:
	case <-time.After(time.Second):
		t.Fatal("expected the held map to return to the pool on stop")
	}
}

func TestPurgeDropsMapAndStops(t *testing.T) {
	item := chase.Item{Hash: mkHash(1), Link: 1, Context: chase.Context{Height: 1}}
	m := workmap.NewMap([]chase.Item{item})
	c, check, _, _ := setup(t, m)
	c.Ready()
	time.Sleep(10 * time.Millisecond)

	c.Purge()
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, Stopping, c.State())
	require.Equal(t, StopSacrificedChannel, c.StopReasonValue())
	select {
	case <-check.putted:
		t.Fatal("purge must not return work to the pool")
	default:
	}
}
