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

// Package strand implements the serial-executor primitive spec.md §5 calls
// a "strand": a single goroutine that runs posted closures to completion,
// one at a time, so a chaser or peer channel never needs internal locking
// against its own handlers. Grounded on the teacher's single-owner-
// goroutine idiom (core/blockchain.go's chain-update goroutine, the
// downloader's single dispatch loop).
package strand

// Strand serializes posted work onto one goroutine.
type Strand struct {
	tasks chan func()
	done  chan struct{}
}

// New starts a Strand's run loop and returns it running.
func New() *Strand {
	s := &Strand{
		tasks: make(chan func(), 256),
		done:  make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *Strand) run() {
	defer close(s.done)
	for fn := range s.tasks {
		fn()
	}
}

// Post queues fn to run on the strand; Post never blocks the caller waiting
// for fn to execute (spec.md §5: "the caller does not block").
func (s *Strand) Post(fn func()) {
	s.tasks <- fn
}

// Close stops accepting new work and waits for the run loop to drain and
// exit. Close must be called at most once.
func (s *Strand) Close() {
	close(s.tasks)
	<-s.done
}
