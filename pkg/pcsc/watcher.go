// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-smartcard.
//
// go-smartcard is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package pcsc

import (
	"sync"
	"time"
)

// EventKind classifies a reader set change.
type EventKind uint8

const (
	// Arrived reports a reader attached since the previous poll.
	// Readers already present when the watcher starts are reported as
	// arrivals on the first poll.
	Arrived EventKind = iota

	// Removed reports a reader that disappeared.
	Removed
)

func (k EventKind) String() string {
	switch k {
	case Arrived:
		return "arrived"
	case Removed:
		return "removed"
	}
	return "unknown"
}

// Event is one reader set change.
type Event struct {
	Kind   EventKind
	Reader string
}

// DefaultPollInterval is the reader poll period used when none is
// given.
const DefaultPollInterval = time.Second

// Watcher polls the attached reader set and reports arrivals and
// removals on its channel. It owns one goroutine and the channel; both
// end when Stop is called.
type Watcher struct {
	interval time.Duration
	list     func() ([]string, error)

	events chan Event
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once
}

// NewWatcher starts watching the attached reader set, polling at the
// given interval. Intervals of zero or less fall back to
// DefaultPollInterval.
func NewWatcher(interval time.Duration) *Watcher {
	return newWatcher(interval, Readers)
}

func newWatcher(interval time.Duration, list func() ([]string, error)) *Watcher {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	w := &Watcher{
		interval: interval,
		list:     list,
		events:   make(chan Event),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go w.run()
	return w
}

// Events returns the channel the watcher reports on. The channel is
// closed after Stop.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Stop ends the watch and waits for the event channel to close.
// Stopping twice is harmless.
func (w *Watcher) Stop() {
	w.once.Do(func() { close(w.stop) })
	<-w.done
}

func (w *Watcher) run() {
	defer close(w.done)
	defer close(w.events)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	known := make(map[string]bool)
	for {
		w.poll(known)
		select {
		case <-w.stop:
			return
		case <-ticker.C:
		}
	}
}

// poll diffs the current reader set against the known one and emits an
// event per change. A listing failure leaves the known set untouched;
// the next tick retries.
func (w *Watcher) poll(known map[string]bool) {
	readers, err := w.list()
	if err != nil {
		return
	}

	present := make(map[string]bool, len(readers))
	for _, r := range readers {
		present[r] = true
		if !known[r] {
			known[r] = true
			w.send(Event{Kind: Arrived, Reader: r})
		}
	}
	for r := range known {
		if !present[r] {
			delete(known, r)
			w.send(Event{Kind: Removed, Reader: r})
		}
	}
}

// send delivers one event, giving up when the watcher is stopped so an
// abandoned consumer cannot wedge shutdown.
func (w *Watcher) send(ev Event) {
	select {
	case w.events <- ev:
	case <-w.stop:
	}
}
