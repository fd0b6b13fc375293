package sseconn

import (
	"errors"
	"slices"
	"sync"
)

var (
	// ErrAlreadyWatching signals that a given channel is already
	// registered with the broker.
	ErrAlreadyWatching = errors.New("sseconn: already watching")

	// ErrNotWatching indicates that a given channel isn't registered.
	ErrNotWatching = errors.New("sseconn: not watching")
)

// BrokerStats represents the outcome of one or more broker publications
// for a single watcher.
type BrokerStats struct {
	Skips uint64 `json:"skips"`
	Sends uint64 `json:"sends"`
	Drops uint64 `json:"drops"`
}

// Total is the number of values represented by the stats.
func (s BrokerStats) Total() uint64 { return s.Skips + s.Sends + s.Drops }

// connectionBroker fans newly-created connections out to
// any number of independent watchers: the embedding application's own
// accounting, a metrics exporter, an admin dashboard, each gets its own
// channel rather than racing over one shared stream. Publication is
// non-blocking, so a slow watcher drops events instead of stalling new
// connection setup.
type connectionBroker[T any] struct {
	mtx   sync.Mutex
	index map[chan<- *ServerConnection[T]]*brokerWatcher[T]
	slice []*brokerWatcher[T]
}

func newConnectionBroker[T any]() *connectionBroker[T] {
	return &connectionBroker[T]{
		index: map[chan<- *ServerConnection[T]]*brokerWatcher[T]{},
	}
}

// publish announces conn to every watcher whose allow func accepts it.
func (b *connectionBroker[T]) publish(conn *ServerConnection[T]) BrokerStats {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	var stats BrokerStats
	for _, w := range b.slice {
		if !w.allow(conn) {
			w.stats.Skips++
			stats.Skips++
			continue
		}
		select {
		case w.c <- conn:
			w.stats.Sends++
			stats.Sends++
		default:
			w.stats.Drops++
			stats.Drops++
		}
	}
	return stats
}

// watch registers c to receive every connection accepted by allow (nil
// means accept all).
func (b *connectionBroker[T]) watch(c chan<- *ServerConnection[T], allow func(*ServerConnection[T]) bool) error {
	if allow == nil {
		allow = func(*ServerConnection[T]) bool { return true }
	}

	b.mtx.Lock()
	defer b.mtx.Unlock()

	if _, ok := b.index[c]; ok {
		return ErrAlreadyWatching
	}

	w := &brokerWatcher[T]{allow: allow, c: c}
	b.index[c] = w
	b.slice = append(b.slice, w)
	return nil
}

// unwatch removes c from the broker and returns its final stats.
func (b *connectionBroker[T]) unwatch(c chan<- *ServerConnection[T]) (BrokerStats, error) {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	w, ok := b.index[c]
	if !ok {
		return BrokerStats{}, ErrNotWatching
	}
	delete(b.index, c)
	b.slice = slices.DeleteFunc(b.slice, func(w *brokerWatcher[T]) bool { return w.c == c })
	return w.stats, nil
}

type brokerWatcher[T any] struct {
	allow func(*ServerConnection[T]) bool
	stats BrokerStats
	c     chan<- *ServerConnection[T]
}
