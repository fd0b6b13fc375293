package sseconn

import (
	"testing"
)

func TestConnectionBrokerBasics(t *testing.T) {
	t.Parallel()

	t.Run("no watchers", func(t *testing.T) {
		b := newConnectionBroker[string]()
		conn := newServerConnection[string]("a", 0, encodeIdentity, nil)
		compareBrokerStats(t, b.publish(conn), BrokerStats{})
	})

	t.Run("skip watcher", func(t *testing.T) {
		b := newConnectionBroker[string]()
		c := make(chan *ServerConnection[string])
		if err := b.watch(c, func(*ServerConnection[string]) bool { return false }); err != nil {
			t.Fatalf("watch: %v", err)
		}

		conn := newServerConnection[string]("a", 0, encodeIdentity, nil)
		compareBrokerStats(t, b.publish(conn), BrokerStats{Skips: 1})
		compareBrokerStats(t, b.publish(conn), BrokerStats{Skips: 1})

		stats, err := b.unwatch(c)
		if err != nil {
			t.Fatalf("unwatch: %v", err)
		}
		compareBrokerStats(t, stats, BrokerStats{Skips: 2})
	})

	t.Run("slow watcher drops", func(t *testing.T) {
		b := newConnectionBroker[string]()
		c1 := make(chan *ServerConnection[string], 1)
		c2 := make(chan *ServerConnection[string], 3)
		_ = b.watch(c1, nil)
		_ = b.watch(c2, nil)

		conn := newServerConnection[string]("a", 0, encodeIdentity, nil)

		compareBrokerStats(t, b.publish(conn), BrokerStats{Sends: 2})
		compareBrokerStats(t, b.publish(conn), BrokerStats{Sends: 1, Drops: 1})
		compareBrokerStats(t, b.publish(conn), BrokerStats{Sends: 1, Drops: 1})

		<-c1
		<-c2

		c1stats, err := b.unwatch(c1)
		if err != nil {
			t.Fatalf("unwatch c1: %v", err)
		}
		if c1stats.Total() != 3 {
			t.Errorf("c1 total: have %d, want 3", c1stats.Total())
		}
	})

	t.Run("double watch rejected", func(t *testing.T) {
		b := newConnectionBroker[string]()
		c := make(chan *ServerConnection[string], 1)
		if err := b.watch(c, nil); err != nil {
			t.Fatalf("watch: %v", err)
		}
		if err := b.watch(c, nil); err != ErrAlreadyWatching {
			t.Errorf("second watch: have %v, want ErrAlreadyWatching", err)
		}
	})

	t.Run("unwatch unknown", func(t *testing.T) {
		b := newConnectionBroker[string]()
		c := make(chan *ServerConnection[string])
		if _, err := b.unwatch(c); err != ErrNotWatching {
			t.Errorf("unwatch: have %v, want ErrNotWatching", err)
		}
	})
}

func compareBrokerStats(tb testing.TB, have, want BrokerStats) {
	tb.Helper()
	if have != want {
		tb.Errorf("stats: have %+v, want %+v", have, want)
	}
}
