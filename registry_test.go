package sseconn

import (
	"testing"
	"time"
)

func TestRegistrySubscribeCreatesAndRegisters(t *testing.T) {
	r := NewRegistry[string]()

	sink := newFakeSink()
	conn := r.Subscribe("a", sink, 0, encodeIdentity)

	got, ok := r.Get("a")
	if !ok || got != conn {
		t.Fatalf("Get after Subscribe: have (%v, %v), want (%v, true)", got, ok, conn)
	}
	if r.Len() != 1 {
		t.Errorf("Len: have %d, want 1", r.Len())
	}

	select {
	case c := <-r.Connections():
		if c != conn {
			t.Errorf("Connections: have %v, want %v", c, conn)
		}
	case <-time.After(time.Second):
		t.Fatal("new connection was never published")
	}

	conn.Close()
	waitFor(t, time.Second, func() bool { _, ok := r.Get("a"); return !ok })
}

func TestRegistryReattachWithinKeepAlive(t *testing.T) {
	r := NewRegistry[string]()

	sink1 := newFakeSink()
	first := r.Subscribe("b", sink1, 50*time.Millisecond, encodeIdentity)
	<-r.Connections()

	first.CloseSink()
	waitFor(t, time.Second, first.IsInKeepAlivePeriod)

	sink2 := newFakeSink()
	second := r.Subscribe("b", sink2, 50*time.Millisecond, encodeIdentity)

	if second != first {
		t.Fatalf("reattach within keep-alive should return the same connection")
	}

	select {
	case <-r.Connections():
		t.Fatal("reattach must not publish a second Connections() event")
	case <-time.After(50 * time.Millisecond):
	}

	first.Close()
}

func TestRegistryEvictsLiveConnectionOnNewSubscribe(t *testing.T) {
	r := NewRegistry[string]()

	sink1 := newFakeSink()
	first := r.Subscribe("c", sink1, time.Second, encodeIdentity)
	<-r.Connections()

	sink2 := newFakeSink()
	second := r.Subscribe("c", sink2, time.Second, encodeIdentity)
	<-r.Connections()

	if second == first {
		t.Fatalf("a second GET while LIVE must evict, not reattach")
	}

	got, ok := r.Get("c")
	if !ok || got != second {
		t.Fatalf("registry should now hold the evicting connection")
	}

	first.Close()
	second.Close()
}

func TestRegistryEvictedConnectionCloseDoesNotOrphanSuccessor(t *testing.T) {
	r := NewRegistry[string]()

	sink1 := newFakeSink()
	first := r.Subscribe("d", sink1, time.Second, encodeIdentity)
	<-r.Connections()

	sink2 := newFakeSink()
	second := r.Subscribe("d", sink2, time.Second, encodeIdentity)
	<-r.Connections()

	first.Close() // evicted connection closing on its own, after losing its slot

	got, ok := r.Get("d")
	if !ok || got != second {
		t.Fatalf("evicted connection's Close must not remove the successor's registry entry")
	}

	second.Close()
}

func TestRegistrySnapshotAndWatch(t *testing.T) {
	r := NewRegistry[string]()

	extra := make(chan *ServerConnection[string], 4)
	if err := r.Watch(extra, nil); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	conn := r.Subscribe("e", newFakeSink(), 0, encodeIdentity)
	<-r.Connections()

	select {
	case c := <-extra:
		if c != conn {
			t.Errorf("watch stream: have %v, want %v", c, conn)
		}
	case <-time.After(time.Second):
		t.Fatal("additional watcher never observed the new connection")
	}

	snap := r.Snapshot()
	if len(snap) != 1 || snap[0].ID() != "e" {
		t.Errorf("Snapshot: have %+v, want single connection e", snap)
	}

	if _, err := r.Unwatch(extra); err != nil {
		t.Errorf("Unwatch: %v", err)
	}

	conn.Close()
}
