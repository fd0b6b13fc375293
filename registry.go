package sseconn

import (
	"sync"
	"time"

	"github.com/opensse/sseconn/frame"
)

// defaultConnectionsBuffer bounds the Connections() observability stream.
// It is a side channel for the embedding application's bookkeeping, not a
// correctness-critical path, so publication is non-blocking and may drop
// under sustained overload rather than stall connection setup.
const defaultConnectionsBuffer = 64

// Registry is the id -> ServerConnection lookup table described by §4.3
// and §5: the handler's only shared, mutex-guarded structure. Mutations
// happen on new GET (insert) and on connection close (remove), satisfying
// I5 ("registry holds a connection iff that connection is not closed").
type Registry[T any] struct {
	mu          sync.Mutex
	connections map[ClientID]*ServerConnection[T]
	newConns    chan *ServerConnection[T]
	broker      *connectionBroker[T]
}

// NewRegistry returns an empty Registry.
func NewRegistry[T any]() *Registry[T] {
	r := &Registry[T]{
		connections: make(map[ClientID]*ServerConnection[T]),
		newConns:    make(chan *ServerConnection[T], defaultConnectionsBuffer),
		broker:      newConnectionBroker[T](),
	}
	_ = r.broker.watch(r.newConns, nil)
	return r
}

// Watch registers an additional channel to receive every newly-created
// connection, for callers that want their own independent stream (a
// metrics exporter alongside the application's own Connections()
// consumer, say) instead of contending over the default one.
func (r *Registry[T]) Watch(c chan<- *ServerConnection[T], allow func(*ServerConnection[T]) bool) error {
	return r.broker.watch(c, allow)
}

// Unwatch removes a channel registered with Watch and returns its
// delivery stats.
func (r *Registry[T]) Unwatch(c chan<- *ServerConnection[T]) (BrokerStats, error) {
	return r.broker.unwatch(c)
}

// Get returns the connection currently registered for id, if any.
func (r *Registry[T]) Get(id ClientID) (*ServerConnection[T], bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.connections[id]
	return c, ok
}

// Subscribe implements the SSE-GET tie-break from §4.2/§9: reattach a
// connection that is waiting out its keep-alive window, otherwise evict
// whatever is registered (a LIVE connection simply loses its registry
// slot and closes on its own eventual drop, it is not force-closed here)
// and create a fresh connection under the same id.
func (r *Registry[T]) Subscribe(id ClientID, sink frame.Sink, keepAlive time.Duration, encode EncodeFunc[T]) *ServerConnection[T] {
	r.mu.Lock()
	existing, ok := r.connections[id]
	r.mu.Unlock()

	if ok && existing.IsInKeepAlivePeriod() {
		if err := existing.Attach(sink); err == nil {
			return existing
		}
		// Lost the race (e.g. the keep-alive timer fired just now and
		// closed it): fall through and create a new connection below.
	}

	conn := newServerConnection(id, keepAlive, encode, r.removeIfCurrent)

	r.mu.Lock()
	r.connections[id] = conn
	r.mu.Unlock()

	r.broker.publish(conn)

	// conn was just created with no sink, so Attach only fails if a
	// Connections() consumer has already closed it; the error is ignored.
	_ = conn.Attach(sink)

	return conn
}

// removeIfCurrent deletes conn's registry entry, but only if conn is still
// the occupant: an evicted connection (see Subscribe) may close long
// after its id was handed to a successor, and must not delete that
// successor's entry.
func (r *Registry[T]) removeIfCurrent(conn *ServerConnection[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.connections[conn.id]; ok && cur == conn {
		delete(r.connections, conn.id)
	}
}

// Len is the current cardinality of the registry (backs numberOfClients).
func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.connections)
}

// Snapshot returns the currently registered connections, for reporting.
func (r *Registry[T]) Snapshot() []*ServerConnection[T] {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*ServerConnection[T], 0, len(r.connections))
	for _, c := range r.connections {
		out = append(out, c)
	}
	return out
}

// Connections returns the non-restartable, single-producer single-consumer
// stream of newly-created connections (§4.3, §5).
func (r *Registry[T]) Connections() <-chan *ServerConnection[T] {
	return r.newConns
}
