package sseconn

import (
	"errors"
	"sync"
	"time"

	"github.com/opensse/sseconn/frame"
)

// ClientID is an opaque identifier chosen by the client at subscription
// time, stable for the life of a logical connection including across
// underlying TCP reconnects within the keep-alive window.
type ClientID string

var (
	// ErrClosed is returned by operations attempted against a closed
	// ServerConnection.
	ErrClosed = errors.New("sseconn: connection closed")

	// ErrAlreadyAttached is returned by Attach if a sink is already live.
	// The reference policy (see Registry) never calls Attach in that
	// state; it evicts and creates a new connection instead.
	ErrAlreadyAttached = errors.New("sseconn: sink already attached")
)

// EventControlClose is the control directive telling the peer to close
// the logical connection, mirrored by ssehttp.DirectiveClose on the wire.
const EventControlClose = "close"

// EncodeFunc renders a message of type T to its wire string, applied just
// before framing. Every EncodeFunc should have a corresponding DecodeFunc
// on the ssehttp side.
type EncodeFunc[T any] func(T) (string, error)

// ServerConnection is the per-client actor described by §3/§4.2: paired
// inbound/outbound queues, an optionally-attached sink, and a keep-alive
// timer that lets the connection survive a dropped sink without losing
// buffered outbound state.
//
// Its state is mutated only by attach/detach/close operations and by its
// own outbound drain goroutine; everything else communicates with it by
// queue submission, never by touching its fields directly.
type ServerConnection[T any] struct {
	id        ClientID
	keepAlive time.Duration // zero means "none"
	encode    EncodeFunc[T]
	onClose   func(*ServerConnection[T]) // registry callback, removes this connection (I5)

	created time.Time

	mu             sync.Mutex
	sink           frame.Sink
	closed         bool
	inKeepAlive    bool
	keepAliveTimer *time.Timer
	outbound       []T
	attachCount    uint64
	stats          Stats

	inbound chan T
	wake    chan struct{}
	closeCh chan struct{}
}

// defaultInboundBuffer bounds the inbound (POST-fed) queue. The transport
// makes no exactly-once or unbounded-backpressure guarantees (see
// spec.md's Non-goals); a generous fixed buffer is the in-memory queue
// the spec allows for.
const defaultInboundBuffer = 256

// newServerConnection constructs a ServerConnection in the LIVE state,
// requiring the caller to Attach a sink immediately afterward (mirrors the
// state diagram in §4.2: init -> LIVE happens on the first GET).
func newServerConnection[T any](id ClientID, keepAlive time.Duration, encode EncodeFunc[T], onClose func(*ServerConnection[T])) *ServerConnection[T] {
	c := &ServerConnection[T]{
		id:        id,
		keepAlive: keepAlive,
		encode:    encode,
		onClose:   onClose,
		created:   time.Now(),
		inbound:   make(chan T, defaultInboundBuffer),
		wake:      make(chan struct{}, 1),
		closeCh:   make(chan struct{}),
	}
	go c.drain()
	return c
}

// ID returns the connection's client identifier.
func (c *ServerConnection[T]) ID() ClientID { return c.id }

// Submit enqueues an outbound message. It never blocks on network I/O: the
// message is appended to the in-memory outbound queue and the drain
// goroutine is woken to deliver it whenever a sink is attached.
func (c *ServerConnection[T]) Submit(msg T) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.outbound = append(c.outbound, msg)
	c.mu.Unlock()
	c.wakeUp()
}

// Stream returns the finite, non-restartable sequence of inbound messages.
// It is closed when the connection closes.
func (c *ServerConnection[T]) Stream() <-chan T {
	return c.inbound
}

// Deliver pushes a message received via POST onto the inbound queue, for
// the embedding application to consume from Stream(). It returns
// ErrClosed if the connection has already closed.
func (c *ServerConnection[T]) Deliver(msg T) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.mu.Unlock()

	select {
	case c.inbound <- msg:
		return nil
	case <-c.closeCh:
		return ErrClosed
	}
}

// IsInKeepAlivePeriod reports whether the connection is currently detached
// and waiting, within its keep-alive window, for a reattaching GET.
func (c *ServerConnection[T]) IsInKeepAlivePeriod() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inKeepAlive
}

// Attach connects sink as the connection's current outbound writer. The
// caller (Registry.Subscribe) must only call Attach on a connection
// that is not already LIVE: the reference reattach-vs-evict policy (see
// Registry.Subscribe) never calls Attach on a live connection, it creates
// a new one instead.
func (c *ServerConnection[T]) Attach(sink frame.Sink) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.sink != nil {
		c.mu.Unlock()
		return ErrAlreadyAttached
	}

	c.cancelKeepAliveTimerLocked()
	c.inKeepAlive = false
	c.sink = sink
	c.attachCount++
	if c.attachCount > 1 {
		c.stats.Reattaches++
	}
	c.mu.Unlock()

	c.wakeUp()
	return nil
}

// Detach tells the connection its currently attached sink is gone (the
// caller observed a failed read on the underlying connection). This follows
// the same I3/I4 transition as a failed write: straight to closed if no
// keep-alive is configured, otherwise into the keep-alive period.
func (c *ServerConnection[T]) Detach() {
	c.detachDueToLoss()
}

// CloseSink is a test-only hook (§6) that terminates the currently
// attached sink as if the underlying connection had dropped, so tests can
// simulate a disconnect and observe keep-alive behavior. It does not close
// the logical connection itself; the drop takes the same I3/I4 transition
// as Detach, so without keep-alive the connection then closes.
func (c *ServerConnection[T]) CloseSink() {
	c.detachDueToLoss()
}

// SendClose notifies the attached sink with a control "close" frame
// before tearing the connection down, letting a well-behaved client
// complete its inbound stream locally instead of observing a bare
// connection drop. If no sink is currently attached the frame is skipped
// and this is equivalent to Close.
func (c *ServerConnection[T]) SendClose() {
	c.mu.Lock()
	sink := c.sink
	c.mu.Unlock()
	if sink != nil {
		frame.WriteControl(sink, EventControlClose)
		if f, ok := sink.(flusher); ok {
			f.Flush()
		}
	}
	c.Close()
}

// Close is the terminal transition (I2): it finalizes both queues, closes
// the attached sink if any, and removes the connection from its registry.
// Close is idempotent.
func (c *ServerConnection[T]) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.inKeepAlive = false
	c.cancelKeepAliveTimerLocked()
	sink := c.sink
	c.sink = nil
	c.mu.Unlock()

	close(c.closeCh)
	close(c.inbound)
	if sink != nil {
		sink.Close()
	}
	if c.onClose != nil {
		c.onClose(c)
	}
}

// Stats returns a snapshot of the connection's delivery counters.
func (c *ServerConnection[T]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Status returns a point-in-time ConnectionStatus for reporting.
func (c *ServerConnection[T]) Status() ConnectionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ConnectionStatus{
		ID:                  c.id,
		Created:             c.created.Unix(),
		IsInKeepAlivePeriod: c.inKeepAlive,
		Buffered:            len(c.outbound),
		Stats:               c.stats,
	}
}

func (c *ServerConnection[T]) wakeUp() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// detachDueToLoss implements the shared transition used by both a failed
// write in drain() and an externally observed disconnect (Detach,
// CloseSink): on keep-alive, arm the timer and wait for reattachment; with
// no keep-alive configured, close outright (I3).
func (c *ServerConnection[T]) detachDueToLoss() {
	c.mu.Lock()
	if c.closed || c.sink == nil {
		c.mu.Unlock()
		return
	}
	sink := c.sink
	c.sink = nil

	if c.keepAlive > 0 {
		c.inKeepAlive = true
		c.armKeepAliveTimerLocked()
		c.mu.Unlock()
		sink.Close()
		c.wakeUp()
		return
	}
	c.mu.Unlock()
	sink.Close()
	c.Close()
}

func (c *ServerConnection[T]) armKeepAliveTimerLocked() {
	c.keepAliveTimer = time.AfterFunc(c.keepAlive, c.onKeepAliveExpire)
}

func (c *ServerConnection[T]) cancelKeepAliveTimerLocked() {
	if c.keepAliveTimer != nil {
		c.keepAliveTimer.Stop()
		c.keepAliveTimer = nil
	}
}

func (c *ServerConnection[T]) onKeepAliveExpire() {
	c.mu.Lock()
	if c.closed || !c.inKeepAlive {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.Close()
}

// drain is the connection's single owned outbound task: the conceptual
// "while (true) { msg = peek(); await attached; write(msg); pop(); }" loop
// from §9, implemented without spawning per message.
func (c *ServerConnection[T]) drain() {
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		if len(c.outbound) == 0 {
			c.mu.Unlock()
			select {
			case <-c.wake:
			case <-c.closeCh:
				return
			}
			continue
		}

		head := c.outbound[0]
		sink := c.sink
		c.mu.Unlock()

		if sink == nil {
			select {
			case <-c.wake:
			case <-c.closeCh:
				return
			}
			continue
		}

		payload, err := c.encode(head)
		if err != nil {
			// Unencodable outbound payload: log, drop, count (§7).
			// Logging is the embedding handler's job; we only count.
			c.mu.Lock()
			if len(c.outbound) > 0 {
				c.outbound = c.outbound[1:]
			}
			c.stats.EncodeErrors++
			c.mu.Unlock()
			continue
		}

		if err := frame.WriteMessage(sink, payload); err != nil {
			c.detachDueToLoss()
			continue
		}
		if f, ok := sink.(flusher); ok {
			f.Flush()
		}

		c.mu.Lock()
		if len(c.outbound) > 0 {
			c.outbound = c.outbound[1:]
		}
		c.stats.Sent++
		c.mu.Unlock()
	}
}

// flusher matches http.Flusher without importing net/http from this
// transport-agnostic package.
type flusher interface {
	Flush()
}
