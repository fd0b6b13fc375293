package ssehttp

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bernerdschaefer/eventsource"
	"github.com/google/uuid"

	"github.com/opensse/sseconn"
)

// defaultErrorDebounce is the reference 5-second window from §4.4: an
// error observed on the subscription is suppressed if the connection
// recovers before this fires, otherwise it is surfaced and the transport
// closes.
const defaultErrorDebounce = 5 * time.Second

// defaultReconnectRetry is handed to the eventsource client as the delay
// it waits before each reconnect attempt.
const defaultReconnectRetry = 1 * time.Second

// ClientTransportOption configures a ClientTransport at construction.
type ClientTransportOption[T any] func(*ClientTransport[T])

// WithOrdered enables ordered mode (§4.4): outgoing POSTs are serialized
// through a single sender so their server-observed order matches
// submission order.
func WithOrdered[T any](ordered bool) ClientTransportOption[T] {
	return func(c *ClientTransport[T]) { c.ordered = ordered }
}

// WithHTTPClient overrides the *http.Client used for outbound POSTs.
func WithHTTPClient[T any](client *http.Client) ClientTransportOption[T] {
	return func(c *ClientTransport[T]) { c.client = client }
}

// WithIDFunc overrides how the client id is generated. The default uses
// github.com/google/uuid, matching §1's note that UUID generation is an
// external collaborator the transport does not reimplement itself.
func WithIDFunc[T any](f func() string) ClientTransportOption[T] {
	return func(c *ClientTransport[T]) { c.idFunc = f }
}

// WithErrorDebounce overrides the 5-second reference debounce from §4.4.
func WithErrorDebounce[T any](d time.Duration) ClientTransportOption[T] {
	return func(c *ClientTransport[T]) { c.errorDebounce = d }
}

// ClientTransport is the client-side half of the transport (§4.4): it
// maintains an SSE subscription with retry semantics, and posts outgoing
// messages to the server, optionally in strict submission order.
type ClientTransport[T any] struct {
	serverURL string
	id        sseconn.ClientID
	ordered   bool
	encode    sseconn.EncodeFunc[T]
	decode    DecodeFunc[T]
	client    *http.Client
	idFunc    func() string

	errorDebounce  time.Duration
	reconnectRetry time.Duration

	lastMessageID uint64 // atomic

	inbound   chan T
	orderedCh chan orderedSubmission[T]

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	doneCh    chan struct{}

	errMu  sync.Mutex
	runErr error
}

type orderedSubmission[T any] struct {
	ctx    context.Context
	msg    T
	result chan error
}

// NewClientTransport opens an SSE subscription to serverURL and returns
// the transport. encode/decode render application messages to and from
// their wire string, mirroring ServerHandler's encode/decode pair.
func NewClientTransport[T any](serverURL string, encode sseconn.EncodeFunc[T], decode DecodeFunc[T], opts ...ClientTransportOption[T]) *ClientTransport[T] {
	ctx, cancel := context.WithCancel(context.Background())

	c := &ClientTransport[T]{
		serverURL:      serverURL,
		encode:         encode,
		decode:         decode,
		client:         http.DefaultClient,
		idFunc:         uuid.NewString,
		errorDebounce:  defaultErrorDebounce,
		reconnectRetry: defaultReconnectRetry,
		inbound:        make(chan T, 64),
		orderedCh:      make(chan orderedSubmission[T]),
		ctx:            ctx,
		cancel:         cancel,
		doneCh:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.id = sseconn.ClientID(c.idFunc())

	go c.run()
	if c.ordered {
		go c.runOrderedSender()
	}

	return c
}

// ID returns the generated (or injected) client identifier used to
// correlate this transport's subscription and POSTs.
func (c *ClientTransport[T]) ID() sseconn.ClientID { return c.id }

// Inbound returns the stream of messages pushed by the server.
func (c *ClientTransport[T]) Inbound() <-chan T { return c.inbound }

// Send submits an outgoing message. In ordered mode it is queued behind
// any in-flight submission and posted only once the prior one completes;
// in unordered mode it posts immediately.
func (c *ClientTransport[T]) Send(ctx context.Context, msg T) error {
	if c.ordered {
		result := make(chan error, 1)
		select {
		case c.orderedCh <- orderedSubmission[T]{ctx: ctx, msg: msg, result: result}:
		case <-ctx.Done():
			return ctx.Err()
		case <-c.doneCh:
			return fmt.Errorf("sseconn: transport closed")
		}
		select {
		case err := <-result:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return c.post(ctx, msg, 0)
}

// Close tears down the subscription, both internal queues, and the
// outbound HTTP client's idle connections.
func (c *ClientTransport[T]) Close() {
	c.closeOnce.Do(c.teardown)
}

func (c *ClientTransport[T]) runOrderedSender() {
	for {
		select {
		case item := <-c.orderedCh:
			n := atomic.AddUint64(&c.lastMessageID, 1)
			item.result <- c.post(item.ctx, item.msg, n)
		case <-c.doneCh:
			return
		}
	}
}

func (c *ClientTransport[T]) post(ctx context.Context, msg T, messageID uint64) error {
	payload, err := c.encode(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	body, err := encodeJSONString(payload)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	u := c.postURL(messageID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("publish: unexpected status %s", resp.Status)
	}
	return nil
}

func (c *ClientTransport[T]) subscribeURL() string {
	u, err := url.Parse(c.serverURL)
	if err != nil {
		return c.serverURL
	}
	q := u.Query()
	q.Set(queryClientID, string(c.id))
	u.RawQuery = q.Encode()
	return u.String()
}

func (c *ClientTransport[T]) postURL(messageID uint64) string {
	u, err := url.Parse(c.serverURL)
	if err != nil {
		return c.serverURL
	}
	q := u.Query()
	q.Set(queryClientID, string(c.id))
	if messageID > 0 {
		q.Set(queryMessageID, fmt.Sprintf("%d", messageID))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// run maintains the SSE subscription, mimicking a browser EventSource:
// each read failure is treated as transient and triggers a fresh
// subscription attempt, with a debounce timer (§4.4) deciding whether a
// run of failures is actually fatal.
func (c *ClientTransport[T]) run() {
	defer close(c.inbound)

	var debounce *time.Timer
	fatal := make(chan struct{})
	armDebounce := func() {
		if debounce == nil {
			debounce = time.AfterFunc(c.errorDebounce, func() {
				select {
				case <-fatal:
				default:
					close(fatal)
				}
			})
		}
	}
	cancelDebounce := func() {
		if debounce != nil {
			debounce.Stop()
			debounce = nil
		}
	}
	defer cancelDebounce()

	for {
		select {
		case <-c.ctx.Done():
			c.closeOnce.Do(c.teardown)
			return
		case <-fatal:
			c.setErr(fmt.Errorf("sseconn: subscription error debounce expired"))
			c.closeOnce.Do(c.teardown)
			return
		default:
		}

		req, err := http.NewRequestWithContext(c.ctx, http.MethodGet, c.subscribeURL(), nil)
		if err != nil {
			c.setErr(fmt.Errorf("create subscribe request: %w", err))
			c.closeOnce.Do(c.teardown)
			return
		}
		req.Header.Set("Accept", "text/event-stream")

		es := eventsource.New(req, c.reconnectRetry)
		readErr := c.readLoop(es, armDebounce, cancelDebounce, fatal)
		es.Close()

		if readErr != nil {
			// fatal: unknown/malformed control directive, a server close
			// directive (already torn down by localClose), or ctx canceled.
			c.closeOnce.Do(c.teardown)
			return
		}

		select {
		case <-c.ctx.Done():
			c.closeOnce.Do(c.teardown)
			return
		case <-fatal:
			c.setErr(fmt.Errorf("sseconn: subscription error debounce expired"))
			c.closeOnce.Do(c.teardown)
			return
		default:
		}
	}
}

// readLoop drains one eventsource subscription attempt until it errors
// (transient, returns nil to let run() reconnect) or a fatal condition is
// reached (non-nil error, run() must stop entirely).
func (c *ClientTransport[T]) readLoop(es *eventsource.EventSource, armDebounce, cancelDebounce func(), fatal <-chan struct{}) error {
	for {
		ev, err := es.Read()
		if err != nil {
			armDebounce()
			return nil
		}
		cancelDebounce()

		switch ev.Type {
		case "", EventMessage:
			var payload string
			if err := decodeJSONString(ev.Data, &payload); err != nil {
				continue // malformed inbound payload: skipped, not fatal
			}
			msg, err := c.decode(payload)
			if err != nil {
				continue
			}
			select {
			case c.inbound <- msg:
			case <-c.ctx.Done():
				return context.Canceled
			}

		case EventControl:
			var directive string
			if err := decodeJSONString(ev.Data, &directive); err != nil {
				c.setErr(fmt.Errorf("malformed control event: %w", err))
				return err
			}
			if directive == DirectiveClose {
				c.localClose()
				return context.Canceled
			}
			err := fmt.Errorf("sseconn: unknown control directive %q", directive)
			c.setErr(err)
			return err

		default:
			continue
		}

		select {
		case <-fatal:
			return nil
		default:
		}
	}
}

// localClose tears the transport down in response to a server-initiated
// "close" control event, without surfacing an error.
func (c *ClientTransport[T]) localClose() {
	c.closeOnce.Do(c.teardown)
}

func (c *ClientTransport[T]) teardown() {
	c.cancel()
	close(c.doneCh)
	c.client.CloseIdleConnections()
}

func (c *ClientTransport[T]) setErr(err error) {
	c.errMu.Lock()
	c.runErr = err
	c.errMu.Unlock()
}

// Err returns the fatal error (if any) that ended the subscription.
func (c *ClientTransport[T]) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.runErr
}
