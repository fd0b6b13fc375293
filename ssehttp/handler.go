package ssehttp

import (
	"bufio"
	"io"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/opensse/sseconn"
	"github.com/opensse/sseconn/frame"
)

// DecodeFunc parses a wire string back into a message of type T, the
// counterpart to sseconn.EncodeFunc.
type DecodeFunc[T any] func(string) (T, error)

// ServerHandler is the HTTP-level dispatcher described by §4.3: it routes
// SSE GETs to subscription setup, POSTs to inbound delivery, and
// maintains the ClientID -> ServerConnection registry.
type ServerHandler[T any] struct {
	Path      string            // the one configured endpoint path
	KeepAlive time.Duration     // zero means "none"
	Logger    *log.Logger       // defaults to a discard logger

	encode   sseconn.EncodeFunc[T]
	decode   DecodeFunc[T]
	registry *sseconn.Registry[T]
}

// NewServerHandler constructs a ServerHandler serving path, using encode
// and decode for the wire representation of T (mirroring the
// EncodeFunc[T]/DecodeFunc[T] split from peterbourgon/ps's pshttp
// package).
func NewServerHandler[T any](path string, encode sseconn.EncodeFunc[T], decode DecodeFunc[T]) *ServerHandler[T] {
	return &ServerHandler[T]{
		Path:     path,
		encode:   encode,
		decode:   decode,
		registry: sseconn.NewRegistry[T](),
		Logger:   log.New(io.Discard, "", 0),
	}
}

// Connections returns the stream of newly-created connections, the
// application's entry point for per-client work (§4.3).
func (h *ServerHandler[T]) Connections() <-chan *sseconn.ServerConnection[T] {
	return h.registry.Connections()
}

// NumberOfClients is the current cardinality of the registry.
func (h *ServerHandler[T]) NumberOfClients() int {
	return h.registry.Len()
}

// Snapshot returns a point-in-time status list for every registered
// connection, for reporting.
func (h *ServerHandler[T]) Snapshot() []sseconn.ConnectionStatus {
	conns := h.registry.Snapshot()
	out := make([]sseconn.ConnectionStatus, len(conns))
	for i, c := range conns {
		out[i] = c.Status()
	}
	return out
}

// ServeHTTP implements the dispatch table from §4.3.
func (h *ServerHandler[T]) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != h.Path {
		http.NotFound(w, r)
		return
	}

	switch {
	case r.Method == http.MethodGet && requestExplicitlyAccepts(r, "text/event-stream"):
		h.handleSubscribe(w, r)
	case r.Method == http.MethodPost && !requestExplicitlyAccepts(r, "text/event-stream"):
		h.handlePublish(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (h *ServerHandler[T]) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	id := sseconn.ClientID(r.URL.Query().Get(queryClientID))
	if id == "" {
		http.Error(w, "missing sseClientId", http.StatusBadRequest)
		return
	}

	hj, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	conn, bufrw, err := hj.Hijack()
	if err != nil {
		http.Error(w, "hijack failed", http.StatusInternalServerError)
		return
	}

	sink := &httpSink{conn: conn, bw: bufrw.Writer}
	if err := frame.Preamble(sink, corsOrigin(r)); err != nil {
		conn.Close()
		return
	}
	sink.Flush()

	sc := h.registry.Subscribe(id, sink, h.KeepAlive, h.encode)
	h.Logger.Printf("subscribe: id=%s remote=%s", id, r.RemoteAddr)

	// A hijacked GET carries no further request body; the only way to
	// learn the client went away is a failed read on the raw connection.
	// Run that watch in its own goroutine so ServeHTTP can return and
	// hand the connection fully over to sc's drain loop and this reader.
	go func() {
		defer h.Logger.Printf("disconnect: id=%s remote=%s", id, r.RemoteAddr)
		one := make([]byte, 1)
		for {
			if _, err := conn.Read(one); err != nil {
				sc.Detach()
				return
			}
		}
	}()
}

func (h *ServerHandler[T]) handlePublish(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Credentials", "true")
	w.Header().Set("Access-Control-Allow-Origin", corsOrigin(r))

	id := sseconn.ClientID(r.URL.Query().Get(queryClientID))

	// Malformed inbound payloads and unknown ids are logged, never
	// surfaced to the caller: the POST still answers 200 so the client's
	// outbound pipeline is not destabilized by one bad message (§7).
	func() {
		defer func() {
			if rec := recover(); rec != nil {
				h.Logger.Printf("publish: recovered panic: id=%s: %v", id, rec)
			}
		}()

		body, err := io.ReadAll(io.LimitReader(r.Body, maxPublishBody))
		if err != nil {
			h.Logger.Printf("publish: read body: id=%s: %v", id, err)
			return
		}

		var payload string
		if err := decodeJSONString(body, &payload); err != nil {
			h.Logger.Printf("publish: decode envelope: id=%s: %v", id, err)
			return
		}

		msg, err := h.decode(payload)
		if err != nil {
			h.Logger.Printf("publish: decode message: id=%s: %v", id, err)
			return
		}

		sc, ok := h.registry.Get(id)
		if !ok {
			h.Logger.Printf("publish: unknown client: id=%s", id)
			return
		}

		_ = parseMessageID(r) // parsed but unused: messages are delivered in POST arrival order
		if err := sc.Deliver(msg); err != nil {
			h.Logger.Printf("publish: deliver: id=%s: %v", id, err)
		}
	}()

	w.WriteHeader(http.StatusOK)
}

// maxPublishBody bounds a single POST body; this is the same kind of
// fixed safety limit the mcp-golang SSE transport applies to inbound
// JSON-RPC frames.
const maxPublishBody = 4 * 1024 * 1024

// httpSink adapts a hijacked net.Conn + its buffered writer to
// frame.Sink, including the optional Flush the outbound drain loop looks
// for via a type assertion.
type httpSink struct {
	conn net.Conn
	bw   *bufio.Writer
}

func (s *httpSink) Write(p []byte) (int, error) { return s.bw.Write(p) }
func (s *httpSink) Flush()                      { s.bw.Flush() }
func (s *httpSink) Close() error                 { return s.conn.Close() }
