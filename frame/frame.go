// Package frame implements the Server-Sent Events wire format used by
// sseconn: the response preamble and the per-message data frames. It does
// not parse SSE; parsing is left to the client-side collaborator (a real
// browser EventSource, or the eventsource package used by
// ssehttp.ClientTransport).
package frame

import (
	"encoding/json"
	"fmt"
	"io"
)

// EventControl is the SSE event name used for transport-level directives.
// The only defined control payload is the literal string "close".
const EventControl = "control"

// Sink is the minimal capability ServerConnection needs from whatever is
// currently attached to it: something to write bytes to, and something to
// close when the connection goes away. It deliberately does not mention
// http.ResponseWriter, so an in-memory test double or a proxy's pump can
// stand in for a real HTTP response body.
type Sink interface {
	io.Writer
	Close() error
}

// Preamble writes the SSE response preamble: the header block required by
// §4.1, terminated by a blank line. origin is the already-resolved value
// for Access-Control-Allow-Origin (the caller echoes the request's Origin
// header, falling back to Host).
func Preamble(w io.Writer, origin string) error {
	_, err := fmt.Fprintf(w,
		"HTTP/1.1 200 OK\r\n"+
			"Content-Type: text/event-stream\r\n"+
			"Cache-Control: no-cache\r\n"+
			"Connection: keep-alive\r\n"+
			"Access-Control-Allow-Credentials: true\r\n"+
			"Access-Control-Allow-Origin: %s\r\n"+
			"\r\n",
		origin,
	)
	return err
}

// WriteMessage emits a single application message as a data frame. The
// payload is JSON-encoded so embedded newlines and control characters are
// escaped and cannot corrupt the frame boundary.
func WriteMessage(w io.Writer, payload string) error {
	b, err := encode(payload)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

// WriteControl emits a control frame carrying directive (currently only
// "close" is defined) under the "control" event name.
func WriteControl(w io.Writer, directive string) error {
	b, err := encode(directive)
	if err != nil {
		return err
	}
	buf := make([]byte, 0, len("event: ")+len(EventControl)+1+len(b))
	buf = append(buf, "event: "...)
	buf = append(buf, EventControl...)
	buf = append(buf, '\n')
	buf = append(buf, b...)
	_, err = w.Write(buf)
	return err
}

// encode formats the "data: <json>\n\n" bytes for payload.
func encode(payload string) ([]byte, error) {
	j, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	b := make([]byte, 0, 7+len(j)+1)
	b = append(b, "data: "...)
	b = append(b, j...)
	b = append(b, '\n', '\n')
	return b, nil
}
