/*
Package sseconn implements the server-side half of a bidirectional message
transport built on Server-Sent Events plus ordinary HTTP POST: a drop-in
alternative to WebSockets for environments where WebSockets are unavailable.

A ServerConnection is a per-client actor holding an inbound queue (fed by
POSTs, consumed by the embedding application) and an outbound queue
(fed by the application, drained to the client's SSE stream). Connections
are addressed by an opaque ClientID chosen by the client, and survive
transient disconnects for a configurable keep-alive window: buffered
outbound messages replay in their original order on reattachment.

The HTTP-facing adapter (routing GET subscriptions and POST deliveries to
the right ServerConnection, plus the client-side counterpart and a
pass-through proxy) lives in the sibling ssehttp package. This package is
transport-agnostic: it depends only on the minimal frame.Sink capability,
not on net/http.
*/
package sseconn
