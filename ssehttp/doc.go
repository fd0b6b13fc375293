// Package ssehttp provides the HTTP-facing half of sseconn: a
// ServerHandler that dispatches SSE GETs and POSTs to the right
// sseconn.ServerConnection, a ClientTransport that maintains the matching
// SSE subscription and ordered/unordered POST pipeline, and a Proxy that
// forwards both directions to an upstream ServerHandler while preserving
// SSE framing and client-id correlation.
package ssehttp
