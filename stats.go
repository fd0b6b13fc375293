package sseconn

import "fmt"

// Stats represents the outcome of messages passing through one
// ServerConnection's outbound pipeline. Grounded on the Stats type
// peterbourgon/ps uses for broker-wide subscriber accounting; here the same
// idea is scoped down to a single connection's delivery counters.
type Stats struct {
	// Sent is messages successfully written to an attached sink.
	Sent uint64 `json:"sent"`

	// Reattaches is the number of times a sink was attached after the
	// first (i.e. the connection reattached following a detach).
	Reattaches uint64 `json:"reattaches"`

	// EncodeErrors is outbound messages that failed to encode and were
	// dropped without closing the connection (§7, "unencodable outbound
	// payload").
	EncodeErrors uint64 `json:"encode_errors"`
}

// String is a log-friendly rendering of Stats.
func (s Stats) String() string {
	return fmt.Sprintf("sent=%d reattaches=%d encode_errors=%d", s.Sent, s.Reattaches, s.EncodeErrors)
}

// ConnectionStatus is a snapshot of a ServerConnection suitable for
// reporting/logging, analogous to mroth/sseserver's ConnectionStatus.
type ConnectionStatus struct {
	ID                  ClientID `json:"id"`
	Created             int64    `json:"created_at"`
	IsInKeepAlivePeriod bool     `json:"in_keep_alive_period"`
	Buffered            int      `json:"buffered"`
	Stats               Stats    `json:"stats"`
}
