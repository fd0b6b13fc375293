package ssehttp

// SSE event names used on the wire (§4.4, §6). EventMessage is the
// default and is not written explicitly as an "event:" line; EventControl
// carries transport-level directives, of which only DirectiveClose is
// defined.
const (
	EventMessage = "message"
	EventControl = "control"

	// DirectiveClose is the only defined control payload: the peer is
	// telling the other side to close the logical connection.
	DirectiveClose = "close"
)

// queryClientID and queryMessageID are the URL query parameter names from
// §6: "GET <serverUrl>?sseClientId=<uuid>" and
// "POST <serverUrl>?sseClientId=<uuid>[&messageId=<n>]".
const (
	queryClientID  = "sseClientId"
	queryMessageID = "messageId"
)
