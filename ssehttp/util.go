package ssehttp

import (
	"mime"
	"net/http"
	"strconv"
	"strings"
)

// requestExplicitlyAccepts reports whether r's Accept header lists want,
// adapted from peterbourgon/ps's pshttp.requestExplicitlyAccepts.
func requestExplicitlyAccepts(r *http.Request, want string) bool {
	for _, a := range strings.Split(r.Header.Get("Accept"), ",") {
		mediaType, _, err := mime.ParseMediaType(strings.TrimSpace(a))
		if err != nil {
			continue
		}
		if mediaType == want {
			return true
		}
	}
	return false
}

// corsOrigin resolves the Access-Control-Allow-Origin value per §4.3: echo
// the request's Origin header if present, otherwise fall back to Host, to
// accommodate clients that omit Origin.
func corsOrigin(r *http.Request) string {
	if origin := r.Header.Get("Origin"); origin != "" {
		return origin
	}
	if r.Host != "" {
		return r.Host
	}
	return r.Header.Get("Host")
}

// parseMessageID parses the optional messageId query parameter (§6), a
// decimal counter. A missing or malformed value yields 0, "no id given".
func parseMessageID(r *http.Request) uint64 {
	s := r.URL.Query().Get(queryMessageID)
	if s == "" {
		return 0
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
