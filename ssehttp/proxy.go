package ssehttp

import (
	"context"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sync"

	"github.com/opensse/sseconn/frame"
)

// Proxy forwards both directions of the transport to an upstream
// ServerHandler while preserving SSE framing and the sseClientId
// correlation (§4.5). It is not generic: it never decodes payloads, it
// only pumps bytes.
type Proxy struct {
	ProxyPath  string // path this proxy itself listens on
	ServerPath string // absolute URL of the upstream handler
	Client     *http.Client

	once     sync.Once
	upstream *url.URL
	reverse  *httputil.ReverseProxy
}

// NewProxy constructs a Proxy forwarding proxyPath to the upstream
// serverURL.
func NewProxy(proxyPath, serverURL string) *Proxy {
	return &Proxy{
		ProxyPath:  proxyPath,
		ServerPath: serverURL,
		Client:     http.DefaultClient,
	}
}

func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != p.ProxyPath {
		http.NotFound(w, r)
		return
	}

	switch {
	case r.Method == http.MethodGet && requestExplicitlyAccepts(r, "text/event-stream"):
		p.handleSubscribe(w, r)
	case r.Method == http.MethodPost && !requestExplicitlyAccepts(r, "text/event-stream"):
		p.reverseProxy().ServeHTTP(w, r)
	default:
		http.NotFound(w, r)
	}
}

// reverseProxy builds the POST-forwarding handler lazily, on first use.
func (p *Proxy) reverseProxy() *httputil.ReverseProxy {
	p.once.Do(func() {
		u, err := url.Parse(p.ServerPath)
		if err != nil {
			// Constructed once from caller-supplied configuration; a bad
			// URL here is a programmer error surfaced at first request.
			panic("ssehttp: invalid ServerPath: " + err.Error())
		}
		p.upstream = u
		p.reverse = httputil.NewSingleHostReverseProxy(u)
		// POSTs go to the upstream handler's own path, not to that path
		// joined with the proxy's request path.
		director := p.reverse.Director
		p.reverse.Director = func(req *http.Request) {
			director(req)
			req.URL.Path = u.Path
			req.URL.RawPath = u.RawPath
		}
	})
	return p.reverse
}

func (p *Proxy) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	p.reverseProxy() // ensures p.upstream is populated
	u := *p.upstream
	u.RawQuery = r.URL.RawQuery

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		http.Error(w, "build upstream request", http.StatusBadGateway)
		return
	}
	req.Header = r.Header.Clone()
	req.Host = p.upstream.Host

	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	noRedirect := *client
	noRedirect.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	resp, err := noRedirect.Do(req)
	if err != nil {
		http.Error(w, "upstream subscribe failed", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	hj, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	conn, bufrw, err := hj.Hijack()
	if err != nil {
		return
	}
	defer conn.Close()

	sink := &httpSink{conn: conn, bw: bufrw.Writer}
	if err := frame.Preamble(sink, corsOrigin(r)); err != nil {
		return
	}
	sink.Flush()

	// Downstream never sends a request body on a GET; there is nothing to
	// pump in that direction (§4.5: "downstream body -> discarded").
	// Upstream bytes are copied through untouched, preserving whatever
	// framing the upstream handler already wrote.
	done := make(chan struct{})
	go func() {
		defer close(done)
		buf := make([]byte, 4096)
		for {
			n, rerr := resp.Body.Read(buf)
			if n > 0 {
				if _, werr := sink.Write(buf[:n]); werr != nil {
					cancel()
					return
				}
				sink.Flush()
			}
			if rerr != nil {
				cancel()
				return
			}
		}
	}()

	select {
	case <-done:
	case <-ctx.Done():
		resp.Body.Close() // unblocks the pump goroutine's in-flight Read
		<-done
	}
}
