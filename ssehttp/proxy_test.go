package ssehttp_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/opensse/sseconn"
	"github.com/opensse/sseconn/ssehttp"
)

// TestProxyRoundTrip stands up a real upstream ServerHandler and a Proxy
// in front of it, then drives a ClientTransport entirely through the
// proxy: the GET subscription must be hijacked and pumped from the
// upstream, and the POST must be forwarded, with the same sseClientId
// correlating both directions end to end.
func TestProxyRoundTrip(t *testing.T) {
	upstream := ssehttp.NewServerHandler[string]("/events", ssehttp.EncodeJSON[string], ssehttp.DecodeJSON[string])
	go func() {
		for conn := range upstream.Connections() {
			go func(c *sseconn.ServerConnection[string]) {
				for msg := range c.Stream() {
					c.Submit(strings.ToUpper(msg))
				}
			}(conn)
		}
	}()
	upstreamSrv := httptest.NewServer(upstream)
	defer upstreamSrv.Close()

	proxy := ssehttp.NewProxy("/events", upstreamSrv.URL+"/events")
	proxySrv := httptest.NewServer(proxy)
	defer proxySrv.Close()

	client := ssehttp.NewClientTransport[string](proxySrv.URL+"/events", ssehttp.EncodeJSON[string], ssehttp.DecodeJSON[string])
	defer client.Close()

	waitForCondition(t, time.Second, func() bool { return upstream.NumberOfClients() == 1 })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, client.Send(ctx, "through the proxy"))

	select {
	case got := <-client.Inbound():
		require.Equal(t, "THROUGH THE PROXY", got)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the echo to arrive back through the proxy")
	}
}

// TestProxyPreservesClientIDCorrelation checks that two distinct clients
// connecting through the same proxy stay correlated with their own
// upstream connection (the sseClientId query parameter survives both the
// hijack-and-pump GET path and the reverse-proxied POST path).
func TestProxyPreservesClientIDCorrelation(t *testing.T) {
	upstream := ssehttp.NewServerHandler[string]("/events", ssehttp.EncodeJSON[string], ssehttp.DecodeJSON[string])
	go func() {
		for conn := range upstream.Connections() {
			go func(c *sseconn.ServerConnection[string]) {
				for msg := range c.Stream() {
					c.Submit(strings.ToUpper(msg))
				}
			}(conn)
		}
	}()
	upstreamSrv := httptest.NewServer(upstream)
	defer upstreamSrv.Close()

	proxy := ssehttp.NewProxy("/events", upstreamSrv.URL+"/events")
	proxySrv := httptest.NewServer(proxy)
	defer proxySrv.Close()

	c1 := ssehttp.NewClientTransport[string](proxySrv.URL+"/events", ssehttp.EncodeJSON[string], ssehttp.DecodeJSON[string])
	defer c1.Close()
	c2 := ssehttp.NewClientTransport[string](proxySrv.URL+"/events", ssehttp.EncodeJSON[string], ssehttp.DecodeJSON[string])
	defer c2.Close()

	waitForCondition(t, time.Second, func() bool { return upstream.NumberOfClients() == 2 })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, c1.Send(ctx, "one"))

	select {
	case got := <-c1.Inbound():
		require.Equal(t, "ONE", got)
	case <-time.After(2 * time.Second):
		t.Fatal("c1 never received its echo through the proxy")
	}

	select {
	case got := <-c2.Inbound():
		t.Fatalf("c2 must not observe c1's echo through the proxy, got %q", got)
	case <-time.After(200 * time.Millisecond):
	}
}

// TestProxyUnmatchedPathIs404 checks the proxy's own dispatch, mirroring
// ServerHandler's "path != configured path" row.
func TestProxyUnmatchedPathIs404(t *testing.T) {
	proxy := ssehttp.NewProxy("/events", "http://127.0.0.1:0/events")
	proxySrv := httptest.NewServer(proxy)
	defer proxySrv.Close()

	resp, err := proxySrv.Client().Get(proxySrv.URL + "/not-events")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, 404, resp.StatusCode)
}
