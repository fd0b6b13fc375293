// Command sseconn-demo runs a tiny echo server over the sseconn
// transport and a client that talks to it, to exercise the whole stack
// end to end. Modeled on the runnable examples under mroth/sseserver's
// examples/ directory.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/opensse/sseconn"
	"github.com/opensse/sseconn/ssehttp"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:8080", "listen address")
	path := flag.String("path", "/events", "transport endpoint path")
	keepAlive := flag.Duration("keepalive", 5*time.Second, "server keep-alive window (0 disables it)")
	flag.Parse()

	handler := ssehttp.NewServerHandler[string](*path, ssehttp.EncodeJSON[string], ssehttp.DecodeJSON[string])
	handler.KeepAlive = *keepAlive
	handler.Logger = log.New(color.Output, color.New(color.FgCyan).Sprint("[server] "), log.LstdFlags)

	go runConnections(handler)

	mux := http.NewServeMux()
	mux.Handle(*path, handler)

	server := &http.Server{Addr: *addr, Handler: mux}
	go func() {
		color.Green("listening on http://%s%s", *addr, *path)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	time.Sleep(200 * time.Millisecond)
	runDemoClient("http://" + *addr + *path)

	select {}
}

// runConnections is the embedding application's entry point: it watches
// for newly-created connections and, for each, echoes inbound messages
// back uppercased.
func runConnections(h *ssehttp.ServerHandler[string]) {
	for conn := range h.Connections() {
		go func(c *sseconn.ServerConnection[string]) {
			color.Yellow("connected: %s", c.ID())
			for msg := range c.Stream() {
				color.Magenta("recv %s: %q", c.ID(), msg)
				c.Submit(strings.ToUpper(msg))
			}
			color.Yellow("disconnected: %s", c.ID())
		}(conn)
	}
}

func runDemoClient(serverURL string) {
	client := ssehttp.NewClientTransport[string](
		serverURL,
		ssehttp.EncodeJSON[string],
		ssehttp.DecodeJSON[string],
	)
	defer client.Close()

	go func() {
		for msg := range client.Inbound() {
			color.Blue("client %s received: %q", client.ID(), msg)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Send(ctx, "hello from demo client"); err != nil {
		color.Red("send failed: %v", err)
	}
}
