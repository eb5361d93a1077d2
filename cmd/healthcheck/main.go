// Command healthcheck probes the local fleetvault server and exits non-zero
// when it is not serving. It is used as the container HEALTHCHECK.
package main

import (
	"context"
	"net"
	"os"
	"time"

	"github.com/ericfisherdev/fleetvault/internal/client"
)

func main() {
	os.Exit(check())
}

func check() int {
	addr := normalizeAddr(os.Getenv("FLEETVAULT_LISTEN_ADDR"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := client.New("http://"+addr, "healthcheck").Health(ctx)
	if err != nil || resp.Status != "ok" {
		return 1
	}
	return 0
}

// normalizeAddr points the probe at loopback when the server binds every
// interface; the probe runs inside the same container.
func normalizeAddr(raw string) string {
	if raw == "" {
		return "127.0.0.1:8080"
	}

	host, port, err := net.SplitHostPort(raw)
	if err != nil {
		return "127.0.0.1:8080"
	}

	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}

	return net.JoinHostPort(host, port)
}
