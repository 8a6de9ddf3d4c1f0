// Command pipeget issues a batch of pipelined GET requests against a single
// host and prints each response's status line as it arrives.
package main

import (
	"context"
	stdtls "crypto/tls"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	httpconn "github.com/kavorite/httpconn"
)

func main() {
	host := flag.String("host", "", "target host (required)")
	useTLS := flag.Bool("tls", false, "connect over TLS")
	timeout := flag.Duration("timeout", 10*time.Second, "connect/read timeout")
	paths := flag.String("paths", "/", "comma-separated request paths")
	flag.Parse()

	if *host == "" {
		fmt.Fprintln(os.Stderr, "usage: pipeget -host example.com [-tls] [-paths /a,/b,/c]")
		os.Exit(2)
	}

	opts := httpconn.Options{
		ConnTimeout: *timeout,
		ReadTimeout: *timeout,
	}
	if *useTLS {
		opts.TLSConfig = &stdtls.Config{ServerName: *host}
	}

	c, err := httpconn.New(*host, opts)
	if err != nil {
		log.Fatalf("new connection: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout*4)
	defer cancel()

	if err := c.Connect(ctx); err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer c.Disconnect()

	requestPaths := strings.Split(*paths, ",")
	for _, p := range requestPaths {
		if err := c.SendRequest(ctx, "GET", p, nil, nil, false); err != nil {
			log.Fatalf("send request %s: %v", p, err)
		}
	}

	for range requestPaths {
		resp, err := c.ReadResponse(ctx)
		if err != nil {
			log.Fatalf("read response: %v", err)
		}
		fmt.Printf("%s %s -> %d %s\n", resp.Method, resp.URL, resp.Status, resp.Reason)
		if err := c.Discard(ctx); err != nil {
			log.Fatalf("discard body: %v", err)
		}
	}
}
