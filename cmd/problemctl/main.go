// Command problemctl is the terminal client for problem-server.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/tbourn/problem-board/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := cli.Run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr, cli.RESTGateway)
	stop()
	os.Exit(code)
}
