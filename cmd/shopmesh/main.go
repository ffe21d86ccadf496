// Command shopmesh runs the shop coordination processes: the edge gateway,
// the cart service and an operator tool for broadcasting events.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/drblury/shopmesh/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.Execute(ctx, os.Args[1:], cli.Options{}); err != nil {
		fmt.Fprintln(os.Stderr, "shopmesh:", err)
		stop()
		os.Exit(1)
	}
}
