// Package main implements the elector command.
//
//	elector --data-dir ~/.elector election create --admin 0xA0 --title Board \
//	  --voting-start 24h --voting-end 48h --candidate Alice --candidate Bob
//	elector election advance --id 1 --admin 0xA0 --status registration
//	elector voter register --id 1 --voter 0xB1
//	elector voter approve --id 1 --admin 0xA0 --voter 0xB1
//	elector vote --id 1 --voter 0xB1 --candidate 2
//	elector serve --listen :8080 --metrics /metrics
//
// The ledger runs in the process unless the configuration points to a remote
// one, which is served by:
//
//	elector ledger serve --listen :9000
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := newApp(ctx, os.Stdout).Run(os.Args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
