package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/xkilldash9x/tablebook/cmd"
)

// Replaced in tests.
var (
	osExit  = os.Exit
	execute = cmd.Execute
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	osExit(run(ctx))
}

// run returns the process exit code: 0 only when the command succeeded.
func run(ctx context.Context) int {
	if err := execute(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "tablebook: %v\n", err)
		return 1
	}
	return 0
}
