// The main package for the harvester executable.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/JakeFAU/archive-harvester/cmd"
)

// main defers all execution to the Cobra CLI. SIGINT and SIGTERM cancel the
// run; the checkpoint already holds the last attempted record.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cmd.Execute(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
