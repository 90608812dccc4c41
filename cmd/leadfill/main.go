package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cockroachdb/errors"

	"github.com/Standard-Labs/real-intent/internal/redact"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := newRootCommand()
	if err := cmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			_, _ = fmt.Fprintf(os.Stderr, "leadfill: %s\n", redact.Secrets(err.Error()))
			for _, hint := range errors.GetAllHints(err) {
				_, _ = fmt.Fprintf(os.Stderr, "hint: %s\n", hint)
			}
		}
		stop()
		os.Exit(1)
	}
}
