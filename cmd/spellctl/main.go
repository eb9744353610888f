// spellctl casts operational spells across many controllers.
//
// Usage:
//
//	spellctl <spell> [flags]          Run a spell against selected controllers
//	spellctl spells                   List available spells
//	spellctl targets [flags]          List selected controllers
//	spellctl cache list|clear|ttl     Inspect or purge the result cache
//	spellctl config init [--force]    Write a starter inventory
//	spellctl serve [--addr]           Serve spells over HTTP
//	spellctl version                  Print the version
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/spellctl/internal/logging"
	"golang.org/x/term"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logging.ConfigureRuntime()
	c := &cli{
		stdout:     os.Stdout,
		stderr:     os.Stderr,
		stdin:      os.Stdin,
		isTerminal: func() bool { return term.IsTerminal(int(os.Stdin.Fd())) },
	}
	code := c.run(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}
