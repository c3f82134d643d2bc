// Command tap-facebook extracts the entities of a Facebook ad account and writes them
// as Singer messages to stdout, or loads them into one of the supported cloud sinks.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/teltech/logger"
	"github.com/zpiroux/tapfacebook/internal/pkg/logging"
)

var log *logger.Log

func init() {
	log = logging.New()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		log.Errorf("tap-facebook failed, err: %v", err)
		stop()
		os.Exit(1)
	}
}
