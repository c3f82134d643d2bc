// Package logging creates the loggers of all tap packages. Stdout is reserved for the
// Singer message stream, so all logs are written to stderr.
package logging

import (
	"os"

	"github.com/teltech/logger"
)

// New creates a logger writing to the current os.Stderr.
func New() *logger.Log {
	return logger.New().WithOutput(os.Stderr)
}
