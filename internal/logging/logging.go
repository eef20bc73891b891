// Package logging wires up the process-wide zerolog logger. Every other
// package asks for a component-scoped logger via New rather than writing to
// the global logger directly, mirroring the component-tagged log lines the
// rest of this codebase's ancestry uses (CONSENSUS_ENGINE:, MEMPOOL:, ...)
// but as structured fields instead of string prefixes.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

var base zerolog.Logger

func init() {
	base = newBase(os.Stderr)
}

func newBase(w io.Writer) zerolog.Logger {
	level := zerolog.InfoLevel
	if lv, err := zerolog.ParseLevel(strings.ToLower(os.Getenv("LOG_LEVEL"))); err == nil {
		level = lv
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// New returns a logger scoped to component, e.g. logging.New("store") gives
// every entry a component="store" field.
func New(component string) zerolog.Logger {
	return base.With().Str("component", component).Logger()
}

// SetOutput redirects the base logger, used by tests that want to capture
// output.
func SetOutput(w io.Writer) {
	base = newBase(w)
}
