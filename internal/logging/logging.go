// Package logging centralises construction of component loggers on top of
// go-ethereum's structured logger, mirroring the way the teacher's
// subsystems each hold a log.Logger with static "component"-style context.
package logging

import (
	"os"

	"github.com/ethereum/go-ethereum/log"
)

var root log.Logger

func init() {
	root = log.NewLogger(log.NewTerminalHandler(os.Stderr, true))
}

// SetRoot replaces the root handler, e.g. to switch to JSON output in
// production or to lower verbosity from config.
func SetRoot(l log.Logger) {
	root = l
}

// Component returns a logger tagged with "component"=name plus any extra
// key/value context, the way go-ethereum subsystems do
// (log.New("module", "p2p")).
func Component(name string, ctx ...interface{}) log.Logger {
	args := append([]interface{}{"component", name}, ctx...)
	return root.With(args...)
}
