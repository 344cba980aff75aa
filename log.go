package descset

import (
	"os"

	"github.com/charmbracelet/log"
)

// logger is the package logger. Quiet by default; SetLogLevel opens it
// up for debugging descriptor layout and pool behavior.
var logger = log.NewWithOptions(os.Stderr, log.Options{
	Prefix: "descset",
	Level:  log.WarnLevel,
})

// SetLogLevel adjusts package log verbosity.
func SetLogLevel(level log.Level) {
	logger.SetLevel(level)
}
