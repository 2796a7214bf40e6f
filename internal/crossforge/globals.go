package crossforge

import (
	"fmt"
	"sync/atomic"

	"github.com/gookit/color"
)

var (
	version   = "dev"     // overridden at build time
	buildDate = "unknown" // overridden at build time

	// Debug enables debugf output.
	Debug bool
	// Verbose mirrors every step log to stderr.
	Verbose bool
)

// isCriticalAtomic is 1 while a step is writing into shared output trees.
// A single Ctrl+C is then deferred until the step returns.
var isCriticalAtomic atomic.Int32

// color helpers
var (
	colInfo    = color.Info
	colWarn    = color.Warn
	colError   = color.Error
	colSuccess = color.HEX("#1976D2")
	colArrow   = color.HEX("#FFEB3B")
	colNote    = color.Tag("notice")
)

// debugf prints debug messages when Debug is true
func debugf(format string, args ...any) {
	if Debug {
		fmt.Printf(format, args...)
	}
}

// arrow prints the "-> " prefix used by every status message.
func arrow() {
	colArrow.Print("-> ")
}
