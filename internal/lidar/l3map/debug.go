package l3map

import (
	"fmt"
	"io"
	"log"
)

var debugLogger *log.Logger

// SetDebugLogger installs a debug logger that receives DynamicGrid growth
// and fatal out-of-domain diagnostics. Pass nil to disable debug logging.
func SetDebugLogger(w io.Writer) {
	if w == nil {
		debugLogger = nil
		return
	}
	debugLogger = log.New(w, "[l3map] ", log.LstdFlags|log.Lmicroseconds)
}

func debugf(format string, args ...interface{}) {
	if debugLogger != nil {
		debugLogger.Printf(format, args...)
	}
}

// assertf panics with a formatted message when cond is false. It enforces
// internal-layer preconditions: negative or over-range indices passed to
// FlatGrid/NestedGrid are programming errors, not recoverable conditions.
func assertf(cond bool, format string, args ...interface{}) {
	if !cond {
		panic(fmt.Sprintf(format, args...))
	}
}
