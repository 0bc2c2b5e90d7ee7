package build

import (
	"io"
	"os"

	"github.com/decred/slog"
)

// LogWriter is a stub io.Writer that replicates all log writes to both
// stdout and a rotator pipe, if one has been hooked up by the rotating log
// writer.
type LogWriter struct {
	// RotatorPipe is the write-end pipe for writing to the log rotator.
	// It is written to if non-nil.
	RotatorPipe *io.PipeWriter
}

// Write writes the byte slice to both stdout and the log rotator, if
// present.
func (w *LogWriter) Write(b []byte) (int, error) {
	os.Stdout.Write(b)

	if w.RotatorPipe != nil {
		w.RotatorPipe.Write(b)
	}

	return len(b), nil
}

// NewSubLogger constructs a new subsystem log from a root logger generator.
// If no generator is provided, a disabled logger is returned so packages can
// log safely before the rotating writer is initialized.
func NewSubLogger(subsystem string,
	genSubLogger func(string) slog.Logger) slog.Logger {

	if genSubLogger != nil {
		return genSubLogger(subsystem)
	}

	return slog.Disabled
}
