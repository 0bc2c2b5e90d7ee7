package build

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/decred/slog"
	"github.com/jrick/logrotate/rotator"
)

// RotatingLogWriter is a wrapper around the log writer that supports log file
// rotation and tracks the registered subsystem loggers so their levels can be
// changed at run time.
type RotatingLogWriter struct {
	logWriter *LogWriter

	backendLog *slog.Backend

	logRotator *rotator.Rotator

	pipe *io.PipeWriter

	subsystemLoggers map[string]slog.Logger
}

// NewRotatingLogWriter creates a new file rotating log writer.
//
// NOTE: `InitLogRotator` must be called to set up log rotation after creating
// the writer.
func NewRotatingLogWriter() *RotatingLogWriter {
	logWriter := &LogWriter{}
	return &RotatingLogWriter{
		logWriter:        logWriter,
		backendLog:       slog.NewBackend(logWriter),
		subsystemLoggers: make(map[string]slog.Logger),
	}
}

// GenSubLogger creates a new sublogger backed by the rotating writer.
func (r *RotatingLogWriter) GenSubLogger(tag string) slog.Logger {
	return r.backendLog.Logger(tag)
}

// RegisterSubLogger makes a subsystem logger known to the writer so its level
// can be driven by SetLogLevel/SetLogLevels.
func (r *RotatingLogWriter) RegisterSubLogger(subsystem string,
	logger slog.Logger) {

	r.subsystemLoggers[subsystem] = logger
}

// InitLogRotator initializes the log file rotator to write logs to logFile
// and create roll files in the same directory. Up to maxLogFiles of at most
// maxLogFileSize MB each are kept.
func (r *RotatingLogWriter) InitLogRotator(logFile string, maxLogFileSize,
	maxLogFiles int) error {

	logDir, _ := filepath.Split(logFile)
	err := os.MkdirAll(logDir, 0700)
	if err != nil {
		return fmt.Errorf("failed to create log directory: %v", err)
	}
	r.logRotator, err = rotator.New(
		logFile, int64(maxLogFileSize*1024), false, maxLogFiles,
	)
	if err != nil {
		return fmt.Errorf("failed to create file rotator: %v", err)
	}

	pr, pw := io.Pipe()
	go r.logRotator.Run(pr)

	r.pipe = pw
	r.logWriter.RotatorPipe = pw

	return nil
}

// Close closes the underlying log rotator if it has been created.
func (r *RotatingLogWriter) Close() error {
	if r.pipe != nil {
		r.pipe.Close()
	}
	if r.logRotator != nil {
		r.logRotator.Close()
	}
	return nil
}

// SupportedSubsystems returns a sorted list of the registered subsystems.
func (r *RotatingLogWriter) SupportedSubsystems() []string {
	subsystems := make([]string, 0, len(r.subsystemLoggers))
	for subsysID := range r.subsystemLoggers {
		subsystems = append(subsystems, subsysID)
	}

	sort.Strings(subsystems)
	return subsystems
}

// SetLogLevel sets the logging level for the provided subsystem. Invalid
// subsystems and levels are ignored.
func (r *RotatingLogWriter) SetLogLevel(subsystemID string, logLevel string) {
	logger, ok := r.subsystemLoggers[subsystemID]
	if !ok {
		return
	}

	level, _ := slog.LevelFromString(logLevel)
	logger.SetLevel(level)
}

// SetLogLevels sets the log level for all registered subsystems to the
// provided level.
func (r *RotatingLogWriter) SetLogLevels(logLevel string) {
	for subsystemID := range r.subsystemLoggers {
		r.SetLogLevel(subsystemID, logLevel)
	}
}

// ParseAndSetDebugLevels parses a debug level spec of either a single level
// ("debug") or a comma separated list of subsystem=level pairs
// ("SYNC=trace,WDB=debug") and applies it to the registered subsystems.
func (r *RotatingLogWriter) ParseAndSetDebugLevels(debugLevel string) error {
	if !strings.Contains(debugLevel, ",") &&
		!strings.Contains(debugLevel, "=") {

		if _, ok := slog.LevelFromString(debugLevel); !ok {
			return fmt.Errorf("the specified debug level [%v] is "+
				"invalid", debugLevel)
		}

		r.SetLogLevels(debugLevel)
		return nil
	}

	for _, logLevelPair := range strings.Split(debugLevel, ",") {
		if !strings.Contains(logLevelPair, "=") {
			return fmt.Errorf("the specified debug level contains "+
				"an invalid subsystem/level pair [%v]",
				logLevelPair)
		}

		fields := strings.Split(logLevelPair, "=")
		if len(fields) != 2 {
			return fmt.Errorf("the specified debug level has an "+
				"invalid format [%v]", logLevelPair)
		}
		subsysID, logLevel := fields[0], fields[1]

		if _, exists := r.subsystemLoggers[subsysID]; !exists {
			return fmt.Errorf("the specified subsystem [%v] is "+
				"invalid -- supported subsystems %v", subsysID,
				r.SupportedSubsystems())
		}

		if _, ok := slog.LevelFromString(logLevel); !ok {
			return fmt.Errorf("the specified debug level [%v] is "+
				"invalid", logLevel)
		}

		r.SetLogLevel(subsysID, logLevel)
	}

	return nil
}
