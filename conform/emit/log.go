package emit

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// LogEmitter implements Emitter by writing each event as a zerolog entry.
//
// Events whose Meta carries an "error" key are logged at error level, run
// completion at info level and everything else at debug level, so a logger
// at info level shows one line per run plus every violation.
//
// Example JSON output:
//
//	{"level":"debug","run_id":"write-1","step":2,"trigger":"burst(960)","from":"IDLE","to":"ACTIVE","message":"transition"}
//
// Usage:
//
//	emitter := emit.NewLogEmitter(zerolog.New(os.Stderr).Level(zerolog.InfoLevel))
//
//	// Human-readable console output
//	emitter := emit.NewWriterLogEmitter(os.Stdout, false)
type LogEmitter struct {
	logger zerolog.Logger
}

// NewLogEmitter creates a LogEmitter writing through logger.
func NewLogEmitter(logger zerolog.Logger) *LogEmitter {
	return &LogEmitter{logger: logger.With().Str("component", "conform").Logger()}
}

// NewWriterLogEmitter creates a LogEmitter on writer.
//
// If jsonMode is false, output goes through zerolog.ConsoleWriter. A nil
// writer defaults to os.Stdout. The logger is set to debug level so that
// every transition is visible.
func NewWriterLogEmitter(writer io.Writer, jsonMode bool) *LogEmitter {
	if writer == nil {
		writer = os.Stdout
	}
	if !jsonMode {
		writer = zerolog.ConsoleWriter{Out: writer, TimeFormat: time.RFC3339, NoColor: true}
	}
	return NewLogEmitter(zerolog.New(writer).Level(zerolog.DebugLevel).With().Timestamp().Logger())
}

// Emit writes event as one structured log entry.
func (l *LogEmitter) Emit(event Event) {
	var entry *zerolog.Event
	switch {
	case event.Meta["error"] != nil:
		entry = l.logger.Error()
	case event.Msg == MsgRunExit || event.Msg == MsgRunAbort:
		entry = l.logger.Info()
	default:
		entry = l.logger.Debug()
	}

	entry = entry.Str("run_id", event.RunID).Int("step", event.Step)
	if event.Trigger != "" {
		entry = entry.Str("trigger", event.Trigger)
	}
	if len(event.Meta) > 0 {
		entry = entry.Fields(event.Meta)
	}
	entry.Msg(event.Msg)
}
