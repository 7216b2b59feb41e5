package observe

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger builds the root logger. format is "console" (default) or "json".
func NewLogger(w io.Writer, level, format string) (zerolog.Logger, error) {
	lvl := zerolog.InfoLevel
	if level != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(level))
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("invalid log level %q: %w", level, err)
		}
		lvl = parsed
	}

	switch strings.ToLower(format) {
	case "", "console":
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	case "json":
	default:
		return zerolog.Nop(), fmt.Errorf("invalid log format %q (want console or json)", format)
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger(), nil
}

// LogSink writes events as structured log lines.
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink returns a sink that logs through logger.
func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger.With().Str("component", "orchestrator").Logger()}
}

func (s *LogSink) Emit(_ context.Context, e Event) {
	var ev *zerolog.Event
	switch e.Kind {
	case KindPhaseFailed:
		ev = s.logger.Warn()
	case KindRunFinished:
		if e.Err != "" {
			ev = s.logger.Error()
		} else {
			ev = s.logger.Info()
		}
	case KindBackendStderr, KindArgsInferred, KindPhaseStarted:
		ev = s.logger.Debug()
	default:
		ev = s.logger.Info()
	}

	ev = ev.Str("kind", string(e.Kind))
	if e.RunID != "" {
		ev = ev.Str("run_id", e.RunID)
	}
	if e.Trigger != "" && e.Kind == KindRunStarted {
		ev = ev.Str("trigger", e.Trigger)
	}
	if e.State != "" {
		ev = ev.Str("state", e.State)
	}
	if e.Phase != "" {
		ev = ev.Str("phase", e.Phase)
	}
	if e.Strategy != "" {
		ev = ev.Str("strategy", e.Strategy)
	}
	if e.Server != "" {
		ev = ev.Str("server", e.Server)
	}
	if e.Tool != "" {
		ev = ev.Str("tool", e.Tool)
	}
	if e.Count > 0 {
		ev = ev.Int("count", e.Count)
	}
	if e.TokensEstimate != nil {
		ev = ev.Float64("tokens_estimate", *e.TokensEstimate)
	}
	if e.ExecutionTime != nil {
		ev = ev.Float64("execution_time_ms", *e.ExecutionTime)
	}
	if e.Duration > 0 {
		ev = ev.Dur("duration", e.Duration)
	}
	if e.Err != "" {
		ev = ev.Str("error", e.Err)
	}
	ev.Msg(e.Message)
}
