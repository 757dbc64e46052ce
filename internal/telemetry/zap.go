package telemetry

import (
	"context"

	"go.uber.org/zap"
)

// maxLoggedIDs bounds the ids written per log line.
const maxLoggedIDs = 20

// LogSink writes events to a zap logger at Info, or Warn when the outcome is
// not ok.
type LogSink struct {
	log *zap.Logger
}

// NewLogSink creates a LogSink. A nil logger uses the global one.
func NewLogSink(log *zap.Logger) *LogSink {
	if log == nil {
		log = zap.L()
	}
	return &LogSink{log: log.With(zap.String("component", "telemetry"))}
}

func (s *LogSink) Emit(_ context.Context, ev Event) {
	ids := ev.IDs
	if len(ids) > maxLoggedIDs {
		ids = ids[:maxLoggedIDs]
	}
	fields := []zap.Field{
		zap.String("operation", ev.Operation),
		zap.Duration("latency", ev.Latency),
		zap.String("outcome", ev.Outcome),
		zap.Strings("ids", ids),
		zap.Int("count", ev.Count),
	}
	if ev.Outcome == OutcomeOK {
		s.log.Info("operation complete", fields...)
		return
	}
	s.log.Warn("operation complete", fields...)
}
