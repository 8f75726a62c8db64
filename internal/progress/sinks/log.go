package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/TontonTremblay/cvpr-scrape2plot/internal/progress"
)

// LogSink writes events as structured logs. Run and year milestones log at
// info; per-fetch and per-record events log at debug.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunUUID().String()),
			zap.String("stage", string(evt.Stage)),
		}
		if evt.Year != 0 {
			fields = append(fields, zap.Int("year", evt.Year))
		}
		switch evt.Stage {
		case progress.StageFetchDone:
			fields = append(fields,
				zap.String("url", evt.URL),
				zap.String("status_class", string(evt.StatusClass)),
				zap.Int64("bytes", evt.Bytes),
				zap.Duration("dur", evt.Dur),
			)
			if evt.Note != "" {
				fields = append(fields, zap.String("note", evt.Note))
			}
			s.logger.Debug("progress event", fields...)
		case progress.StageRecordAccepted, progress.StageRecordRejected:
			fields = append(fields, zap.String("url", evt.URL), zap.String("note", evt.Note))
			s.logger.Debug("progress event", fields...)
		default:
			fields = append(fields,
				zap.Int64("records", evt.Records),
				zap.Int64("errors", evt.Errors),
				zap.Duration("dur", evt.Dur),
			)
			if evt.Outcome != "" {
				fields = append(fields, zap.String("outcome", string(evt.Outcome)))
			}
			if evt.Note != "" {
				fields = append(fields, zap.String("note", evt.Note))
			}
			s.logger.Info("progress event", fields...)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
