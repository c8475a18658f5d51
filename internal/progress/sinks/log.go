package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitecrawler/internal/progress"
)

// LogSink writes one structured log line per event.
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

// Consume logs each event. Skips are logged at debug level since a crawl
// produces many of them.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("crawl_id", evt.CrawlID),
			zap.String("stage", string(evt.Stage)),
		}
		switch evt.Stage {
		case progress.StagePageDone:
			fields = append(fields,
				zap.String("url", evt.URL),
				zap.Int("depth", evt.Depth),
				zap.String("status_class", string(evt.StatusClass)),
				zap.Int64("bytes", evt.Bytes),
				zap.Duration("dur", evt.Dur),
				zap.Int("frontier", evt.Frontier),
				zap.Int("pages", evt.Pages),
			)
			if evt.Note != "" {
				fields = append(fields, zap.String("note", evt.Note))
			}
			s.logger.Info("page done", fields...)
		case progress.StageURLSkipped:
			fields = append(fields, zap.String("url", evt.URL), zap.String("reason", evt.Reason))
			if evt.Note != "" {
				fields = append(fields, zap.String("pattern", evt.Note))
			}
			s.logger.Debug("url skipped", fields...)
		case progress.StageCrawlError:
			fields = append(fields, zap.String("note", evt.Note))
			s.logger.Warn("crawl error", fields...)
		default:
			fields = append(fields, zap.String("url", evt.URL), zap.Int("pages", evt.Pages), zap.Duration("dur", evt.Dur))
			s.logger.Info("crawl progress", fields...)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
