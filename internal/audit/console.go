package audit

import (
	"context"

	"go.uber.org/zap"
)

// ConsoleWriter mirrors audit lines to a zap logger, mapped onto zap levels.
// It is meant for development.
type ConsoleWriter struct {
	logger *zap.Logger
}

func NewConsoleWriter(logger *zap.Logger) *ConsoleWriter {
	return &ConsoleWriter{logger: logger.Named("audit")}
}

func (w *ConsoleWriter) Name() string { return "console" }

func (w *ConsoleWriter) Write(_ context.Context, e Event) error {
	line := FormatLine(e)
	switch e.Level {
	case LevelDebug:
		w.logger.Debug(line)
	case LevelInfo, LevelAudit:
		w.logger.Info(line)
	case LevelWarn, LevelSecurity:
		w.logger.Warn(line)
	default:
		w.logger.Error(line)
	}
	return nil
}

func (w *ConsoleWriter) Close() error {
	_ = w.logger.Sync()
	return nil
}
