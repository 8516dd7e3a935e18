package app

import (
	"context"

	"dn-carry-bot/internal/controller"

	"go.uber.org/zap"
)

// multiRecorder fans a tick record out to every sink. Sinks are non-blocking.
type multiRecorder []controller.Recorder

func (m multiRecorder) Record(ctx context.Context, rec controller.TickRecord) {
	for _, sink := range m {
		sink.Record(ctx, rec)
	}
}

// multiAlerter delivers to every sink and always logs, so a fatal alert is visible even
// when no remote channel is configured.
type multiAlerter struct {
	log   *zap.Logger
	sinks []controller.Alerter
}

func (m multiAlerter) Alert(ctx context.Context, alert controller.Alert) {
	fields := []zap.Field{
		zap.String("kind", alert.Kind),
		zap.String("state", string(alert.State)),
		zap.String("message", alert.Message),
	}
	if m.log != nil {
		switch alert.Severity {
		case controller.SeverityFatal:
			m.log.Error("alert", fields...)
		case controller.SeverityWarn:
			m.log.Warn("alert", fields...)
		default:
			m.log.Info("alert", fields...)
		}
	}
	for _, sink := range m.sinks {
		sink.Alert(ctx, alert)
	}
}
