// Package sinks contains Sink implementations for the telemetry hub.
package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/newsloom/extractor/internal/telemetry"
)

// LogSink emits structured logs for the attempt stream. It is useful during
// development or audits where a durable store is unavailable.
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

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []telemetry.Event) error {
	for _, evt := range batch {
		methods := make([]string, 0, len(evt.MethodsAttempted))
		for _, m := range evt.MethodsAttempted {
			methods = append(methods, string(m))
		}
		s.logger.Info("extraction attempt",
			zap.String("url", evt.URL),
			zap.String("domain", evt.Domain),
			zap.Strings("methods_attempted", methods),
			zap.String("successful_method", string(evt.SuccessfulMethod)),
			zap.Int("http_status", evt.HTTPStatus),
			zap.String("protection_kind", evt.ProtectionKind),
			zap.String("outcome", string(evt.Outcome)),
			zap.Duration("elapsed", evt.Elapsed),
			zap.Bool("proxy_used", evt.ProxyUsed),
		)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
