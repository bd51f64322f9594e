// Package logger is a thin factory around log/slog: one New constructor
// configured by options (format, level, static attributes, context
// extractors) plus attribute helpers that keep key naming consistent across
// the service.
//
//	log := logger.New(
//		logger.WithEnvironment(appEnv, "subsyncd"),
//		logger.WithContextValue("request_id", ctxKeyRequestID),
//	)
//	logger.SetAsDefault(log)
//
//	log.InfoContext(ctx, "applied transition",
//		logger.UserID(userID),
//		logger.EventType("subscription_updated"),
//	)
package logger
