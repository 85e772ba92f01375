package middleware

import (
	"log/slog"
	"time"

	"github.com/broady/fedapi"
)

// LoggingInterceptor returns an interceptor that logs each call with slog:
// its start, and its completion or failure with the duration.
func LoggingInterceptor(logger *slog.Logger) fedapi.UnaryInterceptor {
	if logger == nil {
		logger = slog.Default()
	}

	return func(ctx *fedapi.Context, req any, handler fedapi.HandlerFunc) (any, error) {
		start := time.Now()
		attrs := []any{
			slog.String("endpoint", ctx.Endpoint().Name),
			slog.String("route", ctx.Endpoint().String()),
			slog.String("request_id", ctx.RequestID()),
		}
		if sig := ctx.Caller().Signature; sig != nil {
			attrs = append(attrs, slog.String("origin", sig.Origin.String()))
		}

		logger.InfoContext(ctx, "request started", attrs...)

		res, err := handler(ctx, req)
		attrs = append(attrs, slog.Duration("duration", time.Since(start)))

		if err != nil {
			logger.ErrorContext(ctx, "request failed", append(attrs, slog.Any("error", err))...)
		} else {
			logger.InfoContext(ctx, "request completed", attrs...)
		}

		return res, err
	}
}
