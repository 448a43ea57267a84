package concern

import (
	"context"
	"log/slog"
	"time"

	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/logging"
	"google.golang.org/grpc"

	"github.com/tracdap/platform-gateway/internal/obslog"
)

// SlogLogger adapts obslog's package-level *slog.Logger to the
// go-grpc-middleware/v2 logging.Logger interface, so the concern chain's
// logging stage gets structured, leveled request logs without a
// hand-written interceptor body.
func SlogLogger() logging.Logger {
	return logging.LoggerFunc(func(ctx context.Context, lvl logging.Level, msg string, fields ...any) {
		obslog.Log.Log(ctx, slogLevel(lvl), msg, fields...)
	})
}

func slogLevel(lvl logging.Level) slog.Level {
	switch lvl {
	case logging.LevelDebug:
		return slog.LevelDebug
	case logging.LevelInfo:
		return slog.LevelInfo
	case logging.LevelWarn:
		return slog.LevelWarn
	case logging.LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LoggingUnaryInterceptor logs method, duration, and outcome for every
// unary call.
func LoggingUnaryInterceptor() grpc.UnaryServerInterceptor {
	return logging.UnaryServerInterceptor(SlogLogger(),
		logging.WithLogOnEvents(logging.StartCall, logging.FinishCall),
		logging.WithDurationField(func(d time.Duration) logging.Fields {
			return logging.Fields{"duration_ms", d.Milliseconds()}
		}),
	)
}

// LoggingStreamInterceptor is the streaming counterpart of
// LoggingUnaryInterceptor.
func LoggingStreamInterceptor() grpc.StreamServerInterceptor {
	return logging.StreamServerInterceptor(SlogLogger(),
		logging.WithLogOnEvents(logging.StartCall, logging.FinishCall),
	)
}
