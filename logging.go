package moqtransport

import (
	"log/slog"
	"os"
)

func init() {
	h := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		AddSource: true,
	})
	defaultLogger = slog.New(h)
}

var defaultLogger *slog.Logger

// SetLogHandler replaces the package-wide slog handler used for structured
// text/JSON logging of session and stream lifecycle events.
func SetLogHandler(handler slog.Handler) {
	defaultLogger = slog.New(handler)
}

// every component that accepts a *qlog.Logger treats nil as "qlog tracing
// disabled for this session" and guards its Log calls accordingly, matching
// the nil-check convention in the teacher's fetch_stream.go.
