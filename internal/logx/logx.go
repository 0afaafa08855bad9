// Package logx configures the process-wide zerolog logger.
package logx

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Options selects the logger level, encoding and sink.
type Options struct {
	Level  string // trace|debug|info|warn|error
	Format string // json|console
	Out    io.Writer
	// Node is attached to every event when set, so logs of a fleet of
	// sidecars can be told apart.
	Node string
}

// InitFromEnv configures zerolog from LOG_LEVEL, LOG_FORMAT and NODE_ID.
// Defaults: info, json, stdout.
func InitFromEnv() {
	Setup(Options{
		Level:  getenv("LOG_LEVEL", "info"),
		Format: getenv("LOG_FORMAT", "json"),
		Node:   os.Getenv("NODE_ID"),
	})
}

// Setup installs the global logger described by o.
func Setup(o Options) {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.TimestampFunc = func() time.Time { return time.Now().UTC() }
	zerolog.SetGlobalLevel(ParseLevel(o.Level))

	out := o.Out
	if out == nil {
		out = os.Stdout
	}
	if strings.EqualFold(o.Format, "console") {
		out = zerolog.NewConsoleWriter(func(w *zerolog.ConsoleWriter) {
			w.Out = o.Out
			if w.Out == nil {
				w.Out = os.Stdout
			}
			w.TimeFormat = time.RFC3339
		})
	}
	ctx := zerolog.New(out).With().Timestamp()
	if o.Node != "" {
		ctx = ctx.Str("node", o.Node)
	}
	log.Logger = ctx.Logger()
}

// ParseLevel maps a level name to zerolog, falling back to info.
func ParseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && strings.TrimSpace(v) != "" {
		return v
	}
	return def
}
