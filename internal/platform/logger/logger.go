package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Redacted replaces the value of every redacted attribute.
const Redacted = "REDACTED"

// DefaultRedactedKeys are always masked, whatever the configuration adds.
var DefaultRedactedKeys = []string{"customer_id"}

// New returns a JSON slog logger on stdout at the given level, masking
// DefaultRedactedKeys plus any extra keys.
func New(level string, extraRedacted ...string) *slog.Logger {
	return NewWithWriter(os.Stdout, level, extraRedacted...)
}

// NewWithWriter is New with an explicit destination, for tests.
func NewWithWriter(w io.Writer, level string, extraRedacted ...string) *slog.Logger {
	redacted := make(map[string]struct{}, len(DefaultRedactedKeys)+len(extraRedacted))
	for _, k := range DefaultRedactedKeys {
		redacted[k] = struct{}{}
	}
	for _, k := range extraRedacted {
		if k = strings.TrimSpace(k); k != "" {
			redacted[k] = struct{}{}
		}
	}

	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: ParseLevel(level),
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if _, ok := redacted[a.Key]; ok && a.Value.String() != "" {
				return slog.String(a.Key, Redacted)
			}
			return a
		},
	})
	return slog.New(handler)
}

// ParseLevel maps a config string to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
