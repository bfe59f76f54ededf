// Package logging wires the single *slog.Logger shared by every
// component, built once in cmd/paneforged/main.go and threaded through
// constructors — never a package-level global.
package logging

import (
	"log/slog"
	"os"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var titleCaser = cases.Title(language.English)

// New builds a text-handler logger at the given level ("debug", "info",
// "warn", "error"; defaults to info on an unrecognized value).
func New(level string) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(level)}))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Component title-cases a package/component name for startup log lines
// and the health payload, e.g. "supervisor" -> "Supervisor".
func Component(name string) string {
	return titleCaser.String(name)
}
