/*
PURPOSE:
  Provides the structured logger for torchscale.
  Wraps slog for consistent output.

REQUIREMENTS:
  User-specified:
  - Quiet by default, chatty with --verbose. Not spammy.

  Implementation-discovered:
  - Needs Debug/Info/Warn/Error levels; verbosity is decided after flag
    parsing, so the level must be adjustable post-init.

ARCHITECTURE INTEGRATION:
  - Used everywhere.

ERROR HANDLING:
  - N/A

IMPLEMENTATION RULES:
  - Use `log/slog` (Go 1.21+).

USAGE:
  output.Logger.Info("message", "key", "value")
  output.Configure(verbose, quiet)

SELF-HEALING INSTRUCTIONS:
  - Ensure Go 1.21+ is used.

RELATED FILES:
  - All.

MAINTENANCE:
  - JSON handler for non-interactive runs?
*/

package output

import (
	"log/slog"
	"os"
)

var Logger *slog.Logger

var level = new(slog.LevelVar)

func init() {
	Logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

// Configure sets verbosity from CLI flags. Verbose wins over quiet when
// both are set.
func Configure(verbose, quiet bool) {
	switch {
	case verbose:
		level.Set(slog.LevelDebug)
	case quiet:
		level.Set(slog.LevelWarn)
	default:
		level.Set(slog.LevelInfo)
	}
}

// SetLogger allows overriding the default logger (e.g. for testing)
func SetLogger(l *slog.Logger) {
	Logger = l
}
