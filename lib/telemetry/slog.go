package telemetry

import (
	"log/slog"
	"os"
	"time"

	charmlog "github.com/charmbracelet/log"
)

// InitSlog installs the process-wide slog handler. Verbose mode enables
// debug output and caller reporting.
func InitSlog(verbose bool) {
	level := charmlog.InfoLevel
	if verbose {
		level = charmlog.DebugLevel
	}
	handler := charmlog.NewWithOptions(os.Stderr, charmlog.Options{
		Level:           level,
		ReportCaller:    verbose,
		ReportTimestamp: true,
		TimeFormat:      time.TimeOnly,
	})
	slog.SetDefault(slog.New(handler))
}
