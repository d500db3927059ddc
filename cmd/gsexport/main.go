package main

import (
	"context"
	"log/slog"
	"os"

	"gsexport/cmd/gsexport/commands"
	"gsexport/lib/telemetry"
)

func main() {
	telemetry.InitSlog(false)

	ctx := context.Background()
	tel, err := telemetry.SetupFromEnv(ctx, "gsexport")
	if err == nil {
		defer tel.Shutdown(context.Background())
		telemetry.InstrumentPerfStats(ctx)
	} else if !os.IsNotExist(err) {
		slog.Warn("failed to setup telemetry", "err", err)
	}

	commands.ExecuteContext(ctx)
}
