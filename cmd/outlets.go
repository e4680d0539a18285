package cmd

import (
	"log/slog"

	"github.com/drgolem/streamsound/internal/hostapi"
	"github.com/drgolem/streamsound/pkg/ftc"
)

// newLoggingHost builds the CLI's host capability set: outlet emissions are
// rendered as log lines, with three-float lists decoded back to exact frame
// counts where they parse as time codes.
func newLoggingHost() *hostapi.Host {
	return hostapi.NewHost(hostapi.DefaultConfig(),
		func(outlet string, values []float32) {
			if len(values) == 3 {
				if parsed, ok := ftc.Parse([3]float32{values[0], values[1], values[2]}); ok {
					slog.Info("Outlet", "name", outlet, "frames", parsed.ToFrames())
					return
				}
			}
			slog.Info("Outlet", "name", outlet, "value", values)
		},
		func(outlet string, v float32) { slog.Info("Outlet", "name", outlet, "value", v) },
		func(outlet string) { slog.Info("Outlet", "name", outlet, "bang", true) },
	)
}
