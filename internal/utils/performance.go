// Package utils holds small cross-cutting helpers with no natural home in
// internal/engine or internal/driver.
package utils

import (
	"time"

	"github.com/rs/zerolog"
)

// OperationTimer returns a defer-friendly stop function that logs how long
// the calling operation took — used to time a whole backtest run without
// threading a timer object through the driver loop.
//
// Usage:
//
//	defer utils.OperationTimer("backtest_run", log)()
func OperationTimer(operation string, log zerolog.Logger) func() {
	start := time.Now()

	return func() {
		duration := time.Since(start)

		log.Debug().
			Str("operation", operation).
			Dur("duration_ms", duration).
			Msg("operation completed")

		if duration > 30*time.Second {
			log.Warn().
				Str("operation", operation).
				Dur("duration", duration).
				Msg("slow operation detected")
		}
	}
}
