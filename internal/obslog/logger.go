// Package obslog provides the evaluator's structured logger, built on
// go.uber.org/zap: one process-wide logger, debug verbosity gated by an
// environment variable, sugared for call sites.
package obslog

import (
	"os"
	"sync"

	"go.uber.org/zap"
)

var (
	once   sync.Once
	logger *zap.SugaredLogger
)

// Get returns the process-wide logger, building it on first use, with
// MLLD_DEBUG switching it from production to development (verbose tracing) mode.
func Get() *zap.SugaredLogger {
	once.Do(func() {
		var z *zap.Logger
		var err error
		if os.Getenv("MLLD_DEBUG") != "" {
			z, err = zap.NewDevelopment()
		} else {
			z, err = zap.NewProduction()
		}
		if err != nil {
			z = zap.NewNop()
		}
		logger = z.Sugar()
	})
	return logger
}

// Reset rebuilds the logger on next Get(), used by tests that toggle
// MLLD_DEBUG mid-run.
func Reset() {
	once = sync.Once{}
}

// DebugIDsEnabled reports whether MLLD_DEBUG_IDS tracing is requested.
func DebugIDsEnabled() bool { return os.Getenv("MLLD_DEBUG_IDS") != "" }

// DebugFixEnabled reports whether MLLD_DEBUG_FIX tracing is requested.
func DebugFixEnabled() bool { return os.Getenv("MLLD_DEBUG_FIX") != "" }
