package mlconfig

import "os"

// LimitsConfig bounds the pipeline state machine's retry behaviour.
type LimitsConfig struct {
	// MaxRetriesPerStage bounds attempt for a single stage. Default 3.
	MaxRetriesPerStage int
	// MaxGlobalRetries bounds globalAttempt across the whole pipeline.
	// Default 9.
	MaxGlobalRetries int
	// ModuleCacheDir is where internal/modcache persists resolved modules.
	ModuleCacheDir string
}

func loadLimitsConfig() LimitsConfig {
	return LimitsConfig{
		MaxRetriesPerStage: envInt("MLLD_PIPELINE_MAX_RETRIES_PER_STAGE", 3),
		MaxGlobalRetries: envInt("MLLD_PIPELINE_MAX_GLOBAL_RETRIES", 9),
		ModuleCacheDir: envString("MLLD_MODULE_CACHE_DIR", defaultModuleCacheDir()),
	}
}

func defaultModuleCacheDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".mlld/cache"
	}
	return home + "/.mlld/cache"
}
