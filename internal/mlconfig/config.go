// Package mlconfig assembles the evaluator's tunables into one Config
// struct: one file per concern, defaults overridable by MLLD_*
// environment variables.
package mlconfig

import (
	"os"
	"strconv"
)

// Mode selects the entry driver's output rendering target.
type Mode string

const (
	ModeStrict   Mode = "strict"
	ModeMarkdown Mode = "markdown"
	ModeXML      Mode = "xml"
)

// Config is the evaluator's full tunable surface, built via Load().
type Config struct {
	Logging LoggingConfig
	Limits  LimitsConfig
	Policy  PolicyConfig
	Mode    Mode
}

// Load builds a Config from defaults overridden by environment variables.
func Load() Config {
	return Config{
		Logging: loadLoggingConfig(),
		Limits: loadLimitsConfig(),
		Policy: loadPolicyConfig(),
		Mode: ModeStrict,
	}
}

func envInt(name string, def int) int {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envBool(name string, def bool) bool {
	if v := os.Getenv(name); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envString(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}
