package mlconfig

// LoggingConfig controls obslog verbosity and audit emission.
type LoggingConfig struct {
	// Debug mirrors MLLD_DEBUG: verbose tracing.
	Debug bool
	// DebugIDs mirrors MLLD_DEBUG_IDS: targeted id-tracing channel.
	DebugIDs bool
	// DebugFix mirrors MLLD_DEBUG_FIX: targeted fix-tracing channel.
	DebugFix bool
	// AuditEnabled turns on the in-memory audit trail (internal/obslog).
	AuditEnabled bool
}

func loadLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Debug:        envBool("MLLD_DEBUG", false),
		DebugIDs:     envBool("MLLD_DEBUG_IDS", false),
		DebugFix:     envBool("MLLD_DEBUG_FIX", false),
		AuditEnabled: envBool("MLLD_AUDIT_ENABLED", true),
	}
}
