package logger

// SetupLogger replaces the default logger using runtime settings resolved by the CLI.
func SetupLogger(logLevel string, logJSON, logSource bool) {
	cfg := DefaultConfig()
	cfg.Level = ParseLevel(logLevel)
	cfg.JSON = logJSON
	cfg.AddSource = logSource
	Init(cfg)
}
