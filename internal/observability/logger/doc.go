// Package logger provides a singleton Zap logger with context-based scoping.
//
// Initialization (once, in main or in the host plugin bootstrap):
//
//	logger.Init(logger.Config{
//	    Env:   os.Getenv("APP_ENV"),   // "dev" or "prod"
//	    Level: os.Getenv("LOG_LEVEL"), // "debug", "info", "warn", "error"
//	})
//	defer logger.Sync()
//
// In services (with context):
//
//	log := logger.From(ctx)
//	log.Info("token exchanged", logger.Provider(providerKey))
//
// Without context (fallback to the singleton):
//
//	logger.L().Info("discovery cache cleared")
package logger
