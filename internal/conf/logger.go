package conf

import "github.com/chairside/chairside/internal/logger"

// GetLogger returns the config package logger. It is fetched on each call
// because the central logger is installed after configuration is read.
func GetLogger() logger.Logger {
	return logger.Global().Module("config")
}
