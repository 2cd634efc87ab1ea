package observability

import "github.com/chairside/chairside/internal/logger"

// Package-level cached logger instance for efficiency.
var log = logger.Global().Module("metrics")
