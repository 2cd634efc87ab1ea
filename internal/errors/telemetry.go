// Package errors - telemetry integration (optional)
package errors

import (
	"fmt"
	"regexp"
	"sync/atomic"

	"github.com/getsentry/sentry-go"
)

// TelemetryReporter is an interface for reporting errors to telemetry systems
type TelemetryReporter interface {
	ReportError(err *EnhancedError)
	IsEnabled() bool
}

var telemetryReporter atomic.Pointer[TelemetryReporter]

// SetTelemetryReporter installs the reporter used by Build. Passing nil
// disables telemetry.
func SetTelemetryReporter(reporter TelemetryReporter) {
	if reporter == nil {
		telemetryReporter.Store(nil)
	} else {
		telemetryReporter.Store(&reporter)
	}
	refreshActiveReporting()
}

// SentryReporter implements TelemetryReporter for Sentry
type SentryReporter struct {
	enabled bool
}

// NewSentryReporter creates a new Sentry telemetry reporter
func NewSentryReporter(enabled bool) *SentryReporter {
	return &SentryReporter{enabled: enabled}
}

// InitSentry initializes the Sentry SDK and installs a SentryReporter.
func InitSentry(dsn, release string) error {
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Release:          release,
		AttachStacktrace: false,
		SendDefaultPII:   false,
	}); err != nil {
		return fmt.Errorf("sentry init: %w", err)
	}
	SetTelemetryReporter(NewSentryReporter(true))
	return nil
}

// IsEnabled returns whether Sentry telemetry is enabled
func (sr *SentryReporter) IsEnabled() bool {
	return sr.enabled
}

// ReportError reports an enhanced error to Sentry with privacy protection
func (sr *SentryReporter) ReportError(ee *EnhancedError) {
	if !sr.enabled || ee.IsReported() {
		return
	}

	message := scrubMessage(fmt.Sprintf("[%s] %s", ee.Category, ee.Error()))

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", ee.GetComponent())
		scope.SetTag("category", string(ee.Category))
		for key, value := range ee.GetContext() {
			if s, ok := value.(string); ok {
				value = scrubMessage(s)
			}
			scope.SetContext(key, map[string]any{"value": value})
		}
		scope.SetLevel(levelFor(ee.Category))
		scope.SetFingerprint([]string{ee.GetComponent(), string(ee.Category)})
		sentry.CaptureMessage(message)
	})

	ee.MarkReported()
}

// levelFor maps a category to a Sentry level. Protocol violations are
// warnings: they are logged and ignored by the capture pipeline.
func levelFor(category ErrorCategory) sentry.Level {
	switch category {
	case CategoryDeviceUnavailable, CategoryStorage:
		return sentry.LevelError
	case CategoryProtocolViolation, CategoryConfigurationFailed, CategoryCaptureFailed:
		return sentry.LevelWarning
	case CategoryPermissionDenied, CategoryValidation:
		return sentry.LevelInfo
	default:
		return sentry.LevelError
	}
}

// Patient identifiers can end up in file names and tag values.
var (
	pathPattern  = regexp.MustCompile(`(/[^\s/]+)+/([^\s/]+)`)
	tokenPattern = regexp.MustCompile(`(?i)(token|dsn|password)=[^\s&]+`)
)

func scrubMessage(msg string) string {
	msg = tokenPattern.ReplaceAllString(msg, "$1=[REDACTED]")
	return pathPattern.ReplaceAllString(msg, "[PATH]/$2")
}

// reportToTelemetry fans an error out to the event bus and/or the reporter.
func reportToTelemetry(ee *EnhancedError) {
	publishToEventBus(ee)

	if r := telemetryReporter.Load(); r != nil && (*r).IsEnabled() {
		(*r).ReportError(ee)
	}
}
