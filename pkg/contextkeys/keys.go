// Package contextkeys provides centralized context key definitions
//
// All context keys shared between packages are defined here so key usage
// is discoverable in one place.
//
//	import "github.com/platinummonkey/biller/pkg/contextkeys"
//	ctx = context.WithValue(ctx, contextkeys.RequestIDKey, id)
//	id, _ := ctx.Value(contextkeys.RequestIDKey).(string)
package contextkeys

// Key is the type for context keys to prevent collisions
type Key string

const (
	// RequestIDKey contains request ID string (UUID)
	// Set by: httputil.RequestIDMiddleware
	// Used by: Logger, error responses
	// Type: string
	RequestIDKey Key = "request_id"

	// LoggerKey contains the request scoped logger
	// Set by: httputil.RequestIDMiddleware
	// Used by: observability.FromContext
	// Type: logrus.FieldLogger
	LoggerKey Key = "logger"

	// TriggerKey contains what started a billing run
	// Set by: billing.WithTrigger (scheduler, API handlers)
	// Used by: Run reports
	// Type: string
	TriggerKey Key = "billing_trigger"
)
