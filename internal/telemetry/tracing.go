package telemetry

import (
	"github.com/pitabwire/frame/telemetry"
)

// Service tracers for different components.
//
//nolint:gochecknoglobals // OpenTelemetry tracers must be global for instrumentation
var (
	GatewayTracer      = telemetry.NewTracer("messaging.gateway")
	DeliveryTracer     = telemetry.NewTracer("messaging.delivery")
	NotificationTracer = telemetry.NewTracer("messaging.notification")
)
