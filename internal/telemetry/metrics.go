// Package telemetry provides OpenTelemetry metrics and tracing for the messaging service.
package telemetry

import "github.com/pitabwire/frame/telemetry"

// Message metrics track the primary delivery path.
//
//nolint:gochecknoglobals // OpenTelemetry metrics must be global for instrumentation
var (
	MessagesSentCounter = telemetry.DimensionlessMeasure(
		"",
		"messaging.messages.sent",
		"Total messages accepted from senders",
	)

	MessagesDeliveredCounter = telemetry.DimensionlessMeasure(
		"",
		"messaging.messages.delivered",
		"Total messages delivered to a live receiver connection",
	)

	MessagesQueuedCounter = telemetry.DimensionlessMeasure(
		"",
		"messaging.messages.queued",
		"Total messages buffered for an offline receiver",
	)

	MessagesReplayedCounter = telemetry.DimensionlessMeasure(
		"",
		"messaging.messages.replayed",
		"Total backlog messages replayed on reconnect",
	)

	MessagesEvictedCounter = telemetry.DimensionlessMeasure(
		"",
		"messaging.messages.evicted",
		"Total backlog messages evicted by the per-receiver depth cap",
	)

	MessagesFailedCounter = telemetry.DimensionlessMeasure(
		"",
		"messaging.messages.failed",
		"Total message sends that failed to persist",
	)
)

// Connection metrics track session lifecycle on the gateway.
//
//nolint:gochecknoglobals // OpenTelemetry metrics must be global for instrumentation
var (
	ConnectionsOpenedCounter = telemetry.DimensionlessMeasure(
		"",
		"messaging.connections.opened",
		"Total connections accepted by the gateway",
	)

	ConnectionsAuthenticatedCounter = telemetry.DimensionlessMeasure(
		"",
		"messaging.connections.authenticated",
		"Total connections that completed authentication",
	)

	ConnectionsRejectedCounter = telemetry.DimensionlessMeasure(
		"",
		"messaging.connections.rejected",
		"Total connections closed for failed authentication",
	)
)

// Notification metrics track the secondary fanout pipeline.
//
//nolint:gochecknoglobals // OpenTelemetry metrics must be global for instrumentation
var (
	NotificationsPersistedCounter = telemetry.DimensionlessMeasure(
		"",
		"messaging.notifications.persisted",
		"Total notifications written to the store",
	)

	NotificationsEmittedCounter = telemetry.DimensionlessMeasure(
		"",
		"messaging.notifications.emitted",
		"Total notifications emitted to a live connection",
	)

	NotificationsFailedCounter = telemetry.DimensionlessMeasure(
		"",
		"messaging.notifications.failed",
		"Total notification persistence failures",
	)

	DeliveryLatencyHistogram = telemetry.LatencyMeasure(
		"messaging.delivery",
	)
)
