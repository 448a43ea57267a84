package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Standard attribute keys used across span annotations in this module.
const (
	AttrRoute      = "gateway.route"
	AttrProtocol   = "gateway.protocol"
	AttrBackend    = "gateway.backend"
	AttrHTTPMethod = "gateway.http_method"
	AttrHTTPPath   = "gateway.http_path"

	AttrTicketID   = "orch.ticket_id"
	AttrCacheName  = "orch.cache_name"
	AttrKey        = "orch.key"
	AttrRevision   = "orch.revision"

	AttrBatchID  = "orch.batch_id"
	AttrVolumeID = "orch.volume_id"
	AttrExitCode = "orch.exit_code"
)

// RouteAttributes returns attributes describing a matched route.
func RouteAttributes(route, protocol, backend string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrRoute, route),
		attribute.String(AttrProtocol, protocol),
		attribute.String(AttrBackend, backend),
	}
}

// HTTPAttributes returns attributes describing the inbound HTTP request
// that a REST_MAP binding is translating.
func HTTPAttributes(method, path string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrHTTPMethod, method),
		attribute.String(AttrHTTPPath, path),
	}
}

// TicketAttributes returns attributes describing a ticket cache operation.
func TicketAttributes(cacheName, key, ticketID string, revision int64) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrCacheName, cacheName),
		attribute.String(AttrKey, key),
		attribute.String(AttrTicketID, ticketID),
		attribute.Int64(AttrRevision, revision),
	}
}

// BatchAttributes returns attributes describing a batch execution.
func BatchAttributes(batchID string, exitCode int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrBatchID, batchID),
		attribute.Int(AttrExitCode, exitCode),
	}
}
