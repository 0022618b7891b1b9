package observability

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const dbTracerName = "admesh/db"

type contextKey string

const (
	tenantIDContextKey contextKey = "observability.tenant_id"
	platformContextKey contextKey = "observability.platform"
	requestIDKey       contextKey = "observability.request_id"
	routeKey           contextKey = "observability.route"
)

// Span is the application-level tracing span contract.
type Span interface {
	End()
	RecordError(error)
}

type otelSpan struct {
	inner trace.Span
}

// StartDBSpan starts a database tracing span for one query operation.
func StartDBSpan(ctx context.Context, queryName, operation string) (context.Context, Span) {
	queryName = strings.TrimSpace(queryName)
	if queryName == "" {
		queryName = "unknown"
	}
	attrs := []attribute.KeyValue{
		attribute.String("db.system.name", "sqlite"),
		attribute.String("db.query_name", queryName),
		attribute.String("db.operation", strings.TrimSpace(operation)),
	}
	if tenantID, ok := TenantIDFromContext(ctx); ok {
		attrs = append(attrs, attribute.String("admesh.tenant_id", tenantID))
	}
	if platformName, ok := PlatformFromContext(ctx); ok {
		attrs = append(attrs, attribute.String("admesh.platform", platformName))
	}

	ctx, span := otel.Tracer(dbTracerName).Start(ctx, "db."+queryName,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)

	return ctx, otelSpan{inner: span}
}

// WithSyncIdentity enriches context and current span with tenant/platform
// attributes so spans and logs across a sync run correlate.
func WithSyncIdentity(ctx context.Context, tenantID, platformName string) context.Context {
	tenantID = strings.TrimSpace(tenantID)
	platformName = strings.TrimSpace(platformName)
	if tenantID != "" {
		ctx = context.WithValue(ctx, tenantIDContextKey, tenantID)
	}
	if platformName != "" {
		ctx = context.WithValue(ctx, platformContextKey, platformName)
	}
	setSpanIdentityAttributes(ctx, tenantID, platformName)
	return ctx
}

// WithRequestMetadata enriches context and current span with request metadata.
func WithRequestMetadata(ctx context.Context, requestID, route string) context.Context {
	requestID = strings.TrimSpace(requestID)
	route = strings.TrimSpace(route)
	if requestID != "" {
		ctx = context.WithValue(ctx, requestIDKey, requestID)
	}
	if route != "" {
		ctx = context.WithValue(ctx, routeKey, route)
	}
	setSpanRequestAttributes(ctx, requestID, route)
	return ctx
}

// TenantIDFromContext extracts the acting tenant id.
func TenantIDFromContext(ctx context.Context) (string, bool) {
	value, ok := ctx.Value(tenantIDContextKey).(string)
	value = strings.TrimSpace(value)
	return value, ok && value != ""
}

// PlatformFromContext extracts the platform being worked on.
func PlatformFromContext(ctx context.Context) (string, bool) {
	value, ok := ctx.Value(platformContextKey).(string)
	value = strings.TrimSpace(value)
	return value, ok && value != ""
}

// RequestIDFromContext extracts request id.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	value, ok := ctx.Value(requestIDKey).(string)
	value = strings.TrimSpace(value)
	return value, ok && value != ""
}

// RouteFromContext extracts normalized route path.
func RouteFromContext(ctx context.Context) (string, bool) {
	value, ok := ctx.Value(routeKey).(string)
	value = strings.TrimSpace(value)
	return value, ok && value != ""
}

func setSpanIdentityAttributes(ctx context.Context, tenantID, platformName string) {
	span := trace.SpanFromContext(ctx)
	if span == nil {
		return
	}
	attrs := make([]attribute.KeyValue, 0, 2)
	if tenantID != "" {
		attrs = append(attrs, attribute.String("admesh.tenant_id", tenantID))
	}
	if platformName != "" {
		attrs = append(attrs, attribute.String("admesh.platform", platformName))
	}
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
}

func setSpanRequestAttributes(ctx context.Context, requestID, route string) {
	span := trace.SpanFromContext(ctx)
	if span == nil {
		return
	}
	attrs := make([]attribute.KeyValue, 0, 2)
	if requestID != "" {
		attrs = append(attrs, attribute.String("request.id", requestID))
	}
	if route != "" {
		attrs = append(attrs, attribute.String("http.route", route))
	}
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
}

func (s otelSpan) End() {
	if s.inner == nil {
		return
	}
	s.inner.End()
}

func (s otelSpan) RecordError(err error) {
	if s.inner == nil || err == nil {
		return
	}
	s.inner.RecordError(err)
	s.inner.SetStatus(codes.Error, err.Error())
}
