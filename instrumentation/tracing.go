package instrumentation

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span attribute names shared across layers. Values never include token
// material; identifiers only.
const (
	AttrClientID     = "oauth.client_id"
	AttrClientType   = "oauth.client_type"
	AttrUserID       = "oauth.user_id"
	AttrScope        = "oauth.scope"
	AttrResponseType = "oauth.response_type"
	AttrErrorCode    = "oauth.error_code"
	AttrTokenType    = "oauth.token_type" //nolint:gosec // token *type*, not a credential
)

// RecordError records an error on the span and marks it failed
func RecordError(span trace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetSpanSuccess marks the span as successful
func SetSpanSuccess(span trace.Span) {
	if span == nil {
		return
	}
	span.SetStatus(codes.Ok, "")
}

// SetSpanError marks the span as failed with a message
func SetSpanError(span trace.Span, message string) {
	if span == nil {
		return
	}
	span.SetStatus(codes.Error, message)
}

// SetSpanAttributes sets attributes on the span if it is non-nil
func SetSpanAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	if span == nil {
		return
	}
	span.SetAttributes(attrs...)
}

// AddAuthorizationAttributes annotates a span with the identifiers of an
// authorization exchange.
func AddAuthorizationAttributes(span trace.Span, clientID, responseType, scope string) {
	SetSpanAttributes(span,
		attribute.String(AttrClientID, clientID),
		attribute.String(AttrResponseType, responseType),
		attribute.String(AttrScope, scope),
	)
}
