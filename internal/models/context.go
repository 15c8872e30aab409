package models

import (
	"context"
)

type requestContextKey struct{}

// RequestContext carries transport-level details of the inbound message
// so downstream components (ledger mirror, logging) can attach them as
// metadata without widening their interfaces.
type RequestContext struct {
	ExternalId string // transport identity of the caller
	RequestId  string // per-request correlation id
	Model      string // completion model selected for the request
}

// WithRequestContext attaches request details to a context.
func WithRequestContext(ctx context.Context, rc *RequestContext) context.Context {
	return context.WithValue(ctx, requestContextKey{}, rc)
}

// GetRequestContext retrieves request details from context, or nil if absent.
func GetRequestContext(ctx context.Context) *RequestContext {
	rc, _ := ctx.Value(requestContextKey{}).(*RequestContext)
	return rc
}
