// Package ctxutil stores per-request values on a context.Context.
package ctxutil

import (
	"context"

	"github.com/google/uuid"
)

type ctxKey uint8

const (
	callerKey ctxKey = iota + 1
	traceKey
)

// RequestData identifies the authenticated caller.
type RequestData struct {
	UserID uuid.UUID
}

// TraceData ties log lines and stored errors to one request.
type TraceData struct {
	TraceID   string
	RequestID string
}

func WithRequestData(ctx context.Context, rd *RequestData) context.Context {
	return context.WithValue(ctx, callerKey, rd)
}

func GetRequestData(ctx context.Context) *RequestData {
	rd, _ := lookup(ctx, callerKey).(*RequestData)
	return rd
}

func WithTraceData(ctx context.Context, td *TraceData) context.Context {
	return context.WithValue(ctx, traceKey, td)
}

func GetTraceData(ctx context.Context) *TraceData {
	td, _ := lookup(ctx, traceKey).(*TraceData)
	return td
}

// CorrelationID prefers the request id and falls back to the trace id.
func CorrelationID(ctx context.Context) string {
	td := GetTraceData(ctx)
	switch {
	case td == nil:
		return ""
	case td.RequestID != "":
		return td.RequestID
	default:
		return td.TraceID
	}
}

func lookup(ctx context.Context, k ctxKey) any {
	if ctx == nil {
		return nil
	}
	return ctx.Value(k)
}
