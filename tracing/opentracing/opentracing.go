// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package opentracing

import (
	"context"

	"github.com/featurebasedb/tetra/logger"
	"github.com/featurebasedb/tetra/tracing"
	"github.com/opentracing/opentracing-go"
)

// Ensure type implements interface.
var _ tracing.Tracer = (*Tracer)(nil)

// Tracer represents a wrapper for OpenTracing that implements tracing.Tracer.
type Tracer struct {
	tracer opentracing.Tracer
	logger logger.Logger
}

// NewTracer returns a new instance of Tracer.
func NewTracer(tracer opentracing.Tracer, logger logger.Logger) *Tracer {
	return &Tracer{tracer: tracer, logger: logger}
}

// StartSpanFromContext returns a new child span and context from a given context.
func (t *Tracer) StartSpanFromContext(ctx context.Context, operationName string) (tracing.Span, context.Context) {
	var opts []opentracing.StartSpanOption
	if parent := opentracing.SpanFromContext(ctx); parent != nil {
		opts = append(opts, opentracing.ChildOf(parent.Context()))
	}
	span := t.tracer.StartSpan(operationName, opts...)
	return span, opentracing.ContextWithSpan(ctx, span)
}

// Inject writes the span context of ctx into carrier.
func (t *Tracer) Inject(ctx context.Context, carrier map[string]string) {
	span := opentracing.SpanFromContext(ctx)
	if span == nil {
		return
	}
	if err := t.tracer.Inject(span.Context(), opentracing.TextMap, opentracing.TextMapCarrier(carrier)); err != nil {
		t.logger.Errorf("opentracing inject error: %s", err)
	}
}

// Extract starts a span that follows from the span context in carrier.
func (t *Tracer) Extract(ctx context.Context, carrier map[string]string, operationName string) (tracing.Span, context.Context) {
	var opts []opentracing.StartSpanOption
	if wireContext, err := t.tracer.Extract(opentracing.TextMap, opentracing.TextMapCarrier(carrier)); err == nil {
		opts = append(opts, opentracing.FollowsFrom(wireContext))
	} else if err != opentracing.ErrSpanContextNotFound {
		t.logger.Debugf("opentracing extract error: %s", err)
	}
	span := t.tracer.StartSpan(operationName, opts...)
	return span, opentracing.ContextWithSpan(ctx, span)
}
