// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package tracing is the small tracing surface the space records
// transactions through. The default tracer does nothing.
package tracing

import (
	"context"
)

// GlobalTracer is a single, global instance of Tracer.
var GlobalTracer Tracer = NopTracer()

// StartSpanFromContext returns a new child span and context from a given
// context using the global tracer.
func StartSpanFromContext(ctx context.Context, operationName string) (Span, context.Context) {
	return GlobalTracer.StartSpanFromContext(ctx, operationName)
}

// Tracer implements a generic tracing interface.
type Tracer interface {
	// Returns a new child span and context from a given context.
	StartSpanFromContext(ctx context.Context, operationName string) (Span, context.Context)

	// Writes the span context of ctx into carrier so a requeued
	// transaction can be linked to the attempt that first ran it.
	Inject(ctx context.Context, carrier map[string]string)

	// Starts a span following from the span context stored in carrier.
	Extract(ctx context.Context, carrier map[string]string, operationName string) (Span, context.Context)
}

// Span represents a single span in a trace.
type Span interface {
	Finish()
	LogKV(alternatingKeyValues ...interface{})
}

// NopTracer returns a tracer that doesn't do anything.
func NopTracer() Tracer {
	return nopTracer{}
}

type nopTracer struct{}

func (nopTracer) StartSpanFromContext(ctx context.Context, _ string) (Span, context.Context) {
	return nopSpan{}, ctx
}

func (nopTracer) Inject(context.Context, map[string]string) {}

func (nopTracer) Extract(ctx context.Context, _ map[string]string, _ string) (Span, context.Context) {
	return nopSpan{}, ctx
}

type nopSpan struct{}

func (nopSpan) Finish()              {}
func (nopSpan) LogKV(...interface{}) {}
