// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package opentracing_test

import (
	"context"
	"testing"

	"github.com/featurebasedb/tetra/logger"
	tracer "github.com/featurebasedb/tetra/tracing/opentracing"
	"github.com/opentracing/opentracing-go/mocktracer"
	"github.com/stretchr/testify/require"
)

func TestTracerFollowsRequeuedWork(t *testing.T) {
	mock := mocktracer.New()
	tr := tracer.NewTracer(mock, logger.NopLogger)

	span, ctx := tr.StartSpanFromContext(context.Background(), "insert")
	carrier := map[string]string{}
	tr.Inject(ctx, carrier)
	require.NotEmpty(t, carrier)
	span.Finish()

	retry, rctx := tr.Extract(context.Background(), carrier, "insert.retry")
	child, _ := tr.StartSpanFromContext(rctx, "commit")
	child.Finish()
	retry.Finish()

	spans := mock.FinishedSpans()
	require.Len(t, spans, 3)
	require.Equal(t, spans[0].SpanContext.TraceID, spans[2].SpanContext.TraceID)
	require.Equal(t, spans[2].SpanContext.SpanID, spans[1].ParentID)
}
