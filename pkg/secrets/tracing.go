package secrets

import (
	"context"

	stdopentracing "github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
)

type tracingMiddleware struct {
	tracer stdopentracing.Tracer
	next   Secrets
}

// TracingMiddleware opens one span per remote operation.
func TracingMiddleware(tracer stdopentracing.Tracer) Middleware {
	return func(next Secrets) Secrets {
		return &tracingMiddleware{tracer: tracer, next: next}
	}
}

func (mw *tracingMiddleware) GetSecretProviderName(ctx context.Context) string {
	return mw.next.GetSecretProviderName(ctx)
}

func (mw *tracingMiddleware) Do(ctx context.Context, op Operation) (Response, error) {
	span, ctx := stdopentracing.StartSpanFromContextWithTracer(ctx, mw.tracer, op.Name)
	defer span.Finish()

	ext.SpanKindRPCClient.Set(span)
	ext.HTTPMethod.Set(span, op.Method)
	ext.HTTPUrl.Set(span, op.Path)
	span.SetTag("entity", op.Entity)

	resp, err := mw.next.Do(ctx, op)
	if resp.Status != 0 {
		ext.HTTPStatusCode.Set(span, uint16(resp.Status))
	}
	span.SetTag("outcome", resp.Outcome.String())
	if err != nil {
		ext.Error.Set(span, true)
		span.LogKV("event", "error", "message", err.Error())
	}
	return resp, err
}
