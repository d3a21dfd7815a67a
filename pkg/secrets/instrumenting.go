package secrets

import (
	"context"
	"time"

	"github.com/go-kit/kit/metrics"
)

type instrumentingMiddleware struct {
	requestCount   metrics.Counter
	requestLatency metrics.Histogram
	next           Secrets
}

// NewInstrumentingMiddleware counts remote operations and observes their
// latency, labelled by operation name and outcome.
func NewInstrumentingMiddleware(counter metrics.Counter, latency metrics.Histogram) Middleware {
	return func(next Secrets) Secrets {
		return &instrumentingMiddleware{
			requestCount:   counter,
			requestLatency: latency,
			next:           next,
		}
	}
}

func (mw *instrumentingMiddleware) GetSecretProviderName(ctx context.Context) string {
	return mw.next.GetSecretProviderName(ctx)
}

func (mw *instrumentingMiddleware) Do(ctx context.Context, op Operation) (resp Response, err error) {
	defer func(begin time.Time) {
		outcome := resp.Outcome.String()
		if err != nil {
			outcome = OtherFailure.String()
			if resp.Outcome != Success {
				outcome = resp.Outcome.String()
			}
		}
		lvs := []string{"operation", op.Name, "outcome", outcome}
		mw.requestCount.With(lvs...).Add(1)
		mw.requestLatency.With(lvs...).Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mw.next.Do(ctx, op)
}
