package api

import (
	"context"
	"time"

	"github.com/lamassuiot/pkictl/pkg/manifest"
	"github.com/lamassuiot/pkictl/pkg/secrets"

	"github.com/go-kit/kit/log"
)

type Middleware func(Service) Service

func LoggingMiddleware(logger log.Logger) Middleware {
	return func(next Service) Service {
		return &loggingMiddleware{
			next:   next,
			logger: logger,
		}
	}
}

type loggingMiddleware struct {
	next   Service
	logger log.Logger
}

func (mw loggingMiddleware) Health(ctx context.Context) (h secrets.Health, err error) {
	defer func(begin time.Time) {
		mw.logger.Log(
			"method", "Health",
			"initialized", h.Initialized,
			"sealed", h.Sealed,
			"took", time.Since(begin),
			"err", err,
		)
	}(time.Now())
	return mw.next.Health(ctx)
}

func (mw loggingMiddleware) Init(ctx context.Context, opts InitOptions) (err error) {
	defer func(begin time.Time) {
		mw.logger.Log(
			"method", "Init",
			"keys_file", opts.KeysFile,
			"token_file", opts.TokenFile,
			"took", time.Since(begin),
			"err", err,
		)
	}(time.Now())
	return mw.next.Init(ctx, opts)
}

func (mw loggingMiddleware) Apply(ctx context.Context, m manifest.Manifests) (report Report, err error) {
	defer func(begin time.Time) {
		mw.logger.Log(
			"method", "Apply",
			"kv_engines", len(m.KVEngines),
			"root_cas", len(m.Roots),
			"intermediate_cas", len(m.Intermediates),
			"reconciled", len(report.Entities),
			"took", time.Since(begin),
			"err", err,
		)
	}(time.Now())
	return mw.next.Apply(ctx, m)
}
