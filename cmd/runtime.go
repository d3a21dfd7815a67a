package cmd

import (
	"errors"
	"io"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	kitprometheus "github.com/go-kit/kit/metrics/prometheus"
	"github.com/opentracing/opentracing-go"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
	"github.com/streadway/amqp"
	jaegercfg "github.com/uber/jaeger-client-go/config"
	jaegerlog "github.com/uber/jaeger-client-go/log"

	"github.com/lamassuiot/pkictl/pkg/api"
	"github.com/lamassuiot/pkictl/pkg/configs"
	"github.com/lamassuiot/pkictl/pkg/secrets"
	"github.com/lamassuiot/pkictl/pkg/secrets/vault"
)

var (
	errMissingAddress = errors.New("no Vault address given, set VAULT_ADDR or use --url")
	errMissingToken   = errors.New("no Vault token given, set VAULT_TOKEN")
)

// runtime holds the service and everything that must be released once the
// command returns.
type runtime struct {
	logger  log.Logger
	service api.Service
	closers []io.Closer
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func newRuntime(cfg configs.Config, logger log.Logger, requireToken bool) (*runtime, error) {
	if cfg.VaultAddr == "" {
		return nil, errMissingAddress
	}
	if requireToken && cfg.VaultToken == "" {
		return nil, errMissingToken
	}
	rt := &runtime{logger: logger}

	tracer := opentracing.Tracer(opentracing.NoopTracer{})
	if cfg.Tracing {
		jcfg, err := jaegercfg.FromEnv()
		if err != nil {
			level.Error(logger).Log("err", err, "msg", "Could not load Jaeger configuration values from environment")
			return nil, err
		}
		if jcfg.ServiceName == "" {
			jcfg.ServiceName = envPrefix
		}
		t, closer, err := jcfg.NewTracer(jaegercfg.Logger(jaegerlog.StdLogger))
		if err != nil {
			level.Error(logger).Log("err", err, "msg", "Could not start Jaeger tracer")
			return nil, err
		}
		tracer = t
		rt.closers = append(rt.closers, closer)
		level.Info(logger).Log("msg", "Jaeger tracer started")
	}

	var s secrets.Secrets
	{
		var err error
		s, err = vault.NewVaultSecrets(vault.Options{
			Address:       cfg.VaultAddr,
			Token:         cfg.VaultToken,
			CACert:        cfg.VaultCACert,
			TLSSkipVerify: cfg.VaultSkipVerify,
			Timeout:       cfg.RequestTimeout,
		}, logger)
		if err != nil {
			rt.Close()
			return nil, err
		}
		s = secrets.TracingMiddleware(tracer)(s)
		s = secrets.NewInstrumentingMiddleware(
			kitprometheus.NewCounterFrom(stdprometheus.CounterOpts{
				Namespace: "pkictl",
				Subsystem: "vault",
				Name:      "request_count",
				Help:      "Number of requests sent to Vault.",
			}, fieldKeys),
			kitprometheus.NewSummaryFrom(stdprometheus.SummaryOpts{
				Namespace: "pkictl",
				Subsystem: "vault",
				Name:      "request_latency_seconds",
				Help:      "Duration of requests sent to Vault in seconds.",
			}, fieldKeys),
		)(s)
	}

	var svc api.Service
	{
		svc = api.NewCAService(logger, s, cfg.VaultAddr)
		svc = api.LoggingMiddleware(log.With(logger, "component", "service"))(svc)
	}

	if cfg.AmqpURL != "" {
		conn, err := amqp.Dial(cfg.AmqpURL)
		if err != nil {
			level.Error(logger).Log("err", err, "msg", "Could not connect to the AMQP server")
			rt.Close()
			return nil, err
		}
		rt.closers = append(rt.closers, conn)
		ch, err := conn.Channel()
		if err != nil {
			level.Error(logger).Log("err", err, "msg", "Could not open an AMQP channel")
			rt.Close()
			return nil, err
		}
		if _, err := ch.QueueDeclare(cfg.AmqpQueue, true, false, false, false, nil); err != nil {
			level.Error(logger).Log("err", err, "msg", "Could not declare the AMQP queue", "queue", cfg.AmqpQueue)
			rt.Close()
			return nil, err
		}
		svc = api.NewAmqpMiddleware(ch, cfg.AmqpQueue, logger)(svc)
		level.Info(logger).Log("msg", "Publishing provisioning events", "queue", cfg.AmqpQueue)
	}

	if cfg.MetricsFile != "" {
		path := cfg.MetricsFile
		rt.closers = append(rt.closers, closerFunc(func() error {
			return stdprometheus.WriteToTextfile(path, stdprometheus.DefaultGatherer)
		}))
	}

	rt.service = svc
	return rt, nil
}

var fieldKeys = []string{"operation", "outcome"}

// Close releases resources in reverse order of acquisition.
func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i].Close(); err != nil {
			level.Error(rt.logger).Log("err", err, "msg", "Could not release resource")
		}
	}
	rt.closers = nil
}
