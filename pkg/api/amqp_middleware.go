package api

import (
	"context"
	"encoding/json"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/lamassuiot/pkictl/pkg/manifest"
	"github.com/lamassuiot/pkictl/pkg/secrets"
	"github.com/streadway/amqp"
)

// Publisher is the part of *amqp.Channel the middleware needs.
type Publisher interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

type amqpMiddleware struct {
	publisher Publisher
	queue     string
	logger    log.Logger
	next      Service
}

// NewAmqpMiddleware publishes a CA_PROVISIONED event for every entity an
// Apply run reconciled. Publishing failures are logged and never fail the
// run.
func NewAmqpMiddleware(publisher Publisher, queue string, logger log.Logger) Middleware {
	return func(next Service) Service {
		return &amqpMiddleware{
			publisher: publisher,
			queue:     queue,
			logger:    logger,
			next:      next,
		}
	}
}

type provisionedEvent struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  provisionedParams `json:"params"`
}

type provisionedParams struct {
	Kind    string `json:"kind"`
	Name    string `json:"name"`
	Existed bool   `json:"existed"`
	State   State  `json:"state"`
}

func (mw *amqpMiddleware) Health(ctx context.Context) (secrets.Health, error) {
	return mw.next.Health(ctx)
}

func (mw *amqpMiddleware) Init(ctx context.Context, opts InitOptions) error {
	return mw.next.Init(ctx, opts)
}

func (mw *amqpMiddleware) Apply(ctx context.Context, m manifest.Manifests) (report Report, err error) {
	defer func() {
		for _, e := range report.Entities {
			if e.Final() != Done {
				continue
			}
			mw.publish(e)
		}
	}()
	return mw.next.Apply(ctx, m)
}

func (mw *amqpMiddleware) publish(e EntityReport) {
	body, err := json.Marshal(provisionedEvent{
		JSONRPC: "2.0",
		Method:  "CA_PROVISIONED",
		Params: provisionedParams{
			Kind:    e.Kind,
			Name:    e.Name,
			Existed: e.Existed,
			State:   e.Final(),
		},
	})
	if err != nil {
		level.Error(mw.logger).Log("msg", "Error while encoding AMQP message", "err", err)
		return
	}
	err = mw.publisher.Publish("", mw.queue, false, false, amqp.Publishing{
		ContentType: "text/json",
		Body:        body,
	})
	if err != nil {
		level.Error(mw.logger).Log("msg", "Error while publishing to AMQP queue", "err", err, "name", e.Name)
	}
}
