package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/go-kit/kit/log"
	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lamassuiot/pkictl/pkg/manifest"
	"github.com/lamassuiot/pkictl/pkg/secrets"
)

type stubService struct {
	report Report
	err    error
}

func (s *stubService) Health(ctx context.Context) (secrets.Health, error) {
	return secrets.Health{Initialized: true, Status: 200}, s.err
}

func (s *stubService) Init(ctx context.Context, opts InitOptions) error { return s.err }

func (s *stubService) Apply(ctx context.Context, m manifest.Manifests) (Report, error) {
	return s.report, s.err
}

type published struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type fakePublisher struct {
	messages []published
	err      error
}

func (p *fakePublisher) Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	p.messages = append(p.messages, published{exchange: exchange, key: key, msg: msg})
	return p.err
}

func testReport() Report {
	return Report{Entities: []EntityReport{
		{Kind: manifest.KindKV, Name: "ca-keys", Existed: true, States: []State{Unmounted, Mounted, Done}},
		{Kind: manifest.KindRootCA, Name: "root-ca", States: []State{Unmounted, Mounted, Generated, URLsConfigured, Done}},
		{Kind: manifest.KindIntermediateCA, Name: "mid", States: []State{Unmounted, Mounted}},
	}}
}

func TestAmqpMiddleware(t *testing.T) {
	p := &fakePublisher{}
	failure := errors.New("failed to mount PKI secrets engine: mid (status 500)")
	srv := NewAmqpMiddleware(p, "pkictl_events", log.NewNopLogger())(&stubService{report: testReport(), err: failure})

	_, err := srv.Apply(context.Background(), manifest.Manifests{})
	assert.Equal(t, failure, err)

	require.Len(t, p.messages, 2)
	for _, m := range p.messages {
		assert.Equal(t, "", m.exchange)
		assert.Equal(t, "pkictl_events", m.key)
		assert.Equal(t, "text/json", m.msg.ContentType)
	}

	var event struct {
		JSONRPC string `json:"jsonrpc"`
		Method  string `json:"method"`
		Params  struct {
			Kind    string `json:"kind"`
			Name    string `json:"name"`
			Existed bool   `json:"existed"`
			State   string `json:"state"`
		} `json:"params"`
	}
	require.NoError(t, json.Unmarshal(p.messages[0].msg.Body, &event))
	assert.Equal(t, "2.0", event.JSONRPC)
	assert.Equal(t, "CA_PROVISIONED", event.Method)
	assert.Equal(t, manifest.KindKV, event.Params.Kind)
	assert.Equal(t, "ca-keys", event.Params.Name)
	assert.True(t, event.Params.Existed)
	assert.Equal(t, "Done", event.Params.State)
}

func TestAmqpMiddlewarePublishFailureIsNotFatal(t *testing.T) {
	p := &fakePublisher{err: errors.New("channel closed")}
	srv := NewAmqpMiddleware(p, "pkictl_events", log.NewNopLogger())(&stubService{report: testReport()})

	report, err := srv.Apply(context.Background(), manifest.Manifests{})
	assert.NoError(t, err)
	assert.Len(t, report.Entities, 3)
	assert.Len(t, p.messages, 2)
}

func TestAmqpMiddlewarePassThrough(t *testing.T) {
	p := &fakePublisher{}
	srv := NewAmqpMiddleware(p, "pkictl_events", log.NewNopLogger())(&stubService{})

	_, err := srv.Health(context.Background())
	assert.NoError(t, err)
	assert.NoError(t, srv.Init(context.Background(), InitOptions{}))
	assert.Empty(t, p.messages)
}

func TestLoggingMiddleware(t *testing.T) {
	var buf bytes.Buffer
	failure := errors.New("the Vault server is sealed")
	srv := LoggingMiddleware(log.NewLogfmtLogger(&buf))(&stubService{report: testReport(), err: failure})

	_, err := srv.Apply(context.Background(), manifest.Manifests{Roots: []manifest.RootCA{{Name: "root-ca"}}})
	assert.Equal(t, failure, err)

	out := buf.String()
	assert.Contains(t, out, "method=Apply")
	assert.Contains(t, out, "root_cas=1")
	assert.Contains(t, out, "reconciled=3")
	assert.Contains(t, out, `err="the Vault server is sealed"`)

	buf.Reset()
	require.Error(t, srv.Init(context.Background(), InitOptions{KeysFile: "vault.log"}))
	assert.Contains(t, buf.String(), "method=Init")
	assert.Contains(t, buf.String(), "keys_file=vault.log")
}
