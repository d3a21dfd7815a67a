package vault

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/vault/api"
	"github.com/hashicorp/vault/sdk/helper/jsonutil"

	"github.com/lamassuiot/pkictl/pkg/secrets"
)

// DefaultTimeout bounds every request so a hung connection turns into an error.
const DefaultTimeout = 80 * time.Second

type Options struct {
	Address       string
	Token         string
	CACert        string
	TLSSkipVerify bool
	Timeout       time.Duration
}

type vaultSecrets struct {
	client *api.Client
	logger log.Logger
}

// NewVaultSecrets builds a client talking to a single Vault endpoint. No
// retries are performed: every failure surfaces to the caller.
func NewVaultSecrets(opts Options, logger log.Logger) (secrets.Secrets, error) {
	conf := api.DefaultConfig()
	if conf.Error != nil {
		level.Error(logger).Log("err", conf.Error, "msg", "Could not read Vault API client environment")
		return nil, conf.Error
	}
	conf.Address = opts.Address
	conf.HttpClient = cleanhttp.DefaultPooledClient()
	conf.MaxRetries = 0
	conf.Timeout = opts.Timeout
	if conf.Timeout <= 0 {
		conf.Timeout = DefaultTimeout
	}
	conf.HttpClient.Timeout = conf.Timeout

	if opts.CACert != "" || opts.TLSSkipVerify {
		tlsConf := &api.TLSConfig{CACert: opts.CACert, Insecure: opts.TLSSkipVerify}
		if err := conf.ConfigureTLS(tlsConf); err != nil {
			level.Error(logger).Log("err", err, "msg", "Could not configure TLS for Vault API client")
			return nil, err
		}
	}

	client, err := api.NewClient(conf)
	if err != nil {
		level.Error(logger).Log("err", err, "msg", "Could not create Vault API client")
		return nil, err
	}
	client.SetToken(opts.Token)

	return &vaultSecrets{client: client, logger: logger}, nil
}

func (vs *vaultSecrets) GetSecretProviderName(ctx context.Context) string {
	return "Hashicorp_Vault"
}

func (vs *vaultSecrets) Do(ctx context.Context, op secrets.Operation) (secrets.Response, error) {
	req := vs.client.NewRequest(op.Method, op.Path)
	if op.Body != nil {
		if err := req.SetJSONBody(op.Body); err != nil {
			return secrets.Response{}, err
		}
	}

	resp, err := vs.client.RawRequestWithContext(ctx, req)
	if resp == nil || resp.Response == nil {
		if err == nil {
			err = errors.New("empty response")
		}
		return secrets.Response{}, &secrets.TransportError{Op: op.Name, Entity: op.Entity, Err: err}
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return secrets.Response{}, &secrets.TransportError{Op: op.Name, Entity: op.Entity, Err: readErr}
	}

	level.Debug(vs.logger).Log(
		"method", op.Method,
		"url", req.URL.String(),
		"status", resp.StatusCode,
		"body", string(body),
	)

	out := secrets.Response{Status: resp.StatusCode, Outcome: op.Classify(resp.StatusCode)}
	if len(bytes.TrimSpace(body)) > 0 && resp.StatusCode != http.StatusNoContent {
		var decoded map[string]interface{}
		if err := jsonutil.DecodeJSON(body, &decoded); err == nil {
			out.Body = decoded
		} else {
			level.Debug(vs.logger).Log("msg", "Response body is not a JSON object", "operation", op.Name)
		}
	}

	return out, secrets.NewError(op, out.Outcome, resp.StatusCode)
}
