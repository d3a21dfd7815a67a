package api

import (
	"context"
	"errors"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"

	"github.com/lamassuiot/pkictl/pkg/manifest"
	"github.com/lamassuiot/pkictl/pkg/secrets"
)

type Service interface {
	Health(ctx context.Context) (secrets.Health, error)
	Init(ctx context.Context, opts InitOptions) error
	Apply(ctx context.Context, m manifest.Manifests) (Report, error)
}

type caService struct {
	logger  log.Logger
	secrets secrets.Secrets
	baseURL string
}

var (
	ErrSealed         = errors.New("the Vault server is sealed")
	ErrNotInitialized = errors.New("the Vault server has not been initialized")
	ErrStillSealed    = errors.New("failed to unseal the Vault server: no unseal keys left")
	ErrNoUnsealKeys   = errors.New("failed to unseal the Vault server: no unseal keys available")
)

// NewCAService returns the reconciliation service. baseURL is the public
// address of the Vault server, used in the issuing and CRL URLs written to
// every CA.
func NewCAService(logger log.Logger, secrets secrets.Secrets, baseURL string) Service {
	return &caService{
		logger:  logger,
		secrets: secrets,
		baseURL: baseURL,
	}
}

func (s *caService) Health(ctx context.Context) (secrets.Health, error) {
	resp, err := s.secrets.Do(ctx, healthOperation())
	if err != nil {
		return secrets.Health{}, err
	}
	h := secrets.Health{
		Initialized: resp.Bool("initialized"),
		Sealed:      resp.Bool("sealed"),
		Status:      resp.Status,
	}
	switch resp.Status {
	case 200:
		level.Info(s.logger).Log("msg", "the Vault server has been initialized and is not sealed")
	case 501:
		level.Info(s.logger).Log("msg", "the Vault server has not been initialized")
	case 503:
		level.Warn(s.logger).Log("msg", "the Vault server is sealed")
	}
	return h, nil
}

// Apply reconciles the remote state with the manifests: KV engines first,
// then root CAs, then intermediate CAs ordered by issuer. Manifests are
// checked for issuer cycles before any remote call. The first failure stops
// the run; the report lists what was reconciled until then.
func (s *caService) Apply(ctx context.Context, m manifest.Manifests) (Report, error) {
	var report Report

	kvs := make([]*secrets.KVEngine, 0, len(m.KVEngines))
	for _, kv := range m.KVEngines {
		kvs = append(kvs, secrets.NewKVEngine(kv))
	}
	roots := make([]*secrets.RootCA, 0, len(m.Roots))
	for _, ca := range m.Roots {
		roots = append(roots, secrets.NewRootCA(s.baseURL, ca))
	}
	intermediates := make([]*secrets.IntermediateCA, 0, len(m.Intermediates))
	for _, ca := range m.Intermediates {
		intermediates = append(intermediates, secrets.NewIntermediateCA(s.baseURL, ca))
	}
	intermediates, err := secrets.Order(intermediates)
	if err != nil {
		return report, err
	}

	h, err := s.Health(ctx)
	if err != nil {
		return report, err
	}
	if !h.Initialized {
		return report, ErrNotInitialized
	}
	if h.Sealed {
		return report, ErrSealed
	}

	for _, kv := range kvs {
		r, err := s.reconcileKVEngine(ctx, kv)
		report.add(r)
		if err != nil {
			return report, err
		}
	}
	for _, ca := range roots {
		r, err := s.reconcileRootCA(ctx, ca)
		report.add(r)
		if err != nil {
			return report, err
		}
	}
	for _, ca := range intermediates {
		r, err := s.reconcileIntermediateCA(ctx, ca)
		report.add(r)
		if err != nil {
			return report, err
		}
	}
	return report, nil
}
