package secrets

import (
	"fmt"
	"strings"

	"github.com/lamassuiot/pkictl/pkg/manifest"
)

// Backend is the body of a mount request.
type Backend struct {
	Type        string                 `json:"type"`
	Description string                 `json:"description"`
	Config      map[string]interface{} `json:"config,omitempty"`
	Options     map[string]string      `json:"options,omitempty"`
}

// URLConfig is the body of a config/urls request.
type URLConfig struct {
	IssuingCertificates   string `json:"issuing_certificates"`
	CRLDistributionPoints string `json:"crl_distribution_points"`
}

// CertificateAuthority is the capability shared by root and intermediate CAs.
type CertificateAuthority interface {
	Name() string
	Description() string
	// Spec is the request body sent when generating the CA: the manifest
	// spec with the subject fields folded into the top level.
	Spec() map[string]interface{}
	Backend() Backend
	URLs() URLConfig
	MountPath() string
	GeneratePath() string
	CAPemPath() string
	ConfigURLsPath() string
}

type caBase struct {
	baseURL     string
	name        string
	description string
	ttl         string
	spec        map[string]interface{}
}

func newCABase(baseURL string, m manifest.RootCA) caBase {
	spec := map[string]interface{}{
		"key_type":             m.KeyType,
		"key_bits":             m.KeyBits,
		"ttl":                  m.TTL,
		"exclude_cn_from_sans": m.ExcludeCNFromSANs,
		"common_name":          m.Subject.CommonName,
	}
	optional := map[string]string{
		"country":      m.Subject.Country,
		"locality":     m.Subject.Locality,
		"province":     m.Subject.Province,
		"organization": m.Subject.Organization,
		"ou":           m.Subject.OU,
	}
	for k, v := range optional {
		if v != "" {
			spec[k] = v
		}
	}
	return caBase{
		baseURL:     strings.TrimRight(baseURL, "/"),
		name:        m.Name,
		description: m.Description,
		ttl:         m.TTL,
		spec:        spec,
	}
}

func (c caBase) Name() string        { return c.name }
func (c caBase) Description() string { return c.description }
func (c caBase) TTL() string         { return c.ttl }

func (c caBase) Spec() map[string]interface{} {
	spec := make(map[string]interface{}, len(c.spec))
	for k, v := range c.spec {
		spec[k] = v
	}
	return spec
}

func (c caBase) Backend() Backend {
	return Backend{
		Type:        "pki",
		Description: c.description,
		Config:      map[string]interface{}{"max_lease_ttl": c.ttl},
	}
}

func (c caBase) URLs() URLConfig {
	return URLConfig{
		IssuingCertificates:   fmt.Sprintf("%s/v1/%s/ca", c.baseURL, c.name),
		CRLDistributionPoints: fmt.Sprintf("%s/v1/%s/crl", c.baseURL, c.name),
	}
}

func (c caBase) MountPath() string      { return mountPath(c.name) }
func (c caBase) CAPemPath() string      { return fmt.Sprintf("/v1/%s/ca/pem", c.name) }
func (c caBase) ConfigURLsPath() string { return fmt.Sprintf("/v1/%s/config/urls", c.name) }

// RootCA is a self-signed CA generated in a single call.
type RootCA struct {
	caBase
}

func NewRootCA(baseURL string, m manifest.RootCA) *RootCA {
	return &RootCA{caBase: newCABase(baseURL, m)}
}

func (c *RootCA) GeneratePath() string {
	return fmt.Sprintf("/v1/%s/root/generate/internal", c.name)
}

// IntermediateCA is a CA whose certificate is signed by its issuer.
type IntermediateCA struct {
	caBase
	issuer   string
	kvEngine string
	caType   string
	crl      manifest.CRLConfig
	roles    []manifest.Role
	policies []manifest.Policy
}

func NewIntermediateCA(baseURL string, m manifest.IntermediateCA) *IntermediateCA {
	base := newCABase(baseURL, m.RootCA)
	base.spec["type"] = m.Type
	base.spec["max_path_length"] = m.MaxPathLength
	return &IntermediateCA{
		caBase:   base,
		issuer:   m.Issuer,
		kvEngine: m.KVEngine,
		caType:   m.Type,
		crl:      m.CRL,
		roles:    m.Roles,
		policies: m.Policies,
	}
}

func (c *IntermediateCA) Issuer() string   { return c.issuer }
func (c *IntermediateCA) KVEngine() string { return c.kvEngine }
func (c *IntermediateCA) Type() string     { return c.caType }
func (c *IntermediateCA) Exported() bool   { return c.caType == manifest.TypeExported }

func (c *IntermediateCA) CRL() manifest.CRLConfig     { return c.crl }
func (c *IntermediateCA) Roles() []manifest.Role      { return c.roles }
func (c *IntermediateCA) Policies() []manifest.Policy { return c.policies }

func (c *IntermediateCA) GeneratePath() string {
	return fmt.Sprintf("/v1/%s/intermediate/generate/%s", c.name, c.caType)
}

func (c *IntermediateCA) SignPath() string {
	return fmt.Sprintf("/v1/%s/root/sign-intermediate", c.issuer)
}

func (c *IntermediateCA) SetSignedPath() string {
	return fmt.Sprintf("/v1/%s/intermediate/set-signed", c.name)
}

func (c *IntermediateCA) ConfigCRLPath() string {
	return fmt.Sprintf("/v1/%s/config/crl", c.name)
}

func (c *IntermediateCA) RolePath(role string) string {
	return fmt.Sprintf("/v1/%s/roles/%s", c.name, role)
}

func (c *IntermediateCA) PolicyPath(policy string) string {
	return fmt.Sprintf("/v1/sys/policies/acl/%s", policy)
}

// KeyStoragePath is where an exported private key is written. Only
// meaningful when KVEngine is set.
func (c *IntermediateCA) KeyStoragePath() string {
	return fmt.Sprintf("/v1/%s/%s", c.kvEngine, c.name)
}

// SignRequest is the body sent to the issuer to sign csr.
func (c *IntermediateCA) SignRequest(csr string) map[string]interface{} {
	body := c.Spec()
	body["csr"] = csr
	return body
}

// KVEngine is a key-value secrets engine mount.
type KVEngine struct {
	name    string
	backend Backend
}

func NewKVEngine(m manifest.KVEngine) *KVEngine {
	backend := Backend{
		Type:        "kv",
		Description: m.Description,
		Options:     map[string]string{"version": m.Version},
	}
	if m.Config != nil {
		backend.Config = map[string]interface{}{
			"default_lease_ttl": m.Config.DefaultLeaseTTL,
			"max_lease_ttl":     m.Config.MaxLeaseTTL,
			"force_no_cache":    m.Config.ForceNoCache,
		}
	}
	return &KVEngine{name: m.Name, backend: backend}
}

func (kv *KVEngine) Name() string      { return kv.name }
func (kv *KVEngine) Backend() Backend  { return kv.backend }
func (kv *KVEngine) MountPath() string { return mountPath(kv.name) }

func mountPath(name string) string {
	return fmt.Sprintf("/v1/sys/mounts/%s", name)
}
