package manifest

// Document kinds accepted in a manifest stream.
const (
	KindRootCA         = "RootCA"
	KindIntermediateCA = "IntermediateCA"
	KindKV             = "KV"
)

// Intermediate CA types. An exported CA hands its private key back to the
// caller, which then stores it in a KV engine.
const (
	TypeInternal = "internal"
	TypeExported = "exported"
)

// Defaults substituted for optional fields.
const (
	DefaultTTL             = "87660h"
	DefaultCRLExpiry       = "72h"
	DefaultKVLeaseTTL      = "8766h"
	DefaultKVMaxLeaseTTL   = "17532h"
	DefaultMaxPathLength   = 0
	DefaultExcludeCNInSANs = true
)

// Subject holds the distinguished name fields of a CA certificate.
type Subject struct {
	CommonName   string
	Country      string
	Locality     string
	Province     string
	Organization string
	OU           string
}

// RootCA is a validated RootCA document.
type RootCA struct {
	Name              string
	Description       string
	KeyType           string
	KeyBits           int
	TTL               string
	ExcludeCNFromSANs bool
	Subject           Subject
}

// CRLConfig is the revocation list configuration of an intermediate CA.
type CRLConfig struct {
	Expiry  string `json:"expiry"`
	Disable bool   `json:"disable"`
}

// RoleConfig holds the certificate issuance constraints of a role. Unset
// optional flags are left out of the request sent to Vault.
type RoleConfig struct {
	MaxTTL           string   `json:"max_ttl"`
	TTL              string   `json:"ttl,omitempty"`
	ServerFlag       bool     `json:"server_flag"`
	ClientFlag       bool     `json:"client_flag"`
	AllowLocalhost   *bool    `json:"allow_localhost,omitempty"`
	AllowSubdomains  *bool    `json:"allow_subdomains,omitempty"`
	AllowAnyName     *bool    `json:"allow_any_name,omitempty"`
	AllowIPSANs      *bool    `json:"allow_ip_sans,omitempty"`
	EnforceHostnames *bool    `json:"enforce_hostnames,omitempty"`
	GenerateLease    *bool    `json:"generate_lease,omitempty"`
	NoStore          *bool    `json:"no_store,omitempty"`
	AllowedDomains   []string `json:"allowed_domains,omitempty"`
}

// Role is a named issuance role configured on an intermediate CA.
type Role struct {
	Name   string
	Config RoleConfig
}

// Policy is a named ACL policy. The document is passed to Vault as is.
type Policy struct {
	Name     string
	Document string
}

// IntermediateCA is a validated IntermediateCA document.
type IntermediateCA struct {
	RootCA
	Issuer        string
	KVEngine      string
	Type          string
	MaxPathLength int
	CRL           CRLConfig
	Roles         []Role
	Policies      []Policy
}

// KVConfig holds the lease tuning of a KV mount.
type KVConfig struct {
	DefaultLeaseTTL string `json:"default_lease_ttl"`
	MaxLeaseTTL     string `json:"max_lease_ttl"`
	ForceNoCache    bool   `json:"force_no_cache"`
}

// KVEngine is a validated KV document.
type KVEngine struct {
	Name        string
	Description string
	Config      *KVConfig
	Version     string
}

// Manifests groups validated documents by kind, each in manifest order.
type Manifests struct {
	Roots         []RootCA
	Intermediates []IntermediateCA
	KVEngines     []KVEngine
}
