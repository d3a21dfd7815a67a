package manifest

import (
	"fmt"
	"regexp"

	"gopkg.in/yaml.v2"
)

var (
	// mountPathRegexp is shared by every name-like field: lowercase
	// alphanumerics, hyphen, underscore and slash, with no leading or
	// trailing hyphen or slash.
	mountPathRegexp = regexp.MustCompile(`^[a-z0-9_]([a-z0-9_/-]*[a-z0-9_])?$`)
	roleNameRegexp  = regexp.MustCompile(`^[a-z0-9_-]+$`)
	domainRegexp    = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9.-]*[a-zA-Z0-9])?$`)
	ttlRegexp       = regexp.MustCompile(`^\d+h$`)
	durationRegexp  = regexp.MustCompile(`^\d+[hms]$`)
	countryRegexp   = regexp.MustCompile(`^[A-Z]{2}$`)
)

const (
	msgMountPath = "must be lowercase alphanumeric string"
	msgRequired  = "required field is missing"
)

type rootMetadata struct {
	Name        *string `yaml:"name"`
	Description *string `yaml:"description"`
}

type intermediateMetadata struct {
	Name        *string `yaml:"name"`
	Description *string `yaml:"description"`
	Issuer      *string `yaml:"issuer"`
	KVEngine    *string `yaml:"kv_engine"`
}

type rawSubject struct {
	CommonName   *string `yaml:"common_name"`
	Country      *string `yaml:"country"`
	Locality     *string `yaml:"locality"`
	Province     *string `yaml:"province"`
	Organization *string `yaml:"organization"`
	OU           *string `yaml:"ou"`
}

type rootSpec struct {
	KeyType           *string     `yaml:"key_type"`
	KeyBits           *int        `yaml:"key_bits"`
	TTL               *string     `yaml:"ttl"`
	ExcludeCNFromSANs *bool       `yaml:"exclude_cn_from_sans"`
	Subject           *rawSubject `yaml:"subject"`
}

type rawCRL struct {
	Expiry  *string `yaml:"expiry"`
	Disable *bool   `yaml:"disable"`
}

type rawRoleConfig struct {
	MaxTTL           *string  `yaml:"max_ttl"`
	TTL              *string  `yaml:"ttl"`
	ServerFlag       *bool    `yaml:"server_flag"`
	ClientFlag       *bool    `yaml:"client_flag"`
	AllowLocalhost   *bool    `yaml:"allow_localhost"`
	AllowSubdomains  *bool    `yaml:"allow_subdomains"`
	AllowAnyName     *bool    `yaml:"allow_any_name"`
	AllowIPSANs      *bool    `yaml:"allow_ip_sans"`
	EnforceHostnames *bool    `yaml:"enforce_hostnames"`
	GenerateLease    *bool    `yaml:"generate_lease"`
	NoStore          *bool    `yaml:"no_store"`
	AllowedDomains   []string `yaml:"allowed_domains"`
}

type rawRole struct {
	Name   *string        `yaml:"name"`
	Config *rawRoleConfig `yaml:"config"`
}

type rawPolicy struct {
	Name   *string `yaml:"name"`
	Policy *string `yaml:"policy"`
}

type intermediateSpec struct {
	Type              *string     `yaml:"type"`
	KeyType           *string     `yaml:"key_type"`
	KeyBits           *int        `yaml:"key_bits"`
	TTL               *string     `yaml:"ttl"`
	ExcludeCNFromSANs *bool       `yaml:"exclude_cn_from_sans"`
	MaxPathLength     *int        `yaml:"max_path_length"`
	CRL               *rawCRL     `yaml:"crl"`
	Subject           *rawSubject `yaml:"subject"`
	Roles             []rawRole   `yaml:"roles"`
	Policies          []rawPolicy `yaml:"policies"`
}

type rawKVConfig struct {
	DefaultLeaseTTL *string `yaml:"default_lease_ttl"`
	MaxLeaseTTL     *string `yaml:"max_lease_ttl"`
	ForceNoCache    *bool   `yaml:"force_no_cache"`
}

// kvVersion accepts the version either as the integer 1 or the string "1".
type kvVersion string

func (v *kvVersion) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw interface{}
	if err := unmarshal(&raw); err != nil {
		return err
	}
	switch val := raw.(type) {
	case int:
		*v = kvVersion(fmt.Sprint(val))
	case string:
		*v = kvVersion(val)
	default:
		*v = kvVersion(fmt.Sprint(val))
	}
	return nil
}

type rawKVOptions struct {
	Version *kvVersion `yaml:"version"`
}

type kvSpec struct {
	Config  *rawKVConfig  `yaml:"config"`
	Options *rawKVOptions `yaml:"options"`
}

type rootDocument struct {
	Kind     string        `yaml:"kind"`
	Metadata *rootMetadata `yaml:"metadata"`
	Spec     *rootSpec     `yaml:"spec"`
}

type intermediateDocument struct {
	Kind     string                `yaml:"kind"`
	Metadata *intermediateMetadata `yaml:"metadata"`
	Spec     *intermediateSpec     `yaml:"spec"`
}

type kvDocument struct {
	Kind     string        `yaml:"kind"`
	Metadata *rootMetadata `yaml:"metadata"`
	Spec     *kvSpec       `yaml:"spec"`
}

// ValidateRootCA validates a RootCA document and fills in defaults.
func ValidateRootCA(doc Document) (RootCA, error) {
	var raw rootDocument
	if err := decodeStrict(doc, &raw); err != nil {
		return RootCA{}, err
	}
	var f fieldErrors
	checkKind(&f, raw.Kind, KindRootCA)

	var ca RootCA
	if raw.Metadata == nil {
		f.add("metadata", msgRequired)
	} else {
		ca.Name = mountPath(&f, "metadata.name", raw.Metadata.Name, true)
		ca.Description = requiredString(&f, "metadata.description", raw.Metadata.Description)
	}
	if raw.Spec == nil {
		f.add("spec", msgRequired)
	} else {
		s := raw.Spec
		validateKey(&f, &ca, s.KeyType, s.KeyBits, s.TTL, s.ExcludeCNFromSANs)
		ca.Subject = validateSubject(&f, s.Subject)
	}
	return ca, f.err(KindRootCA, ca.Name)
}

// ValidateIntermediateCA validates an IntermediateCA document, fills in
// defaults and enforces that exported CAs declare a KV engine.
func ValidateIntermediateCA(doc Document) (IntermediateCA, error) {
	var raw intermediateDocument
	if err := decodeStrict(doc, &raw); err != nil {
		return IntermediateCA{}, err
	}
	var f fieldErrors
	checkKind(&f, raw.Kind, KindIntermediateCA)

	var ca IntermediateCA
	if raw.Metadata == nil {
		f.add("metadata", msgRequired)
	} else {
		m := raw.Metadata
		ca.Name = mountPath(&f, "metadata.name", m.Name, true)
		ca.Description = requiredString(&f, "metadata.description", m.Description)
		ca.Issuer = mountPath(&f, "metadata.issuer", m.Issuer, true)
		ca.KVEngine = mountPath(&f, "metadata.kv_engine", m.KVEngine, false)
	}
	if raw.Spec == nil {
		f.add("spec", msgRequired)
	} else {
		s := raw.Spec
		ca.Type = oneOf(&f, "spec.type", s.Type, TypeInternal, TypeExported)
		validateKey(&f, &ca.RootCA, s.KeyType, s.KeyBits, s.TTL, s.ExcludeCNFromSANs)
		ca.Subject = validateSubject(&f, s.Subject)

		ca.MaxPathLength = DefaultMaxPathLength
		if s.MaxPathLength != nil {
			ca.MaxPathLength = *s.MaxPathLength
			if ca.MaxPathLength < -1 || ca.MaxPathLength > 5 {
				f.add("spec.max_path_length", "must be between -1 and 5")
			}
		}

		ca.CRL = CRLConfig{Expiry: DefaultCRLExpiry}
		if s.CRL != nil {
			if s.CRL.Expiry != nil {
				ca.CRL.Expiry = matchString(&f, "spec.crl.expiry", *s.CRL.Expiry, durationRegexp, "must be a duration in hours, minutes or seconds")
			}
			if s.CRL.Disable != nil {
				ca.CRL.Disable = *s.CRL.Disable
			}
		}

		ca.Roles = validateRoles(&f, s.Roles)
		ca.Policies = validatePolicies(&f, s.Policies)
	}
	if ca.Type == TypeExported && ca.KVEngine == "" {
		f.addErr(ErrMissingKVEngine)
	}
	return ca, f.err(KindIntermediateCA, ca.Name)
}

// ValidateKVEngine validates a KV document and fills in defaults.
func ValidateKVEngine(doc Document) (KVEngine, error) {
	var raw kvDocument
	if err := decodeStrict(doc, &raw); err != nil {
		return KVEngine{}, err
	}
	var f fieldErrors
	checkKind(&f, raw.Kind, KindKV)

	var kv KVEngine
	if raw.Metadata == nil {
		f.add("metadata", msgRequired)
	} else {
		kv.Name = mountPath(&f, "metadata.name", raw.Metadata.Name, true)
		kv.Description = requiredString(&f, "metadata.description", raw.Metadata.Description)
	}
	if raw.Spec == nil {
		f.add("spec", msgRequired)
		return kv, f.err(KindKV, kv.Name)
	}
	if c := raw.Spec.Config; c != nil {
		kv.Config = &KVConfig{DefaultLeaseTTL: DefaultKVLeaseTTL, MaxLeaseTTL: DefaultKVMaxLeaseTTL}
		if c.DefaultLeaseTTL != nil {
			kv.Config.DefaultLeaseTTL = matchString(&f, "spec.config.default_lease_ttl", *c.DefaultLeaseTTL, durationRegexp, "must be a duration in hours, minutes or seconds")
		}
		if c.MaxLeaseTTL != nil {
			kv.Config.MaxLeaseTTL = matchString(&f, "spec.config.max_lease_ttl", *c.MaxLeaseTTL, durationRegexp, "must be a duration in hours, minutes or seconds")
		}
		if c.ForceNoCache != nil {
			kv.Config.ForceNoCache = *c.ForceNoCache
		}
	}
	switch {
	case raw.Spec.Options == nil:
		f.add("spec.options", msgRequired)
	case raw.Spec.Options.Version == nil:
		f.add("spec.options.version", msgRequired)
	case *raw.Spec.Options.Version != "1":
		f.add("spec.options.version", "must be '1'")
	default:
		kv.Version = string(*raw.Spec.Options.Version)
	}
	return kv, f.err(KindKV, kv.Name)
}

func decodeStrict(doc Document, out interface{}) error {
	if err := yaml.UnmarshalStrict(doc.body, out); err != nil {
		var f fieldErrors
		if terr, ok := err.(*yaml.TypeError); ok {
			for _, msg := range terr.Errors {
				f.add("", msg)
			}
		} else {
			f.add("", err.Error())
		}
		return f.err(doc.Kind, doc.Name)
	}
	return nil
}

func checkKind(f *fieldErrors, got, want string) {
	if got != want {
		f.addf("kind", "must be '%s'", want)
	}
}

func validateKey(f *fieldErrors, ca *RootCA, keyType *string, keyBits *int, ttl *string, excludeCN *bool) {
	ca.KeyType = oneOf(f, "spec.key_type", keyType, "rsa", "ec")
	if keyBits == nil {
		f.add("spec.key_bits", msgRequired)
	} else {
		ca.KeyBits = *keyBits
		if ca.KeyBits < 256 || ca.KeyBits > 4096 {
			f.add("spec.key_bits", "must be between 256 and 4096")
		}
	}
	ca.TTL = DefaultTTL
	if ttl != nil {
		ca.TTL = matchString(f, "spec.ttl", *ttl, ttlRegexp, "must be a duration in hours")
	}
	ca.ExcludeCNFromSANs = DefaultExcludeCNInSANs
	if excludeCN != nil {
		ca.ExcludeCNFromSANs = *excludeCN
	}
}

func validateSubject(f *fieldErrors, raw *rawSubject) Subject {
	var s Subject
	if raw == nil {
		f.add("spec.subject", msgRequired)
		return s
	}
	s.CommonName = requiredString(f, "spec.subject.common_name", raw.CommonName)
	if raw.Country != nil {
		s.Country = matchString(f, "spec.subject.country", *raw.Country, countryRegexp, "must be a two letter uppercase country code")
	}
	s.Locality = optionalString(raw.Locality)
	s.Province = optionalString(raw.Province)
	s.Organization = optionalString(raw.Organization)
	s.OU = optionalString(raw.OU)
	return s
}

func validateRoles(f *fieldErrors, raw []rawRole) []Role {
	roles := make([]Role, 0, len(raw))
	seen := make(map[string]bool, len(raw))
	for i, r := range raw {
		field := fmt.Sprintf("spec.roles[%d]", i)
		var role Role
		if r.Name == nil {
			f.add(field+".name", msgRequired)
		} else {
			role.Name = matchString(f, field+".name", *r.Name, roleNameRegexp, msgMountPath)
			if seen[role.Name] {
				f.addf(field+".name", "duplicate role '%s'", role.Name)
			}
			seen[role.Name] = true
		}
		if r.Config == nil {
			f.add(field+".config", msgRequired)
		} else {
			role.Config = validateRoleConfig(f, field+".config", r.Config)
		}
		roles = append(roles, role)
	}
	return roles
}

func validateRoleConfig(f *fieldErrors, field string, c *rawRoleConfig) RoleConfig {
	var rc RoleConfig
	if c.MaxTTL == nil {
		f.add(field+".max_ttl", msgRequired)
	} else {
		rc.MaxTTL = matchString(f, field+".max_ttl", *c.MaxTTL, durationRegexp, "must be a duration in hours, minutes or seconds")
	}
	if c.TTL != nil {
		rc.TTL = matchString(f, field+".ttl", *c.TTL, durationRegexp, "must be a duration in hours, minutes or seconds")
	}
	if c.ServerFlag == nil {
		f.add(field+".server_flag", msgRequired)
	} else {
		rc.ServerFlag = *c.ServerFlag
	}
	if c.ClientFlag == nil {
		f.add(field+".client_flag", msgRequired)
	} else {
		rc.ClientFlag = *c.ClientFlag
	}
	rc.AllowLocalhost = c.AllowLocalhost
	rc.AllowSubdomains = c.AllowSubdomains
	rc.AllowAnyName = c.AllowAnyName
	rc.AllowIPSANs = c.AllowIPSANs
	rc.EnforceHostnames = c.EnforceHostnames
	rc.GenerateLease = c.GenerateLease
	rc.NoStore = c.NoStore
	for i, d := range c.AllowedDomains {
		matchString(f, fmt.Sprintf("%s.allowed_domains[%d]", field, i), d, domainRegexp, "must be a valid domain name")
	}
	rc.AllowedDomains = c.AllowedDomains
	return rc
}

func validatePolicies(f *fieldErrors, raw []rawPolicy) []Policy {
	policies := make([]Policy, 0, len(raw))
	seen := make(map[string]bool, len(raw))
	for i, p := range raw {
		field := fmt.Sprintf("spec.policies[%d]", i)
		var policy Policy
		policy.Name = mountPath(f, field+".name", p.Name, true)
		if policy.Name != "" {
			if seen[policy.Name] {
				f.addf(field+".name", "duplicate policy '%s'", policy.Name)
			}
			seen[policy.Name] = true
		}
		policy.Document = requiredString(f, field+".policy", p.Policy)
		policies = append(policies, policy)
	}
	return policies
}

func mountPath(f *fieldErrors, field string, value *string, required bool) string {
	if value == nil {
		if required {
			f.add(field, msgRequired)
		}
		return ""
	}
	return matchString(f, field, *value, mountPathRegexp, msgMountPath)
}

func oneOf(f *fieldErrors, field string, value *string, allowed ...string) string {
	if value == nil {
		f.add(field, msgRequired)
		return ""
	}
	for _, a := range allowed {
		if *value == a {
			return *value
		}
	}
	f.addf(field, "must be '%s' or '%s'", allowed[0], allowed[1])
	return *value
}

func matchString(f *fieldErrors, field, value string, re *regexp.Regexp, msg string) string {
	if !re.MatchString(value) {
		f.add(field, msg)
	}
	return value
}

func requiredString(f *fieldErrors, field string, value *string) string {
	if value == nil {
		f.add(field, msgRequired)
		return ""
	}
	return *value
}

func optionalString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
