package api

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-kit/kit/log/level"

	"github.com/lamassuiot/pkictl/pkg/manifest"
	"github.com/lamassuiot/pkictl/pkg/secrets"
)

// State is a step of an entity's provisioning lifecycle.
type State string

const (
	Unmounted          State = "Unmounted"
	Mounted            State = "Mounted"
	AlreadyExists      State = "AlreadyExists"
	Generated          State = "Generated"
	Signed             State = "Signed"
	Installed          State = "Installed"
	URLsConfigured     State = "URLsConfigured"
	CRLConfigured      State = "CRLConfigured"
	KeyStored          State = "KeyStored"
	RolesConfigured    State = "RolesConfigured"
	PoliciesConfigured State = "PoliciesConfigured"
	Done               State = "Done"
)

// EntityReport records how one entity went through its lifecycle.
type EntityReport struct {
	Kind    string
	Name    string
	Existed bool
	States  []State
}

// Final returns the last state reached.
func (r EntityReport) Final() State {
	if len(r.States) == 0 {
		return Unmounted
	}
	return r.States[len(r.States)-1]
}

type Report struct {
	Entities []EntityReport
}

func (r *Report) add(e EntityReport) {
	r.Entities = append(r.Entities, e)
}

// issuance carries the material produced while issuing an intermediate CA
// from one step to the next. It is discarded once the CA is reconciled.
type issuance struct {
	ca          *secrets.IntermediateCA
	existed     bool
	csr         string
	privateKey  string
	certificate string
}

type step func(ctx context.Context, is issuance) (State, issuance, error)

func (s *caService) reconcileKVEngine(ctx context.Context, kv *secrets.KVEngine) (EntityReport, error) {
	r := EntityReport{Kind: manifest.KindKV, Name: kv.Name(), States: []State{Unmounted}}
	existed, err := s.mount(ctx, kv.Name(), "KV", kv.MountPath(), kv.Backend())
	if err != nil {
		return r, err
	}
	r.Existed = existed
	r.States = append(r.States, Mounted, Done)
	return r, nil
}

func (s *caService) reconcileRootCA(ctx context.Context, ca *secrets.RootCA) (EntityReport, error) {
	r := EntityReport{Kind: manifest.KindRootCA, Name: ca.Name(), States: []State{Unmounted}}
	if _, err := s.mount(ctx, ca.Name(), "PKI", ca.MountPath(), ca.Backend()); err != nil {
		return r, err
	}
	r.States = append(r.States, Mounted)

	resp, err := s.secrets.Do(ctx, generateRootOperation(ca))
	if err != nil {
		return r, err
	}
	if resp.Outcome == secrets.AlreadyExists || resp.Data() == nil {
		level.Info(s.logger).Log("msg", "Root CA has already been generated", "name", ca.Name())
		r.Existed = true
		r.States = append(r.States, AlreadyExists)
	} else {
		level.Info(s.logger).Log("msg", "Generated Root CA", "name", ca.Name())
		r.States = append(r.States, Generated)
	}

	if err := s.configureURLs(ctx, ca); err != nil {
		return r, err
	}
	r.States = append(r.States, URLsConfigured, Done)
	return r, nil
}

// reconcileIntermediateCA walks an intermediate CA through its lifecycle.
// Key material is generated only when no CA certificate exists yet at the
// mount; URLs, CRL, roles and policies are always applied.
func (s *caService) reconcileIntermediateCA(ctx context.Context, ca *secrets.IntermediateCA) (EntityReport, error) {
	steps := map[State]step{
		Unmounted:          s.stepMount,
		Mounted:            s.stepGenerate,
		AlreadyExists:      s.stepConfigureURLs,
		Generated:          s.stepSign,
		Signed:             s.stepInstall,
		Installed:          s.stepConfigureURLs,
		URLsConfigured:     s.stepConfigureCRL,
		CRLConfigured:      s.stepStoreKey,
		KeyStored:          s.stepConfigureRoles,
		RolesConfigured:    s.stepConfigurePolicies,
		PoliciesConfigured: s.stepDone,
	}

	r := EntityReport{Kind: manifest.KindIntermediateCA, Name: ca.Name(), States: []State{Unmounted}}
	is := issuance{ca: ca}
	state := Unmounted
	for state != Done {
		next, ok := steps[state]
		if !ok {
			return r, fmt.Errorf("no transition from state %s for intermediate CA: %s", state, ca.Name())
		}
		var err error
		state, is, err = next(ctx, is)
		if err != nil {
			return r, err
		}
		r.States = append(r.States, state)
	}
	r.Existed = is.existed
	return r, nil
}

func (s *caService) stepMount(ctx context.Context, is issuance) (State, issuance, error) {
	if _, err := s.mount(ctx, is.ca.Name(), "PKI", is.ca.MountPath(), is.ca.Backend()); err != nil {
		return Unmounted, is, err
	}
	return Mounted, is, nil
}

func (s *caService) stepGenerate(ctx context.Context, is issuance) (State, issuance, error) {
	exists, err := s.caExists(ctx, is.ca)
	if err != nil {
		return Mounted, is, err
	}
	if exists {
		level.Info(s.logger).Log("msg", "CA already exists", "name", is.ca.Name())
		is.existed = true
		return AlreadyExists, is, nil
	}

	op := generateIntermediateOperation(is.ca)
	resp, err := s.secrets.Do(ctx, op)
	if err != nil {
		return Mounted, is, err
	}
	csr, ok := resp.DataString("csr")
	if !ok || csr == "" {
		return Mounted, is, malformed(op, "csr")
	}
	is.csr = csr
	if is.ca.Exported() {
		key, ok := resp.DataString("private_key")
		if !ok || key == "" {
			return Mounted, is, malformed(op, "private_key")
		}
		is.privateKey = key
	}
	level.Info(s.logger).Log("msg", "Created intermediate CA", "name", is.ca.Name(), "type", is.ca.Type())
	return Generated, is, nil
}

func (s *caService) stepSign(ctx context.Context, is issuance) (State, issuance, error) {
	op := signIntermediateOperation(is.ca, is.csr)
	resp, err := s.secrets.Do(ctx, op)
	if err != nil {
		return Generated, is, err
	}
	chain, err := certificateChain(op, resp)
	if err != nil {
		return Generated, is, err
	}
	is.certificate = chain
	level.Info(s.logger).Log("msg", "Signed intermediate CA", "name", is.ca.Name(), "issuer", is.ca.Issuer())
	return Signed, is, nil
}

func (s *caService) stepInstall(ctx context.Context, is issuance) (State, issuance, error) {
	if _, err := s.secrets.Do(ctx, setSignedOperation(is.ca, is.certificate)); err != nil {
		return Signed, is, err
	}
	level.Info(s.logger).Log("msg", "Set signed certificate for intermediate CA", "name", is.ca.Name())
	return Installed, is, nil
}

func (s *caService) stepConfigureURLs(ctx context.Context, is issuance) (State, issuance, error) {
	if err := s.configureURLs(ctx, is.ca); err != nil {
		return Installed, is, err
	}
	return URLsConfigured, is, nil
}

func (s *caService) stepConfigureCRL(ctx context.Context, is issuance) (State, issuance, error) {
	if _, err := s.secrets.Do(ctx, configureCRLOperation(is.ca)); err != nil {
		return URLsConfigured, is, err
	}
	level.Info(s.logger).Log("msg", "Set CRL configuration for CA", "name", is.ca.Name())
	return CRLConfigured, is, nil
}

// stepStoreKey writes the exported private key to the KV engine. Nothing
// is stored for internal CAs, nor when the CA already existed since Vault
// only returns the key at generation time.
func (s *caService) stepStoreKey(ctx context.Context, is issuance) (State, issuance, error) {
	if !is.ca.Exported() || is.privateKey == "" {
		return s.stepConfigureRoles(ctx, is)
	}
	if _, err := s.secrets.Do(ctx, storeKeyOperation(is.ca, is.privateKey)); err != nil {
		return CRLConfigured, is, err
	}
	is.privateKey = ""
	level.Info(s.logger).Log("msg", "Stored private key in KV engine", "name", is.ca.Name(), "kv_engine", is.ca.KVEngine())
	return KeyStored, is, nil
}

func (s *caService) stepConfigureRoles(ctx context.Context, is issuance) (State, issuance, error) {
	for _, role := range is.ca.Roles() {
		if _, err := s.secrets.Do(ctx, configureRoleOperation(is.ca, role)); err != nil {
			return CRLConfigured, is, err
		}
		level.Info(s.logger).Log("msg", "Configured role for intermediate CA", "name", is.ca.Name(), "role", role.Name)
	}
	return RolesConfigured, is, nil
}

func (s *caService) stepConfigurePolicies(ctx context.Context, is issuance) (State, issuance, error) {
	for _, policy := range is.ca.Policies() {
		if _, err := s.secrets.Do(ctx, configurePolicyOperation(is.ca, policy)); err != nil {
			return RolesConfigured, is, err
		}
		level.Info(s.logger).Log("msg", "Configured policy for intermediate CA", "name", is.ca.Name(), "policy", policy.Name)
	}
	return PoliciesConfigured, is, nil
}

func (s *caService) stepDone(ctx context.Context, is issuance) (State, issuance, error) {
	return Done, issuance{ca: is.ca, existed: is.existed}, nil
}

// mount reports whether the engine was already mounted.
func (s *caService) mount(ctx context.Context, name, engine, path string, backend secrets.Backend) (bool, error) {
	resp, err := s.secrets.Do(ctx, mountOperation(name, engine, path, backend))
	if err != nil {
		return false, err
	}
	if resp.Outcome == secrets.AlreadyExists {
		level.Info(s.logger).Log("msg", engine+" secrets engine already exists", "name", name)
		return true, nil
	}
	level.Info(s.logger).Log("msg", "Mounted "+engine+" secrets engine", "name", name)
	return false, nil
}

func (s *caService) caExists(ctx context.Context, ca secrets.CertificateAuthority) (bool, error) {
	resp, err := s.secrets.Do(ctx, existenceOperation(ca))
	if err != nil {
		var oe *secrets.OperationError
		if errors.As(err, &oe) && oe.Err == nil {
			return false, nil
		}
		return false, err
	}
	return resp.Status == 200, nil
}

func (s *caService) configureURLs(ctx context.Context, ca secrets.CertificateAuthority) error {
	if _, err := s.secrets.Do(ctx, configureURLsOperation(ca)); err != nil {
		return err
	}
	level.Info(s.logger).Log("msg", "Configured URLs for CA", "name", ca.Name())
	return nil
}

// certificateChain joins the signed certificate with its issuing chain. A
// root issuer answers with issuing_ca only, an intermediate issuer with
// ca_chain.
func certificateChain(op secrets.Operation, resp secrets.Response) (string, error) {
	certificate, ok := resp.DataString("certificate")
	if !ok || certificate == "" {
		return "", malformed(op, "certificate")
	}

	var chain string
	if raw, ok := resp.Data()["ca_chain"].([]interface{}); ok && len(raw) > 0 {
		parts := make([]string, 0, len(raw))
		for _, c := range raw {
			if pem, ok := c.(string); ok {
				parts = append(parts, pem)
			}
		}
		chain = strings.Join(parts, "\n")
	} else {
		chain, ok = resp.DataString("issuing_ca")
		if !ok {
			return "", malformed(op, "ca_chain or issuing_ca")
		}
	}
	return certificate + "\n" + chain, nil
}

func malformed(op secrets.Operation, field string) error {
	return fmt.Errorf("failed to %s: %s: response has no %s", op.Name, op.Entity, field)
}
