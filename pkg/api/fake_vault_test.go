package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-kit/kit/log"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"

	"github.com/lamassuiot/pkictl/pkg/secrets/vault"
)

const (
	rootToken       = "s.root"
	unsealThreshold = 3
)

type call struct {
	Method string
	Path   string
	Body   map[string]interface{}
}

func (c call) String() string { return c.Method + " " + c.Path }

// fakeVault keeps just enough state to behave like a Vault server for the
// provisioning flows: mounts, CA material, KV entries, seal status.
type fakeVault struct {
	mu sync.Mutex

	initialized bool
	sealed      bool
	keys        []string
	progress    int

	mounts   map[string]string
	chains   map[string][]string
	kv       map[string]map[string]interface{}
	roles    map[string]map[string]interface{}
	policies map[string]string

	// overrides forces the status of "METHOD /path" requests.
	overrides map[string]int
	calls     []call
}

func newFakeVault() *fakeVault {
	return &fakeVault{
		initialized: true,
		mounts:      make(map[string]string),
		chains:      make(map[string][]string),
		kv:          make(map[string]map[string]interface{}),
		roles:       make(map[string]map[string]interface{}),
		policies:    make(map[string]string),
		overrides:   make(map[string]int),
	}
}

func (f *fakeVault) router() http.Handler {
	r := mux.NewRouter()
	r.Use(f.record)

	r.HandleFunc("/v1/sys/health", f.health).Methods(http.MethodGet)
	r.HandleFunc("/v1/sys/init", f.init).Methods(http.MethodPut)
	r.HandleFunc("/v1/sys/unseal", f.unseal).Methods(http.MethodPut)

	auth := r.NewRoute().Subrouter()
	auth.Use(f.authenticate)
	auth.HandleFunc("/v1/sys/mounts/{name}", f.mount).Methods(http.MethodPost)
	auth.HandleFunc("/v1/sys/policies/acl/{policy}", f.policy).Methods(http.MethodPut)
	auth.HandleFunc("/v1/{name}/root/generate/internal", f.generateRoot).Methods(http.MethodPost)
	auth.HandleFunc("/v1/{name}/ca/pem", f.caPem).Methods(http.MethodGet)
	auth.HandleFunc("/v1/{name}/intermediate/generate/{type}", f.generateIntermediate).Methods(http.MethodPost)
	auth.HandleFunc("/v1/{issuer}/root/sign-intermediate", f.signIntermediate).Methods(http.MethodPost)
	auth.HandleFunc("/v1/{name}/intermediate/set-signed", f.setSigned).Methods(http.MethodPost)
	auth.HandleFunc("/v1/{name}/config/urls", f.noContent).Methods(http.MethodPost)
	auth.HandleFunc("/v1/{name}/config/crl", f.noContent).Methods(http.MethodPost)
	auth.HandleFunc("/v1/{name}/roles/{role}", f.role).Methods(http.MethodPost)
	auth.HandleFunc("/v1/{kv}/{name}", f.kvPut).Methods(http.MethodPut)
	return r
}

func (f *fakeVault) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c := call{Method: r.Method, Path: r.URL.Path}
		json.NewDecoder(r.Body).Decode(&c.Body)

		f.mu.Lock()
		f.calls = append(f.calls, c)
		status, forced := f.overrides[c.String()]
		f.mu.Unlock()

		if forced {
			writeJSON(w, status, map[string]interface{}{"errors": []string{"forced"}})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), bodyKey{}, c.Body)))
	})
}

type bodyKey struct{}

// requestBody returns the JSON body decoded by record.
func requestBody(r *http.Request) map[string]interface{} {
	body, _ := r.Context().Value(bodyKey{}).(map[string]interface{})
	return body
}

func (f *fakeVault) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Vault-Token") != rootToken {
			writeJSON(w, http.StatusForbidden, map[string]interface{}{"errors": []string{"permission denied"}})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func (f *fakeVault) health(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	status := http.StatusOK
	switch {
	case !f.initialized:
		status = http.StatusNotImplemented
	case f.sealed:
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]interface{}{"initialized": f.initialized, "sealed": f.sealed})
}

func (f *fakeVault) init(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.initialized {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"errors": []string{"Vault is already initialized"}})
		return
	}
	body := requestBody(r)
	shares := int(body["secret_shares"].(float64))
	f.keys = make([]string, 0, shares)
	for i := 1; i <= shares; i++ {
		f.keys = append(f.keys, fmt.Sprintf("key-%d", i))
	}
	f.initialized = true
	f.sealed = true
	writeJSON(w, http.StatusOK, map[string]interface{}{"keys_base64": f.keys, "root_token": rootToken})
}

func (f *fakeVault) unseal(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key, _ := requestBody(r)["key"].(string)
	valid := false
	for _, k := range f.keys {
		if k == key {
			valid = true
		}
	}
	if !valid {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"errors": []string{"invalid key"}})
		return
	}
	f.progress++
	if f.progress >= unsealThreshold {
		f.sealed = false
		f.progress = 0
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sealed": f.sealed, "progress": f.progress, "t": unsealThreshold})
}

func (f *fakeVault) mount(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := mux.Vars(r)["name"]
	if _, ok := f.mounts[name]; ok {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"errors": []string{"path is already in use at " + name + "/"}})
		return
	}
	f.mounts[name], _ = requestBody(r)["type"].(string)
	w.WriteHeader(http.StatusNoContent)
}

func (f *fakeVault) policy(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.policies[mux.Vars(r)["policy"]], _ = requestBody(r)["policy"].(string)
	w.WriteHeader(http.StatusNoContent)
}

func (f *fakeVault) pkiMount(w http.ResponseWriter, name string) bool {
	if f.mounts[name] != "pki" {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{"errors": []string{}})
		return false
	}
	return true
}

func (f *fakeVault) generateRoot(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := mux.Vars(r)["name"]
	if !f.pkiMount(w, name) {
		return
	}
	if _, ok := f.chains[name]; ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	cert := "ROOT-" + name
	f.chains[name] = []string{cert}
	writeJSON(w, http.StatusOK, map[string]interface{}{"data": map[string]interface{}{
		"certificate": cert,
		"issuing_ca":  cert,
	}})
}

func (f *fakeVault) caPem(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := mux.Vars(r)["name"]
	if !f.pkiMount(w, name) {
		return
	}
	chain, ok := f.chains[name]
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", "application/pem-certificate-chain")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, chain[0])
}

func (f *fakeVault) generateIntermediate(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	vars := mux.Vars(r)
	if !f.pkiMount(w, vars["name"]) {
		return
	}
	data := map[string]interface{}{"csr": "CSR-" + vars["name"]}
	if vars["type"] == "exported" {
		data["private_key"] = "KEY-" + vars["name"]
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"data": data})
}

func (f *fakeVault) signIntermediate(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	issuer := mux.Vars(r)["issuer"]
	if !f.pkiMount(w, issuer) {
		return
	}
	chain, ok := f.chains[issuer]
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"errors": []string{"no CA configured"}})
		return
	}
	csr, _ := requestBody(r)["csr"].(string)
	data := map[string]interface{}{
		"certificate": "CERT-" + strings.TrimPrefix(csr, "CSR-"),
		"issuing_ca":  chain[0],
	}
	if len(chain) > 1 {
		data["ca_chain"] = chain
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"data": data})
}

func (f *fakeVault) setSigned(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := mux.Vars(r)["name"]
	if !f.pkiMount(w, name) {
		return
	}
	certificate, _ := requestBody(r)["certificate"].(string)
	f.chains[name] = strings.Split(certificate, "\n")
	w.WriteHeader(http.StatusNoContent)
}

func (f *fakeVault) noContent(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.pkiMount(w, mux.Vars(r)["name"]) {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (f *fakeVault) role(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	vars := mux.Vars(r)
	if !f.pkiMount(w, vars["name"]) {
		return
	}
	f.roles[vars["name"]+"/"+vars["role"]] = requestBody(r)
	w.WriteHeader(http.StatusNoContent)
}

func (f *fakeVault) kvPut(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	vars := mux.Vars(r)
	if f.mounts[vars["kv"]] != "kv" {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{"errors": []string{}})
		return
	}
	f.kv[vars["kv"]+"/"+vars["name"]] = requestBody(r)
	w.WriteHeader(http.StatusNoContent)
}

// recorded returns the calls as "METHOD /path" strings.
func (f *fakeVault) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.String())
	}
	return out
}

func (f *fakeVault) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

func (f *fakeVault) lastBody(method, path string) map[string]interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.calls) - 1; i >= 0; i-- {
		if f.calls[i].Method == method && f.calls[i].Path == path {
			return f.calls[i].Body
		}
	}
	return nil
}

func setupService(t *testing.T, f *fakeVault, token string) (Service, string) {
	t.Helper()
	srv := httptest.NewServer(f.router())
	t.Cleanup(srv.Close)

	s, err := vault.NewVaultSecrets(vault.Options{Address: srv.URL, Token: token}, log.NewNopLogger())
	require.NoError(t, err)
	return NewCAService(log.NewNopLogger(), s, srv.URL), srv.URL
}
