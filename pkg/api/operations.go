package api

import (
	"net/http"

	"github.com/lamassuiot/pkictl/pkg/manifest"
	"github.com/lamassuiot/pkictl/pkg/secrets"
)

// Vault initialisation parameters.
const (
	secretShares    = 5
	secretThreshold = 3
)

func healthOperation() secrets.Operation {
	return secrets.Operation{
		Name:   "check the Vault server health",
		Method: http.MethodGet,
		Path:   "/v1/sys/health",
		Accept: []int{200, 501, 503},
	}
}

func initOperation() secrets.Operation {
	return secrets.Operation{
		Name:   "initialize the Vault server",
		Method: http.MethodPut,
		Path:   "/v1/sys/init",
		Body: map[string]int{
			"secret_shares":    secretShares,
			"secret_threshold": secretThreshold,
		},
		Accept: []int{200},
	}
}

func unsealOperation(key string) secrets.Operation {
	return secrets.Operation{
		Name:   "unseal the Vault server",
		Method: http.MethodPut,
		Path:   "/v1/sys/unseal",
		Body:   map[string]string{"key": key},
		Accept: []int{200},
	}
}

func mountOperation(name, engine, path string, backend secrets.Backend) secrets.Operation {
	return secrets.Operation{
		Name:   "mount " + engine + " secrets engine",
		Entity: name,
		Method: http.MethodPost,
		Path:   path,
		Body:   backend,
		Accept: []int{204},
		Exists: []int{400},
	}
}

func existenceOperation(ca secrets.CertificateAuthority) secrets.Operation {
	return secrets.Operation{
		Name:   "check for an existing CA",
		Entity: ca.Name(),
		Method: http.MethodGet,
		Path:   ca.CAPemPath(),
		Accept: []int{200, 204},
	}
}

func generateRootOperation(ca *secrets.RootCA) secrets.Operation {
	return secrets.Operation{
		Name:   "generate Root CA",
		Entity: ca.Name(),
		Method: http.MethodPost,
		Path:   ca.GeneratePath(),
		Body:   ca.Spec(),
		Accept: []int{200},
		Exists: []int{204, 400},
	}
}

func generateIntermediateOperation(ca *secrets.IntermediateCA) secrets.Operation {
	return secrets.Operation{
		Name:   "generate intermediate CA",
		Entity: ca.Name(),
		Method: http.MethodPost,
		Path:   ca.GeneratePath(),
		Body:   ca.Spec(),
		Accept: []int{200},
	}
}

func signIntermediateOperation(ca *secrets.IntermediateCA, csr string) secrets.Operation {
	return secrets.Operation{
		Name:   "sign intermediate CA with issuing CA " + ca.Issuer(),
		Entity: ca.Name(),
		Method: http.MethodPost,
		Path:   ca.SignPath(),
		Body:   ca.SignRequest(csr),
		Accept: []int{200},
	}
}

func setSignedOperation(ca *secrets.IntermediateCA, certificate string) secrets.Operation {
	return secrets.Operation{
		Name:   "set signed certificate for intermediate CA",
		Entity: ca.Name(),
		Method: http.MethodPost,
		Path:   ca.SetSignedPath(),
		Body:   map[string]string{"certificate": certificate},
		Accept: []int{204},
	}
}

func configureURLsOperation(ca secrets.CertificateAuthority) secrets.Operation {
	return secrets.Operation{
		Name:   "configure URLs for CA",
		Entity: ca.Name(),
		Method: http.MethodPost,
		Path:   ca.ConfigURLsPath(),
		Body:   ca.URLs(),
		Accept: []int{204},
	}
}

func configureCRLOperation(ca *secrets.IntermediateCA) secrets.Operation {
	return secrets.Operation{
		Name:   "set CRL configuration for CA",
		Entity: ca.Name(),
		Method: http.MethodPost,
		Path:   ca.ConfigCRLPath(),
		Body:   ca.CRL(),
		Accept: []int{204},
	}
}

func storeKeyOperation(ca *secrets.IntermediateCA, privateKey string) secrets.Operation {
	return secrets.Operation{
		Name:   "store private key in KV engine " + ca.KVEngine(),
		Entity: ca.Name(),
		Method: http.MethodPut,
		Path:   ca.KeyStoragePath(),
		Body:   map[string]string{"private_key": privateKey},
		Accept: []int{204},
	}
}

func configureRoleOperation(ca *secrets.IntermediateCA, role manifest.Role) secrets.Operation {
	return secrets.Operation{
		Name:   "configure role '" + role.Name + "' for intermediate CA",
		Entity: ca.Name(),
		Method: http.MethodPost,
		Path:   ca.RolePath(role.Name),
		Body:   role.Config,
		Accept: []int{204},
	}
}

func configurePolicyOperation(ca *secrets.IntermediateCA, policy manifest.Policy) secrets.Operation {
	return secrets.Operation{
		Name:   "configure policy '" + policy.Name + "' for intermediate CA",
		Entity: ca.Name(),
		Method: http.MethodPut,
		Path:   ca.PolicyPath(policy.Name),
		Body:   map[string]string{"policy": policy.Document},
		Accept: []int{204},
	}
}
