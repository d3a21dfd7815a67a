package configs

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config is read from the environment. Vault settings are looked up as
// PKICTL_VAULT_* first and fall back to the standard VAULT_* variables.
type Config struct {
	VaultAddr       string `envconfig:"VAULT_ADDR"`
	VaultToken      string `envconfig:"VAULT_TOKEN"`
	VaultSkipVerify bool   `envconfig:"VAULT_SKIP_VERIFY"`
	VaultCACert     string `envconfig:"VAULT_CACERT"`

	RequestTimeout time.Duration `split_words:"true" default:"80s"`

	Debug     bool   `split_words:"true"`
	LogFormat string `split_words:"true" default:"logfmt"`

	KeysFile  string `split_words:"true" default:"vault.log"`
	TokenFile string `split_words:"true" default:".vault-token"`

	MetricsFile string `split_words:"true"`
	Tracing     bool   `split_words:"true"`

	AmqpURL   string `envconfig:"AMQP_URL"`
	AmqpQueue string `split_words:"true" default:"pkictl_events"`
}

func NewConfig(prefix string) (Config, error) {
	var cfg Config
	err := envconfig.Process(prefix, &cfg)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}
