package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/spf13/cobra"

	"github.com/lamassuiot/pkictl/pkg/configs"
)

const envPrefix = "pkictl"

var (
	debug bool
	cfg   configs.Config
)

var rootCmd = &cobra.Command{
	Use:   "pkictl",
	Short: "pkictl provisions Vault PKI from declarative manifests",
	Long: `Declarative provisioning of Certificate Authorities in HashiCorp Vault.
Root CAs, intermediate CAs and KV secrets engines are described in YAML
manifests and reconciled against a Vault server.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := configs.NewConfig(envPrefix)
		if err != nil {
			return fmt.Errorf("could not read environment configuration values: %w", err)
		}
		if debug {
			c.Debug = true
		}
		cfg = c
		return nil
	},
}

// Execute runs the CLI. It is the only place where a failure ends the
// process.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "[-] pkictl - Error: %s\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "log every request sent to Vault")
}

func newLogger(w io.Writer, format string, debug bool) log.Logger {
	var logger log.Logger
	{
		if format == "json" {
			logger = log.NewJSONLogger(log.NewSyncWriter(w))
		} else {
			logger = log.NewLogfmtLogger(log.NewSyncWriter(w))
		}
		logger = log.With(logger, "ts", log.DefaultTimestampUTC)
		logger = log.With(logger, "caller", log.DefaultCaller)
		if debug {
			logger = level.NewFilter(logger, level.AllowDebug())
		} else {
			logger = level.NewFilter(logger, level.AllowInfo())
		}
	}
	return logger
}
