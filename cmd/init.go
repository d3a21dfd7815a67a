package cmd

import (
	"context"
	"os"

	"github.com/go-kit/kit/log/level"
	"github.com/spf13/cobra"

	"github.com/lamassuiot/pkictl/pkg/api"
)

var (
	vaultURL      string
	tlsSkipVerify bool
	keysFile      string
	tokenFile     string
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize and unseal the Vault server",
	Long: `Initializes the Vault server when it is not yet initialized, writing the
unseal keys and the root token to local files, then unseals it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		applyConnectionFlags(cmd)
		if cmd.Flags().Changed("keys-file") {
			cfg.KeysFile = keysFile
		}
		if cmd.Flags().Changed("token-file") {
			cfg.TokenFile = tokenFile
		}

		logger := newLogger(os.Stderr, cfg.LogFormat, cfg.Debug)
		rt, err := newRuntime(cfg, logger, false)
		if err != nil {
			return err
		}
		defer rt.Close()

		err = rt.service.Init(context.Background(), api.InitOptions{
			KeysFile:  cfg.KeysFile,
			TokenFile: cfg.TokenFile,
		})
		if err != nil {
			return err
		}
		level.Info(logger).Log("msg", "The Vault server is initialized and unsealed")
		return nil
	},
}

func init() {
	addConnectionFlags(initCmd)
	initCmd.Flags().StringVar(&keysFile, "keys-file", api.DefaultKeysFile, "file receiving the unseal keys")
	initCmd.Flags().StringVar(&tokenFile, "token-file", api.DefaultTokenFile, "file receiving the root token")
	rootCmd.AddCommand(initCmd)
}

func addConnectionFlags(c *cobra.Command) {
	c.Flags().StringVarP(&vaultURL, "url", "u", "", "address of the Vault server (default $VAULT_ADDR)")
	c.Flags().BoolVar(&tlsSkipVerify, "tls-skip-verify", false, "do not verify the Vault server certificate")
}

func applyConnectionFlags(c *cobra.Command) {
	if c.Flags().Changed("url") {
		cfg.VaultAddr = vaultURL
	}
	if c.Flags().Changed("tls-skip-verify") {
		cfg.VaultSkipVerify = tlsSkipVerify
	}
}
