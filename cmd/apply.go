package cmd

import (
	"context"
	"os"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/spf13/cobra"

	"github.com/lamassuiot/pkictl/pkg/api"
	"github.com/lamassuiot/pkictl/pkg/manifest"
)

var manifestPath string

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Reconcile the Vault server with a set of manifests",
	Long: `Validates the manifests found at --file, a file or a directory of YAML
files, then mounts and configures every KV engine, root CA and
intermediate CA they describe. Entities already present are left intact.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		applyConnectionFlags(cmd)
		logger := newLogger(os.Stderr, cfg.LogFormat, cfg.Debug)

		docs, err := manifest.ReadFiles(manifestPath)
		if err != nil {
			return err
		}
		m, err := manifest.Parse(docs)
		if err != nil {
			return err
		}
		level.Info(logger).Log("msg", "Manifests validated", "kv_engines", len(m.KVEngines), "root_cas", len(m.Roots), "intermediate_cas", len(m.Intermediates))

		rt, err := newRuntime(cfg, logger, true)
		if err != nil {
			return err
		}
		defer rt.Close()

		report, err := rt.service.Apply(context.Background(), m)
		logReport(logger, report)
		return err
	},
}

func init() {
	addConnectionFlags(applyCmd)
	applyCmd.Flags().StringVarP(&manifestPath, "file", "f", "", "manifest file or directory of manifests")
	applyCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(applyCmd)
}

func logReport(logger log.Logger, report api.Report) {
	for _, e := range report.Entities {
		level.Info(logger).Log(
			"msg", "Reconciled",
			"kind", e.Kind,
			"name", e.Name,
			"existed", e.Existed,
			"state", e.Final(),
		)
	}
}
