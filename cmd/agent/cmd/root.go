// Package cmd provides the CLI commands for the cybervision-siem agent.
package cmd

import (
	"github.com/spf13/cobra"
)

// DefaultConfigPath is used when --config is not given.
const DefaultConfigPath = "config.yaml"

var (
	cfgFile string
	verbose bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "cybervision-siem",
		Short: "Wazuh alert forwarding pipeline",
		Long: `CyberVision SIEM forwards high-impact Wazuh alerts:
  - Tails the Wazuh alerts log from an in-memory cursor (restarts read from the start)
  - Keeps only high and critical alerts by rule level
  - Annotates each alert with a Gemini analysis or a local fallback
  - Buffers annotated alerts locally and POSTs them to the ingestion API

The serve command runs the ingestion API itself.`,
		Version:       "0.1.0",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./"+DefaultConfigPath+")")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")

	root.AddCommand(setupRunCmd())
	root.AddCommand(setupServeCmd())
	root.AddCommand(setupCheckConfigCmd())
	return root
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func configPath() string {
	if cfgFile == "" {
		return DefaultConfigPath
	}
	return cfgFile
}
