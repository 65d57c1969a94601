package cli

import (
	"github.com/spf13/cobra"

	"github.com/anthanhphan/go-upload-orchestrator/internal/uploader/app"
	"github.com/anthanhphan/go-upload-orchestrator/internal/uploader/config"
)

// state is shared by the subcommands of one invocation.
type state struct {
	configPath string
	cfg        *config.Config
}

func newRootCmd() *cobra.Command {
	st := &state{}

	rootCmd := &cobra.Command{
		Use:           "uploader",
		Short:         "Upload orchestrator",
		Long:          "Admit, upload and track files against a multipart HTTP endpoint or an S3 bucket",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.Bootstrap(st.configPath)
			if err != nil {
				return err
			}
			st.cfg = cfg
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&st.configPath, "config", "c", "",
		"Path to configuration file (default internal/uploader/config/$ENV.yaml)")

	rootCmd.AddCommand(newUploadCmd(st))
	rootCmd.AddCommand(newServeCmd(st))
	rootCmd.AddCommand(newSinkCmd(st))

	return rootCmd
}

func Execute() error {
	return newRootCmd().Execute()
}
