package cli

import (
	"github.com/spf13/cobra"

	"github.com/anthanhphan/go-upload-orchestrator/internal/uploader/app"
)

func newServeCmd(st *state) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the roster API and accept drop-zone batches",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("addr") {
				st.cfg.Server.Addr = addr
			}
			application, err := app.New(st.cfg)
			if err != nil {
				return err
			}
			return application.Run()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address, overrides server.addr")

	return cmd
}

func newSinkCmd(st *state) *cobra.Command {
	var addr, dir string

	cmd := &cobra.Command{
		Use:   "sink",
		Short: "Run a local multipart receiver that stores uploads on disk",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("addr") {
				st.cfg.Sink.Addr = addr
			}
			if cmd.Flags().Changed("dir") {
				st.cfg.Sink.Dir = dir
			}
			return app.RunSink(st.cfg)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address, overrides sink.addr")
	cmd.Flags().StringVar(&dir, "dir", "", "Storage directory, overrides sink.dir")

	return cmd
}
