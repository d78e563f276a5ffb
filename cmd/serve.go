package cmd

import (
	"github.com/hydropi/hydropi/controller/daemon"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run cycles on schedule and serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := daemon.New(cmd.Context(), a.cfg, a.log)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := d.Close(); cerr != nil {
					a.log.Warn("Shutdown incomplete", zap.Error(cerr))
				}
			}()
			return d.Serve(cmd.Context())
		},
	}
}
