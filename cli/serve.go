package cli

import (
	"github.com/spf13/cobra"

	"github.com/bojiang/toy-tunnel/server"
)

func serveCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service (startup sync, login, config download)",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := &server.App{}
			if err := app.Initialize(e.cfg); err != nil {
				return err
			}
			return app.Run()
		},
	}
}
