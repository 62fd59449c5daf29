package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func syncCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Re-render the server config from the directory and apply it to the interface",
		RunE: func(cmd *cobra.Command, args []string) error {
			core, err := e.core(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer core.Close()

			if err := core.Directory.Startup(cmd.Context()); err != nil {
				return err
			}
			last := core.Reconciler.LastSync()
			fmt.Println(SuccessMsg("%s synced (%s, checksum %s)",
				core.Reconciler.ConfigPath(), last.From, last.Checksum[:12]))
			return nil
		},
	}
}
