// Package cli содержит команды toy-tunnel: сервер и операции над каталогом пиров.
// Команды работают с той же БД и тем же интерфейсом, что и сервер, поэтому
// на хосте должен быть один владелец каталога.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bojiang/toy-tunnel/config"
	"github.com/bojiang/toy-tunnel/internal/logs"
	"github.com/bojiang/toy-tunnel/server"
)

// env: общее состояние, которое PersistentPreRunE готовит для подкоманд.
type env struct {
	configFile string
	debug      bool
	cfg        *config.Config
}

func (e *env) core(ctx context.Context, resolveEndpoint bool) (*server.Core, error) {
	return server.NewCore(ctx, e.cfg, server.CoreOptions{ResolveEndpoint: resolveEndpoint})
}

func NewRootCmd() *cobra.Command {
	e := &env{}
	root := &cobra.Command{
		Use:           "toy-tunnel",
		Short:         "Self-service WireGuard VPN directory",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			path := e.configFile
			if path == "" {
				path = os.Getenv("CONFIG_FILE")
			}
			cfg, err := config.LoadFile(path)
			if err != nil {
				return err
			}
			e.cfg = cfg

			opts := logs.Options{
				Level:  cfg.Logging.Level,
				Format: cfg.Logging.Format,
				File:   cfg.Logging.File,
			}
			// stdout у CLI-команд занят выводом
			if cmd.Name() != "serve" {
				opts.Output = os.Stderr
				if !e.debug {
					opts.Level = "warning"
				}
			}
			if e.debug {
				opts.Level = "debug"
			}
			return logs.Init(opts)
		},
	}
	root.PersistentFlags().StringVarP(&e.configFile, "config", "c", "", "Path to config yaml (default: $CONFIG_FILE or ./config.yaml)")
	root.PersistentFlags().BoolVar(&e.debug, "debug", false, "Enable debug logging")

	root.AddCommand(serveCmd(e))
	root.AddCommand(syncCmd(e))
	root.AddCommand(peerCmd(e))
	root.AddCommand(statusCmd(e))
	return root
}

func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, ErrorMsg("%v", err))
		os.Exit(1)
	}
}
