package main

import (
	srv "github.com/mohammad-safakhou/drew/internal/server"
	"github.com/spf13/cobra"
)

func serveCMD(load configLoader) *cobra.Command {
	var addr string
	var migrateFirst bool
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Address = addr
			}
			if migrateFirst {
				if err := srv.Migrate("file://migrations", cfg.Storage.Postgres.DSN(), "up", 0); err != nil {
					return err
				}
			}
			return srv.Run(cmd.Context(), cfg)
		},
	}
	serve.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.address)")
	serve.Flags().BoolVar(&migrateFirst, "migrate", false, "apply pending migrations before serving")
	return serve
}
