package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/mohammad-safakhou/drew/config"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	var cfgPath string
	root := &cobra.Command{
		Use:          "drew",
		Short:        "Activity recommendation agents",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is ./config)")

	load := func() (*config.Config, error) { return config.Load(cfgPath) }
	root.AddCommand(
		serveCMD(load),
		migrateCMD(load),
		indexCMD(load),
		reconcileCMD(load),
		mcpCMD(load),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		log.Printf("drew: %v", err)
		os.Exit(1)
	}
}

type configLoader func() (*config.Config, error)
