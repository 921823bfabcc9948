package main

import (
	"log"
	"os"

	"github.com/mohammad-safakhou/drew/internal/embedding"
	"github.com/mohammad-safakhou/drew/internal/llm"
	"github.com/mohammad-safakhou/drew/internal/mcptools"
	"github.com/mohammad-safakhou/drew/internal/search"
	"github.com/mohammad-safakhou/drew/internal/store"
	"github.com/mohammad-safakhou/drew/internal/tools"
	"github.com/spf13/cobra"
)

func mcpCMD(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the activity tools over MCP stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			// stdout carries the protocol
			log.SetOutput(os.Stderr)

			st, err := store.New(cmd.Context(), cfg.Storage.Postgres)
			if err != nil {
				return err
			}
			defer st.Close()
			provider, err := llm.NewProvider(cfg.LLM)
			if err != nil {
				return err
			}
			engine := search.New(st, embedding.NewService(provider, cfg.Embedding, nil), cfg.Search, nil)
			toolset := tools.NewToolset(engine, st, nil)
			return mcptools.ServeStdio(mcptools.NewServer(toolset, version))
		},
	}
}
