package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/mohammad-safakhou/drew/config"
	"github.com/mohammad-safakhou/drew/internal/embedding"
	"github.com/mohammad-safakhou/drew/internal/llm"
	"github.com/mohammad-safakhou/drew/internal/lock"
	"github.com/mohammad-safakhou/drew/internal/search"
	"github.com/mohammad-safakhou/drew/internal/store"
	"github.com/spf13/cobra"
)

// withJobLock runs fn while holding the named Redis lock. A lock held elsewhere is
// reported and treated as success so overlapping cron invocations exit quietly.
func withJobLock(ctx context.Context, cfg *config.Config, name string, ttl time.Duration, fn func(context.Context) error) error {
	rdb, err := store.ConnectRedis(ctx, cfg.Storage.Redis)
	if err != nil {
		return err
	}
	defer rdb.Close()

	locker := lock.NewLocker(rdb, cfg.Threads.KeyPrefix)
	unlock, err := locker.TryAcquire(ctx, name, ttl)
	if errors.Is(err, lock.ErrHeld) {
		log.Printf("%s already running elsewhere, skipping", name)
		return nil
	}
	if err != nil {
		return err
	}
	defer func() {
		if err := unlock(context.Background()); err != nil {
			log.Printf("%s: %v", name, err)
		}
	}()
	return fn(ctx)
}

func indexCMD(load configLoader) *cobra.Command {
	var ttl time.Duration
	index := &cobra.Command{
		Use:   "index",
		Short: "Embed activities that have no embedding yet",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			st, err := store.New(ctx, cfg.Storage.Postgres)
			if err != nil {
				return err
			}
			defer st.Close()
			provider, err := llm.NewProvider(cfg.LLM)
			if err != nil {
				return err
			}
			engine := search.New(st, embedding.NewService(provider, cfg.Embedding, nil), cfg.Search, nil)

			return withJobLock(ctx, cfg, "index", ttl, func(ctx context.Context) error {
				n, err := engine.BatchIndex(ctx)
				if err != nil {
					return fmt.Errorf("index activities: %w", err)
				}
				log.Printf("indexed %d activities", n)
				return nil
			})
		},
	}
	index.Flags().DurationVar(&ttl, "lock-ttl", 30*time.Minute, "how long the job lock is held before it expires")
	return index
}

func reconcileCMD(load configLoader) *cobra.Command {
	var ttl time.Duration
	reconcile := &cobra.Command{
		Use:   "reconcile",
		Short: "Add missing recommendation ids to their projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			st, err := store.New(ctx, cfg.Storage.Postgres)
			if err != nil {
				return err
			}
			defer st.Close()

			return withJobLock(ctx, cfg, "reconcile", ttl, func(ctx context.Context) error {
				n, err := st.ReconcileProjectRecommendations(ctx)
				if err != nil {
					return fmt.Errorf("reconcile: %w", err)
				}
				log.Printf("repaired %d project recommendation lists", n)
				return nil
			})
		},
	}
	reconcile.Flags().DurationVar(&ttl, "lock-ttl", 10*time.Minute, "how long the job lock is held before it expires")
	return reconcile
}
