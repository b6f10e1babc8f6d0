package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/zapdesk/inbox-bridge/internal/api"
)

// withApp runs fn against a wired app without the broker or HTTP server
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func drainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "drain",
		Short: "Run one processor pass over due buffers and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				summary, err := a.processor.RunOnce(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("processed=%d errors=%d skipped=%d duration=%s\n",
					summary.Processed, summary.Failed, summary.Skipped, summary.Duration.Round(time.Millisecond))
				return nil
			})
		},
	}
}

func reclaimCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reclaim",
		Short: "Fail buffers stuck in processing past the reclaim window",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				n, err := a.bufferUC.ReclaimStale(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("reclaimed=%d\n", n)
				return nil
			})
		},
	}
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Fire inactivity_timeout for quiet open conversations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				n, err := a.scheduler.SweepInactive(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("conversations=%d\n", n)
				return nil
			})
		},
	}
}

func tokenCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print a service_role token for /buffer/process and /api",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Auth.JWTSecret == "" {
				return errors.New("JWT_SECRET is not set")
			}
			token, err := api.NewServiceToken(cfg.Auth.JWTSecret, ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (0 never expires)")
	return cmd
}
