package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the engine's current sync state",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		pending, err := a.engine.Outbox().Count(ctx)
		if err != nil {
			return fmt.Errorf("syncctl: count outbox: %w", err)
		}
		lastSync, hasSynced, err := a.engine.LastSyncTime(ctx)
		if err != nil {
			return fmt.Errorf("syncctl: read last sync time: %w", err)
		}

		fmt.Printf("online:          %v\n", a.engine.Online())
		fmt.Printf("realtime:        %s\n", realtimeLabel(a.engine.RealtimeHealthy()))
		fmt.Printf("pending ops:     %d\n", pending)
		if hasSynced {
			fmt.Printf("last sync:       %s (%s ago)\n", lastSync.Local().Format(time.RFC3339), time.Since(lastSync).Round(time.Second))
		} else {
			fmt.Printf("last sync:       never\n")
		}
		return nil
	},
}

func realtimeLabel(healthy bool) string {
	if healthy {
		return "healthy"
	}
	return "unhealthy (falling back to periodic reconcile)"
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
