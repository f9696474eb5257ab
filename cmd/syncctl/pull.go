package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var pullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Run a pull reconcile against the remote store once",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.engine.Pull(ctx); err != nil {
			return fmt.Errorf("syncctl: pull: %w", err)
		}
		lastSync, _, err := a.engine.LastSyncTime(ctx)
		if err != nil {
			return fmt.Errorf("syncctl: read last sync time: %w", err)
		}
		fmt.Printf("pull complete, cursor now at %s\n", lastSync)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pullCmd)
}
