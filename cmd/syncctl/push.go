package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var pushCmd = &cobra.Command{
	Use:   "push",
	Short: "Drain the outbox against the remote store once",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.engine.Push(ctx); err != nil {
			return fmt.Errorf("syncctl: push: %w", err)
		}
		remaining, err := a.engine.Outbox().Count(ctx)
		if err != nil {
			return fmt.Errorf("syncctl: count outbox: %w", err)
		}
		fmt.Printf("push complete, %d op(s) still pending\n", remaining)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pushCmd)
}
