package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var resetYes bool

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear all local session state (entities, outbox, conflict history, pull cursor)",
	Long: `Reset tears down local session state the way the engine does on
logout (spec §6): every entity table, the outbox, conflict history and
the pull cursor are cleared inside one transaction, and the realtime
channel is unsubscribed. It does not touch the remote store — the next
pull reconcile repopulates local state from scratch.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !resetYes && !confirm("this clears all local data and cannot be undone") {
			fmt.Println("aborted")
			return nil
		}

		ctx := context.Background()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.engine.Logout(ctx); err != nil {
			return fmt.Errorf("syncctl: reset: %w", err)
		}
		fmt.Println("local session state cleared")
		return nil
	},
}

func confirm(prompt string) bool {
	fmt.Printf("%s — continue? [y/N] ", prompt)
	reader := bufio.NewReader(os.Stdin)
	line, _ := reader.ReadString('\n')
	return strings.EqualFold(strings.TrimSpace(line), "y")
}

func init() {
	resetCmd.Flags().BoolVar(&resetYes, "yes", false, "skip the confirmation prompt")
	rootCmd.AddCommand(resetCmd)
}
