package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// checkStatus mirrors cmd/bd/doctor's status constants (internal to
// this command rather than a shared package, since this is the only
// consumer).
type checkStatus string

const (
	statusOK      checkStatus = "ok"
	statusWarning checkStatus = "warning"
	statusError   checkStatus = "error"
)

// doctorCheck is this command's analogue of doctor.DoctorCheck, scoped
// to the engine health signals SPEC_FULL.md names: outbox depth, oldest
// pending op age, realtime channel health, and last successful
// reconcile time.
type doctorCheck struct {
	Name    string
	Status  checkStatus
	Message string
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check engine health (outbox depth, realtime channel, last reconcile)",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		checks, err := runDoctorChecks(ctx, a)
		if err != nil {
			return err
		}

		colorize := term.IsTerminal(int(os.Stdout.Fd()))
		overallOK := true
		for _, c := range checks {
			printCheck(c, colorize)
			if c.Status == statusError {
				overallOK = false
			}
		}
		if !overallOK {
			return fmt.Errorf("syncctl: doctor: one or more checks failed")
		}
		return nil
	},
}

func runDoctorChecks(ctx context.Context, a *app) ([]doctorCheck, error) {
	var checks []doctorCheck

	pending, err := a.engine.Outbox().Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("syncctl: count outbox: %w", err)
	}
	checks = append(checks, outboxDepthCheck(pending))

	oldestAge, hasPending, err := oldestPendingOpAge(ctx, a)
	if err != nil {
		return nil, fmt.Errorf("syncctl: oldest pending op: %w", err)
	}
	checks = append(checks, oldestPendingOpCheck(oldestAge, hasPending))

	checks = append(checks, realtimeHealthCheck(a.engine.RealtimeHealthy()))

	lastSync, hasSynced, err := a.engine.LastSyncTime(ctx)
	if err != nil {
		return nil, fmt.Errorf("syncctl: last sync time: %w", err)
	}
	checks = append(checks, lastReconcileCheck(lastSync, hasSynced))

	return checks, nil
}

func outboxDepthCheck(pending int) doctorCheck {
	switch {
	case pending == 0:
		return doctorCheck{Name: "Outbox depth", Status: statusOK, Message: "empty"}
	case pending < 50:
		return doctorCheck{Name: "Outbox depth", Status: statusOK, Message: fmt.Sprintf("%d op(s) pending", pending)}
	default:
		return doctorCheck{Name: "Outbox depth", Status: statusWarning, Message: fmt.Sprintf("%d op(s) pending — push may be stalled", pending)}
	}
}

func oldestPendingOpAge(ctx context.Context, a *app) (time.Duration, bool, error) {
	ops, err := a.engine.Outbox().List(ctx)
	if err != nil {
		return 0, false, err
	}
	if len(ops) == 0 {
		return 0, false, nil
	}
	oldest := ops[0].Timestamp
	for _, op := range ops[1:] {
		if op.Timestamp.Before(oldest) {
			oldest = op.Timestamp
		}
	}
	return time.Since(oldest), true, nil
}

func oldestPendingOpCheck(age time.Duration, hasPending bool) doctorCheck {
	if !hasPending {
		return doctorCheck{Name: "Oldest pending op", Status: statusOK, Message: "none"}
	}
	if age > 10*time.Minute {
		return doctorCheck{Name: "Oldest pending op", Status: statusWarning, Message: fmt.Sprintf("%s old", age.Round(time.Second))}
	}
	return doctorCheck{Name: "Oldest pending op", Status: statusOK, Message: fmt.Sprintf("%s old", age.Round(time.Second))}
}

func realtimeHealthCheck(healthy bool) doctorCheck {
	if healthy {
		return doctorCheck{Name: "Realtime channel", Status: statusOK, Message: "healthy"}
	}
	return doctorCheck{Name: "Realtime channel", Status: statusWarning, Message: "unhealthy — periodic reconcile is the fallback"}
}

func lastReconcileCheck(lastSync time.Time, hasSynced bool) doctorCheck {
	if !hasSynced {
		return doctorCheck{Name: "Last reconcile", Status: statusWarning, Message: "never completed a pull"}
	}
	age := time.Since(lastSync)
	if age > time.Hour {
		return doctorCheck{Name: "Last reconcile", Status: statusWarning, Message: fmt.Sprintf("%s ago", age.Round(time.Second))}
	}
	return doctorCheck{Name: "Last reconcile", Status: statusOK, Message: fmt.Sprintf("%s ago", age.Round(time.Second))}
}

func printCheck(c doctorCheck, colorize bool) {
	symbol := "?"
	switch c.Status {
	case statusOK:
		symbol = colorizeIf(colorize, "32", "OK")
	case statusWarning:
		symbol = colorizeIf(colorize, "33", "WARN")
	case statusError:
		symbol = colorizeIf(colorize, "31", "FAIL")
	}
	fmt.Printf("[%s] %-20s %s\n", symbol, c.Name, c.Message)
}

func colorizeIf(colorize bool, ansiCode, label string) string {
	if !colorize {
		return label
	}
	return fmt.Sprintf("\033[%sm%s\033[0m", ansiCode, label)
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}
