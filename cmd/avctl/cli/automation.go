package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/olexisomar/ai-visibility/internal/automation"
	"github.com/olexisomar/ai-visibility/internal/db"
)

var (
	checkStuckTimeout int
	runAccountID      string
	runSource         string
)

var automationCmd = &cobra.Command{
	Use:   "automation",
	Short: "Manage visibility automation runs",
}

var checkStuckCmd = &cobra.Command{
	Use:   "check-stuck",
	Short: "Fail runs stuck in running beyond the timeout",
	RunE:  runCheckStuck,
}

var runWeeklyCmd = &cobra.Command{
	Use:   "run-weekly",
	Short: "Trigger the weekly visibility run for an account",
	RunE:  runRunWeekly,
}

func init() {
	checkStuckCmd.Flags().IntVar(&checkStuckTimeout, "timeout", int(automation.DefaultStuckRunTimeout.Seconds()), "stuck threshold in seconds")

	runWeeklyCmd.Flags().StringVar(&runAccountID, "account", "", "account ID to run for (required)")
	runWeeklyCmd.Flags().StringVar(&runSource, "source", "", "override source (all, gpt, google_aio)")
	runWeeklyCmd.MarkFlagRequired("account")

	automationCmd.AddCommand(checkStuckCmd)
	automationCmd.AddCommand(runWeeklyCmd)
	rootCmd.AddCommand(automationCmd)
}

func runCheckStuck(cmd *cobra.Command, args []string) error {
	database, err := openDB()
	if err != nil {
		return err
	}
	defer database.Close()

	reaper := automation.NewReaper(database, time.Duration(checkStuckTimeout)*time.Second)

	reaped, err := reaper.Sweep(cmd.Context(), time.Now().UTC())
	if err != nil {
		// Individual run failures are already logged; the sweep itself
		// only errors when the stuck-run query fails.
		return err
	}

	if jsonOut {
		printJSON(map[string]int{"reaped": reaped})
		return nil
	}

	fmt.Printf("Reaped %d stuck run(s)\n", reaped)
	return nil
}

func runRunWeekly(cmd *cobra.Command, args []string) error {
	database, err := openDB()
	if err != nil {
		return err
	}
	defer database.Close()

	manager := automation.NewManager(database, automation.NewPgDispatcher(database))
	return triggerWeekly(cmd.Context(), manager, cmd.OutOrStdout(), runAccountID, runSource)
}

// runTrigger is the slice of the automation manager that run-weekly needs
type runTrigger interface {
	TriggerRun(ctx context.Context, accountID, triggerType, source, triggeredBy string) (*db.AutomationRun, error)
}

func triggerWeekly(ctx context.Context, manager runTrigger, out io.Writer, accountID, source string) error {
	run, err := manager.TriggerRun(ctx, accountID, db.TriggerTypeScheduled, source, "avctl")
	if err != nil {
		if errors.Is(err, db.ErrDuplicateScheduledRun) {
			// A guarded no-op, not a failure: the weekly run already happened
			fmt.Fprintf(out, "Scheduled run already exists for %s today, skipping\n", accountID)
			return nil
		}
		if errors.Is(err, automation.ErrDailyLimitReached) {
			return fmt.Errorf("daily run limit reached for %s", accountID)
		}
		return err
	}

	if jsonOut {
		printJSON(map[string]string{
			"run_id": run.ID,
			"status": run.Status,
			"source": run.Source,
		})
		return nil
	}

	fmt.Fprintf(out, "Triggered run %s (source %s)\n", run.ID, run.Source)
	return nil
}
