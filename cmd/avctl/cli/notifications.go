package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var cleanDays int

var notificationsCmd = &cobra.Command{
	Use:   "notifications",
	Short: "Manage stored notifications",
}

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Delete notifications older than the retention window",
	RunE:  runClean,
}

func init() {
	cleanCmd.Flags().IntVar(&cleanDays, "days", 90, "retention window in days")

	notificationsCmd.AddCommand(cleanCmd)
	rootCmd.AddCommand(notificationsCmd)
}

func runClean(cmd *cobra.Command, args []string) error {
	if cleanDays < 1 {
		return fmt.Errorf("days must be at least 1")
	}

	database, err := openDB()
	if err != nil {
		return err
	}
	defer database.Close()

	cutoff := time.Now().UTC().AddDate(0, 0, -cleanDays)
	deleted, err := database.DeleteNotificationsOlderThan(cmd.Context(), cutoff)
	if err != nil {
		return err
	}

	if jsonOut {
		printJSON(map[string]int64{"deleted": deleted})
		return nil
	}

	fmt.Printf("Deleted %d notification(s) older than %d days\n", deleted, cleanDays)
	return nil
}
