package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	statsAccountID string
	statsMonth     string
)

var sentimentCmd = &cobra.Command{
	Use:   "sentiment",
	Short: "Inspect collected brand sentiment",
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show monthly sentiment aggregates for an account",
	RunE:  runStats,
}

func init() {
	statsCmd.Flags().StringVar(&statsAccountID, "account", "", "account ID (required)")
	statsCmd.Flags().StringVar(&statsMonth, "month", "", "month as YYYY-MM (default: current month)")
	statsCmd.MarkFlagRequired("account")

	sentimentCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(sentimentCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	month := statsMonth
	if month == "" {
		month = time.Now().UTC().Format("2006-01")
	}
	if _, err := time.Parse("2006-01", month); err != nil {
		return fmt.Errorf("invalid month %q, expected YYYY-MM", month)
	}

	database, err := openDB()
	if err != nil {
		return err
	}
	defer database.Close()

	stats, err := database.GetSentimentStats(cmd.Context(), statsAccountID, month)
	if err != nil {
		return err
	}

	if jsonOut {
		printJSON(stats)
		return nil
	}

	fmt.Printf("Sentiment for %s (%s)\n", statsAccountID, stats.Month)
	fmt.Printf("  Responses:      %d\n", stats.Responses)
	fmt.Printf("  Mentions:       %d (%.0f%% mention rate)\n", stats.Mentions, stats.MentionRate*100)
	fmt.Printf("  Citations:      %d\n", stats.Citations)
	fmt.Printf("  Avg sentiment:  %+.2f\n", stats.AvgSentiment)
	fmt.Printf("  Positive share: %.0f%%\n", stats.PositiveShare*100)
	fmt.Printf("  Negative share: %.0f%%\n", stats.NegativeShare*100)
	for source, count := range stats.BySource {
		fmt.Printf("  %-14s  %d\n", source+":", count)
	}
	return nil
}
