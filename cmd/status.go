package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sells-group/econfeed/internal/model"
)

var statusPeriod string

var statusCmd = &cobra.Command{
	Use:   "status [connector-id]",
	Short: "Show connector health, or one connector's quality scorecard",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		if len(args) == 1 {
			return printScorecard(cmd, env, args[0])
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "CONNECTOR\tSTATUS\tBREAKER\tUPTIME 24H\tAVG RESP\tREQS 24H\tERRS 24H\tLAST SUCCESS")
		for _, hs := range env.Service.HealthStatuses(cmd.Context()) {
			lastOK := "never"
			if hs.LastSuccessfulFetch != nil {
				lastOK = hs.LastSuccessfulFetch.Format(time.RFC3339)
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%.1f%%\t%s\t%d\t%d\t%s\n",
				hs.ConnectorID, hs.Status, hs.CircuitBreakerState,
				hs.Uptime24h, hs.AvgResponseTime.Round(time.Millisecond),
				hs.RequestCount24h, hs.ErrorCount24h, lastOK)
		}
		return tw.Flush()
	},
}

func printScorecard(cmd *cobra.Command, env *appEnv, connectorID string) error {
	period := model.ScorecardPeriod(statusPeriod)
	card, err := env.Service.Scorecard(cmd.Context(), connectorID, period)
	if err != nil {
		return err
	}

	fmt.Printf("Scorecard for %s (%s)\n", card.SourceID, card.Period)
	fmt.Printf("  Overall:      %.1f\n", card.Overall)
	fmt.Printf("  Availability: %.1f\n", card.Availability)
	fmt.Printf("  Freshness:    %.1f\n", card.Freshness)
	fmt.Printf("  Accuracy:     %.1f\n", card.Accuracy)
	fmt.Printf("  Completeness: %.1f\n", card.Completeness)
	fmt.Printf("  Consistency:  %.1f\n", card.Consistency)
	for _, rec := range card.Recommendations {
		fmt.Printf("  recommend: %s\n", rec)
	}
	return nil
}

func init() {
	statusCmd.Flags().StringVar(&statusPeriod, "period", "24h", "scorecard period (24h, 7d, 30d)")
	rootCmd.AddCommand(statusCmd)
}
