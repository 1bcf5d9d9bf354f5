package main

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/econfeed/internal/model"
)

var (
	fetchItem   string
	fetchRegion string
	fetchStart  string
	fetchEnd    string
)

var fetchCmd = &cobra.Command{
	Use:   "fetch <connector-id>",
	Short: "Fetch, validate, and score one series through a connector",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		end := time.Now().UTC().Truncate(24 * time.Hour)
		start := end.AddDate(-1, 0, 0)
		if fetchStart != "" {
			if start, err = time.Parse("2006-01", fetchStart); err != nil {
				return eris.Wrap(err, "fetch: parse --start")
			}
		}
		if fetchEnd != "" {
			if end, err = time.Parse("2006-01", fetchEnd); err != nil {
				return eris.Wrap(err, "fetch: parse --end")
			}
		}

		result, err := env.Service.FetchAndProcess(cmd.Context(), args[0], model.FetchRequest{
			ItemID: fetchItem,
			Region: fetchRegion,
			Start:  start,
			End:    end,
		})
		if err != nil {
			return err
		}

		meta := result.Fetch
		fmt.Printf("Connector:  %s (source %s)\n", meta.ConnectorID, meta.SourceID)
		fmt.Printf("Coverage:   %.1f%%", meta.CoveragePercent)
		if meta.Synthetic {
			fmt.Print("  [synthetic]")
		}
		if meta.Stale {
			fmt.Print("  [stale]")
		}
		fmt.Println()
		fmt.Printf("Validation: passed=%v errors=%d warnings=%d\n",
			result.Validation.Passed, len(result.Validation.Errors), len(result.Validation.Warnings))
		fmt.Printf("Normalized: %d points\n", len(result.Normalized))
		fmt.Printf("Confidence: %.1f (%s)\n", result.Confidence.Score, result.Confidence.Bucket)
		for _, w := range meta.Warnings {
			fmt.Printf("  warning: %s\n", w)
		}
		return nil
	},
}

func init() {
	fetchCmd.Flags().StringVar(&fetchItem, "item", "gasoline-gallon", "item ID to fetch")
	fetchCmd.Flags().StringVar(&fetchRegion, "region", "US", "region code")
	fetchCmd.Flags().StringVar(&fetchStart, "start", "", "range start (YYYY-MM, default one year ago)")
	fetchCmd.Flags().StringVar(&fetchEnd, "end", "", "range end (YYYY-MM, default now)")
	rootCmd.AddCommand(fetchCmd)
}
