package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var (
	alertsAll   bool
	alertsAckBy string
)

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "List and manage monitoring alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		alerts, err := env.Service.Alerts(cmd.Context(), alertsAll)
		if err != nil {
			return err
		}
		if len(alerts) == 0 {
			fmt.Println("no alerts")
			return nil
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tLEVEL\tTYPE\tCONNECTOR\tRAISED\tSTATE\tTITLE")
		for _, a := range alerts {
			state := "open"
			switch {
			case a.ResolvedAt != nil:
				state = "resolved"
			case a.AcknowledgedAt != nil:
				state = "acked"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				a.ID, a.Level, a.Type, a.ConnectorID,
				a.Timestamp.Format(time.RFC3339), state, a.Title)
		}
		return tw.Flush()
	},
}

var alertsAckCmd = &cobra.Command{
	Use:   "ack <alert-id>",
	Short: "Acknowledge an alert",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Service.AcknowledgeAlert(cmd.Context(), args[0], alertsAckBy); err != nil {
			return err
		}
		fmt.Printf("acknowledged %s\n", args[0])
		return nil
	},
}

var alertsResolveCmd = &cobra.Command{
	Use:   "resolve <alert-id>",
	Short: "Resolve an alert",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Service.ResolveAlert(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("resolved %s\n", args[0])
		return nil
	},
}

func init() {
	alertsCmd.Flags().BoolVar(&alertsAll, "all", false, "include resolved alerts")
	alertsAckCmd.Flags().StringVar(&alertsAckBy, "by", "cli", "who acknowledges the alert")
	alertsCmd.AddCommand(alertsAckCmd, alertsResolveCmd)
	rootCmd.AddCommand(alertsCmd)
}
