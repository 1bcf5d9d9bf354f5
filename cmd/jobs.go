package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var jobsConnector string

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List and manage remediation jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		jobs, err := env.Service.Jobs(cmd.Context(), jobsConnector)
		if err != nil {
			return err
		}
		if len(jobs) == 0 {
			fmt.Println("no remediation jobs")
			return nil
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tCONNECTOR\tSTATUS\tREASON\tATTEMPTS\tNEXT RETRY\tERROR")
		for _, j := range jobs {
			next := "-"
			if j.NextRetryAt != nil {
				next = j.NextRetryAt.Format(time.RFC3339)
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
				j.ID, j.ConnectorID, j.Status, j.Reason,
				len(j.Attempts), next, j.ErrorMessage)
		}
		return tw.Flush()
	},
}

var jobsTriggerCmd = &cobra.Command{
	Use:   "trigger <connector-id>",
	Short: "Manually start a remediation job for a connector",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		job, err := env.Service.TriggerRemediation(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("job %s %s for %s\n", job.ID, job.Status, job.ConnectorID)
		return nil
	},
}

var jobsCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel an active remediation job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Service.CancelJob(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("cancelled %s\n", args[0])
		return nil
	},
}

var jobsRetryCmd = &cobra.Command{
	Use:   "retry <job-id>",
	Short: "Restart a failed or cancelled remediation job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Service.RetryJob(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("restarted %s\n", args[0])
		return nil
	},
}

var jobsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete completed remediation jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		n, err := env.Service.ClearCompletedJobs(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("cleared %d jobs\n", n)
		return nil
	},
}

func init() {
	jobsCmd.Flags().StringVar(&jobsConnector, "connector", "", "filter by connector ID")
	jobsCmd.AddCommand(jobsTriggerCmd, jobsCancelCmd, jobsRetryCmd, jobsClearCmd)
	rootCmd.AddCommand(jobsCmd)
}
