package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/identrail/identrail/internal/store"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and trigger connector jobs",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent jobs for a connector instance",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		instanceID, err := parseInstanceID(cmd)
		if err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("limit")

		return withStore(cmd.Context(), func(ctx context.Context, st *store.Store) error {
			jobList, err := st.ListJobsForInstance(ctx, instanceID, limit)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tTRIGGERED BY\tFOUND\tINGESTED\tERROR")
			for _, job := range jobList {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
					job.ID, job.Status, job.TriggeredBy,
					job.RecordsFound, job.RecordsIngested, job.ErrorMessage)
			}
			return w.Flush()
		})
	},
}

var jobsRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Queue a manual job for a connector instance",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		instanceID, err := parseInstanceID(cmd)
		if err != nil {
			return err
		}

		return withStore(cmd.Context(), func(ctx context.Context, st *store.Store) error {
			// Existence check up front; a job for a missing instance would
			// sit pending and fail at execution time.
			instance, err := st.GetConnectorInstance(ctx, instanceID)
			if err != nil {
				return fmt.Errorf("connector instance %s: %w", instanceID, err)
			}

			job, err := st.CreateJob(ctx, instance.ID, store.TriggerManual)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(),
				"queued job %s for %s; the worker picks it up on its next poll\n",
				job.ID, instance.Name)
			return nil
		})
	},
}

func init() {
	jobsListCmd.Flags().String("instance", "", "connector instance id")
	jobsListCmd.Flags().Int("limit", 20, "maximum number of jobs to show")
	jobsRunCmd.Flags().String("instance", "", "connector instance id")
	jobsCmd.AddCommand(jobsListCmd, jobsRunCmd)
}
