package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Kensan196948G/ServiceGrid-sub004/internal/db/models"
)

// jobOutput represents the filtered output for a job
type jobOutput struct {
	ID          string          `json:"id"`
	RequestID   string          `json:"request_id"`
	Kind        models.JobKind  `json:"kind"`
	State       models.JobState `json:"state"`
	SLADeadline time.Time       `json:"sla_deadline"`
	SLABreached bool            `json:"sla_breached"`
	ExitCode    *int            `json:"exit_code,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// jobListOutput represents the filtered output for a list of jobs
type jobListOutput struct {
	Jobs []jobOutput `json:"jobs"`
}

func toJobOutput(job models.Job) jobOutput {
	out := jobOutput{
		ID:          job.ID,
		RequestID:   job.RequestID,
		Kind:        job.Kind,
		State:       job.State,
		SLADeadline: job.SLADeadline,
		SLABreached: job.SLABreached,
	}
	if job.Result != nil {
		code := job.Result.ExitCode
		out.ExitCode = &code
		out.Error = job.Result.Error
	}
	return out
}

// GetJobsCmd returns the jobs command
func GetJobsCmd() *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Manage jobs",
	}
	jobsCmd.AddCommand(newListJobsCmd())
	jobsCmd.AddCommand(newGetJobCmd())
	jobsCmd.AddCommand(newCancelJobCmd())
	jobsCmd.AddCommand(newQueueCmd())
	return jobsCmd
}

func newListJobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			offset, _ := cmd.Flags().GetInt("offset")
			state, _ := cmd.Flags().GetString("state")

			opts := &models.ListOptions{Limit: limit, Offset: offset}
			if state != "" {
				jobState, err := models.ParseJobState(state)
				if err != nil {
					return err
				}
				opts.State = &jobState
			}

			jobs, err := apiClient.GetJobs(context.Background(), opts)
			if err != nil {
				return fmt.Errorf("error fetching jobs: %w", err)
			}

			output := jobListOutput{Jobs: make([]jobOutput, len(jobs))}
			for i, job := range jobs {
				output.Jobs[i] = toJobOutput(job)
			}
			return printJSON(cmd, output)
		},
	}
	cmd.Flags().IntP("limit", "l", 0, "Limit the number of jobs returned")
	cmd.Flags().Int("offset", 0, "Number of jobs to skip")
	cmd.Flags().String("state", "", "Filter jobs by state")
	return cmd
}

func newGetJobCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Get a specific job",
		RunE: func(cmd *cobra.Command, _ []string) error {
			jobID, _ := cmd.Flags().GetString("id")

			job, err := apiClient.GetJob(context.Background(), jobID)
			if err != nil {
				return fmt.Errorf("error fetching job: %w", err)
			}
			return printJSON(cmd, toJobOutput(job))
		},
	}
	cmd.Flags().StringP("id", "i", "", "Job ID to fetch")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func newCancelJobCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel",
		Short: "Cancel a queued or running job",
		RunE: func(cmd *cobra.Command, _ []string) error {
			jobID, _ := cmd.Flags().GetString("id")

			job, err := apiClient.CancelJob(context.Background(), jobID)
			if err != nil {
				return fmt.Errorf("error cancelling job: %w", err)
			}
			return printJSON(cmd, toJobOutput(job))
		},
	}
	cmd.Flags().StringP("id", "i", "", "Job ID to cancel")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func newQueueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "queue",
		Short: "Show queue depth and running jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			queue, err := apiClient.GetQueue(context.Background())
			if err != nil {
				return fmt.Errorf("error fetching queue: %w", err)
			}
			return printJSON(cmd, queue)
		},
	}
}
