package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// NewJobCmd создаёт группу команд для управления jobs.
func NewJobCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Manage jobs",
	}

	cmd.AddCommand(
		newJobListCmd(clientFn, outputFn),
		newJobSubmitCmd(clientFn, outputFn),
		newJobShowCmd(clientFn, outputFn),
		newJobStopCmd(clientFn, outputFn),
		newJobTasksCmd(clientFn, outputFn),
	)

	return cmd
}

func newJobListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var processID string
	var status string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			jobs, err := client.ListJobs(ListJobsOpts{
				ProcessID: processID,
				Status:    status,
				Limit:     limit,
			})
			if err != nil {
				return err
			}

			headers := []string{"ID", "PROCESS_ID", "KEY", "STATUS", "CREATED"}
			rows := make([][]string, len(jobs))
			for i, j := range jobs {
				rows[i] = []string{j.ID, j.ProcessID, j.Input.Key, j.Status, j.CreatedAt}
			}

			out.Print(headers, rows, jobs)
			return nil
		},
	}

	cmd.Flags().StringVar(&processID, "process-id", "", "Filter by process ID")
	cmd.Flags().StringVar(&status, "status", "", "Filter by status (PENDING, RUNNING, DONE, STOPPED)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of results")

	return cmd
}

func newJobSubmitCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var key string
	var data string
	var requestor string
	var idempotencyKey string

	cmd := &cobra.Command{
		Use:   "submit PROCESS_ID",
		Short: "Submit a new job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			job, err := client.SubmitJob(args[0], SubmitJobRequest{
				Input: JobInputDTO{
					Key:       key,
					Data:      data,
					Requestor: requestor,
				},
				IdempotencyKey: idempotencyKey,
			})
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Job submitted: %s", job.ID))
			out.Print(
				[]string{"ID", "PROCESS_ID", "KEY", "STATUS", "CREATED"},
				[][]string{{job.ID, job.ProcessID, job.Input.Key, job.Status, job.CreatedAt}},
				job,
			)
			return nil
		},
	}

	cmd.Flags().StringVar(&key, "key", "", "Business key of the job (required)")
	cmd.Flags().StringVar(&data, "data", "", "Job payload")
	cmd.Flags().StringVar(&requestor, "requestor", "", "Requestor identifier")
	cmd.Flags().StringVar(&idempotencyKey, "idempotency-key", "", "Idempotency key: repeated submit returns the existing job")
	cmd.MarkFlagRequired("key")

	return cmd
}

func newJobShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show job details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			job, err := client.GetJob(args[0])
			if err != nil {
				return err
			}

			out.Print(
				[]string{"ID", "PROCESS_ID", "KEY", "REQUESTOR", "STATUS", "STARTED", "FINISHED"},
				[][]string{{
					job.ID, job.ProcessID, job.Input.Key, job.Input.Requestor,
					job.Status, job.StartedAt, job.FinishedAt,
				}},
				job,
			)
			return nil
		},
	}
}

func newJobStopCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "stop ID",
		Short: "Stop a running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			job, err := client.StopJob(args[0])
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Job stop requested: %s", job.ID))
			return nil
		},
	}
}

func newJobTasksCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "tasks JOB_ID",
		Short: "List tasks of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			tasks, err := client.ListTasks(args[0])
			if err != nil {
				return err
			}

			headers := []string{"ID", "ACTIVITY", "FAILED", "DATA", "NEXT", "FINISHED"}
			rows := make([][]string, len(tasks))
			for i, t := range tasks {
				rows[i] = []string{
					t.ID, t.ActivityID, strconv.FormatBool(t.Failed),
					truncate(t.Data, 40), strconv.Itoa(len(t.NextActivities)), t.FinishedAt,
				}
			}

			out.Print(headers, rows, tasks)
			return nil
		},
	}
}

// truncate обрезает длинные значения для табличного вывода.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
