package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// NewProcessCmd создаёт группу команд для управления processes.
func NewProcessCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "process",
		Short: "Manage processes",
	}

	cmd.AddCommand(
		newProcessListCmd(clientFn, outputFn),
		newProcessCreateCmd(clientFn, outputFn),
		newProcessShowCmd(clientFn, outputFn),
		newProcessUpdateCmd(clientFn, outputFn),
		newProcessDeleteCmd(clientFn, outputFn),
	)

	return cmd
}

func newProcessListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all processes",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			processes, err := client.ListProcesses()
			if err != nil {
				return err
			}

			headers := []string{"ID", "NAME", "START", "ACTIVITIES", "ACTIVE", "CREATED"}
			rows := make([][]string, len(processes))
			for i, p := range processes {
				rows[i] = []string{
					p.ID, p.Name, p.StartActivity,
					strconv.Itoa(len(p.Activities)),
					strconv.FormatBool(p.IsActive), p.CreatedAt,
				}
			}

			out.Print(headers, rows, processes)
			return nil
		},
	}
}

func newProcessCreateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var name string
	var start string
	var activities []string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new process",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			parsed, err := parseActivities(activities)
			if err != nil {
				return err
			}

			process, err := client.CreateProcess(CreateProcessRequest{
				Name:          name,
				StartActivity: start,
				Activities:    parsed,
				IsActive:      true,
			})
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Process created: %s", process.ID))
			out.Print(
				[]string{"ID", "NAME", "START", "ACTIVITIES", "ACTIVE"},
				[][]string{{
					process.ID, process.Name, process.StartActivity,
					strconv.Itoa(len(process.Activities)),
					strconv.FormatBool(process.IsActive),
				}},
				process,
			)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Process name (required)")
	cmd.Flags().StringVar(&start, "start", "", "Start activity ID (required)")
	cmd.Flags().StringSliceVar(&activities, "activity", nil, "Activity as ID=URL (repeatable, required)")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("start")
	cmd.MarkFlagRequired("activity")

	return cmd
}

func newProcessShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show process details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			process, err := client.GetProcess(args[0])
			if err != nil {
				return err
			}

			// Activities построчно: удобнее читать, чем одной строкой
			headers := []string{"ACTIVITY_ID", "NAME", "URL", "START"}
			rows := make([][]string, len(process.Activities))
			for i, a := range process.Activities {
				isStart := ""
				if a.ID == process.StartActivity {
					isStart = "*"
				}
				rows[i] = []string{a.ID, a.Name, a.URL, isStart}
			}

			out.Success(fmt.Sprintf("Process %s (%s), active=%v", process.Name, process.ID, process.IsActive))
			out.Print(headers, rows, process)
			return nil
		},
	}
}

func newProcessUpdateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var name string
	var active string

	cmd := &cobra.Command{
		Use:   "update ID",
		Short: "Update a process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			req := UpdateProcessRequest{}
			if cmd.Flags().Changed("name") {
				req.Name = &name
			}
			if cmd.Flags().Changed("active") {
				b, err := strconv.ParseBool(active)
				if err != nil {
					return fmt.Errorf("invalid value for --active: %s", active)
				}
				req.IsActive = &b
			}

			process, err := client.UpdateProcess(args[0], req)
			if err != nil {
				return err
			}

			out.Success("Process updated")
			out.Print(
				[]string{"ID", "NAME", "START", "ACTIVE"},
				[][]string{{process.ID, process.Name, process.StartActivity, strconv.FormatBool(process.IsActive)}},
				process,
			)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "New process name")
	cmd.Flags().StringVar(&active, "active", "", "Set active status (true/false)")

	return cmd
}

func newProcessDeleteCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			if err := client.DeleteProcess(args[0]); err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Process deleted: %s", args[0]))
			return nil
		},
	}
}

// parseActivities разбирает флаги вида ID=URL в ActivityDTO.
func parseActivities(specs []string) ([]ActivityDTO, error) {
	activities := make([]ActivityDTO, 0, len(specs))
	for _, spec := range specs {
		parts := strings.SplitN(spec, "=", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("invalid activity format %q, expected ID=URL", spec)
		}
		activities = append(activities, ActivityDTO{ID: parts[0], URL: parts[1]})
	}
	return activities, nil
}
