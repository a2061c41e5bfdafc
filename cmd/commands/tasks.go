package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/calliope-studio/calliope/internal/config"
	"github.com/calliope-studio/calliope/internal/tasks"
)

// NewTasksCommand returns the tasks subcommand.
func NewTasksCommand() *cli.Command {
	return &cli.Command{
		Name:  "tasks",
		Usage: "Inspect and manage generation tasks",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List recent tasks",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of tasks to show",
						Value: 50,
					},
				},
				Action: runTasksList,
			},
			{
				Name:      "show",
				Usage:     "Show task details",
				ArgsUsage: "<task_id>",
				Action:    runTasksShow,
			},
			{
				Name:      "cancel",
				Usage:     "Cancel a task",
				ArgsUsage: "<task_id>",
				Action:    runTasksCancel,
			},
		},
		DefaultCommand: "list",
	}
}

func openTaskStore() (*tasks.SQLStore, error) {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	return tasks.OpenSQLStore(cfg.Storage.DatabasePath)
}

func runTasksList(ctx context.Context, cmd *cli.Command) error {
	store, err := openTaskStore()
	if err != nil {
		return err
	}
	defer store.Close()

	list, err := store.ListRecent(ctx, cmd.Int("limit"))
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}

	if len(list) == 0 {
		fmt.Println("No tasks found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tPROGRESS\tTYPE\tBRAND\tQUEUED")
	for _, t := range list {
		fmt.Fprintf(w, "%s\t%s\t%d%%\t%s\t%s\t%s\n",
			t.ID,
			t.Status,
			t.Progress,
			t.Kind,
			t.BrandID,
			t.QueuedAt.Format("2006-01-02 15:04:05"),
		)
	}
	return w.Flush()
}

func runTasksShow(ctx context.Context, cmd *cli.Command) error {
	taskID := cmd.Args().First()
	if taskID == "" {
		return fmt.Errorf("usage: calliope tasks show <task_id>")
	}

	store, err := openTaskStore()
	if err != nil {
		return err
	}
	defer store.Close()

	t, err := store.Get(ctx, taskID)
	if err != nil {
		return fmt.Errorf("get task: %w", err)
	}

	fmt.Printf("ID:          %s\n", t.ID)
	fmt.Printf("Type:        %s\n", t.Kind)
	fmt.Printf("Status:      %s\n", t.Status)
	fmt.Printf("Progress:    %d%%\n", t.Progress)
	fmt.Printf("User:        %s\n", t.UserID)
	if t.BrandID != "" {
		fmt.Printf("Brand:       %s\n", t.BrandID)
	}
	fmt.Printf("Queued:      %s\n", t.QueuedAt.Format("2006-01-02 15:04:05"))
	if t.StartedAt != nil {
		fmt.Printf("Started:     %s\n", t.StartedAt.Format("2006-01-02 15:04:05"))
	}
	if t.CompletedAt != nil {
		fmt.Printf("Completed:   %s\n", t.CompletedAt.Format("2006-01-02 15:04:05"))
	}
	if t.RetryCount > 0 {
		fmt.Printf("Retries:     %d/%d\n", t.RetryCount, t.MaxRetries)
	}

	if len(t.Payload) > 0 {
		fmt.Printf("\nPayload:\n%s\n", t.Payload)
	}
	if t.LastError != "" {
		fmt.Printf("\nError: %s\n", t.LastError)
	}
	if len(t.Result) > 0 {
		fmt.Printf("\nResult:\n%s\n", t.Result)
	}

	return nil
}

func runTasksCancel(ctx context.Context, cmd *cli.Command) error {
	taskID := cmd.Args().First()
	if taskID == "" {
		return fmt.Errorf("usage: calliope tasks cancel <task_id>")
	}

	store, err := openTaskStore()
	if err != nil {
		return err
	}
	defer store.Close()

	now := time.Now().UTC()
	err = store.UpdateStatus(ctx, taskID, tasks.StatusCancelled, tasks.StatusUpdate{
		CompletedAt: &now,
	})
	if errors.Is(err, tasks.ErrStaleTransition) {
		t, getErr := store.Get(ctx, taskID)
		if getErr != nil {
			return getErr
		}
		fmt.Printf("Task %s is already %s.\n", taskID, t.Status)
		return nil
	}
	if err != nil {
		return fmt.Errorf("cancel task: %w", err)
	}

	fmt.Printf("Task %s cancelled.\n", taskID)
	return nil
}
