package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/calliope-studio/calliope/internal/config"
	"github.com/calliope-studio/calliope/internal/scheduler"
	"github.com/calliope-studio/calliope/internal/tasks"
)

// NewSchedulesCommand returns the schedules subcommand.
func NewSchedulesCommand() *cli.Command {
	return &cli.Command{
		Name:  "schedules",
		Usage: "Manage recurring generation schedules",
		Commands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List all schedules",
				Action: runSchedulesList,
			},
			{
				Name:  "add",
				Usage: "Add a recurring schedule",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "user", Usage: "Owning user id", Required: true},
					&cli.StringFlag{Name: "brand", Usage: "Brand id"},
					&cli.StringFlag{Name: "type", Usage: "Task type to run", Required: true},
					&cli.StringFlag{Name: "cron", Usage: "5-field cron spec", Required: true},
					&cli.StringFlag{Name: "payload", Usage: "Task payload as JSON", Value: "{}"},
					&cli.IntFlag{Name: "max-runs", Usage: "Disable after this many runs (0 = unlimited)"},
				},
				Action: runSchedulesAdd,
			},
			{
				Name:      "remove",
				Usage:     "Remove a schedule",
				ArgsUsage: "<schedule_id>",
				Action:    runSchedulesRemove,
			},
			{
				Name:      "runs",
				Usage:     "Show a schedule's trigger history",
				ArgsUsage: "<schedule_id>",
				Action:    runSchedulesRuns,
			},
		},
		DefaultCommand: "list",
	}
}

func openScheduleStore() *scheduler.ScheduleStore {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	return scheduler.NewScheduleStore(filepath.Join(cfg.Storage.DataDir, "schedules"))
}

func runSchedulesList(_ context.Context, _ *cli.Command) error {
	store := openScheduleStore()

	entries, err := store.List()
	if err != nil {
		return fmt.Errorf("list schedules: %w", err)
	}

	if len(entries) == 0 {
		fmt.Println("No schedules found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tCRON\tENABLED\tRUNS\tUSER")
	for _, e := range entries {
		runs := fmt.Sprintf("%d", e.RunCount)
		if e.MaxRuns > 0 {
			runs = fmt.Sprintf("%d/%d", e.RunCount, e.MaxRuns)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\t%s\n",
			e.ID, e.Kind, e.CronSpec, e.Enabled, runs, e.UserID)
	}
	return w.Flush()
}

func runSchedulesAdd(_ context.Context, cmd *cli.Command) error {
	payload := cmd.String("payload")
	if !json.Valid([]byte(payload)) {
		return fmt.Errorf("payload must be valid JSON")
	}

	entry := &scheduler.ScheduleEntry{
		UserID:   cmd.String("user"),
		BrandID:  cmd.String("brand"),
		Kind:     tasks.Kind(cmd.String("type")),
		Payload:  json.RawMessage(payload),
		CronSpec: cmd.String("cron"),
		MaxRuns:  cmd.Int("max-runs"),
		Enabled:  true,
	}

	store := openScheduleStore()
	if err := store.Create(entry); err != nil {
		return fmt.Errorf("create schedule: %w", err)
	}

	fmt.Printf("Schedule %s created (%s, %q).\n", entry.ID, entry.Kind, entry.CronSpec)
	return nil
}

func runSchedulesRemove(_ context.Context, cmd *cli.Command) error {
	id := cmd.Args().First()
	if id == "" {
		return fmt.Errorf("usage: calliope schedules remove <schedule_id>")
	}

	store := openScheduleStore()
	if _, err := store.Get(id); err != nil {
		return err
	}
	if err := store.Delete(id); err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}

	fmt.Printf("Schedule %s removed.\n", id)
	return nil
}

func runSchedulesRuns(_ context.Context, cmd *cli.Command) error {
	id := cmd.Args().First()
	if id == "" {
		return fmt.Errorf("usage: calliope schedules runs <schedule_id>")
	}

	store := openScheduleStore()
	if _, err := store.Get(id); err != nil {
		return err
	}

	runs, err := store.Runs(id)
	if err != nil {
		return fmt.Errorf("load runs: %w", err)
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TRIGGERED\tTASK\tERROR")
	for _, r := range runs {
		errText := "-"
		if r.Error != "" {
			errText = r.Error
		}
		taskID := r.TaskID
		if taskID == "" {
			taskID = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", r.TriggeredAt.Format("2006-01-02 15:04:05"), taskID, errText)
	}
	return w.Flush()
}
