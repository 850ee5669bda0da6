package cmd

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/gatehouse/cli/config"
	"github.com/pithecene-io/gatehouse/cli/render"
	"github.com/pithecene-io/gatehouse/spool"
	"github.com/pithecene-io/gatehouse/types"
)

// PendingTask is one spooled delivery, flattened for display.
type PendingTask struct {
	ID             string `json:"id" yaml:"id"`
	EmployeeNo     string `json:"employee_no" yaml:"employee_no"`
	IPAddress      string `json:"ip_address,omitempty" yaml:"ip_address,omitempty"`
	DateTime       string `json:"date_time,omitempty" yaml:"date_time,omitempty"`
	Attempt        int    `json:"attempt" yaml:"attempt"`
	NextEligibleAt string `json:"next_eligible_at,omitempty" yaml:"next_eligible_at,omitempty"`
	EnqueuedAt     string `json:"enqueued_at,omitempty" yaml:"enqueued_at,omitempty"`
}

// PendingCommand returns the pending command, which lists (and with
// --clear, discards) the deliveries spooled by the last run.
func PendingCommand() *cli.Command {
	return &cli.Command{
		Name:  "pending",
		Usage: "Show deliveries spooled for the next run",
		Flags: append(ReadOnlyFlags(),
			ConfigFlag,
			&cli.StringFlag{
				Name:  "spool",
				Usage: "Spool file (defaults to spool.path from --config)",
			},
			&cli.BoolFlag{
				Name:  "clear",
				Usage: "Remove the spool after listing it; the tasks will not be retried",
			},
		),
		Action: pendingAction,
	}
}

func pendingAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitConfig)
	}
	if c.Bool("tui") {
		return cli.Exit("--tui is not supported for pending command", exitConfig)
	}

	path := c.String("spool")
	if path == "" && c.String("config") != "" {
		cfg, err := config.Load(c.String("config"))
		if err != nil {
			return cli.Exit(err.Error(), exitConfig)
		}
		path = cfg.Spool.Path
	}
	if path == "" {
		return cli.Exit("no spool configured: set spool.path in --config or pass --spool", exitConfig)
	}

	s := spool.New(path)
	var tasks []types.DeliveryTask
	if c.Bool("clear") {
		tasks, err = s.Drain()
	} else {
		tasks, err = s.Load()
	}
	// A torn tail still yields the tasks before it.
	if err != nil && !(spool.IsFrameError(err) && len(tasks) > 0) {
		return cli.Exit(fmt.Sprintf("read spool: %v", err), exitFatal)
	}
	if err != nil {
		noticeLogger(c).Warnf("spool %s is truncated; showing the %d tasks before the damage: %v", path, len(tasks), err)
	}

	out := make([]PendingTask, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, pendingTask(t))
	}
	return r.Render(out)
}

func pendingTask(t types.DeliveryTask) PendingTask {
	p := PendingTask{
		ID:         t.ID,
		EmployeeNo: t.Event.EmployeeID,
		IPAddress:  t.Event.IPAddress,
		DateTime:   t.Event.OccurredAt,
		Attempt:    t.Attempt,
	}
	if !t.NextEligibleAt.IsZero() {
		p.NextEligibleAt = t.NextEligibleAt.UTC().Format(time.RFC3339)
	}
	if !t.EnqueuedAt.IsZero() {
		p.EnqueuedAt = t.EnqueuedAt.UTC().Format(time.RFC3339)
	}
	return p
}
