package cmd

import (
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/gatehouse/cli/config"
	"github.com/pithecene-io/gatehouse/cli/render"
	"github.com/pithecene-io/gatehouse/cli/tui"
	"github.com/pithecene-io/gatehouse/lode"
)

// outcomesWarningThreshold is the number of records above which we
// suggest --limit.
const outcomesWarningThreshold = 100

// OutcomesCommand returns the outcomes command, which reads the delivery
// outcome journal.
func OutcomesCommand() *cli.Command {
	return &cli.Command{
		Name:  "outcomes",
		Usage: "Query journaled delivery outcomes",
		Flags: append(ReadOnlyFlags(),
			ConfigFlag,
			&cli.StringFlag{
				Name:  "journal-backend",
				Usage: "Journal backend: fs or s3",
			},
			&cli.StringFlag{
				Name:  "journal-path",
				Usage: "Journal location (fs: directory, s3: bucket/prefix)",
			},
			&cli.StringFlag{
				Name:  "journal-region",
				Usage: "AWS region for the s3 backend",
			},
			&cli.StringFlag{
				Name:  "day",
				Usage: "Only this day (YYYY-MM-DD, UTC)",
			},
			&cli.StringFlag{
				Name:  "outcome",
				Usage: "Only this outcome: delivered, rejected, exhausted, abandoned",
			},
			&cli.StringFlag{
				Name:  "employee",
				Usage: "Only this employee number",
			},
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Keep the most recent N records (0 = no limit)",
			},
		),
		Action: outcomesAction,
	}
}

func outcomesAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitConfig)
	}

	storage, err := resolveJournalStorage(c)
	if err != nil {
		return cli.Exit(err.Error(), exitConfig)
	}
	factory, err := lode.NewStoreFactory(c.Context, storage)
	if err != nil {
		return cli.Exit(fmt.Sprintf("journal: %v", err), exitConfig)
	}

	records, err := lode.QueryOutcomes(c.Context, factory, lode.OutcomeFilter{
		Day:        c.String("day"),
		Outcome:    c.String("outcome"),
		EmployeeNo: c.String("employee"),
		Limit:      c.Int("limit"),
	})
	if err != nil && !errors.Is(err, lode.ErrNoOutcomes) {
		return cli.Exit(fmt.Sprintf("query outcomes: %v", err), exitFatal)
	}
	if records == nil {
		records = []lode.OutcomeRecord{}
	}

	if len(records) > outcomesWarningThreshold && c.Int("limit") == 0 && isStderrTTY() {
		fmt.Fprintf(c.App.ErrWriter, "Note: %d records; use --limit or --day to narrow\n", len(records))
	}

	if c.Bool("tui") {
		return r.RenderTUI(tui.ViewOutcomes, records)
	}
	return r.Render(records)
}

// resolveJournalStorage takes the journal section of --config, then
// applies the journal flags.
func resolveJournalStorage(c *cli.Context) (lode.StorageConfig, error) {
	cfg := &config.Config{}
	if path := c.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return lode.StorageConfig{}, err
		}
		cfg = loaded
	}

	cfg.Journal.Backend = resolveString(c, "journal-backend", cfg.Journal.Backend)
	cfg.Journal.Path = resolveString(c, "journal-path", cfg.Journal.Path)
	cfg.Journal.Region = resolveString(c, "journal-region", cfg.Journal.Region)
	if cfg.Journal.Path == "" {
		return lode.StorageConfig{}, errors.New("no journal configured: set journal.path in --config or pass --journal-path")
	}

	storage := cfg.JournalStorage()
	if err := storage.Validate(); err != nil {
		return lode.StorageConfig{}, fmt.Errorf("journal: %w", err)
	}
	return storage, nil
}
