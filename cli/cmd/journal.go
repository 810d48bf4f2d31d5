package cmd

import (
	"errors"
	"fmt"

	"github.com/justapithecus/lode/lode"
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/multiflash/cli/config"
	"github.com/pithecene-io/multiflash/cli/render"
	fjournal "github.com/pithecene-io/multiflash/lode"
	"github.com/pithecene-io/multiflash/runtime"
	"github.com/pithecene-io/multiflash/types"
)

// JournalCommand returns the journal command.
// It reads the flash journal and never touches a probe.
func JournalCommand() *cli.Command {
	return &cli.Command{
		Name:  "journal",
		Usage: "Query the flash journal",
		Flags: append(OutputFlags(),
			ConfigFlag, FamilyFlag,
			JournalBackendFlag, JournalPathFlag, JournalRegionFlag, JournalEndpointFlag, JournalPathStyleFlag,
			&cli.StringFlag{
				Name:  "run-id",
				Usage: "Show the summary of this run (default: latest run)",
			},
			&cli.IntFlag{
				Name:  "device",
				Usage: "Show every journaled outcome of this serial number",
			},
		),
		Action: journalAction,
	}
}

func journalAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return exitWith(configErr(err))
	}

	cfg, err := config.LoadOptional(c.String("config"))
	if err != nil {
		return exitWith(configErr(err))
	}

	choice := journalChoice{
		dataset:   cfg.Journal.Dataset,
		backend:   firstNonEmpty(c.String("journal-backend"), cfg.Journal.Backend, "fs"),
		path:      firstNonEmpty(c.String("journal-path"), cfg.Journal.Path),
		region:    firstNonEmpty(c.String("journal-s3-region"), cfg.Journal.Region),
		endpoint:  firstNonEmpty(c.String("journal-s3-endpoint"), cfg.Journal.Endpoint),
		pathStyle: c.Bool("journal-s3-path-style") || cfg.Journal.S3PathStyle,
	}
	if choice.path == "" {
		return exitWith(configErr(errors.New("journal requires --journal-path or journal.path")))
	}

	// Family filters run summaries only when given explicitly.
	var family types.Family
	if f := firstNonEmpty(c.String("family"), cfg.Family); f != "" {
		if family, err = types.ParseFamily(f); err != nil {
			return exitWith(configErr(err))
		}
	}

	ds, err := openJournal(choice)
	if err != nil {
		return exitWith(configErr(err))
	}

	if c.IsSet("device") {
		id := c.Int("device")
		if id <= 0 {
			return exitWith(configErr(fmt.Errorf("invalid serial number: %d", id)))
		}
		records, err := fjournal.QueryDeviceHistory(c.Context, ds, types.DeviceID(id))
		if err != nil {
			return journalReadExit(err)
		}
		return r.Render(fjournal.NewHistoryEntries(records))
	}

	record, err := fjournal.QueryLatestRunSummary(c.Context, ds, c.String("run-id"), family)
	if err != nil {
		return journalReadExit(err)
	}
	return r.Render(fjournal.NewRunView(record))
}

// openJournal opens the journal dataset for reading.
func openJournal(choice journalChoice) (lode.Dataset, error) {
	switch choice.backend {
	case "fs":
		return fjournal.NewReadDatasetFS(choice.dataset, choice.path)
	case "s3":
		bucket, prefix := fjournal.ParseS3Path(choice.path)
		return fjournal.NewReadDatasetS3(choice.dataset, fjournal.S3Config{
			Bucket:       bucket,
			Prefix:       prefix,
			Region:       choice.region,
			Endpoint:     choice.endpoint,
			UsePathStyle: choice.pathStyle,
		})
	default:
		return nil, fmt.Errorf("invalid journal backend %q (must be fs or s3)", choice.backend)
	}
}

func journalReadExit(err error) error {
	if errors.Is(err, fjournal.ErrNoRecords) {
		return cli.Exit(err.Error(), runtime.ExitCodeDeviceFailure)
	}
	return cli.Exit(fmt.Sprintf("journal read failed: %v", err), runtime.ExitCodeDeviceFailure)
}
