package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"tsegrab/pkg/config"
	"tsegrab/pkg/conflict"
	"tsegrab/pkg/harvest"
	"tsegrab/pkg/ledger"
	"tsegrab/pkg/logger"
	"tsegrab/pkg/models"
	"tsegrab/pkg/portal"
	"tsegrab/pkg/prompt"
	"tsegrab/pkg/transfer"
	"tsegrab/pkg/ui"
)

// retryCmd replays the failure manifest left behind by a previous run.
var retryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Replay the transfers recorded in the failure manifest",
	Long: `Replay every transfer recorded in the failure manifest of a previous
run. Successfully replayed entries are dropped from the manifest;
entries that fail again are written back for the next attempt.`,
	Example: `  # Replay failures from the default output directory
  tsegrab retry

  # Replay failures from a custom directory, overwriting partial files
  tsegrab retry --output ./eleicoes --overwrite-existing`,
	Args: cobra.NoArgs,
	RunE: runRetry,
}

func init() {
	rootCmd.AddCommand(retryCmd)

	retryCmd.Flags().StringVarP(&outputDir, "output", "o", "", "output directory holding the manifest (default: dados-tse)")
	retryCmd.Flags().BoolVar(&skipExisting, "skip-existing", false, "skip every file that already exists")
	retryCmd.Flags().BoolVar(&overwriteExisting, "overwrite-existing", false, "overwrite every file that already exists")
	retryCmd.Flags().IntVar(&concurrent, "concurrent", 0, "number of concurrent transfers")
	retryCmd.Flags().IntVar(&maxRetries, "max-retries", 0, "maximum transfer attempts")
	retryCmd.Flags().IntVar(&transferTimeout, "transfer-timeout", 0, "transfer stall timeout in seconds")
}

func runRetry(cmd *cobra.Command, args []string) error {
	if skipExisting && overwriteExisting {
		return fmt.Errorf("--skip-existing and --overwrite-existing are mutually exclusive")
	}

	cfg, err := config.Load(configFile, commandFlags())
	if err != nil {
		return err
	}
	if err := logger.Initialize(&cfg.Logging); err != nil {
		return err
	}
	log := logger.GetLogger()

	entries, err := ledger.Load(cfg.Output.ManifestPath())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			ui.PrintSuccess("No failure manifest found, nothing to retry")
			return nil
		}
		return err
	}
	if len(entries) == 0 {
		ui.PrintSuccess("Failure manifest is empty, nothing to retry")
		return nil
	}
	ui.PrintInfo("Failed transfers to replay", fmt.Sprintf("%d", len(entries)))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	if !interactive && !skipExisting && !overwriteExisting {
		skipExisting = true
		ui.PrintWarning("stdin is not a terminal, defaulting to --skip-existing")
	}

	periods, source := replaySource(entries)
	client := portal.NewClient(&cfg.Portal, log)
	console := prompt.NewConsole(os.Stdin, os.Stdout)

	harvester := harvest.New(harvest.Options{
		Resources: source,
		Conflicts: conflict.NewPolicy(conflict.NewSessionFlags(skipExisting, overwriteExisting), console, log),
		Transfers: transfer.NewManager(client, &cfg.Download, log),
		Records:   newRunLedger(cfg, log),
		Reporter:  ui.NewTransferProgress(os.Stdout),
		BaseDir:   cfg.Output.BaseDirectory,
		Workers:   cfg.Download.Concurrent,
		Logger:    log,
	})

	return finishRun(harvester.Run(ctx, periods), cfg)
}

// manifestSource serves resources parsed from the failure manifest in
// place of live catalog resolution.
type manifestSource struct {
	byPeriod map[string][]models.ResourceDescriptor
}

func (s *manifestSource) ResolveResources(ctx context.Context, period models.Period) ([]models.ResourceDescriptor, error) {
	return s.byPeriod[period.Label], nil
}

// replaySource groups manifest entries by period, preserving manifest
// order within and across periods.
func replaySource(entries []ledger.Entry) ([]models.Period, *manifestSource) {
	source := &manifestSource{byPeriod: make(map[string][]models.ResourceDescriptor)}
	var periods []models.Period

	for _, entry := range entries {
		if _, seen := source.byPeriod[entry.Period]; !seen {
			periods = append(periods, models.Period{Label: entry.Period})
		}
		source.byPeriod[entry.Period] = append(source.byPeriod[entry.Period], models.ResourceDescriptor{
			Name:        entry.Filename,
			DownloadURL: entry.URL,
		})
	}

	return periods, source
}
