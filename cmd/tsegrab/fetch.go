package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"tsegrab/pkg/catalog"
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

var (
	// Fetch command flags
	outputDir         string
	baseURL           string
	fetchAll          bool
	lastN             int
	periodList        string
	skipExisting      bool
	overwriteExisting bool
	concurrent        int
	maxRetries        int
	rateLimit         int
	transferTimeout   int
)

// fetchCmd represents the fetch command.
var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Discover election periods and download their datasets",
	Long: `Discover the candidate datasets available on the portal and download
the selected periods.

Without a selection flag the command lists the discovered periods and
asks which ones to download. Existing complete files trigger a
skip/overwrite prompt unless --skip-existing or --overwrite-existing
decides for the whole run. Incomplete files from an earlier run are
resumed, not re-downloaded.`,
	Example: `  # Interactive selection
  tsegrab fetch

  # Everything, skipping files already on disk
  tsegrab fetch --all --skip-existing

  # The ten most recent periods into a custom directory
  tsegrab fetch --last 10 --output ./eleicoes

  # Specific periods by catalog position
  tsegrab fetch --periods 1,3,5`,
	Args: cobra.NoArgs,
	RunE: runFetch,
}

func init() {
	rootCmd.AddCommand(fetchCmd)

	fetchCmd.Flags().StringVarP(&outputDir, "output", "o", "", "output directory for downloads (default: dados-tse)")
	fetchCmd.Flags().StringVar(&baseURL, "base-url", "", "portal base URL override")
	fetchCmd.Flags().BoolVar(&fetchAll, "all", false, "download every discovered period")
	fetchCmd.Flags().IntVar(&lastN, "last", 0, "download the N most recent periods")
	fetchCmd.Flags().StringVar(&periodList, "periods", "", "comma-separated period indices to download (e.g. 1,3,5)")
	fetchCmd.Flags().BoolVar(&skipExisting, "skip-existing", false, "skip every file that already exists")
	fetchCmd.Flags().BoolVar(&overwriteExisting, "overwrite-existing", false, "overwrite every file that already exists")
	fetchCmd.Flags().IntVar(&concurrent, "concurrent", 0, "number of concurrent transfers")
	fetchCmd.Flags().IntVar(&maxRetries, "max-retries", 0, "maximum transfer attempts")
	fetchCmd.Flags().IntVar(&rateLimit, "rate-limit", 0, "catalog requests per minute")
	fetchCmd.Flags().IntVar(&transferTimeout, "transfer-timeout", 0, "transfer stall timeout in seconds")
}

func runFetch(cmd *cobra.Command, args []string) error {
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	if !interactive && !skipExisting && !overwriteExisting {
		// Without a terminal there is nobody to answer conflict prompts.
		skipExisting = true
		ui.PrintWarning("stdin is not a terminal, defaulting to --skip-existing")
	}

	client := portal.NewClient(&cfg.Portal, log)
	indexer := catalog.NewIndexer(client, cfg.Portal.CatalogURL(), cfg.Portal.MaxCatalogPages, log)

	ui.PrintInfo("Portal", cfg.Portal.BaseURL)
	periods, err := indexer.DiscoverPeriods(ctx)
	if err != nil {
		return err
	}
	if len(periods) == 0 {
		return fmt.Errorf("no candidate periods found in the catalog")
	}
	ui.PrintInfo("Periods found", fmt.Sprintf("%d", len(periods)))

	console := prompt.NewConsole(os.Stdin, os.Stdout)
	selected, err := selectPeriods(console, periods, interactive)
	if err != nil {
		return err
	}
	ui.PrintInfo("Periods selected", fmt.Sprintf("%d", len(selected)))

	harvester := harvest.New(harvest.Options{
		Resources: catalog.NewResolver(client, log),
		Conflicts: conflict.NewPolicy(conflict.NewSessionFlags(skipExisting, overwriteExisting), console, log),
		Transfers: transfer.NewManager(client, &cfg.Download, log),
		Records:   newRunLedger(cfg, log),
		Reporter:  ui.NewTransferProgress(os.Stdout),
		BaseDir:   cfg.Output.BaseDirectory,
		Workers:   cfg.Download.Concurrent,
		Logger:    log,
	})

	return finishRun(harvester.Run(ctx, selected), cfg)
}

// commandFlags collects the explicitly set flags for the config loader.
func commandFlags() map[string]interface{} {
	flags := make(map[string]interface{})
	if outputDir != "" {
		flags["output"] = outputDir
	}
	if baseURL != "" {
		flags["base-url"] = baseURL
	}
	if concurrent > 0 {
		flags["concurrent"] = concurrent
	}
	if maxRetries > 0 {
		flags["max-retries"] = maxRetries
	}
	if rateLimit > 0 {
		flags["rate-limit"] = rateLimit
	}
	if transferTimeout > 0 {
		flags["transfer-timeout"] = transferTimeout
	}
	if logLevel != "" {
		flags["log-level"] = logLevel
	}
	return flags
}

// selectPeriods applies the selection flags, falling back to the
// interactive prompt. Without a terminal the whole catalog is selected.
func selectPeriods(console *prompt.Console, periods []models.Period, interactive bool) ([]models.Period, error) {
	var input string
	switch {
	case fetchAll:
		input = "all"
	case lastN > 0:
		input = fmt.Sprintf("last %d", lastN)
	case periodList != "":
		input = periodList
	case interactive:
		return console.SelectPeriods(periods)
	default:
		ui.PrintWarning("stdin is not a terminal, downloading all periods")
		input = "all"
	}

	indices, err := prompt.ParseSelection(input, len(periods))
	if err != nil {
		return nil, err
	}
	selected := make([]models.Period, 0, len(indices))
	for _, idx := range indices {
		selected = append(selected, periods[idx])
	}
	return selected, nil
}

// runLedger is created once per run; finishRun finalizes it.
var activeLedger *ledger.Ledger

func newRunLedger(cfg *config.Config, log logger.Logger) *ledger.Ledger {
	activeLedger = ledger.New(cfg.Output.ManifestPath(), log)
	return activeLedger
}

// finishRun writes the manifest, prints the summary and maps the outcome
// to the process exit status.
func finishRun(runErr error, cfg *config.Config) error {
	summary, err := activeLedger.Finalize()
	ui.PrintSummary(summary)
	if err != nil {
		ui.PrintError("could not write failure manifest", err)
	}

	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			ui.PrintWarning("interrupted, partial files were kept and will resume on the next run")
			os.Exit(1)
		}
		return runErr
	}

	if summary.Failed > 0 {
		ui.PrintWarning("some transfers failed, replay them with: tsegrab retry")
		ui.PrintInfo("Failure manifest", cfg.Output.ManifestPath())
		os.Exit(1)
	}

	ui.PrintSuccess("All transfers completed")
	return nil
}
