// etfwatch — Taiwanese active ETF holdings tracker.
//
// Main CLI entrypoint using cobra command framework.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/etfwatch/etfwatch/internal/adapter"
	"github.com/etfwatch/etfwatch/internal/config"
	"github.com/etfwatch/etfwatch/internal/discovery"
	"github.com/etfwatch/etfwatch/internal/fetch"
	"github.com/etfwatch/etfwatch/internal/logger"
	"github.com/etfwatch/etfwatch/internal/pipeline"
	"github.com/etfwatch/etfwatch/internal/report"
	"github.com/etfwatch/etfwatch/internal/store"
	"github.com/etfwatch/etfwatch/pkg/utils"
)

// Build-time variables (set via -ldflags).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Global config
var cfg *config.Config

func main() {
	defer logger.Sync()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "etfwatch",
	Short: "etfwatch — Taiwanese active ETF holdings tracker",
	Long: `etfwatch ingests daily portfolio holdings of Taiwanese active ETFs
straight from each issuer's disclosure endpoint, stores the snapshots in
SQLite, and reports every position entry, exit, and share-count change
between consecutive snapshots.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		configFile, _ := cmd.Flags().GetString("config")
		if configFile != "" {
			cfg, err = config.LoadFromFile(configFile)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		logger.Init(cfg.Logging.Env, cfg.Logging.Level)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file path (default: ./config.yaml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(pruneCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(instrumentsCmd)
	rootCmd.AddCommand(discoverCmd)
}

// --- Version Command ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("etfwatch %s\n", version)
		fmt.Printf("  commit:  %s\n", commit)
		fmt.Printf("  built:   %s\n", date)
	},
}

// --- Run Command ---

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Ingest holdings for all configured instruments and report changes",
	RunE: func(cmd *cobra.Command, args []string) error {
		runDate, _ := cmd.Flags().GetString("date")
		if runDate == "" {
			runDate = utils.Today()
		} else if _, err := utils.ParseDate(runDate); err != nil {
			return err
		}
		formatFlag, _ := cmd.Flags().GetString("format")
		format, err := report.ParseFormat(formatFlag)
		if err != nil {
			return err
		}

		s, err := store.Open(cfg.Store.Path)
		if err != nil {
			return err
		}
		defer s.Close()

		runner, err := buildRunner(s)
		if err != nil {
			return err
		}
		run, runErr := runner.RunOnce(cmd.Context(), runDate)

		out, err := report.Render(run, format)
		if err != nil {
			return err
		}
		fmt.Print(out)

		if outFile, _ := cmd.Flags().GetString("output"); outFile != "" {
			if err := os.WriteFile(outFile, []byte(out), 0o644); err != nil {
				return fmt.Errorf("write report: %w", err)
			}
		}
		return runErr
	},
}

func init() {
	runCmd.Flags().String("date", "", "snapshot date, YYYY-MM-DD (default: today in Taipei)")
	runCmd.Flags().String("format", "text", "report format: text or markdown")
	runCmd.Flags().String("output", "", "also write the report to this file")
}

// --- Prune Command ---

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete holdings older than the retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := store.Open(cfg.Store.Path)
		if err != nil {
			return err
		}
		defer s.Close()

		removed, err := s.Prune(cmd.Context(), cfg.Store.RetentionDays)
		if err != nil {
			return err
		}
		fmt.Printf("Pruned %d holding rows older than %d days\n", removed, cfg.Store.RetentionDays)
		return nil
	},
}

// --- Status Command ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show store statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := store.Open(cfg.Store.Path)
		if err != nil {
			return err
		}
		defer s.Close()

		st, err := s.Stats(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Store: %s\n", cfg.Store.Path)
		fmt.Printf("  instruments:  %d\n", st.Instruments)
		fmt.Printf("  holding rows: %d\n", st.HoldingRows)
		if st.HoldingRows > 0 {
			fmt.Printf("  date range:   %s .. %s\n", st.EarliestDate, st.LatestDate)
		}
		return nil
	},
}

// --- Instruments Command ---

var instrumentsCmd = &cobra.Command{
	Use:   "instruments",
	Short: "List tracked instruments",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := store.Open(cfg.Store.Path)
		if err != nil {
			return err
		}
		defer s.Close()

		ins, err := s.Instruments(cmd.Context())
		if err != nil {
			return err
		}
		if len(ins) == 0 {
			fmt.Println("No instruments registered yet. Run an ingestion or `etfwatch discover`.")
			return nil
		}
		for _, in := range ins {
			fmt.Printf("%-8s %-24s %-10s updated %s\n",
				in.Code, in.Name, in.Issuer, in.LastUpdated.Format("2006-01-02 15:04"))
		}
		return nil
	},
}

// --- Discover Command ---

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Scrape the TWSE fund list and register active ETFs",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := store.Open(cfg.Store.Path)
		if err != nil {
			return err
		}
		defer s.Close()

		tw := discovery.NewTWSE(fetch.NewClient(fetchOptions()))
		funds, err := tw.ActiveFunds(cmd.Context())
		if err != nil {
			return err
		}
		if err := s.UpsertInstruments(cmd.Context(), funds); err != nil {
			return err
		}
		for _, f := range funds {
			bound := "unbound"
			for _, b := range cfg.Instruments {
				if b.Code == f.Code {
					bound = b.Adapter
					break
				}
			}
			fmt.Printf("%-8s %-24s adapter=%s\n", f.Code, f.Name, bound)
		}
		fmt.Printf("Registered %d active funds\n", len(funds))
		return nil
	},
}

// --- Wiring ---

func fetchOptions() fetch.Options {
	opts := fetch.DefaultOptions()
	opts.DelayMin = secs(cfg.Fetch.DelayMinSec)
	opts.DelayMax = secs(cfg.Fetch.DelayMaxSec)
	opts.BatchEvery = cfg.Fetch.BatchEvery
	opts.BatchDelayMin = secs(cfg.Fetch.BatchDelayMinSec)
	opts.BatchDelayMax = secs(cfg.Fetch.BatchDelayMaxSec)
	opts.MaxAttempts = cfg.Fetch.MaxAttempts
	opts.Timeout = time.Duration(cfg.Fetch.TimeoutSec) * time.Second
	return opts
}

func secs(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

func buildRunner(s *store.Store) (*pipeline.Runner, error) {
	client := fetch.NewClient(fetchOptions())

	registry := adapter.NewRegistry()
	for _, a := range []adapter.Adapter{
		adapter.NewNomura(client),
		adapter.NewFSITC(client),
		adapter.NewEZMoney(client),
	} {
		if err := registry.Register(a); err != nil {
			return nil, fmt.Errorf("register adapter %s: %w", a.Name(), err)
		}
	}

	return pipeline.New(registry, s, cfg.Instruments, cfg.Pipeline, cfg.Store.RetentionDays, logger.Get()), nil
}
