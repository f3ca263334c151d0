// cli/root.go
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeremymoreau/covid19mtl/config"
	"github.com/jeremymoreau/covid19mtl/database"
	"github.com/jeremymoreau/covid19mtl/services"
	"github.com/jeremymoreau/covid19mtl/utils"
)

// options holds the flags shared by every subcommand.
type options struct {
	mode       string
	noDownload bool
	noBackup   bool
	configPath string
	dataDir    string
	poll       time.Duration
	pollSet    bool
	attempts   int
	attemptSet bool
	verbose    bool
	addr       string
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "refreshdata",
		Short: "Refresh the COVID-19 Montréal dashboard data",
		Long: `refreshdata downloads the upstream Montréal, INSPQ and Québec data,
archives it under data/sources and appends the new day to data/processed.

In auto mode a family is processed only once its upstream has published the
expected date (yesterday, Montréal time). Manual mode reprocesses everything.`,
		Example: `  refreshdata --mode auto
  refreshdata --mode auto --poll
  refreshdata --mode auto --poll=5m
  refreshdata --mode manual --no-download`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			opts.pollSet = cmd.Flags().Changed("poll")
			opts.attemptSet = cmd.Flags().Changed("max-attempts")
			return opts.validate()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRefresh(cmd.Context(), opts)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "YAML configuration file (built-in defaults when empty)")
	cmd.PersistentFlags().StringVar(&opts.dataDir, "data-dir", "", "data directory, overrides the configuration")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug output")

	cmd.Flags().StringVarP(&opts.mode, "mode", "m", "", "refresh mode: auto or manual (required)")
	cmd.Flags().BoolVar(&opts.noDownload, "no-download", false, "manual mode only: reprocess the latest snapshot instead of downloading")
	cmd.Flags().BoolVar(&opts.noBackup, "no-backup", false, "skip the backup of data/processed")
	cmd.Flags().DurationVar(&opts.poll, "poll", 0,
		"auto mode only: repeat the check until every family is committed. A bare --poll waits poll.interval between cycles; "+
			"an explicit interval must be written --poll=5m (--poll 5m is rejected)")
	cmd.Flags().Lookup("poll").NoOptDefVal = "0s"
	cmd.Flags().IntVar(&opts.attempts, "max-attempts", 0,
		"with --poll: give up after this many cycles, 0 for no limit (default poll.max_attempts). "+
			"A family that keeps failing is retried every cycle until then")
	_ = cmd.MarkFlagRequired("mode")

	cmd.AddCommand(newServeCmd(opts))
	return cmd
}

// validate rejects flag combinations before anything touches the data directory.
func (o *options) validate() error {
	mode, err := services.ParseMode(o.mode)
	if err != nil {
		return err
	}
	if err := o.runOptions(mode).Validate(); err != nil {
		return err
	}
	if o.poll < 0 {
		return fmt.Errorf("--poll must be positive, got %s", o.poll)
	}
	if o.pollSet && mode != services.ModeAuto {
		return errors.New("--poll can only be used with auto mode")
	}
	if o.attemptSet && !o.pollSet {
		return errors.New("--max-attempts requires --poll")
	}
	if o.attempts < 0 {
		return fmt.Errorf("--max-attempts must not be negative, got %d", o.attempts)
	}
	return nil
}

func (o *options) runOptions(mode services.Mode) services.RunOptions {
	return services.RunOptions{Mode: mode, NoDownload: o.noDownload, NoBackup: o.noBackup}
}

// env is what a subcommand needs once the configuration is loaded.
type env struct {
	cfg      *config.Config
	logger   *utils.Logger
	pipeline *services.Pipeline
	ledger   database.Ledger
}

func (e *env) Close() {
	if err := e.ledger.Close(); err != nil {
		e.logger.Warn("[cli] closing ledger: %v", err)
	}
}

func (o *options) setup(ctx context.Context) (*env, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.dataDir != "" {
		cfg.DataDir = o.dataDir
	}
	logger := utils.NewLogger(o.verbose)

	var ledger database.Ledger = database.NopLedger{}
	if cfg.Ledger.DSN != "" {
		db, err := database.Open(cfg.Ledger.DSN)
		if err != nil {
			return nil, err
		}
		store, err := database.NewRunStore(ctx, db, logger)
		if err != nil {
			db.Close()
			return nil, err
		}
		ledger = store
	}

	p, err := services.NewPipeline(cfg, logger, ledger)
	if err != nil {
		ledger.Close()
		return nil, err
	}
	return &env{cfg: cfg, logger: logger, pipeline: p, ledger: ledger}, nil
}

func runRefresh(ctx context.Context, o *options) error {
	e, err := o.setup(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	mode, _ := services.ParseMode(o.mode)
	if o.pollSet {
		interval := o.poll
		if interval == 0 {
			interval = e.cfg.Poll.Interval
		}
		attempts := e.cfg.Poll.MaxAttempts
		if o.attemptSet {
			attempts = o.attempts
		}
		return poll(ctx, e, o.runOptions(mode), interval, attempts)
	}
	report, err := e.pipeline.Run(ctx, o.runOptions(mode))
	logReport(e.logger, report)
	return err
}

func logReport(logger *utils.Logger, report *services.RunReport) {
	if report == nil {
		return
	}
	for _, f := range report.Families {
		if f.Err != nil {
			logger.Error("[cli] %s: %s: %v", f.Family, f.Outcome, f.Err)
			continue
		}
		logger.Info("[cli] %s: %s", f.Family, f.Outcome)
	}
}

// Execute runs the root command.
func Execute(version string) error {
	cmd := newRootCmd()
	cmd.Version = version
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}
