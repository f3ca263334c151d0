// services/pipeline.go
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jeremymoreau/covid19mtl/config"
	"github.com/jeremymoreau/covid19mtl/database"
	"github.com/jeremymoreau/covid19mtl/merge"
	"github.com/jeremymoreau/covid19mtl/models"
	"github.com/jeremymoreau/covid19mtl/scraper"
	"github.com/jeremymoreau/covid19mtl/storage"
	"github.com/jeremymoreau/covid19mtl/utils"
)

// Mode selects how a run treats freshness and existing commits.
type Mode string

const (
	// ModeAuto processes only families that are fresh and not yet committed.
	ModeAuto Mode = "auto"
	// ModeManual backs up, downloads and reprocesses every family unconditionally.
	ModeManual Mode = "manual"
)

// ParseMode maps a flag value to a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeAuto, ModeManual:
		return Mode(s), nil
	}
	return "", fmt.Errorf("invalid mode %q: use auto or manual", s)
}

// RunOptions controls one invocation.
type RunOptions struct {
	Mode       Mode
	NoDownload bool // manual only: reprocess the latest snapshot of the expected date
	NoBackup   bool
	// Families restricts the run. Empty means every family.
	Families []models.Family
}

// Validate rejects option combinations the pipeline cannot honour.
func (o RunOptions) Validate() error {
	if _, err := ParseMode(string(o.Mode)); err != nil {
		return err
	}
	if o.Mode == ModeAuto && o.NoDownload {
		return errors.New("--no-download cannot be used with auto mode")
	}
	return nil
}

// FamilyReport is the outcome of one family cycle.
type FamilyReport struct {
	Family    models.Family           `json:"family"`
	Outcome   models.Outcome          `json:"outcome"`
	Freshness *models.FreshnessReport `json:"freshness,omitempty"`
	Snapshot  string                  `json:"snapshot,omitempty"`
	Tables    []merge.Result          `json:"tables,omitempty"`
	Err       error                   `json:"-"`
	Error     string                  `json:"error,omitempty"`
}

// RunReport collects the family reports of one invocation.
type RunReport struct {
	RunID        string         `json:"run_id"`
	Mode         Mode           `json:"mode"`
	ExpectedDate string         `json:"expected_date"`
	Families     []FamilyReport `json:"families"`
}

// Err joins the errors of every failed family.
func (r *RunReport) Err() error {
	var errs []error
	for _, f := range r.Families {
		if f.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", f.Family, f.Err))
		}
	}
	return errors.Join(errs...)
}

// Done reports whether every family has the expected date committed.
func (r *RunReport) Done() bool {
	for _, f := range r.Families {
		if f.Outcome != models.OutcomeCommitted && f.Outcome != models.OutcomeSkipped {
			return false
		}
	}
	return len(r.Families) > 0
}

// Pipeline carries everything a refresh needs. It is built once from the
// configuration and passed to every stage.
type Pipeline struct {
	Config   *config.Config
	Logger   *utils.Logger
	Fetcher  *scraper.Fetcher
	Archiver *storage.Archiver
	Backups  *storage.BackupManager
	Ledger   database.Ledger
	Lock     utils.FileLock
	Now      func() time.Time

	families []Family
}

// NewPipeline wires the pipeline. A nil ledger records nothing.
func NewPipeline(cfg *config.Config, logger *utils.Logger, ledger database.Ledger) (*Pipeline, error) {
	if ledger == nil {
		ledger = database.NopLedger{}
	}
	fetcher := scraper.NewFetcher(scraper.FetchOptions{
		Retries:           cfg.Fetch.Retries,
		Timeout:           cfg.Fetch.Timeout,
		BaseDelay:         cfg.Fetch.BaseDelay,
		RequestsPerSecond: cfg.Fetch.RequestsPerSecond,
	}, logger)
	store := tableStore{
		dir:    cfg.ProcessedDir(),
		merger: &merge.Merger{Lookback: cfg.Merge.Lookback, Logger: logger},
		logger: logger,
	}
	mtl, err := newMontreal(cfg, fetcher, store)
	if err != nil {
		return nil, err
	}
	inspq, err := newINSPQ(cfg, fetcher, store)
	if err != nil {
		return nil, err
	}
	qc, err := newQuebec(cfg, fetcher, store)
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		Config:   cfg,
		Logger:   logger,
		Fetcher:  fetcher,
		Archiver: &storage.Archiver{Root: cfg.SourcesDir(), Logger: logger},
		Backups:  &storage.BackupManager{ProcessedDir: cfg.ProcessedDir(), Root: cfg.BackupsDir(), Logger: logger},
		Ledger:   ledger,
		Lock:     utils.FileLock{Path: cfg.LockPath(), TTL: cfg.Lock.TTL},
		Now:      time.Now,
		families: []Family{qc, inspq, mtl},
	}, nil
}

// Family returns the strategy of one family.
func (p *Pipeline) Family(name models.Family) (Family, bool) {
	for _, f := range p.families {
		if f.Name() == name {
			return f, true
		}
	}
	return nil, false
}

func (p *Pipeline) selected(names []models.Family) ([]Family, error) {
	if len(names) == 0 {
		return p.families, nil
	}
	out := make([]Family, 0, len(names))
	for _, n := range names {
		f, ok := p.Family(n)
		if !ok {
			return nil, fmt.Errorf("unknown source family %q", n)
		}
		out = append(out, f)
	}
	return out, nil
}

// ExpectedDate is yesterday in the configured timezone.
func (p *Pipeline) ExpectedDate() string {
	return models.ExpectedDate(p.Now(), p.Config.Location())
}

// Run executes one invocation under the lock file. Each family runs in its
// own error boundary: a failed family does not stop the others, and the
// returned error joins every family failure.
func (p *Pipeline) Run(ctx context.Context, opts RunOptions) (*RunReport, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	families, err := p.selected(opts.Families)
	if err != nil {
		return nil, err
	}
	if err := p.Lock.Acquire(); err != nil {
		return nil, err
	}
	defer p.Lock.Release()

	now := p.Now()
	loc := p.Config.Location()
	report := &RunReport{RunID: uuid.NewString(), Mode: opts.Mode, ExpectedDate: models.ExpectedDate(now, loc)}
	today := models.Today(now, loc)
	p.Logger.Info("[pipeline] run %s (%s) for %s", report.RunID, opts.Mode, report.ExpectedDate)

	c := &cycle{Pipeline: p, opts: opts, expected: report.ExpectedDate, today: today, backedUp: opts.NoBackup}
	if opts.Mode == ModeManual && !opts.NoBackup {
		if _, err := p.Backups.Backup(today); err != nil {
			return report, fmt.Errorf("backup before manual run: %w", err)
		}
		c.backedUp = true
	}

	for _, f := range families {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		fr := c.run(ctx, f)
		if fr.Err != nil {
			fr.Error = fr.Err.Error()
			p.Logger.Error("[pipeline] %s failed: %v", fr.Family, fr.Err)
		}
		report.Families = append(report.Families, fr)
		p.record(ctx, report.RunID, report.ExpectedDate, fr, now)
	}
	return report, report.Err()
}

// cycle is the state shared by the family cycles of one run.
type cycle struct {
	*Pipeline
	opts     RunOptions
	expected string
	today    string
	backedUp bool
}

func (c *cycle) run(ctx context.Context, f Family) FamilyReport {
	fr := FamilyReport{Family: f.Name()}
	fail := func(err error) FamilyReport {
		fr.Outcome = models.OutcomeFailed
		fr.Err = err
		return fr
	}

	if c.opts.Mode == ModeAuto {
		last, err := f.LastCommitted()
		if err != nil {
			return fail(err)
		}
		if last >= c.expected {
			c.Logger.Info("[pipeline] %s: %s already committed, skipping", f.Name(), c.expected)
			fr.Outcome = models.OutcomeSkipped
			return fr
		}
		report, err := f.Detect(ctx, c.expected)
		if err != nil {
			return fail(fmt.Errorf("freshness check: %w", err))
		}
		fr.Freshness = report
		if !report.Fresh() {
			c.Logger.Info("[pipeline] %s: no new data for %s yet: %s", f.Name(), c.expected, report)
			fr.Outcome = models.OutcomeNotFresh
			return fr
		}
		c.Logger.Info("[pipeline] %s: new data for %s is available", f.Name(), c.expected)
	}

	snap, err := c.snapshot(ctx, f)
	if err != nil {
		return fail(err)
	}
	fr.Snapshot = snap.Dir

	if !c.backedUp {
		if _, _, err := c.Backups.BackupOnce(c.today); err != nil {
			return fail(err)
		}
		c.backedUp = true
	}

	results, err := f.Merge(snap, c.expected)
	fr.Tables = results
	if err != nil {
		return fail(fmt.Errorf("merge: %w", err))
	}
	if err := f.Recompute(); err != nil {
		return fail(fmt.Errorf("recompute: %w", err))
	}
	fr.Outcome = models.OutcomeCommitted
	c.Logger.Info("[pipeline] %s: processed %s from %s", f.Name(), c.expected, snap.Dir)
	return fr
}

// snapshot downloads and archives the family's resources, or with
// --no-download reuses the newest snapshot of the expected date holding them.
func (c *cycle) snapshot(ctx context.Context, f Family) (models.Snapshot, error) {
	if c.opts.NoDownload {
		src := f.Source()
		names := make([]string, len(src.Resources))
		for i, r := range src.Resources {
			names[i] = r.Name
		}
		return c.Archiver.LatestContaining(c.expected, names)
	}
	files, err := c.Fetcher.FetchAll(ctx, f.Source())
	if err != nil {
		return models.Snapshot{}, err
	}
	return c.Archiver.Archive(c.expected, files)
}

// record writes the family cycle to the ledger. Ledger failures are logged only.
func (p *Pipeline) record(ctx context.Context, runID, expected string, fr FamilyReport, at time.Time) {
	run := models.RefreshRun{
		RunID:        runID,
		Family:       fr.Family,
		ExpectedDate: expected,
		Fresh:        fr.Freshness.Fresh(),
		Outcome:      fr.Outcome,
		SnapshotDir:  fr.Snapshot,
		Error:        fr.Error,
		CheckedAt:    at,
	}
	if err := p.Ledger.RecordRun(ctx, run); err != nil {
		p.Logger.Warn("[pipeline] could not record %s run: %v", fr.Family, err)
	}
}

// FamilyStatus is the committed state of one family.
type FamilyStatus struct {
	Family        models.Family      `json:"family"`
	LastCommitted string             `json:"last_committed,omitempty"`
	UpToDate      bool               `json:"up_to_date"`
	LastRun       *models.RefreshRun `json:"last_run,omitempty"`
	Error         string             `json:"error,omitempty"`
}

// Status is the committed date of every family against the expected date.
type Status struct {
	ExpectedDate string         `json:"expected_date"`
	Families     []FamilyStatus `json:"families"`
}

// Status reads the marker tables and, when a ledger is configured, the latest run of every family.
func (p *Pipeline) Status(ctx context.Context) (*Status, error) {
	st := &Status{ExpectedDate: p.ExpectedDate()}
	runs, err := p.Ledger.LatestRuns(ctx)
	if err != nil {
		p.Logger.Warn("[pipeline] could not read ledger: %v", err)
	}
	for _, f := range p.families {
		fs := FamilyStatus{Family: f.Name()}
		last, err := f.LastCommitted()
		if err != nil {
			fs.Error = err.Error()
		}
		fs.LastCommitted = last
		fs.UpToDate = last != "" && last >= st.ExpectedDate
		for i := range runs {
			if runs[i].Family == f.Name() {
				fs.LastRun = &runs[i]
			}
		}
		st.Families = append(st.Families, fs)
	}
	return st, nil
}
