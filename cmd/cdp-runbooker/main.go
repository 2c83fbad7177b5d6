package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for minimal hosts

	"github.com/gandiwan/CDP-Quip-Runbooker/internal/adapter/driven/legacy"
	"github.com/gandiwan/CDP-Quip-Runbooker/internal/adapter/driven/metrics"
	"github.com/gandiwan/CDP-Quip-Runbooker/internal/adapter/driven/quip"
	sqliteadapter "github.com/gandiwan/CDP-Quip-Runbooker/internal/adapter/driven/sqlite"
	"github.com/gandiwan/CDP-Quip-Runbooker/internal/adapter/driven/vault"
	"github.com/gandiwan/CDP-Quip-Runbooker/internal/adapter/driving/cli"
	"github.com/gandiwan/CDP-Quip-Runbooker/internal/adapter/driving/report"
	"github.com/gandiwan/CDP-Quip-Runbooker/internal/application"
	"github.com/gandiwan/CDP-Quip-Runbooker/internal/config"
	"github.com/gandiwan/CDP-Quip-Runbooker/internal/domain/model"
	"github.com/gandiwan/CDP-Quip-Runbooker/internal/domain/port/driven"
	"github.com/gandiwan/CDP-Quip-Runbooker/internal/platform/clock"
)

// journalKeepRuns is how many runs the diagnostics journal retains.
const journalKeepRuns = 20

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Parse flags.
	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		return err
	}
	if opts.help {
		printHelp(os.Stderr)
		return nil
	}

	// 2. Load configuration.
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// 3. Logger: text on a terminal, JSON otherwise.
	logger := cli.NewLogger(os.Stderr, cli.ParseLevel(cfg.LogLevel, cfg.Debug() || opts.debug))
	slog.SetDefault(logger)
	logger.Debug("config loaded",
		"base_url", cfg.BaseURL,
		"env_token", cfg.HasEnvironmentToken(),
		"lookup_batch_size", cfg.Tuning.LookupBatchSize,
		"fallback_domains", len(cfg.Tuning.FallbackDomains),
	)

	// 4. Setup signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 5. Resolve the config directory holding the vault and journal.
	dir := cfg.ConfigDir
	if dir == "" {
		if dir, err = vault.DefaultDir(); err != nil {
			return err
		}
	}

	// 6. Open the diagnostics journal.
	var journal *sqliteadapter.JournalRepo
	if cfg.Journal {
		db, err := openJournal(ctx, dir)
		if err != nil {
			logger.Warn("diagnostics journal unavailable", "error", err)
		} else {
			defer func() {
				if closeErr := db.Close(); closeErr != nil {
					logger.Error("error closing journal", "error", closeErr)
				}
			}()
			journal = sqliteadapter.NewJournalRepo(db, logger)
		}
	}
	observer := metrics.NewObserver()

	// 7. Wire the credential stack.
	clk := clock.Real()
	identity, err := vault.CurrentIdentity()
	if err != nil {
		return err
	}
	store := vault.NewFileStore(dir, identity, clk)
	home, _ := os.UserHomeDir()
	legacyStore := legacy.NewShellProfileStore(home, os.Getenv("SHELL"))
	credVault := application.NewCredentialVault(store, legacyStore, clk, logger)

	httpClient := quip.NewHTTPClient(cfg.Tuning.RequestTimeout, cfg.HTTPCache)
	state := quip.NewRateLimitState(clk, cfg.Tuning.SafetyMargin)
	probe := quip.NewProbe(httpClient, cfg.BaseURL, state)
	validator := application.NewCredentialValidator(probe, credVault, application.DefaultFormatRules, logger)
	credSvc := application.NewCredentialService(credVault, validator, cli.NewTerminalPrompter(), cfg.QuipToken, logger)
	printer := cli.NewPrinter(os.Stdout)

	// 8. Dispatch the command.
	var cmdErr error
	switch {
	case opts.logout:
		cmdErr = credSvc.Logout(ctx)
		if cmdErr == nil {
			printer.Success("Stored token removed.")
		}

	case opts.diagnose:
		diag := application.NewDiagnoser(validator, credVault, cfg.QuipToken, cfg.BaseURL, net.DefaultResolver, httpClient, logger)
		result := diag.Diagnose(ctx, opts.diagnoseToken)
		printer.Diagnosis(result)
		if !result.Healthy() {
			cmdErr = errors.New("token diagnosis failed")
		}

	case opts.addUsers != "":
		folderID := opts.folderID
		if folderID == "" {
			folderID = cfg.FolderID
		}
		if folderID == "" {
			return fmt.Errorf("%w: --add-users needs --folder-id or CDP_FOLDER_ID", errUsage)
		}
		cmdErr = addUsers(ctx, addUsersDeps{
			cfg:        cfg,
			credSvc:    credSvc,
			validator:  validator,
			httpClient: httpClient,
			state:      state,
			clock:      clk,
			journal:    journal,
			observer:   observer,
			printer:    printer,
			logger:     logger,
		}, opts.addUsers, folderID)

	case opts.debugReport == "":
		cred, err := credSvc.Acquire(ctx)
		if err != nil {
			return err
		}
		printer.Success(fmt.Sprintf("Authenticated as %s (token %s from %s).", cred.Label, cred.Redacted(), cred.Origin))
	}

	// 9. Write the debug report, even when the command failed.
	if opts.debugReport != "" {
		if err := writeReport(ctx, journal, observer, opts.debugReport); err != nil {
			return errors.Join(cmdErr, err)
		}
		printer.Success("Debug report written to " + opts.debugReport)
	}

	return cmdErr
}

func openJournal(ctx context.Context, dir string) (*sqliteadapter.DB, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create config dir: %w", err)
	}
	db, err := sqliteadapter.NewDB(ctx, filepath.Join(dir, "journal.db"))
	if err != nil {
		return nil, err
	}
	if err := sqliteadapter.RunMigrations(db.Writer); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

type addUsersDeps struct {
	cfg        *config.Config
	credSvc    *application.CredentialService
	validator  *application.CredentialValidator
	httpClient *http.Client
	state      *quip.RateLimitState
	clock      clock.Clock
	journal    *sqliteadapter.JournalRepo
	observer   *metrics.Observer
	printer    *cli.Printer
	logger     *slog.Logger
}

func addUsers(ctx context.Context, d addUsersDeps, path, folderID string) (err error) {
	candidates, err := cli.ReadCandidatesFile(path)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		return fmt.Errorf("no addresses found in %s", path)
	}

	cred, err := d.credSvc.Acquire(ctx)
	if err != nil {
		return err
	}

	observers := []driven.TransportObserver{d.observer}
	summary := model.RunSummary{Command: "add-users", StartedAt: d.clock.Now()}
	if d.journal != nil {
		runID, startErr := d.journal.StartRun(ctx, summary.Command)
		if startErr != nil {
			d.logger.Warn("journal run not started", "error", startErr)
		} else {
			summary.ID = runID
			observers = append(observers, d.journal)
			defer func() {
				summary.FinishedAt = d.clock.Now()
				if err != nil {
					summary.Error = err.Error()
				}
				// The run context may already be cancelled.
				finishCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if finishErr := d.journal.FinishRun(finishCtx, summary); finishErr != nil {
					d.logger.Warn("journal run not finished", "error", finishErr)
				}
				if pruneErr := d.journal.PruneRuns(finishCtx, journalKeepRuns); pruneErr != nil {
					d.logger.Warn("journal prune failed", "error", pruneErr)
				}
			}()
		}
	}

	provider := application.NewCredentialProvider(cred)
	transport, err := quip.NewTransport(d.httpClient, d.cfg.BaseURL, d.state, provider, d.validator, quip.Options{
		MaxAttempts: d.cfg.Tuning.MaxAttempts,
		BackoffBase: d.cfg.Tuning.BackoffBase,
		BackoffMax:  d.cfg.Tuning.BackoffMax,
		Clock:       d.clock,
		Observers:   observers,
		Logger:      d.logger,
	})
	if err != nil {
		return err
	}
	client := quip.NewClient(transport)

	resolver := application.NewBulkResolver(client, application.ResolverOptions{
		LookupBatchSize:     d.cfg.Tuning.LookupBatchSize,
		LookupConcurrency:   d.cfg.Tuning.LookupConcurrency,
		FallbackConcurrency: d.cfg.Tuning.FallbackConcurrency,
		FallbackDomains:     d.cfg.Tuning.FallbackDomains,
	}, d.logger)
	members := application.NewMemberService(client, resolver, d.cfg.Tuning.AddBatchSize, d.logger)
	members.SetRenewer(func(ctx context.Context) error {
		return d.credSvc.Renew(ctx, provider)
	})

	rep, err := members.AddUsers(ctx, folderID, candidates)
	summary.Resolved, summary.AlreadyMember, summary.Unresolved = rep.Resolution.Counts()
	summary.Added = rep.Added
	if len(rep.Resolution.Results) > 0 {
		d.printer.AddReport(rep)
	}
	if err != nil {
		return err
	}
	if rep.FailedBatches > 0 {
		return fmt.Errorf("%d add batch(es) failed: %w", rep.FailedBatches, errors.Join(rep.BatchErrors...))
	}
	return nil
}

func writeReport(ctx context.Context, journal *sqliteadapter.JournalRepo, observer *metrics.Observer, path string) error {
	if journal == nil {
		return errors.New("debug report needs the diagnostics journal (CDP_JOURNAL)")
	}

	samples, err := observer.Samples()
	if err != nil {
		return err
	}
	var ms []report.Metric
	for _, s := range samples {
		ms = append(ms, report.Metric{Name: s.Name, Labels: s.Labels, Value: s.Value})
	}

	data, err := report.Load(ctx, journal, ms, time.Now())
	if err != nil {
		return err
	}
	return report.Write(path, data)
}
