package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// ServeMode runs the full process: the retry worker when on-chain mirroring
// is enabled, the compliance exporter when archival is enabled, and blocks
// until the context is cancelled. The services in Dependencies carry the
// synchronous operations for the embedding host.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	g, ctx := errgroup.WithContext(ctx)

	if deps.RetryWorker != nil {
		g.Go(func() error {
			return deps.RetryWorker.Run(ctx)
		})
	}
	if deps.Exporter != nil {
		interval := a.cfg.Archive.Interval.Duration
		g.Go(func() error {
			return deps.Exporter.Run(ctx, interval)
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		return ctx.Err()
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("app: serve mode: %w", err)
	}
	return nil
}

// WorkerMode runs only the on-chain retry worker. It is the mode for
// dedicated drain replicas next to a serve process.
func (a *App) WorkerMode(ctx context.Context, deps *Dependencies) error {
	if deps.RetryWorker == nil {
		return fmt.Errorf("app: worker mode requires onchain to be enabled")
	}

	a.logger.InfoContext(ctx, "starting worker mode")
	if err := deps.RetryWorker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("app: worker mode: %w", err)
	}
	return nil
}

// ArchiveMode runs one compliance export and exits.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	if deps.Exporter == nil {
		return fmt.Errorf("app: archive mode requires archival to be enabled")
	}

	a.logger.InfoContext(ctx, "starting one-shot archive")
	result, err := deps.Exporter.Export(ctx)
	if err != nil {
		if notifyErr := deps.Notifier.Notify(ctx, "export_failed", "Compliance export failed", err.Error()); notifyErr != nil {
			a.logger.ErrorContext(ctx, "export failure alert failed",
				slog.String("error", notifyErr.Error()),
			)
		}
		return fmt.Errorf("app: archive mode: %w", err)
	}

	a.logger.InfoContext(ctx, "archive complete",
		slog.String("ledger_key", result.LedgerKey),
		slog.Int("ledger_events", result.LedgerEvents),
		slog.String("audit_key", result.AuditKey),
		slog.Int("audit_events", result.AuditEvents),
	)
	return nil
}
