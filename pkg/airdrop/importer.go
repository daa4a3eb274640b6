// Package airdrop imports off-chain reward allocations and answers per-wallet reward lookups.
package airdrop

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spokescan/spokescan/pkg/metrics"
	"go.uber.org/zap"
)

type Kind string

const (
	KindWallet    Kind = "wallet"
	KindCommunity Kind = "community"
)

// ImportError reports a failed import. The ledger has been rolled back and every row is
// marked processed again.
type ImportError struct {
	Kind Kind
	Err  error
}

func (e *ImportError) Error() string {
	return fmt.Sprintf("process %s rewards file: %v", e.Kind, e.Err)
}

func (e *ImportError) Unwrap() error { return e.Err }

// IsImportError reports whether err is an ImportError for kind.
func IsImportError(err error, kind Kind) bool {
	var ie *ImportError
	return errors.As(err, &ie) && ie.Kind == kind
}

// Ledger persists the reward allocations.
type Ledger interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
	MarkRewards(ctx context.Context, kind Kind, processed bool) error
	UpsertWalletReward(ctx context.Context, row WalletReward) error
	UpsertCommunityReward(ctx context.Context, row CommunityReward) error
	DeleteUnprocessed(ctx context.Context, kind Kind) (int64, error)
	CountRewards(ctx context.Context, kind Kind) (int64, error)
	RecordImportRun(ctx context.Context, run ImportRun) error
}

// ImportRun is the audit record of one import call.
type ImportRun struct {
	ID         uuid.UUID
	Kind       Kind
	Source     string
	Rows       int
	Purged     int64
	Err        string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Files holds the optional payloads of one upload.
type Files struct {
	Wallet    Source
	Community Source
}

// Counts are the ledger sizes after an import.
type Counts struct {
	CommunityRewardsCount int64 `json:"communityRewardsCount"`
	WalletRewardsCount    int64 `json:"walletRewardsCount"`
}

type Importer struct {
	ledger Ledger
	logger *zap.Logger
}

func NewImporter(ledger Ledger, logger *zap.Logger) *Importer {
	return &Importer{ledger: ledger, logger: logger}
}

// Process imports the community payload and then the wallet payload, whichever are present.
// A community failure stops before the wallet payload is read.
func (im *Importer) Process(ctx context.Context, files Files) (Counts, error) {
	if files.Community != nil {
		if err := im.ImportCommunity(ctx, files.Community); err != nil {
			return Counts{}, err
		}
	}
	if files.Wallet != nil {
		if err := im.ImportWallet(ctx, files.Wallet); err != nil {
			return Counts{}, err
		}
	}

	var (
		counts Counts
		err    error
	)
	if counts.CommunityRewardsCount, err = im.ledger.CountRewards(ctx, KindCommunity); err != nil {
		return Counts{}, err
	}
	if counts.WalletRewardsCount, err = im.ledger.CountRewards(ctx, KindWallet); err != nil {
		return Counts{}, err
	}
	return counts, nil
}

// ImportWallet upserts every wallet in the payload. Wallets absent from the payload keep
// their previous allocation.
func (im *Importer) ImportWallet(ctx context.Context, src Source) error {
	return im.run(ctx, KindWallet, src, func(ctx context.Context, raw []byte) (int, int64, error) {
		rows, err := ParseWalletRewards(raw)
		if err != nil {
			return 0, 0, err
		}
		for _, row := range rows {
			if err := im.ledger.UpsertWalletReward(ctx, row); err != nil {
				return 0, 0, err
			}
		}
		return len(rows), 0, nil
	})
}

// ImportCommunity replaces the community ledger with the payload.
func (im *Importer) ImportCommunity(ctx context.Context, src Source) error {
	return im.run(ctx, KindCommunity, src, func(ctx context.Context, raw []byte) (int, int64, error) {
		rows, err := ParseCommunityRewards(raw)
		if err != nil {
			return 0, 0, err
		}
		for _, row := range rows {
			if err := im.ledger.UpsertCommunityReward(ctx, row); err != nil {
				return 0, 0, err
			}
		}
		purged, err := im.ledger.DeleteUnprocessed(ctx, KindCommunity)
		return len(rows), purged, err
	})
}

type applyFunc func(ctx context.Context, raw []byte) (rows int, purged int64, err error)

func (im *Importer) run(ctx context.Context, kind Kind, src Source, apply applyFunc) error {
	run := ImportRun{
		ID:        uuid.New(),
		Kind:      kind,
		Source:    src.Name(),
		StartedAt: time.Now().UTC(),
	}
	logger := im.logger.With(
		zap.String("run", run.ID.String()),
		zap.String("kind", string(kind)),
		zap.String("source", run.Source))

	err := im.ledger.InTx(ctx, func(ctx context.Context) error {
		if err := im.ledger.MarkRewards(ctx, kind, false); err != nil {
			return err
		}
		raw, err := src.Open(ctx)
		if err != nil {
			return err
		}
		run.Rows, run.Purged, err = apply(ctx, raw)
		return err
	})
	run.FinishedAt = time.Now().UTC()

	if err != nil {
		logger.Error("Reward import failed", zap.Error(err))
		metrics.ImportRunsTotal.WithLabelValues(string(kind), "error").Inc()
		if markErr := im.ledger.MarkRewards(ctx, kind, true); markErr != nil {
			logger.Error("Failed to restore processed flags", zap.Error(markErr))
		}
		run.Err = err.Error()
		im.record(ctx, logger, run)
		return &ImportError{Kind: kind, Err: err}
	}

	metrics.ImportRunsTotal.WithLabelValues(string(kind), "ok").Inc()
	logger.Info("Reward import finished",
		zap.Int("rows", run.Rows),
		zap.Int64("purged", run.Purged),
		zap.Duration("took", run.FinishedAt.Sub(run.StartedAt)))
	im.record(ctx, logger, run)
	return nil
}

func (im *Importer) record(ctx context.Context, logger *zap.Logger, run ImportRun) {
	if err := im.ledger.RecordImportRun(ctx, run); err != nil {
		logger.Warn("Failed to record import run", zap.Error(err))
	}
}
