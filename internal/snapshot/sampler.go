package snapshot

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"

	"github.com/papertrade/portfolio-engine/internal/costbasis"
	"github.com/papertrade/portfolio-engine/internal/metrics"
	"github.com/papertrade/portfolio-engine/internal/model"
)

// DefaultSamplerSpec runs the sampler shortly after midnight UTC.
const DefaultSamplerSpec = "15 0 * * *"

// Sampler persists one valuation snapshot per user per calendar day.
// Snapshots are point samples: once written they are never recomputed.
type Sampler struct {
	builder *Builder
	cron    *cron.Cron
}

// NewSampler creates a daily snapshot sampler over the builder's store
// and quote source.
func NewSampler(b *Builder) *Sampler {
	return &Sampler{builder: b, cron: cron.New()}
}

// Start schedules the sampler with the given cron spec (empty uses
// DefaultSamplerSpec) and begins running it in the background.
func (s *Sampler) Start(spec string) error {
	if spec == "" {
		spec = DefaultSamplerSpec
	}
	if _, err := s.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		s.SampleAll(ctx)
	}); err != nil {
		return err
	}
	s.cron.Start()
	slog.Info("snapshot sampler scheduled", "spec", spec)
	return nil
}

// Stop halts the cron scheduler.
func (s *Sampler) Stop() {
	s.cron.Stop()
}

// SampleAll writes today's snapshot for every account that does not have
// one yet. Per-user failures are logged and skipped; one bad user never
// stops the sweep.
func (s *Sampler) SampleAll(ctx context.Context) {
	ids, err := s.builder.store.ListAccountIDs(ctx)
	if err != nil {
		slog.Error("sampler failed to list accounts", "err", err)
		return
	}

	for _, userID := range ids {
		if err := s.SampleUser(ctx, userID); err != nil {
			slog.Error("sampler failed for user", "user", userID, "err", err)
		}
	}
}

// SampleUser persists a snapshot of the user's current valuation unless
// one already exists for today.
func (s *Sampler) SampleUser(ctx context.Context, userID string) error {
	snaps, err := s.builder.store.ListSnapshots(ctx, userID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if len(snaps) > 0 && sameDay(snaps[len(snaps)-1].Timestamp, now) {
		return nil // already sampled today
	}

	account, err := s.builder.store.GetAccount(ctx, userID)
	if err != nil {
		return err
	}
	positions, err := s.builder.store.ListPositions(ctx, userID)
	if err != nil {
		return err
	}

	positionsValue := decimal.Zero
	for _, p := range positions {
		price := p.AvgCostBasis
		if q, err := s.builder.quotes.Price(ctx, p.Symbol, ""); err == nil {
			price = q.Price
		}
		positionsValue = positionsValue.Add(costbasis.MarketValue(p.Quantity, price))
	}

	snap := &model.Snapshot{
		ID:             uuid.New().String(),
		UserID:         userID,
		Timestamp:      now,
		TotalValue:     account.Cash.Add(positionsValue),
		Cash:           account.Cash,
		PositionsValue: positionsValue,
	}
	if err := s.builder.store.InsertSnapshot(ctx, snap); err != nil {
		return err
	}
	metrics.SnapshotsWritten.Inc()

	slog.Info("snapshot sampled", "user", userID, "total", snap.TotalValue.String())
	return nil
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}
