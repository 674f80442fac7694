// Package scheduler runs the expiry sweep. Rentals whose paid-through term
// has lapsed without a renewing subscription are flipped to expired; webhook
// handlers never perform that flip themselves.
package scheduler

import (
	"context"
	"time"

	"github.com/smallbiznis/storlock/internal/clock"
	"github.com/smallbiznis/storlock/internal/observability/metrics"
	rentaldomain "github.com/smallbiznis/storlock/internal/rental/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Config controls sweep interval and batch size.
type Config struct {
	RunInterval time.Duration
	BatchSize   int
}

func DefaultConfig() Config {
	return Config{
		RunInterval: time.Minute,
		BatchSize:   100,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	return c
}

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	RentalRepo rentaldomain.Repository
	Obs        *metrics.Metrics `optional:"true"`
	Config     Config           `optional:"true"`
}

type Scheduler struct {
	db         *gorm.DB
	log        *zap.Logger
	cfg        Config
	clock      clock.Clock
	rentalRepo rentaldomain.Repository
	obs        *metrics.Metrics
}

func New(p Params) *Scheduler {
	return &Scheduler{
		db:         p.DB,
		log:        p.Log.Named("scheduler"),
		cfg:        p.Config.withDefaults(),
		clock:      p.Clock,
		rentalRepo: p.RentalRepo,
		obs:        p.Obs,
	}
}

// RunOnce expires one batch of lapsed rentals.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	expired, err := s.rentalRepo.MarkExpiredBefore(ctx, s.db, s.clock.Now(), s.cfg.BatchSize)
	if err != nil {
		return err
	}
	if expired > 0 {
		s.log.Info("expired lapsed rentals", zap.Int64("count", expired))
		s.obs.RecordExpiredRentals(expired)
	}
	return nil
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("expiry sweep failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

var Module = fx.Module("scheduler",
	fx.Provide(New),
	fx.Invoke(registerScheduler),
)

func registerScheduler(lc fx.Lifecycle, sched *Scheduler) {
	lc.Append(fx.Hook{
		OnStart: func(startCtx context.Context) error {
			_ = startCtx
			ctx, cancel := context.WithCancel(context.Background())

			go sched.RunForever(ctx)

			lc.Append(fx.Hook{
				OnStop: func(context.Context) error {
					cancel()
					return nil
				},
			})

			return nil
		},
	})
}
