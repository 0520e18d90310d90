package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/meridianlabs/tally/indexer/pkg/clickhouse"
	"github.com/meridianlabs/tally/settlement/pkg/engine"
	"github.com/meridianlabs/tally/settlement/pkg/metrics"
	"github.com/meridianlabs/tally/utils/pkg/retry"
)

const (
	defaultMaxBatch     = 256
	defaultFlushTimeout = 30 * time.Second
)

type ViewConfig struct {
	Logger        *slog.Logger
	Clock         clockwork.Clock
	ClickHouse    clickhouse.Client
	Events        <-chan engine.Event
	FlushInterval time.Duration
	MaxBatch      int
}

func (cfg *ViewConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.ClickHouse == nil {
		return errors.New("clickhouse connection is required")
	}
	if cfg.Events == nil {
		return errors.New("events channel is required")
	}
	if cfg.FlushInterval <= 0 {
		return errors.New("flush interval must be greater than 0")
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = defaultMaxBatch
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

// View drains the settlement event stream and batch-writes facts to
// ClickHouse. Purely observational: a stalled or failing view never affects
// engine state.
type View struct {
	log   *slog.Logger
	cfg   ViewConfig
	store *Store

	pending   []engine.Event
	readyOnce sync.Once
	readyCh   chan struct{}
}

func NewView(cfg ViewConfig) (*View, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	store, err := NewStore(StoreConfig{
		Logger:     cfg.Logger,
		ClickHouse: cfg.ClickHouse,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}

	return &View{
		log:     cfg.Logger,
		cfg:     cfg,
		store:   store,
		readyCh: make(chan struct{}),
	}, nil
}

func (v *View) Ready() bool {
	select {
	case <-v.readyCh:
		return true
	default:
		return false
	}
}

func (v *View) WaitReady(ctx context.Context) error {
	select {
	case <-v.readyCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("context cancelled while waiting for settlement view: %w", ctx.Err())
	}
}

// Store exposes the underlying store, mainly for tests.
func (v *View) Store() *Store {
	return v.store
}

func (v *View) Start(ctx context.Context) {
	go func() {
		v.log.Info("settlement/view: starting drain loop", "flush_interval", v.cfg.FlushInterval, "max_batch", v.cfg.MaxBatch)

		if err := retry.Do(ctx, retry.DefaultConfig(), func() error {
			return v.store.EnsureSchema(ctx)
		}); err != nil {
			v.log.Error("settlement/view: failed to ensure schema", "error", err)
			return
		}

		v.readyOnce.Do(func() {
			close(v.readyCh)
			v.log.Info("settlement/view: ready")
		})

		ticker := v.cfg.Clock.NewTicker(v.cfg.FlushInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				flushCtx, cancel := context.WithTimeout(context.Background(), defaultFlushTimeout)
				v.flush(flushCtx)
				cancel()
				return
			case ev, ok := <-v.cfg.Events:
				if !ok {
					v.flush(ctx)
					return
				}
				v.pending = append(v.pending, ev)
				if len(v.pending) >= v.cfg.MaxBatch {
					v.flush(ctx)
				}
			case <-ticker.Chan():
				v.flush(ctx)
			}
		}
	}()
}

// flush converts pending events into rows and writes them. Events are
// dropped on write failure so a ClickHouse outage cannot grow the buffer
// without bound.
func (v *View) flush(ctx context.Context) {
	if len(v.pending) == 0 {
		return
	}

	start := time.Now()
	var (
		claims   []Claim
		deposits []Deposit
		shares   []ScoreShare
		rounds   []RoundSummary
	)
	for _, ev := range v.pending {
		switch ev.Kind {
		case engine.KindClaimed:
			claims = append(claims, Claim{
				Round:       ev.Round,
				Participant: ev.Participant,
				Amount:      ev.Amount,
				At:          ev.At,
			})
		case engine.KindDeposited:
			deposits = append(deposits, Deposit{
				Round:  ev.Round,
				Amount: ev.Amount,
				At:     ev.At,
			})
		case engine.KindScoresLoaded:
			for _, s := range ev.Scores {
				shares = append(shares, ScoreShare{
					Round:       ev.Round,
					Participant: s.Participant,
					Score:       s.Score,
					TotalScore:  ev.TotalScore,
					At:          ev.At,
				})
			}
			rounds = append(rounds, RoundSummary{
				Round:        ev.Round,
				Participants: uint32(len(ev.Scores)),
				TotalScore:   ev.TotalScore,
				RewardPool:   ev.Pool,
				ScoredAt:     ev.At,
			})
		}
	}
	count := len(v.pending)
	v.pending = v.pending[:0]

	err := errors.Join(
		v.store.InsertClaims(ctx, claims),
		v.store.InsertDeposits(ctx, deposits),
		v.store.InsertScoreShares(ctx, shares),
		v.store.UpsertRounds(ctx, rounds),
	)
	if err != nil {
		metrics.IndexerFlushTotal.WithLabelValues("error").Inc()
		v.log.Error("settlement/view: flush failed", "events", count, "error", err)
		return
	}

	metrics.IndexerFlushTotal.WithLabelValues("success").Inc()
	metrics.IndexerFlushDuration.Observe(time.Since(start).Seconds())
	v.log.Debug("settlement/view: flushed", "events", count, "duration", time.Since(start).String())
}
