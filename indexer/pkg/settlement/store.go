package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/meridianlabs/tally/indexer/pkg/clickhouse"
)

type StoreConfig struct {
	Logger     *slog.Logger
	ClickHouse clickhouse.Client
}

func (cfg *StoreConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.ClickHouse == nil {
		return errors.New("clickhouse connection is required")
	}
	return nil
}

// Store writes settlement facts and round dimensions to ClickHouse.
type Store struct {
	log *slog.Logger
	cfg StoreConfig
}

func NewStore(cfg StoreConfig) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Store{log: cfg.Logger, cfg: cfg}, nil
}

// EnsureSchema creates the indexer tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	conn, err := s.cfg.ClickHouse.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get ClickHouse connection: %w", err)
	}
	defer conn.Close()

	for _, ddl := range schemaDDL {
		if err := conn.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}

func (s *Store) InsertClaims(ctx context.Context, claims []Claim) error {
	if len(claims) == 0 {
		return nil
	}
	s.log.Debug("settlement/store: inserting claims", "count", len(claims))

	conn, err := s.cfg.ClickHouse.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get ClickHouse connection: %w", err)
	}
	defer conn.Close()

	batch, err := conn.PrepareBatch(ctx, "INSERT INTO fact_claims (round, participant, amount, at)")
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}
	for _, c := range claims {
		if err := batch.Append(c.Round, c.Participant, c.Amount, c.At); err != nil {
			return fmt.Errorf("failed to append claim: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to write claims to ClickHouse: %w", err)
	}
	return nil
}

func (s *Store) InsertDeposits(ctx context.Context, deposits []Deposit) error {
	if len(deposits) == 0 {
		return nil
	}
	s.log.Debug("settlement/store: inserting deposits", "count", len(deposits))

	conn, err := s.cfg.ClickHouse.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get ClickHouse connection: %w", err)
	}
	defer conn.Close()

	batch, err := conn.PrepareBatch(ctx, "INSERT INTO fact_deposits (round, amount, at)")
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}
	for _, d := range deposits {
		if err := batch.Append(d.Round, d.Amount, d.At); err != nil {
			return fmt.Errorf("failed to append deposit: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to write deposits to ClickHouse: %w", err)
	}
	return nil
}

func (s *Store) InsertScoreShares(ctx context.Context, shares []ScoreShare) error {
	if len(shares) == 0 {
		return nil
	}
	s.log.Debug("settlement/store: inserting score shares", "count", len(shares))

	conn, err := s.cfg.ClickHouse.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get ClickHouse connection: %w", err)
	}
	defer conn.Close()

	batch, err := conn.PrepareBatch(ctx, "INSERT INTO fact_score_shares (round, participant, score, total_score, at)")
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}
	for _, sh := range shares {
		if err := batch.Append(sh.Round, sh.Participant, sh.Score, sh.TotalScore, sh.At); err != nil {
			return fmt.Errorf("failed to append score share: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to write score shares to ClickHouse: %w", err)
	}
	return nil
}

func (s *Store) UpsertRounds(ctx context.Context, rounds []RoundSummary) error {
	if len(rounds) == 0 {
		return nil
	}
	s.log.Debug("settlement/store: upserting rounds", "count", len(rounds))

	conn, err := s.cfg.ClickHouse.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get ClickHouse connection: %w", err)
	}
	defer conn.Close()

	batch, err := conn.PrepareBatch(ctx, "INSERT INTO dim_rounds (round, participants, total_score, reward_pool, scored_at)")
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}
	for _, r := range rounds {
		if err := batch.Append(r.Round, r.Participants, r.TotalScore, r.RewardPool, r.ScoredAt); err != nil {
			return fmt.Errorf("failed to append round: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to write rounds to ClickHouse: %w", err)
	}
	return nil
}
