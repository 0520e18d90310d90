package settlement

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	tallytesting "github.com/meridianlabs/tally/utils/pkg/testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	db := testClient(t)
	store, err := NewStore(StoreConfig{
		Logger:     tallytesting.NewLogger(),
		ClickHouse: db,
	})
	require.NoError(t, err)
	require.NoError(t, store.EnsureSchema(context.Background()))
	return store
}

func queryCount(t *testing.T, store *Store, query string, args ...any) uint64 {
	t.Helper()

	conn, err := store.cfg.ClickHouse.Conn(context.Background())
	require.NoError(t, err)
	defer conn.Close()

	rows, err := conn.Query(context.Background(), query, args...)
	require.NoError(t, err)
	defer rows.Close()

	require.True(t, rows.Next())
	var count uint64
	require.NoError(t, rows.Scan(&count))
	return count
}

func TestTally_Indexer_Settlement_Store_NewStore(t *testing.T) {
	t.Parallel()

	t.Run("returns error when config validation fails", func(t *testing.T) {
		t.Parallel()

		t.Run("missing logger", func(t *testing.T) {
			t.Parallel()
			store, err := NewStore(StoreConfig{})
			require.Error(t, err)
			require.Nil(t, store)
			require.Contains(t, err.Error(), "logger is required")
		})

		t.Run("missing clickhouse", func(t *testing.T) {
			t.Parallel()
			store, err := NewStore(StoreConfig{
				Logger: tallytesting.NewLogger(),
			})
			require.Error(t, err)
			require.Nil(t, store)
			require.Contains(t, err.Error(), "clickhouse connection is required")
		})
	})

	t.Run("returns store when config is valid", func(t *testing.T) {
		t.Parallel()

		db := testClient(t)
		store, err := NewStore(StoreConfig{
			Logger:     tallytesting.NewLogger(),
			ClickHouse: db,
		})
		require.NoError(t, err)
		require.NotNil(t, store)
	})
}

func TestTally_Indexer_Settlement_Store_EnsureSchema(t *testing.T) {
	t.Parallel()

	t.Run("creates tables and is idempotent", func(t *testing.T) {
		t.Parallel()

		store := newTestStore(t)
		require.NoError(t, store.EnsureSchema(context.Background()))

		for _, table := range []string{"fact_claims", "fact_deposits", "fact_score_shares", "dim_rounds"} {
			count := queryCount(t, store, "SELECT count() FROM "+table)
			require.Zero(t, count, table)
		}
	})
}

func TestTally_Indexer_Settlement_Store_InsertClaims(t *testing.T) {
	t.Parallel()

	t.Run("inserts claims", func(t *testing.T) {
		t.Parallel()

		store := newTestStore(t)

		claims := []Claim{
			{Round: 1, Participant: "alice", Amount: 70, At: time.Unix(10, 0).UTC()},
			{Round: 1, Participant: "bob", Amount: 30, At: time.Unix(11, 0).UTC()},
			{Round: 2, Participant: "alice", Amount: 100, At: time.Unix(20, 0).UTC()},
		}
		require.NoError(t, store.InsertClaims(context.Background(), claims))

		count := queryCount(t, store, "SELECT count() FROM fact_claims")
		require.Equal(t, uint64(3), count)

		total := queryCount(t, store, "SELECT sum(amount) FROM fact_claims WHERE participant = ?", "alice")
		require.Equal(t, uint64(170), total)
	})

	t.Run("no-op on empty slice", func(t *testing.T) {
		t.Parallel()

		store := newTestStore(t)
		require.NoError(t, store.InsertClaims(context.Background(), nil))
	})
}

func TestTally_Indexer_Settlement_Store_InsertDeposits(t *testing.T) {
	t.Parallel()

	t.Run("inserts deposits", func(t *testing.T) {
		t.Parallel()

		store := newTestStore(t)

		deposits := []Deposit{
			{Round: 1, Amount: 100, At: time.Unix(5, 0).UTC()},
			{Round: 1, Amount: 50, At: time.Unix(6, 0).UTC()},
		}
		require.NoError(t, store.InsertDeposits(context.Background(), deposits))

		total := queryCount(t, store, "SELECT sum(amount) FROM fact_deposits WHERE round = ?", uint64(1))
		require.Equal(t, uint64(150), total)
	})
}

func TestTally_Indexer_Settlement_Store_InsertScoreShares(t *testing.T) {
	t.Parallel()

	t.Run("inserts score shares", func(t *testing.T) {
		t.Parallel()

		store := newTestStore(t)

		shares := []ScoreShare{
			{Round: 1, Participant: "alice", Score: 700, TotalScore: 1000, At: time.Unix(30, 0).UTC()},
			{Round: 1, Participant: "bob", Score: 300, TotalScore: 1000, At: time.Unix(30, 0).UTC()},
		}
		require.NoError(t, store.InsertScoreShares(context.Background(), shares))

		count := queryCount(t, store, "SELECT count() FROM fact_score_shares WHERE round = ?", uint64(1))
		require.Equal(t, uint64(2), count)

		maxScore := queryCount(t, store, "SELECT max(score) FROM fact_score_shares WHERE round = ?", uint64(1))
		require.Equal(t, uint64(700), maxScore)
	})
}

func TestTally_Indexer_Settlement_Store_UpsertRounds(t *testing.T) {
	t.Parallel()

	t.Run("newest version wins after dedup", func(t *testing.T) {
		t.Parallel()

		store := newTestStore(t)

		require.NoError(t, store.UpsertRounds(context.Background(), []RoundSummary{
			{Round: 1, Participants: 2, TotalScore: 1000, RewardPool: 100, ScoredAt: time.Unix(40, 0).UTC()},
		}))
		require.NoError(t, store.UpsertRounds(context.Background(), []RoundSummary{
			{Round: 1, Participants: 3, TotalScore: 1500, RewardPool: 100, ScoredAt: time.Unix(50, 0).UTC()},
		}))

		// ReplacingMergeTree dedups on merge, so query with FINAL.
		count := queryCount(t, store, "SELECT count() FROM dim_rounds FINAL WHERE round = ?", uint64(1))
		require.Equal(t, uint64(1), count)

		conn, err := store.cfg.ClickHouse.Conn(context.Background())
		require.NoError(t, err)
		defer conn.Close()
		rows, err := conn.Query(context.Background(), "SELECT participants FROM dim_rounds FINAL WHERE round = ?", uint64(1))
		require.NoError(t, err)
		defer rows.Close()
		require.True(t, rows.Next())
		var participants uint32
		require.NoError(t, rows.Scan(&participants))
		require.Equal(t, uint32(3), participants)
	})
}
