package journal_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/meridianlabs/tally/settlement/pkg/engine"
	"github.com/meridianlabs/tally/settlement/pkg/journal"
	tallytesting "github.com/meridianlabs/tally/utils/pkg/testing"
)

// newTestStore migrates the shared database and returns a store over a
// truncated table. Tests share one journal table, so they run sequentially.
func newTestStore(t *testing.T) *journal.Store {
	t.Helper()
	ctx := t.Context()
	log := tallytesting.NewLogger()

	require.NoError(t, journal.Migrate(ctx, log, sharedDB.ConnStr()))

	pool := tallytesting.NewTestPool(t, sharedDB)
	_, err := pool.Exec(ctx, "TRUNCATE settlement_events")
	require.NoError(t, err)

	store, err := journal.NewStore(journal.StoreConfig{
		Logger: log,
		Pool:   pool,
	})
	require.NoError(t, err)
	return store
}

func event(kind engine.Kind, round uint64, participant string, amount uint64) engine.Event {
	return engine.Event{
		ID:          uuid.New(),
		Kind:        kind,
		Round:       round,
		Participant: participant,
		Amount:      amount,
		At:          time.Now().UTC().Truncate(time.Microsecond),
	}
}

func TestTally_Settlement_Journal_NewStore(t *testing.T) {
	t.Run("returns error when config validation fails", func(t *testing.T) {
		t.Run("missing logger", func(t *testing.T) {
			store, err := journal.NewStore(journal.StoreConfig{})
			require.Error(t, err)
			require.Nil(t, store)
			require.Contains(t, err.Error(), "logger is required")
		})

		t.Run("missing pool", func(t *testing.T) {
			store, err := journal.NewStore(journal.StoreConfig{
				Logger: tallytesting.NewLogger(),
			})
			require.Error(t, err)
			require.Nil(t, store)
			require.Contains(t, err.Error(), "postgres pool is required")
		})
	})
}

func TestTally_Settlement_Journal_AppendLoad(t *testing.T) {
	t.Run("appends and loads events in order", func(t *testing.T) {
		store := newTestStore(t)
		ctx := t.Context()

		events := []engine.Event{
			event(engine.KindRegistered, 1, "alice", 0),
			event(engine.KindDeposited, 1, "", 100),
			event(engine.KindClaimed, 1, "alice", 100),
		}
		for _, ev := range events {
			require.NoError(t, store.Append(ctx, ev))
		}

		loaded, err := store.Load(ctx)
		require.NoError(t, err)
		require.Len(t, loaded, 3)
		for i, ev := range events {
			require.Equal(t, ev.ID, loaded[i].ID)
			require.Equal(t, ev.Kind, loaded[i].Kind)
			require.Equal(t, ev.Round, loaded[i].Round)
			require.Equal(t, ev.Participant, loaded[i].Participant)
			require.Equal(t, ev.Amount, loaded[i].Amount)
		}

		n, err := store.Count(ctx)
		require.NoError(t, err)
		require.Equal(t, 3, n)
	})

	t.Run("append is idempotent per event id", func(t *testing.T) {
		store := newTestStore(t)
		ctx := t.Context()

		ev := event(engine.KindRegistered, 1, "alice", 0)
		require.NoError(t, store.Append(ctx, ev))
		require.NoError(t, store.Append(ctx, ev))

		n, err := store.Count(ctx)
		require.NoError(t, err)
		require.Equal(t, 1, n)
	})

	t.Run("round-trips score payloads for replay", func(t *testing.T) {
		store := newTestStore(t)
		ctx := t.Context()

		ev := engine.Event{
			ID:    uuid.New(),
			Kind:  engine.KindScoresLoaded,
			Round: 2,
			Scores: []engine.ScoreEntry{
				{Participant: "alice", Score: 700},
				{Participant: "bob", Score: 300},
			},
			TotalScore: 1000,
			Pool:       10,
			At:         time.Now().UTC().Truncate(time.Microsecond),
		}
		require.NoError(t, store.Append(ctx, ev))

		loaded, err := store.Load(ctx)
		require.NoError(t, err)
		require.Len(t, loaded, 1)
		require.Equal(t, ev.Scores, loaded[0].Scores)
		require.Equal(t, ev.TotalScore, loaded[0].TotalScore)
		require.Equal(t, ev.Pool, loaded[0].Pool)
	})
}

func TestTally_Settlement_Journal_Sink(t *testing.T) {
	t.Run("persists engine events end to end", func(t *testing.T) {
		store := newTestStore(t)
		ctx := t.Context()
		log := tallytesting.NewLogger()

		eng, err := engine.New(engine.Config{
			Logger:     log,
			Authorizer: engine.SingleAdmin("admin"),
			Transferer: engine.NewLedgerTransferer(),
			Events:     journal.NewSink(log, store),
		})
		require.NoError(t, err)

		require.NoError(t, eng.Register("alice"))
		require.NoError(t, eng.StartActivePhase("admin"))
		require.NoError(t, eng.Deposit("admin", 10))
		require.NoError(t, eng.LoadScores("admin", []engine.ScoreEntry{{Participant: "alice", Score: 1}}))
		_, err = eng.Claim(ctx, "alice")
		require.NoError(t, err)

		// A fresh engine restored from the journal agrees with the live one.
		events, err := store.Load(ctx)
		require.NoError(t, err)

		restored, err := engine.New(engine.Config{
			Logger:     log,
			Authorizer: engine.SingleAdmin("admin"),
			Transferer: engine.NewLedgerTransferer(),
		})
		require.NoError(t, err)
		require.NoError(t, restored.Restore(events))
		require.Equal(t, eng.Status(), restored.Status())

		_, err = restored.Claim(ctx, "alice")
		require.ErrorIs(t, err, engine.ErrNothingToClaim)
	})
}

func TestTally_Settlement_Journal_Migrate(t *testing.T) {
	t.Run("is idempotent", func(t *testing.T) {
		log := tallytesting.NewLogger()
		require.NoError(t, journal.Migrate(t.Context(), log, sharedDB.ConnStr()))
		require.NoError(t, journal.Migrate(t.Context(), log, sharedDB.ConnStr()))
	})
}
