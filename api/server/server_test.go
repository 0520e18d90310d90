package server_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meridianlabs/tally/api/handlers"
	"github.com/meridianlabs/tally/api/server"
	"github.com/meridianlabs/tally/settlement/pkg/engine"
	tallytesting "github.com/meridianlabs/tally/utils/pkg/testing"
)

const adminToken = "test-admin-token"

func newTestServer(t *testing.T) (*server.Server, *engine.Engine) {
	t.Helper()

	eng, err := engine.New(engine.Config{
		Logger:     tallytesting.NewLogger(),
		Authorizer: engine.SingleAdmin(adminToken),
		Transferer: engine.NewLedgerTransferer(),
		Funding:    engine.FundingDirect,
	})
	require.NoError(t, err)

	srv, err := server.New(server.Config{
		Logger:            tallytesting.NewLogger(),
		ListenAddr:        "127.0.0.1:0",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		VersionInfo: server.VersionInfo{
			Version: "test",
			Commit:  "deadbeef",
			Date:    "2026-01-01",
		},
		HandlersConfig: handlers.Config{
			Logger: tallytesting.NewLogger(),
			Engine: eng,
		},
	})
	require.NoError(t, err)
	return srv, eng
}

func doJSON(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	// Give each test its own client IP so tests never share a rate limit
	// bucket.
	sum := crc32.ChecksumIEEE([]byte(t.Name()))
	req.Header.Set("X-Forwarded-For", fmt.Sprintf("10.%d.%d.%d", byte(sum>>16), byte(sum>>8), byte(sum)))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestTally_API_Server_New(t *testing.T) {
	t.Parallel()

	t.Run("returns error when config validation fails", func(t *testing.T) {
		t.Parallel()

		t.Run("missing logger", func(t *testing.T) {
			t.Parallel()
			srv, err := server.New(server.Config{})
			require.Error(t, err)
			require.Nil(t, srv)
			require.Contains(t, err.Error(), "logger is required")
		})

		t.Run("missing listen addr", func(t *testing.T) {
			t.Parallel()
			srv, err := server.New(server.Config{
				Logger: tallytesting.NewLogger(),
			})
			require.Error(t, err)
			require.Nil(t, srv)
			require.Contains(t, err.Error(), "listen addr is required")
		})

		t.Run("missing engine", func(t *testing.T) {
			t.Parallel()
			srv, err := server.New(server.Config{
				Logger:     tallytesting.NewLogger(),
				ListenAddr: "127.0.0.1:0",
				HandlersConfig: handlers.Config{
					Logger: tallytesting.NewLogger(),
				},
			})
			require.Error(t, err)
			require.Nil(t, srv)
			require.Contains(t, err.Error(), "engine is required")
		})
	})
}

func TestTally_API_Server_Probes(t *testing.T) {
	t.Parallel()

	t.Run("healthz returns ok", func(t *testing.T) {
		t.Parallel()

		srv, _ := newTestServer(t)
		rec := doJSON(t, srv.Handler(), http.MethodGet, "/healthz", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "ok\n", rec.Body.String())
	})

	t.Run("readyz reflects readiness callback", func(t *testing.T) {
		t.Parallel()

		ready := false
		eng, err := engine.New(engine.Config{
			Logger:     tallytesting.NewLogger(),
			Authorizer: engine.SingleAdmin(adminToken),
			Transferer: engine.NewLedgerTransferer(),
		})
		require.NoError(t, err)

		srv, err := server.New(server.Config{
			Logger:     tallytesting.NewLogger(),
			ListenAddr: "127.0.0.1:0",
			Ready:      func() bool { return ready },
			HandlersConfig: handlers.Config{
				Logger: tallytesting.NewLogger(),
				Engine: eng,
			},
		})
		require.NoError(t, err)

		rec := doJSON(t, srv.Handler(), http.MethodGet, "/readyz", "", nil)
		require.Equal(t, http.StatusServiceUnavailable, rec.Code)

		ready = true
		rec = doJSON(t, srv.Handler(), http.MethodGet, "/readyz", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("version returns build info", func(t *testing.T) {
		t.Parallel()

		srv, _ := newTestServer(t)
		rec := doJSON(t, srv.Handler(), http.MethodGet, "/version", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var info server.VersionInfo
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&info))
		require.Equal(t, "test", info.Version)
		require.Equal(t, "deadbeef", info.Commit)
	})
}

func TestTally_API_Server_Auth(t *testing.T) {
	t.Parallel()

	t.Run("admin routes reject missing bearer token", func(t *testing.T) {
		t.Parallel()

		srv, _ := newTestServer(t)
		for _, path := range []string{
			"/api/rounds/activate",
			"/api/rounds",
			"/api/scores",
			"/api/deposits",
			"/api/emergency-withdraw",
		} {
			rec := doJSON(t, srv.Handler(), http.MethodPost, path, "", nil)
			require.Equal(t, http.StatusUnauthorized, rec.Code, path)

			var errResp handlers.ErrorResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&errResp))
			require.Equal(t, "unauthorized", errResp.Error)
		}
	})

	t.Run("admin routes reject wrong token", func(t *testing.T) {
		t.Parallel()

		srv, _ := newTestServer(t)
		rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/rounds/activate", "wrong-token", nil)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestTally_API_Server_Lifecycle(t *testing.T) {
	t.Parallel()

	t.Run("full round over http", func(t *testing.T) {
		t.Parallel()

		srv, _ := newTestServer(t)
		h := srv.Handler()

		// Register two participants.
		rec := doJSON(t, h, http.MethodPost, "/api/register", "", handlers.RegisterRequest{Participant: "alice"})
		require.Equal(t, http.StatusOK, rec.Code)
		rec = doJSON(t, h, http.MethodPost, "/api/register", "", handlers.RegisterRequest{Participant: "bob"})
		require.Equal(t, http.StatusOK, rec.Code)

		// Duplicate registration conflicts.
		rec = doJSON(t, h, http.MethodPost, "/api/register", "", handlers.RegisterRequest{Participant: "alice"})
		require.Equal(t, http.StatusConflict, rec.Code)
		var errResp handlers.ErrorResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&errResp))
		require.Equal(t, "duplicate_registration", errResp.Error)

		rec = doJSON(t, h, http.MethodGet, "/api/rounds/1/registrants", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var registrants handlers.RegistrantsResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&registrants))
		require.Equal(t, []string{"alice", "bob"}, registrants.Registrants)

		// Activate, fund, and score the round.
		rec = doJSON(t, h, http.MethodPost, "/api/rounds/activate", adminToken, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		rec = doJSON(t, h, http.MethodPost, "/api/deposits", adminToken, handlers.DepositRequest{Amount: 100})
		require.Equal(t, http.StatusOK, rec.Code)

		rec = doJSON(t, h, http.MethodPost, "/api/scores", adminToken, handlers.ScoresRequest{
			Scores: []engine.ScoreEntry{
				{Participant: "alice", Score: 700},
				{Participant: "bob", Score: 300},
			},
		})
		require.Equal(t, http.StatusOK, rec.Code)

		var status engine.Status
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
		require.Equal(t, "distribution", status.Phase)

		// Claimable views.
		rec = doJSON(t, h, http.MethodGet, "/api/participants/alice/claimable", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var claimable handlers.ClaimableResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&claimable))
		require.Equal(t, uint64(70), claimable.Amount)

		rec = doJSON(t, h, http.MethodGet, "/api/participants/alice/claimable?round=1", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&claimable))
		require.Equal(t, uint64(70), claimable.Amount)
		require.NotNil(t, claimable.Round)
		require.Equal(t, uint64(1), *claimable.Round)

		rec = doJSON(t, h, http.MethodGet, "/api/participants/alice/unclaimed-rounds", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var unclaimed handlers.UnclaimedRoundsResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&unclaimed))
		require.Equal(t, []uint64{1}, unclaimed.Rounds)

		// Settle.
		rec = doJSON(t, h, http.MethodPost, "/api/claim", "", handlers.ClaimRequest{Participant: "alice"})
		require.Equal(t, http.StatusOK, rec.Code)
		var claim handlers.ClaimResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&claim))
		require.Equal(t, uint64(70), claim.Amount)

		// Nothing left for alice.
		rec = doJSON(t, h, http.MethodPost, "/api/claim", "", handlers.ClaimRequest{Participant: "alice"})
		require.Equal(t, http.StatusConflict, rec.Code)
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&errResp))
		require.Equal(t, "nothing_to_claim", errResp.Error)

		// Unknown participant.
		rec = doJSON(t, h, http.MethodPost, "/api/claim", "", handlers.ClaimRequest{Participant: "mallory"})
		require.Equal(t, http.StatusNotFound, rec.Code)
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&errResp))
		require.Equal(t, "not_registered", errResp.Error)

		// Next round opens registration again.
		rec = doJSON(t, h, http.MethodPost, "/api/rounds", adminToken, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var next map[string]uint64
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&next))
		require.Equal(t, uint64(2), next["round"])

		rec = doJSON(t, h, http.MethodGet, "/api/status", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
		require.Equal(t, uint64(2), status.Round)
		require.Equal(t, "registration", status.Phase)
	})

	t.Run("round stats", func(t *testing.T) {
		t.Parallel()

		srv, _ := newTestServer(t)
		h := srv.Handler()

		rec := doJSON(t, h, http.MethodPost, "/api/register", "", handlers.RegisterRequest{Participant: "alice"})
		require.Equal(t, http.StatusOK, rec.Code)

		rec = doJSON(t, h, http.MethodGet, "/api/rounds/1", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var stats engine.RoundStats
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&stats))
		require.Equal(t, uint64(1), stats.Round)
		require.Equal(t, 1, stats.Registrants)
		require.False(t, stats.Scored)

		rec = doJSON(t, h, http.MethodGet, "/api/rounds/9", "", nil)
		require.Equal(t, http.StatusBadRequest, rec.Code)

		rec = doJSON(t, h, http.MethodGet, "/api/rounds/0", "", nil)
		require.Equal(t, http.StatusBadRequest, rec.Code)

		rec = doJSON(t, h, http.MethodGet, "/api/rounds/nope", "", nil)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("malformed bodies return 400", func(t *testing.T) {
		t.Parallel()

		srv, _ := newTestServer(t)
		h := srv.Handler()

		req := httptest.NewRequest(http.MethodPost, "/api/register", bytes.NewBufferString("{not json"))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		require.Equal(t, http.StatusBadRequest, rec.Code)

		req = httptest.NewRequest(http.MethodPost, "/api/scores", bytes.NewBufferString("{not json"))
		req.Header.Set("Authorization", "Bearer "+adminToken)
		rec = httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("phase violations return 409", func(t *testing.T) {
		t.Parallel()

		srv, _ := newTestServer(t)
		h := srv.Handler()

		// Scores before activation.
		rec := doJSON(t, h, http.MethodPost, "/api/scores", adminToken, handlers.ScoresRequest{
			Scores: []engine.ScoreEntry{{Participant: "alice", Score: 1}},
		})
		require.Equal(t, http.StatusConflict, rec.Code)
		var errResp handlers.ErrorResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&errResp))
		require.Equal(t, "phase_violation", errResp.Error)
	})
}

func TestTally_API_Server_EmergencyWithdraw(t *testing.T) {
	t.Parallel()

	t.Run("drains held funds", func(t *testing.T) {
		t.Parallel()

		srv, _ := newTestServer(t)
		h := srv.Handler()

		rec := doJSON(t, h, http.MethodPost, "/api/register", "", handlers.RegisterRequest{Participant: "alice"})
		require.Equal(t, http.StatusOK, rec.Code)
		rec = doJSON(t, h, http.MethodPost, "/api/rounds/activate", adminToken, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		rec = doJSON(t, h, http.MethodPost, "/api/deposits", adminToken, handlers.DepositRequest{Amount: 100})
		require.Equal(t, http.StatusOK, rec.Code)

		rec = doJSON(t, h, http.MethodPost, "/api/emergency-withdraw", adminToken, handlers.EmergencyWithdrawRequest{
			Recipient: "treasury",
			Amount:    60,
		})
		require.Equal(t, http.StatusOK, rec.Code)

		var status engine.Status
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
		require.Equal(t, uint64(40), status.HeldBalance)

		// More than held.
		rec = doJSON(t, h, http.MethodPost, "/api/emergency-withdraw", adminToken, handlers.EmergencyWithdrawRequest{
			Recipient: "treasury",
			Amount:    1000,
		})
		require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})
}
