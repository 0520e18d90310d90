package engine

import "time"

// ScoreEntry pairs a participant with the non-negative contribution weight
// assigned by the upstream scoring oracle for one round.
type ScoreEntry struct {
	Participant string `json:"participant"`
	Score       uint64 `json:"score"`
}

// round is one registration → scoring → distribution cycle. Rounds are
// created lazily, keyed by a monotonically increasing id starting at 1, and
// never deleted: historical rounds stay queryable and claimable forever.
type round struct {
	id          uint64
	registrants []string
	registered  map[string]struct{}
	scores      map[string]uint64
	totalScore  uint64
	rewardPool  uint64
	// claimedAmount is the running sum paid out of this round's pool; the
	// carry-over variant needs it to infer future pools.
	claimedAmount uint64
	claimed       map[string]struct{}
	scored        bool
	startedAt     time.Time
	scoredAt      time.Time
}

func newRound(id uint64, startedAt time.Time) *round {
	return &round{
		id:         id,
		registered: make(map[string]struct{}),
		scores:     make(map[string]uint64),
		claimed:    make(map[string]struct{}),
		startedAt:  startedAt,
	}
}

func (r *round) isRegistered(participant string) bool {
	_, ok := r.registered[participant]
	return ok
}

func (r *round) hasClaimed(participant string) bool {
	_, ok := r.claimed[participant]
	return ok
}

// unclaimed is the portion of the pool not yet paid out.
func (r *round) unclaimed() uint64 {
	return r.rewardPool - r.claimedAmount
}

// RoundStats is an aggregate snapshot of one round.
type RoundStats struct {
	Round         uint64    `json:"round"`
	Registrants   int       `json:"registrants"`
	Scored        bool      `json:"scored"`
	TotalScore    uint64    `json:"total_score"`
	RewardPool    uint64    `json:"reward_pool"`
	ClaimedAmount uint64    `json:"claimed_amount"`
	StartedAt     time.Time `json:"started_at"`
	ScoredAt      time.Time `json:"scored_at,omitzero"`
}

// Status is a snapshot of the engine-global state.
type Status struct {
	Round       uint64 `json:"round"`
	Phase       string `json:"phase"`
	Funding     string `json:"funding"`
	HeldBalance uint64 `json:"held_balance"`
}
