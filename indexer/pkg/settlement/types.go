package settlement

import "time"

// Claim is one settled per-round payout.
type Claim struct {
	Round       uint64
	Participant string
	Amount      uint64
	At          time.Time
}

// Deposit is one inbound fund transfer.
type Deposit struct {
	Round  uint64
	Amount uint64
	At     time.Time
}

// ScoreShare is one participant's scored share of a round.
type ScoreShare struct {
	Round       uint64
	Participant string
	Score       uint64
	TotalScore  uint64
	At          time.Time
}

// RoundSummary is the per-round dimension row, finalized at scoring time.
type RoundSummary struct {
	Round        uint64
	Participants uint32
	TotalScore   uint64
	RewardPool   uint64
	ScoredAt     time.Time
}
