package engine

import "fmt"

// Phase is the lifecycle stage of the current round. Transitions are
// admin-triggered except Active → Distribution, which happens as a side effect
// of loading scores. Claiming is phase-independent.
type Phase uint8

const (
	// PhaseRegistration accepts participant self-registration.
	PhaseRegistration Phase = iota
	// PhaseActive has registration closed and waits for the score batch.
	PhaseActive
	// PhaseDistribution has scores frozen and claiming open; the admin may
	// start the next round at any time.
	PhaseDistribution
)

func (p Phase) String() string {
	switch p {
	case PhaseRegistration:
		return "registration"
	case PhaseActive:
		return "active"
	case PhaseDistribution:
		return "distribution"
	default:
		return fmt.Sprintf("phase(%d)", uint8(p))
	}
}

// ParsePhase converts a phase name back to its Phase value.
func ParsePhase(s string) (Phase, error) {
	switch s {
	case "registration":
		return PhaseRegistration, nil
	case "active":
		return PhaseActive, nil
	case "distribution":
		return PhaseDistribution, nil
	default:
		return 0, fmt.Errorf("unknown phase %q", s)
	}
}

// FundingMode selects how a round's reward pool is accounted.
type FundingMode uint8

const (
	// FundingDirect adds every deposit to the current round's pool as it
	// arrives.
	FundingDirect FundingMode = iota
	// FundingCarryOver infers the pool at score-loading time from the held
	// balance minus all previously allocated but unclaimed amounts.
	FundingCarryOver
)

func (m FundingMode) String() string {
	switch m {
	case FundingDirect:
		return "direct"
	case FundingCarryOver:
		return "carry-over"
	default:
		return fmt.Sprintf("funding(%d)", uint8(m))
	}
}

// ParseFundingMode converts a funding mode name back to its value.
func ParseFundingMode(s string) (FundingMode, error) {
	switch s {
	case "direct":
		return FundingDirect, nil
	case "carry-over", "carryover":
		return FundingCarryOver, nil
	default:
		return 0, fmt.Errorf("unknown funding mode %q", s)
	}
}
