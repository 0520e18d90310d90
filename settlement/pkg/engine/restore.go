package engine

import (
	"errors"
	"fmt"
)

// Restore rebuilds engine state by replaying a journaled event stream. It is
// only valid on a freshly constructed engine; authorization and outbound
// transfers are not re-run.
func (e *Engine) Restore(events []Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.rounds) != 1 || e.phase != PhaseRegistration ||
		len(e.rounds[0].registrants) != 0 || e.rounds[0].rewardPool != 0 || e.held != 0 {
		return errors.New("restore requires a fresh engine")
	}

	for i, ev := range events {
		if err := e.apply(ev); err != nil {
			return fmt.Errorf("failed to apply event %d (%s): %w", i, ev.Kind, err)
		}
	}

	e.log.Info("engine: state restored",
		"events", len(events),
		"round", e.current().id,
		"phase", e.phase.String(),
		"held", e.held)
	return nil
}

// apply replays one event. Callers must hold e.mu.
func (e *Engine) apply(ev Event) error {
	cur := e.current()

	switch ev.Kind {
	case KindRegistered:
		if ev.Round != cur.id {
			return fmt.Errorf("registration for round %d while round %d is current", ev.Round, cur.id)
		}
		if ev.Participant == "" {
			return errors.New("registration without participant")
		}
		if cur.isRegistered(ev.Participant) {
			return fmt.Errorf("%s already registered", ev.Participant)
		}
		cur.registrants = append(cur.registrants, ev.Participant)
		cur.registered[ev.Participant] = struct{}{}

	case KindDeposited:
		if ev.Round != cur.id {
			return fmt.Errorf("deposit for round %d while round %d is current", ev.Round, cur.id)
		}
		if e.cfg.Funding == FundingDirect {
			cur.rewardPool += ev.Amount
		}
		e.held += ev.Amount

	case KindScoresLoaded:
		if ev.Round != cur.id {
			return fmt.Errorf("scores for round %d while round %d is current", ev.Round, cur.id)
		}
		if cur.scored {
			return fmt.Errorf("round %d already scored", cur.id)
		}
		for _, s := range ev.Scores {
			if !cur.isRegistered(s.Participant) {
				return fmt.Errorf("score for unregistered %s", s.Participant)
			}
			cur.scores[s.Participant] = s.Score
		}
		cur.totalScore = ev.TotalScore
		cur.rewardPool = ev.Pool
		cur.scored = true
		cur.scoredAt = ev.At

	case KindPhaseChanged:
		p, err := ParsePhase(ev.Phase)
		if err != nil {
			return err
		}
		e.phase = p

	case KindRoundStarted:
		if ev.Round != cur.id+1 {
			return fmt.Errorf("round %d started while round %d is current", ev.Round, cur.id)
		}
		e.rounds = append(e.rounds, newRound(ev.Round, ev.At))

	case KindClaimed:
		r, err := e.roundByID(ev.Round)
		if err != nil {
			return err
		}
		if !r.scored {
			return fmt.Errorf("claim against unscored round %d", ev.Round)
		}
		if r.hasClaimed(ev.Participant) {
			return fmt.Errorf("%s already claimed round %d", ev.Participant, ev.Round)
		}
		if ev.Amount > e.held {
			return fmt.Errorf("claim of %d exceeds held balance %d", ev.Amount, e.held)
		}
		r.claimed[ev.Participant] = struct{}{}
		r.claimedAmount += ev.Amount
		e.held -= ev.Amount
		if e.settled[ev.Participant] < ev.Round {
			e.settled[ev.Participant] = ev.Round
		}

	case KindEmergencyWithdrawal:
		if ev.Amount > e.held {
			return fmt.Errorf("withdrawal of %d exceeds held balance %d", ev.Amount, e.held)
		}
		e.held -= ev.Amount

	default:
		return fmt.Errorf("unknown event kind %q", ev.Kind)
	}

	return nil
}
