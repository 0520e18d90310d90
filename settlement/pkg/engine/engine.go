package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/bits"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

type Config struct {
	Logger     *slog.Logger
	Clock      clockwork.Clock
	Authorizer Authorizer
	Transferer Transferer
	Funding    FundingMode
	Events     Sink
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Authorizer == nil {
		return errors.New("authorizer is required")
	}
	if cfg.Transferer == nil {
		return errors.New("transferer is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Events == nil {
		cfg.Events = NopSink{}
	}
	return nil
}

// Engine is a multi-round, score-weighted reward settlement ledger. Each
// round cycles through registration, score loading, and distribution;
// participants claim their proportional share of every unclaimed historical
// round in a single settlement. All operations are atomic: a mutex serializes
// state changes, and the only external call — the outbound transfer inside
// Claim and EmergencyWithdraw — happens strictly after state has committed.
type Engine struct {
	log *slog.Logger
	cfg Config

	mu     sync.Mutex
	rounds []*round
	phase  Phase
	held   uint64
	// settled tracks, per participant, the newest round already swept by a
	// claim scan so settlement cost stays proportional to unclaimed rounds.
	settled map[string]uint64
}

func New(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		log:     cfg.Logger,
		cfg:     cfg,
		rounds:  []*round{newRound(1, cfg.Clock.Now().UTC())},
		phase:   PhaseRegistration,
		settled: make(map[string]uint64),
	}
	return e, nil
}

// current returns the newest round. Callers must hold e.mu.
func (e *Engine) current() *round {
	return e.rounds[len(e.rounds)-1]
}

// emit stamps and publishes an event. Callers must hold e.mu so journal and
// indexer sinks observe events in commit order.
func (e *Engine) emit(ev Event) {
	ev.ID = uuid.New()
	ev.At = e.cfg.Clock.Now().UTC()
	e.cfg.Events.Publish(ev)
}

// Register adds a participant to the current round. Permitted only during the
// Registration phase; participants must re-register every round.
func (e *Engine) Register(participant string) error {
	if participant == "" {
		return fmt.Errorf("%w: participant is required", ErrInvalidInput)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	cur := e.current()
	if e.phase != PhaseRegistration {
		return fmt.Errorf("%w: registration is closed for round %d", ErrPhaseViolation, cur.id)
	}
	if cur.isRegistered(participant) {
		return fmt.Errorf("%w: %s in round %d", ErrDuplicateRegistration, participant, cur.id)
	}

	cur.registrants = append(cur.registrants, participant)
	cur.registered[participant] = struct{}{}
	e.emit(Event{Kind: KindRegistered, Round: cur.id, Participant: participant})
	e.log.Debug("engine: participant registered", "round", cur.id, "participant", participant)
	return nil
}

// StartActivePhase closes registration for the current round. Admin-only,
// permitted only during the Registration phase.
func (e *Engine) StartActivePhase(actor string) error {
	if err := e.cfg.Authorizer.Authorize(actor); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	cur := e.current()
	if e.phase != PhaseRegistration {
		return fmt.Errorf("%w: round %d is not in registration", ErrPhaseViolation, cur.id)
	}

	e.phase = PhaseActive
	e.emit(Event{Kind: KindPhaseChanged, Round: cur.id, Phase: PhaseActive.String()})
	e.log.Info("engine: active phase started", "round", cur.id, "registrants", len(cur.registrants))
	return nil
}

// Deposit credits inbound funds. In direct funding mode the amount is also
// added to the current round's pool, which is only permitted before scores
// freeze it; in carry-over mode deposits just raise the held balance and are
// attributed to a round at score-loading time.
func (e *Engine) Deposit(actor string, amount uint64) error {
	if err := e.cfg.Authorizer.Authorize(actor); err != nil {
		return err
	}
	if amount == 0 {
		return fmt.Errorf("%w: deposit amount must be positive", ErrInvalidInput)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	cur := e.current()
	if e.cfg.Funding == FundingDirect {
		if e.phase == PhaseDistribution {
			return fmt.Errorf("%w: round %d pool is frozen", ErrPhaseViolation, cur.id)
		}
		cur.rewardPool += amount
	}
	e.held += amount

	e.emit(Event{Kind: KindDeposited, Round: cur.id, Amount: amount})
	e.log.Info("engine: deposit received", "round", cur.id, "amount", amount, "held", e.held)
	return nil
}

// LoadScores records the round's score batch and opens claiming. Admin-only,
// permitted only during the Active phase, and all-or-nothing: any invalid
// entry rejects the whole batch. Re-assigning a participant within one batch
// replaces the earlier value rather than accumulating. In carry-over funding
// mode this call also infers the round's pool from the held balance minus all
// previously allocated but unclaimed amounts.
func (e *Engine) LoadScores(actor string, entries []ScoreEntry) error {
	if err := e.cfg.Authorizer.Authorize(actor); err != nil {
		return err
	}
	if len(entries) == 0 {
		return fmt.Errorf("%w: empty score batch", ErrInvalidInput)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	cur := e.current()
	if e.phase != PhaseActive {
		return fmt.Errorf("%w: round %d is not active", ErrPhaseViolation, cur.id)
	}

	var sum uint64
	for _, en := range entries {
		if en.Participant == "" {
			return fmt.Errorf("%w: score entry with empty participant", ErrInvalidInput)
		}
		if en.Score == 0 {
			return fmt.Errorf("%w: zero score for %s", ErrInvalidInput, en.Participant)
		}
		if !cur.isRegistered(en.Participant) {
			return fmt.Errorf("%w: %s in round %d", ErrNotRegistered, en.Participant, cur.id)
		}
		if sum+en.Score < sum {
			return fmt.Errorf("%w: total score overflows", ErrInvalidInput)
		}
		sum += en.Score
	}

	if e.cfg.Funding == FundingCarryOver {
		var unclaimed uint64
		for _, r := range e.rounds[:len(e.rounds)-1] {
			unclaimed += r.unclaimed()
		}
		if e.held <= unclaimed {
			return fmt.Errorf("%w: held %d does not exceed prior unclaimed %d", ErrInsufficientBalance, e.held, unclaimed)
		}
		cur.rewardPool = e.held - unclaimed
	}

	for _, en := range entries {
		if prev := cur.scores[en.Participant]; prev > 0 {
			cur.totalScore -= prev
		}
		cur.scores[en.Participant] = en.Score
		cur.totalScore += en.Score
	}
	cur.scored = true
	cur.scoredAt = e.cfg.Clock.Now().UTC()
	e.phase = PhaseDistribution

	final := make([]ScoreEntry, 0, len(cur.scores))
	for _, p := range cur.registrants {
		if s, ok := cur.scores[p]; ok {
			final = append(final, ScoreEntry{Participant: p, Score: s})
		}
	}
	e.emit(Event{
		Kind:       KindScoresLoaded,
		Round:      cur.id,
		Scores:     final,
		TotalScore: cur.totalScore,
		Pool:       cur.rewardPool,
	})
	e.emit(Event{Kind: KindPhaseChanged, Round: cur.id, Phase: PhaseDistribution.String()})
	e.log.Info("engine: scores loaded",
		"round", cur.id,
		"participants", len(final),
		"total_score", cur.totalScore,
		"pool", cur.rewardPool)
	return nil
}

// StartNewRound opens the next round. Admin-only, permitted only during the
// Distribution phase. Prior rounds stay claimable indefinitely.
func (e *Engine) StartNewRound(actor string) (uint64, error) {
	if err := e.cfg.Authorizer.Authorize(actor); err != nil {
		return 0, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.phase != PhaseDistribution {
		return 0, fmt.Errorf("%w: round %d has not been scored", ErrPhaseViolation, e.current().id)
	}

	next := newRound(e.current().id+1, e.cfg.Clock.Now().UTC())
	e.rounds = append(e.rounds, next)
	e.phase = PhaseRegistration

	e.emit(Event{Kind: KindRoundStarted, Round: next.id})
	e.emit(Event{Kind: KindPhaseChanged, Round: next.id, Phase: PhaseRegistration.String()})
	e.log.Info("engine: round started", "round", next.id)
	return next.id, nil
}

// Claim settles every unclaimed entitlement for the participant across all
// scored rounds and pays the accumulated total in a single outbound transfer.
// State commits before the transfer; a re-entrant claim triggered by the
// transfer observes the claimed flags and fails with ErrNothingToClaim. A
// failed transfer rolls back everything the call changed.
func (e *Engine) Claim(ctx context.Context, participant string) (uint64, error) {
	if participant == "" {
		return 0, fmt.Errorf("%w: participant is required", ErrInvalidInput)
	}

	type payout struct {
		round  *round
		amount uint64
	}

	e.mu.Lock()

	var (
		payouts []payout
		total   uint64
	)
	prevCursor := e.settled[participant]
	cursor := prevCursor
	for i := prevCursor; i < uint64(len(e.rounds)); i++ {
		r := e.rounds[i]
		if !r.scored {
			break
		}
		cursor = r.id
		if r.hasClaimed(participant) || !r.isRegistered(participant) {
			continue
		}
		score := r.scores[participant]
		if score == 0 {
			continue
		}
		share := proportionalShare(r.rewardPool, score, r.totalScore)
		if share == 0 {
			continue
		}
		r.claimed[participant] = struct{}{}
		r.claimedAmount += share
		payouts = append(payouts, payout{round: r, amount: share})
		total += share
	}
	e.settled[participant] = cursor

	if total == 0 {
		e.mu.Unlock()
		return 0, ErrNothingToClaim
	}
	if total > e.held {
		// Possible after an emergency withdrawal drained custody below the
		// allocated sum. Refuse rather than overdraw.
		for _, p := range payouts {
			delete(p.round.claimed, participant)
			p.round.claimedAmount -= p.amount
		}
		e.settled[participant] = prevCursor
		held := e.held
		e.mu.Unlock()
		return 0, fmt.Errorf("%w: settled %d exceeds held %d", ErrInsufficientBalance, total, held)
	}
	e.held -= total
	e.mu.Unlock()

	if err := e.cfg.Transferer.Transfer(ctx, participant, total); err != nil {
		e.mu.Lock()
		e.held += total
		for _, p := range payouts {
			delete(p.round.claimed, participant)
			p.round.claimedAmount -= p.amount
		}
		e.settled[participant] = prevCursor
		e.mu.Unlock()
		e.log.Error("engine: claim transfer failed", "participant", participant, "amount", total, "error", err)
		return 0, fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}

	e.mu.Lock()
	for _, p := range payouts {
		e.emit(Event{Kind: KindClaimed, Round: p.round.id, Participant: participant, Amount: p.amount})
	}
	e.mu.Unlock()

	e.log.Info("engine: claim settled", "participant", participant, "rounds", len(payouts), "amount", total)
	return total, nil
}

// EmergencyWithdraw moves held funds to an arbitrary recipient, bypassing
// round accounting entirely. Admin-only; intended for fail-safe fund
// recovery, not normal operation.
func (e *Engine) EmergencyWithdraw(ctx context.Context, actor, recipient string, amount uint64) error {
	if err := e.cfg.Authorizer.Authorize(actor); err != nil {
		return err
	}
	if recipient == "" {
		return fmt.Errorf("%w: recipient is required", ErrInvalidInput)
	}
	if amount == 0 {
		return fmt.Errorf("%w: withdrawal amount must be positive", ErrInvalidInput)
	}

	e.mu.Lock()
	if amount > e.held {
		held := e.held
		e.mu.Unlock()
		return fmt.Errorf("%w: requested %d, held %d", ErrInsufficientBalance, amount, held)
	}
	e.held -= amount
	e.mu.Unlock()

	if err := e.cfg.Transferer.Transfer(ctx, recipient, amount); err != nil {
		e.mu.Lock()
		e.held += amount
		e.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}

	e.mu.Lock()
	e.emit(Event{Kind: KindEmergencyWithdrawal, Recipient: recipient, Amount: amount})
	e.mu.Unlock()

	e.log.Warn("engine: emergency withdrawal", "recipient", recipient, "amount", amount)
	return nil
}

// Status returns a snapshot of the engine-global state.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{
		Round:       e.current().id,
		Phase:       e.phase.String(),
		Funding:     e.cfg.Funding.String(),
		HeldBalance: e.held,
	}
}

// RoundStats returns aggregate statistics for one round.
func (e *Engine) RoundStats(id uint64) (RoundStats, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	r, err := e.roundByID(id)
	if err != nil {
		return RoundStats{}, err
	}
	return RoundStats{
		Round:         r.id,
		Registrants:   len(r.registrants),
		Scored:        r.scored,
		TotalScore:    r.totalScore,
		RewardPool:    r.rewardPool,
		ClaimedAmount: r.claimedAmount,
		StartedAt:     r.startedAt,
		ScoredAt:      r.scoredAt,
	}, nil
}

// Registrants returns the ordered registrant list for one round.
func (e *Engine) Registrants(id uint64) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	r, err := e.roundByID(id)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(r.registrants))
	copy(out, r.registrants)
	return out, nil
}

// Claimable returns the participant's unclaimed entitlement in one round.
func (e *Engine) Claimable(participant string, id uint64) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	r, err := e.roundByID(id)
	if err != nil {
		return 0, err
	}
	return claimableIn(r, participant), nil
}

// TotalClaimable returns the participant's unclaimed entitlement summed over
// all scored rounds.
func (e *Engine) TotalClaimable(participant string) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	var total uint64
	for i := e.settled[participant]; i < uint64(len(e.rounds)); i++ {
		r := e.rounds[i]
		if !r.scored {
			break
		}
		total += claimableIn(r, participant)
	}
	return total
}

// UnclaimedRounds lists the round ids in which the participant still has an
// unclaimed entitlement.
func (e *Engine) UnclaimedRounds(participant string) []uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []uint64
	for i := e.settled[participant]; i < uint64(len(e.rounds)); i++ {
		r := e.rounds[i]
		if !r.scored {
			break
		}
		if claimableIn(r, participant) > 0 {
			out = append(out, r.id)
		}
	}
	return out
}

// roundByID resolves a round id. Callers must hold e.mu.
func (e *Engine) roundByID(id uint64) (*round, error) {
	if id == 0 || id > uint64(len(e.rounds)) {
		return nil, fmt.Errorf("%w: unknown round %d", ErrInvalidInput, id)
	}
	return e.rounds[id-1], nil
}

func claimableIn(r *round, participant string) uint64 {
	if !r.scored || r.hasClaimed(participant) || !r.isRegistered(participant) {
		return 0
	}
	score := r.scores[participant]
	if score == 0 {
		return 0
	}
	return proportionalShare(r.rewardPool, score, r.totalScore)
}

// proportionalShare computes floor(pool * score / totalScore) with a 128-bit
// intermediate product. score <= totalScore holds for every scored round, so
// the quotient fits in uint64.
func proportionalShare(pool, score, totalScore uint64) uint64 {
	hi, lo := bits.Mul64(pool, score)
	q, _ := bits.Div64(hi, lo, totalScore)
	return q
}
