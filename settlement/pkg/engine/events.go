package engine

import (
	"time"

	"github.com/google/uuid"
)

// Kind identifies an event type on the settlement event stream.
type Kind string

const (
	KindRegistered          Kind = "registered"
	KindDeposited           Kind = "deposited"
	KindScoresLoaded        Kind = "scores_loaded"
	KindPhaseChanged        Kind = "phase_changed"
	KindRoundStarted        Kind = "round_started"
	KindClaimed             Kind = "claimed"
	KindEmergencyWithdrawal Kind = "emergency_withdrawal"
)

// Event is a side-channel signal for external observers and for journal
// replay. Fields not relevant to a given kind are zero. Events are emitted
// after the state change they describe has committed; internal correctness
// never depends on them being observed.
type Event struct {
	ID          uuid.UUID    `json:"id"`
	Kind        Kind         `json:"kind"`
	Round       uint64       `json:"round,omitempty"`
	Participant string       `json:"participant,omitempty"`
	Recipient   string       `json:"recipient,omitempty"`
	Amount      uint64       `json:"amount,omitempty"`
	Pool        uint64       `json:"pool,omitempty"`
	TotalScore  uint64       `json:"total_score,omitempty"`
	Scores      []ScoreEntry `json:"scores,omitempty"`
	Phase       string       `json:"phase,omitempty"`
	At          time.Time    `json:"at"`
}

// Sink receives engine events. Publish is called synchronously while the
// engine lock is held, so implementations must not call back into the engine
// and should either return quickly or hand the event off to a channel.
type Sink interface {
	Publish(ev Event)
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) Publish(Event) {}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ev Event)

func (f SinkFunc) Publish(ev Event) { f(ev) }

// ChanSink forwards events to a buffered channel, dropping events when the
// buffer is full so a stalled consumer cannot block settlement operations.
type ChanSink struct {
	ch      chan Event
	dropped func(Event)
}

// NewChanSink returns a ChanSink with the given buffer size. The optional
// dropped callback observes events discarded due to a full buffer.
func NewChanSink(buffer int, dropped func(Event)) *ChanSink {
	return &ChanSink{
		ch:      make(chan Event, buffer),
		dropped: dropped,
	}
}

func (s *ChanSink) Publish(ev Event) {
	select {
	case s.ch <- ev:
	default:
		if s.dropped != nil {
			s.dropped(ev)
		}
	}
}

// Events returns the receive side of the sink.
func (s *ChanSink) Events() <-chan Event {
	return s.ch
}

// MultiSink fans an event out to several sinks in order.
type MultiSink []Sink

func (m MultiSink) Publish(ev Event) {
	for _, s := range m {
		s.Publish(ev)
	}
}
