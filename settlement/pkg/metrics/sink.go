package metrics

import (
	"github.com/meridianlabs/tally/settlement/pkg/engine"
)

// Sink is an engine event sink that mirrors the settlement event stream into
// prometheus metrics.
type Sink struct{}

func NewSink() Sink {
	return Sink{}
}

func (Sink) Publish(ev engine.Event) {
	OperationsTotal.WithLabelValues(string(ev.Kind), "success").Inc()

	switch ev.Kind {
	case engine.KindDeposited:
		HeldBalance.Add(float64(ev.Amount))
	case engine.KindClaimed:
		ClaimsSettledTotal.Inc()
		ClaimedAmountTotal.Add(float64(ev.Amount))
		HeldBalance.Sub(float64(ev.Amount))
	case engine.KindEmergencyWithdrawal:
		HeldBalance.Sub(float64(ev.Amount))
	case engine.KindRoundStarted:
		RoundsStartedTotal.Inc()
	}
}
