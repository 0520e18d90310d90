package journal

import (
	"context"
	"log/slog"
	"time"

	"github.com/meridianlabs/tally/settlement/pkg/engine"
	"github.com/meridianlabs/tally/settlement/pkg/metrics"
	"github.com/meridianlabs/tally/utils/pkg/retry"
)

// Sink appends engine events to the journal with bounded retry. Append
// failures are logged and counted, never surfaced: the event stream is
// observational, so a journal outage degrades recovery, not settlement.
type Sink struct {
	log     *slog.Logger
	store   *Store
	retry   retry.Config
	timeout time.Duration
}

func NewSink(log *slog.Logger, store *Store) *Sink {
	return &Sink{
		log:     log,
		store:   store,
		retry:   retry.DefaultConfig(),
		timeout: 10 * time.Second,
	}
}

func (s *Sink) Publish(ev engine.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	err := retry.Do(ctx, s.retry, func() error {
		return s.store.Append(ctx, ev)
	})
	if err != nil {
		metrics.JournalAppendsTotal.WithLabelValues("error").Inc()
		s.log.Error("journal: failed to append event", "kind", ev.Kind, "id", ev.ID, "error", err)
		return
	}
	metrics.JournalAppendsTotal.WithLabelValues("success").Inc()
}
