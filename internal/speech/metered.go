package speech

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jamborta/readaloud/internal/logging"
	"github.com/jamborta/readaloud/internal/observe"
	"github.com/jamborta/readaloud/internal/state"
)

// UsageRecorder accumulates synthesized characters.
type UsageRecorder interface {
	AddUsage(chars int) (state.Usage, error)
}

// Metered wraps a Synthesizer and records usage and latency for every
// successful call. Usage write failures are logged and do not fail the call.
type Metered struct {
	next    Synthesizer
	usage   UsageRecorder
	metrics *observe.Metrics
	log     logrus.FieldLogger
}

// NewMetered wraps next. usage, metrics and log may be nil.
func NewMetered(next Synthesizer, usage UsageRecorder, metrics *observe.Metrics, log logrus.FieldLogger) *Metered {
	return &Metered{
		next:    next,
		usage:   usage,
		metrics: observe.Or(metrics),
		log:     logging.Or(log),
	}
}

// Synthesize calls the wrapped synthesizer.
func (m *Metered) Synthesize(ctx context.Context, text string, p Params) (*Audio, error) {
	start := time.Now()
	audio, err := m.next.Synthesize(ctx, text, p)
	if err != nil {
		return nil, err
	}
	m.metrics.RecordSynthesis(ctx, time.Since(start), audio.CharacterCount)
	if m.usage != nil {
		if u, err := m.usage.AddUsage(audio.CharacterCount); err != nil {
			m.log.WithError(err).Warn("failed to record usage")
		} else {
			m.log.WithField("month_total", u.CharactersUsed).Debug("recorded synthesis usage")
		}
	}
	return audio, nil
}
