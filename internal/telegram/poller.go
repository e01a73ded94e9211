package telegram

import (
	"context"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"

	"voice_scribe_bot/internal/domain"
	"voice_scribe_bot/internal/logging"
	"voice_scribe_bot/internal/metrics"
)

// UpdateSource fetches update batches.
type UpdateSource interface {
	FetchUpdates(ctx context.Context, offset int64, timeout time.Duration, allowed []string) ([]models.Update, error)
}

// BatchDispatcher consumes one classified batch.
type BatchDispatcher interface {
	DispatchBatch(ctx context.Context, envelopes []domain.Envelope)
}

// Backoff is a capped exponential delay with full jitter.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

// DefaultBackoff waits up to 500ms after the first failure, doubling to 30s.
func DefaultBackoff() Backoff {
	return Backoff{Initial: 500 * time.Millisecond, Max: 30 * time.Second, Multiplier: 2}
}

// ceiling returns the upper bound of the delay after failures consecutive errors.
func (b Backoff) ceiling(failures int) time.Duration {
	d := float64(b.Initial)
	for i := 1; i < failures; i++ {
		d *= b.Multiplier
		if d >= float64(b.Max) {
			return b.Max
		}
	}
	return time.Duration(d)
}

// Poller drives the fetch, classify, dispatch loop. The offset lives in
// memory only and moves past a batch as soon as it is fetched.
type Poller struct {
	source     UpdateSource
	dispatcher BatchDispatcher
	timeout    time.Duration
	backoff    Backoff
	offset     atomic.Int64
	failures   int
	logger     *logrus.Entry

	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(n int64) int64
}

// NewPoller constructs a Poller long-polling with timeout.
func NewPoller(source UpdateSource, dispatcher BatchDispatcher, timeout time.Duration, logger *logrus.Entry) *Poller {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Poller{
		source:     source,
		dispatcher: dispatcher,
		timeout:    timeout,
		backoff:    DefaultBackoff(),
		logger:     logger,
		sleep:      sleepContext,
		jitter:     rand.Int63n,
	}
}

// Offset returns the next update id to request.
func (p *Poller) Offset() int64 {
	return p.offset.Load()
}

// PollOnce fetches one batch and dispatches it. On a fetch error the offset is
// left untouched and the error returned.
func (p *Poller) PollOnce(ctx context.Context) error {
	offset := p.offset.Load()

	updates, err := p.source.FetchUpdates(ctx, offset, p.timeout, AllowedUpdates)
	if err != nil {
		metrics.PollErrorsTotal.Inc()
		return err
	}
	if len(updates) == 0 {
		return nil
	}

	p.offset.Store(updates[len(updates)-1].ID + 1)

	envelopes := make([]domain.Envelope, 0, len(updates))
	for _, u := range updates {
		envelopes = append(envelopes, Classify(u))
	}

	p.logger.WithFields(logging.Fields{
		"event":       "batch_fetched",
		"count":       len(updates),
		"next_offset": p.offset.Load(),
	}).Debug("fetched update batch")

	p.dispatcher.DispatchBatch(ctx, envelopes)
	return nil
}

// Run polls until ctx is cancelled, backing off after failed fetches.
func (p *Poller) Run(ctx context.Context) {
	p.logger.WithFields(logging.Fields{
		"event":           "telegram_listen",
		"allowed_updates": AllowedUpdates,
	}).Info("starting telegram long polling")

	for ctx.Err() == nil {
		err := p.PollOnce(ctx)
		if err == nil {
			p.failures = 0
			continue
		}
		if ctx.Err() != nil {
			break
		}

		p.failures++
		delay := p.nextDelay()
		p.logger.WithFields(logging.Fields{
			"event":    "poll_error",
			"offset":   p.offset.Load(),
			"failures": p.failures,
			"retry_in": delay.String(),
		}).WithError(err).Warn("fetching updates failed")

		if err := p.sleep(ctx, delay); err != nil {
			break
		}
	}

	p.logger.WithField("event", "telegram_stopped").Info("telegram polling stopped")
}

func (p *Poller) nextDelay() time.Duration {
	ceiling := p.backoff.ceiling(p.failures)
	if ceiling <= 0 {
		return 0
	}
	return time.Duration(p.jitter(int64(ceiling)) + 1)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
