// internal/outcome/outcome.go
package outcome

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Outcome is one registered player's result in a finished game.
type Outcome struct {
	Identity       uuid.UUID
	RoomCode       string
	Score          int
	CorrectCount   int
	TotalQuestions int
	CategoryID     *int
	Language       string
	Difficulty     string
	Rank           int
	PlayedAt       time.Time
}

// Store folds outcomes into long-lived user statistics.
type Store interface {
	RecordOutcome(ctx context.Context, o Outcome) error
}

// Result counts how many outcomes were written.
type Result struct {
	Recorded int
	Failed   int
}

// Persister writes game outcomes. A nil *Persister is valid and records nothing.
type Persister struct {
	store   Store
	logger  *logrus.Logger
	timeout time.Duration

	pending sync.WaitGroup
}

// NewPersister returns a persister that gives every write its own timeout.
func NewPersister(store Store, logger *logrus.Logger, timeout time.Duration) *Persister {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Persister{store: store, logger: logger, timeout: timeout}
}

// Persist records every outcome. Failures are logged and counted, never returned:
// a game that already ended must not be affected by the statistics store.
func (p *Persister) Persist(ctx context.Context, outcomes []Outcome) Result {
	var res Result
	if p == nil || p.store == nil {
		return res
	}
	for _, o := range outcomes {
		if o.Identity == uuid.Nil {
			continue
		}
		wctx, cancel := context.WithTimeout(ctx, p.timeout)
		err := p.store.RecordOutcome(wctx, o)
		cancel()
		if err != nil {
			res.Failed++
			p.logger.WithFields(logrus.Fields{
				"room":     o.RoomCode,
				"identity": o.Identity,
			}).WithError(err).Warn("failed to record game outcome")
			continue
		}
		res.Recorded++
	}
	if res.Recorded+res.Failed > 0 {
		p.logger.WithFields(logrus.Fields{
			"recorded": res.Recorded,
			"failed":   res.Failed,
		}).Debug("game outcomes persisted")
	}
	return res
}

// PersistAsync runs Persist in the background. Wait blocks until every
// background write has finished.
func (p *Persister) PersistAsync(outcomes []Outcome) {
	if p == nil || p.store == nil {
		return
	}
	p.pending.Add(1)
	go func() {
		defer p.pending.Done()
		p.Persist(context.Background(), outcomes)
	}()
}

// Wait blocks until background writes are done or ctx expires.
func (p *Persister) Wait(ctx context.Context) error {
	if p == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		p.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
