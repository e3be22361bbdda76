package outcome

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

type fakeStore struct {
	mu       sync.Mutex
	recorded []Outcome
	failFor  uuid.UUID
}

func (f *fakeStore) RecordOutcome(ctx context.Context, o Outcome) error {
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("expected a deadline")
	}
	if o.Identity == f.failFor {
		return errors.New("boom")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recorded = append(f.recorded, o)
	return nil
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestPersistCountsFailuresAndSkipsGuests(t *testing.T) {
	bad := uuid.New()
	store := &fakeStore{failFor: bad}
	p := NewPersister(store, quietLogger(), time.Second)

	res := p.Persist(context.Background(), []Outcome{
		{Identity: uuid.New(), Score: 300},
		{Identity: uuid.Nil, Score: 100},
		{Identity: bad, Score: 50},
	})

	assert.Equal(t, Result{Recorded: 1, Failed: 1}, res)
	assert.Len(t, store.recorded, 1)
	assert.Equal(t, 300, store.recorded[0].Score)
}

func TestNilPersisterIsNoop(t *testing.T) {
	var p *Persister
	assert.Equal(t, Result{}, p.Persist(context.Background(), []Outcome{{Identity: uuid.New()}}))
}

type slowStore struct {
	release chan struct{}
	fakeStore
}

func (s *slowStore) RecordOutcome(ctx context.Context, o Outcome) error {
	<-s.release
	return s.fakeStore.RecordOutcome(ctx, o)
}

func TestWaitCoversBackgroundWrites(t *testing.T) {
	store := &slowStore{release: make(chan struct{})}
	p := NewPersister(store, quietLogger(), time.Second)

	p.PersistAsync([]Outcome{{Identity: uuid.New(), Score: 10}})

	short, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Wait(short), context.DeadlineExceeded)

	close(store.release)
	assert.NoError(t, p.Wait(context.Background()))
	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Len(t, store.recorded, 1)
}

func TestNilPersisterWaitReturns(t *testing.T) {
	var p *Persister
	p.PersistAsync([]Outcome{{Identity: uuid.New()}})
	assert.NoError(t, p.Wait(context.Background()))
}
