package schedule

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// Sweeper drives the server-side half of the exam timer: when a timed
// attempt's deadline passes, it is submitted exactly once with whatever
// answers are present, and published exams past an auto_close window are
// archived.
type Sweeper struct {
	store    Store
	interval time.Duration
	cron     *cron.Cron
}

// Store is the subset of the exam store the sweeper drives.
type Store interface {
	ExpiredAttemptIDs(ctx context.Context, now time.Time) ([]string, error)
	ForceSubmit(ctx context.Context, attemptID string) error
	ArchiveEndedExams(ctx context.Context, now time.Time) (int, error)
}

func New(store Store, interval time.Duration) *Sweeper {
	return &Sweeper{store: store, interval: interval, cron: cron.New()}
}

// Start schedules the sweep and begins running it. Stop with Stop.
func (s *Sweeper) Start() error {
	if s.interval <= 0 {
		return nil
	}
	spec := fmt.Sprintf("@every %s", s.interval)
	if _, err := s.cron.AddFunc(spec, func() { s.Sweep(context.Background()) }); err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// Sweep runs one pass. Safe to call concurrently with the schedule: forced
// submission is idempotent store-side.
func (s *Sweeper) Sweep(ctx context.Context) {
	now := time.Now()
	ids, err := s.store.ExpiredAttemptIDs(ctx, now)
	if err != nil {
		log.Printf("sweep: list expired attempts: %v", err)
		return
	}
	for _, id := range ids {
		if err := s.store.ForceSubmit(ctx, id); err != nil {
			log.Printf("sweep: force submit attempt %s: %v", id, err)
		}
	}
	if n, err := s.store.ArchiveEndedExams(ctx, now); err != nil {
		log.Printf("sweep: archive ended exams: %v", err)
	} else if n > 0 {
		log.Printf("sweep: archived %d ended exams", n)
	}
	if len(ids) > 0 {
		log.Printf("sweep: force-submitted %d expired attempts", len(ids))
	}
}
