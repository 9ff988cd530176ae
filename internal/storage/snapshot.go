package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
)

const snapshotLayout = "20060102T150405"

// Snapshotter copies live documents to a backup backend under timestamped names.
type Snapshotter struct {
	source    Backend
	target    Backend
	documents []string
	log       *slog.Logger
	now       func() time.Time
}

func NewSnapshotter(source, target Backend, log *slog.Logger, documents ...string) *Snapshotter {
	if len(documents) == 0 {
		documents = []string{DocumentUsers, DocumentKeys, DocumentAux}
	}
	return &Snapshotter{
		source:    source,
		target:    target,
		documents: documents,
		log:       log,
		now:       time.Now,
	}
}

// SnapshotName is the backup name of a document taken at t.
func SnapshotName(document string, t time.Time) string {
	return fmt.Sprintf("%s-%s", document, t.UTC().Format(snapshotLayout))
}

// Snapshot copies every existing document and reports how many were written.
func (s *Snapshotter) Snapshot(ctx context.Context) (int, error) {
	stamp := s.now()
	copied := 0
	for _, name := range s.documents {
		data, err := s.source.Load(ctx, name)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return copied, fmt.Errorf("snapshot load %s: %w", name, err)
		}
		if err := s.target.Save(ctx, SnapshotName(name, stamp), data); err != nil {
			return copied, fmt.Errorf("snapshot save %s: %w", name, err)
		}
		copied++
	}
	return copied, nil
}

// Start schedules Snapshot every interval until ctx is done.
func (s *Snapshotter) Start(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("snapshot interval must be positive")
	}
	sched, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}
	_, err = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			n, err := s.Snapshot(ctx)
			if err != nil {
				s.log.Error("snapshot failed", "err", err)
				return
			}
			s.log.Info("snapshot written", "documents", n)
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = sched.Shutdown()
		return fmt.Errorf("schedule snapshot: %w", err)
	}
	sched.Start()

	go func() {
		<-ctx.Done()
		if err := sched.Shutdown(); err != nil {
			s.log.Error("snapshot scheduler shutdown", "err", err)
		}
	}()
	s.log.Info("snapshot scheduler started", "interval", interval.String())
	return nil
}
