package services

import (
	"context"
	"errors"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// ErrSyncAlreadyRunning means a trigger arrived while a sweep was in progress.
// The trigger is skipped, never queued.
var ErrSyncAlreadyRunning = errors.New("sync run already in progress")

type sweepRunner interface {
	Run(ctx context.Context, trigger string) (*SyncSummary, error)
}

// SyncScheduler fires one sweep per day at a fixed local time and owns the
// single-flight guarantee: at most one run, scheduled or manual, at a time.
type SyncScheduler struct {
	runner  sweepRunner
	running atomic.Bool
	loc     *time.Location
	hour    int
	minute  int
}

// NewSyncScheduler builds a scheduler around the given runner. The daily fire
// time comes from SYNC_HOUR/SYNC_MINUTE in the service time zone.
func NewSyncScheduler(runner sweepRunner) *SyncScheduler {
	if runner == nil {
		runner = NewSyncService(nil, nil)
	}
	return &SyncScheduler{
		runner: runner,
		loc:    ServiceLocation(),
		hour:   envClock("SYNC_HOUR", 6, 23),
		minute: envClock("SYNC_MINUTE", 0, 59),
	}
}

// TryRun executes a sweep unless one is already in progress. The compare-and-
// swap is the single-flight gate for both scheduled and manual triggers.
func (s *SyncScheduler) TryRun(ctx context.Context, trigger string) (*SyncSummary, error) {
	if !s.running.CompareAndSwap(false, true) {
		log.Printf("sync trigger %q skipped: run already in progress", trigger)
		return nil, ErrSyncAlreadyRunning
	}
	defer s.running.Store(false)
	return s.runner.Run(ctx, trigger)
}

// Running reports whether a sweep is currently in progress.
func (s *SyncScheduler) Running() bool {
	return s.running.Load()
}

// Start launches the daily trigger loop. It returns immediately; the loop
// stops when ctx is canceled.
func (s *SyncScheduler) Start(ctx context.Context) {
	go func() {
		for {
			next := s.nextRunAfter(time.Now().In(s.loc))
			log.Printf("scheduler: next sweep at %s", next.Format(time.RFC3339))

			timer := time.NewTimer(time.Until(next))
			select {
			case <-ctx.Done():
				timer.Stop()
				log.Printf("scheduler: stopped")
				return
			case <-timer.C:
			}

			if _, err := s.TryRun(ctx, "schedule"); err != nil && !errors.Is(err, ErrSyncAlreadyRunning) {
				log.Printf("scheduled sweep failed: %v", err)
			}
		}
	}()
}

// nextRunAfter returns the first configured fire time strictly after now.
// Pure so the schedule can be tested without waiting.
func (s *SyncScheduler) nextRunAfter(now time.Time) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), s.hour, s.minute, 0, 0, s.loc)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func envClock(key string, fallback, max int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val < 0 || val > max {
		return fallback
	}
	return val
}

var (
	schedulerOnce   sync.Once
	sharedScheduler *SyncScheduler
)

// SharedScheduler is the process-wide scheduler used by both the HTTP trigger
// surface and the cron loop, so they share one single-flight gate.
func SharedScheduler() *SyncScheduler {
	schedulerOnce.Do(func() {
		sharedScheduler = NewSyncScheduler(nil)
	})
	return sharedScheduler
}
