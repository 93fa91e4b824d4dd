package services

import (
	"context"
	"errors"
	"regexp"
	"testing"
)

func TestSyncRunStartAssignsRunID(t *testing.T) {
	gormDB, state, cleanup := newScriptedGormDB(t, []*queryStep{
		{
			kind:    kindExec,
			pattern: regexp.MustCompile("INSERT INTO `sync_runs`"),
			result:  scriptedResult{lastInsertID: 42, rowsAffected: 1},
		},
	})
	defer cleanup()

	svc := NewSyncRunService(gormDB)

	run, err := svc.Start(context.Background(), SyncRunJobSweep, "manual")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if run.RunID == "" {
		t.Fatal("expected a generated run id")
	}
	if run.Status != SyncRunStatusRunning {
		t.Fatalf("expected running status, got %s", run.Status)
	}
	if run.JobType != SyncRunJobSweep || run.TriggerSource != "manual" {
		t.Fatalf("unexpected run fields: %+v", run)
	}
	if err := state.verifyComplete(); err != nil {
		t.Fatal(err)
	}
}

func TestSyncRunStartDefaultsUnknownTrigger(t *testing.T) {
	gormDB, _, cleanup := newScriptedGormDB(t, []*queryStep{
		{
			kind:    kindExec,
			pattern: regexp.MustCompile("INSERT INTO `sync_runs`"),
			result:  scriptedResult{lastInsertID: 43, rowsAffected: 1},
		},
	})
	defer cleanup()

	run, err := NewSyncRunService(gormDB).Start(context.Background(), SyncRunJobBackfill, "")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if run.TriggerSource != "unknown" {
		t.Fatalf("expected unknown trigger, got %s", run.TriggerSource)
	}
}

func TestMarkSuccessOnMissingRun(t *testing.T) {
	gormDB, state, cleanup := newScriptedGormDB(t, []*queryStep{
		{
			kind:    kindExec,
			pattern: regexp.MustCompile("UPDATE `sync_runs`"),
			result:  scriptedResult{rowsAffected: 0},
		},
	})
	defer cleanup()

	err := NewSyncRunService(gormDB).MarkSuccess(context.Background(), 999, &SyncSummary{})
	if !errors.Is(err, ErrSyncRunNotFound) {
		t.Fatalf("expected ErrSyncRunNotFound, got %v", err)
	}
	if err := state.verifyComplete(); err != nil {
		t.Fatal(err)
	}
}
