package scheduler

import (
	"context"
	"testing"
)

func TestScheduler_InvalidSpec(t *testing.T) {
	s := New("not a cron spec", func(context.Context) (string, error) { return "", nil })
	if err := s.Start(); err == nil {
		t.Fatal("expected error for invalid spec")
	}
	if s.IsRunning() {
		t.Fatal("scheduler must not run with an invalid spec")
	}
}

func TestScheduler_NotConfigured(t *testing.T) {
	s := New("", nil)
	if err := s.Start(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.IsRunning() {
		t.Fatal("scheduler without a job must not report running")
	}
	s.Stop()
}

func TestScheduler_StartStop(t *testing.T) {
	s := New("0 3 * * *", func(context.Context) (string, error) { return "backups/x.json", nil })
	if err := s.Start(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !s.IsRunning() {
		t.Fatal("expected scheduler to be running")
	}
	s.Stop()
}
