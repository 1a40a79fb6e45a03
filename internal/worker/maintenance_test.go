package worker

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestMaintenanceRunsJobsOnStart(t *testing.T) {
	m := NewMaintenance(zerolog.Nop())

	var sweeps, failures atomic.Int32
	if err := m.Every("session_sweep", time.Hour, func() error {
		sweeps.Add(1)
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if err := m.Every("exam_cache_refresh", time.Hour, func() error {
		failures.Add(1)
		return errors.New("database unavailable")
	}); err != nil {
		t.Fatal(err)
	}

	m.Start()
	defer m.Stop()

	deadline := time.Now().Add(5 * time.Second)
	for (sweeps.Load() == 0 || failures.Load() == 0) && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if sweeps.Load() != 1 || failures.Load() != 1 {
		t.Fatalf("sweeps = %d, failures = %d", sweeps.Load(), failures.Load())
	}
}
