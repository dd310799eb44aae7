package workers

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestEvery(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var runs atomic.Int32

	done := make(chan error, 1)
	go func() {
		done <- Every(ctx, "test", 5*time.Millisecond, func(ctx context.Context) error {
			if runs.Add(1) >= 3 {
				cancel()
			}
			return errors.New("keeps going")
		})
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Every returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Every did not stop after cancel")
	}
	if n := runs.Load(); n < 3 {
		t.Errorf("runs = %d, want at least 3", n)
	}
}

func TestEvery_Disabled(t *testing.T) {
	called := false
	err := Every(context.Background(), "off", 0, func(ctx context.Context) error {
		called = true
		return nil
	})
	if err != nil || called {
		t.Errorf("disabled job ran: called=%v err=%v", called, err)
	}
}
