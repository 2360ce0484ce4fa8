package testing

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"
)

func TestGoroutineTestCollects(t *testing.T) {
	gt := NewGoroutineTest(t)

	var n atomic.Int32
	for i := 0; i < 10; i++ {
		gt.Go(func() error {
			n.Add(1)
			return nil
		})
	}
	gt.Wait()

	if n.Load() != 10 {
		t.Errorf("expected 10 runs, got %d", n.Load())
	}
}

func TestGoroutineTestContext(t *testing.T) {
	gt := NewGoroutineTestWithTimeout(t, time.Second)

	gt.GoWithContext(func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})
	gt.Cancel()
	gt.Wait()

	if gt.Context().Err() == nil {
		t.Error("context should be done after Cancel")
	}
}

func TestWithTimeout(t *testing.T) {
	if err := WithTimeout(time.Second, func() error { return nil }); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	want := fmt.Errorf("boom")
	if err := WithTimeout(time.Second, func() error { return want }); err != want {
		t.Errorf("got %v, want %v", err, want)
	}

	err := WithTimeout(10*time.Millisecond, func() error {
		time.Sleep(200 * time.Millisecond)
		return nil
	})
	if err == nil {
		t.Error("expected timeout")
	}
}

func TestEventually(t *testing.T) {
	var n atomic.Int32
	err := Eventually(time.Second, time.Millisecond, func() bool {
		return n.Add(1) >= 3
	})
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	if err := Eventually(20*time.Millisecond, 5*time.Millisecond, func() bool { return false }); err == nil {
		t.Error("expected error for condition never met")
	}
}
