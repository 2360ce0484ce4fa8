package clock

import (
	"testing"
	"time"
)

func TestManual(t *testing.T) {
	base := time.Unix(1700000000, 0)
	m := NewManual(base)

	if !m.Now().Equal(base) {
		t.Errorf("Now = %v, expected %v", m.Now(), base)
	}

	m.Advance(1500 * time.Millisecond)
	if got := m.Now().Sub(base); got != 1500*time.Millisecond {
		t.Errorf("advanced by %v", got)
	}

	m.Set(base)
	if !m.Now().Equal(base) {
		t.Error("Set did not move the clock")
	}
}

func TestStopwatch(t *testing.T) {
	var zero Stopwatch
	if zero.Elapsed() != 0 || zero.Stop() != 0 {
		t.Error("zero stopwatch should report 0")
	}

	sw := StartStopwatch()
	time.Sleep(5 * time.Millisecond)
	d := sw.Stop()
	if d < 5*time.Millisecond {
		t.Errorf("elapsed %v, expected >= 5ms", d)
	}

	// stopped watches do not advance
	time.Sleep(2 * time.Millisecond)
	if sw.Elapsed() != d {
		t.Errorf("Elapsed after Stop = %v, expected %v", sw.Elapsed(), d)
	}

	sw.Start()
	if sw.Elapsed() >= d {
		t.Error("Start should reset elapsed time")
	}
}

func TestSystem(t *testing.T) {
	var c Clock = System{}
	if time.Since(c.Now()) > time.Second {
		t.Error("System clock is off")
	}
}
