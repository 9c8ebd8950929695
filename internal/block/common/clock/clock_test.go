package clock

import (
	"testing"
	"time"
)

func TestRealClock_IsUTCAndCurrent(t *testing.T) {
	before := time.Now().Add(-time.Second)
	now := RealClock{}.Now()
	if now.Location() != time.UTC {
		t.Errorf("expected UTC location, got %v", now.Location())
	}
	if now.Before(before) || now.After(time.Now().Add(time.Second)) {
		t.Errorf("RealClock.Now() = %v out of expected window", now)
	}
}

func TestMockClock_Advance(t *testing.T) {
	start := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	c := &MockClock{CurrentTime: start}
	if !c.Now().Equal(start) {
		t.Fatalf("Now() = %v, want %v", c.Now(), start)
	}
	c.Advance(90 * time.Second)
	if want := start.Add(90 * time.Second); !c.Now().Equal(want) {
		t.Errorf("after Advance Now() = %v, want %v", c.Now(), want)
	}
	c.Advance(-30 * time.Second)
	if want := start.Add(60 * time.Second); !c.Now().Equal(want) {
		t.Errorf("after negative Advance Now() = %v, want %v", c.Now(), want)
	}
}
