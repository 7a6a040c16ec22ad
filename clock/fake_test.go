package clock

import (
	"testing"
	"time"
)

func TestFake_NowAndAdvance(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	f := NewFake(start)

	if !f.Now().Equal(start) {
		t.Errorf("Now() = %v, want %v", f.Now(), start)
	}

	f.Advance(time.Second)
	if got := f.Now().Sub(start); got != time.Second {
		t.Errorf("elapsed = %v, want 1s", got)
	}
}

func TestFake_TickerFiresOnDeadline(t *testing.T) {
	f := NewFake(time.Unix(0, 0))
	ticker := f.NewTicker(time.Minute)
	defer ticker.Stop()

	f.Advance(30 * time.Second)
	select {
	case <-ticker.C():
		t.Fatal("ticker fired before its period elapsed")
	default:
	}

	f.Advance(30 * time.Second)
	select {
	case <-ticker.C():
	default:
		t.Fatal("ticker did not fire after its period elapsed")
	}
}

func TestFake_TickerDropsMissedTicks(t *testing.T) {
	f := NewFake(time.Unix(0, 0))
	ticker := f.NewTicker(time.Second)
	defer ticker.Stop()

	f.Advance(5 * time.Second)
	<-ticker.C()

	select {
	case <-ticker.C():
		t.Fatal("ticker delivered more than one tick for a single Advance")
	default:
	}

	// The next deadline is 6s, so advancing to 5.5s must not fire.
	f.Advance(500 * time.Millisecond)
	select {
	case <-ticker.C():
		t.Fatal("ticker fired before the next deadline")
	default:
	}
}

func TestFake_Stop(t *testing.T) {
	f := NewFake(time.Unix(0, 0))
	ticker := f.NewTicker(time.Second)

	if f.Tickers() != 1 {
		t.Fatalf("Tickers() = %d, want 1", f.Tickers())
	}
	ticker.Stop()
	if f.Tickers() != 0 {
		t.Errorf("Tickers() = %d after Stop, want 0", f.Tickers())
	}

	f.Advance(time.Hour)
	select {
	case <-ticker.C():
		t.Error("stopped ticker fired")
	default:
	}
}
