package cc

import (
	"math"
	"testing"
	"time"
)

func TestTFRCRateNoLossIsUnbounded(t *testing.T) {
	if r := TFRCRate(1400, 0.1, 0); !math.IsInf(r, 1) {
		t.Fatalf("expected +Inf for p=0, got %v", r)
	}
}

func TestTFRCRateDecreasesWithLoss(t *testing.T) {
	low := TFRCRate(1400, 0.1, 0.01)
	high := TFRCRate(1400, 0.1, 0.1)
	if high >= low {
		t.Fatalf("higher loss rate should yield lower throughput: low=%v high=%v", low, high)
	}
}

func TestTFRCRateDecreasesWithRTT(t *testing.T) {
	fast := TFRCRate(1400, 0.05, 0.02)
	slow := TFRCRate(1400, 0.5, 0.02)
	if slow >= fast {
		t.Fatalf("higher RTT should yield lower throughput: fast=%v slow=%v", fast, slow)
	}
}

func TestClamp(t *testing.T) {
	if got := Clamp(5, 10, 100); got != 10 {
		t.Fatalf("expected clamp to min, got %v", got)
	}
	if got := Clamp(500, 10, 100); got != 100 {
		t.Fatalf("expected clamp to max, got %v", got)
	}
	if got := Clamp(50, 10, 100); got != 50 {
		t.Fatalf("expected unclamped passthrough, got %v", got)
	}
}

func TestLossHistoryNoLossIsZeroRate(t *testing.T) {
	h := NewLossHistory(20)
	for i := 0; i < 100; i++ {
		h.RecordReceived()
	}
	if p := h.LossEventRate(false); p != 0 {
		t.Fatalf("expected zero loss rate, got %v", p)
	}
}

func TestLossHistoryRecordsDistinctEvents(t *testing.T) {
	h := NewLossHistory(4)
	for round := 0; round < 4; round++ {
		for i := 0; i < 10; i++ {
			h.RecordReceived()
		}
		h.RecordLost()
	}
	if len(h.events) == 0 {
		t.Fatal("expected recorded loss events")
	}
	if p := h.LossEventRate(false); p <= 0 || p > 1 {
		t.Fatalf("loss rate out of range: %v", p)
	}
}

func TestLossHistoryConsecutiveLossIsOneEvent(t *testing.T) {
	h := NewLossHistory(10)
	for i := 0; i < 20; i++ {
		h.RecordReceived()
	}
	h.RecordLost()
	h.RecordLost()
	h.RecordLost()
	if len(h.events) != 1 {
		t.Fatalf("expected a single merged loss event, got %d events", len(h.events))
	}
}

func TestLossHistoryIsolatedLossDiscountedInCCLMode(t *testing.T) {
	h := NewLossHistory(10)
	for i := 0; i < 20; i++ {
		h.RecordReceived()
	}
	h.RecordLost()
	for i := 0; i < 20; i++ {
		h.RecordReceived()
	}
	if p := h.LossEventRate(true); p != 0 {
		t.Fatalf("expected isolated single-packet loss to be discounted in CCL mode, got %v", p)
	}
	if p := h.LossEventRate(false); p == 0 {
		t.Fatalf("expected the same loss to count in plain CC mode")
	}
}

func TestControllerFixedModeIgnoresReports(t *testing.T) {
	c := NewController(ModeFixed, 1400, 1000, 1_000_000, 50_000)
	c.Observe(Report{NodeID: 1, RTT: 100 * time.Millisecond, LossRate: 0.5})
	if c.Rate() != 50_000 {
		t.Fatalf("fixed mode must hold the configured rate, got %v", c.Rate())
	}
}

func TestControllerTracksWorstReceiverAsCLR(t *testing.T) {
	c := NewController(ModeCC, 1400, 1000, 10_000_000, 0)
	c.Observe(Report{NodeID: 1, RTT: 50 * time.Millisecond, LossRate: 0.001})
	fastRate := c.Rate()
	c.Observe(Report{NodeID: 2, RTT: 500 * time.Millisecond, LossRate: 0.05})
	if c.CLR() != 2 {
		t.Fatalf("expected node 2 (worse RTT/loss) to become CLR, got %d", c.CLR())
	}
	if c.Rate() >= fastRate {
		t.Fatalf("rate should drop to match the worse receiver: before=%v after=%v", fastRate, c.Rate())
	}
}

func TestControllerForgetRemovesReceiver(t *testing.T) {
	c := NewController(ModeCC, 1400, 1000, 10_000_000, 0)
	c.Observe(Report{NodeID: 1, RTT: 500 * time.Millisecond, LossRate: 0.1})
	c.Forget(1)
	if c.Rate() != c.rateMax {
		t.Fatalf("expected rate to reset to max once all receivers forgotten, got %v", c.Rate())
	}
}

func TestControllerRespectsReceiverRateCap(t *testing.T) {
	c := NewController(ModeCC, 1400, 1000, 10_000_000, 0)
	c.Observe(Report{NodeID: 1, RTT: 10 * time.Millisecond, LossRate: 0.0001, RateCap: 2000})
	if c.Rate() > 2000 {
		t.Fatalf("expected receiver rate cap to bound the session rate, got %v", c.Rate())
	}
}

func TestControllerInterSegmentInterval(t *testing.T) {
	c := NewController(ModeFixed, 1000, 100, 1_000_000, 10_000)
	c.recompute()
	d := c.InterSegmentInterval()
	if d <= 0 {
		t.Fatalf("expected a positive pacing interval, got %v", d)
	}
}
