package revenue

import (
	"math"
	"testing"
	"time"

	"github.com/enerflow/hybridmpc/core/qp"
)

func block(h, m int) time.Time {
	return time.Date(2025, 6, 1, h, m, 0, 0, time.UTC)
}

func TestDetectWindow(t *testing.T) {
	cases := []struct {
		h, m     int
		want     Window
		adjusted bool
	}{
		{0, 0, Window2, false},
		{5, 45, Window2, false},
		{6, 0, Window2, true},
		{6, 15, Window3, false},
		{8, 45, Window3, false},
		{9, 0, Window1, false},
		{15, 45, Window1, false},
		{16, 0, Window1, true},
		{16, 15, Window3, false},
		{17, 45, Window3, false},
		{18, 0, Window2, true},
		{18, 15, Window2, false},
		{23, 45, Window2, false},
	}
	for _, tc := range cases {
		w, adj, err := DetectWindow(block(tc.h, tc.m))
		if err != nil {
			t.Fatalf("%02d:%02d: %v", tc.h, tc.m, err)
		}
		if w != tc.want || adj != tc.adjusted {
			t.Fatalf("%02d:%02d = %s/%v, want %s/%v", tc.h, tc.m, w, adj, tc.want, tc.adjusted)
		}
	}
}

func TestDetectWindowUnaligned(t *testing.T) {
	if _, _, err := DetectWindow(block(9, 7)); err == nil {
		t.Fatal("expected error for unaligned block")
	}
	if _, _, err := DetectWindow(block(9, 0).Add(30 * time.Second)); err == nil {
		t.Fatal("expected error for sub-minute offset")
	}
}

func TestSettleDaytimeCapped(t *testing.T) {
	st, err := Settle(Interval{
		Start: block(10, 0), EnergyKWh: 120, Rate: 0.2, ContractKWh: 100,
	})
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if st.Window != Window1 || st.Adjusted {
		t.Fatalf("window = %s/%v", st.Window, st.Adjusted)
	}
	// delivery above the contract is capped, never paid
	if st.PayableKWh != 100 || st.Penalty != 0 {
		t.Fatalf("payable = %v penalty = %v", st.PayableKWh, st.Penalty)
	}
	if math.Abs(st.Payment-20) > 1e-9 {
		t.Fatalf("payment = %v, want 20", st.Payment)
	}
}

func TestSettleShortfallPenalty(t *testing.T) {
	st, err := Settle(Interval{
		Start: block(10, 0), EnergyKWh: 80, Rate: 0.2, ContractKWh: 100,
	})
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if st.ShortfallKWh != 20 {
		t.Fatalf("shortfall = %v, want 20", st.ShortfallKWh)
	}
	wantPenalty := 20 * 0.2 * PenaltyRate
	if math.Abs(st.Penalty-wantPenalty) > 1e-9 {
		t.Fatalf("penalty = %v, want %v", st.Penalty, wantPenalty)
	}
	if math.Abs(st.Payment-(80*0.2-wantPenalty)) > 1e-9 {
		t.Fatalf("payment = %v", st.Payment)
	}
}

func TestSettleAdjustedBlock(t *testing.T) {
	st, err := Settle(Interval{
		Start: block(16, 0), EnergyKWh: 150, Rate: 0.2, ContractKWh: 200,
	})
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if !st.Adjusted {
		t.Fatal("16:00 block must carry the adjustment")
	}
	if math.Abs(st.UsedKWh-150*AdjustFactor) > 1e-9 {
		t.Fatalf("used = %v, want %v", st.UsedKWh, 150*AdjustFactor)
	}
}

func TestSettleOvernightUsesPlan(t *testing.T) {
	st, err := Settle(Interval{
		Start: block(2, 0), EnergyKWh: 50, Rate: 0.1, ContractKWh: 999, PlanKWh: 50,
	})
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if st.BaseKWh != 50 {
		t.Fatalf("base = %v, want plan 50", st.BaseKWh)
	}
	if st.Penalty != 0 {
		t.Fatalf("penalty = %v, want 0", st.Penalty)
	}
}

func TestSettleShoulderBase(t *testing.T) {
	st, err := Settle(Interval{
		Start: block(7, 0), EnergyKWh: 10, Rate: 0.1, ContractKWh: 30, PlanKWh: 10,
	})
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if st.BaseKWh != 30 {
		t.Fatalf("base = %v, want contract 30", st.BaseKWh)
	}
	st, err = Settle(Interval{
		Start: block(7, 0), EnergyKWh: 10, Rate: 0.1, ContractKWh: 30, PlanKWh: 10,
		PlanCoversShoulder: true,
	})
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if st.BaseKWh != 10 {
		t.Fatalf("base = %v, want plan 10", st.BaseKWh)
	}
}

func TestProviderTrackScale(t *testing.T) {
	p := NewProvider(qp.Weights{Track: 100, Effort: 0.01}, "fit-test")
	if p.Version() != "fit-test" {
		t.Fatalf("version = %q", p.Version())
	}
	// plain block
	if got, want := p.TrackScale(block(10, 0)), 1+PenaltyRate; math.Abs(got-want) > 1e-12 {
		t.Fatalf("scale = %v, want %v", got, want)
	}
	// adjusted block, including instants inside it
	want := 1 + PenaltyRate*AdjustFactor
	for _, ts := range []time.Time{block(16, 0), block(16, 0).Add(7 * time.Minute)} {
		if got := p.TrackScale(ts); math.Abs(got-want) > 1e-12 {
			t.Fatalf("scale(%v) = %v, want %v", ts, got, want)
		}
	}
}
