package emulator

import (
	"math"
	"testing"
	"time"
)

var start = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func testBESS() *BESS {
	return NewBESS(BESSConfig{
		CapacityKWh:    100,
		SoCInit:        0.5,
		SoCMin:         0.1,
		SoCMax:         0.9,
		ChargeMaxKW:    50,
		DischargeMaxKW: 50,
		EtaCharge:      1,
		EtaDischarge:   1,
		Resolution:     time.Second,
	}, start)
}

func TestBESSDischargeUpdatesSoC(t *testing.T) {
	b := testBESS()
	st := b.Step(40, time.Hour)
	if st.Clamped {
		t.Fatal("in-range setpoint must not clamp")
	}
	if st.PowerKW != 40 {
		t.Fatalf("power = %v, want 40", st.PowerKW)
	}
	if math.Abs(st.SoC-0.1) > 1e-9 {
		t.Fatalf("soc = %v, want 0.1", st.SoC)
	}
}

func TestBESSPowerClamp(t *testing.T) {
	b := testBESS()
	st := b.Step(120, time.Second)
	if !st.Clamped {
		t.Fatal("expected clamp above discharge limit")
	}
	if st.PowerKW != 50 {
		t.Fatalf("power = %v, want 50", st.PowerKW)
	}
	st = b.Step(-120, time.Second)
	if !st.Clamped || st.PowerKW != -50 {
		t.Fatalf("charge clamp = %+v, want -50 clamped", st)
	}
}

func TestBESSSoCFloorLimitsDischarge(t *testing.T) {
	b := testBESS()
	// 50 kW for an hour would need 50 kWh but only 40 kWh sit above the floor
	st := b.Step(50, time.Hour)
	if !st.Clamped {
		t.Fatal("expected clamp at the SoC floor")
	}
	if math.Abs(st.PowerKW-40) > 1e-9 {
		t.Fatalf("power = %v, want 40", st.PowerKW)
	}
	if math.Abs(st.SoC-0.1) > 1e-9 {
		t.Fatalf("soc = %v, want floor 0.1", st.SoC)
	}
	// fully drained to the floor: further discharge delivers nothing
	st = b.Step(10, time.Hour)
	if math.Abs(st.PowerKW) > 1e-9 {
		t.Fatalf("power at floor = %v, want 0", st.PowerKW)
	}
}

func TestBESSSoCCeilingLimitsCharge(t *testing.T) {
	b := testBESS()
	st := b.Step(-50, time.Hour)
	if !st.Clamped {
		t.Fatal("expected clamp at the SoC ceiling")
	}
	if math.Abs(st.PowerKW+40) > 1e-9 {
		t.Fatalf("power = %v, want -40", st.PowerKW)
	}
	if math.Abs(st.SoC-0.9) > 1e-9 {
		t.Fatalf("soc = %v, want ceiling 0.9", st.SoC)
	}
}

func TestBESSEfficiencyLosses(t *testing.T) {
	b := NewBESS(BESSConfig{
		CapacityKWh: 100, SoCInit: 0.5, SoCMin: 0, SoCMax: 1,
		ChargeMaxKW: 50, DischargeMaxKW: 50,
		EtaCharge: 0.9, EtaDischarge: 0.9,
	}, start)
	// delivering 9 kWh AC drains 10 kWh from the cells
	st := b.Step(9, time.Hour)
	if math.Abs(st.SoC-0.4) > 1e-9 {
		t.Fatalf("soc after discharge = %v, want 0.4", st.SoC)
	}
	// absorbing 10 kWh AC stores only 9 kWh
	st = b.Step(-10, time.Hour)
	if math.Abs(st.SoC-0.49) > 1e-9 {
		t.Fatalf("soc after charge = %v, want 0.49", st.SoC)
	}
}

func TestBESSRampLimit(t *testing.T) {
	b := NewBESS(BESSConfig{
		CapacityKWh: 100, SoCInit: 0.5, SoCMin: 0, SoCMax: 1,
		ChargeMaxKW: 50, DischargeMaxKW: 50,
		EtaCharge: 1, EtaDischarge: 1,
		RampKWPerMin: 10,
	}, start)
	st := b.Step(50, time.Minute)
	if !st.Clamped || math.Abs(st.PowerKW-10) > 1e-9 {
		t.Fatalf("first step = %+v, want 10 clamped", st)
	}
	st = b.Step(50, time.Minute)
	if math.Abs(st.PowerKW-20) > 1e-9 {
		t.Fatalf("second step = %v, want 20", st.PowerKW)
	}
}
