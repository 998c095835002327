package calibration

import (
	"errors"
	"math"
	"testing"
)

func intPtr(v int) *int    { return &v }
func boolPtr(v bool) *bool { return &v }

func TestAngleToPulse_Default(t *testing.T) {
	c := DefaultChannel()

	tests := []struct {
		deg  float64
		want int
	}{
		{-90, 1000},
		{-45, 1250},
		{0, 1500},
		{45, 1750},
		{90, 2000},
		{10, 1556}, // 1555.56 rounds up
	}

	for _, tt := range tests {
		if got := c.AngleToPulse(tt.deg); got != tt.want {
			t.Errorf("AngleToPulse(%v) = %d, want %d", tt.deg, got, tt.want)
		}
	}
}

func TestAngleToPulse_ClampIdempotent(t *testing.T) {
	channels := []Channel{
		DefaultChannel(),
		{MinUS: 600, MaxUS: 2400, OffsetUS: 0},
		{MinUS: 1100, MaxUS: 1900, OffsetUS: -40, Invert: true},
		{MinUS: 0, MaxUS: 5000, OffsetUS: 300},
	}

	for _, c := range channels {
		for a := -400.0; a <= 400.0; a += 7.5 {
			want := c.AngleToPulse(ClampAngle(a))
			got := c.AngleToPulse(a)
			if got != want {
				t.Fatalf("%+v: AngleToPulse(%v) = %d, clamped gives %d", c, a, got, want)
			}
			if got < SafetyMinUS || got > SafetyMaxUS {
				t.Fatalf("%+v: pulse %d outside safety band", c, got)
			}
		}
	}
}

func TestAngleToPulse_SafetyBand(t *testing.T) {
	c := Channel{MinUS: 100, MaxUS: 3000}
	if got := c.AngleToPulse(-90); got != SafetyMinUS {
		t.Errorf("min = %d, want %d", got, SafetyMinUS)
	}
	if got := c.AngleToPulse(90); got != SafetyMaxUS {
		t.Errorf("max = %d, want %d", got, SafetyMaxUS)
	}
}

func TestAngleToPulse_OffsetAppliedAfterRounding(t *testing.T) {
	c := Channel{MinUS: 1000, MaxUS: 2000, OffsetUS: 25}
	if got := c.AngleToPulse(0); got != 1525 {
		t.Errorf("AngleToPulse(0) = %d, want 1525", got)
	}
}

func TestAngleToPulse_InvertMirrors(t *testing.T) {
	plain := DefaultChannel()
	inv := plain
	inv.Invert = true

	for a := -90.0; a <= 90.0; a += 15 {
		if got, want := inv.AngleToPulse(a), plain.AngleToPulse(-a); got != want {
			t.Errorf("inverted(%v) = %d, want %d", a, got, want)
		}
	}
}

func TestClampAngle_NaN(t *testing.T) {
	if got := ClampAngle(math.NaN()); got != 0 {
		t.Errorf("ClampAngle(NaN) = %v, want 0", got)
	}
}

func TestPulseToTick(t *testing.T) {
	tests := []struct {
		us   int
		hz   float64
		want int
	}{
		{1500, 50, 307},
		{800, 50, 164},
		{2200, 50, 451},
		{1000, 60, 246},
		{0, 50, 0},
		{30000, 50, Resolution - 1},
		{-10, 50, 0},
		{1500, 0, 307}, // invalid frequency falls back to default
	}

	for _, tt := range tests {
		if got := PulseToTick(tt.us, tt.hz); got != tt.want {
			t.Errorf("PulseToTick(%d, %v) = %d, want %d", tt.us, tt.hz, got, tt.want)
		}
	}
}

func TestValidFrequency(t *testing.T) {
	for hz, want := range map[float64]bool{39.9: false, 40: true, 50: true, 60: true, 60.5: false} {
		if got := ValidFrequency(hz); got != want {
			t.Errorf("ValidFrequency(%v) = %v, want %v", hz, got, want)
		}
	}
}

func TestTable_UpdatePartial(t *testing.T) {
	tbl := NewTable()

	if err := tbl.Update(2, Patch{OffsetUS: intPtr(-30)}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	c, err := tbl.Channel(2)
	if err != nil {
		t.Fatalf("Channel: %v", err)
	}
	want := Channel{MinUS: 1000, MaxUS: 2000, OffsetUS: -30}
	if c != want {
		t.Errorf("channel 2 = %+v, want %+v", c, want)
	}

	if err := tbl.Update(2, Patch{MaxUS: intPtr(1900), Invert: boolPtr(true)}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	want = Channel{MinUS: 1000, MaxUS: 1900, OffsetUS: -30, Invert: true}
	if tbl[2] != want {
		t.Errorf("channel 2 = %+v, want %+v", tbl[2], want)
	}

	if tbl[1] != DefaultChannel() {
		t.Errorf("channel 1 modified: %+v", tbl[1])
	}
}

func TestTable_BadChannel(t *testing.T) {
	tbl := NewTable()
	for _, ch := range []int{-1, NumChannels, 99} {
		if err := tbl.Update(ch, Patch{Invert: boolPtr(true)}); !errors.Is(err, ErrBadChannel) {
			t.Errorf("Update(%d) error = %v, want ErrBadChannel", ch, err)
		}
		if _, err := tbl.Channel(ch); !errors.Is(err, ErrBadChannel) {
			t.Errorf("Channel(%d) error = %v, want ErrBadChannel", ch, err)
		}
	}
}

func TestTable_InvertScenario(t *testing.T) {
	tbl := NewTable()
	before := tbl.Pulses([NumChannels]float64{-90})[0]

	if err := tbl.Update(0, Patch{Invert: boolPtr(true)}); err != nil {
		t.Fatal(err)
	}
	after := tbl.Pulses([NumChannels]float64{90})[0]

	if after != before {
		t.Errorf("inverted +90 pulse = %d, want %d", after, before)
	}
}
