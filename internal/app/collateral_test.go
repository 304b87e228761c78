package app

import "testing"

func TestSizeCollateral_LinearDiscountCurve(t *testing.T) {
	// base 20000 kobo, ratio 0.5, 4 slots.
	cases := []struct {
		position int
		want     int64
	}{
		{1, 10000},
		{2, 6667},
		{3, 3333},
		{4, 0},
	}
	for _, tc := range cases {
		got, err := SizeCollateral(20000, 0.5, tc.position, 4)
		if err != nil {
			t.Fatalf("position %d: unexpected error: %v", tc.position, err)
		}
		if got != tc.want {
			t.Errorf("position %d: got %d, want %d", tc.position, got, tc.want)
		}
	}
}

func TestSizeCollateral_MonotonicallyNonIncreasing(t *testing.T) {
	totalSlots := 11
	var prev int64 = 1<<63 - 1
	for pos := 1; pos <= totalSlots; pos++ {
		got, err := SizeCollateral(37500, 0.8, pos, totalSlots)
		if err != nil {
			t.Fatalf("position %d: unexpected error: %v", pos, err)
		}
		if got > prev {
			t.Fatalf("collateral increased from %d to %d at position %d", prev, got, pos)
		}
		prev = got
	}
}

func TestSizeCollateral_Endpoints(t *testing.T) {
	first, err := SizeCollateral(50000, 0.4, 1, 8)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first != 20000 {
		t.Errorf("position 1 should require base*ratio = 20000, got %d", first)
	}

	last, err := SizeCollateral(50000, 0.4, 8, 8)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if last != 0 {
		t.Errorf("anchor position should require 0, got %d", last)
	}
}

func TestSizeCollateral_SingleSlotPool(t *testing.T) {
	got, err := SizeCollateral(20000, 0.5, 1, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Factor is zero when totalSlots <= 1, so full collateral applies.
	if got != 10000 {
		t.Errorf("got %d, want 10000", got)
	}
}

func TestSizeCollateral_RejectsInvalidInput(t *testing.T) {
	cases := []struct {
		name       string
		base       int64
		ratio      float64
		position   int
		totalSlots int
	}{
		{"negative base", -100, 0.5, 1, 4},
		{"zero base", 0, 0.5, 1, 4},
		{"ratio above one", 20000, 1.5, 1, 4},
		{"negative ratio", 20000, -0.1, 1, 4},
		{"zero position", 20000, 0.5, 0, 4},
		{"non-positive slots", 20000, 0.5, 2, 0},
		{"position beyond slots", 20000, 0.5, 5, 4},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := SizeCollateral(tc.base, tc.ratio, tc.position, tc.totalSlots)
			if err == nil {
				t.Fatal("expected a validation error")
			}
			if !IsValidation(err) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}
