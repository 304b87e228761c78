package domain

import "testing"

func TestBeneficiarySlotForCycle(t *testing.T) {
	cases := []struct {
		name       string
		cycle      int
		totalSlots int
		want       int
	}{
		{name: "first cycle pays slot one", cycle: 1, totalSlots: 4, want: 1},
		{name: "last slot before wrap", cycle: 4, totalSlots: 4, want: 4},
		{name: "wraps back to slot one", cycle: 5, totalSlots: 4, want: 1},
		{name: "second rotation mid-way", cycle: 7, totalSlots: 4, want: 3},
		{name: "single slot pool always pays slot one", cycle: 9, totalSlots: 1, want: 1},
		{name: "zero slots is invalid", cycle: 3, totalSlots: 0, want: 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := BeneficiarySlotForCycle(tc.cycle, tc.totalSlots); got != tc.want {
				t.Fatalf("BeneficiarySlotForCycle(%d, %d) = %d, want %d", tc.cycle, tc.totalSlots, got, tc.want)
			}
		})
	}
}
