package money

import (
	"testing"

	"github.com/shopspring/decimal"
)

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal %q: %v", s, err)
	}
	return d
}

func TestToMinor(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"100.00", 10000},
		{"0.01", 1},
		{"99.999", 10000}, // rounds, never truncates
		{"49.005", 4901},
		{"0", 0},
	}
	for _, c := range cases {
		if got := ToMinor(dec(t, c.in)); got != c.want {
			t.Errorf("ToMinor(%s)=%d, want %d", c.in, got, c.want)
		}
	}
}

func TestFromMinorRoundTrip(t *testing.T) {
	for _, n := range []int64{0, 1, 99, 10000, 123456789} {
		if got := ToMinor(FromMinor(n)); got != n {
			t.Errorf("round trip %d -> %d", n, got)
		}
	}
}

func TestWithinEpsilon(t *testing.T) {
	eps := dec(t, "0.1")
	if !WithinEpsilon(dec(t, "100"), dec(t, "99.95"), eps) {
		t.Errorf("0.05 drift should be inside a 0.1 epsilon")
	}
	if WithinEpsilon(dec(t, "100"), dec(t, "99"), eps) {
		t.Errorf("1.00 drift should be outside a 0.1 epsilon")
	}
	if !WithinEpsilon(dec(t, "100"), dec(t, "100.1"), eps) {
		t.Errorf("epsilon boundary is inclusive")
	}
}

func TestAbsDiffMinor(t *testing.T) {
	if AbsDiffMinor(10000, 9999) != 1 || AbsDiffMinor(9999, 10000) != 1 {
		t.Errorf("AbsDiffMinor is not symmetric")
	}
}
