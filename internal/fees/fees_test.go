package fees

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestBreakdown(t *testing.T) {
	calc := New()

	tests := []struct {
		name      string
		gross     string
		platform  string
		processor string
		net       string
	}{
		{"standard milestone", "5000.00", "400.00", "145.30", "4454.70"},
		{"small amount", "10.00", "0.80", "0.59", "8.61"},
		{"sub-dollar", "0.50", "0.04", "0.31", "0.15"},
		{"zero", "0.00", "0.00", "0.30", "-0.30"},
		{"rounding half up", "33.33", "2.67", "1.27", "29.39"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := calc.Breakdown(dec(tt.gross))
			if err != nil {
				t.Fatalf("Breakdown(%s) error: %v", tt.gross, err)
			}
			if !b.PlatformFee.Equal(dec(tt.platform)) {
				t.Errorf("platform fee = %s, want %s", b.PlatformFee, tt.platform)
			}
			if !b.ProcessorFee.Equal(dec(tt.processor)) {
				t.Errorf("processor fee = %s, want %s", b.ProcessorFee, tt.processor)
			}
			if !b.NetAmount.Equal(dec(tt.net)) {
				t.Errorf("net = %s, want %s", b.NetAmount, tt.net)
			}
			// The parts must reconcile exactly against the gross.
			sum := b.PlatformFee.Add(b.ProcessorFee).Add(b.NetAmount)
			if !sum.Equal(b.GrossAmount) {
				t.Errorf("platform+processor+net = %s, want gross %s", sum, b.GrossAmount)
			}
		})
	}
}

func TestBreakdownNegative(t *testing.T) {
	calc := New()
	if _, err := calc.Breakdown(dec("-1.00")); !errors.Is(err, ErrNegativeAmount) {
		t.Fatalf("Breakdown(-1) error = %v, want ErrNegativeAmount", err)
	}
	if _, err := calc.PlatformFee(dec("-0.01")); !errors.Is(err, ErrNegativeAmount) {
		t.Fatalf("PlatformFee(-0.01) error = %v, want ErrNegativeAmount", err)
	}
	if _, err := calc.ProcessorFee(dec("-0.01")); !errors.Is(err, ErrNegativeAmount) {
		t.Fatalf("ProcessorFee(-0.01) error = %v, want ErrNegativeAmount", err)
	}
}

func TestNetAmount(t *testing.T) {
	calc := New()
	net, err := calc.NetAmount(dec("5000.00"))
	if err != nil {
		t.Fatalf("NetAmount error: %v", err)
	}
	if !net.Equal(dec("4454.70")) {
		t.Errorf("net = %s, want 4454.70", net)
	}
}

func TestCustomRates(t *testing.T) {
	calc := NewWithRates(dec("0.10"), dec("0.02"), dec("0.50"))
	b, err := calc.Breakdown(dec("100.00"))
	if err != nil {
		t.Fatalf("Breakdown error: %v", err)
	}
	if !b.PlatformFee.Equal(dec("10.00")) {
		t.Errorf("platform fee = %s, want 10.00", b.PlatformFee)
	}
	if !b.ProcessorFee.Equal(dec("2.50")) {
		t.Errorf("processor fee = %s, want 2.50", b.ProcessorFee)
	}
	if !b.NetAmount.Equal(dec("87.50")) {
		t.Errorf("net = %s, want 87.50", b.NetAmount)
	}
}
