package money

import (
	"testing"

	"github.com/chatloop/chatloop-backend/pkg/enums"
)

func TestDisplay(t *testing.T) {
	tests := []struct {
		amount int64
		want   string
	}{
		{amount: 0, want: "0.00"},
		{amount: 5, want: "0.05"},
		{amount: 250, want: "2.50"},
		{amount: 100000, want: "1000.00"},
	}
	for _, tt := range tests {
		m := New(tt.amount, enums.CurrencyUSD)
		if got := m.Display(); got != tt.want {
			t.Fatalf("Display(%d) = %q, want %q", tt.amount, got, tt.want)
		}
	}
}

func TestStringIncludesCurrency(t *testing.T) {
	m := New(199, enums.CurrencyEUR)
	if got := m.String(); got != "1.99 EUR" {
		t.Fatalf("unexpected String(): %q", got)
	}
}

func TestValidate(t *testing.T) {
	if err := New(100, enums.CurrencyUSD).Validate(); err != nil {
		t.Fatalf("valid money should pass: %v", err)
	}
	if err := New(-1, enums.CurrencyUSD).Validate(); err == nil {
		t.Fatal("negative amount should fail validation")
	}
	if err := New(100, "XX").Validate(); err == nil {
		t.Fatal("unknown currency should fail validation")
	}
	if !Zero(enums.CurrencyUSD).IsZero() {
		t.Fatal("Zero should be zero")
	}
}
