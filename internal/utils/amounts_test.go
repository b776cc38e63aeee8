package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"100", 100, true},
		{" 2,343.24 ", 2343.24, true},
		{"₹ 50", 50, true},
		{"Rs. 1,165.00", 1165, true},
		{"-12.5", -12.5, true},
		{"", 0, false},
		{"N/A", 0, false},
		{"NaN", 0, false},
		{"Inf", 0, false},
		{"12abc", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseAmount(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "175.00", FormatAmount(175))
	assert.Equal(t, "192.50", FormatAmount(175*1.10))
	assert.Equal(t, "225.50", FormatAmount(205*1.10))
	assert.Equal(t, "0.00", FormatAmount(0))
}

func TestDisplayAmount(t *testing.T) {
	assert.Equal(t, "-", DisplayAmount(""))
	assert.Equal(t, "-", DisplayAmount("N/A"))
	assert.Equal(t, "3814.51", DisplayAmount(" 3814.51"))
}

func TestAmountOrZero(t *testing.T) {
	assert.Equal(t, 0.0, AmountOrZero("pending"))
	assert.Equal(t, 25.0, AmountOrZero("25"))
}
