package solana

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToRawAmount(t *testing.T) {
	tests := []struct {
		name     string
		amount   string
		decimals uint8
		want     uint64
		wantErr  bool
	}{
		{name: "whole", amount: "10", decimals: 6, want: 10_000_000},
		{name: "fraction", amount: "2.5", decimals: 6, want: 2_500_000},
		{name: "smallest unit", amount: "0.000001", decimals: 6, want: 1},
		{name: "zero decimals", amount: "7", decimals: 0, want: 7},
		{name: "too precise", amount: "0.0000001", decimals: 6, wantErr: true},
		{name: "zero", amount: "0", decimals: 6, wantErr: true},
		{name: "negative", amount: "-1", decimals: 6, wantErr: true},
		{name: "overflow", amount: "18446744073709551616", decimals: 0, wantErr: true},
		{name: "max u64", amount: "18446744073709551615", decimals: 0, want: 18446744073709551615},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToRawAmount(decimal.RequireFromString(tt.amount), tt.decimals)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidAmount)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFromRawAmount(t *testing.T) {
	assert.True(t, FromRawAmount(12_500_000, 6).Equal(decimal.RequireFromString("12.5")))
	assert.True(t, FromRawAmount(0, 6).IsZero())
	assert.True(t, FromRawAmount(1, 9).Equal(decimal.RequireFromString("0.000000001")))
}

func TestParseAmount(t *testing.T) {
	d, err := ParseAmount("3.25")
	require.NoError(t, err)
	assert.Equal(t, "3.25", d.String())

	_, err = ParseAmount("three")
	assert.ErrorIs(t, err, ErrInvalidAmount)
}
