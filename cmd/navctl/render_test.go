package main

import (
	"bytes"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/nav-engine/nav"
	"github.com/warp/nav-engine/valuation"
)

func TestINR(t *testing.T) {
	tests := []struct {
		amount string
		want   string
	}{
		{"500", "₹500.00"},
		{"1234.567", "₹1,234.57"},
		{"0", "₹0.00"},
		{"-50", "-₹50.00"},
	}
	for _, tt := range tests {
		t.Run(tt.amount, func(t *testing.T) {
			assert.Equal(t, tt.want, inr(decimal.RequireFromString(tt.amount)))
		})
	}
}

func TestRenderValue(t *testing.T) {
	report := &valuation.ValueReport{
		TotalInvestment:   decimal.RequireFromString("450"),
		CurrentValue:      decimal.RequireFromString("500"),
		ProfitLoss:        decimal.RequireFromString("50"),
		ProfitLossPercent: decimal.RequireFromString("11.1111"),
		AsOn:              "05/03/2024",
		Holdings: []valuation.ValueLine{{
			Code:          100,
			Name:          "Alpha Growth",
			Units:         decimal.RequireFromString("10"),
			Price:         decimal.RequireFromString("50"),
			CurrentValue:  decimal.RequireFromString("500"),
			InvestedValue: decimal.RequireFromString("450"),
			ProfitLoss:    decimal.RequireFromString("50"),
			NavDate:       "04-03-2024",
			Priced:        true,
		}},
	}

	var buf bytes.Buffer
	require.NoError(t, renderValue(&buf, report))
	out := buf.String()

	assert.Contains(t, out, "50.0000")
	assert.Contains(t, out, "₹450.00")
	assert.Contains(t, out, "(11.11%)")
	assert.Contains(t, out, "05/03/2024")
}

func TestRenderHistory(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, renderHistory(&buf, &valuation.HistoryReport{
		Code:       100,
		Name:       "Alpha Growth",
		CurrentNAV: decimal.RequireFromString("12.5"),
		AsOn:       "04-03-2024",
		History: []valuation.HistoryPoint{
			{Date: nav.NewNavDate(2024, 3, 4), Price: decimal.RequireFromString("12.5")},
		},
	}))
	assert.Contains(t, buf.String(), "04-03-2024  12.5000")

	buf.Reset()
	require.NoError(t, renderHistory(&buf, &valuation.HistoryReport{Code: 7, AsOn: valuation.NotAvailable}))
	assert.Contains(t, buf.String(), "no history available")
}
