package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func TestPolicyCheckBounds(t *testing.T) {
	cfg := PositionPolicyConfig{
		MinAmount:         decPtr("200000"),
		AllowedCurrencies: []string{"EUR"},
	}

	err := cfg.Check("EUR", decimal.NewFromInt(100000))
	require.Error(t, err)
	var violation *PolicyViolationError
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, PolicyRuleBelowMinimum, violation.Rule)
	assert.Contains(t, violation.Detail, "200000")

	err = cfg.Check("USD", decimal.NewFromInt(250000))
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, PolicyRuleCurrencyNotAllowed, violation.Rule)

	require.NoError(t, cfg.Check("EUR", decimal.NewFromInt(250000)))
}

func TestPolicyCheckMaxAmount(t *testing.T) {
	cfg := PositionPolicyConfig{MaxAmount: decPtr("1000000")}

	err := cfg.Check("USD", decimal.RequireFromString("1000000.01"))
	var violation *PolicyViolationError
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, PolicyRuleAboveMaximum, violation.Rule)

	require.NoError(t, cfg.Check("USD", decimal.NewFromInt(1000000)))
}

func TestPolicyCheckUnrestricted(t *testing.T) {
	// An empty config behaves exactly like no policy at all.
	cfg := PositionPolicyConfig{}
	require.NoError(t, cfg.Check("JPY", decimal.NewFromInt(1)))
	require.NoError(t, cfg.Check("XXX", decimal.RequireFromString("99999999999")))
}
