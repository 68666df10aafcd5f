package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PositionPolicyConfig constrains position creation for one institution and
// region. Nil bounds and an empty currency list mean unrestricted; an absent
// policy row and an empty config are deliberately indistinguishable.
type PositionPolicyConfig struct {
	MinAmount         *decimal.Decimal `json:"minAmount,omitempty"`
	MaxAmount         *decimal.Decimal `json:"maxAmount,omitempty"`
	AllowedCurrencies []string         `json:"allowedCurrencies,omitempty"`
}

// Check validates a position create request against the policy. It returns a
// PolicyViolationError naming the violated bound, or nil when the request is
// admissible.
func (c PositionPolicyConfig) Check(currency string, amount decimal.Decimal) error {
	if c.MinAmount != nil && amount.LessThan(*c.MinAmount) {
		return &PolicyViolationError{
			Rule:   PolicyRuleBelowMinimum,
			Detail: fmt.Sprintf("minAmount=%s", c.MinAmount.String()),
		}
	}
	if c.MaxAmount != nil && amount.GreaterThan(*c.MaxAmount) {
		return &PolicyViolationError{
			Rule:   PolicyRuleAboveMaximum,
			Detail: fmt.Sprintf("maxAmount=%s", c.MaxAmount.String()),
		}
	}
	if len(c.AllowedCurrencies) > 0 {
		allowed := false
		for _, cur := range c.AllowedCurrencies {
			if cur == currency {
				allowed = true
				break
			}
		}
		if !allowed {
			return &PolicyViolationError{
				Rule:   PolicyRuleCurrencyNotAllowed,
				Detail: fmt.Sprintf("allowed=%s currency=%s", strings.Join(c.AllowedCurrencies, ","), currency),
			}
		}
	}
	return nil
}

// InstitutionPolicy is the stored per-(institution, region) policy row. At
// most one row exists per pair; writes use upsert semantics.
type InstitutionPolicy struct {
	ID            string
	InstitutionID string
	Region        Region
	Config        PositionPolicyConfig
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
