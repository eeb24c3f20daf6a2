package entitlements

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ManuelReschke/Turbopic/app/models"
)

func TestPlanDeduction(t *testing.T) {
	subs := []models.Subscription{
		{ID: 1, Version: 3, RemainingTokens: 0},
		{ID: 2, Version: 1, RemainingTokens: 0.3},
		{ID: 3, Version: 7, RemainingTokens: 5},
	}

	tests := []struct {
		name      string
		amount    float64
		oneTime   float64
		steps     []deductionStep
		oneTimeBy float64
		shortfall float64
	}{
		{
			name:   "first sub with capacity",
			amount: 0.2, oneTime: 1,
			steps: []deductionStep{{subscriptionID: 2, version: 1, amount: 0.2, remaining: 0.1}},
		},
		{
			name:   "spans subscriptions",
			amount: 1.3, oneTime: 1,
			steps: []deductionStep{
				{subscriptionID: 2, version: 1, amount: 0.3, remaining: 0},
				{subscriptionID: 3, version: 7, amount: 1, remaining: 4},
			},
		},
		{
			name:   "spills into pool with shortfall",
			amount: 7.3, oneTime: 1,
			steps: []deductionStep{
				{subscriptionID: 2, version: 1, amount: 0.3, remaining: 0},
				{subscriptionID: 3, version: 7, amount: 5, remaining: 0},
			},
			oneTimeBy: 1, shortfall: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := planDeduction(subs, tt.oneTime, models.UsageKindTokens, tt.amount)
			assert.Equal(t, tt.steps, p.steps)
			assert.Equal(t, tt.oneTimeBy, p.oneTimeDebit)
			assert.Equal(t, tt.shortfall, p.shortfall)
			assert.GreaterOrEqual(t, p.oneTimeAfter, 0.0)
		})
	}
}

func TestPlanDeductionNegativePool(t *testing.T) {
	p := planDeduction(nil, -4, models.UsageKindProductUnits, 1)
	assert.Equal(t, 0.0, p.oneTimeDebit)
	assert.Equal(t, 0.0, p.oneTimeAfter)
	assert.Equal(t, 1.0, p.shortfall)
}

func TestAttribute(t *testing.T) {
	subs := []models.Subscription{{ID: 4, RemainingTokens: 0}, {ID: 9, RemainingTokens: 1}}
	hint := uint(9)
	empty := uint(4)
	unknown := uint(77)

	assert.Nil(t, attribute(nil, models.UsageKindTokens, &hint))
	assert.Equal(t, uint(4), *attribute(subs, models.UsageKindTokens, nil))
	assert.Equal(t, uint(9), *attribute(subs, models.UsageKindTokens, &hint))
	assert.Equal(t, uint(4), *attribute(subs, models.UsageKindTokens, &empty))
	assert.Equal(t, uint(4), *attribute(subs, models.UsageKindTokens, &unknown))
	assert.Equal(t, uint(4), *attribute(subs, models.UsageKindProductUnits, &hint))
}
