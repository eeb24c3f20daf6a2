package entitlements

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/Turbopic/app/models"
)

func TestDeductWithinAvailable(t *testing.T) {
	amounts := []float64{0.1, 1, 30, 99.9, 100, 120}
	for _, amount := range amounts {
		t.Run(fmt.Sprintf("amount %.1f", amount), func(t *testing.T) {
			f := newFixture(t, 20, 0)
			ctx := context.Background()
			older := f.addSub(t, models.SubscriptionStatusActive, 50, 0)
			newer := f.addSub(t, models.SubscriptionStatusActive, 50, 0)
			calc := f.calculator()
			before := calc.AvailableTokens(ctx, f.user.ID)
			require.Equal(t, 120.0, before)

			receipt, err := f.engine(EngineConfig{MaxAttempts: 3}).DeductTokens(ctx, f.user.ID, amount, UsageContext{Action: "generate"})
			require.NoError(t, err)

			assert.InDelta(t, before-amount, calc.AvailableTokens(ctx, f.user.ID), 1e-9)
			var debited float64
			for _, d := range receipt.Debits {
				debited += d.Amount
			}
			assert.InDelta(t, amount, debited+receipt.OneTimeDebit, 1e-9)
			assert.Equal(t, 0.0, receipt.Shortfall)

			// oldest subscription is drained first
			if amount <= 50 {
				assert.InDelta(t, 50-amount, f.remaining(t, older.ID, models.UsageKindTokens), 1e-9)
				assert.Equal(t, 50.0, f.remaining(t, newer.ID, models.UsageKindTokens))
			}
		})
	}
}

func TestDeductBeyondAvailableFloorsAtZero(t *testing.T) {
	f := newFixture(t, 5, 0)
	ctx := context.Background()
	sub := f.addSub(t, models.SubscriptionStatusActive, 10, 0)

	receipt, err := f.engine(EngineConfig{MaxAttempts: 3}).DeductTokens(ctx, f.user.ID, 40, UsageContext{})
	require.NoError(t, err)

	assert.Equal(t, 0.0, f.calculator().AvailableTokens(ctx, f.user.ID))
	assert.Equal(t, 0.0, f.remaining(t, sub.ID, models.UsageKindTokens))
	assert.Equal(t, 0.0, f.reloadUser(t).OneTimeTokens)
	assert.Equal(t, 5.0, receipt.OneTimeDebit)
	assert.Equal(t, 25.0, receipt.Shortfall)

	// ledger records the requested amount, not the clamped one
	require.NotNil(t, receipt.TokenUsage)
	assert.Equal(t, 40.0, receipt.TokenUsage.TokensUsed)
}

func TestDeductStrictModeRejectsBeforeWriting(t *testing.T) {
	f := newFixture(t, 5, 0)
	ctx := context.Background()
	sub := f.addSub(t, models.SubscriptionStatusActive, 10, 0)

	_, err := f.engine(EngineConfig{Strict: true, MaxAttempts: 3}).DeductTokens(ctx, f.user.ID, 16, UsageContext{})
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	assert.Equal(t, 10.0, f.remaining(t, sub.ID, models.UsageKindTokens))
	assert.Equal(t, 5.0, f.reloadUser(t).OneTimeTokens)
	from, to := MonthBounds(fixedNow)
	used, err := f.repos.Usage.SumTokenUsage(ctx, f.user.ID, from, to)
	require.NoError(t, err)
	assert.Equal(t, 0.0, used)

	_, err = f.engine(EngineConfig{Strict: true, MaxAttempts: 3}).DeductTokens(ctx, f.user.ID, 15, UsageContext{})
	assert.NoError(t, err)
}

func TestDeductTokensScenario(t *testing.T) {
	f := newFixture(t, 20, 0)
	ctx := context.Background()
	sub := f.addSub(t, models.SubscriptionStatusActive, 100, 0)

	_, err := f.engine(EngineConfig{MaxAttempts: 3}).DeductTokens(ctx, f.user.ID, 30, UsageContext{})
	require.NoError(t, err)

	assert.Equal(t, 70.0, f.remaining(t, sub.ID, models.UsageKindTokens))
	assert.Equal(t, 20.0, f.reloadUser(t).OneTimeTokens)
}

func TestRecordProductUsageSpillsIntoOneTimePool(t *testing.T) {
	tests := []struct {
		name        string
		pool        float64
		wantPool    float64
		wantOverage float64
	}{
		{"pool covers the rest", 2, 1.5, 0},
		{"pool floors at zero", 0.2, 0, 0.3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 7, tt.pool)
			ctx := context.Background()
			sub := f.addSub(t, models.SubscriptionStatusActive, 0, 0.5)

			receipt, err := f.engine(EngineConfig{MaxAttempts: 3}).RecordProductUsage(ctx, f.user.ID, models.WeightFullProduct, UsageContext{Action: models.UsageKeyFullProduct})
			require.NoError(t, err)

			assert.Equal(t, 0.0, f.remaining(t, sub.ID, models.UsageKindProductUnits))
			user := f.reloadUser(t)
			assert.Equal(t, tt.wantPool, user.OneTimeProductUnits)
			assert.Equal(t, 7.0, user.OneTimeTokens)
			assert.Equal(t, tt.wantOverage, receipt.Shortfall)
			require.NotNil(t, receipt.ProductUsage)
			assert.Equal(t, 1.0, receipt.ProductUsage.Weight)
			assert.Equal(t, models.UsageKeyFullProduct, receipt.ProductUsage.Key)
		})
	}
}

func TestLedgerAttribution(t *testing.T) {
	f := newFixture(t, 0, 0)
	ctx := context.Background()
	first := f.addSub(t, models.SubscriptionStatusActive, 0, 0)
	second := f.addSub(t, models.SubscriptionStatusActive, 10, 0)
	engine := f.engine(EngineConfig{MaxAttempts: 3})

	receipt, err := engine.DeductTokens(ctx, f.user.ID, 1, UsageContext{})
	require.NoError(t, err)
	require.Len(t, receipt.Debits, 1)
	assert.Equal(t, second.ID, receipt.Debits[0].SubscriptionID)
	require.NotNil(t, receipt.SubscriptionID)
	assert.Equal(t, first.ID, *receipt.SubscriptionID)

	// a hint is honoured only while the hinted subscription has capacity
	receipt, err = engine.DeductTokens(ctx, f.user.ID, 1, UsageContext{SubscriptionHint: &second.ID})
	require.NoError(t, err)
	assert.Equal(t, second.ID, *receipt.SubscriptionID)

	receipt, err = engine.DeductTokens(ctx, f.user.ID, 1, UsageContext{SubscriptionHint: &first.ID})
	require.NoError(t, err)
	assert.Equal(t, first.ID, *receipt.SubscriptionID)
	assert.Equal(t, first.ID, *receipt.TokenUsage.SubscriptionID)
}

func TestDeductWithoutSubscriptionsHasNoAttribution(t *testing.T) {
	f := newFixture(t, 3, 0)
	receipt, err := f.engine(EngineConfig{MaxAttempts: 1}).DeductTokens(context.Background(), f.user.ID, 1, UsageContext{})
	require.NoError(t, err)
	assert.Nil(t, receipt.SubscriptionID)
	assert.Equal(t, 2.0, f.reloadUser(t).OneTimeTokens)
}

func TestDeductValidation(t *testing.T) {
	f := newFixture(t, 0, 0)
	engine := f.engine(EngineConfig{MaxAttempts: 1})
	ctx := context.Background()

	cases := []Request{
		{UserID: 0, Amount: 1, Kind: models.UsageKindTokens},
		{UserID: f.user.ID, Amount: 0, Kind: models.UsageKindTokens},
		{UserID: f.user.ID, Amount: -1, Kind: models.UsageKindTokens},
		{UserID: f.user.ID, Amount: 1, Kind: "credits"},
	}
	for _, req := range cases {
		_, err := engine.Deduct(ctx, req)
		assert.ErrorIs(t, err, ErrInvalidRequest)
	}
}

func TestConcurrentDeductionsNeverGoNegative(t *testing.T) {
	f := newFixture(t, 10, 0)
	ctx := context.Background()
	subA := f.addSub(t, models.SubscriptionStatusActive, 25, 0)
	subB := f.addSub(t, models.SubscriptionStatusActive, 15, 0)
	engine := f.engine(EngineConfig{MaxAttempts: 40})

	// 30 x 2.5 = 75 requested against 50 available
	const workers = 30
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.DeductTokens(ctx, f.user.ID, 2.5, UsageContext{Action: "race"})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assert.Equal(t, 0.0, f.remaining(t, subA.ID, models.UsageKindTokens))
	assert.Equal(t, 0.0, f.remaining(t, subB.ID, models.UsageKindTokens))
	assert.Equal(t, 0.0, f.reloadUser(t).OneTimeTokens)
	assert.Equal(t, 0.0, f.calculator().AvailableTokens(ctx, f.user.ID))

	from, to := MonthBounds(fixedNow)
	rows, err := f.repos.Usage.ListTokenUsage(ctx, f.user.ID, from, to)
	require.NoError(t, err)
	assert.Len(t, rows, workers)
}
