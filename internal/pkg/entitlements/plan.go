package entitlements

import (
	"math"

	"github.com/ManuelReschke/Turbopic/app/models"
)

type deductionStep struct {
	subscriptionID uint
	version        int64
	amount         float64
	remaining      float64
}

type deductionPlan struct {
	steps        []deductionStep
	oneTimeDebit float64
	oneTimeAfter float64
	shortfall    float64
}

// planDeduction walks subs in the given (oldest-first) order, then the
// one-time pool. Nothing ever goes below zero; what is left uncovered is the shortfall.
func planDeduction(subs []models.Subscription, oneTime float64, kind models.UsageKind, amount float64) deductionPlan {
	var p deductionPlan
	left := round(amount)
	for i := range subs {
		if left <= 0 {
			break
		}
		remaining := round(subs[i].Remaining(kind))
		if remaining <= 0 {
			continue
		}
		take := math.Min(remaining, left)
		p.steps = append(p.steps, deductionStep{
			subscriptionID: subs[i].ID,
			version:        subs[i].Version,
			amount:         take,
			remaining:      math.Max(0, round(remaining-take)),
		})
		left = round(left - take)
	}

	oneTime = math.Max(0, round(oneTime))
	p.oneTimeAfter = oneTime
	if left > 0 {
		p.oneTimeDebit = math.Min(oneTime, left)
		p.oneTimeAfter = math.Max(0, round(oneTime-p.oneTimeDebit))
		p.shortfall = math.Max(0, round(left-p.oneTimeDebit))
	}
	return p
}

// attribute picks the subscription a ledger entry is charged against: the
// first active subscription, unless the hinted one is active and still has
// capacity of kind.
func attribute(subs []models.Subscription, kind models.UsageKind, hint *uint) *uint {
	if len(subs) == 0 {
		return nil
	}
	if hint != nil {
		for i := range subs {
			if subs[i].ID == *hint && subs[i].Remaining(kind) > 0 {
				id := subs[i].ID
				return &id
			}
		}
	}
	id := subs[0].ID
	return &id
}
