package billing

import (
	"time"

	"github.com/ManuelReschke/Turbopic/app/models"
)

// Decision is the outcome of comparing an incoming event to the stored subscription.
type Decision string

const (
	DecisionCreate     Decision = "create"
	DecisionRenew      Decision = "renew"
	DecisionSameCycle  Decision = "same_cycle"
	DecisionZero       Decision = "zero"
	DecisionReactivate Decision = "reactivate"
	// DecisionStale keeps a terminal subscription terminal and empty.
	DecisionStale Decision = "stale"

	// Outcomes of events that do not upsert a subscription.
	DecisionCredit  Decision = "credit"
	DecisionRefund  Decision = "refund"
	DecisionLinked  Decision = "customer_linked"
	DecisionIgnored Decision = "ignored"
)

// State is the stored part of a subscription the decision depends on.
type State struct {
	Status               string
	CurrentPeriodEnd     *time.Time
	LastGrantedPeriodEnd *time.Time
}

// Incoming is the event part of the decision. Authoritative is false for
// period ends guessed from updated_at/created_at.
type Incoming struct {
	Status        string
	PeriodEnd     time.Time
	Authoritative bool
}

// Outcome tells the reconciler what to write.
type Outcome struct {
	Decision Decision
	// Grant resets remaining capacity to the plan's full grant.
	Grant bool
	// Zero forces remaining capacity to zero.
	Zero bool
	// PeriodEnd is the period end to store; nil keeps what is stored.
	PeriodEnd *time.Time
	// KeepStatus leaves the stored status untouched.
	KeepStatus bool
}

// Decide is the renewal / same-cycle / terminal decision table. It does no I/O.
//
// A cycle is granted at most once: renewals and reactivations need an
// authoritative period end later than both the stored and the last granted
// one. A same-cycle update refreshes status and metadata but keeps the stored
// period end unless none is stored; moving it forward without a grant would
// turn the real renewal into a same-cycle update.
func Decide(existing *State, in Incoming, now time.Time) Outcome {
	var incomingEnd *time.Time
	if !in.PeriodEnd.IsZero() {
		end := in.PeriodEnd.UTC()
		incomingEnd = &end
	}
	terminal := models.IsTerminalStatus(in.Status)

	if existing == nil {
		return Outcome{Decision: DecisionCreate, Grant: !terminal, Zero: terminal, PeriodEnd: incomingEnd}
	}

	// A missing stored end may be filled by any incoming end, low-confidence or not.
	fill := func() *time.Time {
		if existing.CurrentPeriodEnd == nil {
			return incomingEnd
		}
		return nil
	}
	newCycle := in.Authoritative && incomingEnd != nil &&
		laterThan(*incomingEnd, existing.CurrentPeriodEnd) &&
		laterThan(*incomingEnd, existing.LastGrantedPeriodEnd)

	if terminal {
		return Outcome{Decision: DecisionZero, Zero: true, PeriodEnd: fill()}
	}

	if models.IsTerminalStatus(existing.Status) {
		if models.IsCapacityBearing(in.Status) && newCycle {
			return Outcome{Decision: DecisionReactivate, Grant: true, PeriodEnd: incomingEnd}
		}
		return existing.withoutGrant(fill())
	}

	stored := existing.CurrentPeriodEnd
	if stored != nil && newCycle && !now.Before(*stored) {
		return Outcome{Decision: DecisionRenew, Grant: true, PeriodEnd: incomingEnd}
	}

	return existing.withoutGrant(fill())
}

// withoutGrant is the outcome of an event that must not grant: a terminal
// subscription stays terminal and empty, anything else is a same-cycle update.
func (s *State) withoutGrant(fill *time.Time) Outcome {
	if models.IsTerminalStatus(s.Status) {
		return Outcome{Decision: DecisionStale, Zero: true, KeepStatus: true, PeriodEnd: fill}
	}
	return Outcome{Decision: DecisionSameCycle, PeriodEnd: fill}
}

func laterThan(t time.Time, ref *time.Time) bool {
	return ref == nil || t.After(*ref)
}
