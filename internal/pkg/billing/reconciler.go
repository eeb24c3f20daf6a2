package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/Turbopic/app/models"
	"github.com/ManuelReschke/Turbopic/app/repository"
	"github.com/ManuelReschke/Turbopic/internal/pkg/metrics"
)

// Result describes what an applied event changed.
type Result struct {
	Decision       Decision `json:"decision"`
	UserID         uint     `json:"userId,omitempty"`
	SubscriptionID uint     `json:"subscriptionId,omitempty"`
	Granted        bool     `json:"granted"`
	Credited       float64  `json:"credited,omitempty"`
}

// ReconcilerConfig tunes the reconciler.
type ReconcilerConfig struct {
	// MaxAttempts bounds the retries of one event after version conflicts.
	MaxAttempts int
}

// Reconciler applies billing lifecycle events to subscriptions and one-time
// balances. (provider, external id) is the only resolution key and the owner
// of an existing subscription is never reassigned.
type Reconciler struct {
	repos    *repository.Repositories
	cfg      ReconcilerConfig
	prices   PriceLookup
	validate *validator.Validate
	now      func() time.Time
}

// NewReconciler creates a reconciler. prices may be nil, in which case
// payment intents must carry their grant in metadata.
func NewReconciler(repos *repository.Repositories, prices PriceLookup, cfg ReconcilerConfig) *Reconciler {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 5
	}
	return &Reconciler{
		repos:    repos,
		cfg:      cfg,
		prices:   prices,
		validate: validator.New(),
		now:      time.Now,
	}
}

// Apply dispatches ev to its reconciliation path.
func (r *Reconciler) Apply(ctx context.Context, caller Caller, ev Event) (*Result, error) {
	if ev == nil {
		return nil, ErrInvalidEvent
	}
	if err := r.validate.Struct(ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}

	var (
		res *Result
		err error
	)
	switch e := ev.(type) {
	case ShopifySubscriptionUpdate:
		res, err = r.applyShopifySubscription(ctx, caller, e)
	case ShopifyOneTimePurchaseUpdate:
		res, err = r.applyShopifyOneTime(ctx, caller, e)
	case StripeInvoicePaid:
		res, err = r.applyInvoicePaid(ctx, e)
	case StripePaymentSucceeded:
		res, err = r.applyPaymentSucceeded(ctx, e)
	case StripeSubscriptionDeleted:
		res, err = r.applySubscriptionDeleted(ctx, e)
	case StripeCheckoutCompleted:
		res, err = r.applyCheckoutCompleted(ctx, e)
	default:
		return nil, fmt.Errorf("%w: unsupported event %T", ErrInvalidEvent, ev)
	}
	if err != nil {
		return nil, err
	}
	metrics.ReconcileDecisionsTotal.WithLabelValues(string(res.Decision)).Inc()
	return res, nil
}

// upsert carries everything the shared subscription upsert needs.
type upsert struct {
	provider   string
	externalID string
	plan       *models.Plan
	incoming   Incoming
	shopGID    string
	customerID string
	// claimedOwner is the owner the event claims, compared against the stored owner.
	claimedOwner uint
	// owner resolves the owner of a brand-new subscription.
	owner func(ctx context.Context) (uint, error)
}

func (r *Reconciler) upsertSubscription(ctx context.Context, u upsert) (*Result, error) {
	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		res, err := r.upsertOnce(ctx, u, true)
		if errors.Is(err, errGrantRefused) {
			// Another delivery granted the cycle first; apply this one as metadata only.
			res, err = r.upsertOnce(ctx, u, false)
		}
		if errors.Is(err, repository.ErrConflict) || errors.Is(err, repository.ErrDuplicate) {
			log.Debugf("[Reconciler] %s subscription %s: concurrent write on attempt %d/%d", u.provider, u.externalID, attempt, r.cfg.MaxAttempts)
			continue
		}
		return res, err
	}
	return nil, fmt.Errorf("upsert %s subscription %s: %w", u.provider, u.externalID, repository.ErrConflict)
}

// errGrantRefused reports that the conditional cycle grant lost to an earlier one.
var errGrantRefused = errors.New("cycle already granted")

func (r *Reconciler) upsertOnce(ctx context.Context, u upsert, grantAllowed bool) (*Result, error) {
	now := r.now()
	existing, err := r.repos.Subscription.GetByExternalID(ctx, u.provider, u.externalID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("load %s subscription %s: %w", u.provider, u.externalID, err)
	}

	if existing == nil {
		ownerID, err := u.owner(ctx)
		if err != nil {
			return nil, err
		}
		out := Decide(nil, u.incoming, now)
		sub := &models.Subscription{
			UserID:           ownerID,
			Provider:         u.provider,
			ExternalID:       u.externalID,
			PlanID:           u.plan.ID,
			Status:           u.incoming.Status,
			CurrentPeriodEnd: out.PeriodEnd,
			ShopGID:          u.shopGID,
			CustomerID:       u.customerID,
		}
		if out.Grant {
			sub.RemainingTokens = u.plan.Tokens
			sub.RemainingProductUnits = u.plan.ProductUnits
			if out.PeriodEnd != nil {
				sub.LastGrantedPeriodEnd = out.PeriodEnd
				sub.LastGrantKey = models.GrantKey(u.externalID, *out.PeriodEnd)
			}
		}
		if err := r.repos.Subscription.Create(ctx, sub); err != nil {
			return nil, err
		}
		log.Infof("[Reconciler] created %s subscription %s for user %d on plan %d (%s)", u.provider, u.externalID, ownerID, u.plan.ID, sub.Status)
		return &Result{Decision: DecisionCreate, UserID: ownerID, SubscriptionID: sub.ID, Granted: out.Grant}, nil
	}

	if u.claimedOwner != 0 && u.claimedOwner != existing.UserID {
		log.Warnf("[Reconciler] %s subscription %s belongs to user %d, event claims user %d; keeping owner", u.provider, u.externalID, existing.UserID, u.claimedOwner)
	}

	state := &State{
		Status:               existing.Status,
		CurrentPeriodEnd:     existing.CurrentPeriodEnd,
		LastGrantedPeriodEnd: existing.LastGrantedPeriodEnd,
	}
	out := Decide(state, u.incoming, now)
	if out.Grant && !grantAllowed {
		var fill *time.Time
		if existing.CurrentPeriodEnd == nil {
			fill = out.PeriodEnd
		}
		out = state.withoutGrant(fill)
	}
	result := &Result{Decision: out.Decision, UserID: existing.UserID, SubscriptionID: existing.ID, Granted: out.Grant}

	if out.Grant {
		granted, err := r.repos.Subscription.GrantCycle(ctx, existing.ID, repository.CycleGrant{
			PeriodEnd:    *out.PeriodEnd,
			Status:       u.incoming.Status,
			PlanID:       u.plan.ID,
			Tokens:       u.plan.Tokens,
			ProductUnits: u.plan.ProductUnits,
			GrantKey:     models.GrantKey(u.externalID, *out.PeriodEnd),
		})
		if err != nil {
			return nil, fmt.Errorf("grant cycle of subscription %d: %w", existing.ID, err)
		}
		if !granted {
			return nil, errGrantRefused
		}
		log.Infof("[Reconciler] %s subscription %s: %s until %s", u.provider, u.externalID, out.Decision, out.PeriodEnd.Format(time.RFC3339))
		return result, nil
	}

	sub := *existing
	sub.Plan = nil
	if !out.KeepStatus {
		sub.Status = u.incoming.Status
	}
	sub.PlanID = u.plan.ID
	if out.PeriodEnd != nil {
		sub.CurrentPeriodEnd = out.PeriodEnd
	}
	if u.shopGID != "" {
		sub.ShopGID = u.shopGID
	}
	if u.customerID != "" {
		sub.CustomerID = u.customerID
	}
	if out.Zero {
		sub.RemainingTokens = 0
		sub.RemainingProductUnits = 0
	}
	if err := r.repos.Subscription.Update(ctx, &sub); err != nil {
		return nil, err
	}
	if out.Decision != DecisionSameCycle {
		log.Infof("[Reconciler] %s subscription %s: %s (%s)", u.provider, u.externalID, out.Decision, sub.Status)
	}
	return result, nil
}

// matchPlan finds a plan of kind whose handle or title equals one of names,
// ignoring case. Visible plans win over hidden ones; hidden plans are only
// considered when visibleOnly is false.
func (r *Reconciler) matchPlan(ctx context.Context, kind string, visibleOnly bool, names ...string) (*models.Plan, error) {
	plans, err := r.repos.Plan.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	var hidden *models.Plan
	for i := range plans {
		p := &plans[i]
		if p.Kind != kind || !p.MatchesName(names...) {
			continue
		}
		if p.Visible {
			return p, nil
		}
		if hidden == nil {
			hidden = p
		}
	}
	if hidden != nil && !visibleOnly {
		return hidden, nil
	}
	return nil, fmt.Errorf("%w: no %s plan named %q", ErrPlanNotFound, kind, names)
}

// logPayment writes the analytics payment row. Failures are logged only.
func (r *Reconciler) logPayment(ctx context.Context, p *models.Payment) {
	if _, err := r.repos.Payment.Upsert(ctx, p); err != nil {
		log.Warnf("[Reconciler] payment log %s for user %d not recorded: %v", p.InvoiceID, p.UserID, err)
	}
}

func (r *Reconciler) userExists(ctx context.Context, id uint) (bool, error) {
	if id == 0 {
		return false, nil
	}
	_, err := r.repos.User.GetByID(ctx, id)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, repository.ErrNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("load user %d: %w", id, err)
	}
}

func uintPtr(v uint) *uint {
	if v == 0 {
		return nil
	}
	return &v
}
