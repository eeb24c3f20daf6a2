package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	stripelib "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/ManuelReschke/Turbopic/app/models"
	"github.com/ManuelReschke/Turbopic/app/repository"
)

// ErrInvalidSignature is returned when a Stripe payload fails verification.
var ErrInvalidSignature = errors.New("billing: invalid Stripe signature")

// PriceInfo is the part of a Stripe price the reconciler reads.
type PriceInfo struct {
	ID       string
	Metadata map[string]string
}

// PriceLookup resolves the prices bought through a payment intent.
type PriceLookup interface {
	PaymentIntentPrices(ctx context.Context, paymentIntentID string) ([]PriceInfo, error)
}

// StripeInvoice is a minimal representation of a Stripe invoice event. Both
// the legacy top-level subscription and the parent.subscription_details shape are read.
type StripeInvoice struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	Customer     string `json:"customer"`
	Subscription string `json:"subscription"`
	AmountPaid   int64  `json:"amount_paid"`
	Currency     string `json:"currency"`
	PeriodEnd    int64  `json:"period_end"`
	Created      int64  `json:"created"`
	Parent       struct {
		SubscriptionDetails struct {
			Subscription string            `json:"subscription"`
			Metadata     map[string]string `json:"metadata"`
		} `json:"subscription_details"`
	} `json:"parent"`
	Lines struct {
		Data []struct {
			Metadata map[string]string `json:"metadata"`
			Period   struct {
				Start int64 `json:"start"`
				End   int64 `json:"end"`
			} `json:"period"`
			Pricing struct {
				PriceDetails struct {
					Price string `json:"price"`
				} `json:"price_details"`
			} `json:"pricing"`
			Price *struct {
				ID       string            `json:"id"`
				Metadata map[string]string `json:"metadata"`
			} `json:"price"`
		} `json:"data"`
	} `json:"lines"`
}

// StripePaymentIntent is a minimal representation of a Stripe payment intent event.
type StripePaymentIntent struct {
	ID             string            `json:"id"`
	Customer       string            `json:"customer"`
	Status         string            `json:"status"`
	AmountReceived int64             `json:"amount_received"`
	Currency       string            `json:"currency"`
	Metadata       map[string]string `json:"metadata"`
}

// StripeSubscription is a minimal representation of a Stripe subscription event.
type StripeSubscription struct {
	ID       string `json:"id"`
	Customer string `json:"customer"`
	Status   string `json:"status"`
}

// StripeCheckoutSession is a minimal representation of a Stripe checkout.session event.
type StripeCheckoutSession struct {
	ID       string            `json:"id"`
	Mode     string            `json:"mode"`
	Customer string            `json:"customer"`
	Metadata map[string]string `json:"metadata"`
}

// ParseStripeEvent verifies the signature header and decodes the event into
// its variant. Unhandled event types return a nil Event with the verified
// stripe event, so the caller can journal and acknowledge them.
func ParseStripeEvent(payload []byte, sigHeader, secret string) (Event, *stripelib.Event, error) {
	if strings.TrimSpace(sigHeader) == "" || strings.TrimSpace(secret) == "" {
		return nil, nil, ErrInvalidSignature
	}
	se, err := webhook.ConstructEventWithOptions(payload, sigHeader, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	ev, err := DecodeStripeEvent(&se)
	if err != nil {
		return nil, &se, err
	}
	return ev, &se, nil
}

// DecodeStripeEvent maps a verified stripe event onto an Event variant.
func DecodeStripeEvent(se *stripelib.Event) (Event, error) {
	if se.Data == nil {
		return nil, fmt.Errorf("%w: event %s has no data", ErrInvalidEvent, se.ID)
	}
	raw := se.Data.Raw

	switch string(se.Type) {
	case StripeInvoicePaidType:
		var inv StripeInvoice
		if err := json.Unmarshal(raw, &inv); err != nil {
			return nil, fmt.Errorf("%w: decode invoice: %v", ErrInvalidEvent, err)
		}
		return invoiceEvent(inv), nil

	case StripePaymentIntentSucceeded:
		var pi StripePaymentIntent
		if err := json.Unmarshal(raw, &pi); err != nil {
			return nil, fmt.Errorf("%w: decode payment intent: %v", ErrInvalidEvent, err)
		}
		return StripePaymentSucceeded{
			PaymentIntentID: pi.ID,
			CustomerID:      pi.Customer,
			UserID:          parseUserID(pi.Metadata["userId"]),
			PriceID:         pi.Metadata["priceId"],
			Tokens:          parseAmount(pi.Metadata["tokens"]),
			ProductUnits:    parseAmount(pi.Metadata["productUnits"]),
			AmountCents:     pi.AmountReceived,
			Currency:        pi.Currency,
		}, nil

	case StripeSubscriptionDeletedType:
		var sub StripeSubscription
		if err := json.Unmarshal(raw, &sub); err != nil {
			return nil, fmt.Errorf("%w: decode subscription: %v", ErrInvalidEvent, err)
		}
		return StripeSubscriptionDeleted{SubscriptionID: sub.ID, CustomerID: sub.Customer}, nil

	case StripeCheckoutSessionCompleted:
		var session StripeCheckoutSession
		if err := json.Unmarshal(raw, &session); err != nil {
			return nil, fmt.Errorf("%w: decode checkout.session: %v", ErrInvalidEvent, err)
		}
		return StripeCheckoutCompleted{
			SessionID:  session.ID,
			CustomerID: session.Customer,
			UserID:     parseUserID(session.Metadata["userId"]),
			Mode:       session.Mode,
		}, nil
	}

	log.Infof("[Reconciler] unhandled Stripe event %s (%s)", se.Type, se.ID)
	return nil, nil
}

// invoiceEvent takes the price, owner and period end from the first line that
// carries a price. A line period end is authoritative; the invoice period_end
// and created timestamps are fallbacks.
func invoiceEvent(inv StripeInvoice) StripeInvoicePaid {
	ev := StripeInvoicePaid{
		InvoiceID:      inv.ID,
		SubscriptionID: firstNonEmpty(inv.Subscription, inv.Parent.SubscriptionDetails.Subscription),
		CustomerID:     inv.Customer,
		UserID:         parseUserID(inv.Parent.SubscriptionDetails.Metadata["userId"]),
		Status:         models.SubscriptionStatusPaid,
		AmountCents:    inv.AmountPaid,
		Currency:       inv.Currency,
	}
	for _, line := range inv.Lines.Data {
		priceID := line.Pricing.PriceDetails.Price
		var priceMeta map[string]string
		if line.Price != nil {
			priceID = firstNonEmpty(priceID, line.Price.ID)
			priceMeta = line.Price.Metadata
		}
		if priceID == "" {
			continue
		}
		ev.PriceID = priceID
		if ev.UserID == 0 {
			ev.UserID = parseUserID(firstNonEmpty(line.Metadata["userId"], priceMeta["userId"]))
		}
		if line.Period.End > 0 {
			ev.PeriodEnd = time.Unix(line.Period.End, 0).UTC()
			ev.Authoritative = true
		}
		break
	}
	if ev.PeriodEnd.IsZero() {
		switch {
		case inv.PeriodEnd > 0:
			ev.PeriodEnd = time.Unix(inv.PeriodEnd, 0).UTC()
			ev.Authoritative = true
		case inv.Created > 0:
			ev.PeriodEnd = time.Unix(inv.Created, 0).UTC()
		}
	}
	return ev
}

func parseUserID(v string) uint {
	id, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return 0
	}
	return uint(id)
}

func parseAmount(v string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || f < 0 {
		return 0
	}
	return f
}

// resolveStripeOwner resolves the owner of a new Stripe record: the metadata
// user, else the user owning the Stripe customer.
func (r *Reconciler) resolveStripeOwner(ctx context.Context, userID uint, customerID string) (uint, error) {
	ok, err := r.userExists(ctx, userID)
	if err != nil {
		return 0, err
	}
	if ok {
		return userID, nil
	}
	if customerID != "" {
		u, err := r.repos.User.GetByStripeCustomerID(ctx, customerID)
		if err == nil {
			return u.ID, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return 0, fmt.Errorf("lookup user by customer %s: %w", customerID, err)
		}
	}
	return 0, fmt.Errorf("%w: user %d, customer %q", ErrOwnerNotFound, userID, customerID)
}

func (r *Reconciler) applyInvoicePaid(ctx context.Context, e StripeInvoicePaid) (*Result, error) {
	plan, err := r.repos.Plan.GetByStripePriceID(ctx, e.PriceID)
	if errors.Is(err, repository.ErrNotFound) {
		log.Warnf("[Reconciler] invoice %s: no plan for price %s", e.InvoiceID, e.PriceID)
		return nil, fmt.Errorf("%w: stripe price %s", ErrPlanNotFound, e.PriceID)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup plan for price %s: %w", e.PriceID, err)
	}

	res, err := r.upsertSubscription(ctx, upsert{
		provider:     models.BillingProviderStripe,
		externalID:   e.SubscriptionID,
		plan:         plan,
		incoming:     Incoming{Status: e.Status, PeriodEnd: e.PeriodEnd, Authoritative: e.Authoritative},
		customerID:   e.CustomerID,
		claimedOwner: e.UserID,
		owner: func(ctx context.Context) (uint, error) {
			return r.resolveStripeOwner(ctx, e.UserID, e.CustomerID)
		},
	})
	if err != nil {
		return nil, err
	}

	r.logPayment(ctx, &models.Payment{
		UserID:         res.UserID,
		Provider:       models.BillingProviderStripe,
		InvoiceID:      e.InvoiceID,
		Status:         models.PaymentStatusPaid,
		AmountCents:    e.AmountCents,
		Currency:       e.Currency,
		SubscriptionID: uintPtr(res.SubscriptionID),
		PlanID:         uintPtr(plan.ID),
		PaidAt:         r.now(),
	})
	return res, nil
}

// applyPaymentSucceeded credits a one-time top-up. The payment row keyed by
// the payment intent guards against crediting a redelivery twice.
func (r *Reconciler) applyPaymentSucceeded(ctx context.Context, e StripePaymentSucceeded) (*Result, error) {
	ownerID, err := r.resolveStripeOwner(ctx, e.UserID, e.CustomerID)
	if err != nil {
		return nil, err
	}

	tokens, units, planID, err := r.topUpGrant(ctx, e)
	if err != nil {
		return nil, err
	}
	if tokens <= 0 && units <= 0 {
		log.Infof("[Reconciler] payment intent %s grants nothing, ignoring", e.PaymentIntentID)
		return &Result{Decision: DecisionIgnored, UserID: ownerID}, nil
	}

	res := &Result{Decision: DecisionIgnored, UserID: ownerID}
	err = r.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		previous, err := tx.Payment.Upsert(ctx, &models.Payment{
			UserID:      ownerID,
			Provider:    models.BillingProviderStripe,
			InvoiceID:   e.PaymentIntentID,
			Status:      models.PaymentStatusPaid,
			AmountCents: e.AmountCents,
			Currency:    e.Currency,
			PlanID:      planID,
			OneTime:     true,
			PaidAt:      r.now(),
		})
		if err != nil {
			return fmt.Errorf("upsert payment %s: %w", e.PaymentIntentID, err)
		}
		if previous == models.PaymentStatusPaid {
			return nil
		}
		if err := tx.User.CreditOneTime(ctx, ownerID, models.UsageKindTokens, tokens); err != nil {
			return fmt.Errorf("credit one-time tokens: %w", err)
		}
		if err := tx.User.CreditOneTime(ctx, ownerID, models.UsageKindProductUnits, units); err != nil {
			return fmt.Errorf("credit one-time product units: %w", err)
		}
		res.Decision = DecisionCredit
		res.Credited = tokens
		return nil
	})
	if err != nil {
		return nil, err
	}
	if res.Decision == DecisionCredit {
		log.Infof("[Reconciler] credited %.4f one-time tokens to user %d for payment %s", tokens, ownerID, e.PaymentIntentID)
	}
	return res, nil
}

// topUpGrant resolves what a payment intent buys: the one-time plan of its
// price, else the grant in its metadata, else the prices of its checkout session.
func (r *Reconciler) topUpGrant(ctx context.Context, e StripePaymentSucceeded) (float64, float64, *uint, error) {
	if e.PriceID != "" {
		plan, ok, err := r.planForPrice(ctx, e.PriceID)
		if err != nil {
			return 0, 0, nil, err
		}
		if ok {
			return plan.Tokens, plan.ProductUnits, uintPtr(plan.ID), nil
		}
	}
	if e.Tokens > 0 || e.ProductUnits > 0 || r.prices == nil {
		return e.Tokens, e.ProductUnits, nil, nil
	}

	prices, err := r.prices.PaymentIntentPrices(ctx, e.PaymentIntentID)
	if err != nil {
		return 0, 0, nil, fmt.Errorf("lookup prices of payment intent %s: %w", e.PaymentIntentID, err)
	}
	if len(prices) == 0 {
		return 0, 0, nil, nil
	}
	p := prices[0]
	plan, ok, err := r.planForPrice(ctx, p.ID)
	if err != nil {
		return 0, 0, nil, err
	}
	if ok {
		return plan.Tokens, plan.ProductUnits, uintPtr(plan.ID), nil
	}
	return parseAmount(p.Metadata["tokens"]), parseAmount(p.Metadata["productUnits"]), nil, nil
}

func (r *Reconciler) planForPrice(ctx context.Context, priceID string) (*models.Plan, bool, error) {
	plan, err := r.repos.Plan.GetByStripePriceID(ctx, priceID)
	switch {
	case err == nil:
		return plan, true, nil
	case errors.Is(err, repository.ErrNotFound):
		return nil, false, nil
	default:
		return nil, false, fmt.Errorf("lookup plan for price %s: %w", priceID, err)
	}
}

// applySubscriptionDeleted refunds the remaining tokens of a canceled
// subscription into the one-time pool and zeroes it.
func (r *Reconciler) applySubscriptionDeleted(ctx context.Context, e StripeSubscriptionDeleted) (*Result, error) {
	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		existing, err := r.repos.Subscription.GetByExternalID(ctx, models.BillingProviderStripe, e.SubscriptionID)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: stripe subscription %s", ErrSubscriptionNotFound, e.SubscriptionID)
		}
		if err != nil {
			return nil, fmt.Errorf("load stripe subscription %s: %w", e.SubscriptionID, err)
		}

		refund := existing.RemainingTokens
		sub := *existing
		sub.Plan = nil
		sub.Status = models.SubscriptionStatusCanceled
		sub.RemainingTokens = 0
		sub.RemainingProductUnits = 0

		err = r.repos.Transaction(ctx, func(tx *repository.Repositories) error {
			if err := tx.Subscription.Update(ctx, &sub); err != nil {
				return err
			}
			if err := tx.User.CreditOneTime(ctx, existing.UserID, models.UsageKindTokens, refund); err != nil {
				return fmt.Errorf("refund tokens to user %d: %w", existing.UserID, err)
			}
			return nil
		})
		if errors.Is(err, repository.ErrConflict) {
			log.Debugf("[Reconciler] stripe subscription %s: concurrent write on attempt %d/%d", e.SubscriptionID, attempt, r.cfg.MaxAttempts)
			continue
		}
		if err != nil {
			return nil, err
		}
		log.Infof("[Reconciler] canceled stripe subscription %s, refunded %.4f tokens to user %d", e.SubscriptionID, refund, existing.UserID)
		return &Result{Decision: DecisionRefund, UserID: existing.UserID, SubscriptionID: existing.ID, Credited: refund}, nil
	}
	return nil, fmt.Errorf("cancel stripe subscription %s: %w", e.SubscriptionID, repository.ErrConflict)
}

func (r *Reconciler) applyCheckoutCompleted(ctx context.Context, e StripeCheckoutCompleted) (*Result, error) {
	if e.UserID == 0 || e.CustomerID == "" {
		return &Result{Decision: DecisionIgnored}, nil
	}
	ok, err := r.userExists(ctx, e.UserID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: user %d", ErrOwnerNotFound, e.UserID)
	}
	if err := r.repos.User.SetStripeCustomerID(ctx, e.UserID, e.CustomerID); err != nil {
		return nil, fmt.Errorf("link customer %s to user %d: %w", e.CustomerID, e.UserID, err)
	}
	return &Result{Decision: DecisionLinked, UserID: e.UserID}, nil
}
