package entitlements

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

var (
	ErrInvalidRequest      = errors.New("invalid deduction request")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrConcurrentUpdate    = errors.New("deduction kept conflicting with concurrent updates")
)

// UsageContext links a ledger entry to whatever caused it.
type UsageContext struct {
	ProductID        *uint  `json:"productId,omitempty"`
	IntegrationID    *uint  `json:"integrationId,omitempty"`
	Action           string `json:"action,omitempty"`
	SubscriptionHint *uint  `json:"subscriptionIdHint,omitempty"`
	JobID            string `json:"jobId,omitempty"`
}

// Request asks to consume Amount of Kind for UserID.
type Request struct {
	UserID  uint             `validate:"required"`
	Amount  float64          `validate:"gt=0"`
	Kind    models.UsageKind `validate:"required,oneof=tokens productUnits"`
	Context UsageContext
}

// Debit is the amount taken from one subscription.
type Debit struct {
	SubscriptionID uint    `json:"subscriptionId"`
	Amount         float64 `json:"amount"`
}

// Receipt describes a committed deduction. Shortfall is the part of the
// requested amount no balance covered (soft overage).
type Receipt struct {
	Kind           models.UsageKind     `json:"kind"`
	Requested      float64              `json:"requested"`
	Debits         []Debit              `json:"debits"`
	OneTimeDebit   float64              `json:"oneTimeDebit"`
	Shortfall      float64              `json:"shortfall"`
	SubscriptionID *uint                `json:"subscriptionId,omitempty"`
	TokenUsage     *models.TokenUsage   `json:"tokenUsage,omitempty"`
	ProductUsage   *models.ProductUsage `json:"productUsage,omitempty"`
}

// EngineConfig tunes the deduction engine.
type EngineConfig struct {
	Strict      bool
	MaxAttempts int
}

// Engine consumes balances and appends ledger entries. Subscription and
// one-time pool updates are version-guarded and committed in one transaction
// together with the ledger entry; a conflict restarts the whole unit.
type Engine struct {
	repos    *repository.Repositories
	cfg      EngineConfig
	validate *validator.Validate
	now      func() time.Time
}

// NewEngine creates a deduction engine.
func NewEngine(repos *repository.Repositories, cfg EngineConfig) *Engine {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Engine{repos: repos, cfg: cfg, validate: validator.New(), now: time.Now}
}

// Deduct consumes req.Amount oldest subscription first, then from the
// one-time pool, flooring at zero. In strict mode a request exceeding the
// balance fails with ErrInsufficientBalance before anything is written.
func (e *Engine) Deduct(ctx context.Context, req Request) (*Receipt, error) {
	if err := e.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		receipt, err := e.attempt(ctx, req)
		if errors.Is(err, repository.ErrConflict) {
			metrics.DeductionConflictsTotal.Inc()
			log.Debugf("[Deduction] user %d: version conflict on attempt %d/%d", req.UserID, attempt, e.cfg.MaxAttempts)
			continue
		}
		if err != nil {
			outcome := "error"
			if errors.Is(err, ErrInsufficientBalance) {
				outcome = "rejected"
			}
			metrics.DeductionsTotal.WithLabelValues(string(req.Kind), outcome).Inc()
			return nil, err
		}

		outcome := "ok"
		if receipt.Shortfall > 0 {
			outcome = "overage"
			log.Infof("[Deduction] user %d: %s overage of %.4f", req.UserID, req.Kind, receipt.Shortfall)
		}
		metrics.DeductionsTotal.WithLabelValues(string(req.Kind), outcome).Inc()
		metrics.DeductedAmountTotal.WithLabelValues(string(req.Kind)).Add(req.Amount)
		return receipt, nil
	}

	metrics.DeductionsTotal.WithLabelValues(string(req.Kind), "error").Inc()
	return nil, ErrConcurrentUpdate
}

// DeductTokens is a shortcut for a token deduction.
func (e *Engine) DeductTokens(ctx context.Context, userID uint, amount float64, uc UsageContext) (*Receipt, error) {
	return e.Deduct(ctx, Request{UserID: userID, Amount: amount, Kind: models.UsageKindTokens, Context: uc})
}

// RecordProductUsage deducts a product-unit weight; uc.Action becomes the ledger key.
func (e *Engine) RecordProductUsage(ctx context.Context, userID uint, weight float64, uc UsageContext) (*Receipt, error) {
	return e.Deduct(ctx, Request{UserID: userID, Amount: weight, Kind: models.UsageKindProductUnits, Context: uc})
}

func (e *Engine) attempt(ctx context.Context, req Request) (*Receipt, error) {
	user, err := e.repos.User.GetByID(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("load user %d: %w", req.UserID, err)
	}
	subs, err := e.repos.Subscription.ListActiveByUser(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("load subscriptions of user %d: %w", req.UserID, err)
	}

	plan := planDeduction(subs, user.OneTimeBalance(req.Kind), req.Kind, req.Amount)
	if e.cfg.Strict && plan.shortfall > 0 {
		return nil, ErrInsufficientBalance
	}
	attributed := attribute(subs, req.Kind, req.Context.SubscriptionHint)

	receipt := &Receipt{
		Kind:           req.Kind,
		Requested:      req.Amount,
		OneTimeDebit:   plan.oneTimeDebit,
		Shortfall:      plan.shortfall,
		SubscriptionID: attributed,
	}
	for _, s := range plan.steps {
		receipt.Debits = append(receipt.Debits, Debit{SubscriptionID: s.subscriptionID, Amount: s.amount})
	}

	usedAt := e.now()
	err = e.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		for _, s := range plan.steps {
			if err := tx.Subscription.UpdateRemaining(ctx, s.subscriptionID, s.version, req.Kind, s.remaining); err != nil {
				return err
			}
		}
		if plan.oneTimeDebit > 0 {
			tokens, units := user.OneTimeTokens, user.OneTimeProductUnits
			if req.Kind == models.UsageKindProductUnits {
				units = plan.oneTimeAfter
			} else {
				tokens = plan.oneTimeAfter
			}
			if err := tx.User.UpdateOneTimeBalance(ctx, user.ID, user.BalanceVersion, tokens, units); err != nil {
				return err
			}
		}

		if req.Kind == models.UsageKindProductUnits {
			key := req.Context.Action
			if key == "" {
				key = models.UsageKeyFullProduct
			}
			entry := &models.ProductUsage{
				UserID:         req.UserID,
				SubscriptionID: attributed,
				IntegrationID:  req.Context.IntegrationID,
				ProductID:      req.Context.ProductID,
				JobID:          req.Context.JobID,
				Key:            key,
				Weight:         req.Amount,
				UsedAt:         usedAt,
			}
			if err := tx.Usage.CreateProductUsage(ctx, entry); err != nil {
				return fmt.Errorf("append product usage: %w", err)
			}
			receipt.ProductUsage = entry
			return nil
		}

		entry := &models.TokenUsage{
			UserID:         req.UserID,
			SubscriptionID: attributed,
			TokensUsed:     req.Amount,
			Action:         req.Context.Action,
			ProductID:      req.Context.ProductID,
			JobID:          req.Context.JobID,
			UsedAt:         usedAt,
		}
		if err := tx.Usage.CreateTokenUsage(ctx, entry); err != nil {
			return fmt.Errorf("append token usage: %w", err)
		}
		receipt.TokenUsage = entry
		return nil
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}
