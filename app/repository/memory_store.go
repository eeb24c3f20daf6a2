package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ManuelReschke/Turbopic/app/models"
)

// memoryData is the shared state behind the in-memory repositories. It keeps
// the same version-guard and grant-guard semantics as the gorm store.
type memoryData struct {
	mu   sync.Mutex
	txMu sync.Mutex

	nextID       uint
	users        map[uint]models.User
	plans        map[uint]models.Plan
	subs         map[uint]models.Subscription
	tokenUsage   []models.TokenUsage
	productUsage []models.ProductUsage
	permissions  []models.Permission
	integrations map[uint]models.Integration
	payments     map[string]models.Payment
	events       []models.BillingWebhookEvent
	products     map[uint]models.GeneratedProduct
}

// NewMemoryStore returns repositories backed by process memory. Transactions
// are serialized and rolled back by restoring a snapshot.
func NewMemoryStore() *Repositories {
	d := &memoryData{
		users:        map[uint]models.User{},
		plans:        map[uint]models.Plan{},
		subs:         map[uint]models.Subscription{},
		integrations: map[uint]models.Integration{},
		payments:     map[string]models.Payment{},
		products:     map[uint]models.GeneratedProduct{},
	}
	repos := &Repositories{
		User:         &memUsers{d},
		Plan:         &memPlans{d},
		Subscription: &memSubs{d},
		Usage:        &memUsage{d},
		Permission:   &memPermissions{d},
		Integration:  &memIntegrations{d},
		Payment:      &memPayments{d},
		WebhookEvent: &memEvents{d},
		Product:      &memProducts{d},
	}
	repos.transaction = func(ctx context.Context, fn func(tx *Repositories) error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		d.txMu.Lock()
		defer d.txMu.Unlock()
		snap := d.snapshot()
		if err := fn(repos); err != nil {
			d.restore(snap)
			return err
		}
		return nil
	}
	return repos
}

func (d *memoryData) id() uint {
	d.nextID++
	return d.nextID
}

func (d *memoryData) snapshot() *memoryData {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := &memoryData{
		nextID:       d.nextID,
		users:        make(map[uint]models.User, len(d.users)),
		plans:        make(map[uint]models.Plan, len(d.plans)),
		subs:         make(map[uint]models.Subscription, len(d.subs)),
		tokenUsage:   append([]models.TokenUsage(nil), d.tokenUsage...),
		productUsage: append([]models.ProductUsage(nil), d.productUsage...),
		permissions:  append([]models.Permission(nil), d.permissions...),
		integrations: make(map[uint]models.Integration, len(d.integrations)),
		payments:     make(map[string]models.Payment, len(d.payments)),
		events:       append([]models.BillingWebhookEvent(nil), d.events...),
		products:     make(map[uint]models.GeneratedProduct, len(d.products)),
	}
	for k, v := range d.users {
		s.users[k] = v
	}
	for k, v := range d.plans {
		s.plans[k] = v
	}
	for k, v := range d.subs {
		s.subs[k] = v
	}
	for k, v := range d.integrations {
		s.integrations[k] = v
	}
	for k, v := range d.payments {
		s.payments[k] = v
	}
	for k, v := range d.products {
		s.products[k] = v
	}
	return s
}

func (d *memoryData) restore(s *memoryData) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID = s.nextID
	d.users = s.users
	d.plans = s.plans
	d.subs = s.subs
	d.tokenUsage = s.tokenUsage
	d.productUsage = s.productUsage
	d.permissions = s.permissions
	d.integrations = s.integrations
	d.payments = s.payments
	d.events = s.events
	d.products = s.products
}

func stamp(created, updated *time.Time) {
	now := time.Now()
	if created != nil && created.IsZero() {
		*created = now
	}
	if updated != nil {
		*updated = now
	}
}

func inRange(t, from, to time.Time) bool {
	return !t.Before(from) && t.Before(to)
}

// users

type memUsers struct{ d *memoryData }

func (r *memUsers) Create(_ context.Context, user *models.User) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	for _, u := range r.d.users {
		if u.Email == user.Email {
			return ErrDuplicate
		}
	}
	user.ID = r.d.id()
	if user.BalanceVersion == 0 {
		user.BalanceVersion = 1
	}
	stamp(&user.CreatedAt, &user.UpdatedAt)
	r.d.users[user.ID] = *user
	return nil
}

func (r *memUsers) GetByID(_ context.Context, id uint) (*models.User, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	u, ok := r.d.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (r *memUsers) GetByEmail(_ context.Context, email string) (*models.User, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	email = strings.ToLower(strings.TrimSpace(email))
	for _, u := range r.d.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, ErrNotFound
}

func (r *memUsers) GetByStripeCustomerID(_ context.Context, customerID string) (*models.User, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	if customerID == "" {
		return nil, ErrNotFound
	}
	for _, u := range r.d.users {
		if u.StripeCustomerID == customerID {
			return &u, nil
		}
	}
	return nil, ErrNotFound
}

func (r *memUsers) SetStripeCustomerID(_ context.Context, id uint, customerID string) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	u, ok := r.d.users[id]
	if !ok {
		return ErrNotFound
	}
	u.StripeCustomerID = customerID
	r.d.users[id] = u
	return nil
}

func (r *memUsers) UpdateOneTimeBalance(_ context.Context, id uint, expectedVersion int64, tokens, productUnits float64) error {
	if tokens < 0 || productUnits < 0 {
		return fmt.Errorf("negative one-time balance for user %d", id)
	}
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	u, ok := r.d.users[id]
	if !ok || u.BalanceVersion != expectedVersion {
		return ErrConflict
	}
	u.OneTimeTokens = tokens
	u.OneTimeProductUnits = productUnits
	u.BalanceVersion++
	r.d.users[id] = u
	return nil
}

func (r *memUsers) CreditOneTime(_ context.Context, id uint, kind models.UsageKind, amount float64) error {
	if amount <= 0 {
		return nil
	}
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	u, ok := r.d.users[id]
	if !ok {
		return ErrNotFound
	}
	if kind == models.UsageKindProductUnits {
		u.OneTimeProductUnits += amount
	} else {
		u.OneTimeTokens += amount
	}
	u.BalanceVersion++
	r.d.users[id] = u
	return nil
}

// plans

type memPlans struct{ d *memoryData }

func (r *memPlans) Create(_ context.Context, plan *models.Plan) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	plan.ID = r.d.id()
	stamp(&plan.CreatedAt, &plan.UpdatedAt)
	stored := *plan
	stored.Permissions = nil
	r.d.plans[plan.ID] = stored
	for _, p := range plan.Permissions {
		planID := plan.ID
		p.PlanID = &planID
		p.ID = r.d.id()
		r.d.permissions = append(r.d.permissions, p)
	}
	return nil
}

func (r *memPlans) GetByID(_ context.Context, id uint) (*models.Plan, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	p, ok := r.d.plans[id]
	if !ok {
		return nil, ErrNotFound
	}
	for _, perm := range r.d.permissions {
		if perm.PlanID != nil && *perm.PlanID == id {
			p.Permissions = append(p.Permissions, perm)
		}
	}
	return &p, nil
}

func (r *memPlans) GetByStripePriceID(_ context.Context, priceID string) (*models.Plan, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	if priceID == "" {
		return nil, ErrNotFound
	}
	for _, p := range r.d.plans {
		if p.StripePriceID == priceID {
			return &p, nil
		}
	}
	return nil, ErrNotFound
}

func (r *memPlans) sorted(keep func(models.Plan) bool) []models.Plan {
	out := make([]models.Plan, 0, len(r.d.plans))
	for _, p := range r.d.plans {
		if keep(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *memPlans) List(_ context.Context) ([]models.Plan, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	return r.sorted(func(models.Plan) bool { return true }), nil
}

func (r *memPlans) ListVisible(_ context.Context, kind string) ([]models.Plan, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	return r.sorted(func(p models.Plan) bool {
		return p.Visible && (kind == "" || p.Kind == kind)
	}), nil
}

func (r *memPlans) UpsertByStripePrice(ctx context.Context, plan *models.Plan) error {
	existing, err := r.GetByStripePriceID(ctx, plan.StripePriceID)
	if errors.Is(err, ErrNotFound) {
		plan.Visible = true
		return r.Create(ctx, plan)
	}
	if err != nil {
		return err
	}
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	plan.ID = existing.ID
	plan.Visible = true
	plan.CreatedAt = existing.CreatedAt
	plan.ShopifyPlanHandle = existing.ShopifyPlanHandle
	stamp(nil, &plan.UpdatedAt)
	stored := *plan
	stored.Permissions = nil
	r.d.plans[plan.ID] = stored
	return nil
}

func (r *memPlans) SetVisible(_ context.Context, id uint, visible bool) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	p, ok := r.d.plans[id]
	if !ok {
		return nil
	}
	p.Visible = visible
	r.d.plans[id] = p
	return nil
}

// subscriptions

type memSubs struct{ d *memoryData }

func (r *memSubs) withPlan(s models.Subscription) models.Subscription {
	if p, ok := r.d.plans[s.PlanID]; ok {
		s.Plan = &p
	} else {
		s.Plan = nil
	}
	return s
}

func (r *memSubs) Create(_ context.Context, sub *models.Subscription) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	for _, s := range r.d.subs {
		if s.Provider == sub.Provider && s.ExternalID == sub.ExternalID {
			return ErrDuplicate
		}
	}
	sub.ID = r.d.id()
	if sub.Version == 0 {
		sub.Version = 1
	}
	stamp(&sub.CreatedAt, &sub.UpdatedAt)
	stored := *sub
	stored.Plan = nil
	r.d.subs[sub.ID] = stored
	return nil
}

func (r *memSubs) GetByID(_ context.Context, id uint) (*models.Subscription, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	s, ok := r.d.subs[id]
	if !ok {
		return nil, ErrNotFound
	}
	s = r.withPlan(s)
	return &s, nil
}

func (r *memSubs) GetByExternalID(_ context.Context, provider, externalID string) (*models.Subscription, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	for _, s := range r.d.subs {
		if s.Provider == provider && s.ExternalID == externalID {
			s = r.withPlan(s)
			return &s, nil
		}
	}
	return nil, ErrNotFound
}

func (r *memSubs) filter(keep func(models.Subscription) bool) []models.Subscription {
	out := []models.Subscription{}
	for _, s := range r.d.subs {
		if keep(s) {
			out = append(out, r.withPlan(s))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (r *memSubs) ListActiveByUser(_ context.Context, userID uint) ([]models.Subscription, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	return r.filter(func(s models.Subscription) bool {
		return s.UserID == userID && models.IsCapacityBearing(s.Status)
	}), nil
}

func (r *memSubs) LatestPaidByUser(_ context.Context, userID uint) (*models.Subscription, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	list := r.filter(func(s models.Subscription) bool {
		return s.UserID == userID && s.Status == models.SubscriptionStatusPaid
	})
	if len(list) == 0 {
		return nil, ErrNotFound
	}
	latest := list[len(list)-1]
	return &latest, nil
}

func (r *memSubs) ListByProviderStatus(_ context.Context, provider, status string) ([]models.Subscription, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	list := r.filter(func(s models.Subscription) bool {
		return s.Provider == provider && s.Status == status
	})
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list, nil
}

func (r *memSubs) Update(_ context.Context, sub *models.Subscription) error {
	if sub.RemainingTokens < 0 || sub.RemainingProductUnits < 0 {
		return fmt.Errorf("negative remaining capacity on subscription %d", sub.ID)
	}
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	s, ok := r.d.subs[sub.ID]
	if !ok || s.Version != sub.Version {
		return ErrConflict
	}
	s.PlanID = sub.PlanID
	s.Status = sub.Status
	s.CurrentPeriodEnd = sub.CurrentPeriodEnd
	s.RemainingTokens = sub.RemainingTokens
	s.RemainingProductUnits = sub.RemainingProductUnits
	s.LastGrantedPeriodEnd = sub.LastGrantedPeriodEnd
	s.LastGrantKey = sub.LastGrantKey
	s.ShopGID = sub.ShopGID
	s.CustomerID = sub.CustomerID
	s.Version++
	stamp(nil, &s.UpdatedAt)
	r.d.subs[sub.ID] = s
	sub.Version = s.Version
	return nil
}

func (r *memSubs) UpdateRemaining(_ context.Context, id uint, expectedVersion int64, kind models.UsageKind, remaining float64) error {
	if remaining < 0 {
		return fmt.Errorf("negative remaining capacity on subscription %d", id)
	}
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	s, ok := r.d.subs[id]
	if !ok || s.Version != expectedVersion {
		return ErrConflict
	}
	if kind == models.UsageKindProductUnits {
		s.RemainingProductUnits = remaining
	} else {
		s.RemainingTokens = remaining
	}
	s.Version++
	r.d.subs[id] = s
	return nil
}

func (r *memSubs) GrantCycle(_ context.Context, id uint, grant CycleGrant) (bool, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	s, ok := r.d.subs[id]
	if !ok {
		return false, nil
	}
	end := grant.PeriodEnd.UTC()
	if s.LastGrantedPeriodEnd != nil && !s.LastGrantedPeriodEnd.Before(end) {
		return false, nil
	}
	s.PlanID = grant.PlanID
	s.Status = grant.Status
	s.CurrentPeriodEnd = &end
	s.RemainingTokens = grant.Tokens
	s.RemainingProductUnits = grant.ProductUnits
	s.LastGrantedPeriodEnd = &end
	s.LastGrantKey = grant.GrantKey
	s.Version++
	stamp(nil, &s.UpdatedAt)
	r.d.subs[id] = s
	return true, nil
}

// usage ledger

type memUsage struct{ d *memoryData }

func (r *memUsage) CreateTokenUsage(_ context.Context, usage *models.TokenUsage) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	usage.ID = r.d.id()
	if usage.UsedAt.IsZero() {
		usage.UsedAt = time.Now()
	}
	r.d.tokenUsage = append(r.d.tokenUsage, *usage)
	return nil
}

func (r *memUsage) CreateProductUsage(_ context.Context, usage *models.ProductUsage) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	usage.ID = r.d.id()
	if usage.UsedAt.IsZero() {
		usage.UsedAt = time.Now()
	}
	stored := *usage
	stored.Integration = nil
	r.d.productUsage = append(r.d.productUsage, stored)
	return nil
}

func (r *memUsage) SumTokenUsage(_ context.Context, userID uint, from, to time.Time) (float64, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	var total float64
	for _, u := range r.d.tokenUsage {
		if u.UserID == userID && inRange(u.UsedAt, from, to) {
			total += u.TokensUsed
		}
	}
	return total, nil
}

func (r *memUsage) SumProductUsage(_ context.Context, userID uint, from, to time.Time) (float64, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	var total float64
	for _, u := range r.d.productUsage {
		if u.UserID == userID && inRange(u.UsedAt, from, to) {
			total += u.Weight
		}
	}
	return total, nil
}

func (r *memUsage) ListTokenUsage(_ context.Context, userID uint, from, to time.Time) ([]models.TokenUsage, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	out := []models.TokenUsage{}
	for _, u := range r.d.tokenUsage {
		if u.UserID == userID && inRange(u.UsedAt, from, to) {
			out = append(out, u)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].UsedAt.Before(out[j].UsedAt) })
	return out, nil
}

func (r *memUsage) ListProductUsage(_ context.Context, userID uint, from, to time.Time) ([]models.ProductUsage, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	out := []models.ProductUsage{}
	for _, u := range r.d.productUsage {
		if u.UserID != userID || !inRange(u.UsedAt, from, to) {
			continue
		}
		if u.IntegrationID != nil {
			if in, ok := r.d.integrations[*u.IntegrationID]; ok {
				u.Integration = &in
			}
		}
		out = append(out, u)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].UsedAt.Before(out[j].UsedAt) })
	return out, nil
}

// permissions

type memPermissions struct{ d *memoryData }

func (r *memPermissions) Create(_ context.Context, perm *models.Permission) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	perm.ID = r.d.id()
	stamp(&perm.CreatedAt, nil)
	r.d.permissions = append(r.d.permissions, *perm)
	return nil
}

func (r *memPermissions) ListByPlan(_ context.Context, planID uint) ([]models.Permission, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	out := []models.Permission{}
	for _, p := range r.d.permissions {
		if p.PlanID != nil && *p.PlanID == planID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *memPermissions) ListByUser(_ context.Context, userID uint) ([]models.Permission, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	out := []models.Permission{}
	for _, p := range r.d.permissions {
		if p.UserID != nil && *p.UserID == userID {
			out = append(out, p)
		}
	}
	return out, nil
}

// integrations

type memIntegrations struct{ d *memoryData }

func (r *memIntegrations) Create(_ context.Context, in *models.Integration) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	in.ShopDomain = models.NormalizeShopDomain(in.ShopDomain)
	for _, existing := range r.d.integrations {
		if existing.ShopDomain == in.ShopDomain {
			return ErrDuplicate
		}
	}
	in.ID = r.d.id()
	stamp(&in.CreatedAt, &in.UpdatedAt)
	r.d.integrations[in.ID] = *in
	return nil
}

func (r *memIntegrations) find(match func(models.Integration) bool) (*models.Integration, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	var found *models.Integration
	for _, in := range r.d.integrations {
		if match(in) && (found == nil || in.ID < found.ID) {
			in := in
			found = &in
		}
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}

func (r *memIntegrations) GetByID(_ context.Context, id uint) (*models.Integration, error) {
	return r.find(func(in models.Integration) bool { return in.ID == id })
}

func (r *memIntegrations) GetByShopDomain(_ context.Context, domain string) (*models.Integration, error) {
	domain = models.NormalizeShopDomain(domain)
	if domain == "" {
		return nil, ErrNotFound
	}
	return r.find(func(in models.Integration) bool { return in.ShopDomain == domain })
}

func (r *memIntegrations) GetByShopGID(_ context.Context, gid string) (*models.Integration, error) {
	if strings.TrimSpace(gid) == "" {
		return nil, ErrNotFound
	}
	return r.find(func(in models.Integration) bool { return in.ShopGID == gid })
}

func (r *memIntegrations) ListByEmail(_ context.Context, email string) ([]models.Integration, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, nil
	}
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	out := []models.Integration{}
	for _, in := range r.d.integrations {
		if strings.ToLower(in.Email) == email {
			out = append(out, in)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memIntegrations) GetByTokenHash(_ context.Context, hash string) (*models.Integration, error) {
	hash = strings.TrimSpace(hash)
	if hash == "" {
		return nil, ErrNotFound
	}
	return r.find(func(in models.Integration) bool { return in.HasActiveToken() && in.TokenHash == hash })
}

func (r *memIntegrations) TouchToken(_ context.Context, id uint) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	in, ok := r.d.integrations[id]
	if !ok {
		return nil
	}
	in.TouchTokenUsage()
	r.d.integrations[id] = in
	return nil
}

// payments

type memPayments struct{ d *memoryData }

func (r *memPayments) Upsert(_ context.Context, payment *models.Payment) (string, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	existing, ok := r.d.payments[payment.InvoiceID]
	if !ok {
		payment.ID = r.d.id()
		stamp(&payment.CreatedAt, &payment.UpdatedAt)
		r.d.payments[payment.InvoiceID] = *payment
		return "", nil
	}
	payment.ID = existing.ID
	payment.UserID = existing.UserID
	payment.Provider = existing.Provider
	payment.CreatedAt = existing.CreatedAt
	stamp(nil, &payment.UpdatedAt)
	r.d.payments[payment.InvoiceID] = *payment
	return existing.Status, nil
}

func (r *memPayments) ListByUser(_ context.Context, userID uint, from, to time.Time) ([]models.Payment, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	out := []models.Payment{}
	for _, p := range r.d.payments {
		if p.UserID == userID && inRange(p.PaidAt, from, to) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PaidAt.Equal(out[j].PaidAt) {
			return out[i].PaidAt.Before(out[j].PaidAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// webhook journal

type memEvents struct{ d *memoryData }

func (r *memEvents) Record(_ context.Context, event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	for _, e := range r.d.events {
		if e.Provider == event.Provider && e.ProviderEventID == event.ProviderEventID {
			e := e
			return false, &e, nil
		}
	}
	event.ID = r.d.id()
	if event.Status == "" {
		event.Status = models.WebhookEventStatusReceived
	}
	stamp(&event.CreatedAt, &event.UpdatedAt)
	r.d.events = append(r.d.events, *event)
	stored := *event
	return true, &stored, nil
}

func (r *memEvents) MarkProcessed(_ context.Context, id uint, processingError string) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	for i := range r.d.events {
		if r.d.events[i].ID != id {
			continue
		}
		now := time.Now()
		r.d.events[i].ProcessedAt = &now
		r.d.events[i].ProcessingError = processingError
		r.d.events[i].Attempts++
		if processingError != "" {
			r.d.events[i].Status = models.WebhookEventStatusFailed
		} else {
			r.d.events[i].Status = models.WebhookEventStatusProcessed
		}
		return nil
	}
	return ErrNotFound
}

// generated products

type memProducts struct{ d *memoryData }

func (r *memProducts) Create(_ context.Context, product *models.GeneratedProduct) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	product.ID = r.d.id()
	stamp(&product.CreatedAt, &product.UpdatedAt)
	r.d.products[product.ID] = *product
	return nil
}

func (r *memProducts) GetByID(_ context.Context, id uint) (*models.GeneratedProduct, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	p, ok := r.d.products[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (r *memProducts) UpdateJobStatus(_ context.Context, id uint, status, jobError string) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	p, ok := r.d.products[id]
	if !ok {
		return nil
	}
	p.JobStatus = status
	p.JobError = jobError
	stamp(nil, &p.UpdatedAt)
	r.d.products[id] = p
	return nil
}
