package permissions

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/Turbopic/app/models"
	"github.com/ManuelReschke/Turbopic/app/repository"
)

// Set maps a category to its effective key.
type Set map[string]Key

// Strings renders the set the way clients consume it: category -> raw key.
func (s Set) Strings() map[string]string {
	out := make(map[string]string, len(s))
	for cat, k := range s {
		out[cat] = k.String()
	}
	return out
}

// Options narrows a permission check. With neither set, presence suffices.
type Options struct {
	ExactValue *string
	MinValue   *float64
}

// Deriver resolves effective permissions from the latest paid subscription's
// plan, overlaid by the user's own permissions.
type Deriver struct {
	repos *repository.Repositories
}

// NewDeriver creates a permission deriver.
func NewDeriver(repos *repository.Repositories) *Deriver {
	return &Deriver{repos: repos}
}

// Effective returns the category -> key mapping for a user. User permissions
// win over plan permissions of the same category.
func (d *Deriver) Effective(ctx context.Context, userID uint) (Set, error) {
	set := Set{}

	sub, err := d.repos.Subscription.LatestPaidByUser(ctx, userID)
	switch {
	case err == nil:
		perms, err := d.repos.Permission.ListByPlan(ctx, sub.PlanID)
		if err != nil {
			return nil, fmt.Errorf("load plan permissions: %w", err)
		}
		overlay(set, perms)
	case !errors.Is(err, repository.ErrNotFound):
		return nil, fmt.Errorf("load paid subscription: %w", err)
	}

	perms, err := d.repos.Permission.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user permissions: %w", err)
	}
	overlay(set, perms)
	return set, nil
}

// Has reports whether the user holds the category of key and, when
// requested, whether its value matches exactly or reaches a minimum.
func (d *Deriver) Has(ctx context.Context, userID uint, key string, opts Options) (bool, error) {
	wanted, err := ParseKey(key)
	if err != nil {
		return false, err
	}
	set, err := d.Effective(ctx, userID)
	if err != nil {
		return false, err
	}
	granted, ok := set[wanted.Category]
	if !ok {
		return false, nil
	}
	return Satisfies(granted, opts), nil
}

// Value returns the value segment of the user's effective key for category.
func (d *Deriver) Value(ctx context.Context, userID uint, category string) (string, bool, error) {
	set, err := d.Effective(ctx, userID)
	if err != nil {
		return "", false, err
	}
	k, ok := set[category]
	if !ok {
		return "", false, nil
	}
	return k.Value, true, nil
}

// Satisfies applies opts to a granted key. MinValue compares the whole value
// as a number, so values with a non-numeric suffix such as "10abc" never
// satisfy it.
func Satisfies(granted Key, opts Options) bool {
	if opts.ExactValue != nil {
		return granted.Value == *opts.ExactValue
	}
	if opts.MinValue != nil {
		n, err := strconv.ParseFloat(granted.Value, 64)
		return err == nil && n >= *opts.MinValue
	}
	return true
}

func overlay(set Set, perms []models.Permission) {
	for _, p := range perms {
		k, err := ParseKey(p.Key)
		if err != nil {
			log.Warnf("[Permissions] skipping malformed key %q (id %d)", p.Key, p.ID)
			continue
		}
		set[k.Category] = k
	}
}
