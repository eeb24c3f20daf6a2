package database

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"gorm.io/gorm"
)

const limiterAcquiredKey = "turbopic:limiter_acquired"

// heldKey marks a statement context that already holds a slot, so nested
// statements (preloads, association saves) do not wait on themselves.
type heldKey struct{}

// Limiter bounds the number of simultaneous database statements. It is a
// gorm plugin; every statement acquires one slot before executing and
// releases it afterwards.
type Limiter struct {
	sem      *semaphore.Weighted
	limit    int64
	inFlight atomic.Int64
}

// NewLimiter creates a limiter with the given capacity (at least 1).
func NewLimiter(limit int64) *Limiter {
	if limit < 1 {
		limit = 1
	}
	return &Limiter{sem: semaphore.NewWeighted(limit), limit: limit}
}

// Limit returns the capacity.
func (l *Limiter) Limit() int64 { return l.limit }

// InFlight returns the number of slots currently held.
func (l *Limiter) InFlight() int64 { return l.inFlight.Load() }

// Acquire blocks until a slot is free or ctx is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	l.inFlight.Add(1)
	return nil
}

// Release frees a slot taken with Acquire.
func (l *Limiter) Release() {
	l.inFlight.Add(-1)
	l.sem.Release(1)
}

// Do runs fn while holding one slot.
func (l *Limiter) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := l.Acquire(ctx); err != nil {
		return err
	}
	defer l.Release()
	return fn(ctx)
}

func (l *Limiter) Name() string { return "turbopic:limiter" }

func (l *Limiter) Initialize(db *gorm.DB) error {
	cb := db.Callback()
	if err := cb.Create().Before("*").Register("limiter:before_create", l.before); err != nil {
		return err
	}
	if err := cb.Create().After("*").Register("limiter:after_create", l.after); err != nil {
		return err
	}
	if err := cb.Query().Before("*").Register("limiter:before_query", l.before); err != nil {
		return err
	}
	if err := cb.Query().After("*").Register("limiter:after_query", l.after); err != nil {
		return err
	}
	if err := cb.Update().Before("*").Register("limiter:before_update", l.before); err != nil {
		return err
	}
	if err := cb.Update().After("*").Register("limiter:after_update", l.after); err != nil {
		return err
	}
	if err := cb.Delete().Before("*").Register("limiter:before_delete", l.before); err != nil {
		return err
	}
	if err := cb.Delete().After("*").Register("limiter:after_delete", l.after); err != nil {
		return err
	}
	if err := cb.Row().Before("*").Register("limiter:before_row", l.before); err != nil {
		return err
	}
	if err := cb.Row().After("*").Register("limiter:after_row", l.after); err != nil {
		return err
	}
	if err := cb.Raw().Before("*").Register("limiter:before_raw", l.before); err != nil {
		return err
	}
	return cb.Raw().After("*").Register("limiter:after_raw", l.after)
}

func (l *Limiter) before(db *gorm.DB) {
	ctx := db.Statement.Context
	if ctx == nil {
		ctx = context.Background()
	}
	if ctx.Value(heldKey{}) != nil {
		return
	}
	if err := l.Acquire(ctx); err != nil {
		_ = db.AddError(err)
		return
	}
	db.Statement.Context = context.WithValue(ctx, heldKey{}, true)
	db.InstanceSet(limiterAcquiredKey, true)
}

func (l *Limiter) after(db *gorm.DB) {
	if _, ok := db.InstanceGet(limiterAcquiredKey); ok {
		l.Release()
	}
}
