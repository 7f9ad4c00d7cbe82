// Package registry tracks payments diverted into a 3-D Secure
// challenge. Each entry races a fixed expiry timer against manual
// resolution; exactly one of the two paths delivers a notification.
package registry

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Notifier receives the terminal notification for a challenge, in the
// processor's status vocabulary ("SUCCESS" or "FAILED").
type Notifier interface {
	DeliverNotification(ctx context.Context, externalID, status string, finalAmount int64) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, externalID, status string, finalAmount int64) error

func (f NotifierFunc) DeliverNotification(ctx context.Context, externalID, status string, finalAmount int64) error {
	return f(ctx, externalID, status, finalAmount)
}

// Timer is a cancellable pending callback.
type Timer interface {
	Stop() bool
}

// Scheduler creates timers. Tests inject a fake to advance virtual time
// instead of sleeping. Implementations must not run the callback
// synchronously from within AfterFunc.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// NewScheduler returns the wall-clock scheduler.
func NewScheduler() Scheduler {
	return realScheduler{}
}

type entry struct {
	externalID     string
	callbackTarget string
	amount         int64
	timer          Timer
}

// Registry is the in-memory table of outstanding challenges.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry

	sched        Scheduler
	notifier     Notifier
	ttl          time.Duration
	resolveDelay time.Duration
	logger       *slog.Logger
}

func New(sched Scheduler, notifier Notifier, ttl, resolveDelay time.Duration, logger *slog.Logger) *Registry {
	return &Registry{
		entries:      make(map[string]*entry),
		sched:        sched,
		notifier:     notifier,
		ttl:          ttl,
		resolveDelay: resolveDelay,
		logger:       logger,
	}
}

// Register inserts a pending challenge and arms its expiry timer.
func (r *Registry) Register(externalID, callbackTarget string, amount int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := &entry{
		externalID:     externalID,
		callbackTarget: callbackTarget,
		amount:         amount,
	}
	r.entries[externalID] = e
	e.timer = r.sched.AfterFunc(r.ttl, func() {
		r.expire(externalID)
	})

	r.logger.Info("Challenge registered", "external_id", externalID, "ttl", r.ttl)
}

// expire is the timer-fire path. The entry may already have been taken
// by Resolve, so removal is a check-and-delete: only the winner
// delivers a notification.
func (r *Registry) expire(externalID string) {
	e := r.take(externalID)
	if e == nil {
		return
	}

	r.logger.Info("Challenge expired", "external_id", externalID)

	if err := r.notifier.DeliverNotification(context.Background(), externalID, "FAILED", e.amount); err != nil {
		r.logger.Error("Failed to deliver expiry notification", "external_id", externalID, "error", err)
	}
}

// Resolve completes a challenge manually. It cancels the expiry timer
// and schedules a single delayed success notification, simulating the
// processor's own settlement lag. Returns false when the challenge was
// already resolved, expired, or never existed.
func (r *Registry) Resolve(externalID string) bool {
	e := r.take(externalID)
	if e == nil {
		return false
	}
	e.timer.Stop()

	r.logger.Info("Challenge resolved", "external_id", externalID, "delay", r.resolveDelay)

	r.sched.AfterFunc(r.resolveDelay, func() {
		if err := r.notifier.DeliverNotification(context.Background(), externalID, "SUCCESS", e.amount); err != nil {
			r.logger.Error("Failed to deliver resolution notification", "external_id", externalID, "error", err)
		}
	})
	return true
}

// take atomically removes and returns an entry. At most one caller ever
// receives a given entry.
func (r *Registry) take(externalID string) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[externalID]
	if !ok {
		return nil
	}
	delete(r.entries, externalID)
	return e
}

// Pending reports whether a challenge is still outstanding.
func (r *Registry) Pending(externalID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[externalID]
	return ok
}
