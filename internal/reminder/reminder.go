// Package reminder schedules durable, at-least-once reminders.
//
// A reminder is addressed by (owner key, kind). Scheduling a reminder for a
// pair that already has one replaces it. Reminder records are persisted and
// re-armed via Recover after a restart, a record is only removed after its
// handler returned without error.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/simplesurance/depflow/internal/logfields"
	"github.com/simplesurance/depflow/internal/statestore"
)

// Kind distinguishes the reminders an owner key can have in parallel.
type Kind string

const (
	// KindCodeFlow re-evaluates a pending code flow whose synchronization
	// branch was not ready yet.
	KindCodeFlow Kind = "code_flow"
	// KindPullRequestUpdate retries applying pending updates to a pull
	// request that could not be updated.
	KindPullRequestUpdate Kind = "pull_request_update"
	// KindPullRequestCheck re-checks the state of an open pull request.
	KindPullRequestCheck Kind = "pull_request_check"
)

const (
	keyPrefix = "reminder/"
	// handlerRetryDelay is the delay before a reminder whose handler
	// failed fires again.
	handlerRetryDelay = time.Minute
	handlerTimeout    = 15 * time.Minute
)

// Reminder is one scheduled reminder.
type Reminder struct {
	OwnerKey string    `json:"ownerKey"`
	Kind     Kind      `json:"kind"`
	DueAt    time.Time `json:"dueAt"`
}

// Handler processes fired reminders.
// A non-nil return value causes the reminder to fire again later.
type Handler interface {
	ProcessReminder(ctx context.Context, rem *Reminder) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, rem *Reminder) error

func (f HandlerFunc) ProcessReminder(ctx context.Context, rem *Reminder) error {
	return f(ctx, rem)
}

// Scheduler persists reminders and fires them via in-memory timers.
type Scheduler struct {
	store   statestore.Store
	handler Handler
	logger  *zap.Logger

	lock     sync.Mutex
	timers   map[string]*time.Timer
	stopped  bool
	inflight sync.WaitGroup
}

func NewScheduler(store statestore.Store, handler Handler) *Scheduler {
	return &Scheduler{
		store:   store,
		handler: handler,
		logger:  zap.L().Named("reminder"),
		timers:  map[string]*time.Timer{},
	}
}

func storeKey(ownerKey string, kind Kind) string {
	return keyPrefix + ownerKey + "/" + string(kind)
}

// Schedule persists a reminder firing after dueIn and arms a timer for it.
// An already scheduled reminder for the same (ownerKey, kind) is replaced.
func (s *Scheduler) Schedule(ctx context.Context, ownerKey string, kind Kind, dueIn time.Duration) error {
	rem := Reminder{
		OwnerKey: ownerKey,
		Kind:     kind,
		DueAt:    time.Now().Add(dueIn),
	}

	key := storeKey(ownerKey, kind)

	if err := s.store.Put(ctx, key, &rem); err != nil {
		return fmt.Errorf("persisting reminder failed: %w", err)
	}

	s.arm(key, &rem, dueIn)

	s.logger.Debug(
		"reminder scheduled",
		logfields.Event("reminder_scheduled"),
		logfields.TargetKey(ownerKey),
		logfields.ReminderKind(string(kind)),
		zap.Time("depflow.reminder_due_at", rem.DueAt),
	)

	return nil
}

// Cancel removes a scheduled reminder.
// Cancelling a reminder that does not exist is not an error.
func (s *Scheduler) Cancel(ctx context.Context, ownerKey string, kind Kind) error {
	key := storeKey(ownerKey, kind)

	s.lock.Lock()
	if timer, exist := s.timers[key]; exist {
		timer.Stop()
		delete(s.timers, key)
	}
	s.lock.Unlock()

	return s.store.Delete(ctx, key)
}

// Recover arms timers for all persisted reminders.
// Reminders that became due while depflow was not running fire immediately.
func (s *Scheduler) Recover(ctx context.Context) error {
	keys, err := s.store.Keys(ctx, keyPrefix)
	if err != nil {
		return fmt.Errorf("listing persisted reminders failed: %w", err)
	}

	for _, key := range keys {
		var rem Reminder

		if err := s.store.Get(ctx, key, &rem); err != nil {
			return fmt.Errorf("loading reminder %q failed: %w", key, err)
		}

		s.arm(key, &rem, time.Until(rem.DueAt))
	}

	if len(keys) > 0 {
		s.logger.Info(
			"persisted reminders recovered",
			logfields.Event("reminders_recovered"),
			zap.Int("depflow.reminder_count", len(keys)),
		)
	}

	return nil
}

// Stop prevents further reminders from firing and waits for running handlers.
func (s *Scheduler) Stop() {
	s.lock.Lock()
	s.stopped = true
	for key, timer := range s.timers {
		timer.Stop()
		delete(s.timers, key)
	}
	s.lock.Unlock()

	s.inflight.Wait()
}

func (s *Scheduler) arm(key string, rem *Reminder, dueIn time.Duration) {
	if dueIn < 0 {
		dueIn = 0
	}

	remCopy := *rem

	s.lock.Lock()
	defer s.lock.Unlock()

	if s.stopped {
		return
	}

	if timer, exist := s.timers[key]; exist {
		timer.Stop()
	}

	s.timers[key] = time.AfterFunc(dueIn, func() {
		s.fire(key, &remCopy)
	})
}

func (s *Scheduler) fire(key string, rem *Reminder) {
	s.lock.Lock()
	if s.stopped {
		s.lock.Unlock()
		return
	}
	delete(s.timers, key)
	s.inflight.Add(1)
	s.lock.Unlock()

	defer s.inflight.Done()

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	logger := s.logger.With(
		logfields.TargetKey(rem.OwnerKey),
		logfields.ReminderKind(string(rem.Kind)),
	)

	logger.Debug("reminder fired", logfields.Event("reminder_fired"))

	if err := s.handler.ProcessReminder(ctx, rem); err != nil {
		logger.Info(
			"processing reminder failed, rescheduling",
			logfields.Event("reminder_processing_failed"),
			zap.Error(err),
			zap.Duration("depflow.reminder_retry_delay", handlerRetryDelay),
		)

		s.arm(key, rem, handlerRetryDelay)

		return
	}

	// only a successfully handled reminder is removed, a crash before this
	// point makes it fire again after Recover
	if err := s.deleteIfUnchanged(ctx, key, rem); err != nil {
		logger.Warn(
			"deleting processed reminder failed",
			logfields.Event("reminder_deletion_failed"),
			zap.Error(err),
		)
	}

	logger.Debug("reminder processed", logfields.Event("reminder_processed"))
}

// deleteIfUnchanged removes the record of a fired reminder.
// The record stays when the handler scheduled a new reminder under the same
// key, the new one must survive a restart.
func (s *Scheduler) deleteIfUnchanged(ctx context.Context, key string, fired *Reminder) error {
	var stored Reminder

	err := s.store.Get(ctx, key, &stored)
	if errors.Is(err, statestore.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if !stored.DueAt.Equal(fired.DueAt) {
		return nil
	}

	return s.store.Delete(ctx, key)
}
