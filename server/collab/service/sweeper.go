package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"taskhub/server/collab/domain"
	"taskhub/server/collab/repository"
	commonlog "taskhub/server/common/log"
)

type SweepConfig struct {
	ReminderInterval time.Duration
	ReminderWindow   time.Duration
	ExpiryInterval   time.Duration
	Retention        time.Duration
	DigestInterval   time.Duration
	DigestBatchSize  int
}

func DefaultSweepConfig() SweepConfig {
	return SweepConfig{
		ReminderInterval: time.Hour,
		ReminderWindow:   24 * time.Hour,
		ExpiryInterval:   24 * time.Hour,
		Retention:        90 * 24 * time.Hour,
		DigestInterval:   24 * time.Hour,
		DigestBatchSize:  50,
	}
}

// Sweeper runs the periodic jobs that produce and expire notifications
// outside the request cycle. Each job skips its tick while a previous run is
// still in flight; runs never overlap.
type Sweeper struct {
	notify        *NotifyService
	notifications repository.NotificationStore
	prefs         repository.PreferenceStore
	tasks         repository.TaskStore
	users         repository.UserStore
	email         EmailSender
	cfg           SweepConfig

	now    func() time.Time
	cancel context.CancelFunc
	wg     sync.WaitGroup

	reminderActive atomic.Bool
	expiryActive   atomic.Bool
	digestActive   atomic.Bool
}

func NewSweeper(
	notify *NotifyService,
	notifications repository.NotificationStore,
	prefs repository.PreferenceStore,
	tasks repository.TaskStore,
	users repository.UserStore,
	email EmailSender,
	cfg SweepConfig,
) *Sweeper {
	return &Sweeper{
		notify:        notify,
		notifications: notifications,
		prefs:         prefs,
		tasks:         tasks,
		users:         users,
		email:         email,
		cfg:           cfg,
		now:           time.Now,
	}
}

func (s *Sweeper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.runLoop(ctx, "deadline_reminder", s.cfg.ReminderInterval, &s.reminderActive, s.RunReminderSweep)
	s.runLoop(ctx, "notification_expiry", s.cfg.ExpiryInterval, &s.expiryActive, s.RunExpirySweep)
	s.runLoop(ctx, "digest", s.cfg.DigestInterval, &s.digestActive, s.RunDigestSweep)
}

func (s *Sweeper) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Sweeper) runLoop(ctx context.Context, name string, every time.Duration, active *atomic.Bool, run func(context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.runGuarded(ctx, name, active, run)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (s *Sweeper) runGuarded(ctx context.Context, name string, active *atomic.Bool, run func(context.Context) error) {
	if !active.CompareAndSwap(false, true) {
		commonlog.Warnf("event=sweep action=skip reason=previous_run_active job=%s", name)
		return
	}
	defer active.Store(false)

	started := s.now()
	if err := run(ctx); err != nil {
		commonlog.Errorf("event=sweep action=run status=failed job=%s latency_ms=%d error=%v", name, time.Since(started).Milliseconds(), err)
		return
	}
	commonlog.Infof("event=sweep action=run status=ok job=%s latency_ms=%d", name, time.Since(started).Milliseconds())
}

// RunReminderSweep dispatches one deadline reminder per qualifying task to
// its assignee. The task's last_reminded_at marker keeps a task from being
// re-reminded on consecutive sweeps while it stays inside the window.
func (s *Sweeper) RunReminderSweep(ctx context.Context) error {
	due, err := s.tasks.ListDueForReminder(ctx, s.cfg.ReminderWindow)
	if err != nil {
		return fmt.Errorf("list due tasks: %w", err)
	}
	for _, task := range due {
		intent := domain.NotificationIntent{
			RecipientID: task.AssigneeID,
			Kind:        domain.KindDeadlineReminder,
			Title:       "Task due soon",
			Message:     fmt.Sprintf("%q is due %s", task.Title, task.DueAt.Format(time.RFC1123)),
			Payload: map[string]any{
				"task_id":    task.TaskID,
				"project_id": task.ProjectID,
				"due_at":     task.DueAt,
			},
			Priority: domain.PriorityHigh,
			Link:     fmt.Sprintf("/projects/%s/tasks/%s", task.ProjectID, task.TaskID),
		}
		if _, err := s.notify.Dispatch(ctx, intent); err != nil {
			commonlog.Errorf("event=sweep action=remind status=failed task_id=%s assignee_id=%s error=%v", task.TaskID, task.AssigneeID, err)
			continue
		}
		if err := s.tasks.MarkReminded(ctx, task.TaskID, s.now()); err != nil {
			commonlog.Errorf("event=sweep action=mark_reminded status=failed task_id=%s error=%v", task.TaskID, err)
		}
	}
	return nil
}

// RunExpirySweep deletes read notifications older than the retention window.
// Unread notifications are kept regardless of age.
func (s *Sweeper) RunExpirySweep(ctx context.Context) error {
	cutoff := s.now().Add(-s.cfg.Retention)
	deleted, err := s.notifications.DeleteExpiredRead(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("delete expired notifications: %w", err)
	}
	if deleted > 0 {
		commonlog.Infof("event=sweep action=expire deleted=%d cutoff=%s", deleted, cutoff.Format(time.RFC3339))
	}
	return nil
}

// RunDigestSweep batches unread notifications into one digest email per user
// whose digest preference matches the current cadence. Daily users qualify on
// every run, weekly users on Mondays. Users inside their quiet-hours window
// are picked up by a later run instead.
func (s *Sweeper) RunDigestSweep(ctx context.Context) error {
	now := s.now()
	cadences := []domain.DigestFrequency{domain.DigestDaily}
	if now.Weekday() == time.Monday {
		cadences = append(cadences, domain.DigestWeekly)
	}

	for _, cadence := range cadences {
		userIDs, err := s.prefs.ListUserIDsByDigest(ctx, cadence)
		if err != nil {
			return fmt.Errorf("list digest users: %w", err)
		}
		for _, userID := range userIDs {
			if err := s.sendDigest(ctx, userID, cadence, now); err != nil {
				commonlog.Warnf("event=sweep action=digest status=failed user_id=%s error=%v", userID, err)
			}
		}
	}
	return nil
}

func (s *Sweeper) sendDigest(ctx context.Context, userID string, cadence domain.DigestFrequency, now time.Time) error {
	profile, err := s.prefs.GetByUser(ctx, userID)
	if err != nil {
		return err
	}
	if profile.InQuietHours(now) {
		return nil
	}
	unread, err := s.notifications.ListByUser(ctx, userID, repository.NotificationFilter{UnreadOnly: true, Limit: s.cfg.DigestBatchSize})
	if err != nil {
		return err
	}
	if len(unread) == 0 {
		return nil
	}
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}

	items := make([]map[string]any, 0, len(unread))
	for _, n := range unread {
		items = append(items, map[string]any{
			"kind":       string(n.Kind),
			"title":      n.Title,
			"created_at": n.CreatedAt,
		})
	}
	return s.email.Send(ctx, user.Email, "digest", map[string]any{
		"cadence": string(cadence),
		"count":   len(unread),
		"items":   items,
	})
}
