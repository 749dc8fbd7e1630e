package service

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"taskhub/server/collab/domain"
	"taskhub/server/collab/repository"
)

type sweepFixture struct {
	sweeper *Sweeper
	store   *memNotificationStore
	prefs   *memPreferenceStore
	tasks   *memTaskStore
	email   *recordingEmailSender
}

func newSweepFixture(t *testing.T, tasks *memTaskStore) *sweepFixture {
	t.Helper()
	store := newMemNotificationStore()
	prefs := newMemPreferenceStore()
	users := newMemUserStore(
		domain.User{ID: "alice", OrgID: "org1", Email: "alice@example.com", Name: "Alice"},
		domain.User{ID: "bob", OrgID: "org1", Email: "bob@example.com", Name: "Bob"},
	)
	email := &recordingEmailSender{}
	notify := NewNotifyService(store, prefs, users, email, &recordingPushSender{}, nil)
	sweeper := NewSweeper(notify, store, prefs, tasks, users, email, DefaultSweepConfig())
	return &sweepFixture{sweeper: sweeper, store: store, prefs: prefs, tasks: tasks, email: email}
}

func dueTask(taskID, assigneeID string) domain.TaskReminder {
	return domain.TaskReminder{
		TaskID:     taskID,
		ProjectID:  "p1",
		AssigneeID: assigneeID,
		Title:      "Ship the release notes",
		DueAt:      time.Now().Add(6 * time.Hour),
	}
}

func TestReminderSweepDispatchesOncePerTask(t *testing.T) {
	f := newSweepFixture(t, newMemTaskStore(dueTask("t1", "alice"), dueTask("t2", "bob")))

	if err := f.sweeper.RunReminderSweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if f.store.count() != 2 {
		t.Fatalf("expected 2 reminders, got %d", f.store.count())
	}
	for _, userID := range []string{"alice", "bob"} {
		items, err := f.store.ListByUser(context.Background(), userID, repository.NotificationFilter{})
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(items) != 1 || items[0].Kind != domain.KindDeadlineReminder || items[0].Priority != domain.PriorityHigh {
			t.Fatalf("unexpected reminder for %s: %+v", userID, items)
		}
	}
	if len(f.tasks.reminded) != 2 {
		t.Fatalf("tasks not marked reminded: %v", f.tasks.reminded)
	}

	// The marker keeps the next sweep from re-reminding the same tasks.
	if err := f.sweeper.RunReminderSweep(context.Background()); err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if f.store.count() != 2 {
		t.Fatalf("tasks re-reminded on consecutive sweep: %d records", f.store.count())
	}
}

func TestReminderSweepContinuesPastDispatchFailure(t *testing.T) {
	f := newSweepFixture(t, newMemTaskStore(dueTask("t1", "alice"), dueTask("t2", "bob")))
	f.store.createFail = map[string]error{"alice": errStoreDown}

	if err := f.sweeper.RunReminderSweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if f.store.count() != 1 {
		t.Fatalf("expected 1 reminder, got %d", f.store.count())
	}
	if _, ok := f.tasks.reminded["t1"]; ok {
		t.Fatal("failed dispatch still marked the task reminded")
	}
	if _, ok := f.tasks.reminded["t2"]; !ok {
		t.Fatal("successful dispatch left the task unmarked")
	}
}

func TestExpirySweepRemovesOnlyOldReadNotifications(t *testing.T) {
	f := newSweepFixture(t, newMemTaskStore())
	now := time.Date(2025, time.June, 10, 12, 0, 0, 0, time.UTC)
	f.sweeper.now = func() time.Time { return now }

	old := now.Add(-f.sweeper.cfg.Retention - time.Hour)
	recent := now.Add(-time.Hour)
	seed := []domain.Notification{
		{ID: "read-old", UserID: "alice", Kind: domain.KindMention, Title: "x", Read: true, CreatedAt: old},
		{ID: "unread-old", UserID: "alice", Kind: domain.KindMention, Title: "x", Read: false, CreatedAt: old},
		{ID: "read-recent", UserID: "alice", Kind: domain.KindMention, Title: "x", Read: true, CreatedAt: recent},
	}
	for _, n := range seed {
		if _, err := f.store.Create(context.Background(), n); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	if err := f.sweeper.RunExpirySweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if _, ok := f.store.byID("read-old"); ok {
		t.Fatal("expired read notification survived")
	}
	if _, ok := f.store.byID("unread-old"); !ok {
		t.Fatal("unread notification expired")
	}
	if _, ok := f.store.byID("read-recent"); !ok {
		t.Fatal("recent read notification expired")
	}
}

func TestDigestSweepCadence(t *testing.T) {
	f := newSweepFixture(t, newMemTaskStore())

	daily := domain.DefaultPreferences("alice")
	daily.DigestFrequency = domain.DigestDaily
	weekly := domain.DefaultPreferences("bob")
	weekly.DigestFrequency = domain.DigestWeekly
	for _, p := range []domain.PreferenceProfile{daily, weekly} {
		if err := f.prefs.Upsert(context.Background(), p); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}
	for _, userID := range []string{"alice", "bob"} {
		n := domain.Notification{ID: "n-" + userID, UserID: userID, Kind: domain.KindMention, Title: "x", CreatedAt: time.Now()}
		if _, err := f.store.Create(context.Background(), n); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	wednesday := time.Date(2025, time.March, 5, 12, 0, 0, 0, time.UTC)
	f.sweeper.now = func() time.Time { return wednesday }
	if err := f.sweeper.RunDigestSweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	sent := f.email.all()
	if len(sent) != 1 || sent[0].To != "alice@example.com" || sent[0].Kind != "digest" {
		t.Fatalf("midweek run should reach only daily users: %+v", sent)
	}
	if sent[0].Data["cadence"] != "daily" || sent[0].Data["count"] != 1 {
		t.Fatalf("unexpected digest payload: %+v", sent[0].Data)
	}

	monday := time.Date(2025, time.March, 3, 12, 0, 0, 0, time.UTC)
	f.sweeper.now = func() time.Time { return monday }
	if err := f.sweeper.RunDigestSweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	sent = f.email.all()
	if len(sent) != 3 {
		t.Fatalf("monday run should reach daily and weekly users: %+v", sent)
	}
	recipients := map[string]bool{}
	for _, e := range sent[1:] {
		recipients[e.To] = true
	}
	if !recipients["alice@example.com"] || !recipients["bob@example.com"] {
		t.Fatalf("unexpected monday recipients: %+v", recipients)
	}
}

func TestDigestSweepSkipsQuietHoursAndEmptyInboxes(t *testing.T) {
	f := newSweepFixture(t, newMemTaskStore())

	quiet := domain.DefaultPreferences("alice")
	quiet.DigestFrequency = domain.DigestDaily
	quiet.QuietStartHour = 8
	quiet.QuietEndHour = 18
	empty := domain.DefaultPreferences("bob")
	empty.DigestFrequency = domain.DigestDaily
	for _, p := range []domain.PreferenceProfile{quiet, empty} {
		if err := f.prefs.Upsert(context.Background(), p); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}
	n := domain.Notification{ID: "n1", UserID: "alice", Kind: domain.KindMention, Title: "x", CreatedAt: time.Now()}
	if _, err := f.store.Create(context.Background(), n); err != nil {
		t.Fatalf("seed: %v", err)
	}

	noon := time.Date(2025, time.March, 5, 12, 0, 0, 0, time.UTC)
	f.sweeper.now = func() time.Time { return noon }
	if err := f.sweeper.RunDigestSweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if sent := f.email.all(); len(sent) != 0 {
		t.Fatalf("quiet-hours user or empty inbox got a digest: %+v", sent)
	}

	evening := time.Date(2025, time.March, 5, 20, 0, 0, 0, time.UTC)
	f.sweeper.now = func() time.Time { return evening }
	if err := f.sweeper.RunDigestSweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	sent := f.email.all()
	if len(sent) != 1 || sent[0].To != "alice@example.com" {
		t.Fatalf("later run should pick the quiet-hours user up: %+v", sent)
	}
}

func TestRunGuardedSkipsOverlappingRuns(t *testing.T) {
	f := newSweepFixture(t, newMemTaskStore())

	var runs atomic.Int32
	release := make(chan struct{})
	slow := func(context.Context) error {
		runs.Add(1)
		<-release
		return nil
	}

	started := make(chan struct{})
	go func() {
		close(started)
		f.sweeper.runGuarded(context.Background(), "slow", &f.sweeper.reminderActive, slow)
	}()
	<-started
	waitUntil(t, func() bool { return runs.Load() == 1 })

	// A tick that fires while the previous run is in flight is skipped.
	f.sweeper.runGuarded(context.Background(), "slow", &f.sweeper.reminderActive, slow)
	if runs.Load() != 1 {
		t.Fatalf("overlapping run executed: %d runs", runs.Load())
	}
	close(release)

	waitUntil(t, func() bool { return !f.sweeper.reminderActive.Load() })
	f.sweeper.runGuarded(context.Background(), "fast", &f.sweeper.reminderActive, func(context.Context) error { return nil })
}
