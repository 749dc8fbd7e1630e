package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"taskhub/server/collab/domain"
	"taskhub/server/collab/repository"
	commonlog "taskhub/server/common/log"
)

// LivePusher is the slice of the hub the dispatch engine needs: connection
// presence and user-targeted delivery.
type LivePusher interface {
	IsOnline(userID string) bool
	NotifyUser(userID string, env Envelope) int
}

// NotifyService is the notification dispatch engine. One Dispatch call
// persists exactly one Notification and then attempts each delivery channel
// independently; channel failures are recorded in sent flags, never raised.
type NotifyService struct {
	notifications repository.NotificationStore
	prefs         repository.PreferenceStore
	users         repository.UserStore
	email         EmailSender
	push          PushSender
	live          LivePusher
}

func NewNotifyService(
	notifications repository.NotificationStore,
	prefs repository.PreferenceStore,
	users repository.UserStore,
	email EmailSender,
	push PushSender,
	live LivePusher,
) *NotifyService {
	return &NotifyService{
		notifications: notifications,
		prefs:         prefs,
		users:         users,
		email:         email,
		push:          push,
		live:          live,
	}
}

// Dispatch persists the intent as a Notification and delivers it through
// every enabled channel. Persistence failure fails the whole call before any
// channel is attempted. Dispatch is not idempotent: two equivalent intents
// produce two records, so callers suppress redundant calls themselves
// (typically by skipping when actor == recipient).
func (s *NotifyService) Dispatch(ctx context.Context, intent domain.NotificationIntent) (domain.Notification, error) {
	if err := intent.Validate(); err != nil {
		return domain.Notification{}, err
	}
	priority := intent.Priority
	if priority == "" {
		priority = domain.PriorityMedium
	}

	created, err := s.notifications.Create(ctx, domain.Notification{
		ID:        uuid.NewString(),
		UserID:    intent.RecipientID,
		Kind:      intent.Kind,
		Title:     intent.Title,
		Message:   truncate(intent.Message, domain.MaxMessageLen),
		Payload:   intent.Payload,
		Priority:  priority,
		Link:      intent.Link,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return domain.Notification{}, fmt.Errorf("persist notification: %w", err)
	}

	profile, err := s.prefs.GetByUser(ctx, intent.RecipientID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			commonlog.Warnf("event=notify_dispatch action=load_preferences status=failed user_id=%s error=%v", intent.RecipientID, err)
		}
		profile = domain.DefaultPreferences(intent.RecipientID)
	}

	var (
		wg        sync.WaitGroup
		emailSent bool
		pushSent  bool
	)
	if !intent.SkipEmail && profile.EmailEnabled && ShouldSend(domain.ChannelEmail, intent.Kind, profile) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			emailSent = s.sendEmail(ctx, created)
		}()
	}
	if !intent.SkipPush && profile.PushEnabled && ShouldSend(domain.ChannelPush, intent.Kind, profile) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pushSent = s.sendPush(ctx, created)
		}()
	}
	wg.Wait()

	if emailSent || pushSent {
		if err := s.notifications.SetChannelFlags(ctx, created.ID, emailSent, pushSent); err != nil {
			commonlog.Errorf("event=notify_dispatch action=set_channel_flags status=failed notification_id=%s error=%v", created.ID, err)
		}
		created.EmailSent = emailSent
		created.PushSent = pushSent
	}

	// The real-time channel ignores preferences entirely; the only gate is
	// having a live connection. Delivery is fire-and-forget.
	go s.pushLive(created)

	commonlog.Infof("event=notify_dispatch action=dispatch status=ok notification_id=%s user_id=%s kind=%s email_sent=%t push_sent=%t",
		created.ID, created.UserID, created.Kind, emailSent, pushSent)
	return created, nil
}

// DispatchToMany runs the pipeline independently per recipient. One
// recipient's failure never aborts the rest.
func (s *NotifyService) DispatchToMany(ctx context.Context, recipientIDs []string, template domain.NotificationIntent) []domain.DispatchOutcome {
	outcomes := make([]domain.DispatchOutcome, 0, len(recipientIDs))
	for _, recipientID := range recipientIDs {
		intent := template
		intent.RecipientID = recipientID
		created, err := s.Dispatch(ctx, intent)
		outcome := domain.DispatchOutcome{RecipientID: recipientID, Err: err}
		if err == nil {
			n := created
			outcome.Notification = &n
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}

func (s *NotifyService) sendEmail(ctx context.Context, n domain.Notification) bool {
	user, err := s.users.GetByID(ctx, n.UserID)
	if err != nil {
		commonlog.Warnf("event=notify_dispatch action=send_email status=failed notification_id=%s user_id=%s error=%v", n.ID, n.UserID, err)
		return false
	}
	data := map[string]any{
		"title":    n.Title,
		"message":  n.Message,
		"priority": string(n.Priority),
	}
	if n.Link != "" {
		data["link"] = n.Link
	}
	if err := s.email.Send(ctx, user.Email, string(n.Kind), data); err != nil {
		commonlog.Warnf("event=notify_dispatch action=send_email status=failed notification_id=%s user_id=%s error=%v", n.ID, n.UserID, err)
		return false
	}
	return true
}

func (s *NotifyService) sendPush(ctx context.Context, n domain.Notification) bool {
	if err := s.push.Send(ctx, n.UserID, n); err != nil {
		commonlog.Warnf("event=notify_dispatch action=send_push status=failed notification_id=%s user_id=%s error=%v", n.ID, n.UserID, err)
		return false
	}
	return true
}

func (s *NotifyService) pushLive(n domain.Notification) {
	if s.live == nil || !s.live.IsOnline(n.UserID) {
		return
	}
	s.live.NotifyUser(n.UserID, Envelope{Type: EventNotificationNew, UserID: n.UserID, Payload: n})
}

// MarkRead flips the read flag on the caller's own notifications. Ids owned
// by someone else are silently skipped; the read transition is monotonic.
func (s *NotifyService) MarkRead(ctx context.Context, recipientID string, ids []string) ([]string, error) {
	updated, err := s.notifications.MarkRead(ctx, recipientID, ids)
	if err != nil {
		return nil, err
	}
	if len(updated) > 0 && s.live != nil {
		s.live.NotifyUser(recipientID, Envelope{Type: EventMarkedRead, UserID: recipientID, Payload: map[string]any{"ids": updated}})
	}
	return updated, nil
}

func (s *NotifyService) MarkAllRead(ctx context.Context, recipientID string) (int64, error) {
	count, err := s.notifications.MarkAllRead(ctx, recipientID)
	if err != nil {
		return 0, err
	}
	if count > 0 && s.live != nil {
		s.live.NotifyUser(recipientID, Envelope{Type: EventAllMarkedRead, UserID: recipientID, Payload: map[string]any{"count": count}})
	}
	return count, nil
}

func (s *NotifyService) List(ctx context.Context, recipientID string, f repository.NotificationFilter) ([]domain.Notification, error) {
	return s.notifications.ListByUser(ctx, recipientID, f)
}

func (s *NotifyService) UnreadCount(ctx context.Context, recipientID string) (int64, error) {
	return s.notifications.UnreadCount(ctx, recipientID)
}

func (s *NotifyService) Delete(ctx context.Context, recipientID, id string) error {
	return s.notifications.Delete(ctx, recipientID, id)
}

func (s *NotifyService) Stats(ctx context.Context, recipientID string) (domain.NotificationStats, error) {
	return s.notifications.Stats(ctx, recipientID)
}

func (s *NotifyService) Preferences(ctx context.Context, userID string) (domain.PreferenceProfile, error) {
	profile, err := s.prefs.GetByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.DefaultPreferences(userID), nil
		}
		return domain.PreferenceProfile{}, err
	}
	return profile, nil
}

func (s *NotifyService) UpdatePreferences(ctx context.Context, p domain.PreferenceProfile) error {
	if p.UserID == "" {
		return errors.New("user is required")
	}
	switch p.DigestFrequency {
	case domain.DigestNever, domain.DigestDaily, domain.DigestWeekly:
	default:
		return errors.New("unknown digest frequency")
	}
	if p.QuietStartHour < 0 || p.QuietStartHour > 23 || p.QuietEndHour < 0 || p.QuietEndHour > 23 {
		return errors.New("quiet hours must be within 0-23")
	}
	for kind := range p.EmailKinds {
		if !domain.ValidKind(kind) {
			return fmt.Errorf("unknown notification kind %q", kind)
		}
	}
	for kind := range p.PushKinds {
		if !domain.ValidKind(kind) {
			return fmt.Errorf("unknown notification kind %q", kind)
		}
	}
	return s.prefs.Upsert(ctx, p)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
