package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"taskhub/server/collab/domain"
	"taskhub/server/collab/repository"
)

// In-memory doubles for the repository and delivery boundaries, shared by the
// service tests in this package.

type memNotificationStore struct {
	mu    sync.Mutex
	items []domain.Notification

	createErr  error
	createFail map[string]error // per recipient
	createN    int
}

func newMemNotificationStore() *memNotificationStore {
	return &memNotificationStore{}
}

func (s *memNotificationStore) Create(_ context.Context, n domain.Notification) (domain.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createN++
	if s.createErr != nil {
		return domain.Notification{}, s.createErr
	}
	if err, ok := s.createFail[n.UserID]; ok {
		return domain.Notification{}, err
	}
	s.items = append(s.items, n)
	return n, nil
}

func (s *memNotificationStore) ListByUser(_ context.Context, userID string, f repository.NotificationFilter) ([]domain.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Notification
	for i := len(s.items) - 1; i >= 0; i-- {
		n := s.items[i]
		if n.UserID != userID {
			continue
		}
		if f.UnreadOnly && n.Read {
			continue
		}
		if f.Kind != "" && n.Kind != f.Kind {
			continue
		}
		out = append(out, n)
	}
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *memNotificationStore) UnreadCount(_ context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, n := range s.items {
		if n.UserID == userID && !n.Read {
			count++
		}
	}
	return count, nil
}

func (s *memNotificationStore) MarkRead(_ context.Context, userID string, ids []string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := map[string]struct{}{}
	for _, id := range ids {
		want[id] = struct{}{}
	}
	var updated []string
	now := time.Now().UTC()
	for i, n := range s.items {
		if _, ok := want[n.ID]; !ok || n.UserID != userID || n.Read {
			continue
		}
		s.items[i].Read = true
		s.items[i].ReadAt = &now
		updated = append(updated, n.ID)
	}
	return updated, nil
}

func (s *memNotificationStore) MarkAllRead(_ context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	now := time.Now().UTC()
	for i, n := range s.items {
		if n.UserID != userID || n.Read {
			continue
		}
		s.items[i].Read = true
		s.items[i].ReadAt = &now
		count++
	}
	return count, nil
}

func (s *memNotificationStore) SetChannelFlags(_ context.Context, id string, emailSent, pushSent bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, n := range s.items {
		if n.ID == id {
			s.items[i].EmailSent = emailSent
			s.items[i].PushSent = pushSent
			return nil
		}
	}
	return repository.ErrNotFound
}

func (s *memNotificationStore) Delete(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, n := range s.items {
		if n.ID == id && n.UserID == userID {
			s.items = append(s.items[:i], s.items[i+1:]...)
			return nil
		}
	}
	return repository.ErrNotFound
}

func (s *memNotificationStore) DeleteExpiredRead(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept []domain.Notification
	var deleted int64
	for _, n := range s.items {
		if n.Read && n.CreatedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, n)
	}
	s.items = kept
	return deleted, nil
}

func (s *memNotificationStore) Stats(_ context.Context, userID string) (domain.NotificationStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := domain.NotificationStats{ByKind: map[domain.NotificationKind]int64{}}
	for _, n := range s.items {
		if n.UserID != userID {
			continue
		}
		stats.Total++
		if !n.Read {
			stats.Unread++
		}
		stats.ByKind[n.Kind]++
	}
	return stats, nil
}

func (s *memNotificationStore) byID(id string) (domain.Notification, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.items {
		if n.ID == id {
			return n, true
		}
	}
	return domain.Notification{}, false
}

func (s *memNotificationStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

type memPreferenceStore struct {
	mu       sync.Mutex
	profiles map[string]domain.PreferenceProfile
}

func newMemPreferenceStore() *memPreferenceStore {
	return &memPreferenceStore{profiles: map[string]domain.PreferenceProfile{}}
}

func (s *memPreferenceStore) GetByUser(_ context.Context, userID string) (domain.PreferenceProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	if !ok {
		return domain.PreferenceProfile{}, repository.ErrNotFound
	}
	return p, nil
}

func (s *memPreferenceStore) Upsert(_ context.Context, p domain.PreferenceProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.UserID] = p
	return nil
}

func (s *memPreferenceStore) ListUserIDsByDigest(_ context.Context, freq domain.DigestFrequency) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for userID, p := range s.profiles {
		if p.DigestFrequency == freq {
			out = append(out, userID)
		}
	}
	return out, nil
}

type memTaskStore struct {
	mu       sync.Mutex
	due      []domain.TaskReminder
	reminded map[string]time.Time
}

func newMemTaskStore(due ...domain.TaskReminder) *memTaskStore {
	return &memTaskStore{due: due, reminded: map[string]time.Time{}}
}

func (s *memTaskStore) ListDueForReminder(_ context.Context, _ time.Duration) ([]domain.TaskReminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.TaskReminder
	for _, task := range s.due {
		if _, ok := s.reminded[task.TaskID]; ok {
			continue
		}
		out = append(out, task)
	}
	return out, nil
}

func (s *memTaskStore) MarkReminded(_ context.Context, taskID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reminded[taskID] = at
	return nil
}

type memUserStore struct {
	mu      sync.Mutex
	users   map[string]domain.User
	members map[string]map[string]bool // workspace -> user -> member
	touched []string
}

func newMemUserStore(users ...domain.User) *memUserStore {
	s := &memUserStore{users: map[string]domain.User{}, members: map[string]map[string]bool{}}
	for _, u := range users {
		s.users[u.ID] = u
	}
	return s
}

func (s *memUserStore) GetByID(_ context.Context, id string) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return domain.User{}, repository.ErrNotFound
	}
	return u, nil
}

func (s *memUserStore) TouchLastSeen(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touched = append(s.touched, id)
	return nil
}

func (s *memUserStore) IsWorkspaceMember(_ context.Context, userID, workspaceID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.members[workspaceID][userID], nil
}

func (s *memUserStore) addMember(workspaceID, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.members[workspaceID] == nil {
		s.members[workspaceID] = map[string]bool{}
	}
	s.members[workspaceID][userID] = true
}

type sentEmail struct {
	To   string
	Kind string
	Data map[string]any
}

type recordingEmailSender struct {
	mu   sync.Mutex
	sent []sentEmail
	err  error
}

func (s *recordingEmailSender) Send(_ context.Context, to, templateKind string, data map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, sentEmail{To: to, Kind: templateKind, Data: data})
	return nil
}

func (s *recordingEmailSender) all() []sentEmail {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentEmail(nil), s.sent...)
}

type recordingPushSender struct {
	mu   sync.Mutex
	sent []domain.Notification
	err  error
}

func (s *recordingPushSender) Send(_ context.Context, _ string, n domain.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, n)
	return nil
}

func (s *recordingPushSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type recordingLivePusher struct {
	mu     sync.Mutex
	online map[string]bool
	events []Envelope
}

func newRecordingLivePusher(onlineUsers ...string) *recordingLivePusher {
	p := &recordingLivePusher{online: map[string]bool{}}
	for _, userID := range onlineUsers {
		p.online[userID] = true
	}
	return p
}

func (p *recordingLivePusher) IsOnline(userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online[userID]
}

func (p *recordingLivePusher) NotifyUser(userID string, env Envelope) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.online[userID] {
		return 0
	}
	p.events = append(p.events, env)
	return 1
}

func (p *recordingLivePusher) all() []Envelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Envelope(nil), p.events...)
}

var errStoreDown = errors.New("store unavailable")
