package domain

import (
	"errors"
	"time"
)

type NotificationKind string
type Priority string
type Channel string
type DigestFrequency string

const (
	KindTaskAssigned       NotificationKind = "task_assigned"
	KindTaskUpdated        NotificationKind = "task_updated"
	KindTaskCompleted      NotificationKind = "task_completed"
	KindTaskCommented      NotificationKind = "task_commented"
	KindProjectInvitation  NotificationKind = "project_invitation"
	KindProjectUpdated     NotificationKind = "project_updated"
	KindMention            NotificationKind = "mention"
	KindDeadlineReminder   NotificationKind = "deadline_reminder"
	KindTeamMemberJoined   NotificationKind = "team_member_joined"
	KindSystemAnnouncement NotificationKind = "system_announcement"
)

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

const (
	ChannelEmail Channel = "email"
	ChannelPush  Channel = "push"
)

const (
	DigestNever  DigestFrequency = "never"
	DigestDaily  DigestFrequency = "daily"
	DigestWeekly DigestFrequency = "weekly"
)

// MaxMessageLen is the longest message a persisted notification may carry.
// Longer intent messages are truncated, never rejected.
const MaxMessageLen = 1000

var notificationKinds = map[NotificationKind]struct{}{
	KindTaskAssigned:       {},
	KindTaskUpdated:        {},
	KindTaskCompleted:      {},
	KindTaskCommented:      {},
	KindProjectInvitation:  {},
	KindProjectUpdated:     {},
	KindMention:            {},
	KindDeadlineReminder:   {},
	KindTeamMemberJoined:   {},
	KindSystemAnnouncement: {},
}

func ValidKind(kind NotificationKind) bool {
	_, ok := notificationKinds[kind]
	return ok
}

func ValidPriority(p Priority) bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

type Notification struct {
	ID        string           `json:"id"`
	UserID    string           `json:"user_id"`
	Kind      NotificationKind `json:"kind"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	Payload   map[string]any   `json:"payload,omitempty"`
	Priority  Priority         `json:"priority"`
	Link      string           `json:"link,omitempty"`
	Read      bool             `json:"read"`
	ReadAt    *time.Time       `json:"read_at,omitempty"`
	EmailSent bool             `json:"email_sent"`
	PushSent  bool             `json:"push_sent"`
	CreatedAt time.Time        `json:"created_at"`
}

// NotificationIntent is the ephemeral input to a dispatch. It is consumed
// once to produce a Notification record and never persisted itself.
type NotificationIntent struct {
	RecipientID string           `json:"recipient_id"`
	Kind        NotificationKind `json:"kind"`
	Title       string           `json:"title"`
	Message     string           `json:"message"`
	Payload     map[string]any   `json:"payload,omitempty"`
	Priority    Priority         `json:"priority,omitempty"`
	Link        string           `json:"link,omitempty"`
	SkipEmail   bool             `json:"skip_email,omitempty"`
	SkipPush    bool             `json:"skip_push,omitempty"`
}

func (i NotificationIntent) Validate() error {
	if i.RecipientID == "" {
		return errors.New("recipient is required")
	}
	if !ValidKind(i.Kind) {
		return errors.New("unknown notification kind")
	}
	if i.Title == "" {
		return errors.New("title is required")
	}
	if i.Priority != "" && !ValidPriority(i.Priority) {
		return errors.New("unknown priority")
	}
	return nil
}

type PreferenceProfile struct {
	UserID          string                    `json:"user_id"`
	EmailEnabled    bool                      `json:"email_enabled"`
	PushEnabled     bool                      `json:"push_enabled"`
	EmailKinds      map[NotificationKind]bool `json:"email_kinds,omitempty"`
	PushKinds       map[NotificationKind]bool `json:"push_kinds,omitempty"`
	DigestFrequency DigestFrequency           `json:"digest_frequency"`
	QuietStartHour  int                       `json:"quiet_start_hour"`
	QuietEndHour    int                       `json:"quiet_end_hour"`
}

// DefaultPreferences is the profile assumed for a recipient who has never
// saved one: both channels on, per-kind decisions left to the default
// tables, no digest, no quiet hours.
func DefaultPreferences(userID string) PreferenceProfile {
	return PreferenceProfile{
		UserID:          userID,
		EmailEnabled:    true,
		PushEnabled:     true,
		DigestFrequency: DigestNever,
	}
}

// InQuietHours reports whether now falls inside the profile's quiet-hours
// window. Equal start and end hours mean the window is disabled. Windows
// may wrap past midnight (e.g. 22 to 7).
func (p PreferenceProfile) InQuietHours(now time.Time) bool {
	if p.QuietStartHour == p.QuietEndHour {
		return false
	}
	h := now.Hour()
	if p.QuietStartHour < p.QuietEndHour {
		return h >= p.QuietStartHour && h < p.QuietEndHour
	}
	return h >= p.QuietStartHour || h < p.QuietEndHour
}

type User struct {
	ID         string     `json:"id"`
	OrgID      string     `json:"org_id"`
	Email      string     `json:"email"`
	Name       string     `json:"name"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
}

// TaskReminder is the slice of a task row the deadline sweep needs.
type TaskReminder struct {
	TaskID     string    `json:"task_id"`
	ProjectID  string    `json:"project_id"`
	AssigneeID string    `json:"assignee_id"`
	Title      string    `json:"title"`
	DueAt      time.Time `json:"due_at"`
}

type DispatchOutcome struct {
	RecipientID  string
	Notification *Notification
	Err          error
}

type NotificationStats struct {
	Total  int64                      `json:"total"`
	Unread int64                      `json:"unread"`
	ByKind map[NotificationKind]int64 `json:"by_kind"`
}
