// Package notify contains the domain model for the maintenance-notify service:
// device tokens, notification categories, dispatch requests and their results.
package notify

import (
	"fmt"
	"time"
)

// Platform identifies the push provider a device token belongs to.
type Platform string

const (
	PlatformFCM     Platform = "fcm"
	PlatformAPNS    Platform = "apns"
	PlatformWebPush Platform = "webpush"
)

// Valid reports whether p is a known platform.
func (p Platform) Valid() bool {
	switch p {
	case PlatformFCM, PlatformAPNS, PlatformWebPush:
		return true
	}
	return false
}

// Category is the closed set of notification types the maintenance platform
// emits. Each category maps to a default in-app path and an action-button set
// on the client (see pkg/receiver).
type Category string

const (
	CategoryEmergency  Category = "emergency"
	CategoryLongRepair Category = "long_repair"
	CategoryCompleted  Category = "completed"
	CategoryPMSchedule Category = "pm_schedule"
	CategoryInfo       Category = "info"
)

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategoryEmergency, CategoryLongRepair, CategoryCompleted, CategoryPMSchedule, CategoryInfo:
		return true
	}
	return false
}

// DeviceToken is one registered delivery address for a user.
// Tokens are deactivated, never deleted, so delivery history stays auditable.
type DeviceToken struct {
	UserID     string    `json:"user_id"`
	Token      string    `json:"token"`
	Platform   Platform  `json:"platform"`
	DeviceInfo string    `json:"device_info,omitempty"`
	IsActive   bool      `json:"is_active"`
	LastUsedAt time.Time `json:"last_used_at"`
}

// Content is the visible part of a notification.
type Content struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Image string `json:"image,omitempty"`
}

// Options carries provider delivery hints. Zero values mean provider defaults.
type Options struct {
	Priority    string `json:"priority,omitempty"` // "high" or "normal"
	TTLSeconds  int    `json:"ttl,omitempty"`
	CollapseKey string `json:"collapse_key,omitempty"`
}

// Selector describes the audience of a dispatch. Every provided filter is
// applied as a conjunctive constraint; explicit tokens are direct addresses
// and bypass the user attribute query. An empty selector resolves to zero
// recipients unless Broadcast is set explicitly.
type Selector struct {
	Token       string   `json:"token,omitempty"`
	Tokens      []string `json:"tokens,omitempty"`
	UserIDs     []string `json:"user_ids,omitempty"`
	Roles       []string `json:"roles,omitempty"`
	Departments []string `json:"departments,omitempty"`
	Broadcast   bool     `json:"broadcast,omitempty"`
}

// ExplicitTokens returns the single-token and token-list fields as one slice.
func (s Selector) ExplicitTokens() []string {
	if s.Token == "" {
		return s.Tokens
	}
	return append([]string{s.Token}, s.Tokens...)
}

// HasUserFilters reports whether any user-attribute filter is present.
func (s Selector) HasUserFilters() bool {
	return len(s.UserIDs) > 0 || len(s.Roles) > 0 || len(s.Departments) > 0 || s.Broadcast
}

// Empty reports whether the selector names no audience at all.
func (s Selector) Empty() bool {
	return len(s.ExplicitTokens()) == 0 && !s.HasUserFilters()
}

// Describe renders a short human-readable target description for audit logs.
func (s Selector) Describe() string {
	if s.Broadcast {
		return "broadcast"
	}
	desc := ""
	appendPart := func(part string) {
		if desc != "" {
			desc += " "
		}
		desc += part
	}
	if n := len(s.ExplicitTokens()); n > 0 {
		appendPart(fmt.Sprintf("tokens:%d", n))
	}
	if len(s.UserIDs) > 0 {
		appendPart(fmt.Sprintf("users:%d", len(s.UserIDs)))
	}
	if len(s.Roles) > 0 {
		appendPart(fmt.Sprintf("roles:%v", s.Roles))
	}
	if len(s.Departments) > 0 {
		appendPart(fmt.Sprintf("departments:%v", s.Departments))
	}
	if desc == "" {
		return "none"
	}
	return desc
}

// DispatchRequest is the wire form of one fan-out call. It arrives either as
// an HTTP POST body or as a Pub/Sub message payload; both paths share this
// struct and its validation.
type DispatchRequest struct {
	Selector
	Notification Content           `json:"notification"`
	Data         map[string]string `json:"data,omitempty"`
	Options      Options           `json:"options,omitempty"`
}

// Category returns the notification category carried in the data payload.
// An absent type tag means no category-based preference filtering.
func (r DispatchRequest) Category() Category {
	return Category(r.Data["type"])
}

// Validate checks the request invariants shared by the HTTP and Pub/Sub paths.
func (r DispatchRequest) Validate() error {
	if r.Notification.Title == "" {
		return fmt.Errorf("notification.title is required")
	}
	if r.Notification.Body == "" {
		return fmt.Errorf("notification.body is required")
	}
	if c := r.Category(); c != "" && !c.Valid() {
		return fmt.Errorf("unknown notification type %q", c)
	}
	return nil
}

// Outcome is the aggregate of one platform dispatch: counts, provider error
// strings and the tokens the provider reported as permanently invalid.
type Outcome struct {
	Sent    int
	Failed  int
	Errors  []string
	Invalid []string
}

// Merge accumulates another outcome into o.
func (o *Outcome) Merge(other Outcome) {
	o.Sent += other.Sent
	o.Failed += other.Failed
	o.Errors = append(o.Errors, other.Errors...)
	o.Invalid = append(o.Invalid, other.Invalid...)
}

// Result is the caller-facing summary of one fan-out call.
// Sent+Failed always equals Total, the number of unique resolved tokens.
type Result struct {
	Sent   int      `json:"sent"`
	Failed int      `json:"failed"`
	Total  int      `json:"total"`
	Errors []string `json:"errors,omitempty"`
}

// Preferences holds a user's per-category push flags. An absent record means
// everything is allowed, so the zero-value is never used directly; call
// DefaultPreferences instead.
type Preferences struct {
	Enabled    bool `json:"enabled"`
	Emergency  bool `json:"emergency"`
	LongRepair bool `json:"long_repair"`
	Completed  bool `json:"completed"`
	PMSchedule bool `json:"pm_schedule"`
}

// DefaultPreferences returns the everything-allowed state used when a user
// has no stored preference record.
func DefaultPreferences() Preferences {
	return Preferences{Enabled: true, Emergency: true, LongRepair: true, Completed: true, PMSchedule: true}
}

// Allows reports whether a notification of the given category may be pushed.
// CategoryInfo is gated only by the global flag.
func (p Preferences) Allows(c Category) bool {
	if !p.Enabled {
		return false
	}
	switch c {
	case CategoryEmergency:
		return p.Emergency
	case CategoryLongRepair:
		return p.LongRepair
	case CategoryCompleted:
		return p.Completed
	case CategoryPMSchedule:
		return p.PMSchedule
	default:
		return true
	}
}

// Message is an in-app notification row, created alongside push dispatch so
// the notification survives independently of push delivery.
type Message struct {
	ID        string            `json:"id"`
	UserID    string            `json:"user_id"`
	Category  Category          `json:"type"`
	Title     string            `json:"title"`
	Body      string            `json:"message"`
	Data      map[string]string `json:"data,omitempty"`
	IsRead    bool              `json:"is_read"`
	CreatedAt time.Time         `json:"created_at"`
}

// DispatchLog is one append-only audit row per fan-out call.
type DispatchLog struct {
	ID           string    `json:"id"`
	Category     Category  `json:"type"`
	Title        string    `json:"title"`
	Body         string    `json:"body"`
	Target       string    `json:"target"`
	SuccessCount int       `json:"success_count"`
	FailureCount int       `json:"failure_count"`
	Errors       []string  `json:"errors,omitempty"`
	SentAt       time.Time `json:"sent_at"`
}
