package model

import "time"

// ClickEvent represents a redirect served for a short link.
type ClickEvent struct {
	ID        string    `json:"id"`
	Code      string    `json:"code"`
	IP        string    `json:"ip"`
	UserAgent string    `json:"user_agent"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	ClickStreamName     = "SHORTLINK_CLICKS"
	ClickStreamSubject  = "shortlink.clicks"
	ClickConsumerName   = "click-counter"
	ClickStreamMaxBytes = 1024 * 1024 * 100 // 100MB
)

// LinkEventType names a lifecycle transition.
type LinkEventType string

const (
	LinkCreated     LinkEventType = "created"
	LinkActivated   LinkEventType = "activated"
	LinkDeactivated LinkEventType = "deactivated"
	LinkExtended    LinkEventType = "extended"
	LinkDeleted     LinkEventType = "deleted"
)

// LinkEvent is published after a lifecycle change has been stored.
type LinkEvent struct {
	ID        string        `json:"id"`
	Type      LinkEventType `json:"type"`
	OwnerID   string        `json:"owner_id"`
	Code      string        `json:"code"`
	ExpiresAt int64         `json:"expires_at,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

const (
	LinkEventStreamName     = "SHORTLINK_EVENTS"
	LinkEventSubjectPrefix  = "shortlink.events."
	LinkEventStreamMaxBytes = 1024 * 1024 * 100 // 100MB
)

// Subject returns the NATS subject the event is published on.
func (e LinkEvent) Subject() string {
	return LinkEventSubjectPrefix + string(e.Type)
}
