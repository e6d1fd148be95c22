package model

import "time"

// GuestOwner owns links created without an authenticated account.
const GuestOwner = "guest"

// ShortLink is the persisted short-link aggregate.
type ShortLink struct {
	OwnerID     string `json:"ownerId"`
	Code        string `json:"code"`
	OriginalURL string `json:"originalUrl"`
	Clicks      int64  `json:"clicks"`
	Active      bool   `json:"active"`
	// ExpiresAt is epoch milliseconds.
	ExpiresAt int64     `json:"expiresAt"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Expired reports whether the link is past its expiry at now.
func (l *ShortLink) Expired(now time.Time) bool {
	return l.ExpiresAt <= now.UnixMilli()
}

// ExpiresAtTime returns ExpiresAt as a time.Time.
func (l *ShortLink) ExpiresAtTime() time.Time {
	return time.UnixMilli(l.ExpiresAt).UTC()
}

// Selector addresses one link by owner and code.
type Selector struct {
	OwnerID string
	Code    string
}

// Owner returns the selector's owner, falling back to GuestOwner.
func (s Selector) Owner() string {
	return OwnerOrGuest(s.OwnerID)
}

// OwnerOrGuest maps an empty owner id to GuestOwner.
func OwnerOrGuest(ownerID string) string {
	if ownerID == "" {
		return GuestOwner
	}
	return ownerID
}

// ShortLinkUpdate is a partial set of mutable fields. Nil fields are left
// untouched. ExtendBy moves expiresAt forward by that many milliseconds
// relative to the stored value and cannot be combined with ExpiresAt.
type ShortLinkUpdate struct {
	Active    *bool
	ExpiresAt *int64
	ExtendBy  *int64
}

// Empty reports whether no field is set.
func (u ShortLinkUpdate) Empty() bool {
	return u.Active == nil && u.ExpiresAt == nil && u.ExtendBy == nil
}

// FindAllInput selects a page of an owner's links.
type FindAllInput struct {
	OwnerID    string
	ActiveOnly bool
	Limit      int
	PageToken  string
}

// ShortLinkPage is one page of links, newest first. NextPageToken is empty on
// the last page.
type ShortLinkPage struct {
	Items         []ShortLink `json:"items"`
	NextPageToken string      `json:"nextPageToken,omitempty"`
}
