// Package usecase holds one orchestrator per short-link lifecycle action.
// Use-cases enforce idempotency and domain invariants, then delegate to the
// repository. They never touch the store directly.
package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sifan077/shortlinkd/internal/app/model"
	"github.com/sifan077/shortlinkd/internal/app/repository"
)

// EventPublisher announces lifecycle changes after they have been stored.
type EventPublisher interface {
	PublishLinkEvent(ctx context.Context, event model.LinkEvent) error
}

// ClickPublisher announces a served redirect.
type ClickPublisher interface {
	PublishClick(ctx context.Context, event model.ClickEvent) error
}

// RedirectObserver is told the outcome of every redirect lookup.
type RedirectObserver interface {
	Redirect(result string)
}

// Deps carries the collaborators shared by the use-cases. Only Repo is
// required.
type Deps struct {
	Repo     repository.ShortLinkRepository
	Events   EventPublisher
	Clicks   ClickPublisher
	Observer RedirectObserver
	Logger   *zap.Logger
	Clock    func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
	return d
}

// UseCases bundles every lifecycle use-case built from one Deps.
type UseCases struct {
	Create       *CreateShortLink
	FindOne      *FindOneShortLink
	FindAll      *FindAllShortLinks
	Activate     *ActivateShortLink
	Deactivate   *DeactivateShortLink
	ExtendExpiry *ExtendShortLinkExpiry
	Delete       *DeleteShortLink
	Redirect     *RedirectShortLink
}

// New builds all use-cases.
func New(d Deps) *UseCases {
	return &UseCases{
		Create:       NewCreateShortLink(d),
		FindOne:      NewFindOneShortLink(d),
		FindAll:      NewFindAllShortLinks(d),
		Activate:     NewActivateShortLink(d),
		Deactivate:   NewDeactivateShortLink(d),
		ExtendExpiry: NewExtendShortLinkExpiry(d),
		Delete:       NewDeleteShortLink(d),
		Redirect:     NewRedirectShortLink(d),
	}
}

// announcer publishes link events, logging failures instead of returning
// them. A stored change is never rolled back because its event was lost.
type announcer struct {
	events EventPublisher
	logger *zap.Logger
	now    func() time.Time
}

func newAnnouncer(d Deps) announcer {
	return announcer{events: d.Events, logger: d.Logger, now: d.Clock}
}

func (a announcer) announce(ctx context.Context, typ model.LinkEventType, link *model.ShortLink) {
	if a.events == nil || link == nil {
		return
	}
	event := model.LinkEvent{
		ID:        uuid.New().String(),
		Type:      typ,
		OwnerID:   link.OwnerID,
		Code:      link.Code,
		ExpiresAt: link.ExpiresAt,
		Timestamp: a.now().UTC(),
	}
	if err := a.events.PublishLinkEvent(ctx, event); err != nil {
		a.logger.Warn("failed to publish link event",
			zap.String("type", string(typ)),
			zap.String("code", link.Code),
			zap.Error(err),
		)
	}
}
