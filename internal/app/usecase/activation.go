package usecase

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/sifan077/shortlinkd/internal/app/model"
	"github.com/sifan077/shortlinkd/internal/app/repository"
)

// ActivateShortLink makes a link resolve again. Activating an active link is
// a no-op that returns it unchanged.
type ActivateShortLink struct {
	toggle activeToggle
}

func NewActivateShortLink(d Deps) *ActivateShortLink {
	return &ActivateShortLink{toggle: newActiveToggle(d, true)}
}

func (uc *ActivateShortLink) Execute(ctx context.Context, sel model.Selector) (*model.ShortLink, error) {
	return uc.toggle.apply(ctx, sel)
}

// DeactivateShortLink stops a link from resolving. Deactivating an inactive
// link is a no-op that returns it unchanged.
type DeactivateShortLink struct {
	toggle activeToggle
}

func NewDeactivateShortLink(d Deps) *DeactivateShortLink {
	return &DeactivateShortLink{toggle: newActiveToggle(d, false)}
}

func (uc *DeactivateShortLink) Execute(ctx context.Context, sel model.Selector) (*model.ShortLink, error) {
	return uc.toggle.apply(ctx, sel)
}

type activeToggle struct {
	repo     repository.ShortLinkRepository
	announce announcer
	logger   *zap.Logger
	target   bool
}

func newActiveToggle(d Deps, target bool) activeToggle {
	d = d.withDefaults()
	return activeToggle{repo: d.Repo, announce: newAnnouncer(d), logger: d.Logger, target: target}
}

func (t activeToggle) apply(ctx context.Context, sel model.Selector) (*model.ShortLink, error) {
	link, err := t.repo.FindOneBy(ctx, sel)
	if err != nil {
		return nil, fmt.Errorf("load short link: %w", err)
	}
	if link.Active == t.target {
		return link, nil
	}

	active := t.target
	updated, err := t.repo.UpdateOne(ctx, sel, model.ShortLinkUpdate{Active: &active})
	if err != nil {
		return nil, fmt.Errorf("set short link active=%t: %w", active, err)
	}

	event := model.LinkDeactivated
	if active {
		event = model.LinkActivated
	}
	t.logger.Info("short link "+string(event),
		zap.String("owner_id", updated.OwnerID),
		zap.String("code", updated.Code),
	)
	t.announce.announce(ctx, event, updated)
	return updated, nil
}
