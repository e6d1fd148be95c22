package usecase

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/sifan077/shortlinkd/internal/app/model"
	"github.com/sifan077/shortlinkd/internal/app/repository"
)

// DeleteShortLink removes a link. Deleting a missing link reports false.
type DeleteShortLink struct {
	repo     repository.ShortLinkRepository
	announce announcer
	logger   *zap.Logger
}

func NewDeleteShortLink(d Deps) *DeleteShortLink {
	d = d.withDefaults()
	return &DeleteShortLink{repo: d.Repo, announce: newAnnouncer(d), logger: d.Logger}
}

func (uc *DeleteShortLink) Execute(ctx context.Context, sel model.Selector) (bool, error) {
	exists, err := uc.repo.IsExist(ctx, sel)
	if err != nil {
		return false, fmt.Errorf("check short link: %w", err)
	}
	if !exists {
		return false, nil
	}

	deleted, err := uc.repo.DeleteOne(ctx, sel)
	if err != nil {
		return false, fmt.Errorf("delete short link: %w", err)
	}
	if !deleted {
		return false, nil
	}

	uc.logger.Info("short link deleted",
		zap.String("owner_id", sel.Owner()),
		zap.String("code", sel.Code),
	)
	uc.announce.announce(ctx, model.LinkDeleted, &model.ShortLink{OwnerID: sel.Owner(), Code: sel.Code})
	return true, nil
}
