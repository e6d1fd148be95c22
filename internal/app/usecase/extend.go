package usecase

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/sifan077/shortlinkd/internal/app/model"
	"github.com/sifan077/shortlinkd/internal/app/repository"
	"github.com/sifan077/shortlinkd/internal/errx"
)

// MaxExtendDays bounds a single extension.
const MaxExtendDays = 3650

const dayMillis = int64(24 * 60 * 60 * 1000)

// ExtendShortLinkExpiry pushes a link's expiry forward by whole days.
type ExtendShortLinkExpiry struct {
	repo     repository.ShortLinkRepository
	announce announcer
	logger   *zap.Logger
}

func NewExtendShortLinkExpiry(d Deps) *ExtendShortLinkExpiry {
	d = d.withDefaults()
	return &ExtendShortLinkExpiry{repo: d.Repo, announce: newAnnouncer(d), logger: d.Logger}
}

// Execute adds days to the stored expiresAt in a single atomic update, so
// concurrent extensions all apply. days must be in [1, MaxExtendDays];
// anything else fails before the store is touched.
func (uc *ExtendShortLinkExpiry) Execute(ctx context.Context, sel model.Selector, days int) (*model.ShortLink, error) {
	const op = "usecase.ExtendShortLinkExpiry"
	if days <= 0 {
		return nil, errx.Errorf(op, errx.Invalid, "days must be a positive integer, got %d", days)
	}
	if days > MaxExtendDays {
		return nil, errx.Errorf(op, errx.Invalid, "days must not exceed %d", MaxExtendDays)
	}

	delta := int64(days) * dayMillis
	updated, err := uc.repo.UpdateOne(ctx, sel, model.ShortLinkUpdate{ExtendBy: &delta})
	if err != nil {
		return nil, fmt.Errorf("extend short link: %w", err)
	}

	uc.logger.Info("short link extended",
		zap.String("code", updated.Code),
		zap.Int("days", days),
		zap.Time("expires_at", updated.ExpiresAtTime()),
	)
	uc.announce.announce(ctx, model.LinkExtended, updated)
	return updated, nil
}
