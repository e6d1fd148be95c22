package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sifan077/shortlinkd/internal/app/model"
	"github.com/sifan077/shortlinkd/internal/app/repository"
	"github.com/sifan077/shortlinkd/internal/errx"
)

var (
	ErrShortLinkInactive = errors.New("short link is inactive")
	ErrShortLinkExpired  = errors.New("short link has expired")
)

// Redirect outcomes reported to the RedirectObserver.
const (
	RedirectOK       = "ok"
	RedirectNotFound = "not_found"
	RedirectInactive = "inactive"
	RedirectExpired  = "expired"
	RedirectError    = "error"
)

// RedirectInput identifies the visitor following a short link.
type RedirectInput struct {
	Code      string
	IP        string
	UserAgent string
}

// RedirectShortLink resolves a code to its destination regardless of owner.
type RedirectShortLink struct {
	repo     repository.ShortLinkRepository
	clicks   ClickPublisher
	observer RedirectObserver
	logger   *zap.Logger
	now      func() time.Time
}

func NewRedirectShortLink(d Deps) *RedirectShortLink {
	d = d.withDefaults()
	return &RedirectShortLink{
		repo:     d.Repo,
		clicks:   d.Clicks,
		observer: d.Observer,
		logger:   d.Logger,
		now:      d.Clock,
	}
}

// Execute returns the link behind in.Code. Inactive and expired links fail
// with errx.Gone, unknown codes with errx.NotFound. A click event is
// published for every resolved redirect.
func (uc *RedirectShortLink) Execute(ctx context.Context, in RedirectInput) (*model.ShortLink, error) {
	const op = "usecase.RedirectShortLink"

	link, err := uc.repo.FindByCode(ctx, in.Code)
	if err != nil {
		if errx.KindOf(err) == errx.NotFound {
			uc.observe(RedirectNotFound)
		} else {
			uc.observe(RedirectError)
		}
		return nil, fmt.Errorf("resolve short link: %w", err)
	}

	now := uc.now()
	if !link.Active {
		uc.observe(RedirectInactive)
		return nil, errx.E(op, errx.Gone, ErrShortLinkInactive)
	}
	if link.Expired(now) {
		uc.observe(RedirectExpired)
		return nil, errx.E(op, errx.Gone, ErrShortLinkExpired)
	}
	uc.observe(RedirectOK)

	if uc.clicks != nil {
		click := model.ClickEvent{
			ID:        uuid.New().String(),
			Code:      link.Code,
			IP:        in.IP,
			UserAgent: in.UserAgent,
			Timestamp: now.UTC(),
		}
		if err := uc.clicks.PublishClick(ctx, click); err != nil {
			uc.logger.Warn("failed to publish click event",
				zap.String("code", link.Code),
				zap.Error(err),
			)
		}
	}
	return link, nil
}

func (uc *RedirectShortLink) observe(result string) {
	if uc.observer != nil {
		uc.observer.Redirect(result)
	}
}
