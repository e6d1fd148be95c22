package usecase

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/sifan077/shortlinkd/internal/app/model"
	"github.com/sifan077/shortlinkd/internal/app/repository"
	"github.com/sifan077/shortlinkd/internal/errx"
)

// MaxURLLength bounds the destination URL accepted by CreateShortLink.
const MaxURLLength = 2048

// CreateShortLink allocates a new link for an owner.
type CreateShortLink struct {
	repo     repository.ShortLinkRepository
	announce announcer
	logger   *zap.Logger
}

func NewCreateShortLink(d Deps) *CreateShortLink {
	d = d.withDefaults()
	return &CreateShortLink{repo: d.Repo, announce: newAnnouncer(d), logger: d.Logger}
}

// Execute validates originalURL and creates the link. An empty ownerID
// creates a guest link.
func (uc *CreateShortLink) Execute(ctx context.Context, ownerID, originalURL string) (*model.ShortLink, error) {
	const op = "usecase.CreateShortLink"
	originalURL = strings.TrimSpace(originalURL)
	if err := validateURL(originalURL); err != nil {
		return nil, errx.E(op, errx.Invalid, err)
	}

	link, err := uc.repo.Create(ctx, ownerID, originalURL)
	if err != nil {
		return nil, fmt.Errorf("create short link: %w", err)
	}

	uc.logger.Info("short link created",
		zap.String("owner_id", link.OwnerID),
		zap.String("code", link.Code),
	)
	uc.announce.announce(ctx, model.LinkCreated, link)
	return link, nil
}

func validateURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("original url is required")
	}
	if len(raw) > MaxURLLength {
		return fmt.Errorf("original url exceeds %d characters", MaxURLLength)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("original url is malformed: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("original url must use http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("original url has no host")
	}
	return nil
}
